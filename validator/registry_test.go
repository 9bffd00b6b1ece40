package validator

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minBond() *uint256.Int { return uint256.NewInt(10) }

func TestRegisterBelowMinBondStartsJailed(t *testing.T) {
	r := NewRegistry(minBond())
	var id [32]byte
	id[0] = 1
	v := r.Register(id, uint256.NewInt(1000), uint256.NewInt(5))
	assert.Equal(t, StatusJailed, v.Status)
}

func TestRegisterAtMinBondStartsActive(t *testing.T) {
	r := NewRegistry(minBond())
	var id [32]byte
	id[0] = 2
	v := r.Register(id, uint256.NewInt(1000), uint256.NewInt(10))
	assert.Equal(t, StatusActive, v.Status)
}

func TestBondLiftsOutOfJail(t *testing.T) {
	r := NewRegistry(minBond())
	var id [32]byte
	id[0] = 3
	r.Register(id, uint256.NewInt(1000), uint256.NewInt(1))

	require.NoError(t, r.Bond(id, uint256.NewInt(20)))
	v, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusActive, v.Status)
	assert.Equal(t, uint256.NewInt(21), v.BondAtomic)
}

func TestSlashBelowZeroClampsAndJails(t *testing.T) {
	r := NewRegistry(minBond())
	var id [32]byte
	id[0] = 4
	r.Register(id, uint256.NewInt(1000), uint256.NewInt(15))

	require.NoError(t, r.Slash(id, uint256.NewInt(100), "double_sign"))
	v, ok := r.Get(id)
	require.True(t, ok)
	assert.True(t, v.BondAtomic.IsZero())
	assert.Equal(t, StatusJailed, v.Status)
	assert.Equal(t, uint64(1), v.Telemetry.SlashCount)
}

func TestSlashUnknownValidator(t *testing.T) {
	r := NewRegistry(minBond())
	var id [32]byte
	err := r.Slash(id, uint256.NewInt(1), "x")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTelemetryRunningAverage(t *testing.T) {
	r := NewRegistry(minBond())
	var id [32]byte
	id[0] = 5
	r.Register(id, uint256.NewInt(1000), uint256.NewInt(10))

	require.NoError(t, r.UpdateTelemetry(id, Delta{RoundsActive: 1, LatencySampleUS: 100}))
	require.NoError(t, r.UpdateTelemetry(id, Delta{RoundsActive: 1, LatencySampleUS: 200}))

	v, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, uint64(2), v.Telemetry.RoundsActive)
	assert.Equal(t, uint64(150), v.Telemetry.AvgLatencyUS)
}

func TestIterActiveOnlyActiveSortedByID(t *testing.T) {
	r := NewRegistry(minBond())
	var a, b, c [32]byte
	a[0], b[0], c[0] = 3, 1, 2
	r.Register(a, uint256.NewInt(1), uint256.NewInt(10))
	r.Register(b, uint256.NewInt(1), uint256.NewInt(10))
	r.Register(c, uint256.NewInt(1), uint256.NewInt(1)) // jailed, excluded

	snap := r.IterActive()
	require.Len(t, snap.Active, 2)
	assert.Equal(t, byte(1), snap.Active[0].ID[0])
	assert.Equal(t, byte(3), snap.Active[1].ID[0])
}

func TestGBDTTelemetryProjection(t *testing.T) {
	v := Validator{
		StakeAtomic: uint256.NewInt(500),
		Telemetry: Telemetry{
			BlocksProposed: 1,
			BlocksVerified: 2,
			RoundsActive:   3,
			AvgLatencyUS:   4,
			SlashCount:     5,
			AgeRounds:      6,
		},
	}
	gt := v.GBDTTelemetry()
	assert.Equal(t, uint64(1), gt.BlocksProposed)
	assert.Equal(t, uint64(6), gt.AgeRounds)
	assert.Equal(t, uint256.NewInt(500), gt.StakeAtomic)
}
