package verifier

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ippan/dlc/gbdt"
	"github.com/ippan/dlc/validator"
)

func snapshotOf(n int, scores []int64) validator.Snapshot {
	vs := make([]validator.Validator, n)
	for i := 0; i < n; i++ {
		var id [32]byte
		id[31] = byte(i + 1)
		vs[i] = validator.Validator{ID: id, ReputationScaled: scores[i]}
	}
	return validator.Snapshot{Active: vs}
}

func TestSelectDeterministic(t *testing.T) {
	snap := snapshotOf(5, []int64{10, 20, 30, 40, 50})
	var round [32]byte
	round[0] = 9

	sel1, err := Select(snap, round, 2)
	require.NoError(t, err)
	sel2, err := Select(snap, round, 2)
	require.NoError(t, err)

	assert.Equal(t, sel1.Primary.ID, sel2.Primary.ID)
	require.Len(t, sel1.Shadows, 2)
	require.Len(t, sel2.Shadows, 2)
	for i := range sel1.Shadows {
		assert.Equal(t, sel1.Shadows[i].ID, sel2.Shadows[i].ID)
	}
}

func TestSelectDifferentRoundsDiffer(t *testing.T) {
	snap := snapshotOf(8, []int64{1, 2, 3, 4, 5, 6, 7, 8})
	var r1, r2 [32]byte
	r1[0], r2[0] = 1, 2

	sel1, err := Select(snap, r1, 1)
	require.NoError(t, err)
	sel2, err := Select(snap, r2, 1)
	require.NoError(t, err)

	assert.True(t, sel1.Primary.ID != sel2.Primary.ID || sel1.Shadows[0].ID != sel2.Shadows[0].ID)
}

func TestSelectNoDuplicates(t *testing.T) {
	snap := snapshotOf(6, []int64{5, 5, 5, 5, 5, 5})
	var round [32]byte

	sel, err := Select(snap, round, 3)
	require.NoError(t, err)

	seen := map[[32]byte]bool{sel.Primary.ID: true}
	for _, s := range sel.Shadows {
		assert.False(t, seen[s.ID], "duplicate id selected")
		seen[s.ID] = true
	}
}

func TestSelectEmptySet(t *testing.T) {
	_, err := Select(validator.Snapshot{}, [32]byte{}, 1)
	require.ErrorIs(t, err, ErrEmptyValidatorSet)
}

func TestSelectKTooLarge(t *testing.T) {
	snap := snapshotOf(2, []int64{1, 1})
	_, err := Select(snap, [32]byte{}, 5)
	require.ErrorIs(t, err, ErrKTooLarge)
}

func TestSelectAllZeroWeightsFallsBackDeterministically(t *testing.T) {
	snap := snapshotOf(4, []int64{0, 0, 0, 0})
	var round [32]byte
	round[0] = 3

	sel, err := Select(snap, round, 3)
	require.NoError(t, err)
	ids := sortedIDs(snap.Active)
	assert.Equal(t, ids[0], sel.Primary.ID)
}

func TestRecomputeReputationsWritesThroughRegistry(t *testing.T) {
	minBond := uint256.NewInt(10)
	reg := validator.NewRegistry(minBond)
	var id [32]byte
	id[0] = 1
	reg.Register(id, uint256.NewInt(100), uint256.NewInt(10))

	model := &gbdt.Model{
		Bias:  250_000,
		Scale: 1_000_000,
		FeatureConfig: gbdt.NormalizationConfig{
			MaxLatencyUS: 1000, SlashWeight: 1, StakeUnit: 1, MaxAgeRounds: 10,
		},
	}

	err := RecomputeReputations(reg, reg.IterActive(), model)
	require.NoError(t, err)

	v, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, int64(250_000), v.ReputationScaled)
}
