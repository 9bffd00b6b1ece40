package hashtimer

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSource(t int64) func() int64 {
	return func() int64 { return t }
}

func TestNowUSMonotonic(t *testing.T) {
	c := NewClockWithSource(fixedSource(1000))
	a := c.NowUS()
	b := c.NowUS()
	assert.Greater(t, b, a)
}

func TestIngestSampleBoundary(t *testing.T) {
	c := NewClockWithSource(fixedSource(1_000_000))

	var peer [32]byte
	// Exactly at +/-MaxDriftUS is rejected.
	err := c.IngestSample(1_000_000+MaxDriftUS, peer)
	require.ErrorIs(t, err, ErrDriftOutOfBounds)
	err = c.IngestSample(1_000_000-MaxDriftUS, peer)
	require.ErrorIs(t, err, ErrDriftOutOfBounds)

	// One microsecond inside the bound is accepted.
	err = c.IngestSample(1_000_000+MaxDriftUS-1, peer)
	require.NoError(t, err)
	err = c.IngestSample(1_000_000-MaxDriftUS+1, peer)
	require.NoError(t, err)
}

func TestIngestSampleStepClamped(t *testing.T) {
	c := NewClockWithSource(fixedSource(0))
	var peer [32]byte

	// All samples agree on a median far beyond one MaxStepUS jump, so each
	// of the 10 calls moves the offset by exactly one MaxStepUS.
	for i := 0; i < 10; i++ {
		require.NoError(t, c.IngestSample(100_000, peer))
	}
	assert.Equal(t, int64(10*MaxStepUS), c.offsetUS)
}

func TestDeriveAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	c := NewClockWithSource(fixedSource(150_000))
	var nodeID [32]byte
	nodeID[0] = 7
	var payload [32]byte
	payload[1] = 9

	ht, err := Derive(c, "dlc_block", payload, 42, nodeID, priv)
	require.NoError(t, err)

	err = Verify(ht, pub, 100_000, 200_000)
	require.NoError(t, err)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := NewClockWithSource(fixedSource(150_000))
	var nodeID, payload [32]byte

	ht, err := Derive(c, "dlc_block", payload, 1, nodeID, priv)
	require.NoError(t, err)
	ht.TimestampUS++ // tamper after signing

	err = Verify(ht, pub, 100_000, 200_000)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyRejectsOutOfWindow(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := NewClockWithSource(fixedSource(1_000_000))
	var nodeID, payload [32]byte

	ht, err := Derive(c, "dlc_round", payload, 1, nodeID, priv)
	require.NoError(t, err)

	err = Verify(ht, pub, 0, 100)
	require.ErrorIs(t, err, ErrOutOfWindow)
}
