package gbdt

import (
	"encoding/json"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityBiasModel(biasHalfScale int64) *Model {
	return &Model{
		Trees: nil,
		Bias:  biasHalfScale,
		Scale: fixedScale,
	}
}

const fixedScale = 1_000_000

func TestLoadAndVerifyHashMismatch(t *testing.T) {
	m := identityBiasModel(500_000)
	data, err := modelJSON(m)
	require.NoError(t, err)

	var wrongHash [32]byte
	_, err = LoadAndVerify(data, wrongHash)
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestLoadAndVerifyRoundTrip(t *testing.T) {
	m := identityBiasModel(500_000)
	hash, err := m.Hash()
	require.NoError(t, err)

	data, err := modelJSON(m)
	require.NoError(t, err)

	loaded, err := LoadAndVerify(data, hash)
	require.NoError(t, err)
	assert.Equal(t, m.Bias, loaded.Bias)
}

func TestBoundsExceeded(t *testing.T) {
	trees := make([]Tree, MaxTrees+1)
	for i := range trees {
		trees[i] = Tree{Nodes: []Node{{Left: -1, Right: -1, LeafValue: 1}}}
	}
	m := &Model{Trees: trees, Bias: 0, Scale: fixedScale}
	hash, err := m.Hash()
	require.NoError(t, err)
	data, err := modelJSON(m)
	require.NoError(t, err)

	_, err = LoadAndVerify(data, hash)
	require.ErrorIs(t, err, ErrBoundsExceeded)
}

func TestEvalTreeTieGoesLeft(t *testing.T) {
	tree := Tree{Nodes: []Node{
		{FeatureIdx: 0, Threshold: 500_000, Left: 1, Right: 2},
		{Left: -1, Right: -1, LeafValue: 111},
		{Left: -1, Right: -1, LeafValue: 222},
	}}
	var f Features
	f[0] = 500_000 // exactly at threshold: must go left, per the normative tie rule
	assert.Equal(t, int64(111), evalTree(tree, f))

	f[0] = 500_001
	assert.Equal(t, int64(222), evalTree(tree, f))
}

func TestScoreClampedToScaleBounds(t *testing.T) {
	m := &Model{Bias: 2_000_000, Scale: fixedScale}
	var f Features
	assert.Equal(t, int64(fixedScale), Score(m, f))

	m.Bias = -1
	assert.Equal(t, int64(0), Score(m, f))
}

func TestExtractFeaturesAtExtremes(t *testing.T) {
	cfg := NormalizationConfig{MaxLatencyUS: 1000, SlashWeight: 100, StakeUnit: 10, MaxAgeRounds: 100}

	zero := Telemetry{}
	fz := ExtractFeatures(zero, cfg)
	for i, v := range fz {
		assert.GreaterOrEqual(t, v, int64(0), "feature %d", i)
		assert.LessOrEqual(t, v, int64(fixedScale), "feature %d", i)
	}

	maxed := Telemetry{
		BlocksProposed: 1000,
		BlocksVerified: 1000,
		RoundsActive:   10,
		AvgLatencyUS:   0,
		SlashCount:     0,
		StakeAtomic:    uint256.NewInt(1000),
		AgeRounds:      1000,
	}
	fm := ExtractFeatures(maxed, cfg)
	for i, v := range fm {
		assert.GreaterOrEqual(t, v, int64(0), "feature %d", i)
		assert.LessOrEqual(t, v, int64(fixedScale), "feature %d", i)
	}
}

func modelJSON(m *Model) ([]byte, error) {
	return json.Marshal(m)
}
