package emission

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfg() Config {
	return Config{
		R0:            uint256.NewInt(10_000),
		HalvingRounds: 10,
		SupplyCap:     uint256.NewInt(1_000_000_000),
		ProposerBps:   2_000,
	}
}

func TestHalvingSchedule(t *testing.T) {
	l := NewLedger()
	c := cfg()

	r9, err := l.RewardForRound(c, 9)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(10_000), r9.RewardBase)

	r10, err := l.RewardForRound(c, 10)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(5_000), r10.RewardBase)

	r19, err := l.RewardForRound(c, 19)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(5_000), r19.RewardBase)

	r20, err := l.RewardForRound(c, 20)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2_500), r20.RewardBase)
}

func TestRewardSplitBps(t *testing.T) {
	l := NewLedger()
	c := cfg()
	r, err := l.RewardForRound(c, 1)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2_000), r.ProposerPool)
	assert.Equal(t, uint256.NewInt(8_000), r.VerifierPool)
}

func TestSupplyCapTruncates(t *testing.T) {
	l := NewLedger()
	c := cfg()
	c.SupplyCap = uint256.NewInt(5_000)
	l.cumulativeSupply = uint256.NewInt(4_000)

	r, err := l.RewardForRound(c, 0)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1_000), r.RewardBase)
	assert.True(t, r.Truncated)
}

func TestCreditAdvancesCumulativeSupply(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Credit(uint256.NewInt(500)))
	assert.Equal(t, uint256.NewInt(500), l.CumulativeSupply())
}

func TestDistributeByWeightMatchesFeeScenario(t *testing.T) {
	pool := uint256.NewInt(1_000_003)
	weights := map[[32]byte]uint64{
		{1}: 100,
		{2}: 200,
		{3}: 300,
	}

	payouts, remainder, err := DistributeByWeight(pool, weights)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(166_667), payouts[[32]byte{1}])
	assert.Equal(t, uint256.NewInt(333_334), payouts[[32]byte{2}])
	assert.Equal(t, uint256.NewInt(500_001), payouts[[32]byte{3}])
	assert.Equal(t, uint256.NewInt(1), remainder)
}

func TestDistributeByWeightZeroWeightsReturnsWholePoolAsRemainder(t *testing.T) {
	pool := uint256.NewInt(42)
	payouts, remainder, err := DistributeByWeight(pool, map[[32]byte]uint64{{1}: 0})
	require.NoError(t, err)
	assert.Empty(t, payouts)
	assert.Equal(t, uint256.NewInt(42), remainder)
}

func TestParticipationWeightsProposerBonus(t *testing.T) {
	proposer := [32]byte{1}
	counts := map[[32]byte]uint64{
		proposer:  10,
		{2}:       10,
	}
	w := ParticipationWeights(proposer, counts, 15_000, 1_000)
	assert.Equal(t, uint64(15), w[proposer])
	assert.Equal(t, uint64(10), w[[32]byte{2}])
}
