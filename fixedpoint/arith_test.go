package fixedpoint

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddCheckedOverflow(t *testing.T) {
	_, err := AddChecked(^uint64(0), 1)
	require.ErrorIs(t, err, ErrOverflow)

	sum, err := AddChecked(2, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), sum)
}

func TestSubCheckedUnderflow(t *testing.T) {
	_, err := SubChecked(1, 2)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestMulCheckedOverflow(t *testing.T) {
	_, err := MulChecked(^uint64(0), 2)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestSaturatingAdd(t *testing.T) {
	maxI64 := int64(^uint64(0) >> 1)
	assert.Equal(t, maxI64, SaturatingAdd(maxI64, 1))
	assert.Equal(t, int64(7), SaturatingAdd(3, 4))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, int64(0), Clamp(-5, 0, Scale))
	assert.Equal(t, Scale, Clamp(Scale+1, 0, Scale))
	assert.Equal(t, int64(500), Clamp(500, 0, Scale))
}

func TestSplitEvenlyInvariant(t *testing.T) {
	cases := []struct {
		total uint64
		n     uint64
	}{
		{1_000_003, 3},
		{10_000, 4},
		{1, 7},
		{0, 5},
	}
	for _, c := range cases {
		per, rem, err := SplitEvenly(uint256.NewInt(c.total), c.n)
		require.NoError(t, err)
		reconstructed := new(uint256.Int).Mul(per, uint256.NewInt(c.n))
		reconstructed.Add(reconstructed, rem)
		assert.True(t, reconstructed.Eq(uint256.NewInt(c.total)), "per*n+rem must equal total")
		assert.True(t, rem.Lt(uint256.NewInt(c.n)), "remainder must be < n")
	}
}

func TestSplitEvenlyZeroN(t *testing.T) {
	_, _, err := SplitEvenly(uint256.NewInt(100), 0)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestWeeklyFeeDistributionScenario(t *testing.T) {
	// Weighted payout with a non-divisible remainder carried forward.
	pool := uint256.NewInt(1_000_003)
	weights := []uint64{100, 200, 300}
	sumW := uint256.NewInt(600)

	var payouts []*uint256.Int
	for _, w := range weights {
		p, err := MulDivU128(pool, uint256.NewInt(w), sumW)
		require.NoError(t, err)
		payouts = append(payouts, p)
	}
	assert.Equal(t, uint64(166_667), payouts[0].Uint64())
	assert.Equal(t, uint64(333_334), payouts[1].Uint64())
	assert.Equal(t, uint64(500_001), payouts[2].Uint64())

	distributed := new(uint256.Int)
	for _, p := range payouts {
		distributed.Add(distributed, p)
	}
	residual := new(uint256.Int).Sub(pool, distributed)
	assert.Equal(t, uint64(1), residual.Uint64())
}

func TestBpsOf(t *testing.T) {
	v, err := BpsOf(uint256.NewInt(10_000), 2500)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), v.Uint64())
}

func TestMulDivU128ZeroDiv(t *testing.T) {
	_, err := MulDivU128(uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(0))
	require.ErrorIs(t, err, ErrOverflow)
}
