// Package fixedpoint implements the saturating, integer-only arithmetic
// every consensus-path computation routes through. No float64 value ever
// crosses a package boundary here: reward math, fee math, and D-GBDT
// feature normalization are all expressed in terms of the helpers below.
package fixedpoint

import (
	"errors"
	"math/bits"

	"github.com/holiman/uint256"
)

// ErrOverflow is returned by any operation that would otherwise wrap or
// truncate silently.
var ErrOverflow = errors.New("fixedpoint: overflow")

// Scale is the fixed-point scale for ratio/feature-like quantities, i.e.
// a value of Scale represents 1.0.
const Scale int64 = 1_000_000

// AtomicScale is the number of atomic units per whole IPN (10^24).
var AtomicScale = mustUint256FromDecimal("1000000000000000000000000")

func mustUint256FromDecimal(s string) *uint256.Int {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		panic("fixedpoint: invalid decimal literal: " + s)
	}
	return v
}

// AddChecked returns a+b, or ErrOverflow if the u64 addition wraps.
func AddChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// SubChecked returns a-b, or ErrOverflow if b > a.
func SubChecked(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// MulChecked returns a*b, or ErrOverflow on overflow.
func MulChecked(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// SaturatingAdd returns a+b clamped to math.MaxInt64 / math.MinInt64 on
// overflow, used by the tree-ensemble score accumulator.
func SaturatingAdd(a, b int64) int64 {
	sum := a + b
	// Overflow occurred iff the operands share a sign and the result's
	// sign differs from theirs.
	if (a > 0 && b > 0 && sum < 0) {
		return int64(^uint64(0) >> 1) // math.MaxInt64
	}
	if a < 0 && b < 0 && sum > 0 {
		return -int64(^uint64(0)>>1) - 1 // math.MinInt64
	}
	return sum
}

// SaturatingSub returns a-b, saturating at the int64 bounds.
func SaturatingSub(a, b int64) int64 {
	return SaturatingAdd(a, negateSaturating(b))
}

func negateSaturating(b int64) int64 {
	if b == -int64(^uint64(0)>>1)-1 {
		return int64(^uint64(0) >> 1)
	}
	return -b
}

// Clamp returns x clamped to [lo, hi].
func Clamp(x, lo, hi int64) int64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// MulDivU128 computes floor(n*mul/div) using 256-bit intermediate
// arithmetic so the multiply cannot silently wrap even when n and mul are
// both near the u128 range (stake/bond/reward math). Returns ErrOverflow
// if div is zero or if the final result does not fit back into a u128
// (the values this module works with never legitimately exceed SupplyCap
// in atomic units, comfortably inside u128).
func MulDivU128(n, mul, div *uint256.Int) (*uint256.Int, error) {
	if div.IsZero() {
		return nil, ErrOverflow
	}
	var product uint256.Int
	overflow := product.MulOverflow(n, mul)
	if overflow {
		return nil, ErrOverflow
	}
	var quotient uint256.Int
	quotient.Div(&product, div)
	if !fitsU128(&quotient) {
		return nil, ErrOverflow
	}
	return &quotient, nil
}

func fitsU128(v *uint256.Int) bool {
	var max128 uint256.Int
	max128.Lsh(uint256.NewInt(1), 128)
	return v.Lt(&max128)
}

// BpsOf returns floor(x*bps/10_000), the basis-point fraction of x.
func BpsOf(x *uint256.Int, bps uint64) (*uint256.Int, error) {
	return MulDivU128(x, uint256.NewInt(bps), uint256.NewInt(10_000))
}

// SplitEvenly divides total into n equal integer shares plus a remainder,
// satisfying per*n + remainder == total and 0 <= remainder < n for any
// n > 0. Panics are never used: n == 0 returns ErrOverflow since an
// even split among zero recipients is undefined, not a silent zero.
func SplitEvenly(total *uint256.Int, n uint64) (per *uint256.Int, remainder *uint256.Int, err error) {
	if n == 0 {
		return nil, nil, ErrOverflow
	}
	nInt := uint256.NewInt(n)
	per = new(uint256.Int).Div(total, nInt)
	remainder = new(uint256.Int).Mod(total, nInt)
	return per, remainder, nil
}

// U256 is re-exported so callers outside this package never need to
// import holiman/uint256 directly for the common case of constructing a
// literal atomic-unit value.
func U256(v uint64) *uint256.Int { return uint256.NewInt(v) }
