// Package config collects every governance-pinned tunable the core
// reads: round timing, finality depth, DAG fanout, shadow count, bond
// minimum, HashTimer bounds, emission and fee parameters. A Config is
// immutable once built and validated.
package config

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/ippan/dlc/feepool"
)

var (
	ErrRoundDurationOutOfRange = errors.New("config: round_duration_us out of range")
	ErrInvalidKShadows         = errors.New("config: k_shadows out of range")
	ErrInvalidMaxParents       = errors.New("config: max_parents must be positive")
	ErrInvalidFinalityDepth    = errors.New("config: finality_depth must be positive")
	ErrInvalidEmissionSplit    = errors.New("config: emission split bps must sum to 10_000")
	ErrInvalidBps              = errors.New("config: bps value out of [0, 10_000]")
)

// Config is the full governance surface, §6.6.
type Config struct {
	RoundDurationUS int64 // [100_000, 250_000]
	FinalityDepth   uint64
	MaxParents      int
	KShadows        int // [3, 5]
	MinBondAtomic   *uint256.Int

	MaxDriftUS int64
	MaxStepUS  int64
	GraceUS    int64 // round-close grace period, <= 50_000
	ToleranceUS int64

	HalvingRounds uint64
	R0            *uint256.Int
	SupplyCap     *uint256.Int

	ProposerBps     uint64
	VerifierBps     uint64 // implied as 10_000 - ProposerBps, kept explicit for clarity
	ImmediateFeeBps uint64

	FeeCaps feepool.FeeCapsAtomic

	SlashDivergenceAtomic *uint256.Int

	WorkScoreCap     uint64
	ProposerBonusBps uint64
}

// Default returns a configuration with the reference values from the
// end-to-end scenarios: 200ms rounds, finality depth 2, K=3 shadows,
// halving every 10 rounds for test/demo purposes.
func Default() Config {
	return Config{
		RoundDurationUS: 200_000,
		FinalityDepth:   2,
		MaxParents:      16,
		KShadows:        3,
		MinBondAtomic:   new(uint256.Int).Mul(uint256.NewInt(10), atomicScale()),

		MaxDriftUS:  2_000_000,
		MaxStepUS:   5_000,
		GraceUS:     50_000,
		ToleranceUS: 500_000,

		HalvingRounds: 10,
		R0:            uint256.NewInt(10_000),
		SupplyCap:     new(uint256.Int).Mul(uint256.NewInt(21_000_000), atomicScale()),

		ProposerBps:     2_000,
		VerifierBps:     8_000,
		ImmediateFeeBps: 2_500,

		FeeCaps: feepool.FeeCapsAtomic{
			feepool.TxTransfer:        microIPN(1_000),
			feepool.TxAICall:          microIPN(100),
			feepool.TxContractDeploy:  microIPN(100_000),
			feepool.TxContractCall:    microIPN(10_000),
			feepool.TxGovernance:      microIPN(10_000),
			feepool.TxValidatorOps:    microIPN(10_000),
		},

		SlashDivergenceAtomic: new(uint256.Int).Mul(uint256.NewInt(1), atomicScale()),

		WorkScoreCap:     1_000_000,
		ProposerBonusBps: 15_000,
	}
}

// microIPN converts a µIPN figure to atomic units (1 µIPN = 10^18 atomic).
func microIPN(v uint64) *uint256.Int {
	perMicro := new(uint256.Int).Div(atomicScale(), uint256.NewInt(1_000_000))
	return new(uint256.Int).Mul(uint256.NewInt(v), perMicro)
}

func atomicScale() *uint256.Int {
	// 10^24, matching fixedpoint.AtomicScale without importing that
	// package just for one constant.
	ten := uint256.NewInt(10)
	out := uint256.NewInt(1)
	for i := 0; i < 24; i++ {
		out = new(uint256.Int).Mul(out, ten)
	}
	return out
}

// Validate checks every bound from §6.6. It never mutates Config;
// callers must fix and re-validate.
func (c Config) Validate() error {
	if c.RoundDurationUS < 100_000 || c.RoundDurationUS > 250_000 {
		return ErrRoundDurationOutOfRange
	}
	if c.KShadows < 3 || c.KShadows > 5 {
		return ErrInvalidKShadows
	}
	if c.MaxParents <= 0 {
		return ErrInvalidMaxParents
	}
	if c.FinalityDepth == 0 {
		return ErrInvalidFinalityDepth
	}
	if c.ProposerBps+c.VerifierBps != 10_000 {
		return ErrInvalidEmissionSplit
	}
	if c.ImmediateFeeBps > 10_000 {
		return ErrInvalidBps
	}
	return nil
}
