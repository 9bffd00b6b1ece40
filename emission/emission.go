// Package emission computes the per-round block reward under a halving
// schedule and supply cap, and splits it proportionally between
// proposers and verifiers.
package emission

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/ippan/dlc/fixedpoint"
)

var ErrSupplyCapReached = errors.New("emission: supply cap reached")

const maxHalvings = 64

// Config carries the deployment-pinned emission parameters. All fields
// are fixed at genesis and never change within a running deployment.
type Config struct {
	R0            *uint256.Int // initial reward per round, atomic units
	HalvingRounds uint64
	SupplyCap     *uint256.Int
	ProposerBps   uint64 // basis points of reward_base credited to the proposer pool
}

// RoundReward is the computed reward for one finalized round.
type RoundReward struct {
	RewardBase   *uint256.Int
	ProposerPool *uint256.Int
	VerifierPool *uint256.Int
	Truncated    bool // true when the supply cap clipped the naive halving reward
}

// Ledger tracks the running cumulative supply. It is the exclusive
// writer of that counter; callers never mutate cumulative supply
// directly.
type Ledger struct {
	cumulativeSupply *uint256.Int
}

// NewLedger creates a Ledger starting from zero cumulative supply.
func NewLedger() *Ledger {
	return &Ledger{cumulativeSupply: uint256.NewInt(0)}
}

// CumulativeSupply returns the current cumulative emitted supply.
func (l *Ledger) CumulativeSupply() *uint256.Int {
	return new(uint256.Int).Set(l.cumulativeSupply)
}

// RewardForRound computes reward_base for round r: R0 >> (r /
// HalvingRounds), zeroed once halvings reaches 64, then clipped so
// cumulative_supply never exceeds SupplyCap. It does NOT mutate the
// ledger — call Credit after the reward is actually distributed.
func (l *Ledger) RewardForRound(cfg Config, round uint64) (RoundReward, error) {
	halvings := round / cfg.HalvingRounds

	rewardBase := uint256.NewInt(0)
	if halvings < maxHalvings {
		rewardBase = new(uint256.Int).Rsh(cfg.R0, uint(halvings))
	}

	truncated := false
	headroom := new(uint256.Int).Sub(cfg.SupplyCap, l.cumulativeSupply)
	if headroom.Sign() < 0 {
		headroom = uint256.NewInt(0)
	}
	if rewardBase.Gt(headroom) {
		rewardBase = headroom
		truncated = true
	}

	proposerPool, err := fixedpoint.BpsOf(rewardBase, cfg.ProposerBps)
	if err != nil {
		return RoundReward{}, err
	}
	verifierPool := new(uint256.Int).Sub(rewardBase, proposerPool)

	return RoundReward{
		RewardBase:   rewardBase,
		ProposerPool: proposerPool,
		VerifierPool: verifierPool,
		Truncated:    truncated,
	}, nil
}

// Credit advances cumulative supply by amount, the only mutation this
// package performs, called once a round's reward has actually been
// distributed.
func (l *Ledger) Credit(amount *uint256.Int) error {
	next := new(uint256.Int).Add(l.cumulativeSupply, amount)
	l.cumulativeSupply = next
	return nil
}

// ParticipationWeights computes per-validator participation weight:
// blocks proposed/verified this round, scaled up for the proposer by
// proposerBonusBps relative to a plain verifier, then capped at
// workScoreCap.
func ParticipationWeights(proposerID [32]byte, blockCountByValidator map[[32]byte]uint64, proposerBonusBps int64, workScoreCap uint64) map[[32]byte]uint64 {
	out := make(map[[32]byte]uint64, len(blockCountByValidator))
	for id, count := range blockCountByValidator {
		w := count
		if id == proposerID {
			w = uint64(int64(count) * proposerBonusBps / 10_000)
		}
		if w > workScoreCap {
			w = workScoreCap
		}
		out[id] = w
	}
	return out
}

// DistributeByWeight splits pool proportionally to weights using
// mul_div_u128 semantics, returning each recipient's payout and the
// leftover remainder (sum(payouts) + remainder == pool).
func DistributeByWeight(pool *uint256.Int, weights map[[32]byte]uint64) (payouts map[[32]byte]*uint256.Int, remainder *uint256.Int, err error) {
	var sumW uint256.Int
	for _, w := range weights {
		sumW.Add(&sumW, uint256.NewInt(w))
	}
	payouts = make(map[[32]byte]*uint256.Int, len(weights))
	if sumW.IsZero() {
		return payouts, new(uint256.Int).Set(pool), nil
	}

	distributed := uint256.NewInt(0)
	for id, w := range weights {
		share, err := fixedpoint.MulDivU128(pool, uint256.NewInt(w), &sumW)
		if err != nil {
			return nil, nil, err
		}
		payouts[id] = share
		distributed = new(uint256.Int).Add(distributed, share)
	}
	remainder = new(uint256.Int).Sub(pool, distributed)
	return payouts, remainder, nil
}
