// Package feepool implements the epoch-indexed fee pool: fees are never
// burned, an immediate fraction feeds the current round's reward base,
// and the remainder accumulates into a weekly pool that redistributes
// deterministically to participating validators.
package feepool

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"github.com/ippan/dlc/codec"
	"github.com/ippan/dlc/fixedpoint"
)

var (
	ErrAlreadyDistributed = errors.New("feepool: epoch already distributed")
	ErrFeeAboveCap        = errors.New("feepool: fee exceeds per-type cap")
	ErrProtocolOnlySpend  = errors.New("feepool: pool may only be spent via DistributeFees")
)

// EpochUS is the fixed weekly epoch length in microseconds (7 days).
const EpochUS int64 = 7 * 24 * 3600 * 1_000_000

// TxType enumerates the fee-capped transaction kinds.
type TxType int

const (
	TxTransfer TxType = iota
	TxAICall
	TxContractDeploy
	TxContractCall
	TxGovernance
	TxValidatorOps
)

// FeeCapsAtomic holds the per-type hard fee cap, expressed in atomic
// units (µIPN figures from the config surface multiplied up by the
// caller before being stored here).
type FeeCapsAtomic map[TxType]*uint256.Int

// CheckCap enforces a transaction's declared fee against its type's cap.
// Called at both mempool admission and block assembly, per the
// double-enforcement requirement.
func CheckCap(caps FeeCapsAtomic, kind TxType, fee *uint256.Int) error {
	cap, ok := caps[kind]
	if !ok {
		return nil
	}
	if fee.Gt(cap) {
		return ErrFeeAboveCap
	}
	return nil
}

// Split divides a transaction fee between the immediate round reward
// pool and the epoch's accumulating pool.
func Split(fee *uint256.Int, immediateBps uint64) (immediate, pooled *uint256.Int, err error) {
	immediate, err = fixedpoint.BpsOf(fee, immediateBps)
	if err != nil {
		return nil, nil, err
	}
	pooled = new(uint256.Int).Sub(fee, immediate)
	return immediate, pooled, nil
}

// PoolID derives the system account identifier for an epoch's fee pool:
// BLAKE3("FEE_POOL" || epoch_le_bytes). This account has no signing key;
// the only path that may decrement it is DistributeFees.
func PoolID(epoch uint64) codec.Hash256 {
	var buf [8 + 8]byte
	copy(buf[:8], []byte("FEE_POOL"))
	binary.LittleEndian.PutUint64(buf[8:], epoch)
	return codec.HashBytes(buf[:])
}

// Pool is the exclusive owner of every epoch's accumulating balance and
// distribution status.
type Pool struct {
	mu          sync.Mutex
	balances    map[uint64]*uint256.Int
	distributed map[uint64]bool
}

// NewPool creates an empty fee pool.
func NewPool() *Pool {
	return &Pool{
		balances:    make(map[uint64]*uint256.Int),
		distributed: make(map[uint64]bool),
	}
}

// Credit adds amount to the given epoch's balance. This is the only
// write path besides DistributeFees, matching the "effectively
// exclusive to DistributeFees" spend policy: external callers may only
// grow a pool's balance, never shrink it.
func (p *Pool) Credit(epoch uint64, amount *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.balances[epoch]
	if !ok {
		cur = uint256.NewInt(0)
	}
	p.balances[epoch] = new(uint256.Int).Add(cur, amount)
}

// Balance returns an epoch's current balance.
func (p *Pool) Balance(epoch uint64) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.balances[epoch]
	if !ok {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(cur)
}

// Distribution is the result of one DistributeFees(epoch) call.
type Distribution struct {
	Payouts   map[[32]byte]*uint256.Int
	Residual  *uint256.Int
}

// DistributeFees pays out an epoch's pool balance proportionally to
// eligible validators' work scores, carrying any residual (from integer
// division) into the next epoch's pool. Each epoch may be distributed
// exactly once.
func (p *Pool) DistributeFees(epoch uint64, workScores map[[32]byte]uint64, workScoreCap uint64) (Distribution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.distributed[epoch] {
		return Distribution{}, ErrAlreadyDistributed
	}

	balance, ok := p.balances[epoch]
	if !ok {
		balance = uint256.NewInt(0)
	}

	capped := make(map[[32]byte]uint64, len(workScores))
	var sumW uint256.Int
	for id, w := range workScores {
		if w > workScoreCap {
			w = workScoreCap
		}
		capped[id] = w
		sumW.Add(&sumW, uint256.NewInt(w))
	}

	payouts := make(map[[32]byte]*uint256.Int, len(capped))
	distributed := uint256.NewInt(0)
	if !sumW.IsZero() {
		for id, w := range capped {
			share, err := fixedpoint.MulDivU128(balance, uint256.NewInt(w), &sumW)
			if err != nil {
				return Distribution{}, err
			}
			payouts[id] = share
			distributed = new(uint256.Int).Add(distributed, share)
		}
	}

	residual := new(uint256.Int).Sub(balance, distributed)

	p.distributed[epoch] = true
	p.balances[epoch] = uint256.NewInt(0)
	next := p.balances[epoch+1]
	if next == nil {
		next = uint256.NewInt(0)
	}
	p.balances[epoch+1] = new(uint256.Int).Add(next, residual)

	return Distribution{Payouts: payouts, Residual: residual}, nil
}

// AlreadyDistributed reports whether an epoch has already been paid out.
func (p *Pool) AlreadyDistributed(epoch uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.distributed[epoch]
}

// EpochOf returns the epoch index containing the given round timestamp.
func EpochOf(roundUS int64) uint64 {
	return uint64(roundUS / EpochUS)
}
