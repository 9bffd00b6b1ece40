// Package mempool declares the inbound transaction boundary. The core
// consumes transactions only through this contract; gossip, admission
// policy beyond fee-cap enforcement, and persistence of pending
// transactions are external collaborators.
package mempool

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"github.com/ippan/dlc/feepool"
)

var ErrFeeAboveCap = errors.New("mempool: fee exceeds per-type cap")

// TxID identifies a submitted transaction.
type TxID [32]byte

// Tx is the minimal transaction shape the core needs to assemble a
// block and apply state transitions; type-specific payloads are opaque
// bytes the ledger.Registry interprets.
type Tx struct {
	ID         TxID
	Sender     [32]byte
	Recipient  [32]byte
	Nonce      uint64
	AmountAtomic *uint256.Int
	FeeAtomic  *uint256.Int
	Kind       feepool.TxType
	Payload    []byte
}

// Source is the external mempool boundary: submit enforces fee caps
// before accepting a transaction; drain_for_round supplies a bounded
// batch for block assembly, which re-enforces the same caps.
type Source interface {
	Submit(ctx context.Context, tx Tx) (TxID, error)
	DrainForRound(ctx context.Context, roundID uint64, limit int) ([]Tx, error)
}

// CheckFeeCap re-enforces the fee cap at block assembly time, mirroring
// the admission-time check the mempool itself is required to perform.
func CheckFeeCap(caps feepool.FeeCapsAtomic, tx Tx) error {
	if err := feepool.CheckCap(caps, tx.Kind, tx.FeeAtomic); err != nil {
		return ErrFeeAboveCap
	}
	return nil
}
