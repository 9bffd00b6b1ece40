// Package ledger declares the abstract account store that StateApplier
// writes through. No concrete implementation lives here: persistence
// engines, on-disk formats, and snapshot storage are external
// collaborators referenced only through this contract.
package ledger

import (
	"context"
	"errors"

	"github.com/holiman/uint256"
)

var ErrAccountNotFound = errors.New("ledger: account not found")

// AccountID identifies a ledger account.
type AccountID [32]byte

// Account is the minimal account record the core reads and writes.
// BalanceAtomic and Nonce are the only fields the consensus path
// depends on; Flags is opaque storage for registry/governance state the
// core forwards but does not interpret.
type Account struct {
	BalanceAtomic *uint256.Int
	Nonce         uint64
	Flags         uint64
}

// SnapshotID identifies a point-in-time ledger snapshot, used by shadow
// re-execution to start from a known parent state.
type SnapshotID [32]byte

// Store is the external ledger contract. Every method may block on I/O;
// callers pass a context so a deployment can bound that wait.
type Store interface {
	GetAccount(ctx context.Context, id AccountID) (Account, error)
	PutAccount(ctx context.Context, id AccountID, account Account) error
	StoreBlock(ctx context.Context, blockID [32]byte, canonicalBytes []byte) error
	StoreReceipt(ctx context.Context, txID [32]byte, receiptBytes []byte) error
	Snapshot(ctx context.Context, height uint64) (SnapshotID, error)
	Restore(ctx context.Context, snapshot SnapshotID) error
}

// Registry is the external collaborator for non-payment transaction
// kinds (handle ops, validator ops, governance): StateApplier forwards
// validated operations here without implementing their semantics.
type Registry interface {
	Apply(ctx context.Context, opKind string, payload []byte) error
}
