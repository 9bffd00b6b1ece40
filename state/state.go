// Package state applies a finalized linear order of blocks to an
// abstract ledger: debiting senders, crediting recipients, routing fees,
// and forwarding non-payment operations to an external registry. Every
// transaction applies atomically — success or no effect at all.
package state

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"github.com/ippan/dlc/feepool"
	"github.com/ippan/dlc/ledger"
	"github.com/ippan/dlc/mempool"
)

var (
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	ErrNonceMismatch       = errors.New("state: nonce mismatch")
)

// Applier is the exclusive orchestrator of per-transaction and
// per-block state transitions.
type Applier struct {
	store    ledger.Store
	registry ledger.Registry
	pool     *feepool.Pool
	caps     feepool.FeeCapsAtomic

	immediateBps uint64
}

// New creates an Applier wired to its external collaborators.
func New(store ledger.Store, registry ledger.Registry, pool *feepool.Pool, caps feepool.FeeCapsAtomic, immediateBps uint64) *Applier {
	return &Applier{store: store, registry: registry, pool: pool, caps: caps, immediateBps: immediateBps}
}

// ApplyTx applies one transaction atomically: re-checks its fee cap,
// debits sender by amount+fee, credits recipient by amount, splits the
// fee between the current round's immediate pool and the epoch fee
// pool, and increments the sender's nonce. Non-payment kinds are
// forwarded to the registry after their fee is still routed identically
// — this component never interprets their payload semantics.
//
// Returns the immediate-fee share (to be folded into the round's
// reward_base by the caller) or an error; on error no mutation has
// occurred.
func (a *Applier) ApplyTx(ctx context.Context, tx mempool.Tx, epoch uint64) (*uint256.Int, error) {
	if err := mempool.CheckFeeCap(a.caps, tx); err != nil {
		return nil, err
	}

	sender, err := a.store.GetAccount(ctx, ledger.AccountID(tx.Sender))
	if err != nil {
		return nil, err
	}
	if sender.Nonce != tx.Nonce {
		return nil, ErrNonceMismatch
	}

	total := new(uint256.Int).Add(tx.AmountAtomic, tx.FeeAtomic)
	if sender.BalanceAtomic.Lt(total) {
		return nil, ErrInsufficientBalance
	}

	recipient, err := a.store.GetAccount(ctx, ledger.AccountID(tx.Recipient))
	if err != nil {
		return nil, err
	}

	immediate, pooled, err := feepool.Split(tx.FeeAtomic, a.immediateBps)
	if err != nil {
		return nil, err
	}

	sender.BalanceAtomic = new(uint256.Int).Sub(sender.BalanceAtomic, total)
	sender.Nonce++
	if tx.Recipient == tx.Sender {
		recipient = sender
	}
	recipient.BalanceAtomic = new(uint256.Int).Add(recipient.BalanceAtomic, tx.AmountAtomic)

	if err := a.store.PutAccount(ctx, ledger.AccountID(tx.Sender), sender); err != nil {
		return nil, err
	}
	if err := a.store.PutAccount(ctx, ledger.AccountID(tx.Recipient), recipient); err != nil {
		return nil, err
	}
	a.pool.Credit(epoch, pooled)

	if a.registry != nil && len(tx.Payload) > 0 {
		if err := a.registry.Apply(ctx, txKindName(tx.Kind), tx.Payload); err != nil {
			return nil, err
		}
	}

	return immediate, nil
}

func txKindName(k feepool.TxType) string {
	switch k {
	case feepool.TxTransfer:
		return "transfer"
	case feepool.TxAICall:
		return "ai_call"
	case feepool.TxContractDeploy:
		return "contract_deploy"
	case feepool.TxContractCall:
		return "contract_call"
	case feepool.TxGovernance:
		return "governance"
	case feepool.TxValidatorOps:
		return "validator_ops"
	default:
		return "unknown"
	}
}

// ApplyBlock applies every transaction in a finalized block in order,
// summing the immediate-fee contributions into the round's reward base.
// It stops at the first failing transaction: callers running a strict
// per-block atomicity policy should treat any error here as the whole
// block failing to apply, per-transaction atomicity notwithstanding.
func (a *Applier) ApplyBlock(ctx context.Context, txs []mempool.Tx, epoch uint64) (*uint256.Int, error) {
	total := uint256.NewInt(0)
	for _, tx := range txs {
		immediate, err := a.ApplyTx(ctx, tx, epoch)
		if err != nil {
			return nil, err
		}
		total = new(uint256.Int).Add(total, immediate)
	}
	return total, nil
}
