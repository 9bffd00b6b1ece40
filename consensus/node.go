// Package consensus wires the sub-packages together into the round
// flow: open a round, select a primary and shadows, draft and admit a
// block anchored by a HashTimer, re-execute it across shadows, insert
// into the BlockDAG, and finalize once enough depth has accumulated.
//
// This is a composition root, not a transport or networking layer: it
// never dials a peer or opens a socket. Gossip, block propagation, and
// peer discovery are external collaborators the caller wires in.
package consensus

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"time"

	"github.com/ippan/dlc/codec"
	"github.com/ippan/dlc/config"
	"github.com/ippan/dlc/dag"
	"github.com/ippan/dlc/emission"
	"github.com/ippan/dlc/feepool"
	"github.com/ippan/dlc/gbdt"
	"github.com/ippan/dlc/hashtimer"
	"github.com/ippan/dlc/mempool"
	"github.com/ippan/dlc/round"
	"github.com/ippan/dlc/shadow"
	"github.com/ippan/dlc/state"
	"github.com/ippan/dlc/telemetry"
	"github.com/ippan/dlc/validator"
	"github.com/ippan/dlc/verifier"
)

// Node owns one honest participant's view of every consensus
// sub-package. Each field is the exclusive-writer owner documented in
// its own package; Node only sequences calls across them, it holds no
// consensus-critical state of its own beyond that sequencing.
type Node struct {
	SelfID [32]byte
	Priv   ed25519.PrivateKey

	Config      config.Config
	Clock       *hashtimer.Clock
	DAG         *dag.DAG
	Registry    *validator.Registry
	Model       *gbdt.Model
	Round       *round.Executor
	Applier     *state.Applier
	Emission    *emission.Ledger
	EmissionCfg emission.Config
	FeePool     *feepool.Pool
	Metrics     *telemetry.Metrics
	Shadows     *shadow.Coordinator
}

// NewNode assembles a Node from already-constructed sub-packages and
// records the node's own public key in the registry. It performs no I/O.
// The shadow coordinator waits at most one round duration for reports.
func NewNode(
	selfID [32]byte,
	priv ed25519.PrivateKey,
	cfg config.Config,
	clock *hashtimer.Clock,
	d *dag.DAG,
	reg *validator.Registry,
	model *gbdt.Model,
	applier *state.Applier,
	emissionCfg emission.Config,
	pool *feepool.Pool,
	metrics *telemetry.Metrics,
) *Node {
	if metrics == nil {
		metrics = telemetry.Noop()
	}
	if pub, ok := priv.Public().(ed25519.PublicKey); ok {
		_ = reg.SetPubKey(selfID, pub)
	}
	return &Node{
		SelfID:      selfID,
		Priv:        priv,
		Config:      cfg,
		Clock:       clock,
		DAG:         d,
		Registry:    reg,
		Model:       model,
		Round:       round.NewExecutor(cfg, metrics),
		Applier:     applier,
		Emission:    emission.NewLedger(),
		EmissionCfg: emissionCfg,
		FeePool:     pool,
		Metrics:     metrics,
		Shadows:     shadow.NewCoordinator(shadow.Config{Timeout: time.Duration(cfg.RoundDurationUS) * time.Microsecond}),
	}
}

// RoundSeed derives the deterministic 32-byte seed input the verifier
// package expects from a round number.
func RoundSeed(roundID uint64) [32]byte {
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:8], roundID)
	return seed
}

// OpenRound opens roundID at tOpenUS, recomputes every active
// validator's reputation against the current model, and returns the
// deterministic primary/shadow selection for the round.
func (n *Node) OpenRound(roundID uint64, tOpenUS int64) (verifier.Selection, error) {
	n.Round.Open(roundID, tOpenUS)

	snapshot := n.Registry.IterActive()
	if err := verifier.RecomputeReputations(n.Registry, snapshot, n.Model); err != nil {
		return verifier.Selection{}, err
	}
	snapshot = n.Registry.IterActive()

	sel, err := verifier.Select(snapshot, RoundSeed(roundID), n.Config.KShadows)
	if err != nil {
		_ = n.Round.Skip(roundID)
		return verifier.Selection{}, err
	}
	return sel, nil
}

// DraftBlock builds and signs a HashTimer anchor for a new block
// proposed by the primary, referencing the given DAG parents and the
// transaction/receipt/state commitments the primary computed by
// locally executing its proposed batch, and admits both the HashTimer
// timing and the block itself into the currently tracked round and the
// BlockDAG. Height must be greater than every parent's height; the DAG
// rejects the block on insertion otherwise.
func (n *Node) DraftBlock(roundID uint64, height uint64, parents []dag.BlockID, txRoot, receiptRoot, stateRoot [32]byte, nonce uint64) (dag.Block, hashtimer.HashTimer, error) {
	ht, err := hashtimer.Derive(n.Clock, "DLC_BLOCK", txRoot, nonce, n.SelfID, n.Priv)
	if err != nil {
		return dag.Block{}, hashtimer.HashTimer{}, err
	}

	block := dag.Block{
		Creator:     n.SelfID,
		Round:       roundID,
		Parents:     parents,
		HashTimer:   ht,
		TxRoot:      txRoot,
		ReceiptRoot: receiptRoot,
		StateRoot:   stateRoot,
		Height:      height,
	}

	canonical, err := block.CanonicalBytes()
	if err != nil {
		return dag.Block{}, hashtimer.HashTimer{}, err
	}
	sig := codec.Sign(n.Priv, canonical)
	copy(block.Signature[:], sig)
	block.ID = dag.BlockID(codec.HashBytes(canonical))

	if err := n.Round.AdmitProposal(n.Clock.NowUS(), ht.TimestampUS, block.ID); err != nil {
		return dag.Block{}, hashtimer.HashTimer{}, err
	}
	if err := n.DAG.AddBlock(block, n.Config.RoundDurationUS, n.Registry.PubKeyLookup); err != nil {
		return dag.Block{}, hashtimer.HashTimer{}, err
	}
	return block, ht, nil
}

// VerifyShadows fans the block out to the selected shadow executors and
// reports any divergence. A majority of shadows disagreeing with the
// block's claimed root (Outcome.Rejected) slashes the block's creator
// by the configured divergence penalty; a minority disagreeing only
// with their own peers (Outcome.Suspicious) is telemetry-only and never
// slashed on its own.
func (n *Node) VerifyShadows(ctx context.Context, block dag.Block, claimedRoot codec.Hash256, executors map[[32]byte]shadow.Executor) (shadow.Outcome, error) {
	outcome, err := n.Shadows.Run(ctx, block, claimedRoot, executors)
	if err != nil {
		return outcome, err
	}
	if outcome.Flagged {
		n.Metrics.ShadowDivergences.Add(float64(len(outcome.Divergences)))
	}
	if len(outcome.Suspicious) > 0 {
		n.Metrics.ShadowSuspicious.Add(float64(len(outcome.Suspicious)))
	}
	if outcome.Rejected {
		if err := n.Registry.Slash(block.Creator, n.Config.SlashDivergenceAtomic, "shadow_majority_divergence"); err != nil {
			return outcome, err
		}
		n.Metrics.ValidatorsSlashed.Inc()
	}
	return outcome, nil
}

// FinalizeRound walks the BlockDAG's finality chain up to finalizedID,
// applies every transaction in txs against the ledger, computes and
// credits the round's emission reward, and folds telemetry deltas back
// into the validator registry. It is the only place cumulative supply,
// fee-pool balances, and finalized height all advance together.
func (n *Node) FinalizeRound(
	ctx context.Context,
	roundID uint64,
	finalizedID dag.BlockID,
	txs []mempool.Tx,
	epoch uint64,
	proposerID [32]byte,
	blockCountByValidator map[[32]byte]uint64,
) (round.FinalizeResult, error) {
	if err := n.DAG.FinalizeUpTo(finalizedID); err != nil {
		return round.FinalizeResult{}, err
	}

	if _, err := n.Applier.ApplyBlock(ctx, txs, epoch); err != nil {
		return round.FinalizeResult{}, err
	}

	res, err := n.Round.Finalize(roundID, n.EmissionCfg, n.Emission, n.Registry, proposerID, blockCountByValidator)
	if err != nil {
		return round.FinalizeResult{}, err
	}

	block, _ := n.DAG.GetBlock(finalizedID)
	n.Metrics.BlocksFinalized.Inc()
	n.Metrics.FinalityHeight.Set(float64(block.Height))
	n.Metrics.CumulativeSupply.Set(float64(n.Emission.CumulativeSupply().Uint64()))
	n.Metrics.FeePoolBalance.Set(float64(n.FeePool.Balance(epoch).Uint64()))

	return res, nil
}

// SkipRound marks roundID Skipped: either no primary-weight validators
// existed or no block was admitted before the round closed.
func (n *Node) SkipRound(roundID uint64) error {
	return n.Round.Skip(roundID)
}
