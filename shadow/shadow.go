// Package shadow runs parallel re-execution of a block by its selected
// shadow verifiers and detects divergence from the primary's claimed
// result.
package shadow

import (
	"context"
	"errors"
	"time"

	"github.com/ippan/dlc/codec"
	"github.com/ippan/dlc/dag"
)

var (
	ErrTimeout    = errors.New("shadow: re-execution timed out without a majority reporting")
	ErrNoVerifier = errors.New("shadow: no shadow verifiers configured")
)

// Executor re-executes a block and returns the resulting state root. It
// is the narrow seam between this package and whatever state-transition
// function a deployment plugs in.
type Executor interface {
	Execute(ctx context.Context, block dag.Block) (codec.Hash256, error)
}

// Report is one shadow verifier's re-execution result.
type Report struct {
	VerifierID [32]byte
	StateRoot  codec.Hash256
	Err        error
}

// Outcome is the aggregated verdict over all shadow reports for a
// block. Rejected is the majority-threshold verdict: more than
// floor(K/2) shadows disagreed with the primary's claimed root, so the
// caller must reject the block and slash its creator. Suspicious
// carries the shadows that disagreed with their own peers' supermajority
// — telemetry only, never slashed on a single occurrence. NonResponsive
// lists shadows whose report never arrived; they simply forfeit their
// verification credit, they never block the round.
type Outcome struct {
	BlockID       dag.BlockID
	ClaimedRoot   codec.Hash256
	Agreements    int
	Divergences   []Report
	Suspicious    []Report
	NonResponsive [][32]byte
	Flagged       bool
	Rejected      bool
}

// Config bounds how long the coordinator waits for shadow reports before
// treating missing ones as non-votes.
type Config struct {
	Timeout time.Duration
}

// Coordinator runs bounded-wait re-execution fan-outs. A single
// Coordinator is safe for concurrent use by multiple in-flight Run
// calls; each call owns its own report channel and timeout context.
type Coordinator struct {
	cfg Config
}

// NewCoordinator creates a Coordinator with the given timeout bound.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// Run fans a block out to every shadow verifier's Executor concurrently
// and waits for either all K reports or, once a strict majority
// (floor(K/2)+1) have arrived, returns with whatever is in hand — a
// single slow shadow out of K never blocks finalization, it only
// forfeits its own credit. A report is a divergence when its state root
// differs from the primary's claim; if more than floor(K/2) shadows
// diverge, Rejected is set so the caller can reject the block and slash
// its creator. Shadows whose root disagrees with the supermajority of
// their reporting peers (not necessarily the primary) are recorded as
// Suspicious.
func (c *Coordinator) Run(ctx context.Context, block dag.Block, claimedRoot codec.Hash256, verifiers map[[32]byte]Executor) (Outcome, error) {
	k := len(verifiers)
	if k == 0 {
		return Outcome{}, ErrNoVerifier
	}
	majority := k/2 + 1

	reportCh := make(chan Report, k)
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	for id, ex := range verifiers {
		go func(id [32]byte, ex Executor) {
			root, err := ex.Execute(runCtx, block)
			select {
			case reportCh <- Report{VerifierID: id, StateRoot: root, Err: err}:
			case <-runCtx.Done():
			}
		}(id, ex)
	}

	reported := make(map[[32]byte]Report, k)
waitForMajority:
	for len(reported) < k {
		select {
		case r := <-reportCh:
			reported[r.VerifierID] = r
			if len(reported) >= majority {
				break waitForMajority
			}
		case <-runCtx.Done():
			break waitForMajority
		}
	}
	// Grab any further reports already sitting in the buffer without
	// waiting on slow stragglers any longer.
drain:
	for {
		select {
		case r := <-reportCh:
			reported[r.VerifierID] = r
		default:
			break drain
		}
	}

	if len(reported) < majority {
		return Outcome{}, ErrTimeout
	}

	supermajorityRoot := peerSupermajorityRoot(reported)

	out := Outcome{BlockID: block.ID, ClaimedRoot: claimedRoot}
	for id := range verifiers {
		r, ok := reported[id]
		if !ok {
			out.NonResponsive = append(out.NonResponsive, id)
			continue
		}
		if r.Err != nil || r.StateRoot != claimedRoot {
			out.Divergences = append(out.Divergences, r)
			out.Flagged = true
		} else {
			out.Agreements++
		}
		if r.Err == nil && r.StateRoot != supermajorityRoot {
			out.Suspicious = append(out.Suspicious, r)
		}
	}

	divergenceThreshold := k / 2
	out.Rejected = len(out.Divergences) > divergenceThreshold

	return out, nil
}

// peerSupermajorityRoot finds the most-reported non-error state root
// among the collected reports, tie-breaking on the lowest root value so
// the result is identical regardless of map iteration order.
func peerSupermajorityRoot(reported map[[32]byte]Report) codec.Hash256 {
	counts := make(map[codec.Hash256]int, len(reported))
	for _, r := range reported {
		if r.Err == nil {
			counts[r.StateRoot]++
		}
	}
	var best codec.Hash256
	bestCount := -1
	for root, n := range counts {
		if n > bestCount || (n == bestCount && lessHash(root, best)) {
			best, bestCount = root, n
		}
	}
	return best
}

func lessHash(a, b codec.Hash256) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
