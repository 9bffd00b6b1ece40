// Package round drives the Open -> Closed -> Finalized|Skipped round
// state machine. One Executor owns exactly one round's worth of state at
// a time and is the only mutator of round phase and admission list.
package round

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"github.com/ippan/dlc/config"
	"github.com/ippan/dlc/dag"
	"github.com/ippan/dlc/emission"
	"github.com/ippan/dlc/feepool"
	"github.com/ippan/dlc/telemetry"
	"github.com/ippan/dlc/validator"
)

var (
	ErrRoundClosed       = errors.New("round: closed, no further admissions")
	ErrTemporalOutOfBand = errors.New("round: timestamp outside tolerance of round window")
	ErrNoActiveRound     = errors.New("round: no round currently open")
	ErrWrongRound        = errors.New("round: round id does not match the currently tracked round")
	ErrAlreadyTerminal   = errors.New("round: round already finalized or skipped")
)

// Phase is a round's position in its state machine.
type Phase int

const (
	PhasePending Phase = iota
	PhaseOpen
	PhaseClosed
	PhaseFinalized
	PhaseSkipped
)

// state is the mutable record for the round currently tracked by an
// Executor.
type state struct {
	id        uint64
	tOpenUS   int64
	tCloseUS  int64
	phase     Phase
	admitted  []dag.BlockID
}

// Executor is the single owner of round-phase transitions. It holds no
// reference to the mempool or gossip layer; callers feed it proposals
// and ask it to close or finalize.
type Executor struct {
	mu      sync.Mutex
	cfg     config.Config
	current state
	metrics *telemetry.Metrics
}

// NewExecutor creates an Executor with no round open yet.
func NewExecutor(cfg config.Config, metrics *telemetry.Metrics) *Executor {
	if metrics == nil {
		metrics = telemetry.Noop()
	}
	return &Executor{cfg: cfg, metrics: metrics, current: state{phase: PhasePending}}
}

// Open starts round id with window [tOpenUS, tOpenUS+RoundDurationUS).
// It replaces whatever round was previously tracked; callers are
// responsible for finalizing or skipping the prior round first.
func (e *Executor) Open(id uint64, tOpenUS int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.current = state{
		id:       id,
		tOpenUS:  tOpenUS,
		tCloseUS: tOpenUS + e.cfg.RoundDurationUS,
		phase:    PhaseOpen,
	}
	e.metrics.RoundsOpened.Inc()
}

// CloseIfDue transitions Open -> Closed once nowUS has passed t_close +
// GRACE_US. It is a no-op if the round is not Open or not yet due.
func (e *Executor) CloseIfDue(nowUS int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeIfDueLocked(nowUS)
}

func (e *Executor) closeIfDueLocked(nowUS int64) {
	if e.current.phase == PhaseOpen && nowUS >= e.current.tCloseUS+e.cfg.GraceUS {
		e.current.phase = PhaseClosed
	}
}

// Phase returns the current round's phase.
func (e *Executor) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.phase
}

// RoundID returns the currently tracked round id.
func (e *Executor) RoundID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.id
}

// AdmitProposal checks a proposed block's HashTimer timestamp against
// the round window and, if admissible, records its id. nowUS lazily
// drives the Open -> Closed transition before the admission check runs.
func (e *Executor) AdmitProposal(nowUS, timestampUS int64, blockID dag.BlockID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closeIfDueLocked(nowUS)

	if e.current.phase != PhaseOpen {
		return ErrRoundClosed
	}

	lower := e.current.tOpenUS - e.cfg.ToleranceUS
	upper := e.current.tCloseUS + e.cfg.ToleranceUS
	if timestampUS < lower || timestampUS > upper {
		return ErrTemporalOutOfBand
	}

	e.current.admitted = append(e.current.admitted, blockID)
	return nil
}

// Admitted returns the block ids admitted into the currently tracked
// round so far.
func (e *Executor) Admitted() []dag.BlockID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]dag.BlockID, len(e.current.admitted))
	copy(out, e.current.admitted)
	return out
}

// Skip marks the currently tracked round Skipped: no emission is
// credited, though any fees already routed for included transactions
// still sit in the epoch pool.
func (e *Executor) Skip(id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current.id != id {
		return ErrWrongRound
	}
	if e.current.phase == PhaseFinalized || e.current.phase == PhaseSkipped {
		return ErrAlreadyTerminal
	}
	e.current.phase = PhaseSkipped
	e.metrics.RoundsSkipped.Inc()
	return nil
}

// FinalizeResult carries everything a caller needs to persist after a
// round finalizes: the reward split and the per-validator payouts for
// both the proposer pool and the verifier pool.
type FinalizeResult struct {
	Reward           emission.RoundReward
	ProposerPayouts  map[[32]byte]*uint256.Int
	ProposerRemainder *uint256.Int
	VerifierPayouts  map[[32]byte]*uint256.Int
	VerifierRemainder *uint256.Int
}

// Finalize runs when BlockDAG has finalized a block belonging to this
// round (or an earlier one, via FINALITY_DEPTH). It computes the round
// reward, splits it between the proposer and the verifier set by
// participation weight, credits the emission ledger, and folds a
// telemetry delta into the validator registry for every participant.
// It never touches the fee pool directly; fee routing happens at
// transaction-application time, not at finalization.
func (e *Executor) Finalize(
	id uint64,
	emissionCfg emission.Config,
	ledger *emission.Ledger,
	registry *validator.Registry,
	proposerID [32]byte,
	blockCountByValidator map[[32]byte]uint64,
) (FinalizeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current.id != id {
		return FinalizeResult{}, ErrWrongRound
	}
	if e.current.phase == PhaseFinalized || e.current.phase == PhaseSkipped {
		return FinalizeResult{}, ErrAlreadyTerminal
	}

	reward, err := ledger.RewardForRound(emissionCfg, id)
	if err != nil {
		return FinalizeResult{}, err
	}

	weights := emission.ParticipationWeights(proposerID, blockCountByValidator, int64(e.cfg.ProposerBonusBps), e.cfg.WorkScoreCap)

	proposerWeights := map[[32]byte]uint64{proposerID: weights[proposerID]}
	verifierWeights := make(map[[32]byte]uint64, len(weights))
	for id, w := range weights {
		if id != proposerID {
			verifierWeights[id] = w
		}
	}

	proposerPayouts, proposerRemainder, err := emission.DistributeByWeight(reward.ProposerPool, proposerWeights)
	if err != nil {
		return FinalizeResult{}, err
	}
	verifierPayouts, verifierRemainder, err := emission.DistributeByWeight(reward.VerifierPool, verifierWeights)
	if err != nil {
		return FinalizeResult{}, err
	}

	// Telemetry must fold in before the round is allowed to become
	// Finalized: the append-only telemetry ledger and the finalized
	// round set advance together, or neither does. Every participant is
	// checked before any counter moves.
	for id := range blockCountByValidator {
		if _, ok := registry.Get(id); !ok {
			return FinalizeResult{}, validator.ErrNotFound
		}
	}
	for id, count := range blockCountByValidator {
		if err := registry.UpdateTelemetry(id, validator.Delta{
			BlocksProposed: boolToU64(id == proposerID) * count,
			BlocksVerified: boolToU64(id != proposerID) * count,
			RoundsActive:   1,
		}); err != nil {
			return FinalizeResult{}, err
		}
	}

	if err := ledger.Credit(reward.RewardBase); err != nil {
		return FinalizeResult{}, err
	}

	e.current.phase = PhaseFinalized
	e.metrics.RoundsFinalized.Inc()

	return FinalizeResult{
		Reward:            reward,
		ProposerPayouts:   proposerPayouts,
		ProposerRemainder: proposerRemainder,
		VerifierPayouts:   verifierPayouts,
		VerifierRemainder: verifierRemainder,
	}, nil
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// EpochForRound maps a round's open timestamp to its fee epoch, so a
// caller can look up the right feepool.Pool bucket without duplicating
// the epoch-width constant here.
func EpochForRound(tOpenUS int64) uint64 {
	return feepool.EpochOf(tOpenUS)
}
