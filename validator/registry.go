// Package validator owns validator identity, bond balances, append-only
// telemetry, and slashing counters. It is the single exclusive writer of
// this state; the gbdt and verifier packages only ever read the
// immutable snapshots it publishes at round boundaries.
package validator

import (
	"crypto/ed25519"
	"errors"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/ippan/dlc/gbdt"
)

// Status is a validator's lifecycle state.
type Status int

const (
	StatusActive Status = iota
	StatusJailed
	StatusWithdrawn
)

var (
	ErrNotFound     = errors.New("validator: not found")
	ErrBelowMinBond = errors.New("validator: bond below minimum")
)

// Telemetry holds the append-only per-round counters for one validator.
// Every mutation is a delta; resets are forbidden by construction — there
// is no Reset method, only UpdateTelemetry(delta).
type Telemetry struct {
	BlocksProposed uint64
	BlocksVerified uint64
	RoundsActive   uint64
	AvgLatencyUS   uint64
	SlashCount     uint64
	UptimeBps      uint64
	AgeRounds      uint64
}

// Delta is the set of increments UpdateTelemetry applies; zero fields are
// a no-op for that counter.
type Delta struct {
	BlocksProposed uint64
	BlocksVerified uint64
	RoundsActive   uint64
	LatencySampleUS uint64 // folded into a running average, see applyDelta
	UptimeBps      uint64
	AgeRounds      uint64
}

// Validator is one registry entry.
type Validator struct {
	ID           [32]byte
	PubKey       ed25519.PublicKey
	StakeAtomic  *uint256.Int
	BondAtomic   *uint256.Int
	Telemetry    Telemetry
	ReputationScaled int64
	Status       Status
}

// Registry is the exclusive owner of all Validator records.
type Registry struct {
	mu         sync.RWMutex
	validators map[[32]byte]*Validator
	minBond    *uint256.Int
}

// NewRegistry creates an empty registry with the given minimum bond,
// expressed in atomic units.
func NewRegistry(minBond *uint256.Int) *Registry {
	return &Registry{
		validators: make(map[[32]byte]*Validator),
		minBond:    minBond,
	}
}

// Register adds a new validator with an initial stake and bond. Status
// starts Active only if bond >= minBond.
func (r *Registry) Register(id [32]byte, stake, bond *uint256.Int) *Validator {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := StatusActive
	if bond.Lt(r.minBond) {
		status = StatusJailed
	}
	v := &Validator{
		ID:          id,
		StakeAtomic: stake,
		BondAtomic:  bond,
		Status:      status,
	}
	r.validators[id] = v
	return v
}

// Bond increases a validator's bond by plain u256 addition (which wraps
// only past 2^256, far beyond any realistic IPN supply) and may lift it
// out of Jailed status once the minimum is met again.
func (r *Registry) Bond(id [32]byte, amount *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrNotFound
	}
	v.BondAtomic = new(uint256.Int).Add(v.BondAtomic, amount)
	if v.Status == StatusJailed && !v.BondAtomic.Lt(r.minBond) {
		v.Status = StatusActive
	}
	return nil
}

// Slash reduces bond saturatingly (never below zero) and transitions the
// validator to Jailed if the resulting bond drops below minBond. reason
// is carried only for logging — it has no protocol effect.
func (r *Registry) Slash(id [32]byte, amount *uint256.Int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrNotFound
	}
	if v.BondAtomic.Lt(amount) {
		v.BondAtomic = uint256.NewInt(0)
	} else {
		v.BondAtomic = new(uint256.Int).Sub(v.BondAtomic, amount)
	}
	v.Telemetry.SlashCount++
	if v.BondAtomic.Lt(r.minBond) {
		v.Status = StatusJailed
	}
	return nil
}

// UpdateTelemetry applies a delta to a validator's append-only counters.
// AvgLatencyUS is maintained as a simple running average over
// RoundsActive, computed entirely in integers.
func (r *Registry) UpdateTelemetry(id [32]byte, delta Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrNotFound
	}
	t := &v.Telemetry
	t.BlocksProposed += delta.BlocksProposed
	t.BlocksVerified += delta.BlocksVerified

	if delta.RoundsActive > 0 {
		if delta.LatencySampleUS > 0 {
			totalUS := t.AvgLatencyUS*t.RoundsActive + delta.LatencySampleUS*delta.RoundsActive
			t.RoundsActive += delta.RoundsActive
			t.AvgLatencyUS = totalUS / t.RoundsActive
		} else {
			t.RoundsActive += delta.RoundsActive
		}
	}
	if delta.UptimeBps > 0 {
		t.UptimeBps = delta.UptimeBps
	}
	t.AgeRounds += delta.AgeRounds
	return nil
}

// SetReputation stores the D-GBDT-recomputed reputation score for a
// validator; the registry is the writer, gbdt/verifier are readers.
func (r *Registry) SetReputation(id [32]byte, scaled int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[id]
	if !ok {
		return ErrNotFound
	}
	v.ReputationScaled = scaled
	return nil
}

// SetPubKey records the Ed25519 public key AddBlock and HashTimer
// verification resolve creator ids against. Registration and key
// announcement are separate events in the protocol; a validator can be
// Registered with stake/bond before its key is known.
func (r *Registry) SetPubKey(id [32]byte, pub ed25519.PublicKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[id]
	if !ok {
		return ErrNotFound
	}
	v.PubKey = pub
	return nil
}

// PubKeyLookup resolves a validator id to its announced public key,
// suitable for use as a dag.PubKeyLookup.
func (r *Registry) PubKeyLookup(id [32]byte) (ed25519.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[id]
	if !ok || len(v.PubKey) == 0 {
		return nil, false
	}
	return v.PubKey, true
}

// Get returns a copy-safe snapshot of one validator.
func (r *Registry) Get(id [32]byte) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[id]
	if !ok {
		return Validator{}, false
	}
	return *v, true
}

// Snapshot is an immutable, deterministically ordered view of the active
// validator set published at a round boundary. Downstream scoring and
// selection always read from a Snapshot, never from the live registry.
type Snapshot struct {
	Active []Validator
}

// IterActive publishes a snapshot of all Active validators, sorted by ID
// ascending to give every downstream consumer (verifier selection,
// fork-choice) a canonical enumeration order.
func (r *Registry) IterActive() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Validator, 0, len(r.validators))
	for _, v := range r.validators {
		if v.Status == StatusActive {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lessID(out[i].ID, out[j].ID)
	})
	return Snapshot{Active: out}
}

func lessID(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// GBDTTelemetry projects a Validator's telemetry into the gbdt package's
// narrower Telemetry shape for feature extraction.
func (v Validator) GBDTTelemetry() gbdt.Telemetry {
	return gbdt.Telemetry{
		BlocksProposed: v.Telemetry.BlocksProposed,
		BlocksVerified: v.Telemetry.BlocksVerified,
		RoundsActive:   v.Telemetry.RoundsActive,
		AvgLatencyUS:   v.Telemetry.AvgLatencyUS,
		SlashCount:     v.Telemetry.SlashCount,
		StakeAtomic:    v.StakeAtomic,
		AgeRounds:      v.Telemetry.AgeRounds,
	}
}
