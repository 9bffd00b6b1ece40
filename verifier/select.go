// Package verifier selects the primary proposer and K shadow verifiers
// for a round: a deterministic weighted draw without replacement, seeded
// by BLAKE3(round_id) so every honest node reproduces the same outcome
// without any message exchange.
package verifier

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/ippan/dlc/codec"
	"github.com/ippan/dlc/gbdt"
	"github.com/ippan/dlc/validator"
)

var (
	ErrEmptyValidatorSet = errors.New("verifier: empty validator set")
	ErrKTooLarge         = errors.New("verifier: shadow count exceeds eligible validators")
)

// Weighted is the sampling contract this package implements: Initialize
// pins the population and its weights, Sample draws `size` distinct
// indices without replacement.
type Weighted interface {
	Initialize(weights []uint64) error
	Sample(size int) ([]int, bool)
}

// Selection is the outcome of one round's draw.
type Selection struct {
	Primary validator.Validator
	Shadows []validator.Validator
}

// deterministicStream is a simple splittable PRNG driven by repeated
// BLAKE3 hashing of a running counter appended to the round seed. It
// never touches math/rand or crypto/rand: every node must derive the
// identical stream from the identical seed.
type deterministicStream struct {
	seed    [32]byte
	counter uint64
}

func newDeterministicStream(seed [32]byte) *deterministicStream {
	return &deterministicStream{seed: seed}
}

func (s *deterministicStream) Uint64() uint64 {
	var buf [40]byte
	copy(buf[:32], s.seed[:])
	binary.LittleEndian.PutUint64(buf[32:], s.counter)
	s.counter++
	digest := codec.HashBytes(buf[:])
	return binary.LittleEndian.Uint64(digest[:8])
}

// weightedSampler draws without replacement using repeated weighted
// selection over a shrinking population, matching the
// Initialize/Sample(size) shape this package's sampling contract
// requires.
type weightedSampler struct {
	weights []uint64
	stream  *deterministicStream
}

func newWeightedSampler(stream *deterministicStream) *weightedSampler {
	return &weightedSampler{stream: stream}
}

func (w *weightedSampler) Initialize(weights []uint64) error {
	w.weights = append([]uint64(nil), weights...)
	return nil
}

func (w *weightedSampler) Sample(size int) ([]int, bool) {
	n := len(w.weights)
	if size > n {
		return nil, false
	}
	remaining := append([]uint64(nil), w.weights...)
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}

	out := make([]int, 0, size)
	for len(out) < size {
		var total uint64
		for _, wt := range remaining {
			total += wt
		}
		if total == 0 {
			// All remaining weights are zero: fall back to the lowest
			// remaining index for a fully deterministic tie-break.
			out = append(out, indices[0])
			remaining = remaining[1:]
			indices = indices[1:]
			continue
		}
		r := w.stream.Uint64() % total
		var acc uint64
		pick := 0
		for i, wt := range remaining {
			acc += wt
			if r < acc {
				pick = i
				break
			}
		}
		out = append(out, indices[pick])
		remaining = append(remaining[:pick], remaining[pick+1:]...)
		indices = append(indices[:pick], indices[pick+1:]...)
	}
	return out, true
}

// Select draws the primary and K shadow verifiers for a round from the
// given active-validator snapshot. Weights are each validator's D-GBDT
// reputation score, never zero-clamped away from the population (a
// validator with score 0 simply has a vanishing chance of selection,
// handled by the sampler's zero-weight fallback).
func Select(snapshot validator.Snapshot, roundID [32]byte, shadowCount int) (Selection, error) {
	if len(snapshot.Active) == 0 {
		return Selection{}, ErrEmptyValidatorSet
	}
	if shadowCount+1 > len(snapshot.Active) {
		return Selection{}, ErrKTooLarge
	}

	// Canonical enumeration order: snapshot.Active is already sorted by
	// validator ID ascending (validator.Registry.IterActive).
	weights := make([]uint64, len(snapshot.Active))
	for i, v := range snapshot.Active {
		score := v.ReputationScaled
		if score < 0 {
			score = 0
		}
		weights[i] = uint64(score)
	}

	seed := codec.HashBytes(roundID[:])
	stream := newDeterministicStream(seed)
	sampler := newWeightedSampler(stream)
	if err := sampler.Initialize(weights); err != nil {
		return Selection{}, err
	}

	picked, ok := sampler.Sample(shadowCount + 1)
	if !ok {
		return Selection{}, ErrKTooLarge
	}

	sel := Selection{
		Primary: snapshot.Active[picked[0]],
		Shadows: make([]validator.Validator, 0, shadowCount),
	}
	for _, idx := range picked[1:] {
		sel.Shadows = append(sel.Shadows, snapshot.Active[idx])
	}
	return sel, nil
}

// RecomputeReputations scores every validator in a snapshot against a
// verified D-GBDT model and writes the result back through the
// registry, so the next Select call draws on fresh weights. The
// normalization constants come from model.FeatureConfig, never from a
// side channel, so two nodes sharing a model_hash always score
// identically.
func RecomputeReputations(reg *validator.Registry, snapshot validator.Snapshot, model *gbdt.Model) error {
	for _, v := range snapshot.Active {
		features := gbdt.ExtractFeatures(v.GBDTTelemetry(), model.FeatureConfig)
		score := gbdt.Score(model, features)
		if err := reg.SetReputation(v.ID, score); err != nil {
			return err
		}
	}
	return nil
}

// sortedIDs is exposed for tests that need to assert selection is
// reproducible given a fixed snapshot ordering.
func sortedIDs(vs []validator.Validator) [][32]byte {
	ids := make([][32]byte, len(vs))
	for i, v := range vs {
		ids[i] = v.ID
	}
	sort.Slice(ids, func(i, j int) bool {
		for k := range ids[i] {
			if ids[i][k] != ids[j][k] {
				return ids[i][k] < ids[j][k]
			}
		}
		return false
	})
	return ids
}
