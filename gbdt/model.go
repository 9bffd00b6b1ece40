// Package gbdt implements the integer-only gradient-boosted decision
// tree ensemble used to score validator fairness. No value here is ever
// a float: thresholds, leaves, and the running accumulator are all
// int64, and the arena-of-indices shape follows the rest of this
// module's DAG-style "no owning pointers" convention.
package gbdt

import (
	"encoding/json"
	"errors"

	"github.com/holiman/uint256"

	"github.com/ippan/dlc/codec"
	"github.com/ippan/dlc/fixedpoint"
)

// Complexity bounds enforced on every loaded model.
const (
	MaxTrees     = 100
	MaxNodes     = 10_000
	MaxDepth     = 20
	FeatureCount = 6
)

var (
	ErrHashMismatch    = errors.New("gbdt: model hash mismatch")
	ErrMalformed       = errors.New("gbdt: malformed model")
	ErrBoundsExceeded  = errors.New("gbdt: model complexity bounds exceeded")
)

// Node is one entry in a tree's flat node array. Internal nodes have
// Left/Right >= 0; leaves are marked by Left == Right == -1 and carry a
// LeafValue.
type Node struct {
	FeatureIdx int   `json:"feature_idx"`
	Threshold  int64 `json:"threshold_i64"`
	Left       int   `json:"left_idx"`
	Right      int   `json:"right_idx"`
	LeafValue  int64 `json:"leaf_value_i64"`
}

func (n Node) isLeaf() bool { return n.Left < 0 && n.Right < 0 }

// Tree is one boosted tree: a flat arena of Nodes, indexed from the
// root at 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Model is the canonical, hash-pinned D-GBDT ensemble. FeatureConfig is
// part of the model's canonical form: two nodes running the same trees
// under different normalization constants would score differently and
// silently disagree on verifier selection, so model_hash must pin both.
type Model struct {
	Trees         []Tree              `json:"trees"`
	Bias          int64               `json:"bias"`
	Scale         int64               `json:"scale"`
	FeatureConfig NormalizationConfig `json:"feature_config"`
}

// canonicalModel is the wire/hash projection — model_hash is derived
// from this struct's canonical JSON, not stored inside it.
type canonicalModel struct {
	Trees         []Tree              `json:"trees"`
	Bias          int64               `json:"bias"`
	Scale         int64               `json:"scale"`
	FeatureConfig NormalizationConfig `json:"feature_config"`
}

// Hash returns BLAKE3(canonical-JSON(model)), the model's pinned identity.
func (m *Model) Hash() (codec.Hash256, error) {
	return codec.Hash(canonicalModel{
		Trees:         m.Trees,
		Bias:          m.Bias,
		Scale:         m.Scale,
		FeatureConfig: m.FeatureConfig,
	})
}

// LoadAndVerify parses canonical JSON bytes into a Model, checks that its
// BLAKE3 hash matches expectedHash, and validates its complexity and
// bounds invariants. A model failing this check is unusable: the caller
// MUST treat the node as unable to participate in rounds, never fall
// back to an unverified model.
func LoadAndVerify(data []byte, expectedHash codec.Hash256) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ErrMalformed
	}

	got, err := m.Hash()
	if err != nil {
		return nil, ErrMalformed
	}
	if got != expectedHash {
		return nil, ErrHashMismatch
	}

	if err := m.validateBounds(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Model) validateBounds() error {
	if len(m.Trees) > MaxTrees {
		return ErrBoundsExceeded
	}
	totalNodes := 0
	for _, tree := range m.Trees {
		totalNodes += len(tree.Nodes)
		if depth := treeDepth(tree, 0, 0); depth > MaxDepth {
			return ErrBoundsExceeded
		}
		for _, n := range tree.Nodes {
			if !n.isLeaf() {
				if n.FeatureIdx < 0 || n.FeatureIdx >= FeatureCount {
					return ErrBoundsExceeded
				}
				if n.Threshold < 0 || n.Threshold > int64(^uint32(0)>>1) {
					return ErrBoundsExceeded
				}
				if n.Left < 0 || n.Left >= len(tree.Nodes) || n.Right < 0 || n.Right >= len(tree.Nodes) {
					return ErrMalformed
				}
			} else {
				if n.LeafValue < 0 || n.LeafValue > int64(^uint32(0)>>1) {
					return ErrBoundsExceeded
				}
			}
		}
	}
	if totalNodes > MaxNodes {
		return ErrBoundsExceeded
	}
	return nil
}

func treeDepth(t Tree, idx, depth int) int {
	if idx < 0 || idx >= len(t.Nodes) {
		return depth
	}
	n := t.Nodes[idx]
	if n.isLeaf() {
		return depth
	}
	l := treeDepth(t, n.Left, depth+1)
	r := treeDepth(t, n.Right, depth+1)
	if l > r {
		return l
	}
	return r
}

// Features is the F=6 normalized feature vector extracted from a
// validator's telemetry, each value saturating to [0, Scale].
type Features [FeatureCount]int64

const (
	FeatureProposalRate = iota
	FeatureVerificationRate
	FeatureLatencyScore
	FeatureSlashPenalty
	FeatureStakeWeight
	FeatureLongevity
)

// NormalizationConfig carries the deployment-pinned normalization
// constants, fixed as integers at genesis and never changed afterward.
// It is folded into Model so model_hash pins it alongside the trees —
// two nodes cannot share a model_hash while scoring under different
// normalization constants.
type NormalizationConfig struct {
	MaxLatencyUS int64 `json:"max_latency_us"`
	SlashWeight  int64 `json:"slash_weight"`
	StakeUnit    int64 `json:"stake_unit"`
	MaxAgeRounds int64 `json:"max_age_rounds"`
}

// Telemetry is the subset of validator.Telemetry needed for feature
// extraction, duplicated here (rather than imported) to keep gbdt free
// of a dependency on the validator package's full registry machinery.
type Telemetry struct {
	BlocksProposed uint64
	BlocksVerified uint64
	RoundsActive   uint64
	AvgLatencyUS   uint64
	SlashCount     uint64
	StakeAtomic    *uint256.Int
	AgeRounds      uint64
}

// ExtractFeatures computes the canonical F-vector. Every formula is a
// saturating integer form — no division result is ever allowed to
// exceed Scale.
func ExtractFeatures(t Telemetry, cfg NormalizationConfig) Features {
	roundsActive := maxU64(1, t.RoundsActive)

	proposalRate := minI64(fixedpoint.Scale, int64(t.BlocksProposed)*fixedpoint.Scale/int64(roundsActive))
	verificationRate := minI64(fixedpoint.Scale, int64(t.BlocksVerified)*fixedpoint.Scale/int64(roundsActive))

	latencyUsed := minI64(fixedpoint.Scale, int64(t.AvgLatencyUS)*fixedpoint.Scale/maxI64(1, cfg.MaxLatencyUS))
	latencyScore := fixedpoint.Scale - latencyUsed

	slashPenalty := maxI64(0, fixedpoint.Scale-int64(t.SlashCount)*maxI64(0, cfg.SlashWeight))

	var stakeWeight int64
	if t.StakeAtomic != nil && cfg.StakeUnit > 0 {
		ratio := new(uint256.Int).Div(t.StakeAtomic, uint256.NewInt(uint64(cfg.StakeUnit)))
		if ratio.IsUint64() {
			stakeWeight = minI64(fixedpoint.Scale, int64(ratio.Uint64()))
		} else {
			stakeWeight = fixedpoint.Scale
		}
	}

	longevity := minI64(fixedpoint.Scale, int64(t.AgeRounds)*fixedpoint.Scale/maxI64(1, cfg.MaxAgeRounds))

	return Features{
		FeatureProposalRate:     proposalRate,
		FeatureVerificationRate: verificationRate,
		FeatureLatencyScore:     latencyScore,
		FeatureSlashPenalty:     slashPenalty,
		FeatureStakeWeight:      stakeWeight,
		FeatureLongevity:        longevity,
	}
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// Score evaluates the ensemble: sum = bias; for each tree, sum =
// saturating_add(sum, eval_tree(tree, features)); result is clamped to
// [0, model.Scale]. Deterministic: no floats, no non-associative
// operation, fixed feature order — identical on every architecture.
func Score(m *Model, features Features) int64 {
	sum := m.Bias
	for _, tree := range m.Trees {
		sum = fixedpoint.SaturatingAdd(sum, evalTree(tree, features))
	}
	return fixedpoint.Clamp(sum, 0, m.Scale)
}

// evalTree walks from the root (index 0); at each internal node the tie
// rule is normative: features[feature_idx] <= threshold goes LEFT. This
// is the one place a differing implementation would silently reorder
// verifier selection across the network, so it must never change.
func evalTree(t Tree, features Features) int64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	idx := 0
	for {
		n := t.Nodes[idx]
		if n.isLeaf() {
			return n.LeafValue
		}
		if features[n.FeatureIdx] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}
