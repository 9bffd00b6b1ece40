// Package dag stores multi-parent blocks, tracks tips, and runs
// deterministic fork-choice and finality over them.
package dag

import (
	"crypto/ed25519"
	"errors"
	"sort"
	"sync"

	"github.com/ippan/dlc/codec"
	"github.com/ippan/dlc/hashtimer"
)

// BlockID identifies a block by its canonical hash.
type BlockID [32]byte

// Status is a block's admission state.
type Status int

const (
	StatusPending Status = iota
	StatusAdmitted
	StatusFinalized
	StatusOrphaned
)

var (
	ErrUnknownParent    = errors.New("dag: unknown parent block")
	ErrAlreadyPresent   = errors.New("dag: block already present")
	ErrNotFound         = errors.New("dag: block not found")
	ErrNoParents        = errors.New("dag: block must reference at least one parent")
	ErrSelfParent       = errors.New("dag: block cannot be its own parent")
	ErrParentNotLower   = errors.New("dag: parent height must be lower than block height")
	ErrUnknownCreator   = errors.New("dag: creator public key not found")
	ErrSignatureInvalid = errors.New("dag: creator signature invalid")
	ErrHashTimerInvalid = errors.New("dag: hashtimer invalid for this block")
	ErrRoundMismatch    = errors.New("dag: block round does not match its hashtimer window")
	ErrIDMismatch       = errors.New("dag: block id does not match its canonical header hash")
)

// Block is one multi-parent DAG entry. The creator's signature and the
// ID cover only the fields in canonicalHeader; of the HashTimer, only its
// timestamp is included. Weight is the D-GBDT-weighted reputation the
// local node attaches at admission time, purely a local fork-choice
// tie-break input, never part of the wire header.
type Block struct {
	ID          BlockID
	Creator     [32]byte
	Round       uint64
	Parents     []BlockID
	HashTimer   hashtimer.HashTimer
	TxRoot      [32]byte
	ReceiptRoot [32]byte
	StateRoot   [32]byte
	Height      uint64
	Signature   [64]byte
	Weight      int64
	Status      Status
}

// canonicalHeader is what the creator signs and what Block.ID hashes —
// the Signature and local-only Weight fields are excluded.
type canonicalHeader struct {
	Creator     [32]byte   `json:"creator"`
	Round       uint64     `json:"round"`
	Parents     [][32]byte `json:"parents"`
	HashTimerUS int64      `json:"hashtimer_us"`
	TxRoot      [32]byte   `json:"tx_root"`
	ReceiptRoot [32]byte   `json:"receipt_root"`
	StateRoot   [32]byte   `json:"state_root"`
	Height      uint64     `json:"height"`
}

// CanonicalBytes renders the block's signable header: every field the
// creator's signature and the block ID hash cover, and nothing else.
func (b Block) CanonicalBytes() ([]byte, error) {
	parents := make([][32]byte, len(b.Parents))
	for i, p := range b.Parents {
		parents[i] = p
	}
	return codec.Canonical(canonicalHeader{
		Creator:     b.Creator,
		Round:       b.Round,
		Parents:     parents,
		HashTimerUS: b.HashTimer.TimestampUS,
		TxRoot:      b.TxRoot,
		ReceiptRoot: b.ReceiptRoot,
		StateRoot:   b.StateRoot,
		Height:      b.Height,
	})
}

// PubKeyLookup resolves a creator validator id to the Ed25519 public key
// AddBlock verifies its signature and HashTimer against. The DAG holds
// no validator identity of its own; this is its one seam into
// ValidatorRegistry.
type PubKeyLookup func(creator [32]byte) (ed25519.PublicKey, bool)

// entry is the internally owned, mutable record; Block values returned
// to callers are always copies.
type entry struct {
	block  Block
	status Status
}

// DAG is the exclusive owner of the block set, tip set, and finality
// frontier. All mutation happens under its lock.
type DAG struct {
	mu       sync.RWMutex
	blocks   map[BlockID]*entry
	tips     map[BlockID]struct{}
	finalTip BlockID
	hasFinal bool
}

// New creates an empty DAG.
func New() *DAG {
	return &DAG{
		blocks: make(map[BlockID]*entry),
		tips:   make(map[BlockID]struct{}),
	}
}

// AddBlock admits an externally-received block after verifying every
// invariant insertion requires: parents already present with strictly
// lower height, no self-parent, block.round matching the HashTimer's
// round window, a valid creator signature over the canonical header,
// and a valid HashTimer anchor. roundDurationUS is the fixed round
// width used to derive the window a block's declared round implies.
func (d *DAG) AddBlock(b Block, roundDurationUS int64, lookup PubKeyLookup) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.blocks[b.ID]; exists {
		return ErrAlreadyPresent
	}
	if len(b.Parents) == 0 {
		return ErrNoParents
	}
	for _, p := range b.Parents {
		if p == b.ID {
			return ErrSelfParent
		}
		parent, ok := d.blocks[p]
		if !ok {
			return ErrUnknownParent
		}
		if parent.block.Height >= b.Height {
			return ErrParentNotLower
		}
	}

	if b.Round != uint64(b.HashTimer.TimestampUS/roundDurationUS) {
		return ErrRoundMismatch
	}

	pub, ok := lookup(b.Creator)
	if !ok {
		return ErrUnknownCreator
	}

	canonical, err := b.CanonicalBytes()
	if err != nil {
		return err
	}
	if BlockID(codec.HashBytes(canonical)) != b.ID {
		return ErrIDMismatch
	}
	if !codec.Verify(pub, canonical, b.Signature[:]) {
		return ErrSignatureInvalid
	}

	windowOpenUS := int64(b.Round) * roundDurationUS
	windowCloseUS := windowOpenUS + roundDurationUS
	if err := hashtimer.Verify(b.HashTimer, pub, windowOpenUS, windowCloseUS); err != nil {
		return ErrHashTimerInvalid
	}

	b.Status = StatusAdmitted
	d.blocks[b.ID] = &entry{block: b, status: StatusAdmitted}
	d.tips[b.ID] = struct{}{}
	for _, p := range b.Parents {
		delete(d.tips, p)
	}
	return nil
}

// Genesis seeds the DAG with a parentless root block. Must be called
// exactly once before any AddBlock call; genesis bypasses every
// AddBlock invariant since it has no creator, parents, or round window.
func (d *DAG) Genesis(b Block) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b.Status = StatusAdmitted
	d.blocks[b.ID] = &entry{block: b, status: StatusAdmitted}
	d.tips[b.ID] = struct{}{}
}

// GetBlock retrieves a block by ID.
func (d *DAG) GetBlock(id BlockID) (Block, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.blocks[id]
	if !ok {
		return Block{}, false
	}
	return e.block, true
}

// Tips returns the current frontier, sorted by ID ascending for
// deterministic enumeration.
func (d *DAG) Tips() []BlockID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]BlockID, 0, len(d.tips))
	for id := range d.tips {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return lessBlockID(out[i], out[j]) })
	return out
}

// Preferred runs fork-choice over the current tips: height descending,
// then HashTimer ascending, then weight descending, then ID ascending.
// This order is normative — any implementation disagreeing on a single
// tie-break produces a different canonical chain.
func (d *DAG) Preferred() (BlockID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var best *Block
	for id := range d.tips {
		e := d.blocks[id]
		if best == nil || preferredOver(e.block, *best) {
			b := e.block
			best = &b
		}
	}
	if best == nil {
		return BlockID{}, false
	}
	return best.ID, true
}

func preferredOver(a, b Block) bool {
	if a.Height != b.Height {
		return a.Height > b.Height
	}
	if a.HashTimer.TimestampUS != b.HashTimer.TimestampUS {
		return a.HashTimer.TimestampUS < b.HashTimer.TimestampUS
	}
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	return lessBlockID(a.ID, b.ID)
}

func lessBlockID(a, b BlockID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// FinalizeUpTo walks backward from id through Parents[0] (the canonical
// first parent), marking every block from the current finality frontier
// up to and including id as Finalized. Blocks on competing branches that
// are never reached by this walk are left for OrphanBelow to mark.
func (d *DAG) FinalizeUpTo(id BlockID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	target, ok := d.blocks[id]
	if !ok {
		return ErrNotFound
	}

	chain := []BlockID{id}
	cur := target.block
	for len(cur.Parents) > 0 {
		parentID := cur.Parents[0]
		parent, ok := d.blocks[parentID]
		if !ok {
			break
		}
		if parent.status == StatusFinalized {
			break
		}
		chain = append(chain, parentID)
		cur = parent.block
	}

	for _, bid := range chain {
		e := d.blocks[bid]
		e.status = StatusFinalized
		e.block.Status = StatusFinalized
	}
	d.finalTip = id
	d.hasFinal = true
	return nil
}

// OrphanBelow marks every admitted, non-finalized block at or below
// height h that was not finalized as Orphaned — the losing side of a
// resolved fork.
func (d *DAG) OrphanBelow(h uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.blocks {
		if e.status == StatusAdmitted && e.block.Height <= h {
			e.status = StatusOrphaned
			e.block.Status = StatusOrphaned
		}
	}
}

// FinalizedTip returns the most recently finalized block ID, if any.
func (d *DAG) FinalizedTip() (BlockID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.finalTip, d.hasFinal
}
