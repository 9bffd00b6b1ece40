// Package hashtimer implements a deterministic, bounded-drift microsecond
// time oracle. A single Clock instance is the exclusive writer of its own
// drift-offset window; every other component only ever reads HashTimer
// anchors it has been handed.
package hashtimer

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ippan/dlc/codec"
)

// Bounds on the clock's drift tolerance and window size.
const (
	WindowSize    = 64
	MaxStepUS     = 5_000
	MaxDriftUS    = 2_000_000
	ToleranceUS   = 500_000
	DomainTagSize = 32
)

var (
	ErrNonMonotonic     = errors.New("hashtimer: non-monotonic timestamp")
	ErrSignatureInvalid = errors.New("hashtimer: signature invalid")
	ErrDriftOutOfBounds = errors.New("hashtimer: drift out of bounds")
	ErrWindowFull       = errors.New("hashtimer: window full")
	ErrOutOfWindow      = errors.New("hashtimer: timestamp outside round window tolerance")
)

// HashTimer is the signed microsecond temporal anchor stamped on every
// block and round.
type HashTimer struct {
	TimestampUS   int64
	Entropy       [32]byte
	DomainTag     string
	PayloadDigest [32]byte
	NodeID        [32]byte
	Signature     [64]byte
}

// canonicalView is the JSON-canonicalizable projection of a HashTimer,
// signed and verified without its own Signature field.
type canonicalView struct {
	TimestampUS   int64  `json:"timestamp_us"`
	Entropy       []byte `json:"entropy"`
	DomainTag     string `json:"domain_tag"`
	PayloadDigest []byte `json:"payload_digest"`
	NodeID        []byte `json:"node_id"`
}

func (h *HashTimer) canonicalBytes() ([]byte, error) {
	return codec.Canonical(canonicalView{
		TimestampUS:   h.TimestampUS,
		Entropy:       h.Entropy[:],
		DomainTag:     h.DomainTag,
		PayloadDigest: h.PayloadDigest[:],
		NodeID:        h.NodeID[:],
	})
}

// Clock is the exclusive owner of the drift-offset window. now() is the
// monotonic source; production wires it to time.Now, tests inject a
// fake.
type Clock struct {
	mu sync.Mutex

	now func() int64

	offsetUS int64
	lastUS   int64

	window []sample
}

type sample struct {
	peerUS int64
	peerID [32]byte
}

// NewClock builds a Clock backed by the real wall clock.
func NewClock() *Clock {
	return &Clock{now: func() int64 { return time.Now().UnixMicro() }}
}

// NewClockWithSource builds a Clock backed by an injected time source,
// for deterministic tests.
func NewClockWithSource(now func() int64) *Clock {
	return &Clock{now: now}
}

// NowUS returns a strictly non-decreasing microsecond timestamp: the
// underlying clock reading plus the current bounded offset, floored at
// one microsecond past the previously returned value.
func (c *Clock) NowUS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Clock) nowLocked() int64 {
	t := c.now() + c.offsetUS
	if t <= c.lastUS {
		t = c.lastUS + 1
	}
	c.lastUS = t
	return t
}

// IngestSample adds one peer timestamp sample to the bounded sliding
// window and recomputes the offset. Samples whose drift from the local
// clock exceeds MaxDriftUS are rejected deterministically; accepted
// samples move the offset toward the window median, clamped to at most
// MaxStepUS per call.
func (c *Clock) IngestSample(peerUS int64, peerID [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	localUS := c.now()
	drift := peerUS - localUS
	if drift >= MaxDriftUS || drift <= -MaxDriftUS {
		return ErrDriftOutOfBounds
	}

	if len(c.window) >= WindowSize {
		c.window = c.window[1:]
	}
	c.window = append(c.window, sample{peerUS: peerUS, peerID: peerID})

	median := c.medianOffset(localUS)
	delta := median - c.offsetUS
	if delta > MaxStepUS {
		delta = MaxStepUS
	} else if delta < -MaxStepUS {
		delta = -MaxStepUS
	}
	c.offsetUS += delta
	return nil
}

// medianOffset computes the median of (peerUS - localUS) across the
// current window, i.e. the offset that would align the local clock with
// the window's peer population.
func (c *Clock) medianOffset(localUS int64) int64 {
	offsets := make([]int64, len(c.window))
	for i, s := range c.window {
		offsets[i] = s.peerUS - localUS
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	n := len(offsets)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return offsets[n/2]
	}
	return (offsets[n/2-1] + offsets[n/2]) / 2
}

// Derive builds a signed anchor at NowUS().
func Derive(c *Clock, domain string, payloadDigest [32]byte, nonce uint64, nodeID [32]byte, priv ed25519.PrivateKey) (HashTimer, error) {
	now := c.NowUS()

	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], nonce)
	var nowBytes [8]byte
	binary.LittleEndian.PutUint64(nowBytes[:], uint64(now))

	entropyInput := append([]byte(domain), payloadDigest[:]...)
	entropyInput = append(entropyInput, nonceBytes[:]...)
	entropyInput = append(entropyInput, nowBytes[:]...)
	entropy := codec.HashBytes(entropyInput)

	ht := HashTimer{
		TimestampUS:   now,
		Entropy:       entropy,
		DomainTag:     domain,
		PayloadDigest: payloadDigest,
		NodeID:        nodeID,
	}

	canonical, err := ht.canonicalBytes()
	if err != nil {
		return HashTimer{}, err
	}
	sig := codec.Sign(priv, canonical)
	copy(ht.Signature[:], sig)
	return ht, nil
}

// Verify recomputes canonical bytes minus the signature and checks the
// Ed25519 signature plus that timestamp_us falls within
// [windowOpenUS, windowCloseUS) extended by +/-ToleranceUS.
func Verify(ht HashTimer, pub ed25519.PublicKey, windowOpenUS, windowCloseUS int64) error {
	canonical, err := ht.canonicalBytes()
	if err != nil {
		return err
	}
	if !codec.Verify(pub, canonical, ht.Signature[:]) {
		return ErrSignatureInvalid
	}
	if ht.TimestampUS < windowOpenUS-ToleranceUS || ht.TimestampUS >= windowCloseUS+ToleranceUS {
		return ErrOutOfWindow
	}
	return nil
}
