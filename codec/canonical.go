// Package codec provides the deterministic encoding, hashing, and
// signing primitives every other component routes wire data through.
// Any reimplementation of this package MUST reproduce byte-identical
// canonical encodings across every platform and language.
package codec

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"sort"

	"lukechampine.com/blake3"
)

// ErrCanonicalEncoding is returned when an object cannot be put into
// canonical form (e.g. it contains a float, which has no canonical
// integer-only representation).
var ErrCanonicalEncoding = errors.New("codec: canonical encoding error")

// ErrSignatureInvalid is returned by Verify on any signature mismatch.
var ErrSignatureInvalid = errors.New("codec: signature invalid")

// HashSize is the BLAKE3 digest size used throughout the wire format.
const HashSize = 32

// Hash256 is a 32-byte BLAKE3 digest.
type Hash256 [HashSize]byte

// Canonical renders v as canonical JSON: object keys sorted
// lexicographically, no insignificant whitespace, and array order
// preserved as declared. A float32/float64 passed directly, or held in a
// map[string]interface{} or []interface{}, is a hard encoding error.
// Floats inside other types (struct fields, typed slices and maps) are not
// scanned: a fractional value there is still rejected, but a whole-number
// value is encoded as an integer.
func Canonical(v interface{}) ([]byte, error) {
	if containsFloat(v) {
		return nil, ErrCanonicalEncoding
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func containsFloat(v interface{}) bool {
	switch t := v.(type) {
	case float32, float64:
		return true
	case map[string]interface{}:
		for _, e := range t {
			if containsFloat(e) {
				return true
			}
		}
	case []interface{}:
		for _, e := range t {
			if containsFloat(e) {
				return true
			}
		}
	}
	return false
}

// encodeCanonical writes the sorted-key, whitespace-free JSON form of a
// value already round-tripped through encoding/json (so all objects are
// map[string]interface{}, all numbers are float64 — callers must not
// pass fractional values; integers surviving the round trip are encoded
// without a decimal point or exponent).
func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		encoded, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case float64:
		if t != float64(int64(t)) {
			return ErrCanonicalEncoding
		}
		encoded, err := json.Marshal(int64(t))
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return ErrCanonicalEncoding
	}
	return nil
}

// Hash returns BLAKE3(canonical_bytes(v)).
func Hash(v interface{}) (Hash256, error) {
	b, err := Canonical(v)
	if err != nil {
		return Hash256{}, err
	}
	return HashBytes(b), nil
}

// HashBytes returns BLAKE3(b) directly, for callers that already hold
// canonical bytes (or raw payload bytes that are hashed as-is, such as
// HashTimer's payload_digest input).
func HashBytes(b []byte) Hash256 {
	sum := blake3.Sum256(b)
	return Hash256(sum)
}

// Sign signs canonical bytes with an Ed25519 private key.
func Sign(priv ed25519.PrivateKey, canonicalBytes []byte) []byte {
	return ed25519.Sign(priv, canonicalBytes)
}

// Verify checks an Ed25519 signature over canonical bytes.
func Verify(pub ed25519.PublicKey, canonicalBytes, sig []byte) bool {
	return ed25519.Verify(pub, canonicalBytes, sig)
}
