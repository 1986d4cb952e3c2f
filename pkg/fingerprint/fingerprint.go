// Package fingerprint derives deterministic, collision-resistant identifiers
// from parameter values, upstream fingerprints and service identity. Every
// cache key in the pipeline is produced here; nothing else in the repository
// is allowed to construct a Fingerprint by hand.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
)

// Size is the fingerprint width in bytes.
const Size = sha256.Size

// Fingerprint is an opaque, comparable identifier. The zero value means
// "no fingerprint" and is never a valid derivation result.
type Fingerprint [Size]byte

// Zero is the absent fingerprint.
var Zero Fingerprint

// IsZero reports whether f is the absent fingerprint.
func (f Fingerprint) IsZero() bool { return f == Zero }

// String returns the full hex encoding.
func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// Short returns a 12-character prefix for logs and filenames.
func (f Fingerprint) Short() string { return f.String()[:12] }

// Parse decodes a full hex encoding produced by String.
func Parse(s string) (Fingerprint, error) {
	var f Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse fingerprint: %w", err)
	}
	if len(b) != Size {
		return Zero, fmt.Errorf("parse fingerprint: want %d bytes, got %d", Size, len(b))
	}
	copy(f[:], b)
	return f, nil
}

// Type tags framing each value written to a Hasher. Tagged, length-prefixed
// writes keep distinct input sequences from colliding on concatenation.
const (
	tagString byte = iota + 1
	tagFloat
	tagInt
	tagUint
	tagBool
	tagFingerprint
	tagFloats
)

// Hasher accumulates typed values into a fingerprint. Values must be written
// in a stable order; callers iterate declared dependency sets, never Go maps.
type Hasher struct {
	h hash.Hash
}

// New starts a hasher seeded with an identity tag sequence (typically stage,
// service and version strings).
func New(identity ...string) *Hasher {
	h := &Hasher{h: sha256.New()}
	for _, id := range identity {
		h.String(id)
	}
	return h
}

func (h *Hasher) write(tag byte, b []byte) {
	var hdr [9]byte
	hdr[0] = tag
	binary.LittleEndian.PutUint64(hdr[1:], uint64(len(b)))
	_, _ = h.h.Write(hdr[:])
	_, _ = h.h.Write(b)
}

// String writes a string value.
func (h *Hasher) String(s string) *Hasher {
	h.write(tagString, []byte(s))
	return h
}

// Float64 writes a float by its canonical bit representation. All NaN
// payloads collapse to a single pattern so that NaN == NaN for cache
// identity purposes; +0 and -0 remain distinct bit patterns.
func (h *Hasher) Float64(v float64) *Hasher {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], canonicalBits(v))
	h.write(tagFloat, b[:])
	return h
}

// Float64s writes a slice of floats as a single framed value.
func (h *Hasher) Float64s(vs []float64) *Hasher {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[8*i:], canonicalBits(v))
	}
	h.write(tagFloats, b)
	return h
}

// Int64 writes a signed integer value.
func (h *Hasher) Int64(v int64) *Hasher {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	h.write(tagInt, b[:])
	return h
}

// Uint64 writes an unsigned integer value.
func (h *Hasher) Uint64(v uint64) *Hasher {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	h.write(tagUint, b[:])
	return h
}

// Bool writes a boolean value.
func (h *Hasher) Bool(v bool) *Hasher {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	h.write(tagBool, b)
	return h
}

// Fingerprint writes an upstream fingerprint.
func (h *Hasher) Fingerprint(f Fingerprint) *Hasher {
	h.write(tagFingerprint, f[:])
	return h
}

// Sum finalizes the accumulated state into a Fingerprint.
func (h *Hasher) Sum() Fingerprint {
	var f Fingerprint
	copy(f[:], h.h.Sum(nil))
	return f
}

// Derive combines one or more fingerprints into a new one. Used to attach a
// result fingerprint to a MapSet from (input fingerprint, transform
// fingerprint) without re-hashing contents.
func Derive(parts ...Fingerprint) Fingerprint {
	h := New("derive")
	for _, p := range parts {
		h.Fingerprint(p)
	}
	return h.Sum()
}

func canonicalBits(v float64) uint64 {
	if math.IsNaN(v) {
		return math.Float64bits(math.NaN())
	}
	return math.Float64bits(v)
}
