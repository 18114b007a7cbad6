package idmap

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// Hasher spreads 64-bit identifiers across the table. The map uses the high bits of the
// result to pick a home bucket and the low bits as a tag fragment, so both ends of the
// hash must be well mixed.
type Hasher interface {
	Hash64(key uint64) uint64
}

// XXH3Hasher is the default Hasher, built on xxhash3
type XXH3Hasher struct {
	seed uint64
}

func NewXXH3Hasher(seed uint64) *XXH3Hasher {
	return &XXH3Hasher{seed: seed}
}

func (h *XXH3Hasher) Hash64(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return xxh3.HashSeed(buf[:], h.seed)
}

// HasherFunc adapts an ordinary function to the Hasher interface
type HasherFunc func(key uint64) uint64

func (f HasherFunc) Hash64(key uint64) uint64 {
	return f(key)
}
