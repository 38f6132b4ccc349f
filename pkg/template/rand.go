package template

import (
	"fmt"
	"hash/fnv"
)

// rng is a mulberry32 generator. Every draw visible to expressions
// (uuid, rand, faker) consumes this one stream, so identical seeds
// replay identical sequences.
type rng struct {
	state uint32
}

// SeedFor derives the engine seed from the configured seed string and a
// request-stable identifier. Binding the request id keeps two runs of
// the same trace identical regardless of request interleaving.
func SeedFor(seed, requestID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(seed))
	h.Write([]byte{0})
	h.Write([]byte(requestID))
	return h.Sum32()
}

func newRNG(seed uint32) *rng {
	return &rng{state: seed}
}

func (r *rng) next() uint32 {
	r.state += 0x6D2B79F5
	z := r.state
	z = (z ^ (z >> 15)) * (z | 1)
	z ^= z + (z^(z>>7))*(z|61)
	return z ^ (z >> 14)
}

// float64 returns a draw in [0, 1).
func (r *rng) float64() float64 {
	return float64(r.next()) / 4294967296.0
}

// intRange returns a draw in [lo, hi] inclusive. Reversed bounds are
// swapped rather than rejected.
func (r *rng) intRange(lo, hi int) int {
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo + int(r.float64()*float64(hi-lo+1))
}

func pick(r *rng, items []string) string {
	return items[int(r.float64()*float64(len(items)))]
}

// uuidV4 formats 16 seeded bytes as an RFC 4122 version 4 identifier.
func (r *rng) uuidV4() string {
	var b [16]byte
	for i := 0; i < 16; i += 4 {
		v := r.next()
		b[i] = byte(v >> 24)
		b[i+1] = byte(v >> 16)
		b[i+2] = byte(v >> 8)
		b[i+3] = byte(v)
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
