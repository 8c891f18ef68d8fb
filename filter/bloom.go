// Package filter builds and probes the bloom filters stored in a table's
// filter block.
//
// A filter is a bit array followed by one byte holding the number of probes,
// so a reader can interpret filters built with a different bits-per-key.
package filter

import (
	"github.com/spaolacci/murmur3"
)

// BloomPolicy sizes filters at BitsPerKey bits for each key.
type BloomPolicy struct {
	BitsPerKey int
}

// NewBloomPolicy returns a policy with about a 1% false positive rate at 10
// bits per key.
func NewBloomPolicy(bitsPerKey int) *BloomPolicy {
	return &BloomPolicy{BitsPerKey: bitsPerKey}
}

// Name is stored in the meta-index as "filter.<Name>".
func (p *BloomPolicy) Name() string {
	return "rdmatable.BuiltinBloomFilter"
}

func (p *BloomPolicy) probes() int {
	// ln(2) * bits per key, clamped
	k := p.BitsPerKey * 69 / 100
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return k
}

// CreateFilter returns a filter for keys.
func (p *BloomPolicy) CreateFilter(keys [][]byte) []byte {
	bits := len(keys) * p.BitsPerKey
	if bits < 64 {
		bits = 64
	}
	nBytes := (bits + 7) / 8
	bits = nBytes * 8

	k := p.probes()
	f := make([]byte, nBytes+1)
	f[nBytes] = byte(k)
	for _, key := range keys {
		h := murmur3.Sum32(key)
		delta := h>>17 | h<<15
		for j := 0; j < k; j++ {
			pos := h % uint32(bits)
			f[pos/8] |= 1 << (pos % 8)
			h += delta
		}
	}
	return f
}

// KeyMayMatch reports whether key may have been added to filter. Filters
// shorter than two bytes match nothing; filters whose probe count is above 30
// use an encoding this policy does not know and match everything.
func (p *BloomPolicy) KeyMayMatch(key, filter []byte) bool {
	if len(filter) < 2 {
		return false
	}
	nBytes := len(filter) - 1
	bits := uint32(nBytes * 8)
	k := int(filter[nBytes])
	if k > 30 {
		// reserved for other encodings
		return true
	}
	h := murmur3.Sum32(key)
	delta := h>>17 | h<<15
	for j := 0; j < k; j++ {
		pos := h % bits
		if filter[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}
