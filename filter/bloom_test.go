package filter

import (
	"fmt"
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestBloomEmpty(t *testing.T) {
	p := NewBloomPolicy(10)
	f := p.CreateFilter(nil)
	assert.False(t, p.KeyMayMatch([]byte("hello"), f))
	assert.False(t, p.KeyMayMatch([]byte("hello"), nil))
	assert.False(t, p.KeyMayMatch([]byte("hello"), []byte{0x01}))
}

func TestBloomSmall(t *testing.T) {
	p := NewBloomPolicy(10)
	f := p.CreateFilter([][]byte{[]byte("hello"), []byte("world")})
	assert.True(t, p.KeyMayMatch([]byte("hello"), f))
	assert.True(t, p.KeyMayMatch([]byte("world"), f))
	assert.False(t, p.KeyMayMatch([]byte("x"), f))
	assert.False(t, p.KeyMayMatch([]byte("foo"), f))
}

func TestBloomFalsePositiveRate(t *testing.T) {
	p := NewBloomPolicy(10)
	var keys [][]byte
	for i := 0; i < 10000; i++ {
		keys = append(keys, []byte(fmt.Sprint("key", i)))
	}
	f := p.CreateFilter(keys)

	for _, k := range keys {
		assert.True(t, p.KeyMayMatch(k, f), "missing %s", k)
	}

	hits := 0
	for i := 0; i < 10000; i++ {
		if p.KeyMayMatch([]byte(fmt.Sprint("absent", i)), f) {
			hits++
		}
	}
	assert.Less(t, hits, 300)
}

func TestBloomUnknownEncoding(t *testing.T) {
	p := NewBloomPolicy(10)
	f := make([]byte, 9)
	f[8] = 31
	assert.True(t, p.KeyMayMatch([]byte("anything"), f))
}
