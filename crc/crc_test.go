package crc

import (
	"github.com/stretchr/testify/assert"
	"hash/crc32"
	"testing"
)

func TestValueIsMasked(t *testing.T) {
	data := []byte("hello world")
	raw := crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli))

	v := New(data).Value()
	assert.NotEqual(t, raw, v)
	assert.Equal(t, raw, Unmask(v))
}

func TestUpdateMatchesConcatenation(t *testing.T) {
	a, b := []byte("block payload"), []byte{1}
	whole := append(append([]byte{}, a...), b...)

	assert.Equal(t, New(whole).Value(), New(a).Update(b).Value())
}

func TestKnownVector(t *testing.T) {
	// CRC-32C of 32 zero bytes is 0x8a9136aa.
	assert.Equal(t, uint32(0x8a9136aa), Unmask(New(make([]byte, 32)).Value()))
}
