package table

import (
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"math"
	"testing"
)

func TestBlockHandleRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<32 - 1, 1 << 32, 1<<56 + 3, math.MaxUint64 - 1, math.MaxUint64}
	buf := make([]byte, MaxBlockHandleLen)
	for _, off := range values {
		for _, size := range values {
			h := BlockHandle{Offset: off, Size: size}
			n := h.EncodeTo(buf)
			assert.LessOrEqual(t, n, MaxBlockHandleLen)
			assert.Equal(t, buf[:n], h.AppendTo(nil))

			got, m, err := DecodeBlockHandle(buf[:n])
			assert.Nil(t, err)
			assert.Equal(t, n, m)
			assert.Equal(t, h, got)
		}
	}
}

func TestBlockHandleSentinel(t *testing.T) {
	h := NewBlockHandle()
	assert.False(t, h.Valid())
	assert.True(t, BlockHandle{}.Valid())

	enc := h.AppendTo(nil)
	assert.Len(t, enc, MaxBlockHandleLen)
	got, _, err := DecodeBlockHandle(enc)
	assert.Nil(t, err)
	assert.False(t, got.Valid())
}

func TestDecodeBlockHandleTruncated(t *testing.T) {
	enc := BlockHandle{Offset: 300, Size: 1 << 20}.AppendTo(nil)
	for i := 0; i < len(enc); i++ {
		_, _, err := DecodeBlockHandle(enc[:i])
		assert.True(t, errors.Is(err, ErrCorruption), "prefix %d", i)
	}

	// an 11 byte varint overflows
	over := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01, 0x00}
	_, _, err := DecodeBlockHandle(over)
	assert.True(t, errors.Is(err, ErrCorruption))
}

func TestFooterRoundTrip(t *testing.T) {
	handles := []BlockHandle{
		{},
		{Offset: 120, Size: 30},
		{Offset: 1 << 40, Size: 1 << 33},
		InvalidBlockHandle,
	}
	for _, meta := range handles {
		for _, index := range handles {
			f := Footer{MetaIndex: meta, Index: index}
			enc := f.Encode()
			assert.Len(t, enc, FooterLen)
			assert.Equal(t, magic, string(enc[FooterLen-8:]))

			got, err := DecodeFooter(enc)
			assert.Nil(t, err)
			assert.Equal(t, f, got)
		}
	}
}

func TestFooterScenario(t *testing.T) {
	f := Footer{
		MetaIndex: BlockHandle{Offset: 120, Size: 30},
		Index:     BlockHandle{Offset: 150, Size: 60},
	}
	enc := f.Encode()
	assert.Equal(t, 48, len(enc))
	assert.Equal(t, []byte{120, 30, 150, 1, 60}, enc[:5])
	for _, b := range enc[5:40] {
		assert.Equal(t, byte(0), b)
	}

	got, err := DecodeFooter(enc)
	assert.Nil(t, err)
	assert.Equal(t, BlockHandle{Offset: 120, Size: 30}, got.MetaIndex)
	assert.Equal(t, BlockHandle{Offset: 150, Size: 60}, got.Index)
}

func TestFooterMagicLittleEndian(t *testing.T) {
	enc := Footer{}.Encode()
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(enc[40+i])
	}
	assert.Equal(t, TableMagicNumber, v)
}

func TestFooterUsesTail(t *testing.T) {
	f := Footer{MetaIndex: BlockHandle{Offset: 1, Size: 2}, Index: BlockHandle{Offset: 3, Size: 4}}
	file := append([]byte("leading table bytes"), f.Encode()...)

	got, err := DecodeFooter(file)
	assert.Nil(t, err)
	assert.Equal(t, f, got)
}

func TestFooterBadMagic(t *testing.T) {
	enc := Footer{Index: BlockHandle{Offset: 3, Size: 4}}.Encode()
	for i := FooterLen - 8; i < FooterLen; i++ {
		bad := append([]byte(nil), enc...)
		bad[i] ^= 0x01
		_, err := DecodeFooter(bad)
		assert.True(t, errors.Is(err, ErrCorruption), "byte %d", i)
		assert.Contains(t, err.Error(), "not a table file")
	}

	_, err := DecodeFooter(enc[1:])
	assert.True(t, errors.Is(err, ErrCorruption))
}

func TestFooterBadHandles(t *testing.T) {
	enc := Footer{}.Encode()
	for i := 0; i < 2*MaxBlockHandleLen; i++ {
		enc[i] = 0xff
	}
	_, err := DecodeFooter(enc)
	assert.True(t, errors.Is(err, ErrCorruption))
}

func TestVerifyBlock(t *testing.T) {
	payload := []byte("some block payload")
	for _, ct := range []ChecksumType{ChecksumCRC32c, ChecksumXXHash64} {
		b := storedBlock(payload, SnappyCompression, ct)
		assert.Len(t, b, len(payload)+BlockTrailerLen)

		c, err := verifyBlock(b, uint64(len(payload)), ct, true)
		assert.Nil(t, err)
		assert.Equal(t, payload, c.Data)
		assert.Equal(t, SnappyCompression, c.Compression)
		assert.Equal(t, len(payload), cap(c.Data))
	}

	crcBlock := storedBlock(payload, NoCompression, ChecksumCRC32c)
	_, err := verifyBlock(crcBlock, uint64(len(payload)), ChecksumXXHash64, true)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))

	bad := storedBlock(payload, CompressionType(9), ChecksumCRC32c)
	_, err = verifyBlock(bad, uint64(len(payload)), ChecksumCRC32c, true)
	assert.True(t, errors.Is(err, ErrCorruption))
	assert.False(t, errors.Is(err, ErrChecksumMismatch))

	_, err = verifyBlock(crcBlock[:10], uint64(len(payload)), ChecksumCRC32c, true)
	assert.True(t, errors.Is(err, ErrCorruption))
}

func TestFooterLenMixesWithOffsets(t *testing.T) {
	var fileSize uint64 = 1000
	assert.Equal(t, uint64(952), fileSize-FooterLen)
	assert.Equal(t, 48, FooterLen)
	assert.Len(t, Footer{}.Encode(), FooterLen)
}
