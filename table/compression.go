package table

import (
	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"sync"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		// Errors are only possible with explicit options.
		zstdEncoder, _ = zstd.NewWriter(nil)
		zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdEncoder, zstdDecoder
}

// Uncompressed decodes the block according to its type tag. Uncompressed
// blocks are returned as is.
func (c BlockContents) Uncompressed() ([]byte, error) {
	var (
		b   []byte
		err error
	)
	switch c.Compression {
	case NoCompression:
		return c.Data, nil
	case SnappyCompression:
		b, err = snappy.Decode(nil, c.Data)
	case ZstdCompression:
		_, dec := zstdCodec()
		b, err = dec.DecodeAll(c.Data, nil)
	case S2Compression:
		b, err = s2.Decode(nil, c.Data)
	default:
		return nil, corruptionErrorf("table: unknown block type %d", c.Compression)
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "table: decoding %s block", c.Compression), ErrCorruption)
	}
	return b, nil
}

// compressBlock encodes block with c into dst.
func compressBlock(dst, block []byte, c CompressionType) []byte {
	switch c {
	case SnappyCompression:
		return snappy.Encode(dst[:cap(dst)], block)
	case ZstdCompression:
		enc, _ := zstdCodec()
		return enc.EncodeAll(block, dst[:0])
	case S2Compression:
		return s2.Encode(dst[:cap(dst)], block)
	}
	return block
}
