// Package table encodes block handles and table footers, and resolves and reads
// table blocks that live in local or remote registered memory.
//
// Table layout:
//
//	+---------+-----+---------+--------+------------+-------+--------+
//	| block 1 | ... | block n | filter | meta-index | index | footer |
//	+---------+-----+---------+--------+------------+-------+--------+
//
// Every stored block is followed by a 5 byte trailer:
//
//	+--------------+-------------------------------------+
//	| type tag (1) | checksum of payload and tag (4, LE) |
//	+--------------+-------------------------------------+
//
// Footer (48 bytes):
//
//	+-------------------+--------------+--------------------+-----------+
//	| meta-index handle | index handle | zero padding to 40 | magic (8) |
//	+-------------------+--------------+--------------------+-----------+
package table

import (
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"rdmatable/crc"
	"rdmatable/rdma"
)

const (
	magic = "\x57\xfb\x80\x8b\x24\x75\x47\xdb"

	// TableMagicNumber is the little-endian value of the footer magic.
	TableMagicNumber uint64 = 0xdb4775248b80fb57

	BlockTrailerLen   = 5
	MaxBlockHandleLen = 2 * maxVarintLen64
	FooterLen         = 2*MaxBlockHandleLen + 8

	TableMaxBlockSize = 4096

	maxVarintLen64 = 10
)

var (
	// ErrCorruption marks malformed encodings: truncated handles, bad magic,
	// checksum mismatches, unknown block types.
	ErrCorruption = errors.New("table: corruption")

	// ErrChecksumMismatch is additionally marked on trailer checksum failures.
	ErrChecksumMismatch = errors.New("table: checksum mismatch")

	// ErrRegionNotFound is returned when no registered region covers a block.
	ErrRegionNotFound = rdma.ErrRegionNotFound

	// ErrIO marks failures of the local copy or the remote read.
	ErrIO = rdma.ErrIO

	// ErrNotFound is returned by Table.Get for absent keys.
	ErrNotFound = errors.New("table: not found")
)

func corruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// CompressionType is the type tag of a stored block.
type CompressionType byte

const (
	NoCompression CompressionType = iota
	SnappyCompression
	ZstdCompression
	S2Compression
	unknownCompression
)

func (c CompressionType) valid() bool {
	return c < unknownCompression
}

func (c CompressionType) String() string {
	switch c {
	case NoCompression:
		return "none"
	case SnappyCompression:
		return "snappy"
	case ZstdCompression:
		return "zstd"
	case S2Compression:
		return "s2"
	}
	return "unknown"
}

// ChecksumType selects the function behind the trailer checksum.
type ChecksumType byte

const (
	// ChecksumCRC32c is the masked CRC-32C LevelDB tables use.
	ChecksumCRC32c ChecksumType = iota
	// ChecksumXXHash64 keeps the low 32 bits of xxhash64.
	ChecksumXXHash64
)

func (t ChecksumType) checksum(b []byte) uint32 {
	if t == ChecksumXXHash64 {
		return uint32(xxhash.Sum64(b))
	}
	return crc.New(b).Value()
}

// blockChecksum is checksum(payload || tag) without joining the two.
func (t ChecksumType) blockChecksum(payload, tag []byte) uint32 {
	if t == ChecksumXXHash64 {
		d := xxhash.New()
		d.Write(payload)
		d.Write(tag)
		return uint32(d.Sum64())
	}
	return crc.New(payload).Update(tag).Value()
}

// FilterPolicy builds and probes filter blocks.
type FilterPolicy interface {
	Name() string
	CreateFilter(keys [][]byte) []byte
	KeyMayMatch(key, filter []byte) bool
}
