// Package rdma models memory regions registered for one-sided reads and the
// process-wide registry that maps node identifiers to those regions.
//
// A MemoryRegion is the descriptor a node hands out when it registers a range of
// its memory: the base address in the owner's address space, the length, the
// access key a peer must present, and the file offset the range starts at. The
// owner additionally holds the bytes themselves in Data; peers hold a detached
// copy without them and go through a Transport.
package rdma

import (
	"context"
	"github.com/cockroachdb/errors"
)

var (
	// ErrRegionNotFound is returned when no registered region covers a range.
	ErrRegionNotFound = errors.New("rdma: region not found")

	// ErrIO marks failures of the read itself: unreachable node, rejected
	// access key, out of bounds address or an expired deadline.
	ErrIO = errors.New("rdma: read failed")
)

// MemoryRegion describes a contiguous registered range on a node.
type MemoryRegion struct {
	NodeID uint32
	// Offset is the first byte of the table file that the region holds.
	Offset uint64
	// Addr is the base address of the region in the owner's address space.
	Addr   uint64
	Length uint64
	RKey   uint32

	// Data is only set when the region is mapped in this process.
	Data []byte
}

// Covers reports whether [off, off+n) lies inside the region.
func (m MemoryRegion) Covers(off, n uint64) bool {
	end := off + n
	if end < off || off < m.Offset {
		return false
	}
	return end <= m.Offset+m.Length
}

// Local reports whether the region's bytes are addressable in this process.
func (m MemoryRegion) Local() bool {
	return m.Data != nil
}

// Detached returns the descriptor as a peer sees it.
func (m MemoryRegion) Detached() MemoryRegion {
	m.Data = nil
	return m
}

// Slice returns the view of [off, off+n). The range must be covered.
func (m MemoryRegion) Slice(off, n uint64) []byte {
	start := off - m.Offset
	return m.Data[start : start+n : start+n]
}

// Remote returns the descriptor of [off, off+n) for a one-sided read. The
// range must be covered.
func (m MemoryRegion) Remote(off, n uint64) RemoteRegion {
	return RemoteRegion{
		NodeID: m.NodeID,
		Addr:   m.Addr + (off - m.Offset),
		Length: n,
		RKey:   m.RKey,
	}
}

// Whole returns the descriptor of the full region.
func (m MemoryRegion) Whole() RemoteRegion {
	return RemoteRegion{
		NodeID: m.NodeID,
		Addr:   m.Addr,
		Length: m.Length,
		RKey:   m.RKey,
	}
}

// RemoteRegion is everything a transport needs to read from a peer without the
// peer's CPU taking part.
type RemoteRegion struct {
	NodeID uint32
	Addr   uint64
	Length uint64
	RKey   uint32
}

// Transport issues one-sided reads.
//
// Read fills dst with len(dst) bytes starting at r.Addr on r.NodeID and blocks
// until the read completes or ctx is done. Every call waits on its own
// completion, so concurrent reads do not interfere. Failures are marked ErrIO.
type Transport interface {
	Read(ctx context.Context, r RemoteRegion, dst []byte) error
}
