package table

import (
	"github.com/cockroachdb/errors"
	"rdmatable/rdma"
)

// Resolved is where a byte range lives: a LocalBlock or a RemoteBlock.
type Resolved interface {
	Len() uint64
	resolved()
}

// LocalBlock is a range addressable in this process, either in a region the
// local node registered or in a prefetched buffer.
type LocalBlock struct {
	// Addr is the range's address in the owning region's address space.
	Addr uint64
	Data []byte
}

func (b LocalBlock) Len() uint64 { return uint64(len(b.Data)) }
func (LocalBlock) resolved()     {}

// RemoteBlock is a range that has to be fetched with a one-sided read.
type RemoteBlock struct {
	Region rdma.RemoteRegion
}

func (b RemoteBlock) Len() uint64 { return b.Region.Length }
func (RemoteBlock) resolved()     {}

func localBlock(m rdma.MemoryRegion, off, n uint64) LocalBlock {
	return LocalBlock{
		Addr: m.Addr + (off - m.Offset),
		Data: m.Slice(off, n),
	}
}

// Resolve locates [off, off+n). Regions of the local node win, then
// prefetched buffers, then the remote node with the lowest id whose regions
// cover the range.
func Resolve(reg *rdma.Registry, off, n uint64) (Resolved, error) {
	local := reg.LocalNode()
	if m, err := reg.Lookup(local, off, n); err == nil {
		return localBlock(m, off, n), nil
	}
	if m, ok := reg.Prefetched(off, n); ok {
		return localBlock(m, off, n), nil
	}
	for _, id := range reg.Nodes() {
		if id == local {
			continue
		}
		if m, err := reg.Lookup(id, off, n); err == nil {
			return RemoteBlock{Region: m.Remote(off, n)}, nil
		}
	}
	return nil, errors.Mark(
		errors.Newf("table: no registered region covers [%d, +%d)", off, n), rdma.ErrRegionNotFound)
}

// FindLocalRegion returns the view of h in memory the local node registered.
// Callers use it once they know the block is local; ErrRegionNotFound means
// they were wrong.
func FindLocalRegion(reg *rdma.Registry, h BlockHandle) (LocalBlock, error) {
	m, err := reg.Lookup(reg.LocalNode(), h.Offset, h.Size)
	if err != nil {
		return LocalBlock{}, err
	}
	return localBlock(m, h.Offset, h.Size), nil
}

// FindRemoteRegion returns the descriptor for reading h from node. A missing
// region usually means the table moved or the handle is stale.
func FindRemoteRegion(reg *rdma.Registry, h BlockHandle, node uint32) (rdma.RemoteRegion, error) {
	m, err := reg.Lookup(node, h.Offset, h.Size)
	if err != nil {
		return rdma.RemoteRegion{}, err
	}
	return m.Remote(h.Offset, h.Size), nil
}

// FindPrefetchRegion reports whether offset lies inside a region registered
// for any node or a buffer already prefetched.
func FindPrefetchRegion(reg *rdma.Registry, offset uint64) bool {
	return reg.Registered(offset)
}
