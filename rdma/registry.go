package rdma

import (
	"github.com/cockroachdb/errors"
	"sort"
	"sync"
)

// Registry maps node identifiers to the regions each node registered for one
// table byte space, plus buffers this process already prefetched from peers.
//
// Lookups run concurrently under the read lock. Register and Deregister build
// the replacement set first and swap it in under the write lock, so a lookup
// sees either the old or the new set of a node, never a mix.
type Registry struct {
	local uint32

	mu         sync.RWMutex
	nodes      map[uint32][]MemoryRegion
	ids        []uint32
	prefetched []MemoryRegion
}

// NewRegistry returns an empty registry for a process running as node local.
func NewRegistry(local uint32) *Registry {
	return &Registry{
		local: local,
		nodes: map[uint32][]MemoryRegion{},
	}
}

// LocalNode returns the node identifier of this process.
func (r *Registry) LocalNode() uint32 {
	return r.local
}

// Register replaces the region set of node. Regions must not overlap, and
// regions of the local node must carry their bytes.
func (r *Registry) Register(node uint32, regions ...MemoryRegion) error {
	set := make([]MemoryRegion, len(regions))
	copy(set, regions)
	for i := range set {
		set[i].NodeID = node
		if node == r.local && uint64(len(set[i].Data)) != set[i].Length {
			return errors.Newf("rdma: local region at offset %d has %d of %d bytes mapped",
				set[i].Offset, len(set[i].Data), set[i].Length)
		}
	}
	sort.Slice(set, func(i, j int) bool {
		return set[i].Offset < set[j].Offset
	})
	for i := 1; i < len(set); i++ {
		prev := set[i-1]
		if prev.Offset+prev.Length > set[i].Offset {
			return errors.Newf("rdma: node %d regions at offsets %d and %d overlap",
				node, prev.Offset, set[i].Offset)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[node]; !ok {
		r.ids = insertID(r.ids, node)
	}
	r.nodes[node] = set
	return nil
}

// Deregister drops every region of node.
func (r *Registry) Deregister(node uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[node]; !ok {
		return
	}
	delete(r.nodes, node)
	ids := make([]uint32, 0, len(r.ids))
	for _, id := range r.ids {
		if id != node {
			ids = append(ids, id)
		}
	}
	r.ids = ids
}

// Nodes returns the registered node identifiers in ascending order. The slice
// must not be modified.
func (r *Registry) Nodes() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids
}

// Regions returns the region set of node ordered by offset. The slice must not
// be modified.
func (r *Registry) Regions(node uint32) []MemoryRegion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[node]
}

// Lookup returns the region of node covering [off, off+n).
func (r *Registry) Lookup(node uint32, off, n uint64) (MemoryRegion, error) {
	r.mu.RLock()
	set, ok := r.nodes[node]
	r.mu.RUnlock()
	if !ok {
		return MemoryRegion{}, errors.Mark(
			errors.Newf("rdma: node %d has no registered regions", node), ErrRegionNotFound)
	}
	if m, ok := covering(set, off, n); ok {
		return m, nil
	}
	return MemoryRegion{}, errors.Mark(
		errors.Newf("rdma: node %d has no region covering [%d, +%d)", node, off, n), ErrRegionNotFound)
}

// AddPrefetched records a local buffer holding bytes fetched from a peer.
func (r *Registry) AddPrefetched(m MemoryRegion) error {
	if uint64(len(m.Data)) != m.Length {
		return errors.Newf("rdma: prefetched region at offset %d has %d of %d bytes",
			m.Offset, len(m.Data), m.Length)
	}
	m.NodeID = r.local

	r.mu.Lock()
	defer r.mu.Unlock()
	set := make([]MemoryRegion, 0, len(r.prefetched)+1)
	set = append(set, r.prefetched...)
	set = append(set, m)
	r.prefetched = set
	return nil
}

// Prefetched returns a prefetched buffer covering [off, off+n).
func (r *Registry) Prefetched(off, n uint64) (MemoryRegion, bool) {
	r.mu.RLock()
	set := r.prefetched
	r.mu.RUnlock()
	for _, m := range set {
		if m.Covers(off, n) {
			return m, true
		}
	}
	return MemoryRegion{}, false
}

// ClearPrefetched forgets every prefetched buffer.
func (r *Registry) ClearPrefetched() {
	r.mu.Lock()
	r.prefetched = nil
	r.mu.Unlock()
}

// Resident reports whether the byte at off is addressable without a remote
// read, either in a local region or in a prefetched buffer.
func (r *Registry) Resident(off uint64) bool {
	r.mu.RLock()
	local, prefetched := r.nodes[r.local], r.prefetched
	r.mu.RUnlock()
	if _, ok := covering(local, off, 1); ok {
		return true
	}
	for _, m := range prefetched {
		if m.Covers(off, 1) {
			return true
		}
	}
	return false
}

// Registered reports whether the byte at off lies in a region registered for
// any node or in a prefetched buffer.
func (r *Registry) Registered(off uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, set := range r.nodes {
		if _, ok := covering(set, off, 1); ok {
			return true
		}
	}
	for _, m := range r.prefetched {
		if m.Covers(off, 1) {
			return true
		}
	}
	return false
}

// covering finds the last region starting at or before off and checks that it
// spans the whole range.
func covering(set []MemoryRegion, off, n uint64) (MemoryRegion, bool) {
	i := sort.Search(len(set), func(i int) bool {
		return set[i].Offset > off
	})
	if i == 0 {
		return MemoryRegion{}, false
	}
	m := set[i-1]
	return m, m.Covers(off, n)
}

func insertID(ids []uint32, id uint32) []uint32 {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	out := make([]uint32, 0, len(ids)+1)
	out = append(out, ids[:i]...)
	out = append(out, id)
	return append(out, ids[i:]...)
}
