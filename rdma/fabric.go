package rdma

import (
	"context"
	"github.com/cockroachdb/errors"
	"sort"
	"sync"
	"sync/atomic"
)

// baseAddr is where each node starts handing out region addresses; regions
// are page aligned after it.
const (
	baseAddr = 1 << 20
	pageSize = 4096
	pageMask = pageSize - 1
)

// NodeState controls how a node on a Fabric answers reads.
type NodeState int32

const (
	NodeUp NodeState = iota
	// NodeDown fails reads immediately.
	NodeDown
	// NodeHung never completes reads; only the caller's context ends them.
	NodeHung
)

// Fabric is an in-process Transport. Nodes attached to it register byte slices
// as memory regions and peers read them by address and access key, the way a
// one-sided read targets a remote NIC.
type Fabric struct {
	secret []byte

	mu    sync.RWMutex
	nodes map[uint32]*Node

	reads atomic.Uint64
}

// NewFabric returns a fabric whose access keys derive from secret, which must
// be AccessKeyLen bytes.
func NewFabric(secret []byte) (*Fabric, error) {
	if len(secret) != AccessKeyLen {
		return nil, errors.Newf("rdma: secret must be %d bytes, got %d", AccessKeyLen, len(secret))
	}
	return &Fabric{
		secret: append([]byte(nil), secret...),
		nodes:  map[uint32]*Node{},
	}, nil
}

// Node returns the node with the given id, attaching it on first use.
func (f *Fabric) Node(id uint32) *Node {
	f.mu.RLock()
	n, ok := f.nodes[id]
	f.mu.RUnlock()
	if ok {
		return n
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[id]; ok {
		return n
	}
	n = &Node{
		id:       id,
		fabric:   f,
		regions:  map[uint64]*region{},
		nextAddr: baseAddr,
	}
	f.nodes[id] = n
	return n
}

// Reads returns the number of reads issued so far.
func (f *Fabric) Reads() uint64 {
	return f.reads.Load()
}

// Read implements Transport.
func (f *Fabric) Read(ctx context.Context, r RemoteRegion, dst []byte) error {
	f.reads.Add(1)
	if uint64(len(dst)) != r.Length {
		return errors.Mark(errors.Newf("rdma: buffer of %d bytes for a %d byte read", len(dst), r.Length), ErrIO)
	}

	f.mu.RLock()
	n, ok := f.nodes[r.NodeID]
	f.mu.RUnlock()
	if !ok {
		return errors.Mark(errors.Newf("rdma: node %d unreachable", r.NodeID), ErrIO)
	}
	if err := ctx.Err(); err != nil {
		return errors.Mark(errors.Wrapf(err, "rdma: read from node %d", r.NodeID), ErrIO)
	}

	switch NodeState(n.state.Load()) {
	case NodeDown:
		return errors.Mark(errors.Newf("rdma: node %d unreachable", r.NodeID), ErrIO)
	case NodeHung:
		<-ctx.Done()
		return errors.Mark(errors.Wrapf(ctx.Err(), "rdma: read from node %d", r.NodeID), ErrIO)
	}

	// Post the request and wait for its own completion.
	done := make(chan error, 1)
	go func() {
		done <- n.serve(r, dst)
	}()
	return <-done
}

type region struct {
	desc  MemoryRegion
	unmap func() error
}

// Node is a participant on a Fabric that owns registered memory.
type Node struct {
	id     uint32
	fabric *Fabric
	state  atomic.Int32

	mu       sync.RWMutex
	regions  map[uint64]*region
	nextAddr uint64
}

// ID returns the node identifier.
func (n *Node) ID() uint32 {
	return n.id
}

// SetState changes how the node answers reads.
func (n *Node) SetState(s NodeState) {
	n.state.Store(int32(s))
}

// Register makes buf readable by peers. fileOffset is the table file offset
// buf starts at. The returned descriptor carries buf; hand peers Detached().
func (n *Node) Register(buf []byte, fileOffset uint64) MemoryRegion {
	return n.register(buf, fileOffset, nil)
}

// RegisterFile maps the file at path and registers all of it at offset 0.
// Deregistering the region unmaps the file.
func (n *Node) RegisterFile(path string) (MemoryRegion, error) {
	b, unmap, err := MapFile(path)
	if err != nil {
		return MemoryRegion{}, err
	}
	return n.register(b, 0, unmap), nil
}

func (n *Node) register(buf []byte, fileOffset uint64, unmap func() error) MemoryRegion {
	n.mu.Lock()
	defer n.mu.Unlock()
	addr := n.nextAddr
	n.nextAddr += (uint64(len(buf)) + pageMask) &^ pageMask
	if len(buf) == 0 {
		n.nextAddr += pageSize
	}
	m := MemoryRegion{
		NodeID: n.id,
		Offset: fileOffset,
		Addr:   addr,
		Length: uint64(len(buf)),
		RKey:   AccessKey(n.fabric.secret, n.id, addr, uint64(len(buf))),
		Data:   buf,
	}
	n.regions[addr] = &region{desc: m, unmap: unmap}
	return m
}

// Deregister revokes m. Reads against it fail afterwards.
func (n *Node) Deregister(m MemoryRegion) error {
	n.mu.Lock()
	r, ok := n.regions[m.Addr]
	if ok {
		delete(n.regions, m.Addr)
	}
	n.mu.Unlock()
	if !ok {
		return errors.Mark(errors.Newf("rdma: node %d has no region at %#x", n.id, m.Addr), ErrRegionNotFound)
	}
	if r.unmap != nil {
		return r.unmap()
	}
	return nil
}

// Regions returns the node's registered regions ordered by address.
func (n *Node) Regions() []MemoryRegion {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]MemoryRegion, 0, len(n.regions))
	for _, r := range n.regions {
		out = append(out, r.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// serve copies the requested bytes the way the owner's NIC would, checking the
// access key and bounds without consulting anything but the region table.
func (n *Node) serve(r RemoteRegion, dst []byte) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, reg := range n.regions {
		d := reg.desc
		if r.Addr < d.Addr || r.Addr-d.Addr >= d.Length && !(d.Length == 0 && r.Addr == d.Addr) {
			continue
		}
		if r.RKey != d.RKey {
			return errors.Mark(errors.Newf("rdma: node %d rejected access key %#x at %#x", n.id, r.RKey, r.Addr), ErrIO)
		}
		start := r.Addr - d.Addr
		if r.Length > d.Length-start {
			return errors.Mark(errors.Newf("rdma: read [%#x, +%d) exceeds region on node %d", r.Addr, r.Length, n.id), ErrIO)
		}
		copy(dst, d.Data[start:start+r.Length])
		return nil
	}
	return errors.Mark(errors.Newf("rdma: node %d has no region at %#x", n.id, r.Addr), ErrIO)
}
