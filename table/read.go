package table

import (
	"context"
	"github.com/cockroachdb/errors"
	"log"
	"math"
	"rdmatable/rdma"
	"time"
)

// ReaderOptions configure a BlockReader.
type ReaderOptions struct {
	// Checksum must match the function the tables were written with.
	Checksum ChecksumType
	// Logf receives checksum mismatches and transport failures. It defaults to
	// log.Printf.
	Logf func(format string, args ...interface{})
}

// ReadOptions configure a single read.
type ReadOptions struct {
	// IgnoreChecksums skips trailer verification for trusted paths.
	IgnoreChecksums bool
	// Timeout bounds the read on top of the context's own deadline.
	Timeout time.Duration
	// Buffer receives remote reads when it is large enough. Returned contents
	// alias it.
	Buffer []byte
}

var defaultReadOptions = &ReadOptions{}

func (o *ReadOptions) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout > 0 {
		return context.WithTimeout(ctx, o.Timeout)
	}
	return ctx, func() {}
}

func (o *ReadOptions) buffer(n uint64) []byte {
	if uint64(cap(o.Buffer)) >= n {
		return o.Buffer[:n]
	}
	return make([]byte, n)
}

// BlockReader resolves blocks through a registry and fetches them locally or
// with one-sided reads. It is safe for concurrent use; every read waits on its
// own completion.
type BlockReader struct {
	reg       *rdma.Registry
	transport rdma.Transport
	checksum  ChecksumType
	logf      func(format string, args ...interface{})
}

func NewBlockReader(reg *rdma.Registry, transport rdma.Transport, o *ReaderOptions) *BlockReader {
	br := &BlockReader{
		reg:       reg,
		transport: transport,
		logf:      log.Printf,
	}
	if o != nil {
		br.checksum = o.Checksum
		if o.Logf != nil {
			br.logf = o.Logf
		}
	}
	return br
}

// Registry returns the registry blocks are resolved against.
func (br *BlockReader) Registry() *rdma.Registry {
	return br.reg
}

// fetch returns the bytes of a resolved range: the local view itself, or the
// result of a remote read into the caller's buffer.
func (br *BlockReader) fetch(ctx context.Context, opts *ReadOptions, res Resolved) ([]byte, error) {
	switch res := res.(type) {
	case LocalBlock:
		return res.Data, nil
	case RemoteBlock:
		return br.readRemote(ctx, opts, res.Region)
	}
	return nil, errors.AssertionFailedf("table: unexpected resolution %T", res)
}

func (br *BlockReader) readRemote(ctx context.Context, opts *ReadOptions, r rdma.RemoteRegion) ([]byte, error) {
	if br.transport == nil {
		return nil, errors.Mark(errors.Newf("table: no transport to reach node %d", r.NodeID), rdma.ErrIO)
	}
	buf := opts.buffer(r.Length)
	if err := br.transport.Read(ctx, r, buf); err != nil {
		br.logf("table: read of %d bytes at %#x from node %d failed: %v", r.Length, r.Addr, r.NodeID, err)
		return nil, errors.Mark(
			errors.Wrapf(err, "table: reading %d bytes from node %d", r.Length, r.NodeID), rdma.ErrIO)
	}
	return buf, nil
}

func (br *BlockReader) verify(opts *ReadOptions, b []byte, size uint64, what string, where uint64) (BlockContents, error) {
	c, err := verifyBlock(b, size, br.checksum, !opts.IgnoreChecksums)
	if err != nil {
		if errors.Is(err, ErrChecksumMismatch) {
			br.logf("table: %s at %d: %v", what, where, err)
		}
		return BlockContents{}, errors.Wrapf(err, "%s at %d", what, where)
	}
	return c, nil
}

func storedLen(h BlockHandle) (uint64, error) {
	if !h.Valid() {
		return 0, corruptionErrorf("table: read of unset block handle")
	}
	if h.Size > math.MaxUint64-BlockTrailerLen {
		return 0, corruptionErrorf("table: block size %d out of range", h.Size)
	}
	return h.Size + BlockTrailerLen, nil
}

// ReadDataBlock reads the block at h and its trailer from wherever the
// registry places it, verifies the checksum unless opts disables it, and
// returns the payload with its type tag.
func (br *BlockReader) ReadDataBlock(ctx context.Context, opts *ReadOptions, h BlockHandle) (BlockContents, error) {
	if opts == nil {
		opts = defaultReadOptions
	}
	n, err := storedLen(h)
	if err != nil {
		return BlockContents{}, err
	}
	res, err := Resolve(br.reg, h.Offset, n)
	if err != nil {
		return BlockContents{}, err
	}
	ctx, cancel := opts.context(ctx)
	defer cancel()
	b, err := br.fetch(ctx, opts, res)
	if err != nil {
		return BlockContents{}, err
	}
	return br.verify(opts, b, h.Size, "data block", h.Offset)
}

// ReadKVPair reads the single entry at h from node target without
// materialising its block. Entries carry no trailer, so nothing is verified.
func (br *BlockReader) ReadKVPair(ctx context.Context, opts *ReadOptions, h BlockHandle, target uint32) ([]byte, error) {
	if opts == nil {
		opts = defaultReadOptions
	}
	if !h.Valid() {
		return nil, corruptionErrorf("table: read of unset block handle")
	}
	if target == br.reg.LocalNode() {
		b, err := FindLocalRegion(br.reg, h)
		if err != nil {
			return nil, err
		}
		return b.Data, nil
	}
	if m, ok := br.reg.Prefetched(h.Offset, h.Size); ok {
		return localBlock(m, h.Offset, h.Size).Data, nil
	}
	r, err := FindRemoteRegion(br.reg, h, target)
	if err != nil {
		return nil, err
	}
	ctx, cancel := opts.context(ctx)
	defer cancel()
	return br.readRemote(ctx, opts, r)
}

// ReadDataIndexBlock reads an index block registered as a region of its own,
// payload and trailer, from node target.
func (br *BlockReader) ReadDataIndexBlock(ctx context.Context, region rdma.MemoryRegion, opts *ReadOptions, target uint32) (BlockContents, error) {
	return br.readRegionBlock(ctx, region, opts, target, "index block")
}

// ReadFilterBlock reads a filter block registered as a region of its own from
// node target.
func (br *BlockReader) ReadFilterBlock(ctx context.Context, region rdma.MemoryRegion, opts *ReadOptions, target uint32) (BlockContents, error) {
	return br.readRegionBlock(ctx, region, opts, target, "filter block")
}

func (br *BlockReader) readRegionBlock(ctx context.Context, region rdma.MemoryRegion, opts *ReadOptions, target uint32, what string) (BlockContents, error) {
	if opts == nil {
		opts = defaultReadOptions
	}
	if region.NodeID != target {
		return BlockContents{}, errors.Mark(
			errors.Newf("table: %s region belongs to node %d, not %d", what, region.NodeID, target),
			rdma.ErrRegionNotFound)
	}
	if region.Length < BlockTrailerLen {
		return BlockContents{}, corruptionErrorf("table: %s region of %d bytes", what, region.Length)
	}

	var b []byte
	if target == br.reg.LocalNode() {
		if uint64(len(region.Data)) != region.Length {
			return BlockContents{}, errors.Mark(
				errors.Newf("table: %s region at %#x is not mapped locally", what, region.Addr),
				rdma.ErrRegionNotFound)
		}
		b = region.Data
	} else {
		ctx, cancel := opts.context(ctx)
		defer cancel()
		var err error
		if b, err = br.readRemote(ctx, opts, region.Whole()); err != nil {
			return BlockContents{}, err
		}
	}
	return br.verify(opts, b, region.Length-BlockTrailerLen, what, region.Addr)
}

// ReadFooter reads and decodes the footer of a table of fileSize bytes.
func (br *BlockReader) ReadFooter(ctx context.Context, opts *ReadOptions, fileSize uint64) (Footer, error) {
	if opts == nil {
		opts = defaultReadOptions
	}
	if fileSize < FooterLen {
		return Footer{}, corruptionErrorf("table: file of %d bytes is too small", fileSize)
	}
	res, err := Resolve(br.reg, fileSize-FooterLen, FooterLen)
	if err != nil {
		return Footer{}, err
	}
	ctx, cancel := opts.context(ctx)
	defer cancel()
	b, err := br.fetch(ctx, opts, res)
	if err != nil {
		return Footer{}, err
	}
	return DecodeFooter(b)
}

// Prefetch pulls [off, off+n) into a local buffer once, so later reads of
// blocks inside it skip the remote round trip. Ranges already resident are
// left alone.
func (br *BlockReader) Prefetch(ctx context.Context, opts *ReadOptions, off, n uint64) error {
	if opts == nil {
		opts = defaultReadOptions
	}
	res, err := Resolve(br.reg, off, n)
	if err != nil {
		return err
	}
	remote, ok := res.(RemoteBlock)
	if !ok {
		return nil
	}
	ctx, cancel := opts.context(ctx)
	defer cancel()
	// never into opts.Buffer: the registry keeps this buffer
	buf, err := br.readRemote(ctx, &ReadOptions{}, remote.Region)
	if err != nil {
		return err
	}
	return br.reg.AddPrefetched(rdma.MemoryRegion{
		Offset: off,
		Length: n,
		Data:   buf,
	})
}
