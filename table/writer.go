package table

import (
	"bufio"
	"github.com/cockroachdb/errors"
	"io"
	"rdmatable/util"
)

// WriterOptions configure a Writer. The zero value writes uncompressed 4KiB
// blocks with CRC-32C trailers and no filter.
type WriterOptions struct {
	BlockSize            int
	BlockRestartInterval int
	Compression          CompressionType
	Checksum             ChecksumType
	FilterPolicy         FilterPolicy
	Comparator           util.Comparator

	// TrackRecords disables prefix and block compression and reports the
	// handle of every entry in Layout, so single entries can be fetched with
	// ReadKVPair.
	TrackRecords bool
}

func (o *WriterOptions) withDefaults() WriterOptions {
	var opts WriterOptions
	if o != nil {
		opts = *o
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = TableMaxBlockSize
	}
	if opts.BlockRestartInterval <= 0 {
		opts.BlockRestartInterval = 16
	}
	if opts.Comparator == nil {
		opts.Comparator = util.BytewiseComparator
	}
	if opts.TrackRecords {
		opts.BlockRestartInterval = 1
		opts.Compression = NoCompression
	}
	return opts
}

// Record locates a single entry of a table written with TrackRecords.
type Record struct {
	Key    []byte
	Handle BlockHandle
}

// Layout describes a finished table.
type Layout struct {
	Footer
	// Filter is InvalidBlockHandle when no filter policy was set.
	Filter  BlockHandle
	Size    uint64
	Records []Record
}

type Writer struct {
	writer      *countingWriter
	closer      io.Closer
	opts        WriterOptions
	blockWriter *blockWriter
	indexWriter *blockWriter

	pendingBH  BlockHandle
	pendingKey []byte
	lastKey    []byte
	hasKey     bool

	blockRecords []Record
	layout       Layout
	filterKeys   [][]byte

	compressBuf []byte
	trailer     []byte
	buf         [MaxBlockHandleLen]byte
	closed      bool
	err         error
}

// NewWriter returns a Writer that writes a table to w. If w is an io.Closer it
// is closed by Close.
func NewWriter(w io.Writer, o *WriterOptions) *Writer {
	opts := o.withDefaults()
	closer, _ := w.(io.Closer)
	return &Writer{
		writer:      newCountingWriter(w),
		closer:      closer,
		opts:        opts,
		blockWriter: newBlockWriter(opts.BlockRestartInterval),
		indexWriter: newBlockWriter(1),
		pendingBH:   InvalidBlockHandle,
		layout:      Layout{Filter: InvalidBlockHandle},
	}
}

// Add appends an entry. Keys must be added in strictly increasing order.
func (w *Writer) Add(key, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return errors.New("table: writer is closed")
	}
	if w.hasKey && w.opts.Comparator.Compare(key, w.lastKey) <= 0 {
		return errors.Newf("table: key %q added after %q", key, w.lastKey)
	}
	w.lastKey = append(w.lastKey[:0], key...)
	w.hasKey = true

	if w.opts.FilterPolicy != nil {
		w.filterKeys = append(w.filterKeys, append([]byte(nil), key...))
	}
	off, n := w.blockWriter.append(key, value)
	if w.opts.TrackRecords {
		w.blockRecords = append(w.blockRecords, Record{
			Key:    append([]byte(nil), key...),
			Handle: BlockHandle{Offset: uint64(off), Size: uint64(n)},
		})
	}

	if w.blockWriter.estimatedSize() >= w.opts.BlockSize {
		if err := w.finishDataBlock(); err != nil {
			w.err = err
			return err
		}
	}
	return nil
}

func (w *Writer) finishDataBlock() error {
	if w.blockWriter.empty() {
		return nil
	}
	data := w.blockWriter.finish()
	w.writePendingBH()
	bh, err := w.writeBlock(data, w.opts.Compression)
	if err != nil {
		return err
	}
	for _, r := range w.blockRecords {
		r.Handle.Offset += bh.Offset
		w.layout.Records = append(w.layout.Records, r)
	}
	w.blockRecords = w.blockRecords[:0]

	w.pendingBH = bh
	w.pendingKey = append(w.pendingKey[:0], w.blockWriter.lastKey...)
	w.blockWriter.reset()
	return nil
}

// writePendingBH adds the index entry of the last finished data block, keyed
// by that block's last key.
func (w *Writer) writePendingBH() {
	if w.pendingBH.Valid() {
		n := w.pendingBH.EncodeTo(w.buf[:])
		w.indexWriter.append(w.pendingKey, w.buf[:n])
		w.pendingBH = InvalidBlockHandle
	}
}

// writeBlock stores block followed by its trailer. Compression is kept only if
// it saves at least 12.5%.
func (w *Writer) writeBlock(block []byte, c CompressionType) (BlockHandle, error) {
	data, tag := block, NoCompression
	if c != NoCompression {
		w.compressBuf = compressBlock(w.compressBuf, block, c)
		if len(w.compressBuf) < len(block)-len(block)/8 {
			data, tag = w.compressBuf, c
		}
	}
	bh := BlockHandle{Offset: w.writer.Offset(), Size: uint64(len(data))}
	w.trailer = appendTrailer(w.trailer[:0], data, tag, w.opts.Checksum)

	if _, err := w.writer.Write(data); err != nil {
		return BlockHandle{}, err
	}
	if _, err := w.writer.Write(w.trailer); err != nil {
		return BlockHandle{}, err
	}
	return bh, nil
}

// Close writes the filter, meta-index and index blocks and the footer.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	w.err = w.finish()
	if w.closer != nil {
		if err := w.closer.Close(); err != nil && w.err == nil {
			w.err = err
		}
	}
	return w.err
}

func (w *Writer) finish() error {
	if err := w.finishDataBlock(); err != nil {
		return err
	}

	metaIndex := newBlockWriter(1)
	if p := w.opts.FilterPolicy; p != nil {
		fh, err := w.writeBlock(p.CreateFilter(w.filterKeys), NoCompression)
		if err != nil {
			return err
		}
		w.layout.Filter = fh
		n := fh.EncodeTo(w.buf[:])
		metaIndex.append([]byte("filter."+p.Name()), w.buf[:n])
	}
	mh, err := w.writeBlock(metaIndex.finish(), w.opts.Compression)
	if err != nil {
		return err
	}

	w.writePendingBH()
	ih, err := w.writeBlock(w.indexWriter.finish(), w.opts.Compression)
	if err != nil {
		return err
	}

	w.layout.Footer = Footer{MetaIndex: mh, Index: ih}
	var footer [FooterLen]byte
	w.layout.Footer.EncodeTo(footer[:])
	if _, err := w.writer.Write(footer[:]); err != nil {
		return err
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	w.layout.Size = w.writer.Offset()
	return nil
}

// Layout returns the block handles of a closed table.
func (w *Writer) Layout() Layout {
	return w.layout
}

type countingWriter struct {
	writer *bufio.Writer
	n      uint64
}

func newCountingWriter(w io.Writer) *countingWriter {
	return &countingWriter{
		writer: bufio.NewWriter(w),
	}
}

func (w *countingWriter) Write(p []byte) (int, error) {
	written, err := w.writer.Write(p)
	w.n += uint64(written)
	return written, err
}

func (w *countingWriter) Offset() uint64 {
	return w.n
}

func (w *countingWriter) Flush() error {
	return w.writer.Flush()
}
