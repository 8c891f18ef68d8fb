package table

import (
	"bytes"
	"encoding/binary"
	"github.com/cockroachdb/errors"
	"rdmatable/util"
	"sort"
)

var errEndOfBlock = errors.New("table: end of block")

// BlockIter walks the entries of an uncompressed data, index or meta-index
// block. Entries are prefix compressed against their predecessor except at
// restart points:
//
//	shared (varint) | non-shared (varint) | value len (varint) | key suffix | value
//
// followed by the restart offsets (4 bytes each) and their count (4 bytes).
type BlockIter struct {
	data          []byte
	restartOffset int
	nRestarts     int
	cmp           util.Comparator

	offset int
	key    []byte
	value  []byte
	err    error
}

func newBlockIter(block []byte, cmp util.Comparator) (*BlockIter, error) {
	if len(block) < 4 {
		return nil, corruptionErrorf("table: block of %d bytes has no restart count", len(block))
	}
	nRestarts := int(binary.LittleEndian.Uint32(block[len(block)-4:]))
	restartOffset := len(block) - 4*(nRestarts+1)
	if nRestarts == 0 || restartOffset < 0 {
		return nil, corruptionErrorf("table: bad restart count %d", nRestarts)
	}
	return &BlockIter{
		data:          block,
		restartOffset: restartOffset,
		nRestarts:     nRestarts,
		cmp:           cmp,
	}, nil
}

func (b *BlockIter) Key() []byte {
	return b.key
}

func (b *BlockIter) Value() []byte {
	return b.value
}

// Err returns the corruption that stopped the iterator, if any.
func (b *BlockIter) Err() error {
	return b.err
}

func (b *BlockIter) restart(i int) int {
	return int(binary.LittleEndian.Uint32(b.data[b.restartOffset+4*i:]))
}

// Next advances to the following entry. It returns errEndOfBlock after the
// last entry.
func (b *BlockIter) Next() error {
	if b.err != nil {
		return b.err
	}
	if b.offset >= b.restartOffset {
		return errEndOfBlock
	}
	key, value, next, err := decodeEntry(b.data[:b.restartOffset], b.offset, b.key)
	if err != nil {
		b.err = err
		return err
	}
	b.key, b.value, b.offset = key, value, next
	return nil
}

// Seek moves to the first entry whose key is >= key and reports whether one
// exists.
func (b *BlockIter) Seek(key []byte) bool {
	if b.err != nil || b.restartOffset == 0 {
		return false
	}
	// first restart whose key is > key; the target is at or after the one before
	i := sort.Search(b.nRestarts, func(i int) bool {
		k, _, _, err := decodeEntry(b.data[:b.restartOffset], b.restart(i), nil)
		if err != nil {
			b.err = err
			return true
		}
		return b.cmp.Compare(k, key) > 0
	})
	if b.err != nil {
		return false
	}
	if i > 0 {
		i--
	}

	b.offset = b.restart(i)
	b.key = b.key[:0]
	for b.Next() == nil {
		if b.cmp.Compare(b.key, key) >= 0 {
			return true
		}
	}
	return false
}

// decodeEntry decodes the entry at off, rebuilding its key on top of prev.
func decodeEntry(data []byte, off int, prev []byte) (key, value []byte, next int, err error) {
	if off < 0 || off >= len(data) {
		return nil, nil, 0, corruptionErrorf("table: entry offset %d outside block of %d bytes", off, len(data))
	}
	shared, n := binary.Uvarint(data[off:])
	if n <= 0 {
		return nil, nil, 0, corruptionErrorf("table: bad entry at %d", off)
	}
	off += n
	nonshared, n := binary.Uvarint(data[off:])
	if n <= 0 {
		return nil, nil, 0, corruptionErrorf("table: bad entry at %d", off)
	}
	off += n
	valLen, n := binary.Uvarint(data[off:])
	if n <= 0 {
		return nil, nil, 0, corruptionErrorf("table: bad entry at %d", off)
	}
	off += n

	if uint64(len(prev)) < shared {
		return nil, nil, 0, corruptionErrorf("table: key is shorter than shared prefix")
	}
	if nonshared > uint64(len(data)-off) || valLen > uint64(len(data)-off)-nonshared {
		return nil, nil, 0, corruptionErrorf("table: entry at %d overruns block", off)
	}
	end := off + int(nonshared)
	key = append(prev[:shared:shared], data[off:end]...)
	value = data[end : end+int(valLen)]
	return key, value, end + int(valLen), nil
}

// DecodeEntry decodes a single stand-alone entry, as fetched by ReadKVPair.
// The entry must not share a prefix with a predecessor.
func DecodeEntry(rec []byte) (key, value []byte, err error) {
	key, value, next, err := decodeEntry(rec, 0, nil)
	if err != nil {
		return nil, nil, err
	}
	if next != len(rec) {
		return nil, nil, corruptionErrorf("table: %d trailing bytes after entry", len(rec)-next)
	}
	return key, value, nil
}

type blockWriter struct {
	buf             bytes.Buffer
	restartInterval int
	scratch         []byte
	restarts        []uint32

	counter int
	lastKey []byte
}

func newBlockWriter(restartInterval int) *blockWriter {
	return &blockWriter{
		restartInterval: restartInterval,
		restarts:        []uint32{0},
		scratch:         make([]byte, 3*binary.MaxVarintLen64),
	}
}

// append adds an entry and returns its offset within the block and length.
func (w *blockWriter) append(key, value []byte) (int, int) {
	start := w.buf.Len()
	shared := 0
	if w.counter < w.restartInterval {
		shared = util.SharedPrefixLen(key, w.lastKey)
	} else {
		w.restarts = append(w.restarts, uint32(start))
		w.counter = 0
	}
	n := binary.PutUvarint(w.scratch, uint64(shared))
	n += binary.PutUvarint(w.scratch[n:], uint64(len(key)-shared))
	n += binary.PutUvarint(w.scratch[n:], uint64(len(value)))
	w.buf.Write(w.scratch[:n])
	w.buf.Write(key[shared:])
	w.buf.Write(value)

	w.lastKey = append(w.lastKey[:0], key...)
	w.counter++
	return start, w.buf.Len() - start
}

func (w *blockWriter) finish() []byte {
	var b [4]byte
	for _, idx := range w.restarts {
		binary.LittleEndian.PutUint32(b[:], idx)
		w.buf.Write(b[:])
	}
	binary.LittleEndian.PutUint32(b[:], uint32(len(w.restarts)))
	w.buf.Write(b[:])
	return w.buf.Bytes()
}

func (w *blockWriter) reset() {
	w.buf.Reset()
	w.restarts = w.restarts[:1]
	w.lastKey = w.lastKey[:0]
	w.counter = 0
}

func (w *blockWriter) estimatedSize() int {
	return w.buf.Len() + 4*(len(w.restarts)+1)
}

func (w *blockWriter) empty() bool {
	return w.buf.Len() == 0
}
