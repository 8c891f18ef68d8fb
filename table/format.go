package table

import (
	"encoding/binary"
	"github.com/cockroachdb/errors"
)

// BlockHandle locates a stored block: its offset in the table and the size of
// its payload, trailer excluded.
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

// InvalidBlockHandle is the unset handle. Both fields are all ones, which
// never names a real block.
var InvalidBlockHandle = BlockHandle{Offset: ^uint64(0), Size: ^uint64(0)}

// NewBlockHandle returns InvalidBlockHandle.
func NewBlockHandle() BlockHandle {
	return InvalidBlockHandle
}

// Valid reports whether h is not the unset handle.
func (h BlockHandle) Valid() bool {
	return h != InvalidBlockHandle
}

// EncodeTo writes h into buf, which must hold MaxBlockHandleLen bytes, and
// returns the number of bytes written.
func (h BlockHandle) EncodeTo(buf []byte) int {
	n := binary.PutUvarint(buf, h.Offset)
	n += binary.PutUvarint(buf[n:], h.Size)
	return n
}

// AppendTo appends the encoding of h to dst.
func (h BlockHandle) AppendTo(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, h.Offset)
	return binary.AppendUvarint(dst, h.Size)
}

// DecodeBlockHandle decodes a handle from the front of buf and returns it with
// the number of bytes consumed. The offset and size are not range checked.
func DecodeBlockHandle(buf []byte) (BlockHandle, int, error) {
	offset, n := binary.Uvarint(buf)
	if n <= 0 {
		return BlockHandle{}, 0, corruptionErrorf("table: bad block handle offset")
	}
	size, m := binary.Uvarint(buf[n:])
	if m <= 0 {
		return BlockHandle{}, 0, corruptionErrorf("table: bad block handle size")
	}
	return BlockHandle{Offset: offset, Size: size}, n + m, nil
}

// Footer is the fixed size tail of every table.
type Footer struct {
	MetaIndex BlockHandle
	Index     BlockHandle
}

// EncodeTo writes the footer into buf, which must hold FooterLen bytes. The
// handles are zero padded so the magic always lands at the same place.
func (f Footer) EncodeTo(buf []byte) {
	buf = buf[:FooterLen]
	n := f.MetaIndex.EncodeTo(buf)
	n += f.Index.EncodeTo(buf[n:])
	for ; n < 2*MaxBlockHandleLen; n++ {
		buf[n] = 0
	}
	copy(buf[2*MaxBlockHandleLen:], magic)
}

// Encode returns the FooterLen byte encoding of f.
func (f Footer) Encode() []byte {
	buf := make([]byte, FooterLen)
	f.EncodeTo(buf)
	return buf
}

// DecodeFooter decodes the footer held in the last FooterLen bytes of buf.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) < FooterLen {
		return Footer{}, corruptionErrorf("table: footer needs %d bytes, got %d", FooterLen, len(buf))
	}
	buf = buf[len(buf)-FooterLen:]
	if string(buf[2*MaxBlockHandleLen:]) != magic {
		return Footer{}, corruptionErrorf("table: not a table file (bad magic %x)", buf[2*MaxBlockHandleLen:])
	}
	handles := buf[:2*MaxBlockHandleLen]
	meta, n, err := DecodeBlockHandle(handles)
	if err != nil {
		return Footer{}, err
	}
	index, _, err := DecodeBlockHandle(handles[n:])
	if err != nil {
		return Footer{}, err
	}
	return Footer{MetaIndex: meta, Index: index}, nil
}

// BlockContents is the verified payload of a block, trailer stripped. Data
// aliases either registered local memory or the buffer the block was read
// into and must not be modified.
type BlockContents struct {
	Data        []byte
	Compression CompressionType
}

// appendTrailer appends the trailer for a payload stored with tag.
func appendTrailer(dst, payload []byte, tag CompressionType, ct ChecksumType) []byte {
	var trailer [BlockTrailerLen]byte
	trailer[0] = byte(tag)
	binary.LittleEndian.PutUint32(trailer[1:], ct.blockChecksum(payload, trailer[:1]))
	return append(dst, trailer[:]...)
}

// verifyBlock checks the trailer of a stored block whose payload is size bytes
// and returns the payload.
func verifyBlock(b []byte, size uint64, ct ChecksumType, verify bool) (BlockContents, error) {
	if uint64(len(b)) != size+BlockTrailerLen {
		return BlockContents{}, corruptionErrorf("table: block of %d bytes, want %d", len(b), size+BlockTrailerLen)
	}
	if verify {
		want := binary.LittleEndian.Uint32(b[size+1:])
		got := ct.checksum(b[:size+1])
		if want != got {
			return BlockContents{}, errors.Mark(
				corruptionErrorf("table: checksum mismatch: stored %#08x, computed %#08x", want, got),
				ErrChecksumMismatch)
		}
	}
	tag := CompressionType(b[size])
	if !tag.valid() {
		return BlockContents{}, corruptionErrorf("table: unknown block type %d", tag)
	}
	return BlockContents{Data: b[:size:size], Compression: tag}, nil
}
