package table

import (
	"github.com/cockroachdb/errors"
)

var errBufferFull = errors.New("table: buffer full")

// BufferWriter writes into a fixed byte slice, typically memory that is
// registered once the table is complete.
type BufferWriter struct {
	bytes  []byte
	offset int
}

func NewBufferWriter(bytes []byte) *BufferWriter {
	return &BufferWriter{
		bytes: bytes,
	}
}

func (w *BufferWriter) Write(p []byte) (int, error) {
	n := copy(w.bytes[w.offset:], p)
	w.offset += n
	if n < len(p) {
		return n, errors.Wrapf(errBufferFull, "%d of %d bytes written", n, len(p))
	}
	return n, nil
}

// Bytes returns the written prefix of the buffer.
func (w *BufferWriter) Bytes() []byte {
	return w.bytes[:w.offset]
}
