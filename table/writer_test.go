package table

import (
	"bytes"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"rdmatable/filter"
	"testing"
)

func TestWriterLayout(t *testing.T) {
	file, layout := buildTable(t, makeKVs(1000), &WriterOptions{FilterPolicy: filter.NewBloomPolicy(10)})

	assert.Equal(t, uint64(len(file)), layout.Size)
	f, err := DecodeFooter(file)
	require.NoError(t, err)
	assert.Equal(t, layout.Footer, f)

	// filter, meta-index and index follow the data blocks in that order
	assert.True(t, layout.Filter.Valid())
	assert.Less(t, layout.Filter.Offset, layout.MetaIndex.Offset)
	assert.Less(t, layout.MetaIndex.Offset, layout.Index.Offset)
	assert.Equal(t, layout.Size-FooterLen, layout.Index.Offset+layout.Index.Size+BlockTrailerLen)

	for _, h := range []BlockHandle{layout.Filter, layout.MetaIndex, layout.Index} {
		_, err := verifyBlock(file[h.Offset:h.Offset+h.Size+BlockTrailerLen], h.Size, ChecksumCRC32c, true)
		assert.NoError(t, err)
	}
	assert.Empty(t, layout.Records)
}

func TestWriterNoFilter(t *testing.T) {
	_, layout := buildTable(t, makeKVs(10), nil)
	assert.False(t, layout.Filter.Valid())
}

func TestWriterEmptyTable(t *testing.T) {
	file, layout := buildTable(t, nil, nil)
	assert.Equal(t, uint64(len(file)), layout.Size)
	f, err := DecodeFooter(file)
	require.NoError(t, err)
	assert.Equal(t, layout.Footer, f)
}

func TestWriterKeyOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	require.NoError(t, w.Add([]byte("b"), []byte("1")))
	assert.Error(t, w.Add([]byte("a"), []byte("2")))
	assert.Error(t, w.Add([]byte("b"), []byte("3")))
	require.NoError(t, w.Add([]byte("c"), []byte("4")))
	require.NoError(t, w.Close())
	assert.Error(t, w.Add([]byte("d"), []byte("5")))
	assert.NoError(t, w.Close())
}

func TestWriterTrackRecords(t *testing.T) {
	kvs := makeKVs(300)
	file, layout := buildTable(t, kvs, &WriterOptions{
		TrackRecords: true,
		BlockSize:    256,
		Compression:  SnappyCompression,
	})
	require.Len(t, layout.Records, len(kvs))
	for i, r := range layout.Records {
		key, value, err := DecodeEntry(file[r.Handle.Offset : r.Handle.Offset+r.Handle.Size])
		require.NoError(t, err)
		assert.Equal(t, kvs[i].key, string(key))
		assert.Equal(t, kvs[i].value, string(value))
		assert.Equal(t, kvs[i].key, string(r.Key))
	}
}

func TestBufferWriter(t *testing.T) {
	kvs := makeKVs(100)
	want, _ := buildTable(t, kvs, nil)

	bw := NewBufferWriter(make([]byte, len(want)))
	w := NewWriter(bw, nil)
	for _, kv := range kvs {
		require.NoError(t, w.Add([]byte(kv.key), []byte(kv.value)))
	}
	require.NoError(t, w.Close())
	assert.Equal(t, want, bw.Bytes())

	small := NewBufferWriter(make([]byte, 100))
	w = NewWriter(small, nil)
	for _, kv := range kvs {
		require.NoError(t, w.Add([]byte(kv.key), []byte(kv.value)))
	}
	err := w.Close()
	assert.True(t, errors.Is(err, errBufferFull))
	assert.Len(t, small.Bytes(), 100)
}
