package table

import (
	"encoding/binary"
	"fmt"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"rdmatable/util"
	"testing"
)

func buildBlock(kvs []testKV, restartInterval int) []byte {
	writer := newBlockWriter(restartInterval)
	for _, kv := range kvs {
		writer.append([]byte(kv.key), []byte(kv.value))
	}
	return append([]byte(nil), writer.finish()...)
}

func testBlockKVs(t *testing.T, testKVs []testKV) {
	iter, err := newBlockIter(buildBlock(testKVs, 16), util.BytewiseComparator)
	require.NoError(t, err)
	i := 0
	for i = 0; iter.Next() == nil; i++ {
		assert.Equal(t, testKVs[i].key, string(iter.Key()))
		assert.Equal(t, testKVs[i].value, string(iter.Value()))
	}
	assert.Equal(t, len(testKVs), i)
	assert.Nil(t, iter.Err())
}

func TestReadWriteBlockData(t *testing.T) {
	testKVs := []testKV{
		{"hell", "x3"},
		{"hello", "world"},
		{"hellllloooo", "x2"},
	}

	testBlockKVs(t, testKVs)
}

func TestReadWriteBlockDataRestarts(t *testing.T) {
	testBlockKVs(t, makeKVs(50))
}

func TestBlockSeekSingle(t *testing.T) {
	var testKVs []testKV
	for i := 0; i < 10; i++ {
		testKVs = append(testKVs, testKV{
			fmt.Sprint("key", i),
			fmt.Sprint("value", i),
		})
	}

	iter, err := newBlockIter(buildBlock(testKVs, 4), util.BytewiseComparator)
	require.NoError(t, err)

	assert.True(t, iter.Seek([]byte("key3")))
	assert.Equal(t, testKVs[3].key, string(iter.Key()))
	assert.Equal(t, testKVs[3].value, string(iter.Value()))

	assert.True(t, iter.Seek([]byte("key41")))
	assert.Equal(t, testKVs[5].key, string(iter.Key()))
	assert.Equal(t, testKVs[5].value, string(iter.Value()))

	assert.True(t, iter.Seek([]byte("a")))
	assert.Equal(t, testKVs[0].key, string(iter.Key()))

	assert.False(t, iter.Seek([]byte("key99")))
}

func TestBlockSeekMultiple(t *testing.T) {
	testKVs := makeKVs(100)
	for _, interval := range []int{1, 3, 16} {
		iter, err := newBlockIter(buildBlock(testKVs, interval), util.BytewiseComparator)
		require.NoError(t, err)

		for i := len(testKVs) - 1; i >= 0; i-- {
			assert.True(t, iter.Seek([]byte(testKVs[i].key)))
			assert.Equal(t, testKVs[i].key, string(iter.Key()))
			assert.Equal(t, testKVs[i].value, string(iter.Value()))
		}
	}
}

func TestEmptyBlock(t *testing.T) {
	iter, err := newBlockIter(buildBlock(nil, 16), util.BytewiseComparator)
	require.NoError(t, err)
	assert.Equal(t, errEndOfBlock, iter.Next())
	assert.False(t, iter.Seek([]byte("key")))
	assert.Nil(t, iter.Err())
}

func TestCorruptBlock(t *testing.T) {
	_, err := newBlockIter([]byte{1, 2}, util.BytewiseComparator)
	assert.True(t, errors.Is(err, ErrCorruption))

	_, err = newBlockIter([]byte{0, 0, 0, 0}, util.BytewiseComparator)
	assert.True(t, errors.Is(err, ErrCorruption))

	block := buildBlock(makeKVs(3), 16)
	// inflate the first value length past the end of the block
	block[2] = 0x7f
	iter, err := newBlockIter(block, util.BytewiseComparator)
	require.NoError(t, err)
	err = iter.Next()
	assert.True(t, errors.Is(err, ErrCorruption))
	assert.Equal(t, err, iter.Err())

	// restart pointing outside the entries
	block = buildBlock(makeKVs(3), 1)
	binary.LittleEndian.PutUint32(block[len(block)-8:], 1<<20)
	iter, err = newBlockIter(block, util.BytewiseComparator)
	require.NoError(t, err)
	assert.False(t, iter.Seek([]byte("key00002")))
	assert.True(t, errors.Is(iter.Err(), ErrCorruption))
}

func TestDecodeEntry(t *testing.T) {
	w := newBlockWriter(1)
	w.append([]byte("apple"), []byte("red"))
	off, n := w.append([]byte("apricot"), []byte("orange"))
	block := w.finish()

	key, value, err := DecodeEntry(block[off : off+n])
	assert.Nil(t, err)
	assert.Equal(t, "apricot", string(key))
	assert.Equal(t, "orange", string(value))

	_, _, err = DecodeEntry(block[off : off+n-1])
	assert.True(t, errors.Is(err, ErrCorruption))

	_, _, err = DecodeEntry(block[off : off+n+1])
	assert.True(t, errors.Is(err, ErrCorruption))
}

func TestDecodeEntrySharedPrefix(t *testing.T) {
	w := newBlockWriter(16)
	w.append([]byte("apple"), []byte("red"))
	off, n := w.append([]byte("apricot"), []byte("orange"))
	block := w.finish()

	_, _, err := DecodeEntry(block[off : off+n])
	assert.True(t, errors.Is(err, ErrCorruption))
}
