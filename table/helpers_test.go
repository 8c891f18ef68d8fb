package table

import (
	"bytes"
	"fmt"
	"github.com/stretchr/testify/require"
	"rdmatable/rdma"
	"testing"
)

var testSecret = []byte("0123456789ABCDEF0123456789ABCDEF")

type testKV struct {
	key   string
	value string
}

func makeKVs(n int) []testKV {
	var kvs []testKV
	for i := 0; i < n; i++ {
		kvs = append(kvs, testKV{
			fmt.Sprintf("key%05d", i),
			fmt.Sprint("value", i),
		})
	}
	return kvs
}

func buildTable(t *testing.T, kvs []testKV, o *WriterOptions) ([]byte, Layout) {
	var buf bytes.Buffer
	w := NewWriter(&buf, o)
	for _, kv := range kvs {
		require.NoError(t, w.Add([]byte(kv.key), []byte(kv.value)))
	}
	require.NoError(t, w.Close())
	return buf.Bytes(), w.Layout()
}

// cluster is a fabric with a registry and block reader for the local node.
type cluster struct {
	fabric *rdma.Fabric
	reg    *rdma.Registry
	br     *BlockReader
}

func newCluster(t *testing.T, local uint32, o *ReaderOptions) *cluster {
	f, err := rdma.NewFabric(testSecret)
	require.NoError(t, err)
	if o == nil {
		o = &ReaderOptions{}
	}
	if o.Logf == nil {
		o.Logf = t.Logf
	}
	reg := rdma.NewRegistry(local)
	return &cluster{
		fabric: f,
		reg:    reg,
		br:     NewBlockReader(reg, f, o),
	}
}

// place registers data on node at the given table offset and records it in
// the registry the way the local node would see it.
func (c *cluster) place(t *testing.T, node uint32, data []byte, offset uint64) rdma.MemoryRegion {
	m := c.fabric.Node(node).Register(data, offset)
	seen := m
	if node != c.reg.LocalNode() {
		seen = m.Detached()
	}
	set := append(append([]rdma.MemoryRegion(nil), c.reg.Regions(node)...), seen)
	require.NoError(t, c.reg.Register(node, set...))
	return m
}

// storedBlock returns payload followed by a valid trailer.
func storedBlock(payload []byte, tag CompressionType, ct ChecksumType) []byte {
	b := append([]byte(nil), payload...)
	return appendTrailer(b, payload, tag, ct)
}
