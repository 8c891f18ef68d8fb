// Package memdb is a skiplist that stages entries in comparator order until
// they are flushed into a table.
package memdb

import (
	"github.com/cockroachdb/errors"
	"math/rand"
	"rdmatable/table"
	"rdmatable/util"
)

const maxHeight = 12

var errEOF = errors.New("memdb: end of entries")

type MemDB struct {
	head *node
	cmp  util.Comparator
	rnd  *rand.Rand

	len  int
	size int
}

func NewMemDB(cmp util.Comparator) *MemDB {
	if cmp == nil {
		cmp = util.BytewiseComparator
	}
	return &MemDB{
		head: newNode(maxHeight),
		cmp:  cmp,
		rnd:  rand.New(rand.NewSource(0xdeadbeef)),
	}
}

// Put stores a copy of key and value, replacing an earlier value.
func (m *MemDB) Put(key, value []byte) {
	var prev [maxHeight]*node
	n, exact := findNode(m.head, m.cmp, key, &prev)
	v := append([]byte(nil), value...)
	if exact {
		if n.deleted {
			m.len++
			m.size += len(n.key)
		} else {
			m.size -= len(n.value)
		}
		m.size += len(v)
		n.value = v
		n.deleted = false
		return
	}

	h := 1
	for ; h < maxHeight; h++ {
		if m.rnd.Intn(4) != 0 {
			break
		}
	}
	nn := newNode(h)
	nn.key = append([]byte(nil), key...)
	nn.value = v
	for i := 0; i < h; i++ {
		nn.next[i] = prev[i].next[i]
		prev[i].next[i] = nn
	}
	m.len++
	m.size += len(key) + len(v)
}

// Delete hides key from Get and from iteration.
func (m *MemDB) Delete(key []byte) {
	n, exact := findNode(m.head, m.cmp, key, nil)
	if exact && !n.deleted {
		n.deleted = true
		m.len--
		m.size -= len(n.key) + len(n.value)
	}
}

func (m *MemDB) Get(key []byte) ([]byte, bool) {
	n, exact := findNode(m.head, m.cmp, key, nil)
	if !exact || n.deleted {
		return nil, false
	}
	return n.value, true
}

// Len returns the number of live entries.
func (m *MemDB) Len() int {
	return m.len
}

// ApproximateSize returns the bytes of live keys and values.
func (m *MemDB) ApproximateSize() int {
	return m.size
}

// Flush adds every live entry to w in order. It does not close w.
func (m *MemDB) Flush(w *table.Writer) (int, error) {
	n := 0
	it := m.Iterator()
	for it.Next() == nil {
		if err := w.Add(it.Key(), it.Value()); err != nil {
			return n, errors.Wrapf(err, "memdb: flushing entry %d", n)
		}
		n++
	}
	return n, nil
}

type node struct {
	next    []*node
	key     []byte
	value   []byte
	deleted bool
}

func newNode(height int) *node {
	return &node{
		next: make([]*node, height),
	}
}

// findNode returns the first node whose key is >= key, or nil, and whether it
// matches exactly. prev receives the rightmost node before it on every level.
func findNode(head *node, cmp util.Comparator, key []byte, prev *[maxHeight]*node) (*node, bool) {
	current := head
	var candidate *node
	for height := len(head.next) - 1; height >= 0; height-- {
		for {
			candidate = current.next[height]
			if candidate == nil || cmp.Compare(candidate.key, key) >= 0 {
				break
			}
			current = candidate
		}
		if prev != nil {
			prev[height] = current
		}
	}
	if candidate == nil {
		return nil, false
	}
	return candidate, cmp.Compare(candidate.key, key) == 0
}

type MemDBIter struct {
	m           *MemDB
	currentNode *node
}

// Iterator returns an iterator positioned before the first entry.
func (m *MemDB) Iterator() *MemDBIter {
	return &MemDBIter{
		m:           m,
		currentNode: m.head,
	}
}

func (i *MemDBIter) Key() []byte {
	if i.currentNode == nil || i.currentNode == i.m.head {
		return nil
	}
	return i.currentNode.key
}

func (i *MemDBIter) Value() []byte {
	if i.currentNode == nil || i.currentNode == i.m.head {
		return nil
	}
	return i.currentNode.value
}

// Seek moves to the first live entry >= key.
func (i *MemDBIter) Seek(key []byte) bool {
	n, _ := findNode(i.m.head, i.m.cmp, key, nil)
	i.currentNode = n
	for i.currentNode != nil && i.currentNode.deleted {
		i.currentNode = i.currentNode.next[0]
	}
	return i.currentNode != nil
}

func (i *MemDBIter) Next() error {
	for i.currentNode != nil {
		i.currentNode = i.currentNode.next[0]
		if i.currentNode == nil || !i.currentNode.deleted {
			break
		}
	}
	if i.currentNode == nil {
		return errEOF
	}
	return nil
}
