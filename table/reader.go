package table

import (
	"bytes"
	"context"
	"github.com/cockroachdb/errors"
	"rdmatable/rdma"
	"rdmatable/util"
)

// TableMeta is what the table-open path knows about a table placed on a node.
type TableMeta struct {
	Node uint32
	Size uint64
	// Index is the index block registered as its own region. When its Length
	// is zero the index is found through the footer instead.
	Index rdma.MemoryRegion
	// Filter is the filter block registered as its own region, optional.
	Filter rdma.MemoryRegion
}

// TableOptions configure Open. Read.Buffer is ignored since a table serves
// concurrent lookups.
type TableOptions struct {
	Comparator   util.Comparator
	FilterPolicy FilterPolicy
	Read         ReadOptions
}

// Table serves lookups against a table whose blocks are reached through a
// BlockReader.
type Table struct {
	br   *BlockReader
	meta TableMeta
	cmp  util.Comparator
	ro   ReadOptions

	footer Footer
	index  []byte
	policy FilterPolicy
	filter []byte
}

// Open reads the index and, when a filter policy is given, the filter block of
// the table described by meta.
func Open(ctx context.Context, br *BlockReader, meta TableMeta, o *TableOptions) (*Table, error) {
	t := &Table{
		br:     br,
		meta:   meta,
		cmp:    util.BytewiseComparator,
		footer: Footer{MetaIndex: InvalidBlockHandle, Index: InvalidBlockHandle},
	}
	if o != nil {
		t.ro = o.Read
		t.policy = o.FilterPolicy
		if o.Comparator != nil {
			t.cmp = o.Comparator
		}
	}
	t.ro.Buffer = nil

	var (
		index BlockContents
		err   error
	)
	if meta.Index.Length > 0 {
		index, err = br.ReadDataIndexBlock(ctx, meta.Index, &t.ro, meta.Node)
	} else if err = t.readFooter(ctx); err == nil {
		index, err = br.ReadDataBlock(ctx, &t.ro, t.footer.Index)
	}
	if err != nil {
		return nil, errors.Wrap(err, "table: reading index")
	}
	if t.index, err = index.Uncompressed(); err != nil {
		return nil, err
	}
	if _, err := newBlockIter(t.index, t.cmp); err != nil {
		return nil, errors.Wrap(err, "table: bad index block")
	}

	if t.policy != nil {
		if err := t.readFilter(ctx); err != nil {
			return nil, errors.Wrap(err, "table: reading filter")
		}
	}
	return t, nil
}

func (t *Table) readFooter(ctx context.Context) error {
	if t.footer.Index.Valid() {
		return nil
	}
	f, err := t.br.ReadFooter(ctx, &t.ro, t.meta.Size)
	if err != nil {
		return err
	}
	t.footer = f
	return nil
}

func (t *Table) readFilter(ctx context.Context) error {
	var (
		c   BlockContents
		err error
	)
	if t.meta.Filter.Length > 0 {
		c, err = t.br.ReadFilterBlock(ctx, t.meta.Filter, &t.ro, t.meta.Node)
	} else {
		h, ok, herr := t.filterHandle(ctx)
		if herr != nil || !ok {
			return herr
		}
		c, err = t.br.ReadDataBlock(ctx, &t.ro, h)
	}
	if err != nil {
		return err
	}
	t.filter, err = c.Uncompressed()
	return err
}

// filterHandle looks up "filter.<policy>" in the meta-index block.
func (t *Table) filterHandle(ctx context.Context) (BlockHandle, bool, error) {
	if err := t.readFooter(ctx); err != nil {
		return BlockHandle{}, false, err
	}
	c, err := t.br.ReadDataBlock(ctx, &t.ro, t.footer.MetaIndex)
	if err != nil {
		return BlockHandle{}, false, err
	}
	b, err := c.Uncompressed()
	if err != nil {
		return BlockHandle{}, false, err
	}
	it, err := newBlockIter(b, util.BytewiseComparator)
	if err != nil {
		return BlockHandle{}, false, err
	}
	key := []byte("filter." + t.policy.Name())
	if !it.Seek(key) || !bytes.Equal(it.Key(), key) {
		return BlockHandle{}, false, it.Err()
	}
	h, _, err := DecodeBlockHandle(it.Value())
	return h, err == nil, err
}

func (t *Table) readBlock(ctx context.Context, h BlockHandle) (*BlockIter, error) {
	c, err := t.br.ReadDataBlock(ctx, &t.ro, h)
	if err != nil {
		return nil, err
	}
	b, err := c.Uncompressed()
	if err != nil {
		return nil, err
	}
	return newBlockIter(b, t.cmp)
}

// Get returns the value stored for key, or ErrNotFound. The value must not be
// modified.
func (t *Table) Get(ctx context.Context, key []byte) ([]byte, error) {
	if t.filter != nil && !t.policy.KeyMayMatch(key, t.filter) {
		return nil, ErrNotFound
	}
	indexIter, err := newBlockIter(t.index, t.cmp)
	if err != nil {
		return nil, err
	}
	if !indexIter.Seek(key) {
		if err := indexIter.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	h, _, err := DecodeBlockHandle(indexIter.Value())
	if err != nil {
		return nil, err
	}
	dataIter, err := t.readBlock(ctx, h)
	if err != nil {
		return nil, err
	}
	if !dataIter.Seek(key) || t.cmp.Compare(dataIter.Key(), key) != 0 {
		if err := dataIter.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return dataIter.Value(), nil
}

// NewIterator returns an iterator over the whole table.
func (t *Table) NewIterator(ctx context.Context) *TableIter {
	it := &TableIter{ctx: ctx, t: t}
	it.indexIter, it.err = newBlockIter(t.index, t.cmp)
	return it
}

// Footer returns the footer if Open had to read it.
func (t *Table) Footer() (Footer, bool) {
	return t.footer, t.footer.Index.Valid()
}

// TableIter walks a table block by block, reading each data block when it is
// reached.
type TableIter struct {
	ctx       context.Context
	t         *Table
	indexIter *BlockIter
	dataIter  *BlockIter
	err       error
}

func (i *TableIter) Key() []byte {
	if i.dataIter == nil {
		return nil
	}
	return i.dataIter.Key()
}

func (i *TableIter) Value() []byte {
	if i.dataIter == nil {
		return nil
	}
	return i.dataIter.Value()
}

// Err returns the error that stopped the iterator; nil after a clean end.
func (i *TableIter) Err() error {
	return i.err
}

// Next advances to the next entry and reports whether there is one.
func (i *TableIter) Next() bool {
	if i.err != nil {
		return false
	}
	for {
		if i.dataIter != nil {
			err := i.dataIter.Next()
			if err == nil {
				return true
			}
			if err != errEndOfBlock {
				i.err = err
				return false
			}
		}
		if !i.nextBlock() {
			return false
		}
	}
}

func (i *TableIter) nextBlock() bool {
	if err := i.indexIter.Next(); err != nil {
		if err != errEndOfBlock {
			i.err = err
		}
		i.dataIter = nil
		return false
	}
	h, _, err := DecodeBlockHandle(i.indexIter.Value())
	if err != nil {
		i.err = err
		return false
	}
	i.dataIter, i.err = i.t.readBlock(i.ctx, h)
	return i.err == nil
}

// Seek positions the iterator at the first entry >= key.
func (i *TableIter) Seek(key []byte) bool {
	if i.indexIter == nil {
		return false
	}
	i.err = nil
	i.dataIter = nil
	if !i.indexIter.Seek(key) {
		i.err = i.indexIter.Err()
		return false
	}
	h, _, err := DecodeBlockHandle(i.indexIter.Value())
	if err != nil {
		i.err = err
		return false
	}
	if i.dataIter, i.err = i.t.readBlock(i.ctx, h); i.err != nil {
		return false
	}
	if !i.dataIter.Seek(key) {
		i.err = i.dataIter.Err()
		return false
	}
	return true
}
