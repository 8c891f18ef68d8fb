package main

import (
	"context"
	"github.com/cockroachdb/errors"
	"rdmatable/rdma"
	"rdmatable/table"
)

// cluster is the configured table mapped onto every node holding it.
type cluster struct {
	fabric *rdma.Fabric
	br     *table.BlockReader
	table  *table.Table
	mapped []rdma.MemoryRegion
}

func openCluster(ctx context.Context, cfg *Config, logf func(string, ...interface{})) (_ *cluster, err error) {
	secret, err := cfg.secret()
	if err != nil {
		return nil, err
	}
	ct, err := cfg.checksum()
	if err != nil {
		return nil, err
	}
	fabric, err := rdma.NewFabric(secret)
	if err != nil {
		return nil, err
	}
	c := &cluster{
		fabric: fabric,
		br: table.NewBlockReader(rdma.NewRegistry(cfg.LocalNode), fabric,
			&table.ReaderOptions{Checksum: ct, Logf: logf}),
	}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	var size uint64
	for _, n := range cfg.Nodes {
		for _, p := range n.Tables {
			if p != cfg.Table.Path {
				continue
			}
			m, err := fabric.Node(n.ID).RegisterFile(p)
			if err != nil {
				return nil, errors.Wrapf(err, "node %d: mapping %s", n.ID, p)
			}
			c.mapped = append(c.mapped, m)
			size = m.Length
			if n.ID != cfg.LocalNode {
				m = m.Detached()
			}
			if err := c.br.Registry().Register(n.ID, m); err != nil {
				return nil, err
			}
		}
	}

	ro := cfg.readOptions()
	if cfg.Prefetch && cfg.Table.Node != cfg.LocalNode {
		if err := c.br.Prefetch(ctx, &ro, 0, size); err != nil {
			return nil, errors.Wrap(err, "prefetch")
		}
	}
	c.table, err = table.Open(ctx, c.br, table.TableMeta{Node: cfg.Table.Node, Size: size}, &table.TableOptions{
		FilterPolicy: cfg.filterPolicy(),
		Read:         ro,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Close revokes and unmaps every region.
func (c *cluster) Close() error {
	var err error
	for _, m := range c.mapped {
		err = errors.CombineErrors(err, c.fabric.Node(m.NodeID).Deregister(m))
	}
	c.mapped = nil
	return err
}
