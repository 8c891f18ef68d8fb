// Command tabledump writes tables and serves them from a simulated fabric:
// table files are mapped on the nodes a YAML config lists, and lookups go
// through the same block reader a storage node would use.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"github.com/cockroachdb/errors"
	"io"
	"log"
	"os"
	"os/signal"
	"rdmatable/filter"
	"rdmatable/memdb"
	"rdmatable/table"
	"rdmatable/util"
	"strings"
	"syscall"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "build":
		buildCmd(os.Args[2:])
	case "dump":
		dumpCmd(os.Args[2:])
	case "get":
		getCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: tabledump <command> [options]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  build  Write a table from tab separated key/value lines")
	fmt.Fprintln(os.Stderr, "  dump   Print the footer and every entry of the configured table")
	fmt.Fprintln(os.Stderr, "  get    Look up keys in the configured table")
}

func buildCmd(args []string) {
	flags := flag.NewFlagSet("build", flag.ExitOnError)
	in := flags.String("in", "", "input file of key<TAB>value lines (default stdin)")
	out := flags.String("out", "", "table file to write (required)")
	compression := flags.String("compression", "none", "block compression: none|snappy|zstd|s2")
	checksum := flags.String("checksum", "crc32c", "trailer checksum: crc32c|xxhash64")
	blockSize := flags.Int("block-size", table.TableMaxBlockSize, "target data block size in bytes")
	bloom := flags.Int("bloom", 0, "bloom filter bits per key (0 disables the filter)")
	track := flags.Bool("track-records", false, "write single-entry addressable blocks")
	flags.Parse(args)
	if *out == "" {
		log.Fatalf("build: --out is required")
	}

	opts := &table.WriterOptions{BlockSize: *blockSize, TrackRecords: *track}
	var err error
	if opts.Compression, err = parseCompression(*compression); err != nil {
		log.Fatalf("build: %v", err)
	}
	if opts.Checksum, err = (&Config{Checksum: *checksum}).checksum(); err != nil {
		log.Fatalf("build: %v", err)
	}
	if *bloom > 0 {
		opts.FilterPolicy = filter.NewBloomPolicy(*bloom)
	}

	r := io.Reader(os.Stdin)
	if *in != "" {
		f, err := os.Open(*in)
		if err != nil {
			log.Fatalf("build: %v", err)
		}
		defer f.Close()
		r = f
	}
	kvs, err := readKVs(r)
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	layout, err := writeTable(f, kvs, opts)
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	log.Printf("build: wrote %d entries to %s (%d bytes, index %d+%d)",
		kvs.Len(), *out, layout.Size, layout.Index.Offset, layout.Index.Size)
}

func dumpCmd(args []string) {
	flags := flag.NewFlagSet("dump", flag.ExitOnError)
	configPath := flags.String("config", "", "config yaml (required)")
	start := flags.String("start", "", "first key to print")
	limit := flags.Int("limit", 0, "maximum entries to print (0 for all)")
	flags.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	c := mustOpen(ctx, *configPath)
	defer func() { _ = c.Close() }()

	if f, ok := c.table.Footer(); ok {
		fmt.Printf("footer: metaindex %d+%d index %d+%d\n",
			f.MetaIndex.Offset, f.MetaIndex.Size, f.Index.Offset, f.Index.Size)
	}
	if err := dump(os.Stdout, c.table.NewIterator(ctx), []byte(*start), *limit); err != nil {
		log.Fatalf("dump: %v", err)
	}
	log.Printf("dump: %d remote reads across nodes %v", c.fabric.Reads(), c.br.Registry().Nodes())
}

func getCmd(args []string) {
	flags := flag.NewFlagSet("get", flag.ExitOnError)
	configPath := flags.String("config", "", "config yaml (required)")
	flags.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	c := mustOpen(ctx, *configPath)
	defer func() { _ = c.Close() }()

	for _, key := range flags.Args() {
		v, err := c.table.Get(ctx, []byte(key))
		switch {
		case errors.Is(err, table.ErrNotFound):
			fmt.Printf("%s\t(not found)\n", key)
		case err != nil:
			log.Fatalf("get %q: %v", key, err)
		default:
			fmt.Printf("%s\t%s\n", key, v)
		}
	}
}

func mustOpen(ctx context.Context, configPath string) *cluster {
	if configPath == "" {
		log.Fatalf("--config is required")
	}
	cfg, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	c, err := openCluster(ctx, cfg, log.Printf)
	if err != nil {
		log.Fatalf("open %s: %v", cfg.Table.Path, err)
	}
	return c
}

func parseCompression(s string) (table.CompressionType, error) {
	for _, c := range []table.CompressionType{
		table.NoCompression, table.SnappyCompression, table.ZstdCompression, table.S2Compression,
	} {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	return 0, errors.Newf("unknown compression %q", s)
}

// readKVs stages key<TAB>value lines in key order. A repeated key keeps its
// last value.
func readKVs(r io.Reader) (*memdb.MemDB, error) {
	m := memdb.NewMemDB(util.BytewiseComparator)
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 16<<20)
	for line := 1; s.Scan(); line++ {
		text := s.Text()
		if text == "" {
			continue
		}
		k, v, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, errors.Newf("line %d: missing tab", line)
		}
		m.Put([]byte(k), []byte(v))
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// writeTable flushes m into a table on w and closes it.
func writeTable(w io.WriteCloser, m *memdb.MemDB, o *table.WriterOptions) (table.Layout, error) {
	tw := table.NewWriter(w, o)
	if _, err := m.Flush(tw); err != nil {
		_ = tw.Close()
		return table.Layout{}, err
	}
	if err := tw.Close(); err != nil {
		return table.Layout{}, err
	}
	return tw.Layout(), nil
}

func dump(w io.Writer, it *table.TableIter, start []byte, limit int) error {
	var ok bool
	if len(start) > 0 {
		ok = it.Seek(start)
	} else {
		ok = it.Next()
	}
	for n := 0; ok && (limit <= 0 || n < limit); n++ {
		if _, err := fmt.Fprintf(w, "%q\t%q\n", it.Key(), it.Value()); err != nil {
			return err
		}
		ok = it.Next()
	}
	return it.Err()
}
