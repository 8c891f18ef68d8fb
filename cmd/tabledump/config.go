package main

import (
	"encoding/hex"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
	"os"
	"path/filepath"
	"rdmatable/filter"
	"rdmatable/rdma"
	"rdmatable/table"
	"strings"
	"time"
)

// Config places table files on the nodes of a simulated fabric and names the
// table to serve.
type Config struct {
	LocalNode uint32       `yaml:"localNode"`
	Secret    string       `yaml:"secret"`
	Nodes     []NodeConfig `yaml:"nodes"`
	Table     TableConfig  `yaml:"table"`
	// VerifyChecksums defaults to true.
	VerifyChecksums *bool         `yaml:"verifyChecksums"`
	Timeout         time.Duration `yaml:"timeout"`
	Checksum        string        `yaml:"checksum"`
	BloomBitsPerKey int           `yaml:"bloomBitsPerKey"`
	Prefetch        bool          `yaml:"prefetch"`
}

// NodeConfig lists the table files a node holds.
type NodeConfig struct {
	ID     uint32   `yaml:"id"`
	Tables []string `yaml:"tables"`
}

// TableConfig selects a table and the node its index is read from.
type TableConfig struct {
	Node uint32 `yaml:"node"`
	Path string `yaml:"path"`
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrapf(err, "config: %s", path)
	}
	base := filepath.Dir(path)
	cfg.Table.Path = resolvePath(base, cfg.Table.Path)
	for i := range cfg.Nodes {
		for j, p := range cfg.Nodes[i].Tables {
			cfg.Nodes[i].Tables[j] = resolvePath(base, p)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePath makes relative paths relative to the config file.
func resolvePath(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func (c *Config) validate() error {
	if c.Table.Path == "" {
		return errors.New("config: table.path is required")
	}
	if _, err := c.secret(); err != nil {
		return err
	}
	if _, err := c.checksum(); err != nil {
		return err
	}
	seen := map[uint32]bool{}
	held, ownerHolds := false, false
	for _, n := range c.Nodes {
		if seen[n.ID] {
			return errors.Newf("config: node %d listed twice", n.ID)
		}
		seen[n.ID] = true
		for _, p := range n.Tables {
			if p == c.Table.Path {
				held = true
				ownerHolds = ownerHolds || n.ID == c.Table.Node
			}
		}
	}
	if !held {
		return errors.Newf("config: no node holds %s", c.Table.Path)
	}
	if !ownerHolds {
		return errors.Newf("config: node %d does not hold %s", c.Table.Node, c.Table.Path)
	}
	return nil
}

// secret decodes the hex access key secret. An empty secret gets a fixed
// development key.
func (c *Config) secret() ([]byte, error) {
	if c.Secret == "" {
		return make([]byte, rdma.AccessKeyLen), nil
	}
	b, err := hex.DecodeString(c.Secret)
	if err != nil {
		return nil, errors.Wrap(err, "config: secret")
	}
	if len(b) != rdma.AccessKeyLen {
		return nil, errors.Newf("config: secret must be %d hex encoded bytes, got %d", rdma.AccessKeyLen, len(b))
	}
	return b, nil
}

func (c *Config) checksum() (table.ChecksumType, error) {
	switch strings.ToLower(c.Checksum) {
	case "", "crc32c":
		return table.ChecksumCRC32c, nil
	case "xxhash", "xxhash64":
		return table.ChecksumXXHash64, nil
	}
	return 0, errors.Newf("config: unknown checksum %q", c.Checksum)
}

func (c *Config) readOptions() table.ReadOptions {
	return table.ReadOptions{
		IgnoreChecksums: c.VerifyChecksums != nil && !*c.VerifyChecksums,
		Timeout:         c.Timeout,
	}
}

func (c *Config) filterPolicy() table.FilterPolicy {
	if c.BloomBitsPerKey <= 0 {
		return nil
	}
	return filter.NewBloomPolicy(c.BloomBitsPerKey)
}
