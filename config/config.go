// Package config loads the client configuration from TOML or YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultChainID      = 1
	DefaultProof        = "none"
	DefaultMaxAttempts  = 7
	DefaultRequestCount = 1
	DefaultNodeLimit    = 0
	DefaultTimeout      = 10 * time.Second
	DefaultBlacklistTTL = time.Hour
	DefaultCacheBackend = "leveldb"
	DefaultCachePath    = "./trustclient-cache"
	DefaultLogLevel     = "info"
	DefaultListen       = ":8545"
)

type Config struct {
	ChainID            uint64   `toml:"ChainID" yaml:"chainId"`
	Proof              string   `toml:"Proof" yaml:"proof"`
	RequestCount       int      `toml:"RequestCount" yaml:"requestCount"`
	SignatureCount     int      `toml:"SignatureCount" yaml:"signatureCount"`
	MaxAttempts        int      `toml:"MaxAttempts" yaml:"maxAttempts"`
	MaxPending         int      `toml:"MaxPending" yaml:"maxPending"`
	Finality           uint16   `toml:"Finality,omitempty" yaml:"finality,omitempty"`
	LatestBlock        uint16   `toml:"LatestBlock,omitempty" yaml:"latestBlock,omitempty"`
	MinDeposit         uint64   `toml:"MinDeposit" yaml:"minDeposit"`
	NodeProps          string   `toml:"NodeProps,omitempty" yaml:"nodeProps,omitempty"`
	NodeLimit          int      `toml:"NodeLimit" yaml:"nodeLimit"`
	ReplaceLatestBlock uint8    `toml:"ReplaceLatestBlock" yaml:"replaceLatestBlock"`
	AutoUpdateList     bool     `toml:"AutoUpdateList" yaml:"autoUpdateList"`
	BootWeights        bool     `toml:"BootWeights" yaml:"bootWeights"`
	UseHTTP            bool     `toml:"UseHTTP" yaml:"useHttp"`
	BlacklistTTL       Duration `toml:"BlacklistTTL" yaml:"blacklistTTL"`
	Timeout            Duration `toml:"Timeout" yaml:"timeout"`
	RequestsPerSecond  float64  `toml:"RequestsPerSecond,omitempty" yaml:"requestsPerSecond,omitempty"`

	Cache     Cache     `toml:"Cache" yaml:"cache"`
	Signer    Signer    `toml:"Signer" yaml:"signer"`
	Log       Log       `toml:"Log" yaml:"log"`
	Telemetry Telemetry `toml:"Telemetry" yaml:"telemetry"`
	Gateway   Gateway   `toml:"Gateway" yaml:"gateway"`
	Chains    []Chain   `toml:"Chains,omitempty" yaml:"chains,omitempty"`
}

// Default returns the configuration written for a missing file.
func Default() *Config {
	return &Config{
		ChainID:        DefaultChainID,
		Proof:          DefaultProof,
		RequestCount:   DefaultRequestCount,
		MaxAttempts:    DefaultMaxAttempts,
		NodeLimit:      DefaultNodeLimit,
		AutoUpdateList: true,
		BlacklistTTL:   Duration(DefaultBlacklistTTL),
		Timeout:        Duration(DefaultTimeout),
		Cache:          Cache{Backend: DefaultCacheBackend, Path: DefaultCachePath},
		Log:            Log{Level: DefaultLogLevel},
		Gateway:        Gateway{Listen: DefaultListen, RequestsPerMinute: 600, Burst: 60},
	}
}

// Load reads the configuration at path. A missing file is created with the
// defaults. Files ending in .yaml or .yml are YAML, everything else TOML.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ChainID == 0 {
		c.ChainID = DefaultChainID
	}
	if strings.TrimSpace(c.Proof) == "" {
		c.Proof = DefaultProof
	}
	if c.BlacklistTTL == 0 {
		c.BlacklistTTL = Duration(DefaultBlacklistTTL)
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(DefaultTimeout)
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = DefaultCacheBackend
	}
	if c.Cache.Backend == "leveldb" && c.Cache.Path == "" {
		c.Cache.Path = DefaultCachePath
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Gateway.Listen == "" {
		c.Gateway.Listen = DefaultListen
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path in the format its extension selects.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// EffectiveChains returns the built-in chains overlaid with the configured
// ones. A configured chain replaces the non-empty fields of a preset with the
// same id; boot nodes are appended unless their address is already listed.
func (c *Config) EffectiveChains() []Chain {
	out := make([]Chain, 0, len(presets)+len(c.Chains))
	index := make(map[uint64]int)
	for _, p := range Presets() {
		index[p.ChainID] = len(out)
		out = append(out, p)
	}
	for _, ch := range c.Chains {
		i, ok := index[ch.ChainID]
		if !ok {
			index[ch.ChainID] = len(out)
			out = append(out, cloneChain(ch))
			continue
		}
		out[i] = mergeChain(out[i], ch)
	}
	return out
}

// Chain returns the effective configuration of chainID.
func (c *Config) Chain(chainID uint64) (Chain, bool) {
	for _, ch := range c.EffectiveChains() {
		if ch.ChainID == chainID {
			return ch, true
		}
	}
	return Chain{}, false
}

func mergeChain(base, over Chain) Chain {
	if over.Contract != "" {
		base.Contract = over.Contract
	}
	if over.RegistryID != "" {
		base.RegistryID = over.RegistryID
	}
	if over.WhiteListContract != "" {
		base.WhiteListContract = over.WhiteListContract
	}
	if len(over.WhiteList) > 0 {
		base.WhiteList = append([]string(nil), over.WhiteList...)
	}
	if over.AvgBlockTime != 0 {
		base.AvgBlockTime = over.AvgBlockTime
	}
	if over.SeedDomain != "" {
		base.SeedDomain = over.SeedDomain
	}
	base.NeedsUpdate = base.NeedsUpdate || over.NeedsUpdate
	for _, n := range over.NodeList {
		replaced := false
		for i := range base.NodeList {
			if strings.EqualFold(base.NodeList[i].Address, n.Address) {
				base.NodeList[i] = n
				replaced = true
				break
			}
		}
		if !replaced {
			base.NodeList = append(base.NodeList, n)
		}
	}
	return base
}

func cloneChain(ch Chain) Chain {
	ch.WhiteList = append([]string(nil), ch.WhiteList...)
	ch.NodeList = append([]Node(nil), ch.NodeList...)
	return ch
}
