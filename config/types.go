package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration written as "90s" or "1h" in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Node is a boot node.
type Node struct {
	URL     string `toml:"URL" yaml:"url"`
	Address string `toml:"Address" yaml:"address"`
	// Props is a hex or decimal capability mask. Empty means all capabilities.
	Props string `toml:"Props,omitempty" yaml:"props,omitempty"`
}

// Chain describes the registry of one chain.
type Chain struct {
	ChainID           uint64   `toml:"ChainID" yaml:"chainId"`
	Contract          string   `toml:"Contract,omitempty" yaml:"contract,omitempty"`
	RegistryID        string   `toml:"RegistryID,omitempty" yaml:"registryId,omitempty"`
	WhiteListContract string   `toml:"WhiteListContract,omitempty" yaml:"whiteListContract,omitempty"`
	WhiteList         []string `toml:"WhiteList,omitempty" yaml:"whiteList,omitempty"`
	NeedsUpdate       bool     `toml:"NeedsUpdate,omitempty" yaml:"needsUpdate,omitempty"`
	AvgBlockTime      uint16   `toml:"AvgBlockTime,omitempty" yaml:"avgBlockTime,omitempty"`
	SeedDomain        string   `toml:"SeedDomain,omitempty" yaml:"seedDomain,omitempty"`
	NodeList          []Node   `toml:"NodeList,omitempty" yaml:"nodeList,omitempty"`
}

// Cache selects where node registries are persisted.
type Cache struct {
	Backend string `toml:"Backend" yaml:"backend"`
	Path    string `toml:"Path,omitempty" yaml:"path,omitempty"`
	DSN     string `toml:"DSN,omitempty" yaml:"dsn,omitempty"`
	Size    int    `toml:"Size,omitempty" yaml:"size,omitempty"`
}

// Signer points to an encrypted keystore. The passphrase is read from the
// environment variable PassphraseEnv.
type Signer struct {
	Keystore      string `toml:"Keystore,omitempty" yaml:"keystore,omitempty"`
	PassphraseEnv string `toml:"PassphraseEnv,omitempty" yaml:"passphraseEnv,omitempty"`
}

// Log controls log output. An empty File logs to stdout.
type Log struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB,omitempty" yaml:"maxSizeMB,omitempty"`
	MaxBackups int    `toml:"MaxBackups,omitempty" yaml:"maxBackups,omitempty"`
}

// Telemetry configures the OTLP exporters. An empty Endpoint disables them.
type Telemetry struct {
	Endpoint string `toml:"Endpoint,omitempty" yaml:"endpoint,omitempty"`
	Insecure bool   `toml:"Insecure,omitempty" yaml:"insecure,omitempty"`
	Headers  string `toml:"Headers,omitempty" yaml:"headers,omitempty"`
}

// Gateway configures the JSON-RPC proxy server. Bearer tokens are required
// when AuthSecretEnv names a non-empty environment variable.
type Gateway struct {
	Listen            string   `toml:"Listen" yaml:"listen"`
	RequestsPerMinute float64  `toml:"RequestsPerMinute" yaml:"requestsPerMinute"`
	Burst             int      `toml:"Burst" yaml:"burst"`
	AllowedOrigins    []string `toml:"AllowedOrigins,omitempty" yaml:"allowedOrigins,omitempty"`
	AuthSecretEnv     string   `toml:"AuthSecretEnv,omitempty" yaml:"authSecretEnv,omitempty"`
	AuthIssuer        string   `toml:"AuthIssuer,omitempty" yaml:"authIssuer,omitempty"`
	AuthAudience      string   `toml:"AuthAudience,omitempty" yaml:"authAudience,omitempty"`
}
