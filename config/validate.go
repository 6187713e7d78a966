package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var validProofs = map[string]bool{"none": true, "standard": true, "full": true}

// Validate checks the configuration. It reports every problem it finds.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("MaxAttempts must be positive"))
	}
	if c.RequestCount <= 0 {
		errs = append(errs, fmt.Errorf("RequestCount must be positive"))
	}
	if c.SignatureCount < 0 {
		errs = append(errs, fmt.Errorf("SignatureCount must not be negative"))
	}
	if c.MaxPending < 0 {
		errs = append(errs, fmt.Errorf("MaxPending must not be negative"))
	}
	if c.NodeLimit < 0 {
		errs = append(errs, fmt.Errorf("NodeLimit must not be negative"))
	}
	if !validProofs[strings.ToLower(c.Proof)] {
		errs = append(errs, fmt.Errorf("unknown Proof %q", c.Proof))
	}
	if c.NodeProps != "" {
		if _, err := ParseProps(c.NodeProps); err != nil {
			errs = append(errs, fmt.Errorf("NodeProps: %w", err))
		}
	}
	switch c.Cache.Backend {
	case "none", "memory", "leveldb", "sqlite":
	case "postgres":
		if c.Cache.DSN == "" {
			errs = append(errs, fmt.Errorf("Cache.DSN is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown Cache.Backend %q", c.Cache.Backend))
	}
	if c.Signer.Keystore != "" && c.Signer.PassphraseEnv == "" {
		errs = append(errs, fmt.Errorf("Signer.PassphraseEnv is required with a keystore"))
	}

	seen := make(map[uint64]bool)
	for _, ch := range c.Chains {
		if seen[ch.ChainID] {
			errs = append(errs, fmt.Errorf("chain %d is configured twice", ch.ChainID))
		}
		seen[ch.ChainID] = true
		if err := ch.validate(); err != nil {
			errs = append(errs, fmt.Errorf("chain %d: %w", ch.ChainID, err))
		}
	}
	return errors.Join(errs...)
}

func (ch Chain) validate() error {
	if ch.ChainID == 0 {
		return fmt.Errorf("ChainID is required")
	}
	if ch.WhiteListContract != "" && len(ch.WhiteList) > 0 {
		return fmt.Errorf("WhiteListContract and WhiteList are mutually exclusive")
	}
	for _, addr := range []string{ch.Contract, ch.WhiteListContract} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid address %q", addr)
		}
	}
	if ch.RegistryID != "" {
		raw := strings.TrimPrefix(ch.RegistryID, "0x")
		if len(raw) != 64 {
			return fmt.Errorf("invalid RegistryID %q", ch.RegistryID)
		}
	}
	for _, addr := range ch.WhiteList {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid whitelist address %q", addr)
		}
	}
	for i, n := range ch.NodeList {
		if !common.IsHexAddress(n.Address) {
			return fmt.Errorf("node %d: invalid address %q", i, n.Address)
		}
		u, err := url.Parse(n.URL)
		if n.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("node %d: invalid url %q", i, n.URL)
		}
		if n.Props != "" {
			if _, err := ParseProps(n.Props); err != nil {
				return fmt.Errorf("node %d: %w", i, err)
			}
		}
	}
	return nil
}

// ParseProps parses a capability mask written in hex ("0xFFFF") or decimal.
func ParseProps(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid props %q", s)
	}
	return v, nil
}
