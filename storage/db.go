// Package storage provides the cache backends the client persists node
// registries in. Every backend implements plugin.Cache.
package storage

import (
	"fmt"
	"strings"

	"trustclient/plugin"
)

// Store is a cache that holds resources until closed.
type Store interface {
	plugin.Cache
	Close() error
}

// Backend names accepted by Open.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and parameterises a backend.
type Config struct {
	Backend string
	// Path is the LevelDB directory or the SQLite file.
	Path string
	// DSN is the Postgres connection string.
	DSN string
	// Size bounds the in-memory cache.
	Size int
}

// Open returns the configured store. The none backend returns nil, which
// disables persistence.
func Open(cfg Config) (Store, error) {
	var (
		store Store
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendNone:
		return nil, nil
	case "", BackendMemory:
		store, err = NewMemory(cfg.Size)
	case BackendLevelDB:
		if cfg.Path == "" {
			return nil, fmt.Errorf("leveldb cache requires a path")
		}
		store, err = NewLevelDB(cfg.Path)
	case BackendSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite cache requires a path")
		}
		store, err = NewSQLite(cfg.Path)
	case BackendPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres cache requires a dsn")
		}
		store, err = NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", cfg.Backend, err)
	}
	return store, nil
}
