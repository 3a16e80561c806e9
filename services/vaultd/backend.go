package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"vaultledger/native/vault"
	"vaultledger/services/vaultd/config"
	"vaultledger/services/vaultd/server"
	"vaultledger/state/ledger"
	"vaultledger/state/vaultstate"
	"vaultledger/storage"
	"vaultledger/storage/sqlstore"
)

// backend bundles the record store and the ledger selected by configuration.
type backend struct {
	state    vault.State
	ledger   vault.Ledger
	holdings server.Holdings
	closer   io.Closer
}

func openBackend(cfg config.StorageConfig) (*backend, error) {
	switch cfg.Backend {
	case "memory":
		return kvBackend(storage.NewMemDB()), nil
	case "leveldb":
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open leveldb %s: %w", cfg.Path, err)
		}
		return kvBackend(db), nil
	case "bolt":
		if dir := filepath.Dir(cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create bolt dir: %w", err)
			}
		}
		db, err := storage.NewBoltDB(cfg.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("open bolt %s: %w", cfg.Path, err)
		}
		return kvBackend(db), nil
	case "sqlite", "postgres":
		store, err := sqlstore.Open(cfg.Backend, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
		}
		return &backend{state: store, ledger: store, holdings: store, closer: store}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func kvBackend(db storage.Database) *backend {
	book := ledger.New(db, nil)
	return &backend{
		state:    vaultstate.NewManager(db),
		ledger:   book,
		holdings: book,
		closer:   db,
	}
}

// engineConfig loads the TOML module file and applies daemon overrides.
func engineConfig(cfg config.EngineConfig) (vault.Config, error) {
	engineCfg, err := vault.LoadConfig(cfg.ConfigPath)
	if err != nil {
		return vault.Config{}, err
	}
	if cfg.RepaySplit != "" {
		engineCfg.RepaySplit = vault.RepaySplit(cfg.RepaySplit)
	}
	if cfg.Paused {
		engineCfg.Paused = true
	}
	engineCfg.EnsureDefaults()
	if err := engineCfg.Validate(); err != nil {
		return vault.Config{}, err
	}
	return engineCfg, nil
}
