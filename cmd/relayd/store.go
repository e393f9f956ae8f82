package main

import (
	"path/filepath"

	"github.com/blockberries/relay/config"
	"github.com/blockberries/relay/store"
)

// openStore opens the state of chain under the data directory.
func openStore(cfg config.Config, chain string) (store.Backend, error) {
	if cfg.InMemory {
		return store.NewMemDB(), nil
	}
	db, err := store.OpenLevelDB(filepath.Join(cfg.DataDir, chain))
	if err != nil {
		return nil, err
	}
	return db, nil
}
