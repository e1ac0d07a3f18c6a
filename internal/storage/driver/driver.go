// Package driver opens the storage.Store selected by configuration.
package driver

import (
	"context"
	"fmt"

	"github.com/georgeshao/o2c-triage/internal/config"
	"github.com/georgeshao/o2c-triage/internal/storage"
	"github.com/georgeshao/o2c-triage/internal/storage/pebbledb"
	"github.com/georgeshao/o2c-triage/internal/storage/postgres"
	"github.com/georgeshao/o2c-triage/internal/storage/sqlite"
)

func Open(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)

	switch cfg.Driver {
	case config.DriverSQLite, "":
		var s *sqlite.SQLiteStore
		s, err = sqlite.New(cfg.Path)
		store = s
	case config.DriverPebble:
		var s *pebbledb.PebbleStore
		s, err = pebbledb.New(cfg.Path)
		store = s
	case config.DriverPostgres:
		var s *postgres.PostgresStore
		s, err = postgres.New(ctx, postgres.Config{URL: cfg.URL, MaxConns: cfg.MaxConns}, nil)
		store = s
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Driver, err)
	}
	return store, nil
}
