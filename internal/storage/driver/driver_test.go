package driver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/georgeshao/o2c-triage/internal/config"
	"github.com/georgeshao/o2c-triage/internal/storage/pebbledb"
	"github.com/georgeshao/o2c-triage/internal/storage/sqlite"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(ctx, config.StorageConfig{Driver: config.DriverSQLite, Path: filepath.Join(dir, "cases.db")})
	if err != nil {
		t.Fatalf("Open(sqlite) failed: %v", err)
	}
	if _, ok := store.(*sqlite.SQLiteStore); !ok {
		t.Errorf("Open(sqlite) = %T", store)
	}
	store.Close()

	store, err = Open(ctx, config.StorageConfig{Driver: config.DriverPebble, Path: filepath.Join(dir, "pebble")})
	if err != nil {
		t.Fatalf("Open(pebble) failed: %v", err)
	}
	if _, ok := store.(*pebbledb.PebbleStore); !ok {
		t.Errorf("Open(pebble) = %T", store)
	}
	store.Close()

	if _, err := Open(ctx, config.StorageConfig{Driver: "mongo"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
