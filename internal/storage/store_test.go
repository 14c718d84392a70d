package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/willibrandon/devicealarm/internal/config"
)

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarms.db")

	store, err := Open(context.Background(), config.StorageConfig{Driver: config.DriverSQLite, Path: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	rules, err := store.ListRules(context.Background())
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("expected empty catalog, got %d rules", len(rules))
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.StorageConfig{Driver: "oracle"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
