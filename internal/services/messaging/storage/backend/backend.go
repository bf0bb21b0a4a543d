// Package backend selects and opens the configured messaging store.
package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/louisbranch/threadline/internal/services/messaging/storage"
	"github.com/louisbranch/threadline/internal/services/messaging/storage/postgres"
	"github.com/louisbranch/threadline/internal/services/messaging/storage/sqlite"
)

const (
	// DriverSQLite stores state in a local file.
	DriverSQLite = "sqlite"
	// DriverPostgres stores state in a PostgreSQL database.
	DriverPostgres = "postgres"
)

// Config names the driver and its connection target.
type Config struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

// Open opens the store named by cfg.Driver. SQLite parent directories are
// created on demand.
func Open(ctx context.Context, cfg Config) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		path := strings.TrimSpace(cfg.SQLitePath)
		if path == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case DriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
