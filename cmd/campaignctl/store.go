package main

import (
	"context"
	"fmt"

	"github.com/jwalitptl/campaignsched/internal/config"
	"github.com/jwalitptl/campaignsched/internal/store"
	"github.com/jwalitptl/campaignsched/internal/store/postgres"
	"github.com/jwalitptl/campaignsched/internal/store/sqlite"
	"github.com/jwalitptl/campaignsched/pkg/metrics"
)

// openStore routes to the configured backend for orgID and ensures its
// schema exists. sqlite is the CLI's default, one file per organization
// per the Open Question decision in DESIGN.md; postgres is opt-in via
// database.driver. m is nil-safe: Postgres instruments InsertBatch,
// ClaimChunk and Finalize against it, and sqlite (which has no connection pool or
// query-level latency worth tracking beyond what the caller already
// times) ignores it.
func openStore(ctx context.Context, cfg config.DatabaseConfig, orgID int, m *metrics.Metrics) (store.Store, error) {
	var st store.Store
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.NewDB(postgres.Config{
			Host: cfg.Host, Port: cfg.Port, User: cfg.User,
			Password: cfg.Password, Name: cfg.Name, SSLMode: cfg.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		st = postgres.New(db, m)
	case "sqlite", "":
		dir := cfg.SQLitePath
		if dir == "" {
			dir = "."
		}
		db, err := sqlite.Open(sqlite.PathForOrg(dir, orgID))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		st = sqlite.New(db)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return st, nil
}
