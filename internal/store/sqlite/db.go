// Package sqlite implements the Tracking Store (internal/store) over a
// per-organization SQLite file, using the CGO-free modernc.org/sqlite
// driver. It is the CLI's default backend when no Postgres DSN is
// configured, and the backend used for local/dev/test runs, grounded on
// the original email-tracking system's one-file-per-organization layout.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Open opens (creating if absent) the SQLite database at path, with WAL
// journaling and a busy timeout so concurrent BEGIN IMMEDIATE callers
// block briefly instead of failing immediately with SQLITE_BUSY.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	// A single shared write connection avoids SQLITE_BUSY under the
	// single-writer semantics BEGIN IMMEDIATE relies on for linearizable
	// claimChunk/finalize.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	return db, nil
}

// PathForOrg returns the per-organization database file path under dir,
// e.g. "email_tracking_42.db".
func PathForOrg(dir string, orgID int) string {
	return fmt.Sprintf("%s/email_tracking_%d.db", dir, orgID)
}
