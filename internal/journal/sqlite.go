// ABOUTME: SQLite-backed journal using modernc.org/sqlite
// ABOUTME: Opens the database, enables WAL and creates the schema

package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Journal is the reconciliation journal.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the journal at path. Parent directories are created
// if needed.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "journal")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	// One writer; the tracker reconciles uplinks one at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	j := &Journal{db: db, logger: logger}
	if err := j.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("journal opened", "path", path)
	return j, nil
}

func (j *Journal) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS reconciliations (
			entry_id         TEXT PRIMARY KEY,
			dev_eui          TEXT NOT NULL,
			deduplication_id TEXT,
			branch           TEXT NOT NULL,
			state            TEXT NOT NULL,
			actions_json     TEXT NOT NULL,
			error            TEXT,
			ts               TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reconciliations_dev_eui
			ON reconciliations(dev_eui, ts);

		CREATE INDEX IF NOT EXISTS idx_reconciliations_ts
			ON reconciliations(ts);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
