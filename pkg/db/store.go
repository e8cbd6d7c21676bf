package db

import (
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Store is the durable dedup ledger for one profile. Each profile opens its
// own database file; isolation between profiles is by separate stores, never
// by row-level filtering.
type Store struct {
	db     *sqlx.DB
	logger *log.Logger
}

// NewStore opens (creating if needed) the SQLite database at dbPath and runs
// pending migrations. Any failure here is fatal for the run: without the
// ledger the pipeline cannot guarantee idempotency.
func NewStore(logger *log.Logger, dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create database directory %q", dir)
		}
	}

	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to SQLite at %q", dbPath)
	}

	// WAL lets a reader from another profile's process coexist with writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "enable WAL mode")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}

	if err := RunMigrations(db.DB, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
