package store

import (
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLite implements KV on a single-file SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ KV = (*SQLite)(nil)

// NewSQLite opens (and initializes if needed) a SQLite-backed store.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)
	`)
	if err != nil {
		return nil, errors.Wrap(err, "creating kv table")
	}

	return &SQLite{db: db}, nil
}

// Get a value.
func (s *SQLite) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "querying kv")
	}
	return value, true, nil
}

// Set a value, replacing any previous one.
func (s *SQLite) Set(key string, value []byte) error {
	_, err := s.db.Exec(`REPLACE INTO kv (key, value) VALUES (?, ?)`, key, value)
	return errors.Wrap(err, "writing kv")
}

// Close the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
