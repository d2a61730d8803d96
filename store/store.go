// Package store provides the SQLite persistence layer for healing
// sessions, attempts, selector updates, steps and policies.
package store

import (
	"database/sql"
	"log/slog"

	"github.com/akkash/testbro-sub001/dbopen"
)

// Store is the healing database handle.
type Store struct {
	DB     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the healing SQLite database at path and
// applies the schema.
func Open(path string, logger *slog.Logger, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{DB: db, logger: logger}, nil
}

// New wraps an already-open database, for sharing one handle across
// components. The schema must have been applied by the opener.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{DB: db, logger: logger}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
