// Package db keeps an SQLite journal of path decisions and root changes.
package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const accessLogDDL = `
CREATE TABLE IF NOT EXISTS access_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  tool TEXT NOT NULL,
  requested TEXT NOT NULL,
  resolved TEXT NOT NULL DEFAULT '',
  decision TEXT NOT NULL,
  reason TEXT NOT NULL,
  link_count INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL
);
`

const rootEventsDDL = `
CREATE TABLE IF NOT EXISTS root_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source TEXT NOT NULL,
  dirs TEXT NOT NULL,
  created_at DATETIME NOT NULL
);
`

// Store is an open journal. A nil *Store is a disabled journal: writes are
// dropped and reads return nothing.
type Store struct {
	conn *sql.DB
}

// Open opens SQLite at dbPath, creating its directory, and runs migrations.
func Open(dbPath string) (*Store, error) {
	if !strings.HasPrefix(dbPath, ":memory:") && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection: writes are serialized and :memory: stays a single database.
	conn.SetMaxOpenConns(1)
	for _, q := range []string{"PRAGMA busy_timeout = 5000", accessLogDDL, rootEventsDDL} {
		if _, err := conn.Exec(q); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return &Store{conn: conn}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.conn.Close()
}
