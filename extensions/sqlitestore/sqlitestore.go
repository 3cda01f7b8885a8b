// Package sqlitestore provides a durable mauzr.Store on top of a SQLite file.
//
// Every Set and Delete is committed before it returns, so pending deliveries
// survive a crash without waiting for Sync. Sync checkpoints the write ahead
// log into the main database file.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/eqrx/mauzr"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600

	// FileName is the database file created inside an agent data directory.
	FileName = "ledger.db"

	pingTimeout = 5 * time.Second
)

const schema = `CREATE TABLE IF NOT EXISTS ledger (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
)`

// Store is a mauzr.Store backed by a single SQLite table.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

var _ mauzr.Store = (*Store)(nil)

// Open opens or creates the database at path, creating parent directories
// as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// One connection serializes writers and keeps the WAL consistent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("verifying store: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("creating ledger table: %w", err)
	}

	_ = os.Chmod(path, filePermissions) //nolint:errcheck

	return &Store{db: db, path: path}, nil
}

// OpenDir opens FileName inside dir.
func OpenDir(dir string) (*Store, error) {
	return Open(filepath.Join(dir, FileName))
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value of key and whether it exists.
func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, mauzr.ErrStoreClosed
	}

	var value []byte
	err := s.db.QueryRow(`SELECT value FROM ledger WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %q: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

// Set stores value under key.
func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mauzr.ErrStoreClosed
	}

	if value == nil {
		value = []byte{}
	}

	_, err := s.db.Exec(
		`INSERT INTO ledger (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mauzr.ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM ledger WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}

// Items returns every key and value.
func (s *Store) Items() (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, mauzr.ErrStoreClosed
	}

	rows, err := s.db.Query(`SELECT key, value FROM ledger`)
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]byte)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("listing ledger: %w", err)
		}
		if value == nil {
			value = []byte{}
		}
		items[key] = value
	}

	return items, rows.Err()
}

// Sync checkpoints the write ahead log.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mauzr.ErrStoreClosed
	}

	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(PASSIVE)`); err != nil {
		return fmt.Errorf("checkpointing store: %w", err)
	}
	return nil
}

// Close checkpoints and closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_, cpErr := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	if cpErr != nil {
		return fmt.Errorf("checkpointing store: %w", cpErr)
	}
	return nil
}
