package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the local key/value state: the composer draft, preferences and
// bookkeeping such as when the last digest went out.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer keeps sqlite from reporting SQLITE_BUSY between goroutines.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Get returns the value stored under key. ok is false when the key is absent.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set inserts or replaces the value under key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, s.now().UTC())
	return err
}

// Delete removes keys. Missing keys are ignored.
func (s *Store) Delete(keys ...string) error {
	for _, key := range keys {
		if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
			return err
		}
	}
	return nil
}

// GetTime reads a timestamp stored with SetTime.
func (s *Store) GetTime(key string) (time.Time, bool, error) {
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// SetTime stores t under key.
func (s *Store) SetTime(key string, t time.Time) error {
	return s.Set(key, t.UTC().Format(time.RFC3339Nano))
}
