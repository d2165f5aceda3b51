package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/sirupsen/logrus"
)

// SQLiteStorage implements Storage in a single SQLite database
type SQLiteStorage struct {
	db *sql.DB
}

// SQLiteCache implements GenericCache for one generation of a SQLiteStorage
type SQLiteCache struct {
	db   *sql.DB
	name string
}

// NewSQLite opens (or creates) the database at filename.
// If file name is empty, a private in-memory db is opened.
func NewSQLite(filename string) (*SQLiteStorage, error) {
	if filename == "" {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	// a single connection serializes writers and keeps in-memory databases shared
	db.SetMaxOpenConns(1)

	statements := []string{
		"PRAGMA foreign_keys = ON",
		`CREATE TABLE IF NOT EXISTS generations (
			name TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			generation TEXT NOT NULL REFERENCES generations(name) ON DELETE CASCADE,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			PRIMARY KEY (generation, key)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize cache database: %w", err)
		}
	}

	return &SQLiteStorage{db: db}, nil
}

// Open returns the named generation, creating it if absent
func (s *SQLiteStorage) Open(name string) (GenericCache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)",
		name, time.Now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation %s: %w", name, err)
	}
	return &SQLiteCache{db: s.db, name: name}, nil
}

// Lookup returns an existing generation
func (s *SQLiteStorage) Lookup(name string) (GenericCache, bool, error) {
	var found string
	err := s.db.QueryRow("SELECT name FROM generations WHERE name = ?", name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &SQLiteCache{db: s.db, name: name}, true, nil
}

// Names lists generations in creation order
func (s *SQLiteStorage) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM generations ORDER BY created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes a generation and its entries
func (s *SQLiteStorage) Delete(name string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM entries WHERE generation = ?", name); err != nil {
		return false, fmt.Errorf("failed to delete entries of generation %s: %w", name, err)
	}
	res, err := tx.Exec("DELETE FROM generations WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("failed to delete generation %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	if n > 0 {
		logrus.Debugf("Deleted sqlite cache generation: %s", name)
	}
	return n > 0, nil
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Get retrieves a cached entry
func (c *SQLiteCache) Get(key string) ([]byte, error) {
	var value []byte
	err := c.db.QueryRow(
		"SELECT value FROM entries WHERE generation = ? AND key = ?", c.name, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores an entry
func (c *SQLiteCache) Set(key string, value []byte) error {
	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO entries (generation, key, value) VALUES (?, ?, ?)",
		c.name, key, value,
	)
	if err != nil {
		var exists string
		if lookupErr := c.db.QueryRow("SELECT name FROM generations WHERE name = ?", c.name).Scan(&exists); errors.Is(lookupErr, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrGenerationDeleted, c.name)
		}
		return err
	}
	return nil
}

// Delete removes an entry
func (c *SQLiteCache) Delete(key string) error {
	_, err := c.db.Exec("DELETE FROM entries WHERE generation = ? AND key = ?", c.name, key)
	return err
}
