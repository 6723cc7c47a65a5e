package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStorage keeps all stores in a single SQLite database.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStorage opens the storage with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteStorage(filename string) (*SQLiteStorage, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (store, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteStorage) Open(name string) (Store, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)", name, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	return sqliteStore{name: name, storage: s}, nil
}

func (s *SQLiteStorage) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM stores ORDER BY created_at, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Delete(name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM entries WHERE store = ?", name); err != nil {
		return false, err
	}
	result, err := tx.Exec("DELETE FROM stores WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return deleted > 0, tx.Commit()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteStore struct {
	name    string
	storage *SQLiteStorage
}

func (s sqliteStore) Name() string {
	return s.name
}

func (s sqliteStore) Match(key string) (Entry, bool, error) {
	var storedAt int64
	entry := Entry{Key: key}
	err := s.storage.db.QueryRow(
		"SELECT stored_at, bytes FROM entries WHERE store = ? AND key = ?", s.name, key,
	).Scan(&storedAt, &entry.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	entry.StoredAt = time.Unix(storedAt, 0)
	return entry, true, nil
}

func (s sqliteStore) Put(e Entry) error {
	s.storage.writeMutex.Lock()
	defer s.storage.writeMutex.Unlock()
	// the store may have been invalidated while the write was in flight
	result, err := s.storage.db.Exec(`INSERT OR REPLACE INTO entries
		(store, key, stored_at, bytes)
		SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM stores WHERE name = ?)`,
		s.name, e.Key, e.StoredAt.Unix(), e.Bytes, s.name)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", ErrStoreNotFound, s.name)
	}
	return nil
}

func (s sqliteStore) Delete(key string) (bool, error) {
	s.storage.writeMutex.Lock()
	defer s.storage.writeMutex.Unlock()
	result, err := s.storage.db.Exec("DELETE FROM entries WHERE store = ? AND key = ?", s.name, key)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (s sqliteStore) Keys(cb func(string)) error {
	rows, err := s.storage.db.Query("SELECT key FROM entries WHERE store = ?", s.name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		cb(key)
	}
	return rows.Err()
}
