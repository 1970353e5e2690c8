package kv

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"neuroforge/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the persistent Store implementation. Values are stored as
// JSON text; expiry is lazy (expired rows are filtered on read and purged
// opportunistically on write).
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the KV database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logging.StoreDebug("Initializing KV store at %s", path)

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS kv_entries (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		expires_at INTEGER,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (namespace, key)
	);
	CREATE INDEX IF NOT EXISTS idx_kv_entries_namespace ON kv_entries(namespace);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(namespace, key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	var expiresAt sql.NullInt64
	err := s.db.QueryRow(
		"SELECT value, expires_at FROM kv_entries WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&raw, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get: %w", err)
	}
	if expiresAt.Valid && time.Now().UnixMilli() > expiresAt.Int64 {
		return nil, ErrNotFound
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("kv get: corrupt value: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) Set(namespace, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO kv_entries (namespace, key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = CURRENT_TIMESTAMP`,
		namespace, key, string(raw), expiresAt)
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}

	// Opportunistic purge of expired rows in this namespace.
	_, _ = s.db.Exec(
		"DELETE FROM kv_entries WHERE namespace = ? AND expires_at IS NOT NULL AND expires_at < ?",
		namespace, time.Now().UnixMilli())
	return nil
}

func (s *SQLiteStore) Delete(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM kv_entries WHERE namespace = ? AND key = ?", namespace, key)
	if err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Keys(namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT key FROM kv_entries WHERE namespace = ? AND (expires_at IS NULL OR expires_at >= ?) ORDER BY key",
		namespace, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("kv keys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) GetAll(namespace string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT key, value FROM kv_entries WHERE namespace = ? AND (expires_at IS NULL OR expires_at >= ?)",
		namespace, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("kv get_all: %w", err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var k, raw string
		if err := rows.Scan(&k, &raw); err != nil {
			return nil, fmt.Errorf("kv get_all: %w", err)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			logging.StoreDebug("kv get_all: skipping corrupt value for %s/%s", namespace, k)
			continue
		}
		out[k] = value
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
