package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the persistent cache tier, backed by SQLite. Entries carry their
// own TTL so recommendation payloads, enhanced payloads, and cover lookups
// can coexist in one table with different lifetimes.
type Store struct {
	db *sql.DB
}

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ttl_seconds INTEGER NOT NULL
);
`

// New opens (or creates) a Store at the given database path. WAL mode and a
// busy timeout keep concurrent cover-batch writers from tripping over each
// other.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createEntriesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db}, nil
}

// Get retrieves an entry. Returns false if not found or expired; an expired
// row is deleted on the way out. Read errors report as misses so a corrupt
// cache never turns into a failed request.
func (s *Store) Get(key string) ([]byte, bool) {
	var data []byte
	var createdAt time.Time
	var ttlSeconds int64

	err := s.db.QueryRow(
		`SELECT data, created_at, ttl_seconds FROM cache_entries WHERE key = ?`,
		key,
	).Scan(&data, &createdAt, &ttlSeconds)

	if err != nil {
		return nil, false
	}

	if time.Since(createdAt) > time.Duration(ttlSeconds)*time.Second {
		_, _ = s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, false
	}

	return data, true
}

// Put stores an entry with the given TTL, replacing any existing entry.
func (s *Store) Put(key string, data []byte, ttl time.Duration) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cache_entries (key, data, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?)`,
		key, data, time.Now().UTC(), int64(ttl.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Delete removes a single entry.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Purge removes all expired entries and returns how many were removed.
func (s *Store) Purge() (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM cache_entries WHERE (julianday('now') - julianday(created_at)) * 86400 > ttl_seconds`,
	)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Clear removes every entry.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Count returns the number of stored entries, expired or not.
func (s *Store) Count() (int64, error) {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return count, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
