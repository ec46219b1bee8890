// Package persistence implements the single logical key/value table
// backing the daemon's durability story: component state is serialised to
// a JSON blob under a closed DataKey enum on graceful shutdown, and
// restored from it on the next start.
package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DataKey is the closed set of keys the kv_store table is indexed by.
type DataKey int

const (
	Configuration DataKey = iota
	RelayMessages
	MessageBuffers
	DutyCycleData
	PacketCacheData
)

func (k DataKey) String() string {
	names := [...]string{"Configuration", "RelayMessages", "MessageBuffers", "DutyCycleData", "PacketCacheData"}
	if int(k) < 0 || int(k) >= len(names) {
		return fmt.Sprintf("DataKey(%d)", int(k))
	}
	return names[k]
}

// Store wraps the SQLite-backed kv_store table: one row per DataKey, JSON
// blob payload.
type Store struct {
	conn *sql.DB
}

// Open opens or creates the SQLite database at path, migrating the
// kv_store schema if needed.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("persistence: open database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persistence: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS kv_store (
		data_key INTEGER PRIMARY KEY,
		data     TEXT NOT NULL
	);`
	_, err := s.conn.Exec(schema)
	return err
}

// Save serialises v to JSON and upserts it under key.
func (s *Store) Save(key DataKey, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("persistence: marshal %s: %w", key, err)
	}
	_, err = s.conn.Exec(
		`INSERT INTO kv_store (data_key, data) VALUES (?, ?)
		 ON CONFLICT(data_key) DO UPDATE SET data = excluded.data`,
		int(key), string(blob),
	)
	if err != nil {
		return fmt.Errorf("persistence: save %s: %w", key, err)
	}
	return nil
}

// Load fetches the blob under key and unmarshals it into v. It returns
// (false, nil) when the key is absent, so callers can fall back to
// defaults, per spec.md §4.10.
func (s *Store) Load(key DataKey, v any) (bool, error) {
	var blob string
	err := s.conn.QueryRow(`SELECT data FROM kv_store WHERE data_key = ?`, int(key)).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("persistence: load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(blob), v); err != nil {
		return false, fmt.Errorf("persistence: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Keys returns every DataKey currently present in the store, for
// spatzctl's inspection commands.
func (s *Store) Keys() ([]DataKey, error) {
	rows, err := s.conn.Query(`SELECT data_key FROM kv_store ORDER BY data_key`)
	if err != nil {
		return nil, fmt.Errorf("persistence: list keys: %w", err)
	}
	defer rows.Close()

	var out []DataKey
	for rows.Next() {
		var k int
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, DataKey(k))
	}
	return out, rows.Err()
}

// Raw fetches the raw JSON blob under key, for spatzctl's dump command.
func (s *Store) Raw(key DataKey) (string, bool, error) {
	var blob string
	err := s.conn.QueryRow(`SELECT data FROM kv_store WHERE data_key = ?`, int(key)).Scan(&blob)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return blob, true, nil
}
