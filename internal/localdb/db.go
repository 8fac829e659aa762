// Package localdb is a tiny sqlite-backed key/value and append-only store
// used for the diagnostic indexes both binaries keep on the side: the
// dispatcher's pre-push hook run history and the egress proxy's recent-audit
// index. Neither index is authoritative; both are rebuilt-from-scratch safe.
package localdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DB wraps a sqlite DB used as a simple key/value and append-only log store.
// Records live in one global kv table namespaced by a collection column, so
// opening the store never needs a schema migration as new collections are
// introduced.
type DB struct{ db *sql.DB }

// Open opens/creates the sqlite database file under the provided state
// directory. filename lets each binary keep its own file when they share a
// state directory (e.g. "dispatcher.sqlite", "egress.sqlite").
func Open(stateDir, filename string) (*DB, error) {
	if stateDir == "" {
		stateDir = "."
	}
	if filename == "" {
		filename = "gatekeeper.sqlite"
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, err
	}
	path := filepath.Join(stateDir, filename)
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		// non-fatal; the store still works without WAL mode.
		_ = err
	}
	schema := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS kv_collection_key ON kv(collection, key)`,
	}
	for _, s := range schema {
		if _, err := sqlDB.Exec(s); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &DB{db: sqlDB}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// Put upserts a single JSON-encoded value under (collection, key).
func (d *DB) Put(collection, k string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`INSERT INTO kv(collection,key,value) VALUES(?,?,?) ON CONFLICT(collection,key) DO UPDATE SET value=excluded.value`, collection, k, b)
	return err
}

// Get loads the value stored under (collection, key) into out.
func (d *DB) Get(collection, k string, out any) error {
	row := d.db.QueryRow(`SELECT value FROM kv WHERE collection=? AND key=?`, collection, k)
	var b []byte
	if err := row.Scan(&b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.New("not found")
		}
		return err
	}
	return json.Unmarshal(b, out)
}

func (d *DB) Delete(collection, k string) error {
	_, err := d.db.Exec(`DELETE FROM kv WHERE collection=? AND key=?`, collection, k)
	return err
}

// Append inserts a new, independently keyed row into collection. Use this
// for append-only logs (hook runs, audit entries) where Put's upsert
// semantics on a fixed key would overwrite history instead of accumulating
// it.
func (d *DB) Append(collection string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// A bare timestamp key can collide under concurrent appenders; the
	// uuid suffix keeps the (collection,key) index unique.
	key := fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString())
	_, err = d.db.Exec(`INSERT INTO kv(collection,key,value) VALUES(?,?,?)`, collection, key, b)
	return err
}

// Recent decodes the most recently appended rows in collection, newest
// first, into out (which must be a pointer to a slice).
func (d *DB) Recent(collection string, limit int, out any) error {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(`SELECT value FROM kv WHERE collection=? ORDER BY id DESC LIMIT ?`, collection, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	arr := make([]json.RawMessage, 0, limit)
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return err
		}
		arr = append(arr, append([]byte(nil), b...))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	bb, err := json.Marshal(arr)
	if err != nil {
		return err
	}
	return json.Unmarshal(bb, out)
}
