// Package store holds optional CacheBackend implementations beyond the
// default file-based one in the stagekit root package. SQLiteCache is
// grounded on teacher graph/store/sqlite.go (WAL mode, auto-migration,
// single-file persistence), repurposed from per-step workflow state rows
// to a single forest blob per workspace.
package store

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/icui/stagekit-go/stagekit"
)

// SQLiteCache is a stagekit.CacheBackend storing the entire stage forest as
// one gob blob in a single-row table, useful when a workspace's checkpoint
// needs to live alongside other SQLite-resident state rather than as a
// bare file. Most deployments should prefer stagekit.FileCacheBackend; this
// exists for that case and to exercise the pack's `modernc.org/sqlite`
// dependency the way the teacher's own store layer does.
type SQLiteCache struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewSQLiteCache opens (creating if absent) a SQLite database at path and
// ensures its schema exists, enabling WAL mode for concurrent readers the
// way teacher's NewSQLiteStore does.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %q: %w", path, err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS stage_forest (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &SQLiteCache{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// Load implements stagekit.CacheBackend: returns (nil, nil) if no forest
// has ever been saved.
func (c *SQLiteCache) Load() ([]*stagekit.Stage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	err := c.db.QueryRow(`SELECT data FROM stage_forest WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}

	var roots []*stagekit.Stage
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&roots); err != nil {
		return nil, fmt.Errorf("store: decode forest: %w", err)
	}
	return roots, nil
}

// Save implements stagekit.CacheBackend: upserts the gob-encoded forest in
// a single transaction, then rereads and structurally verifies it the same
// way stagekit.FileCacheBackend.Save does, rather than trusting the write
// succeeded just because Exec returned no error.
func (c *SQLiteCache) Save(roots []*stagekit.Stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(roots); err != nil {
		return fmt.Errorf("store: encode forest: %w", err)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO stage_forest (id, data) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`, buf.Bytes()); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: upsert: %w", err)
	}

	var reread []byte
	if err := tx.QueryRow(`SELECT data FROM stage_forest WHERE id = 1`).Scan(&reread); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: verify read: %w", err)
	}

	var roundtrip []*stagekit.Stage
	if err := gob.NewDecoder(bytes.NewReader(reread)).Decode(&roundtrip); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: verify decode: %w", err)
	}
	if !stagekit.SameForest(roots, roundtrip) {
		tx.Rollback()
		return fmt.Errorf("store: verify: round-tripped forest does not match")
	}

	return tx.Commit()
}
