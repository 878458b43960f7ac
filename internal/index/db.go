// Package index maintains a local sqlite full-text index over
// changelog entries, so past work is searchable without re-reading
// every JSONL file.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA cache_size = -64000;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS entries (
    run_id       TEXT PRIMARY KEY,
    actor        TEXT NOT NULL,
    tool         TEXT NOT NULL,
    created_at   TEXT NOT NULL DEFAULT '',
    window_start TEXT NOT NULL DEFAULT '',
    window_end   TEXT NOT NULL DEFAULT '',
    session_dir  TEXT NOT NULL DEFAULT '',
    summary      TEXT NOT NULL DEFAULT '',
    bullets      TEXT NOT NULL DEFAULT '',
    tags         TEXT NOT NULL DEFAULT ''
);

CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
    summary,
    bullets,
    tags,
    content=entries,
    content_rowid=rowid,
    tokenize='unicode61'
);

-- triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS entries_ai AFTER INSERT ON entries BEGIN
    INSERT INTO entries_fts(rowid, summary, bullets, tags)
    VALUES (new.rowid, new.summary, new.bullets, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS entries_ad AFTER DELETE ON entries BEGIN
    INSERT INTO entries_fts(entries_fts, rowid, summary, bullets, tags)
    VALUES('delete', old.rowid, old.summary, old.bullets, old.tags);
END;

CREATE TRIGGER IF NOT EXISTS entries_au AFTER UPDATE ON entries BEGIN
    INSERT INTO entries_fts(entries_fts, rowid, summary, bullets, tags)
    VALUES('delete', old.rowid, old.summary, old.bullets, old.tags);
    INSERT INTO entries_fts(rowid, summary, bullets, tags)
    VALUES (new.rowid, new.summary, new.bullets, new.tags);
END;
`

type DB struct {
	db *sql.DB
}

func OpenDB(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	// schema version tracking for forced re-index
	db.Exec("CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT)")
	d := &DB{db: db}
	d.migrateSchemaVersion()

	return d, nil
}

// dbSchemaVersion should be bumped whenever the indexed shape changes
// to force a full re-index.
const dbSchemaVersion = "1"

func (d *DB) migrateSchemaVersion() {
	var ver string
	err := d.db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&ver)
	if err != nil || ver != dbSchemaVersion {
		d.db.Exec("DELETE FROM entries")
		d.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)", dbSchemaVersion)
	}
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Raw() *sql.DB {
	return d.db
}

// HasEntry reports whether a run ID is already indexed.
func (d *DB) HasEntry(runID string) (bool, error) {
	var one int
	err := d.db.QueryRow("SELECT 1 FROM entries WHERE run_id = ?", runID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AllRunIDs returns every indexed run ID, for pruning.
func (d *DB) AllRunIDs() (map[string]struct{}, error) {
	rows, err := d.db.Query("SELECT run_id FROM entries")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (d *DB) DeleteEntry(runID string) error {
	_, err := d.db.Exec("DELETE FROM entries WHERE run_id = ?", runID)
	return err
}

func (d *DB) EntryCount() (int, error) {
	var n int
	err := d.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n)
	return n, err
}
