// Package store provides the SQLite-backed durable persistence for the
// runtime: the append-only event log, the MVCC-protected runtime state,
// memory (facts/vectors/trust/causal edges), governance records, typed
// contracts and protocol-flow rows, and the safety chain's artifacts.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the runtime's single SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	event_type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	meta_json TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	brain_done_at TEXT,
	worker_done_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_brain_pending ON events(brain_done_at, id);
CREATE INDEX IF NOT EXISTS idx_events_worker_pending ON events(worker_done_at, id);

CREATE TABLE IF NOT EXISTS runtime_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	state_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS state_versions (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL DEFAULT 0,
	updated_ts TEXT,
	actor TEXT,
	note TEXT
);

CREATE TABLE IF NOT EXISTS commit_windows (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL,
	actor TEXT NOT NULL,
	base_version INTEGER NOT NULL,
	observed_version INTEGER NOT NULL,
	final_version INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	meta_json TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(id DESC);

CREATE TABLE IF NOT EXISTS contracts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS protocol_flows (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_routes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL,
	action TEXT NOT NULL,
	provider_group TEXT NOT NULL,
	detail_json TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fact_memory (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	claim_key TEXT NOT NULL UNIQUE,
	subject TEXT NOT NULL DEFAULT '',
	predicate TEXT NOT NULL DEFAULT '',
	object TEXT NOT NULL DEFAULT '',
	claim_text TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0.5,
	support_count INTEGER NOT NULL DEFAULT 1,
	conflict_count INTEGER NOT NULL DEFAULT 0,
	tier TEXT NOT NULL DEFAULT 'warm',
	last_seen_event_id INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fact_memory_last_seen ON fact_memory(last_seen_event_id DESC);

CREATE TABLE IF NOT EXISTS fact_conflicts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fact_id INTEGER NOT NULL,
	event_id INTEGER NOT NULL,
	previous_claim TEXT NOT NULL DEFAULT '',
	new_claim TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_vectors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	vector_json TEXT NOT NULL,
	tier TEXT NOT NULL DEFAULT 'short',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS source_trust (
	source TEXT PRIMARY KEY,
	trust_score REAL NOT NULL DEFAULT 0.6,
	samples INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS causal_edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	cause TEXT NOT NULL,
	effect TEXT NOT NULL,
	relation TEXT NOT NULL DEFAULT 'causes',
	weight REAL NOT NULL DEFAULT 0.5,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_gate (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL,
	action TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	requires_approval INTEGER NOT NULL DEFAULT 0,
	approved INTEGER NOT NULL DEFAULT 0,
	reasons_json TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS guard_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	guard_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS deep_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS canary_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL,
	path TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS eval_gates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL,
	suite TEXT NOT NULL DEFAULT '',
	passed INTEGER NOT NULL DEFAULT 0,
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
`

// Open opens (creating if necessary) the SQLite-backed store at dbPath, in
// WAL mode with a generous busy timeout so concurrent brain/worker ticks
// don't fail on SQLITE_BUSY.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		if quarantined := quarantine(dbPath); quarantined != "" {
			return nil, fmt.Errorf("store: create schema (db quarantined to %s): %w", quarantined, err)
		}
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// migrate applies incremental, additive schema migrations for databases
// created by earlier versions of this module.
func migrate(db *sql.DB) error {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('fact_memory') WHERE name = 'tier'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check fact_memory.tier column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE fact_memory ADD COLUMN tier TEXT NOT NULL DEFAULT 'warm'`); err != nil {
			return fmt.Errorf("add fact_memory.tier column: %w", err)
		}
	}

	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('memory_vectors') WHERE name = 'tier'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check memory_vectors.tier column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE memory_vectors ADD COLUMN tier TEXT NOT NULL DEFAULT 'short'`); err != nil {
			return fmt.Errorf("add memory_vectors.tier column: %w", err)
		}
	}

	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('commit_windows') WHERE name = 'final_version'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check commit_windows.final_version column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE commit_windows ADD COLUMN final_version INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add commit_windows.final_version column: %w", err)
		}
	}

	if _, err := db.Exec(`INSERT OR IGNORE INTO state_versions(id, version, updated_ts, actor, note) VALUES (1, 0, ?, 'bootstrap', 'init')`, nowISO()); err != nil {
		return fmt.Errorf("bootstrap state_versions: %w", err)
	}

	return nil
}

// quarantine renames a malformed database file aside (plus -wal/-shm
// siblings) with a .corrupt_<unixts> suffix so a fresh store can be
// opened in its place, rather than the runtime wedging on a bad file.
func quarantine(dbPath string) string {
	ts := time.Now().Unix()
	ext := filepath.Ext(dbPath)
	base := strings.TrimSuffix(dbPath, ext)
	dest := fmt.Sprintf("%s.corrupt_%d%s", base, ts, ext)
	if err := os.Rename(dbPath, dest); err != nil {
		return ""
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Rename(dbPath+suffix, dest+suffix)
	}
	return dest
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying connection for callers that need read-only
// ad-hoc queries outside this package's typed methods.
func (s *Store) DB() *sql.DB {
	return s.db
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// ErrNotFound is returned by lookups that have no sensible zero-value
// default and must distinguish "absent" from "present but empty".
var ErrNotFound = fmt.Errorf("store: not found")
