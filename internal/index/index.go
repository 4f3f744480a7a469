// Package index maintains a relational view of sessions and commands for
// cross-session search. It is a derived, rebuildable cache of the lineage
// store, never the source of truth; its unavailability must not affect
// store correctness.
package index

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mjcarver/opsgate/internal/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	goal       TEXT NOT NULL,
	parent     TEXT,
	status     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS commands (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	ts         TEXT NOT NULL,
	kind       TEXT NOT NULL,
	tool       TEXT,
	command    TEXT,
	tier       TEXT,
	outcome    TEXT,
	exit_code  INTEGER,
	PRIMARY KEY (session_id, seq)
);
CREATE INDEX IF NOT EXISTS commands_command ON commands(command);
`

// Index is the sqlite-backed search cache.
type Index struct {
	log *zap.Logger
	db  *sql.DB
}

// Open creates or opens the database at path. WAL mode and a bounded busy
// timeout keep writes from blocking indefinitely on contention.
func Open(path string, log *zap.Logger) (*Index, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}
	return &Index{log: log, db: db}, nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

// UpsertSession records or refreshes one session row.
func (i *Index) UpsertSession(meta memory.Metadata) error {
	_, err := i.db.Exec(`
		INSERT INTO sessions (id, goal, parent, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		meta.ID, meta.Goal, meta.Parent, string(meta.Status),
		meta.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// LogEntry records one timeline entry.
func (i *Index) LogEntry(sessionID string, e memory.Entry) error {
	_, err := i.db.Exec(`
		INSERT INTO commands (session_id, seq, ts, kind, tool, command, tier, outcome, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING`,
		sessionID, e.Seq, e.Time.Format(time.RFC3339Nano), string(e.Kind),
		e.Tool, e.Command, e.Tier, e.Outcome, e.ExitCode)
	if err != nil {
		return fmt.Errorf("log entry: %w", err)
	}
	return nil
}

// Hook adapts the index to the store's post-append hook. Errors are
// logged and dropped; the primary write has already succeeded.
func (i *Index) Hook() memory.Hook {
	return func(sessionID string, e memory.Entry) {
		if err := i.LogEntry(sessionID, e); err != nil {
			i.log.Debug("index write failed", zap.Error(err))
		}
	}
}

// Row is one command search hit.
type Row struct {
	SessionID string
	Seq       uint64
	Kind      string
	Command   string
	Tier      string
	Outcome   string
	ExitCode  int
}

// Search returns commands matching the term across all sessions, newest
// first.
func (i *Index) Search(term string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := i.db.Query(`
		SELECT session_id, seq, kind, command, tier, outcome, exit_code
		FROM commands
		WHERE command LIKE ?
		ORDER BY ts DESC
		LIMIT ?`,
		"%"+term+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.SessionID, &r.Seq, &r.Kind, &r.Command, &r.Tier, &r.Outcome, &r.ExitCode); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Rebuild repopulates the cache from the store. Safe to run any time; the
// store remains the source of truth.
func (i *Index) Rebuild(store *memory.Store) error {
	for _, stmt := range []string{`DELETE FROM commands`, `DELETE FROM sessions`} {
		if _, err := i.db.Exec(stmt); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
	}
	for _, meta := range store.Sessions() {
		if err := i.UpsertSession(meta); err != nil {
			return err
		}
		entries, err := store.ReadSince(meta.ID, 0)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := i.LogEntry(meta.ID, e); err != nil {
				return err
			}
		}
	}
	return nil
}
