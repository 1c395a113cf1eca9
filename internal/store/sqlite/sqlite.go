// Package sqlite provides embedded single-file store backends for
// deployments that want restart durability without running Postgres. Only
// the high-churn stores live here (sessions, conversation refs); the
// low-churn pairing/allow-from stores stay on their JSON files in
// standalone mode.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// OpenDB opens (creating if needed) the gateway's embedded database and
// applies the schema.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; the stores serialize writes themselves, and
	// modernc's driver has no cgo-level locking to lean on.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_key TEXT PRIMARY KEY,
	session_id  TEXT,
	provider    TEXT,
	last_to     TEXT,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_refs (
	channel         TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	account_id      TEXT,
	chat_type       TEXT,
	last_message_id TEXT,
	last_seen_at_ms INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	PRIMARY KEY (channel, conversation_id)
);

CREATE INDEX IF NOT EXISTS idx_conversation_refs_seen
	ON conversation_refs (channel, last_seen_at_ms);
`
