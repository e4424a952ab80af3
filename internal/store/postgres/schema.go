// Package postgres persists recording sessions, their transcripts, and
// generated meeting notes in PostgreSQL.
//
// A single [pgxpool.Pool] backs all operations. [Migrate] is idempotent and
// runs on every application start.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveSession(ctx, sess)
//	_ = store.SaveNote(ctx, note)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT         PRIMARY KEY,
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL,
    outcome     TEXT         NOT NULL,
    duration_ns BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at
    ON sessions (started_at);
`

const ddlSessionSegments = `
CREATE TABLE IF NOT EXISTS session_segments (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    seq         INT          NOT NULL,
    speaker     TEXT         NOT NULL DEFAULT '',
    text        TEXT         NOT NULL,
    is_final    BOOLEAN      NOT NULL DEFAULT false,
    start_ns    BIGINT       NOT NULL DEFAULT 0,
    end_ns      BIGINT       NOT NULL DEFAULT 0,
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    received_at TIMESTAMPTZ  NOT NULL,
    UNIQUE (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_session_segments_session_id
    ON session_segments (session_id);

CREATE INDEX IF NOT EXISTS idx_session_segments_fts
    ON session_segments USING GIN (to_tsvector('english', text));
`

const ddlMeetingNotes = `
CREATE TABLE IF NOT EXISTS meeting_notes (
    session_id   TEXT         PRIMARY KEY REFERENCES sessions (id) ON DELETE CASCADE,
    title        TEXT         NOT NULL DEFAULT '',
    key_points   TEXT[]       NOT NULL DEFAULT '{}',
    decisions    TEXT[]       NOT NULL DEFAULT '{}',
    action_items TEXT[]       NOT NULL DEFAULT '{}',
    transcript   TEXT         NOT NULL DEFAULT '',
    degraded     BOOLEAN      NOT NULL DEFAULT false,
    generated_at TIMESTAMPTZ  NOT NULL
);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlSessions,
		ddlSessionSegments,
		ddlMeetingNotes,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
