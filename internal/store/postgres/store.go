package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/auralis-app/auralis/internal/notes"
	"github.com/auralis-app/auralis/internal/session"
)

// Compile-time interface check: Store feeds the coordinator's persistence
// hand-off directly.
var _ session.Sink = (*Store)(nil)

// Store is the PostgreSQL-backed persistence layer. All operations are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection, and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveSession implements [session.Sink]. It upserts the session row and
// rewrites its segments in one transaction, so re-saving after a retried
// flush cannot duplicate segments.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO sessions (id, started_at, ended_at, outcome, duration_ns)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET ended_at = EXCLUDED.ended_at,
		    outcome = EXCLUDED.outcome,
		    duration_ns = EXCLUDED.duration_ns`

	if _, err := tx.Exec(ctx, upsert,
		sess.ID,
		sess.StartTime,
		sess.EndTime,
		string(sess.Outcome),
		sess.Duration().Nanoseconds(),
	); err != nil {
		return fmt.Errorf("postgres store: upsert session: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM session_segments WHERE session_id = $1`, sess.ID); err != nil {
		return fmt.Errorf("postgres store: clear segments: %w", err)
	}

	const insertSeg = `
		INSERT INTO session_segments
		    (session_id, seq, speaker, text, is_final, start_ns, end_ns, confidence, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for i, seg := range sess.Segments {
		if _, err := tx.Exec(ctx, insertSeg,
			sess.ID,
			i,
			seg.Speaker,
			seg.Text,
			seg.IsFinal,
			seg.Start.Nanoseconds(),
			seg.End.Nanoseconds(),
			seg.Confidence,
			seg.ReceivedAt,
		); err != nil {
			return fmt.Errorf("postgres store: insert segment %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// GetSession loads one session with its segments, ordered by sequence.
// Returns pgx.ErrNoRows wrapped when the id is unknown.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	const q = `
		SELECT id, started_at, ended_at, outcome
		FROM   sessions
		WHERE  id = $1`

	var sess session.Session
	var outcome string
	if err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID, &sess.StartTime, &sess.EndTime, &outcome,
	); err != nil {
		return nil, fmt.Errorf("postgres store: get session: %w", err)
	}
	sess.Outcome = session.Outcome(outcome)

	const qSegs = `
		SELECT speaker, text, is_final, start_ns, end_ns, confidence, received_at
		FROM   session_segments
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, qSegs, id)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get segments: %w", err)
	}
	sess.Segments, err = collectSegments(rows)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns recent sessions without their segments, newest first.
// limit <= 0 means no limit.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]session.Session, error) {
	q := `
		SELECT id, started_at, ended_at, outcome
		FROM   sessions
		ORDER  BY started_at DESC`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		q += "\nLIMIT $1"
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}

	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.Session, error) {
		var sess session.Session
		var outcome string
		if err := row.Scan(&sess.ID, &sess.StartTime, &sess.EndTime, &outcome); err != nil {
			return session.Session{}, err
		}
		sess.Outcome = session.Outcome(outcome)
		return sess, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan sessions: %w", err)
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	return sessions, nil
}

// SegmentHit is one full-text search result.
type SegmentHit struct {
	SessionID string
	Segment   session.Segment
}

// SearchSegments performs a full-text search over segment text. The query is
// passed to plainto_tsquery so no operator syntax is required. sessionID
// narrows the search to one session when non-empty; limit <= 0 means no
// limit.
func (s *Store) SearchSegments(ctx context.Context, query, sessionID string, limit int) ([]SegmentHit, error) {
	args := []any{query}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', text) @@ plainto_tsquery('english', $1)",
	}
	if sessionID != "" {
		conditions = append(conditions, "session_id = "+next(sessionID))
	}

	q := "SELECT session_id, speaker, text, is_final, start_ns, end_ns, confidence, received_at\n" +
		"FROM   session_segments\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY received_at"

	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search segments: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SegmentHit, error) {
		var h SegmentHit
		var startNS, endNS int64
		if err := row.Scan(
			&h.SessionID,
			&h.Segment.Speaker,
			&h.Segment.Text,
			&h.Segment.IsFinal,
			&startNS,
			&endNS,
			&h.Segment.Confidence,
			&h.Segment.ReceivedAt,
		); err != nil {
			return SegmentHit{}, err
		}
		h.Segment.Start = time.Duration(startNS)
		h.Segment.End = time.Duration(endNS)
		return h, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan hits: %w", err)
	}
	if hits == nil {
		hits = []SegmentHit{}
	}
	return hits, nil
}

// SaveNote upserts the meeting note for its session.
func (s *Store) SaveNote(ctx context.Context, n *notes.Note) error {
	const q = `
		INSERT INTO meeting_notes
		    (session_id, title, key_points, decisions, action_items, transcript, degraded, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE
		SET title = EXCLUDED.title,
		    key_points = EXCLUDED.key_points,
		    decisions = EXCLUDED.decisions,
		    action_items = EXCLUDED.action_items,
		    transcript = EXCLUDED.transcript,
		    degraded = EXCLUDED.degraded,
		    generated_at = EXCLUDED.generated_at`

	_, err := s.pool.Exec(ctx, q,
		n.SessionID,
		n.Title,
		emptyIfNil(n.KeyPoints),
		emptyIfNil(n.Decisions),
		emptyIfNil(n.ActionItems),
		n.Transcript,
		n.Degraded,
		n.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save note: %w", err)
	}
	return nil
}

// GetNote loads the meeting note for a session.
func (s *Store) GetNote(ctx context.Context, sessionID string) (*notes.Note, error) {
	const q = `
		SELECT session_id, title, key_points, decisions, action_items, transcript, degraded, generated_at
		FROM   meeting_notes
		WHERE  session_id = $1`

	var n notes.Note
	if err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&n.SessionID,
		&n.Title,
		&n.KeyPoints,
		&n.Decisions,
		&n.ActionItems,
		&n.Transcript,
		&n.Degraded,
		&n.GeneratedAt,
	); err != nil {
		return nil, fmt.Errorf("postgres store: get note: %w", err)
	}
	return &n, nil
}

// collectSegments scans pgx rows into a slice of Segment values.
func collectSegments(rows pgx.Rows) ([]session.Segment, error) {
	segments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.Segment, error) {
		var seg session.Segment
		var startNS, endNS int64
		if err := row.Scan(
			&seg.Speaker,
			&seg.Text,
			&seg.IsFinal,
			&startNS,
			&endNS,
			&seg.Confidence,
			&seg.ReceivedAt,
		); err != nil {
			return session.Segment{}, err
		}
		seg.Start = time.Duration(startNS)
		seg.End = time.Duration(endNS)
		return seg, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan segments: %w", err)
	}
	if segments == nil {
		segments = []session.Segment{}
	}
	return segments, nil
}

// emptyIfNil keeps TEXT[] columns NOT NULL friendly.
func emptyIfNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
