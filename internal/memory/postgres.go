package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxConn is the subset of pgxpool.Pool the store needs; tests substitute
// a fake.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore is a durable turn store backed by Postgres. Turns are
// serialized as JSON and ordered by their ULID, so insertion order
// survives restarts.
type PostgresStore struct {
	db       PgxConn
	maxTurns int
}

// NewPostgresPool opens a pgx connection pool for the given DSN.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates a Postgres-backed store retaining at most
// maxTurns turns per session.
func NewPostgresStore(db PgxConn, maxTurns int) *PostgresStore {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &PostgresStore{db: db, maxTurns: maxTurns}
}

// EnsureSchema creates the turns table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversation_turns (
			session_id TEXT NOT NULL,
			turn_id    TEXT NOT NULL,
			payload    JSONB NOT NULL,
			PRIMARY KEY (session_id, turn_id)
		)`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Append inserts one turn and applies the retention policy.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO conversation_turns (session_id, turn_id, payload) VALUES ($1, $2, $3)`,
		sessionID, turn.ID, payload)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	return s.enforceRetention(ctx, sessionID)
}

// Read returns the session's turns in insertion order.
func (s *PostgresStore) Read(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.db.Query(ctx,
		`SELECT payload FROM conversation_turns WHERE session_id = $1 ORDER BY turn_id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		var turn Turn
		if err := json.Unmarshal(payload, &turn); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	return turns, nil
}

// Evict discards the session's history.
func (s *PostgresStore) Evict(ctx context.Context, sessionID string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM conversation_turns WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("evict session: %w", err)
	}
	return nil
}

// enforceRetention deletes turns that fall outside the retention window,
// using the same pinning rules as the in-memory store.
func (s *PostgresStore) enforceRetention(ctx context.Context, sessionID string) error {
	turns, err := s.Read(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(turns) <= s.maxTurns {
		return nil
	}

	kept := truncate(turns, s.maxTurns)
	keep := make(map[string]bool, len(kept))
	for _, t := range kept {
		keep[t.ID] = true
	}

	for _, t := range turns {
		if keep[t.ID] {
			continue
		}
		if _, err := s.db.Exec(ctx,
			`DELETE FROM conversation_turns WHERE session_id = $1 AND turn_id = $2`,
			sessionID, t.ID); err != nil {
			return fmt.Errorf("truncate session: %w", err)
		}
	}
	return nil
}
