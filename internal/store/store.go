// Package store persists the gateway's audit trail of tool invocations
// in PostgreSQL.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the store uses. Tests supply a
// lightweight mock implementation.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Invocation is one audited tool call.
type Invocation struct {
	ID        int64         `json:"id"`
	Tool      string        `json:"tool"`
	Operation string        `json:"operation"`
	Target    string        `json:"target,omitempty"`
	Status    string        `json:"status"`
	Duration  time.Duration `json:"duration_ms"`
	RequestID string        `json:"request_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store wraps the connection pool with audit operations.
type Store struct {
	pool PgxPool
}

// New returns a Store over pool.
func New(pool PgxPool) *Store {
	return &Store{pool: pool}
}

// RecordInvocation appends one entry to the audit log.
func (s *Store) RecordInvocation(ctx context.Context, inv Invocation) error {
	defer observeDB(ctx, "db.record_invocation")()
	const q = `INSERT INTO tool_invocations (tool, operation, target, status, duration_ms, request_id)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, q,
		inv.Tool, inv.Operation, inv.Target, inv.Status,
		inv.Duration.Milliseconds(), inv.RequestID)
	return err
}

// RecentInvocations returns the newest entries, newest first.
func (s *Store) RecentInvocations(ctx context.Context, limit int) ([]Invocation, error) {
	defer observeDB(ctx, "db.recent_invocations")()
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT id, tool, operation, target, status, duration_ms, request_id, created_at
FROM tool_invocations ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		var durationMS int64
		if err := rows.Scan(&inv.ID, &inv.Tool, &inv.Operation, &inv.Target,
			&inv.Status, &durationMS, &inv.RequestID, &inv.CreatedAt); err != nil {
			return nil, err
		}
		inv.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, inv)
	}
	return out, rows.Err()
}

// PruneBefore deletes entries older than cutoff, returning the number
// removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	defer observeDB(ctx, "db.prune_invocations")()
	const q = `DELETE FROM tool_invocations WHERE created_at < $1`
	tag, err := s.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}
