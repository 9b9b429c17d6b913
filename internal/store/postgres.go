package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/astromesh/observer/internal/models"
)

// schemaSQL is embedded so the observer can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the durable persistence layer for attention events and
// derived operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema() error {
	_, err := p.pool.Exec(context.Background(), schemaSQL)
	return err
}

// Ping is used by the readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// InsertAttentionEvent appends one audit record. The audit log carries no
// uniqueness constraint; every observed signal produces a row.
func (p *PostgresStore) InsertAttentionEvent(ctx context.Context, ev models.AttentionEvent) error {
	if ev.ServerName == "" || ev.EventType == "" {
		return errors.New("server_name/event_type required")
	}

	ctxJSON, err := json.Marshal(orEmpty(ev.Context))
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO attention_events(ts, server_name, event_type, target, context)
		VALUES ($1,$2,$3,$4,$5)
	`, ev.Timestamp, ev.ServerName, string(ev.EventType), ev.Target, ctxJSON)

	return err
}

// InsertOperation persists an operation and returns inserted=false when the
// operation_id already exists.
//
// Duplicate detection is enforced by the UNIQUE constraint on operation_id,
// which is compatible with retries and at-least-once delivery. A duplicate
// is not an error: the caller decides how loudly to report it, which keeps
// redelivery noise apart from genuine storage faults.
func (p *PostgresStore) InsertOperation(ctx context.Context, op models.Operation) (bool, error) {
	if op.OperationID == "" || op.ServerName == "" || op.OperationType == "" {
		return false, errors.New("operation_id/server_name/operation_type required")
	}

	lessonsJSON, err := json.Marshal(orEmpty(op.Lessons))
	if err != nil {
		return false, err
	}

	var duration *int64
	if op.DurationMS > 0 {
		duration = &op.DurationMS
	}

	// RETURNING 1 only when inserted; duplicates return no rows.
	var one int
	err = p.pool.QueryRow(ctx, `
		INSERT INTO operations(ts, server_name, operation_type, operation_id,
		                       input_summary, outcome, quality_score, lessons, duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (operation_id) DO NOTHING
		RETURNING 1
	`, op.Timestamp, op.ServerName, op.OperationType, op.OperationID,
		op.InputSummary, string(op.Outcome), op.QualityScore, lessonsJSON, duration).Scan(&one)

	if err == nil {
		return true, nil
	}

	// Conflict produces no rows because RETURNING returns nothing.
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}

	return false, err
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
