package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mirrorbet/mirrorbet/internal/models"
)

// DatabasePool is the slice of pool behavior the repositories need. It
// allows a pgxmock pool to stand in during tests.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const createActionsTable = `
CREATE TABLE IF NOT EXISTS reconcile_actions (
	id BIGSERIAL PRIMARY KEY,
	success BOOLEAN NOT NULL,
	action TEXT NOT NULL,
	line_id TEXT NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	exchange_id TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
)`

const insertAction = `
INSERT INTO reconcile_actions
	(success, action, line_id, correlation_id, exchange_id, error, details, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const selectRecentActions = `
SELECT success, action, line_id, correlation_id, exchange_id, error, details, occurred_at
FROM reconcile_actions
ORDER BY occurred_at DESC, id DESC
LIMIT $1`

// AuditRepository persists every reconciliation action so the history
// survives restarts. It satisfies the reconciler's audit sink.
type AuditRepository struct {
	pool DatabasePool
}

// NewAuditRepository creates a repository over an established pool.
func NewAuditRepository(pool DatabasePool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// EnsureSchema creates the actions table when it does not exist yet.
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createActionsTable); err != nil {
		return fmt.Errorf("failed to create reconcile_actions table: %w", err)
	}
	return nil
}

// RecordAction appends one action outcome to the audit log.
func (r *AuditRepository) RecordAction(ctx context.Context, result models.ActionResult) error {
	_, err := r.pool.Exec(ctx, insertAction,
		result.Success,
		string(result.Action),
		result.LineID,
		result.CorrelationID,
		result.ExchangeID,
		result.Error,
		result.Details,
		result.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

// RecentActions returns the newest recorded actions, most recent first.
func (r *AuditRepository) RecentActions(ctx context.Context, limit int) ([]models.ActionResult, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, selectRecentActions, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var results []models.ActionResult
	for rows.Next() {
		var result models.ActionResult
		var action string
		if err := rows.Scan(
			&result.Success,
			&action,
			&result.LineID,
			&result.CorrelationID,
			&result.ExchangeID,
			&result.Error,
			&result.Details,
			&result.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		result.Action = models.ReconcileAction(action)
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read action rows: %w", err)
	}

	return results, nil
}
