package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
)

// QTable persists optimizer cells. It implements optimizer.Store.
type QTable struct {
	db *DB
}

var _ optimizer.Store = (*QTable)(nil)

// QTable returns the Q-table store.
func (db *DB) QTable() *QTable { return &QTable{db: db} }

// PutCell upserts one cell.
func (q *QTable) PutCell(ctx context.Context, c optimizer.Cell) error {
	if q.db == nil || q.db.sqlDB == nil {
		return ErrNotConfigured
	}
	_, err := q.db.sqlDB.ExecContext(ctx, `
INSERT INTO qtable (state_key, action_key, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (state_key, action_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		c.StateKey, c.ActionKey, c.Value, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put q cell: %w", err)
	}
	return nil
}

// Cells returns every cell ordered by state then action.
func (q *QTable) Cells(ctx context.Context) ([]optimizer.Cell, error) {
	if q.db == nil || q.db.sqlDB == nil {
		return nil, ErrNotConfigured
	}
	rows, err := q.db.sqlDB.QueryContext(ctx, `SELECT state_key, action_key, value FROM qtable ORDER BY state_key, action_key`)
	if err != nil {
		return nil, fmt.Errorf("list q cells: %w", err)
	}
	defer rows.Close()

	out := make([]optimizer.Cell, 0)
	for rows.Next() {
		var c optimizer.Cell
		if err := rows.Scan(&c.StateKey, &c.ActionKey, &c.Value); err != nil {
			return nil, fmt.Errorf("scan q cell: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Replace swaps the whole table for cells in one transaction.
func (q *QTable) Replace(ctx context.Context, cells []optimizer.Cell) error {
	if q.db == nil || q.db.sqlDB == nil {
		return ErrNotConfigured
	}
	tx, err := q.db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin q table replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM qtable`); err != nil {
		return fmt.Errorf("clear q table: %w", err)
	}
	now := time.Now().UTC().UnixMilli()
	for _, c := range cells {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO qtable (state_key, action_key, value, updated_at) VALUES (?, ?, ?, ?)`,
			c.StateKey, c.ActionKey, c.Value, now); err != nil {
			return fmt.Errorf("insert q cell: %w", err)
		}
	}
	return tx.Commit()
}
