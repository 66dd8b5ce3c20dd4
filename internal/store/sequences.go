package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/outreachd/internal/sequencer"
)

// Sequences implements sequencer.Repository.
type Sequences struct {
	db *DB
}

var _ sequencer.Repository = (*Sequences)(nil)

// Sequences returns the sequence repository.
func (db *DB) Sequences() *Sequences { return &Sequences{db: db} }

// Create inserts a sequence. A campaign holds at most one sequence per lead.
func (r *Sequences) Create(ctx context.Context, s *sequencer.Sequence) error {
	if r.db == nil || r.db.sqlDB == nil {
		return ErrNotConfigured
	}
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sequence: %w", err)
	}
	_, err = r.db.sqlDB.ExecContext(ctx, `
INSERT INTO sequences (id, campaign_id, lead_id, cursor, status, next_touch_at, document, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.CampaignID, s.LeadID, s.Cursor, string(s.Status), toMillis(s.NextTouchAt),
		string(doc), toMillis(s.CreatedAt), toMillis(s.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return sequencer.ErrSequenceExists
	}
	if err != nil {
		return fmt.Errorf("insert sequence: %w", err)
	}
	return nil
}

// Get loads a sequence by ID.
func (r *Sequences) Get(ctx context.Context, id string) (*sequencer.Sequence, error) {
	return r.one(ctx, `SELECT document FROM sequences WHERE id = ?`, id)
}

// FindByLead returns the sequence of a lead in a campaign.
func (r *Sequences) FindByLead(ctx context.Context, campaignID, leadID string) (*sequencer.Sequence, error) {
	return r.one(ctx, `SELECT document FROM sequences WHERE campaign_id = ? AND lead_id = ?`, campaignID, leadID)
}

func (r *Sequences) one(ctx context.Context, query string, args ...any) (*sequencer.Sequence, error) {
	if r.db == nil || r.db.sqlDB == nil {
		return nil, ErrNotConfigured
	}
	var doc string
	err := r.db.sqlDB.QueryRowContext(ctx, query, args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sequencer.ErrSequenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	return decodeSequence(doc)
}

func decodeSequence(doc string) (*sequencer.Sequence, error) {
	var s sequencer.Sequence
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		return nil, fmt.Errorf("decode sequence: %w", err)
	}
	return &s, nil
}

// Update replaces a stored sequence.
func (r *Sequences) Update(ctx context.Context, s *sequencer.Sequence) error {
	if r.db == nil || r.db.sqlDB == nil {
		return ErrNotConfigured
	}
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sequence: %w", err)
	}
	res, err := r.db.sqlDB.ExecContext(ctx, `
UPDATE sequences
SET cursor = ?, status = ?, next_touch_at = ?, document = ?, updated_at = ?
WHERE id = ?`,
		s.Cursor, string(s.Status), toMillis(s.NextTouchAt), string(doc), toMillis(s.UpdatedAt), s.ID,
	)
	if err != nil {
		return fmt.Errorf("update sequence: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sequencer.ErrSequenceNotFound
	}
	return nil
}

// Due returns active sequences whose next touch is at or before now,
// earliest first. A non-positive limit means no limit.
func (r *Sequences) Due(ctx context.Context, now time.Time, limit int) ([]*sequencer.Sequence, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.many(ctx, `
SELECT document FROM sequences
WHERE status = ? AND next_touch_at <= ?
ORDER BY next_touch_at, id
LIMIT ?`, string(sequencer.StatusActive), now.UTC().UnixMilli(), limit)
}

// ListByCampaign returns the sequences of a campaign in creation order.
func (r *Sequences) ListByCampaign(ctx context.Context, campaignID string) ([]*sequencer.Sequence, error) {
	return r.many(ctx, `SELECT document FROM sequences WHERE campaign_id = ? ORDER BY created_at, id`, campaignID)
}

func (r *Sequences) many(ctx context.Context, query string, args ...any) ([]*sequencer.Sequence, error) {
	if r.db == nil || r.db.sqlDB == nil {
		return nil, ErrNotConfigured
	}
	rows, err := r.db.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sequences: %w", err)
	}
	defer rows.Close()

	out := make([]*sequencer.Sequence, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		s, err := decodeSequence(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
