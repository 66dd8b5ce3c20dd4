package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
)

// Campaigns implements campaign.Repository.
type Campaigns struct {
	db *DB
}

var _ campaign.Repository = (*Campaigns)(nil)

// Campaigns returns the campaign repository.
func (db *DB) Campaigns() *Campaigns { return &Campaigns{db: db} }

type campaignRow struct {
	jurisdiction string
	policy       []byte
	metrics      []byte
	config       []byte
	document     []byte
}

func encodeCampaign(c *campaign.Campaign) (campaignRow, error) {
	var row campaignRow
	var err error
	if c.Policy != nil {
		row.jurisdiction = c.Policy.JurisdictionID
	}
	if row.policy, err = json.Marshal(c.Policy); err != nil {
		return row, fmt.Errorf("encode policy snapshot: %w", err)
	}
	if row.metrics, err = json.Marshal(c.Stats); err != nil {
		return row, fmt.Errorf("encode metrics: %w", err)
	}
	if row.config, err = json.Marshal(c.Config); err != nil {
		return row, fmt.Errorf("encode config: %w", err)
	}
	if row.document, err = json.Marshal(c); err != nil {
		return row, fmt.Errorf("encode campaign: %w", err)
	}
	return row, nil
}

// Create inserts a campaign.
func (r *Campaigns) Create(ctx context.Context, c *campaign.Campaign) error {
	if r.db == nil || r.db.sqlDB == nil {
		return ErrNotConfigured
	}
	row, err := encodeCampaign(c)
	if err != nil {
		return err
	}
	_, err = r.db.sqlDB.ExecContext(ctx, `
INSERT INTO campaigns (id, jurisdiction, policy_snapshot, mode, status, metrics, config, document, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, row.jurisdiction, string(row.policy), string(c.Mode), string(c.Status),
		string(row.metrics), string(row.config), string(row.document),
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return campaign.ErrCampaignExists
	}
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// Get loads a campaign by ID.
func (r *Campaigns) Get(ctx context.Context, id string) (*campaign.Campaign, error) {
	if r.db == nil || r.db.sqlDB == nil {
		return nil, ErrNotConfigured
	}
	var doc string
	err := r.db.sqlDB.QueryRowContext(ctx, `SELECT document FROM campaigns WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return decodeCampaign(doc)
}

func decodeCampaign(doc string) (*campaign.Campaign, error) {
	var c campaign.Campaign
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, fmt.Errorf("decode campaign: %w", err)
	}
	return &c, nil
}

// Update replaces a stored campaign. The policy snapshot taken at creation
// is immutable and is not rewritten.
func (r *Campaigns) Update(ctx context.Context, c *campaign.Campaign) error {
	if r.db == nil || r.db.sqlDB == nil {
		return ErrNotConfigured
	}
	row, err := encodeCampaign(c)
	if err != nil {
		return err
	}
	res, err := r.db.sqlDB.ExecContext(ctx, `
UPDATE campaigns
SET mode = ?, status = ?, metrics = ?, config = ?, document = ?, updated_at = ?
WHERE id = ?`,
		string(c.Mode), string(c.Status), string(row.metrics), string(row.config),
		string(row.document), toMillis(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return campaign.ErrCampaignNotFound
	}
	return nil
}

// List returns every campaign ordered by creation time.
func (r *Campaigns) List(ctx context.Context) ([]*campaign.Campaign, error) {
	if r.db == nil || r.db.sqlDB == nil {
		return nil, ErrNotConfigured
	}
	rows, err := r.db.sqlDB.QueryContext(ctx, `SELECT document FROM campaigns ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	out := make([]*campaign.Campaign, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c, err := decodeCampaign(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
