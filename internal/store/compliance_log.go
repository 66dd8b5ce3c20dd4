package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
)

// ComplianceLog is a durable, append-only compliancelog.Log. Append
// returns only after the row is committed.
type ComplianceLog struct {
	db       *DB
	now      func() time.Time
	redactor compliancelog.Redactor
}

var _ compliancelog.Log = (*ComplianceLog)(nil)

// LogOption configures a ComplianceLog.
type LogOption func(*ComplianceLog)

// WithLogClock sets the time source used for timestamps.
func WithLogClock(now func() time.Time) LogOption {
	return func(l *ComplianceLog) { l.now = now }
}

// WithRedactor sets the redactor applied to free-text fields.
func WithRedactor(r compliancelog.Redactor) LogOption {
	return func(l *ComplianceLog) { l.redactor = r }
}

// ComplianceLog returns the persistent compliance log.
func (db *DB) ComplianceLog(opts ...LogOption) *ComplianceLog {
	l := &ComplianceLog{db: db, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records e.
func (l *ComplianceLog) Append(ctx context.Context, e compliancelog.Event) (compliancelog.Event, error) {
	if err := ctx.Err(); err != nil {
		return compliancelog.Event{}, err
	}
	if l.db == nil || l.db.sqlDB == nil {
		return compliancelog.Event{}, compliancelog.ErrLogClosed
	}
	stamped, err := compliancelog.Stamp(e, l.now(), l.redactor)
	if err != nil {
		return compliancelog.Event{}, err
	}
	_, err = l.db.sqlDB.ExecContext(ctx, `
INSERT INTO compliance_log (
	id, ts, action, campaign_id, lead_id, channel, result, check_name,
	reason, required_fix, reviewer, jurisdiction, policy_confidence, input
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stamped.ID, stamped.Timestamp.UnixNano(), stamped.Action, stamped.CampaignID, stamped.LeadID,
		stamped.Channel, string(stamped.Result), stamped.Check, stamped.Reason, stamped.RequiredFix,
		stamped.Reviewer, stamped.Jurisdiction, stamped.PolicyConfidence, stamped.Input,
	)
	if err != nil {
		return compliancelog.Event{}, fmt.Errorf("append compliance event: %w", err)
	}
	return stamped, nil
}

// Query returns matching events in append order.
func (l *ComplianceLog) Query(ctx context.Context, f compliancelog.Filter) ([]compliancelog.Event, error) {
	if l.db == nil || l.db.sqlDB == nil {
		return nil, compliancelog.ErrLogClosed
	}
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if f.CampaignID != "" {
		add("campaign_id = ?", f.CampaignID)
	}
	if f.LeadID != "" {
		add("lead_id = ?", f.LeadID)
	}
	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.Result != "" {
		add("result = ?", string(f.Result))
	}
	if !f.Since.IsZero() {
		add("ts >= ?", f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		add("ts < ?", f.Until.UnixNano())
	}

	query := `SELECT id, ts, action, campaign_id, lead_id, channel, result, check_name,
	reason, required_fix, reviewer, jurisdiction, policy_confidence, input
FROM compliance_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := l.db.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query compliance log: %w", err)
	}
	defer rows.Close()

	out := make([]compliancelog.Event, 0)
	for rows.Next() {
		var (
			e      compliancelog.Event
			ts     int64
			result string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Action, &e.CampaignID, &e.LeadID, &e.Channel, &result,
			&e.Check, &e.Reason, &e.RequiredFix, &e.Reviewer, &e.Jurisdiction, &e.PolicyConfidence, &e.Input); err != nil {
			return nil, fmt.Errorf("scan compliance event: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		e.Result = compliancelog.Result(result)
		out = append(out, e)
	}
	return out, rows.Err()
}
