package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/akkash/testbro-sub001/healing"
)

// SavePolicy upserts a per-project healing policy.
func (s *Store) SavePolicy(ctx context.Context, p *healing.Policy) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO healing_policies
			(project_id, auto_healing_enabled, apply_threshold, review_floor,
			 max_attempts, notify_on_healing, notify_on_review, updated_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(project_id) DO UPDATE SET
			auto_healing_enabled = excluded.auto_healing_enabled,
			apply_threshold = excluded.apply_threshold,
			review_floor = excluded.review_floor,
			max_attempts = excluded.max_attempts,
			notify_on_healing = excluded.notify_on_healing,
			notify_on_review = excluded.notify_on_review,
			updated_at = excluded.updated_at`,
		p.ProjectID, boolInt(p.AutoHealingEnabled), p.ApplyThreshold, p.ReviewFloor,
		p.MaxAttempts, boolInt(p.NotifyOnHealing), boolInt(p.NotifyOnReview),
		time.Now().UnixMilli(),
	)
	return err
}

// GetPolicy returns the policy for a project, or (nil, nil) when none
// has been configured.
func (s *Store) GetPolicy(ctx context.Context, projectID string) (*healing.Policy, error) {
	p := &healing.Policy{}
	var autoEnabled, notifyHealing, notifyReview int

	err := s.DB.QueryRowContext(ctx, `
		SELECT project_id, auto_healing_enabled, apply_threshold, review_floor,
		       max_attempts, notify_on_healing, notify_on_review
		FROM healing_policies WHERE project_id = ?`, projectID).Scan(
		&p.ProjectID, &autoEnabled, &p.ApplyThreshold, &p.ReviewFloor,
		&p.MaxAttempts, &notifyHealing, &notifyReview,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.AutoHealingEnabled = autoEnabled != 0
	p.NotifyOnHealing = notifyHealing != 0
	p.NotifyOnReview = notifyReview != 0
	return p, nil
}
