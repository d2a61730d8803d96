package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/akkash/testbro-sub001/healing"
)

// SaveUpdate upserts a selector update by id.
func (s *Store) SaveUpdate(ctx context.Context, u *healing.SelectorUpdate) error {
	alternatives, _ := json.Marshal(u.Alternatives)
	rollback, _ := json.Marshal(u.Rollback)
	now := time.Now().UnixMilli()

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO selector_updates
			(id, session_id, test_case_id, step_id, original_selector, new_selector,
			 confidence, similarity, alternatives, context_preserved, rollback,
			 status, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			new_selector = excluded.new_selector,
			confidence = excluded.confidence,
			similarity = excluded.similarity,
			alternatives = excluded.alternatives,
			context_preserved = excluded.context_preserved,
			rollback = excluded.rollback,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		u.ID, u.SessionID, u.TestCaseID, u.StepID, u.OriginalSelector, u.NewSelector,
		u.Confidence, u.Similarity, string(alternatives), boolInt(u.ContextPreserved),
		string(rollback), string(u.Status), now, now,
	)
	return err
}

// GetUpdate retrieves a selector update by id. Returns (nil, nil) on miss.
func (s *Store) GetUpdate(ctx context.Context, id string) (*healing.SelectorUpdate, error) {
	u := &healing.SelectorUpdate{}
	var alternatives, rollback, status string
	var contextPreserved int

	err := s.DB.QueryRowContext(ctx, `
		SELECT id, session_id, test_case_id, step_id, original_selector, new_selector,
		       confidence, similarity, alternatives, context_preserved, rollback, status
		FROM selector_updates WHERE id = ?`, id).Scan(
		&u.ID, &u.SessionID, &u.TestCaseID, &u.StepID, &u.OriginalSelector, &u.NewSelector,
		&u.Confidence, &u.Similarity, &alternatives, &contextPreserved, &rollback, &status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(alternatives), &u.Alternatives)
	json.Unmarshal([]byte(rollback), &u.Rollback)
	u.ContextPreserved = contextPreserved != 0
	u.Status = healing.UpdateStatus(status)
	return u, nil
}

// MarkUpdateApplied records that an update was written back to its step.
func (s *Store) MarkUpdateApplied(ctx context.Context, updateID string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, `
		UPDATE selector_updates
		SET status = ?, applied_at = ?, updated_at = ?
		WHERE id = ?`,
		string(healing.UpdateValidated), now, now, updateID,
	)
	return err
}
