package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Step is one test step row: the unit whose locator healing rewrites.
type Step struct {
	ID         string `json:"id"`
	TestCaseID string `json:"test_case_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Selector   string `json:"selector"`
	UpdatedAt  int64  `json:"updated_at"`
}

// UpsertStep registers or refreshes a step.
func (s *Store) UpsertStep(ctx context.Context, step *Step) error {
	step.UpdatedAt = time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO test_steps (id, test_case_id, name, selector, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			test_case_id = excluded.test_case_id,
			name = excluded.name,
			selector = excluded.selector,
			updated_at = excluded.updated_at`,
		step.ID, step.TestCaseID, step.Name, step.Selector, step.UpdatedAt,
	)
	return err
}

// SetStepSelector rewrites a step's locator, creating the row when the
// step was never registered.
func (s *Store) SetStepSelector(ctx context.Context, stepID, selector string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO test_steps (id, selector, updated_at)
		VALUES (?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			selector = excluded.selector,
			updated_at = excluded.updated_at`,
		stepID, selector, time.Now().UnixMilli(),
	)
	return err
}

// StepSelector returns the current locator of a step.
func (s *Store) StepSelector(ctx context.Context, stepID string) (string, error) {
	var selector string
	err := s.DB.QueryRowContext(ctx,
		`SELECT selector FROM test_steps WHERE id = ?`, stepID).Scan(&selector)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("store: step %s not found", stepID)
	}
	if err != nil {
		return "", err
	}
	return selector, nil
}
