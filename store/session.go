package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/akkash/testbro-sub001/healing"
	"github.com/akkash/testbro-sub001/strategy"
)

// InsertSession inserts a new healing session.
func (s *Store) InsertSession(ctx context.Context, sess *healing.Session) error {
	failure, _ := json.Marshal(sess.Failure)
	adaptations, _ := json.Marshal(sess.Adaptations)
	pending := marshalNullable(sess.PendingUpdate)

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO healing_sessions
			(id, test_case_id, execution_id, trigger_type, status, failure,
			 adaptations, pending_update, confidence, analysis, reviewed_by,
			 reviewed_at, review_notes, error_message, created_at, updated_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.TestCaseID, sess.ExecutionID, string(sess.Trigger), string(sess.Status),
		string(failure), string(adaptations), pending, sess.Confidence, sess.Analysis,
		sess.ReviewedBy, millisPtr(sess.ReviewedAt), sess.ReviewNotes, sess.ErrorMessage,
		sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(), millisPtr(sess.CompletedAt),
	)
	return err
}

// UpdateSession overwrites the mutable fields of an existing session.
func (s *Store) UpdateSession(ctx context.Context, sess *healing.Session) error {
	adaptations, _ := json.Marshal(sess.Adaptations)
	pending := marshalNullable(sess.PendingUpdate)

	_, err := s.DB.ExecContext(ctx, `
		UPDATE healing_sessions
		SET status = ?, adaptations = ?, pending_update = ?, confidence = ?,
		    analysis = ?, reviewed_by = ?, reviewed_at = ?, review_notes = ?,
		    error_message = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		string(sess.Status), string(adaptations), pending, sess.Confidence,
		sess.Analysis, sess.ReviewedBy, millisPtr(sess.ReviewedAt), sess.ReviewNotes,
		sess.ErrorMessage, sess.UpdatedAt.UnixMilli(), millisPtr(sess.CompletedAt),
		sess.ID,
	)
	return err
}

// GetSession retrieves a session with its attempts. Returns (nil, nil)
// when no session exists.
func (s *Store) GetSession(ctx context.Context, id string) (*healing.Session, error) {
	sess := &healing.Session{}
	var trigger, status, failure, adaptations string
	var pending sql.NullString
	var reviewedAt, completedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := s.DB.QueryRowContext(ctx, `
		SELECT id, test_case_id, execution_id, trigger_type, status, failure,
		       adaptations, pending_update, confidence, analysis, reviewed_by,
		       reviewed_at, review_notes, error_message, created_at, updated_at, completed_at
		FROM healing_sessions WHERE id = ?`, id).Scan(
		&sess.ID, &sess.TestCaseID, &sess.ExecutionID, &trigger, &status, &failure,
		&adaptations, &pending, &sess.Confidence, &sess.Analysis, &sess.ReviewedBy,
		&reviewedAt, &sess.ReviewNotes, &sess.ErrorMessage, &createdAt, &updatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sess.Trigger = healing.Trigger(trigger)
	sess.Status = healing.Status(status)
	json.Unmarshal([]byte(failure), &sess.Failure)
	json.Unmarshal([]byte(adaptations), &sess.Adaptations)
	if pending.Valid {
		var u healing.SelectorUpdate
		if json.Unmarshal([]byte(pending.String), &u) == nil {
			sess.PendingUpdate = &u
		}
	}
	sess.ReviewedAt = fromMillisPtr(reviewedAt)
	sess.CompletedAt = fromMillisPtr(completedAt)
	sess.CreatedAt = time.UnixMilli(createdAt).UTC()
	sess.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	attempts, err := s.listAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Attempts = attempts
	return sess, nil
}

// AppendAttempt records one pipeline outcome.
func (s *Store) AppendAttempt(ctx context.Context, a *healing.Attempt) error {
	var validation sql.NullString
	if a.Validation != nil {
		data, _ := json.Marshal(a.Validation)
		validation = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO healing_attempts
			(id, session_id, attempt_number, strategy_used, original_selector,
			 proposed_selector, confidence, reasoning, validation,
			 execution_time_ms, success, error_message, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.SessionID, a.AttemptNumber, string(a.StrategyUsed), a.OriginalSelector,
		a.ProposedSelector, a.Confidence, a.Reasoning, validation,
		a.ExecutionTimeMS, boolInt(a.Success), a.ErrorMessage, time.Now().UnixMilli(),
	)
	return err
}

func (s *Store) listAttempts(ctx context.Context, sessionID string) ([]healing.Attempt, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, session_id, attempt_number, strategy_used, original_selector,
		       proposed_selector, confidence, reasoning, validation,
		       execution_time_ms, success, error_message
		FROM healing_attempts WHERE session_id = ?
		ORDER BY attempt_number ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []healing.Attempt
	for rows.Next() {
		var a healing.Attempt
		var strategyUsed string
		var validation sql.NullString
		var success int
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.AttemptNumber, &strategyUsed, &a.OriginalSelector,
			&a.ProposedSelector, &a.Confidence, &a.Reasoning, &validation,
			&a.ExecutionTimeMS, &success, &a.ErrorMessage,
		); err != nil {
			return nil, err
		}
		a.StrategyUsed = strategy.Method(strategyUsed)
		a.Success = success != 0
		if validation.Valid {
			json.Unmarshal([]byte(validation.String), &a.Validation)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// LogEvent appends an audit row. Failures are logged, never returned.
func (s *Store) LogEvent(ctx context.Context, e healing.SessionEvent) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO session_events (session_id, event_type, detail, created_at)
		VALUES (?,?,?,?)`,
		e.SessionID, e.EventType, e.Detail, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		s.logger.Warn("store: event log failed",
			"session_id", e.SessionID, "event", e.EventType, "error", err)
	}
}

// ListEvents returns a session's audit trail in insertion order.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]healing.SessionEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT session_id, event_type, detail, created_at
		FROM session_events WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []healing.SessionEvent
	for rows.Next() {
		var e healing.SessionEvent
		var createdAt int64
		if err := rows.Scan(&e.SessionID, &e.EventType, &e.Detail, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

func marshalNullable(u *healing.SelectorUpdate) sql.NullString {
	if u == nil {
		return sql.NullString{}
	}
	data, err := json.Marshal(u)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

func millisPtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillisPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}
