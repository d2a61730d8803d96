package healing

import (
	"context"
	"time"
)

// SessionEvent is one audit row recorded on session transitions.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	EventType string    `json:"event_type"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence port the orchestrator writes through. Write
// failures are logged and the in-memory workflow continues; reads that
// find nothing return (nil, nil).
type Store interface {
	InsertSession(ctx context.Context, s *Session) error
	UpdateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)

	AppendAttempt(ctx context.Context, a *Attempt) error

	SaveUpdate(ctx context.Context, u *SelectorUpdate) error
	MarkUpdateApplied(ctx context.Context, updateID string) error

	// SetStepSelector rewrites the owning test step's locator field. This
	// is the only write that makes an adaptation durably "applied".
	SetStepSelector(ctx context.Context, stepID, selector string) error
	StepSelector(ctx context.Context, stepID string) (string, error)

	GetPolicy(ctx context.Context, projectID string) (*Policy, error)

	// LogEvent is best-effort; implementations swallow their own errors.
	LogEvent(ctx context.Context, e SessionEvent)
}
