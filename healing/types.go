// Package healing is the session orchestrator: the state machine that ties
// classification, the strategy pipeline and validation together per
// failure, decides apply/review/fail from confidence, and exposes the
// approve/reject protocol.
package healing

import (
	"errors"
	"time"

	"github.com/akkash/testbro-sub001/strategy"
	"github.com/akkash/testbro-sub001/validate"
)

// Status is the session state. pending and analyzing are transient and
// exist only for progress reporting.
type Status string

const (
	StatusPending        Status = "pending"
	StatusAnalyzing      Status = "analyzing"
	StatusHealing        Status = "healing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusRequiresReview Status = "requires_review"
)

// Trigger identifies what started a session.
type Trigger string

const (
	TriggerFailureDetection Trigger = "failure_detection"
	TriggerScheduledCheck   Trigger = "scheduled_check"
	TriggerManual           Trigger = "manual_trigger"
)

// Automatic reports whether the trigger came from machinery rather than a
// human; the auto-healing policy switch only gates automatic triggers.
func (t Trigger) Automatic() bool {
	return t == TriggerFailureDetection || t == TriggerScheduledCheck
}

var (
	// ErrSessionNotFound is returned for approve/reject on unknown ids.
	ErrSessionNotFound = errors.New("healing: session not found")
	// ErrInvalidTransition is returned for approve/reject outside
	// requires_review.
	ErrInvalidTransition = errors.New("healing: invalid state transition")
)

// FailureDetails describes the failed step as reported by the test runner.
type FailureDetails struct {
	StepID       string `json:"step_id"`
	Selector     string `json:"selector"`
	ErrorMessage string `json:"error_message"`
	StepName     string `json:"step_name,omitempty"`
	// BaselineFingerprint is the page fingerprint from the last passing
	// run, when known.
	BaselineFingerprint string `json:"baseline_fingerprint,omitempty"`
}

// Attempt is one strategy-pipeline execution outcome. Immutable once
// recorded; attempts are appended, never reordered or deleted.
type Attempt struct {
	ID               string           `json:"id"`
	SessionID        string           `json:"session_id"`
	AttemptNumber    int              `json:"attempt_number"`
	StrategyUsed     strategy.Method  `json:"strategy_used"`
	OriginalSelector string           `json:"original_selector"`
	ProposedSelector string           `json:"proposed_selector,omitempty"`
	Confidence       float64          `json:"confidence_score"`
	Reasoning        string           `json:"reasoning,omitempty"`
	Validation       *validate.Report `json:"validation_results,omitempty"`
	ExecutionTimeMS  int64            `json:"execution_time_ms"`
	Success          bool             `json:"success"`
	ErrorMessage     string           `json:"error_message,omitempty"`
}

// UpdateStatus tracks whether a SelectorUpdate has been written back.
type UpdateStatus string

const (
	UpdatePending   UpdateStatus = "pending"
	UpdateValidated UpdateStatus = "validated"
)

// SelectorUpdate is a proposed or applied locator change. The rollback
// data captures the verbatim original selector at proposal time so a
// rollback restores it exactly.
type SelectorUpdate struct {
	ID               string            `json:"id"`
	SessionID        string            `json:"healing_session_id"`
	TestCaseID       string            `json:"test_case_id"`
	StepID           string            `json:"step_id"`
	OriginalSelector string            `json:"original_selector"`
	NewSelector      string            `json:"new_selector"`
	Confidence       float64           `json:"confidence_score"`
	Similarity       float64           `json:"semantic_similarity"`
	Alternatives     []string          `json:"alternative_selectors,omitempty"`
	ContextPreserved bool              `json:"context_preservation"`
	Rollback         strategy.Rollback `json:"rollback_data"`
	Status           UpdateStatus      `json:"validation_status"`
}

// Session is the aggregate root: the stateful record of one attempt to
// repair one broken locator. Sessions are never deleted, only
// transitioned.
type Session struct {
	ID          string         `json:"id"`
	TestCaseID  string         `json:"test_case_id"`
	ExecutionID string         `json:"execution_id"`
	Trigger     Trigger        `json:"trigger_type"`
	Status      Status         `json:"status"`
	Failure     FailureDetails `json:"failure_details"`
	Attempts    []Attempt      `json:"healing_attempts"`
	// Adaptations lists updates that have actually been written back.
	Adaptations []SelectorUpdate `json:"successful_adaptations"`
	// PendingUpdate holds a computed adaptation awaiting review.
	PendingUpdate *SelectorUpdate `json:"pending_update,omitempty"`
	Confidence    float64         `json:"confidence_score"`
	Analysis      string          `json:"ai_analysis,omitempty"`
	ReviewedBy    string          `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNotes   string          `json:"review_notes,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the session has reached a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// clone returns a deep copy sharing no mutable state with the receiver.
func (s *Session) clone() *Session {
	c := *s
	if s.Attempts != nil {
		c.Attempts = make([]Attempt, len(s.Attempts))
		copy(c.Attempts, s.Attempts)
		for i, a := range c.Attempts {
			if a.Validation != nil {
				v := *a.Validation
				c.Attempts[i].Validation = &v
			}
		}
	}
	if s.Adaptations != nil {
		c.Adaptations = make([]SelectorUpdate, len(s.Adaptations))
		copy(c.Adaptations, s.Adaptations)
		for i := range c.Adaptations {
			c.Adaptations[i].Alternatives = append([]string(nil), c.Adaptations[i].Alternatives...)
		}
	}
	if s.PendingUpdate != nil {
		u := *s.PendingUpdate
		u.Alternatives = append([]string(nil), u.Alternatives...)
		c.PendingUpdate = &u
	}
	if s.ReviewedAt != nil {
		t := *s.ReviewedAt
		c.ReviewedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Policy is the per-project healing configuration. Read-only to the
// orchestrator; safe defaults substitute when the provider fails.
type Policy struct {
	ProjectID          string `json:"project_id" yaml:"project_id"`
	AutoHealingEnabled bool   `json:"auto_healing_enabled" yaml:"auto_healing_enabled"`
	// ApplyThreshold is the auto-apply confidence cutoff.
	ApplyThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// ReviewFloor is the minimum confidence to consider applying at all.
	ReviewFloor float64 `json:"require_review_threshold" yaml:"require_review_threshold"`
	// MaxAttempts is carried for configuration compatibility. The current
	// control flow runs exactly one attempt per invocation and does not
	// consult it.
	MaxAttempts     int  `json:"max_healing_attempts" yaml:"max_healing_attempts"`
	NotifyOnHealing bool `json:"notify_on_healing" yaml:"notify_on_healing"`
	NotifyOnReview  bool `json:"notify_on_review" yaml:"notify_on_review"`
}

// DefaultPolicy is substituted when no per-project policy exists or the
// read fails: auto-healing on, apply at 0.8, review floor 0.5.
func DefaultPolicy(projectID string) Policy {
	return Policy{
		ProjectID:          projectID,
		AutoHealingEnabled: true,
		ApplyThreshold:     0.8,
		ReviewFloor:        0.5,
		MaxAttempts:        3,
		NotifyOnHealing:    true,
		NotifyOnReview:     true,
	}
}

// WorkflowResult is what every public operation returns. Callers never see
// raw panics or internal errors; failures surface as a terminal status
// plus an error message.
type WorkflowResult struct {
	Success     bool    `json:"success"`
	SessionID   string  `json:"session_id"`
	FinalStatus Status  `json:"final_status"`
	NewSelector string  `json:"new_selector,omitempty"`
	Confidence  float64 `json:"confidence_score"`
	Reason      string  `json:"reason,omitempty"`
	Error       string  `json:"error_message,omitempty"`
}
