package healing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/akkash/testbro-sub001/browser"
	"github.com/akkash/testbro-sub001/classify"
	"github.com/akkash/testbro-sub001/idgen"
	"github.com/akkash/testbro-sub001/notify"
	"github.com/akkash/testbro-sub001/profile"
	"github.com/akkash/testbro-sub001/strategy"
	"github.com/akkash/testbro-sub001/validate"
)

// validationPenalty halves the pipeline confidence when the winning
// candidate fails validation.
const validationPenalty = 0.5

// Notification topics.
const (
	TopicCompleted      = "healing.completed"
	TopicReviewRequired = "healing.review_required"
	TopicFailed         = "healing.failed"
	TopicApproved       = "healing.approved"
	TopicRejected       = "healing.rejected"
)

// Request describes one failure to heal.
type Request struct {
	ProjectID   string
	TestCaseID  string
	ExecutionID string
	Trigger     Trigger
	Failure     FailureDetails
	// SessionID resumes a session registered earlier with QueueSession.
	// Empty for synchronous runs, which create their session inline.
	SessionID string
	// Page is the live page the failed step ran on. Exclusively owned by
	// the caller for the duration of the call.
	Page browser.Page
}

// Orchestrator drives one healing workflow per failed step.
type Orchestrator struct {
	store      Store
	notifier   notify.Notifier
	profiler   *profile.Profiler
	classifier *classify.Classifier
	pipeline   *strategy.Pipeline
	validator  *validate.Validator
	registry   *registry
	logger     *slog.Logger
	now        func() time.Time

	newSessionID idgen.Generator
	newAttemptID idgen.Generator
	newUpdateID  idgen.Generator
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the event notifier. Default: notify.Nop.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(store Store, pipeline *strategy.Pipeline, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		notifier:     notify.Nop{},
		pipeline:     pipeline,
		logger:       slog.Default(),
		now:          time.Now,
		newSessionID: idgen.Prefixed("sess_", idgen.Default),
		newAttemptID: idgen.Prefixed("att_", idgen.Default),
		newUpdateID:  idgen.Prefixed("upd_", idgen.Default),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.profiler = profile.New(o.logger)
	o.classifier = classify.New(o.logger)
	o.validator = validate.New(o.logger)
	o.registry = newRegistry(store, o.logger)
	return o
}

// InitiateHealing runs the full workflow synchronously and returns a
// structured result. It never panics across this boundary and never
// returns an error: internal failures become a failed session with the
// original error message attached.
func (o *Orchestrator) InitiateHealing(ctx context.Context, req Request) (result WorkflowResult) {
	session := o.resumeOrCreate(ctx, req)
	if session.Status.Terminal() {
		// A redelivered job whose session already finished. Nothing to do.
		return o.resultFor(session)
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("healing: workflow panic", "session_id", session.ID, "panic", r)
			o.fail(ctx, session, fmt.Sprintf("internal error: %v", r))
			result = o.resultFor(session)
		}
	}()

	policy := o.loadPolicy(ctx, req.ProjectID)

	if !policy.AutoHealingEnabled && req.Trigger.Automatic() {
		o.fail(ctx, session, "auto-healing disabled")
		return o.resultFor(session)
	}

	// Gate: classification runs before the expensive pipeline.
	o.transition(ctx, session, StatusAnalyzing, "")
	verdict := o.classifier.Classify(ctx, req.Page, classify.Input{
		Selector:            req.Failure.Selector,
		ErrorMessage:        req.Failure.ErrorMessage,
		StepID:              req.Failure.StepID,
		BaselineFingerprint: req.Failure.BaselineFingerprint,
	})
	o.registry.mutate(func() { session.Analysis = verdict.Reason })
	if !verdict.Healable {
		o.fail(ctx, session, "not healable: "+verdict.Reason)
		return o.resultFor(session)
	}

	o.transition(ctx, session, StatusHealing, "")

	// Original profile is best-effort: a vanished element yields a
	// placeholder so the pipeline still runs.
	original, err := o.profiler.Profile(ctx, req.Page, req.Failure.Selector)
	if err != nil {
		if !errors.Is(err, browser.ErrElementNotFound) {
			o.logger.Warn("healing: original profile failed",
				"session_id", session.ID, "error", err)
		}
		original = profile.Placeholder(req.Failure.Selector)
	}

	started := o.now()
	res := o.pipeline.Run(ctx, strategy.Input{
		Original: original,
		Page:     req.Page,
		StepID:   req.Failure.StepID,
		TestName: req.Failure.StepName,
	})
	elapsed := o.now().Sub(started)

	var report *validate.Report
	if res.Success {
		r := o.validator.Validate(ctx, req.Page, res.NewSelector)
		report = &r
		if !r.ElementFound {
			res.Confidence *= validationPenalty
			res.Success = false
		}
	}

	o.recordAttempt(ctx, session, res, report, elapsed)
	o.registry.mutate(func() { session.Confidence = res.Confidence })

	o.decide(ctx, session, req, policy, res)
	return o.resultFor(session)
}

// decide maps the winning result's confidence onto the terminal state:
// below the review floor fails, below the apply threshold parks the
// adaptation for review, at or above it applies immediately.
func (o *Orchestrator) decide(ctx context.Context, session *Session, req Request, policy Policy, res *strategy.Result) {
	if !res.Success || res.Confidence < policy.ReviewFloor {
		reason := res.Reasoning
		if reason == "" {
			reason = fmt.Sprintf("confidence %.2f below review floor %.2f", res.Confidence, policy.ReviewFloor)
		}
		o.fail(ctx, session, reason)
		return
	}

	update := &SelectorUpdate{
		ID:               o.newUpdateID(),
		SessionID:        session.ID,
		TestCaseID:       req.TestCaseID,
		StepID:           req.Failure.StepID,
		OriginalSelector: req.Failure.Selector,
		NewSelector:      res.NewSelector,
		Confidence:       res.Confidence,
		Similarity:       res.Similarity,
		Alternatives:     res.Alternatives,
		ContextPreserved: res.Similarity >= 0.5,
		Rollback:         res.Rollback,
		Status:           UpdatePending,
	}
	o.persist(ctx, session.ID, "selector update", func() error {
		return o.store.SaveUpdate(ctx, update)
	})

	if res.Confidence < policy.ApplyThreshold {
		o.registry.mutate(func() { session.PendingUpdate = update })
		o.transition(ctx, session, StatusRequiresReview,
			fmt.Sprintf("confidence %.2f needs review (apply threshold %.2f)", res.Confidence, policy.ApplyThreshold))
		if policy.NotifyOnReview {
			o.notifier.Publish(ctx, TopicReviewRequired, o.resultFor(session))
		}
		return
	}

	if err := o.apply(ctx, session, update); err != nil {
		o.fail(ctx, session, "apply failed: "+err.Error())
		return
	}
	o.complete(ctx, session)
	if policy.NotifyOnHealing {
		o.notifier.Publish(ctx, TopicCompleted, o.resultFor(session))
	}
}

// ApproveHealing applies the stored adaptation of a session awaiting
// review. Only valid from requires_review.
func (o *Orchestrator) ApproveHealing(ctx context.Context, sessionID, approver, notes string) WorkflowResult {
	session := o.registry.get(ctx, sessionID)
	if session == nil {
		return WorkflowResult{
			Success: false, SessionID: sessionID,
			Error: ErrSessionNotFound.Error(),
		}
	}
	var status Status
	var pending *SelectorUpdate
	o.registry.mutate(func() {
		status = session.Status
		pending = session.PendingUpdate
	})
	if status != StatusRequiresReview {
		return WorkflowResult{
			Success: false, SessionID: sessionID, FinalStatus: status,
			Error: fmt.Sprintf("%s: approve from %s", ErrInvalidTransition, status),
		}
	}
	if pending == nil {
		return WorkflowResult{
			Success: false, SessionID: sessionID, FinalStatus: status,
			Error: "no pending adaptation on session",
		}
	}

	if err := o.apply(ctx, session, pending); err != nil {
		return WorkflowResult{
			Success: false, SessionID: sessionID, FinalStatus: status,
			Error: "apply failed: " + err.Error(),
		}
	}

	now := o.now().UTC()
	o.registry.mutate(func() {
		session.ReviewedBy = approver
		session.ReviewedAt = &now
		session.ReviewNotes = notes
		session.PendingUpdate = nil
	})
	o.complete(ctx, session)
	o.notifier.Publish(ctx, TopicApproved, o.resultFor(session))
	return o.resultFor(session)
}

// RejectHealing discards the stored adaptation without applying anything.
// Only valid from requires_review.
func (o *Orchestrator) RejectHealing(ctx context.Context, sessionID, rejecter, reason string) WorkflowResult {
	session := o.registry.get(ctx, sessionID)
	if session == nil {
		return WorkflowResult{
			Success: false, SessionID: sessionID,
			Error: ErrSessionNotFound.Error(),
		}
	}
	var status Status
	o.registry.mutate(func() { status = session.Status })
	if status != StatusRequiresReview {
		return WorkflowResult{
			Success: false, SessionID: sessionID, FinalStatus: status,
			Error: fmt.Sprintf("%s: reject from %s", ErrInvalidTransition, status),
		}
	}

	now := o.now().UTC()
	o.registry.mutate(func() {
		session.ReviewedBy = rejecter
		session.ReviewedAt = &now
		session.ReviewNotes = reason
		session.PendingUpdate = nil
	})
	o.fail(ctx, session, "rejected: "+reason)
	o.notifier.Publish(ctx, TopicRejected, o.resultFor(session))

	r := o.resultFor(session)
	r.Success = true // the reject operation itself succeeded
	return r
}

// SessionStatus returns a point-in-time copy of the session by id, or
// ErrSessionNotFound. The copy shares nothing with the running workflow,
// so callers may hold or marshal it freely.
func (o *Orchestrator) SessionStatus(ctx context.Context, sessionID string) (*Session, error) {
	session := o.registry.snapshot(ctx, sessionID)
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// RollbackUpdate restores the exact original selector captured at proposal
// time and reverts the update to pending.
func (o *Orchestrator) RollbackUpdate(ctx context.Context, u *SelectorUpdate) error {
	if u.Rollback.OriginalSelector == "" {
		return fmt.Errorf("healing: update %s has no rollback data", u.ID)
	}
	if err := o.store.SetStepSelector(ctx, u.StepID, u.Rollback.OriginalSelector); err != nil {
		return fmt.Errorf("healing: rollback step %s: %w", u.StepID, err)
	}
	u.Status = UpdatePending
	o.persist(ctx, u.SessionID, "rollback update", func() error {
		return o.store.SaveUpdate(ctx, u)
	})
	o.store.LogEvent(ctx, SessionEvent{
		SessionID: u.SessionID,
		EventType: "update_rolled_back",
		Detail:    u.StepID,
		CreatedAt: o.now().UTC(),
	})
	return nil
}

// apply rewrites the owning step's locator and marks the update applied.
// Idempotent per update id.
func (o *Orchestrator) apply(ctx context.Context, session *Session, update *SelectorUpdate) error {
	if update.Status == UpdateValidated {
		return nil // already applied
	}
	if err := o.store.SetStepSelector(ctx, update.StepID, update.NewSelector); err != nil {
		return fmt.Errorf("rewrite step %s: %w", update.StepID, err)
	}
	o.registry.mutate(func() {
		update.Status = UpdateValidated
		session.Adaptations = append(session.Adaptations, *update)
	})
	o.persist(ctx, session.ID, "mark update applied", func() error {
		return o.store.MarkUpdateApplied(ctx, update.ID)
	})
	return nil
}

// QueueSession registers a pending session for a request that will run
// later, so the caller holds a session id from the moment of enqueue.
func (o *Orchestrator) QueueSession(ctx context.Context, req Request) string {
	return o.createSession(ctx, req).ID
}

// CancelSession fails a session whose deferred run will never happen.
// No-op when the session is unknown or already finished.
func (o *Orchestrator) CancelSession(ctx context.Context, sessionID, reason string) {
	session := o.registry.get(ctx, sessionID)
	if session == nil || session.Status.Terminal() {
		return
	}
	o.fail(ctx, session, reason)
}

// resumeOrCreate picks up the pre-registered session named by the
// request, or creates a fresh one. A named session that vanished (lost
// store, wiped cache) is recreated under the same id so the caller's
// handle stays valid.
func (o *Orchestrator) resumeOrCreate(ctx context.Context, req Request) *Session {
	if req.SessionID == "" {
		return o.createSession(ctx, req)
	}
	if session := o.registry.get(ctx, req.SessionID); session != nil {
		return session
	}
	return o.createSession(ctx, req)
}

func (o *Orchestrator) createSession(ctx context.Context, req Request) *Session {
	id := req.SessionID
	if id == "" {
		id = o.newSessionID()
	}
	now := o.now().UTC()
	session := &Session{
		ID:          id,
		TestCaseID:  req.TestCaseID,
		ExecutionID: req.ExecutionID,
		Trigger:     req.Trigger,
		Status:      StatusPending,
		Failure:     req.Failure,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	o.registry.put(ctx, session, true)
	o.store.LogEvent(ctx, SessionEvent{
		SessionID: session.ID, EventType: "session_created",
		Detail: string(req.Trigger), CreatedAt: now,
	})
	return session
}

func (o *Orchestrator) loadPolicy(ctx context.Context, projectID string) Policy {
	p, err := o.store.GetPolicy(ctx, projectID)
	if err != nil {
		o.logger.Warn("healing: policy read failed, using defaults",
			"project_id", projectID, "error", err)
		return DefaultPolicy(projectID)
	}
	if p == nil {
		return DefaultPolicy(projectID)
	}
	return *p
}

func (o *Orchestrator) recordAttempt(ctx context.Context, session *Session, res *strategy.Result, report *validate.Report, elapsed time.Duration) {
	attempt := Attempt{
		ID:               o.newAttemptID(),
		SessionID:        session.ID,
		AttemptNumber:    len(session.Attempts) + 1,
		StrategyUsed:     res.Method,
		OriginalSelector: session.Failure.Selector,
		ProposedSelector: res.NewSelector,
		Confidence:       res.Confidence,
		Reasoning:        res.Reasoning,
		Validation:       report,
		ExecutionTimeMS:  elapsed.Milliseconds(),
		Success:          res.Success,
	}
	if !res.Success && res.Reasoning != "" {
		attempt.ErrorMessage = res.Reasoning
	}
	o.registry.mutate(func() { session.Attempts = append(session.Attempts, attempt) })
	o.persist(ctx, session.ID, "attempt", func() error {
		return o.store.AppendAttempt(ctx, &attempt)
	})
}

func (o *Orchestrator) transition(ctx context.Context, session *Session, to Status, detail string) {
	o.registry.mutate(func() {
		session.Status = to
		session.UpdatedAt = o.now().UTC()
	})
	o.registry.put(ctx, session, false)
	o.store.LogEvent(ctx, SessionEvent{
		SessionID: session.ID, EventType: "status_" + string(to),
		Detail: detail, CreatedAt: session.UpdatedAt,
	})
}

func (o *Orchestrator) fail(ctx context.Context, session *Session, reason string) {
	now := o.now().UTC()
	o.registry.mutate(func() {
		session.ErrorMessage = reason
		session.CompletedAt = &now
	})
	o.transition(ctx, session, StatusFailed, reason)
	o.notifier.Publish(ctx, TopicFailed, o.resultFor(session))
}

func (o *Orchestrator) complete(ctx context.Context, session *Session) {
	now := o.now().UTC()
	o.registry.mutate(func() { session.CompletedAt = &now })
	o.transition(ctx, session, StatusCompleted, "")
}

// persist runs a store write, logging instead of propagating failure.
func (o *Orchestrator) persist(ctx context.Context, sessionID, what string, fn func() error) {
	if err := fn(); err != nil {
		o.logger.Warn("healing: persist failed, continuing in-memory",
			"session_id", sessionID, "what", what, "error", err)
	}
}

func (o *Orchestrator) resultFor(session *Session) WorkflowResult {
	r := WorkflowResult{
		Success:     session.Status == StatusCompleted,
		SessionID:   session.ID,
		FinalStatus: session.Status,
		Confidence:  session.Confidence,
		Reason:      session.Analysis,
		Error:       session.ErrorMessage,
	}
	if n := len(session.Adaptations); n > 0 {
		r.NewSelector = session.Adaptations[n-1].NewSelector
	} else if session.PendingUpdate != nil {
		r.NewSelector = session.PendingUpdate.NewSelector
	}
	return r
}
