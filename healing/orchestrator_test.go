package healing_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/akkash/testbro-sub001/browser"
	"github.com/akkash/testbro-sub001/healing"
	"github.com/akkash/testbro-sub001/strategy"
)

// memStore is an in-memory healing.Store.
type memStore struct {
	mu        sync.Mutex
	sessions  map[string]*healing.Session
	attempts  []healing.Attempt
	updates   map[string]*healing.SelectorUpdate
	steps     map[string]string
	policy    *healing.Policy
	events    []healing.SessionEvent
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*healing.Session),
		updates:  make(map[string]*healing.SelectorUpdate),
		steps:    make(map[string]string),
	}
}

func (m *memStore) InsertSession(_ context.Context, s *healing.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) UpdateSession(_ context.Context, s *healing.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*healing.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id], nil
}

func (m *memStore) AppendAttempt(_ context.Context, a *healing.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *a)
	return nil
}

func (m *memStore) SaveUpdate(_ context.Context, u *healing.SelectorUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.updates[u.ID] = &cp
	return nil
}

func (m *memStore) MarkUpdateApplied(_ context.Context, updateID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.updates[updateID]; ok {
		u.Status = healing.UpdateValidated
	}
	return nil
}

func (m *memStore) SetStepSelector(_ context.Context, stepID, selector string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[stepID] = selector
	return nil
}

func (m *memStore) StepSelector(_ context.Context, stepID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps[stepID], nil
}

func (m *memStore) GetPolicy(context.Context, string) (*healing.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy, nil
}

func (m *memStore) LogEvent(_ context.Context, e healing.SessionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// recorder captures published notification topics.
type recorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *recorder) Publish(_ context.Context, topic string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
}

func (r *recorder) has(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if t == topic {
			return true
		}
	}
	return false
}

// fakeElement and fakePage mirror the browser contract with canned data.
type fakeElement struct {
	visible bool
	enabled bool
}

func (f *fakeElement) Visible(context.Context) (bool, error) { return f.visible, nil }
func (f *fakeElement) Enabled(context.Context) (bool, error) { return f.enabled, nil }
func (f *fakeElement) Box(context.Context) (browser.Rect, error) {
	return browser.Rect{Width: 100, Height: 30}, nil
}
func (f *fakeElement) Text(context.Context) (string, error) { return "", nil }
func (f *fakeElement) Attribute(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeElement) Click(context.Context) error { return nil }

type fakePage struct {
	elements map[string][]browser.Element
	closed   int
}

func (f *fakePage) Locate(_ context.Context, selector string) (browser.Element, error) {
	els := f.elements[selector]
	if len(els) == 0 {
		return nil, browser.ErrElementNotFound
	}
	return els[0], nil
}

func (f *fakePage) LocateAll(_ context.Context, selector string) ([]browser.Element, error) {
	return f.elements[selector], nil
}

func (f *fakePage) URL() string { return "https://app.example.com/login" }

func (f *fakePage) Eval(context.Context, string) (string, error) { return "null", nil }

func (f *fakePage) HTML(context.Context) (string, error) {
	return "<html><body><form><button>Log in</button></form></body></html>", nil
}

func (f *fakePage) Close() error {
	f.closed++
	return nil
}

// fixed is a strategy that always proposes the same candidate. A nonzero
// delay keeps the workflow in flight long enough for observers.
type fixed struct {
	selector   string
	confidence float64
	called     *bool
	delay      time.Duration
}

func (f *fixed) Name() string { return "fixed" }

func (f *fixed) Execute(_ context.Context, in strategy.Input) (*strategy.Result, error) {
	if f.called != nil {
		*f.called = true
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return &strategy.Result{
		Success:     true,
		NewSelector: f.selector,
		Confidence:  f.confidence,
		Method:      strategy.MethodSemantic,
		Similarity:  f.confidence,
		Reasoning:   "matched by fixture",
		Rollback:    strategy.Rollback{OriginalSelector: in.Original.Selector, PageURL: in.Page.URL()},
	}, nil
}

func newOrchestrator(t *testing.T, store healing.Store, confidence float64) (*healing.Orchestrator, *recorder) {
	t.Helper()
	rec := &recorder{}
	pipeline := strategy.NewPipeline(nil,
		strategy.Registration{Strategy: &fixed{selector: "#new-login", confidence: confidence}, Priority: 1},
	)
	orc := healing.New(store, pipeline, healing.WithNotifier(rec))
	return orc, rec
}

func healRequest() healing.Request {
	return healing.Request{
		ProjectID:  "proj-1",
		TestCaseID: "case-1",
		Trigger:    healing.TriggerFailureDetection,
		Failure: healing.FailureDetails{
			StepID:       "step-1",
			Selector:     "#old-login",
			ErrorMessage: "element not found: #old-login",
		},
		// The old selector resolves to nothing; the proposed one is live.
		Page: &fakePage{elements: map[string][]browser.Element{
			"#new-login": {&fakeElement{visible: true, enabled: true}},
		}},
	}
}

func TestHealingAppliesAboveThreshold(t *testing.T) {
	store := newMemStore()
	orc, rec := newOrchestrator(t, store, 0.9)

	res := orc.InitiateHealing(context.Background(), healRequest())

	if !res.Success || res.FinalStatus != healing.StatusCompleted {
		t.Fatalf("got %+v, want completed", res)
	}
	if res.NewSelector != "#new-login" {
		t.Fatalf("got selector %q, want #new-login", res.NewSelector)
	}
	if store.steps["step-1"] != "#new-login" {
		t.Fatalf("step selector = %q, want rewrite to #new-login", store.steps["step-1"])
	}
	if len(store.attempts) != 1 || store.attempts[0].AttemptNumber != 1 {
		t.Fatalf("got attempts %+v, want exactly one numbered 1", store.attempts)
	}
	if !rec.has(healing.TopicCompleted) {
		t.Fatalf("got topics %v, want %s", rec.topics, healing.TopicCompleted)
	}

	session, err := orc.SessionStatus(context.Background(), res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(session.Adaptations) != 1 {
		t.Fatalf("got %d adaptations, want 1", len(session.Adaptations))
	}
	if session.Adaptations[0].Status != healing.UpdateValidated {
		t.Fatalf("got update status %q, want validated", session.Adaptations[0].Status)
	}
	if session.CompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}
}

func TestHealingParksMidConfidenceForReview(t *testing.T) {
	store := newMemStore()
	orc, rec := newOrchestrator(t, store, 0.65)

	res := orc.InitiateHealing(context.Background(), healRequest())

	if res.Success {
		t.Fatalf("got %+v, want not-applied", res)
	}
	if res.FinalStatus != healing.StatusRequiresReview {
		t.Fatalf("got status %q, want requires_review", res.FinalStatus)
	}
	if res.NewSelector != "#new-login" {
		t.Fatalf("got selector %q, want the pending proposal visible in the result", res.NewSelector)
	}
	if got := store.steps["step-1"]; got != "" {
		t.Fatalf("step selector = %q, want untouched", got)
	}
	if !rec.has(healing.TopicReviewRequired) {
		t.Fatalf("got topics %v, want %s", rec.topics, healing.TopicReviewRequired)
	}

	session, _ := orc.SessionStatus(context.Background(), res.SessionID)
	if session.PendingUpdate == nil {
		t.Fatal("expected a pending update on the session")
	}
	if session.PendingUpdate.Rollback.OriginalSelector != "#old-login" {
		t.Fatalf("got rollback %q, want #old-login", session.PendingUpdate.Rollback.OriginalSelector)
	}
}

func TestHealingFailsBelowReviewFloor(t *testing.T) {
	store := newMemStore()
	orc, rec := newOrchestrator(t, store, 0.3)

	res := orc.InitiateHealing(context.Background(), healRequest())

	if res.FinalStatus != healing.StatusFailed {
		t.Fatalf("got status %q, want failed", res.FinalStatus)
	}
	if len(store.updates) != 0 {
		t.Fatalf("got %d stored updates, want none below the floor", len(store.updates))
	}
	if !rec.has(healing.TopicFailed) {
		t.Fatalf("got topics %v, want %s", rec.topics, healing.TopicFailed)
	}
}

func TestValidationFailureHalvesConfidence(t *testing.T) {
	store := newMemStore()
	orc, _ := newOrchestrator(t, store, 0.9)

	req := healRequest()
	// Proposed selector resolves to nothing, so validation fails.
	req.Page = &fakePage{}

	res := orc.InitiateHealing(context.Background(), req)

	if res.FinalStatus != healing.StatusFailed {
		t.Fatalf("got status %q, want failed", res.FinalStatus)
	}
	if res.Confidence != 0.45 {
		t.Fatalf("got confidence %v, want 0.45 (0.9 halved)", res.Confidence)
	}
	if len(store.attempts) != 1 || store.attempts[0].Success {
		t.Fatalf("got attempts %+v, want one failed attempt", store.attempts)
	}
}

func TestNonHealableFailureSkipsPipeline(t *testing.T) {
	store := newMemStore()
	rec := &recorder{}
	var called bool
	pipeline := strategy.NewPipeline(nil,
		strategy.Registration{Strategy: &fixed{selector: "#new", confidence: 0.9, called: &called}, Priority: 1},
	)
	orc := healing.New(store, pipeline, healing.WithNotifier(rec))

	req := healRequest()
	req.Failure.ErrorMessage = "assertion failed: expected balance 100, got 90"

	res := orc.InitiateHealing(context.Background(), req)

	if res.FinalStatus != healing.StatusFailed {
		t.Fatalf("got status %q, want failed", res.FinalStatus)
	}
	if called {
		t.Fatal("pipeline ran for a functional regression")
	}
	if len(store.attempts) != 0 {
		t.Fatalf("got %d attempts, want none", len(store.attempts))
	}
	if !strings.Contains(res.Error, "not healable") {
		t.Fatalf("got error %q, want a not-healable reason", res.Error)
	}
}

func TestAutoHealingDisabledGatesAutomaticTriggers(t *testing.T) {
	store := newMemStore()
	policy := healing.DefaultPolicy("proj-1")
	policy.AutoHealingEnabled = false
	store.policy = &policy

	orc, _ := newOrchestrator(t, store, 0.9)

	res := orc.InitiateHealing(context.Background(), healRequest())
	if res.FinalStatus != healing.StatusFailed || !strings.Contains(res.Error, "auto-healing disabled") {
		t.Fatalf("got %+v, want gated failure", res)
	}

	// A manual trigger bypasses the gate.
	req := healRequest()
	req.Trigger = healing.TriggerManual
	res = orc.InitiateHealing(context.Background(), req)
	if res.FinalStatus != healing.StatusCompleted {
		t.Fatalf("got status %q, want completed for manual trigger", res.FinalStatus)
	}
}

func TestApproveAppliesPendingUpdate(t *testing.T) {
	store := newMemStore()
	orc, rec := newOrchestrator(t, store, 0.65)

	res := orc.InitiateHealing(context.Background(), healRequest())
	if res.FinalStatus != healing.StatusRequiresReview {
		t.Fatalf("setup: got %q", res.FinalStatus)
	}

	approved := orc.ApproveHealing(context.Background(), res.SessionID, "dana", "looks right")
	if !approved.Success || approved.FinalStatus != healing.StatusCompleted {
		t.Fatalf("got %+v, want completed", approved)
	}
	if store.steps["step-1"] != "#new-login" {
		t.Fatalf("step selector = %q, want applied", store.steps["step-1"])
	}
	if !rec.has(healing.TopicApproved) {
		t.Fatalf("got topics %v, want %s", rec.topics, healing.TopicApproved)
	}

	session, _ := orc.SessionStatus(context.Background(), res.SessionID)
	if session.ReviewedBy != "dana" || session.ReviewedAt == nil {
		t.Fatalf("got reviewer %q at %v", session.ReviewedBy, session.ReviewedAt)
	}
	if session.PendingUpdate != nil {
		t.Fatal("pending update should be cleared after approval")
	}
}

func TestRejectDiscardsPendingUpdate(t *testing.T) {
	store := newMemStore()
	orc, rec := newOrchestrator(t, store, 0.65)

	res := orc.InitiateHealing(context.Background(), healRequest())

	rejected := orc.RejectHealing(context.Background(), res.SessionID, "dana", "wrong element")
	if !rejected.Success {
		t.Fatalf("got %+v, want the reject operation to succeed", rejected)
	}
	if rejected.FinalStatus != healing.StatusFailed {
		t.Fatalf("got status %q, want failed", rejected.FinalStatus)
	}
	if got := store.steps["step-1"]; got != "" {
		t.Fatalf("step selector = %q, want untouched after reject", got)
	}
	if !rec.has(healing.TopicRejected) {
		t.Fatalf("got topics %v, want %s", rec.topics, healing.TopicRejected)
	}
}

func TestReviewRequiresReviewState(t *testing.T) {
	store := newMemStore()
	orc, _ := newOrchestrator(t, store, 0.9)

	res := orc.InitiateHealing(context.Background(), healRequest())
	if res.FinalStatus != healing.StatusCompleted {
		t.Fatalf("setup: got %q", res.FinalStatus)
	}

	approved := orc.ApproveHealing(context.Background(), res.SessionID, "dana", "")
	if approved.Success {
		t.Fatal("approve must fail outside requires_review")
	}
	if approved.FinalStatus != healing.StatusCompleted {
		t.Fatalf("state changed to %q", approved.FinalStatus)
	}

	missing := orc.ApproveHealing(context.Background(), "sess_missing", "dana", "")
	if missing.Success || !strings.Contains(missing.Error, "session not found") {
		t.Fatalf("got %+v, want session-not-found", missing)
	}
}

func TestRollbackRestoresOriginalSelector(t *testing.T) {
	store := newMemStore()
	orc, _ := newOrchestrator(t, store, 0.9)

	res := orc.InitiateHealing(context.Background(), healRequest())
	if store.steps["step-1"] != "#new-login" {
		t.Fatalf("setup: step selector = %q", store.steps["step-1"])
	}

	session, _ := orc.SessionStatus(context.Background(), res.SessionID)
	update := session.Adaptations[0]

	if err := orc.RollbackUpdate(context.Background(), &update); err != nil {
		t.Fatal(err)
	}
	if store.steps["step-1"] != "#old-login" {
		t.Fatalf("step selector = %q, want the verbatim original restored", store.steps["step-1"])
	}
	if update.Status != healing.UpdatePending {
		t.Fatalf("got update status %q, want pending after rollback", update.Status)
	}
}

func TestSessionStatusReturnsDetachedCopy(t *testing.T) {
	store := newMemStore()
	orc, _ := newOrchestrator(t, store, 0.65)

	res := orc.InitiateHealing(context.Background(), healRequest())
	if res.FinalStatus != healing.StatusRequiresReview {
		t.Fatalf("setup: got %q", res.FinalStatus)
	}

	first, err := orc.SessionStatus(context.Background(), res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	first.Status = healing.StatusFailed
	first.PendingUpdate.NewSelector = "#tampered"
	first.Attempts[0].Confidence = 0

	second, _ := orc.SessionStatus(context.Background(), res.SessionID)
	if second.Status != healing.StatusRequiresReview {
		t.Fatalf("got status %q, writes to a copy leaked into the registry", second.Status)
	}
	if second.PendingUpdate.NewSelector != "#new-login" {
		t.Fatalf("got pending selector %q, want #new-login", second.PendingUpdate.NewSelector)
	}
	if second.Attempts[0].Confidence != 0.65 {
		t.Fatalf("got attempt confidence %v, want 0.65", second.Attempts[0].Confidence)
	}

	approved := orc.ApproveHealing(context.Background(), res.SessionID, "dana", "")
	if !approved.Success {
		t.Fatalf("got %+v, approve should still work on the live session", approved)
	}
}

func TestSessionStatusSafeDuringLiveWorkflow(t *testing.T) {
	store := newMemStore()
	rec := &recorder{}
	pipeline := strategy.NewPipeline(nil,
		strategy.Registration{
			Strategy: &fixed{selector: "#new-login", confidence: 0.9, delay: 5 * time.Millisecond},
			Priority: 1,
		},
	)
	orc := healing.New(store, pipeline, healing.WithNotifier(rec))

	done := make(chan healing.WorkflowResult, 1)
	go func() {
		done <- orc.InitiateHealing(context.Background(), healRequest())
	}()

	// The session id shows up in the store as soon as the workflow
	// registers it.
	var sid string
	for sid == "" {
		store.mu.Lock()
		for id := range store.sessions {
			sid = id
		}
		store.mu.Unlock()
	}

	// Poll and marshal the session while the workflow transitions it.
	for {
		select {
		case res := <-done:
			if res.FinalStatus != healing.StatusCompleted {
				t.Fatalf("got %+v, want completed", res)
			}
			return
		default:
			session, err := orc.SessionStatus(context.Background(), sid)
			if err != nil {
				continue
			}
			if _, err := json.Marshal(session); err != nil {
				t.Fatalf("marshal snapshot: %v", err)
			}
		}
	}
}

func TestQueuedSessionResumesUnderSameID(t *testing.T) {
	store := newMemStore()
	orc, _ := newOrchestrator(t, store, 0.9)

	req := healRequest()
	page := req.Page
	req.Page = nil
	sid := orc.QueueSession(context.Background(), req)
	if sid == "" {
		t.Fatal("expected a session id at registration time")
	}

	session, err := orc.SessionStatus(context.Background(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != healing.StatusPending {
		t.Fatalf("got status %q, want pending before the run", session.Status)
	}

	req.SessionID = sid
	req.Page = page
	res := orc.InitiateHealing(context.Background(), req)
	if res.SessionID != sid {
		t.Fatalf("got session %q, want the pre-registered %q", res.SessionID, sid)
	}
	if res.FinalStatus != healing.StatusCompleted {
		t.Fatalf("got status %q, want completed", res.FinalStatus)
	}

	// A redelivered run against the finished session is a no-op.
	again := orc.InitiateHealing(context.Background(), req)
	if again.FinalStatus != healing.StatusCompleted {
		t.Fatalf("got status %q on redelivery, want completed unchanged", again.FinalStatus)
	}
	if len(store.attempts) != 1 {
		t.Fatalf("got %d attempts, redelivery must not heal again", len(store.attempts))
	}
}

func TestCancelSessionFailsPendingOnly(t *testing.T) {
	store := newMemStore()
	orc, _ := newOrchestrator(t, store, 0.9)

	req := healRequest()
	req.Page = nil
	sid := orc.QueueSession(context.Background(), req)

	orc.CancelSession(context.Background(), sid, "dropped from queue")
	session, _ := orc.SessionStatus(context.Background(), sid)
	if session.Status != healing.StatusFailed || session.ErrorMessage != "dropped from queue" {
		t.Fatalf("got %+v, want failed with the drop reason", session)
	}

	// Cancelling a finished session changes nothing.
	res := orc.InitiateHealing(context.Background(), healRequest())
	orc.CancelSession(context.Background(), res.SessionID, "too late")
	after, _ := orc.SessionStatus(context.Background(), res.SessionID)
	if after.Status != healing.StatusCompleted {
		t.Fatalf("got status %q, want completed untouched", after.Status)
	}
}

func TestSessionEventsRecordTransitions(t *testing.T) {
	store := newMemStore()
	orc, _ := newOrchestrator(t, store, 0.9)

	orc.InitiateHealing(context.Background(), healRequest())

	var types []string
	for _, e := range store.events {
		types = append(types, e.EventType)
	}
	want := []string{"session_created", "status_analyzing", "status_healing", "status_completed"}
	if len(types) != len(want) {
		t.Fatalf("got events %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("got events %v, want %v", types, want)
		}
	}
}
