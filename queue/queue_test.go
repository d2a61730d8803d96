package queue_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/akkash/testbro-sub001/browser"
	"github.com/akkash/testbro-sub001/dbopen"
	"github.com/akkash/testbro-sub001/healing"
	"github.com/akkash/testbro-sub001/queue"
	"github.com/akkash/testbro-sub001/store"
	"github.com/akkash/testbro-sub001/strategy"
)

// fakeElement satisfies the element contract with fixed answers.
type fakeElement struct{}

func (fakeElement) Visible(context.Context) (bool, error)     { return true, nil }
func (fakeElement) Enabled(context.Context) (bool, error)     { return true, nil }
func (fakeElement) Box(context.Context) (browser.Rect, error) { return browser.Rect{}, nil }
func (fakeElement) Text(context.Context) (string, error)      { return "", nil }
func (fakeElement) Attribute(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (fakeElement) Click(context.Context) error { return nil }

// fakePage resolves exactly one selector.
type fakePage struct {
	live   string
	closed int
}

func (f *fakePage) Locate(_ context.Context, selector string) (browser.Element, error) {
	if selector == f.live {
		return fakeElement{}, nil
	}
	return nil, browser.ErrElementNotFound
}

func (f *fakePage) LocateAll(_ context.Context, selector string) ([]browser.Element, error) {
	if selector == f.live {
		return []browser.Element{fakeElement{}}, nil
	}
	return nil, nil
}

func (f *fakePage) URL() string                                  { return "https://app.example.com" }
func (f *fakePage) Eval(context.Context, string) (string, error) { return "null", nil }
func (f *fakePage) HTML(context.Context) (string, error)         { return "<html></html>", nil }

func (f *fakePage) Close() error {
	f.closed++
	return nil
}

// blockingOpener gates page opening on a channel so tests can hold a
// drain mid-flight.
type blockingOpener struct {
	entered chan struct{}
	release chan struct{}
	opens   int
	pages   []*fakePage
	err     error
}

func (b *blockingOpener) Open(context.Context, string) (browser.Page, error) {
	b.opens++
	if b.entered != nil {
		b.entered <- struct{}{}
		<-b.release
	}
	if b.err != nil {
		return nil, b.err
	}
	p := &fakePage{live: "#new"}
	b.pages = append(b.pages, p)
	return p, nil
}

// fixed always proposes #new at high confidence.
type fixed struct{}

func (fixed) Name() string { return "fixed" }
func (fixed) Execute(_ context.Context, in strategy.Input) (*strategy.Result, error) {
	return &strategy.Result{
		Success:     true,
		NewSelector: "#new",
		Confidence:  0.9,
		Method:      strategy.MethodSemantic,
		Rollback:    strategy.Rollback{OriginalSelector: in.Original.Selector},
	}, nil
}

func newScheduler(t *testing.T, opener healing.PageOpener, opts queue.Options) (*queue.Scheduler, *store.Store, *healing.Orchestrator) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(store.Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	st := store.New(db, nil)

	pipeline := strategy.NewPipeline(nil, strategy.Registration{Strategy: fixed{}, Priority: 1})
	orc := healing.New(st, pipeline)

	s := queue.New(db, orc, opener, opts)
	if err := s.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s, st, orc
}

// claimedStep extracts the failed step id from a claimed job's payload.
func claimedStep(t *testing.T, job *queue.Job) string {
	t.Helper()
	var p struct {
		Failure struct {
			StepID string `json:"step_id"`
		} `json:"failure_details"`
	}
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return p.Failure.StepID
}

func request(step string) healing.Request {
	return healing.Request{
		TestCaseID: "case-1",
		Trigger:    healing.TriggerManual,
		Failure: healing.FailureDetails{
			StepID:       step,
			Selector:     "#old",
			ErrorMessage: "element not found",
		},
	}
}

func TestEnqueueReturnsPollableSessionID(t *testing.T) {
	s, _, orc := newScheduler(t, &blockingOpener{}, queue.Options{})
	ctx := context.Background()

	id, err := s.Enqueue(ctx, request("step-1"), "https://app.example.com", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("got id %q, want a session id", id)
	}

	// The id resolves before the job ever runs.
	session, err := orc.SessionStatus(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != healing.StatusPending {
		t.Fatalf("got status %q, want pending while queued", session.Status)
	}

	n, err := s.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %d jobs, want 1", n)
	}
}

func TestClaimOrdersByPriorityThenFIFO(t *testing.T) {
	s, _, _ := newScheduler(t, &blockingOpener{}, queue.Options{Visibility: time.Minute})
	ctx := context.Background()

	for i, prio := range []int{0, 5, 5} {
		if _, err := s.Enqueue(ctx, request(fmt.Sprintf("step-%d", i)), "https://app.example.com", prio); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond) // distinct created_at
	}

	// Priority 5 jobs drain first, oldest first; priority 0 last.
	wantOrder := []string{"step-1", "step-2", "step-0"}
	for i, want := range wantOrder {
		job, err := s.Claim(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if job == nil {
			t.Fatalf("claim %d: no job", i)
		}
		if got := claimedStep(t, job); got != want {
			t.Fatalf("claim %d: got %s, want %s", i, got, want)
		}
	}

	if job, _ := s.Claim(ctx); job != nil {
		t.Fatalf("got unexpected job %s, all should be invisible", job.ID)
	}
}

func TestDrainProcessesOneJobAndHealsIt(t *testing.T) {
	opener := &blockingOpener{}
	s, st, orc := newScheduler(t, opener, queue.Options{})
	ctx := context.Background()

	sid, err := s.Enqueue(ctx, request("step-1"), "https://app.example.com", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Enqueue(ctx, request("step-2"), "https://app.example.com", 0); err != nil {
		t.Fatal(err)
	}

	s.Drain(ctx)

	n, _ := s.Len(ctx)
	if n != 1 {
		t.Fatalf("got %d jobs after one drain, want 1", n)
	}

	sel, err := st.StepSelector(ctx, "step-1")
	if err != nil {
		t.Fatal(err)
	}
	if sel != "#new" {
		t.Fatalf("got step selector %q, want #new", sel)
	}

	// The enqueue-time id now reflects the finished run.
	session, err := orc.SessionStatus(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != healing.StatusCompleted {
		t.Fatalf("got status %q, want completed", session.Status)
	}

	if len(opener.pages) != 1 || opener.pages[0].closed != 1 {
		t.Fatalf("got pages %+v, the drained job must close its tab", opener.pages)
	}
}

func TestDrainIsSingleFlight(t *testing.T) {
	opener := &blockingOpener{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s, _, _ := newScheduler(t, opener, queue.Options{})
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, request("step-1"), "https://app.example.com", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Enqueue(ctx, request("step-2"), "https://app.example.com", 0); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Drain(ctx)
		close(done)
	}()
	<-opener.entered // first drain holds a claimed job

	// Overlapping drains are no-ops: nothing else gets claimed.
	s.Drain(ctx)
	s.Drain(ctx)
	if opener.opens != 1 {
		t.Fatalf("got %d page opens, want 1", opener.opens)
	}

	close(opener.release)
	<-done

	n, _ := s.Len(ctx)
	if n != 1 {
		t.Fatalf("got %d jobs, want the second still queued", n)
	}
}

func TestPageOpenFailureRequeues(t *testing.T) {
	opener := &blockingOpener{err: fmt.Errorf("browser gone")}
	s, _, _ := newScheduler(t, opener, queue.Options{Visibility: time.Minute})
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, request("step-1"), "https://app.example.com", 0); err != nil {
		t.Fatal(err)
	}

	s.Drain(ctx)

	// Nacked: immediately claimable again.
	job, err := s.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("expected the job back after nack")
	}
	if job.Attempts != 2 {
		t.Fatalf("got attempts %d, want 2", job.Attempts)
	}
}

func TestMaxAttemptsDiscardsAndFailsSession(t *testing.T) {
	opener := &blockingOpener{err: fmt.Errorf("browser gone")}
	s, _, orc := newScheduler(t, opener, queue.Options{MaxAttempts: 2})
	ctx := context.Background()

	sid, err := s.Enqueue(ctx, request("step-1"), "https://app.example.com", 0)
	if err != nil {
		t.Fatal(err)
	}

	// Two failing drains consume the attempts, the third discards.
	s.Drain(ctx)
	s.Drain(ctx)
	s.Drain(ctx)

	n, _ := s.Len(ctx)
	if n != 0 {
		t.Fatalf("got %d jobs, want discard after max attempts", n)
	}

	// The caller's handle reports the drop instead of dangling in pending.
	session, err := orc.SessionStatus(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != healing.StatusFailed {
		t.Fatalf("got status %q, want failed after discard", session.Status)
	}
	if !strings.Contains(session.ErrorMessage, "delivery attempts") {
		t.Fatalf("got error %q, want the discard reason", session.ErrorMessage)
	}
}

func TestRunDrainsOnInjectedTick(t *testing.T) {
	tick := make(chan time.Time)
	opener := &blockingOpener{}
	s, st, _ := newScheduler(t, opener, queue.Options{Tick: tick})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.Enqueue(ctx, request("step-1"), "https://app.example.com", 0); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	tick <- time.Now()

	deadline := time.After(5 * time.Second)
	for {
		sel, _ := st.StepSelector(ctx, "step-1")
		if sel == "#new" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never processed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
