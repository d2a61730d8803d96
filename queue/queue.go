// Package queue implements the background healing scheduler backed by
// SQLite. Jobs survive restarts: a claimed job becomes invisible for a
// visibility window and reappears automatically if the process crashes
// before acking it.
//
// Draining is single-flight. A tick that arrives while a drain is in
// progress is a no-op, so concurrent healing runs never share a browser.
// Each drain processes at most one job; visible jobs are claimed in
// priority order, FIFO within a priority.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/akkash/testbro-sub001/healing"
	"github.com/akkash/testbro-sub001/idgen"
)

// Job is a row in the queue.
type Job struct {
	ID        string
	Payload   []byte
	Priority  int
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// jobPayload is the serialized healing request. The live page is opened
// at drain time from PageURL; the session was registered at enqueue time
// and is resumed by id.
type jobPayload struct {
	SessionID   string                 `json:"session_id"`
	ProjectID   string                 `json:"project_id,omitempty"`
	TestCaseID  string                 `json:"test_case_id"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Trigger     healing.Trigger        `json:"trigger_type"`
	Failure     healing.FailureDetails `json:"failure_details"`
	PageURL     string                 `json:"page_url"`
}

// Options configures scheduler behaviour.
type Options struct {
	// Visibility is how long a claimed job stays invisible. Default: 5m.
	Visibility time.Duration
	// PollInterval is the delay between drain attempts in the Run loop.
	// Default: 2s.
	PollInterval time.Duration
	// MaxAttempts limits how many times a job can be redelivered before
	// being discarded. 0 means unlimited. Default: 3.
	MaxAttempts int
	// Tick overrides the internal ticker. When set, Run drains once per
	// receive and PollInterval is ignored.
	Tick <-chan time.Time
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 5 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Scheduler is the queue handle.
type Scheduler struct {
	db       *sql.DB
	orc      *healing.Orchestrator
	pages    healing.PageOpener
	opts     Options
	newJobID idgen.Generator
	draining atomic.Bool
}

// New creates a scheduler. Call EnsureTable once at startup, then
// Enqueue and Run as needed.
func New(db *sql.DB, orc *healing.Orchestrator, pages healing.PageOpener, opts Options) *Scheduler {
	opts.defaults()
	return &Scheduler{
		db:       db,
		orc:      orc,
		pages:    pages,
		opts:     opts,
		newJobID: idgen.Prefixed("job_", idgen.Default),
	}
}

// EnsureTable creates the healing_jobs table and index if they don't exist.
func (s *Scheduler) EnsureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS healing_jobs (
			id          TEXT PRIMARY KEY,
			payload     BLOB,
			priority    INTEGER NOT NULL DEFAULT 0,
			visible_at  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_healing_jobs_visible
			ON healing_jobs (visible_at, priority DESC, created_at ASC);
	`)
	return err
}

// Enqueue registers a pending healing session, inserts an immediately
// visible job for it and returns the session id without waiting for
// execution. The id is valid for status lookups from the moment of
// return.
func (s *Scheduler) Enqueue(ctx context.Context, req healing.Request, pageURL string, priority int) (string, error) {
	sessionID := s.orc.QueueSession(ctx, req)

	payload, err := json.Marshal(jobPayload{
		SessionID:   sessionID,
		ProjectID:   req.ProjectID,
		TestCaseID:  req.TestCaseID,
		ExecutionID: req.ExecutionID,
		Trigger:     req.Trigger,
		Failure:     req.Failure,
		PageURL:     pageURL,
	})
	if err != nil {
		s.orc.CancelSession(ctx, sessionID, "queue: marshal payload: "+err.Error())
		return "", fmt.Errorf("queue: marshal payload: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO healing_jobs (id, payload, priority, visible_at, created_at)
		VALUES (?,?,?,?,?)`,
		s.newJobID(), payload, priority, now, now,
	)
	if err != nil {
		s.orc.CancelSession(ctx, sessionID, "queue: enqueue: "+err.Error())
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return sessionID, nil
}

// Claim atomically picks the highest-priority visible job, oldest first
// within a priority, and hides it for the visibility window. Returns
// (nil, nil) when nothing is visible.
func (s *Scheduler) Claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	hideUntil := now.Add(s.opts.Visibility).UnixMilli()

	row := s.db.QueryRowContext(ctx, `
		UPDATE healing_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM healing_jobs
			WHERE visible_at <= ?
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		)
		RETURNING id, payload, priority, visible_at, created_at, attempts`,
		hideUntil, now.UnixMilli(),
	)

	var j Job
	var visAt, creAt int64
	err := row.Scan(&j.ID, &j.Payload, &j.Priority, &visAt, &creAt, &j.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}

// Ack deletes a processed job.
func (s *Scheduler) Ack(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM healing_jobs WHERE id = ?`, id)
	return err
}

// Nack makes a job immediately visible again for redelivery.
func (s *Scheduler) Nack(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE healing_jobs SET visible_at = 0 WHERE id = ?`, id)
	return err
}

// Len returns the total number of jobs (visible + invisible).
func (s *Scheduler) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM healing_jobs`).Scan(&n)
	return n, err
}

// Run drains the queue until ctx is cancelled. One drain per tick, one
// job per drain.
func (s *Scheduler) Run(ctx context.Context) {
	log := s.opts.Logger
	log.Info("queue: scheduler started",
		"visibility", s.opts.Visibility, "poll", s.opts.PollInterval)

	tick := s.opts.Tick
	if tick == nil {
		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("queue: scheduler stopped")
			return
		case <-tick:
			s.Drain(ctx)
		}
	}
}

// Drain claims and processes at most one job. A drain that starts while
// another is running returns immediately.
func (s *Scheduler) Drain(ctx context.Context) {
	if !s.draining.CompareAndSwap(false, true) {
		return // drain already in flight
	}
	defer s.draining.Store(false)

	log := s.opts.Logger
	job, err := s.Claim(ctx)
	if err != nil {
		log.Warn("queue: claim failed", "error", err)
		return
	}
	if job == nil {
		return // nothing visible
	}

	if s.opts.MaxAttempts > 0 && job.Attempts > s.opts.MaxAttempts {
		log.Warn("queue: job exceeded max attempts, discarding",
			"id", job.ID, "attempts", job.Attempts)
		var p jobPayload
		if err := json.Unmarshal(job.Payload, &p); err == nil && p.SessionID != "" {
			s.orc.CancelSession(ctx, p.SessionID,
				fmt.Sprintf("queue: dropped after %d delivery attempts", job.Attempts))
		}
		_ = s.Ack(ctx, job.ID)
		return
	}

	if err := s.process(ctx, job); err != nil {
		log.Warn("queue: job failed, nacking", "id", job.ID, "error", err)
		_ = s.Nack(ctx, job.ID)
		return
	}
	_ = s.Ack(ctx, job.ID)
}

// process opens the job's page and runs the healing workflow. Only
// infrastructure errors are returned for redelivery; a workflow that
// ends in a failed session is still a processed job.
func (s *Scheduler) process(ctx context.Context, job *Job) error {
	var p jobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		// Malformed payloads never succeed on retry.
		s.opts.Logger.Error("queue: dropping malformed job", "id", job.ID, "error", err)
		return nil
	}

	page, err := s.pages.Open(ctx, p.PageURL)
	if err != nil {
		return fmt.Errorf("open page %s: %w", p.PageURL, err)
	}
	defer page.Close()

	result := s.orc.InitiateHealing(ctx, healing.Request{
		ProjectID:   p.ProjectID,
		TestCaseID:  p.TestCaseID,
		ExecutionID: p.ExecutionID,
		Trigger:     p.Trigger,
		Failure:     p.Failure,
		SessionID:   p.SessionID,
		Page:        page,
	})
	s.opts.Logger.Info("queue: job processed",
		"id", job.ID,
		"session_id", result.SessionID,
		"status", result.FinalStatus,
		"confidence", result.Confidence,
	)
	return nil
}
