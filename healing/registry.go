package healing

import (
	"context"
	"log/slog"
	"sync"
)

// registry is the cache-aside session arena: live sessions in a
// process-local map, write-through to the store, read-through on miss.
// The in-memory copy wins when the store write fails.
//
// The registry lock also guards the fields of every cached session:
// workflow goroutines mutate session fields through mutate, and
// snapshot copies under the read lock, so handed-out sessions never
// alias live workflow state.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    Store
	logger   *slog.Logger
}

func newRegistry(store Store, logger *slog.Logger) *registry {
	return &registry{
		sessions: make(map[string]*Session),
		store:    store,
		logger:   logger,
	}
}

// put caches the session and writes it through to the store.
func (r *registry) put(ctx context.Context, s *Session, insert bool) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	var err error
	if insert {
		err = r.store.InsertSession(ctx, s)
	} else {
		err = r.store.UpdateSession(ctx, s)
	}
	if err != nil {
		r.logger.Warn("healing: session write-through failed",
			"session_id", s.ID, "error", err)
	}
}

// mutate runs fn with the write lock held. Every field write to a cached
// session goes through here.
func (r *registry) mutate(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

// get returns the cached session, falling back to the store on miss.
// Returns nil when the session exists nowhere. The returned pointer is
// the live one; callers that hand sessions outside the orchestrator use
// snapshot instead.
func (r *registry) get(ctx context.Context, id string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s
	}

	s, err := r.store.GetSession(ctx, id)
	if err != nil {
		r.logger.Warn("healing: session read-through failed", "session_id", id, "error", err)
		return nil
	}
	if s == nil {
		return nil
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return s
}

// snapshot returns a deep copy of the session, or nil when it exists
// nowhere. Safe to marshal while the workflow is still running.
func (r *registry) snapshot(ctx context.Context, id string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[id]
	if ok {
		c := s.clone()
		r.mu.RUnlock()
		return c
	}
	r.mu.RUnlock()

	if s := r.get(ctx, id); s != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return s.clone()
	}
	return nil
}
