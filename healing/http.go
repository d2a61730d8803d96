package healing

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterHTTP mounts the healing REST surface on a chi router.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Post("/api/v1/healing", s.handleInitiate)
	r.Post("/api/v1/healing/queue", s.handleQueue)
	r.Get("/api/v1/healing/{session_id}", s.handleStatus)
	r.Post("/api/v1/healing/{session_id}/approve", s.handleApprove)
	r.Post("/api/v1/healing/{session_id}/reject", s.handleReject)
}

// handleInitiate runs a healing workflow synchronously.
// POST /api/v1/healing
func (s *Service) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var args InitiateArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.Initiate(r.Context(), args)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQueue defers a healing workflow and returns the pending session id.
// POST /api/v1/healing/queue
func (s *Service) handleQueue(w http.ResponseWriter, r *http.Request) {
	var args InitiateArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id, err := s.Queue(r.Context(), args)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

// handleStatus returns the full session state.
// GET /api/v1/healing/{session_id}
func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	session, err := s.orc.SessionStatus(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type reviewBody struct {
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes"`
}

// handleApprove applies the pending adaptation of a session under review.
// POST /api/v1/healing/{session_id}/approve
func (s *Service) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body reviewBody
	json.NewDecoder(r.Body).Decode(&body) // empty body is fine

	result := s.orc.ApproveHealing(r.Context(), chi.URLParam(r, "session_id"), body.Reviewer, body.Notes)
	writeJSON(w, reviewStatusCode(result), result)
}

// handleReject discards the pending adaptation of a session under review.
// POST /api/v1/healing/{session_id}/reject
func (s *Service) handleReject(w http.ResponseWriter, r *http.Request) {
	var body reviewBody
	json.NewDecoder(r.Body).Decode(&body)

	result := s.orc.RejectHealing(r.Context(), chi.URLParam(r, "session_id"), body.Reviewer, body.Notes)
	writeJSON(w, reviewStatusCode(result), result)
}

func reviewStatusCode(result WorkflowResult) int {
	if result.Success {
		return http.StatusOK
	}
	if result.Error == ErrSessionNotFound.Error() {
		return http.StatusNotFound
	}
	return http.StatusConflict
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
