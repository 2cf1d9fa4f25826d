package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/beaconmesh/beacon/internal/core"
)

// Event ingestion for the scan-side sources: sibling subsystems record the
// raw material here (inbox messages, commits, channel traffic) and the
// scheduled scans surface whatever is still unhandled.

// handleRecordInboxMessage records a direct message awaiting an answer.
func (s *Server) handleRecordInboxMessage(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ID        string `json:"id"`
		Recipient string `json:"recipient"`
		Sender    string `json:"sender"`
		Preview   string `json:"preview"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if input.ID == "" || input.Recipient == "" || input.Sender == "" {
		s.respondError(w, http.StatusBadRequest, "id, recipient and sender are required")
		return
	}

	if err := s.messages.RecordInboxMessage(r.Context(), input.ID, input.Recipient, input.Sender, input.Preview); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// handleMarkAnswered removes a direct message from scan consideration.
func (s *Server) handleMarkAnswered(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageID")

	err := s.messages.MarkAnswered(r.Context(), id)
	if errors.Is(err, core.ErrRecordNotFound) {
		s.respondError(w, http.StatusNotFound, "unknown message")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "answered"})
}

// handleRecordCommit records a pushed commit awaiting review.
func (s *Server) handleRecordCommit(w http.ResponseWriter, r *http.Request) {
	var input struct {
		CommitID     string `json:"commit_id"`
		ProjectID    string `json:"project_id"`
		Collaborator string `json:"collaborator"`
		Author       string `json:"author"`
		Message      string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if input.CommitID == "" || input.ProjectID == "" || input.Collaborator == "" {
		s.respondError(w, http.StatusBadRequest, "commit_id, project_id and collaborator are required")
		return
	}

	if err := s.messages.RecordCommit(r.Context(), input.CommitID, input.ProjectID, input.Collaborator, input.Author, input.Message); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// handleMarkReviewed removes a commit from pending-review scans.
func (s *Server) handleMarkReviewed(w http.ResponseWriter, r *http.Request) {
	commitID := chi.URLParam(r, "commitID")

	err := s.messages.MarkReviewed(r.Context(), commitID)
	if errors.Is(err, core.ErrRecordNotFound) {
		s.respondError(w, http.StatusNotFound, "unknown commit")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "reviewed"})
}

// handleRecordChannelMessage appends to a channel's history, which feeds the
// anti-loop inspection. Proactive-origin messages are marked so echo chains
// are recognizable.
func (s *Server) handleRecordChannelMessage(w http.ResponseWriter, r *http.Request) {
	channelID := core.ChannelID(chi.URLParam(r, "channelID"))

	var input struct {
		Sender          string `json:"sender"`
		ProactiveOrigin bool   `json:"proactive_origin"`
		Preview         string `json:"preview"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if input.Sender == "" {
		s.respondError(w, http.StatusBadRequest, "sender is required")
		return
	}

	if err := s.messages.RecordChannelMessage(r.Context(), channelID, input.Sender, input.ProactiveOrigin, input.Preview); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}
