package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/beaconmesh/beacon/internal/core"
	"github.com/beaconmesh/beacon/internal/signal"
)

// signalRequest is the ingestion payload for events pushed by sibling
// subsystems (messaging, projects, social graph).
type signalRequest struct {
	AgentID core.AgentID `json:"agentId"`
	core.ReactiveSignal
}

// handlePostSignal feeds a reactive event into the engine. Accepted signals
// return 202; the engine may still drop them downstream (dedup, throttles,
// rate limit) without that being the caller's problem.
func (s *Server) handlePostSignal(w http.ResponseWriter, r *http.Request) {
	var input signalRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if input.AgentID == "" {
		s.respondError(w, http.StatusBadRequest, "agentId is required")
		return
	}
	if !signal.Registered(input.Type) {
		s.respondError(w, http.StatusBadRequest, "unknown signal type: "+input.Type)
		return
	}

	err := s.engine.HandleReactiveSignal(r.Context(), input.AgentID, input.ReactiveSignal)
	switch {
	case errors.Is(err, core.ErrSettingsNotFound):
		s.respondError(w, http.StatusNotFound, "no proactive settings for agent")
	case errors.Is(err, core.ErrAgentDisabled):
		s.respondError(w, http.StatusConflict, "agent has proactive signals disabled")
	case errors.Is(err, core.ErrAgentPaused):
		s.respondError(w, http.StatusConflict, "agent is paused")
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	default:
		s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}
