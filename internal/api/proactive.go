package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/beaconmesh/beacon/internal/core"
)

// handleGetProactiveSettings returns an agent's proactive configuration.
// The callback secret is sealed at rest and never serialized.
func (s *Server) handleGetProactiveSettings(w http.ResponseWriter, r *http.Request) {
	agentID := core.AgentID(chi.URLParam(r, "agentID"))

	settings, err := s.settings.Get(r.Context(), agentID)
	if errors.Is(err, core.ErrSettingsNotFound) {
		s.respondError(w, http.StatusNotFound, "no proactive settings for agent")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, settings)
}

// handleUpdateProactiveSettings creates or replaces an agent's proactive
// configuration. A plaintext callback secret in the request body is sealed
// before it touches storage; omitting it keeps any previously sealed value.
func (s *Server) handleUpdateProactiveSettings(w http.ResponseWriter, r *http.Request) {
	agentID := core.AgentID(chi.URLParam(r, "agentID"))

	var input struct {
		Address             string `json:"address"`
		Enabled             bool   `json:"enabled"`
		ScanIntervalMinutes int    `json:"scan_interval_minutes"`
		MaxCreditsPerCycle  int64  `json:"max_credits_per_cycle"`
		MaxActionsPerDay    int    `json:"max_actions_per_day"`
		CooldownSeconds     int    `json:"cooldown_seconds"`
		CallbackURL         string `json:"callback_url"`
		CallbackSecret      string `json:"callback_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if input.ScanIntervalMinutes < 0 || input.MaxActionsPerDay < 0 || input.CooldownSeconds < 0 {
		s.respondError(w, http.StatusBadRequest, "limits must not be negative")
		return
	}

	settings := &core.ProactiveSettings{
		AgentID:             agentID,
		Address:             input.Address,
		Enabled:             input.Enabled,
		ScanIntervalMinutes: input.ScanIntervalMinutes,
		MaxCreditsPerCycle:  input.MaxCreditsPerCycle,
		MaxActionsPerDay:    input.MaxActionsPerDay,
		CooldownSeconds:     input.CooldownSeconds,
		CallbackURL:         input.CallbackURL,
	}

	if input.CallbackSecret != "" {
		if s.emitter == nil {
			s.respondError(w, http.StatusInternalServerError, "secret sealing unavailable")
			return
		}
		sealed, err := s.emitter.SealSecret(input.CallbackSecret)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "failed to seal callback secret")
			return
		}
		settings.CallbackSecret = sealed
	} else if existing, err := s.settings.Get(r.Context(), agentID); err == nil {
		settings.CallbackSecret = existing.CallbackSecret
	}

	if err := s.settings.Upsert(r.Context(), settings); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.emitter != nil {
		// Drop any cached decrypted token so the next delivery re-resolves it.
		s.emitter.Invalidate(agentID)
	}

	s.respondJSON(w, http.StatusOK, settings)
}

// handlePauseAgent parks an agent for a requested number of minutes.
func (s *Server) handlePauseAgent(w http.ResponseWriter, r *http.Request) {
	agentID := core.AgentID(chi.URLParam(r, "agentID"))

	var input struct {
		Minutes int    `json:"minutes"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if input.Minutes <= 0 {
		input.Minutes = 60
	}
	if input.Reason == "" {
		input.Reason = "manual pause"
	}

	until := time.Now().UTC().Add(time.Duration(input.Minutes) * time.Minute)
	err := s.settings.Pause(r.Context(), agentID, until, input.Reason)
	if errors.Is(err, core.ErrSettingsNotFound) {
		s.respondError(w, http.StatusNotFound, "no proactive settings for agent")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"paused_until": until,
		"reason":       input.Reason,
	})
}

// handleResumeAgent clears an agent's pause.
func (s *Server) handleResumeAgent(w http.ResponseWriter, r *http.Request) {
	agentID := core.AgentID(chi.URLParam(r, "agentID"))

	err := s.settings.Resume(r.Context(), agentID)
	if errors.Is(err, core.ErrSettingsNotFound) {
		s.respondError(w, http.StatusNotFound, "no proactive settings for agent")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// handleGetScans returns an agent's recent scan log entries, newest first.
func (s *Server) handleGetScans(w http.ResponseWriter, r *http.Request) {
	agentID := core.AgentID(chi.URLParam(r, "agentID"))

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := s.scanLog.Recent(r.Context(), agentID, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*core.ScanLogEntry{}
	}

	s.respondJSON(w, http.StatusOK, entries)
}

// handleRecordAction marks an opportunity as acted on, so scheduled scans
// stop re-surfacing it for the dedup window.
func (s *Server) handleRecordAction(w http.ResponseWriter, r *http.Request) {
	agentID := core.AgentID(chi.URLParam(r, "agentID"))

	var input struct {
		SourceID   string `json:"source_id"`
		SignalType string `json:"signal_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if input.SourceID == "" {
		s.respondError(w, http.StatusBadRequest, "source_id is required")
		return
	}

	if err := s.scanLog.RecordAction(r.Context(), agentID, input.SourceID, input.SignalType); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
