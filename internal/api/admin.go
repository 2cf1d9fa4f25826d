package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/beaconmesh/beacon/internal/core"
)

// handleGetEngineStatus reports whether the control loop is scheduling.
func (s *Server) handleGetEngineStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]bool{"active": s.engine.IsActive()})
}

// handleGetHalt returns the emergency halt flag.
func (s *Server) handleGetHalt(w http.ResponseWriter, r *http.Request) {
	halted, err := s.flags.EmergencyHalt(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"halted": halted})
}

// handleSetHalt flips the emergency halt flag. While set, no agent scans and
// no signal is delivered, but the engine keeps ticking so clearing the flag
// resumes everything without a restart.
func (s *Server) handleSetHalt(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Halted bool `json:"halted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := s.flags.SetEmergencyHalt(r.Context(), input.Halted); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"halted": input.Halted})
}

// handleGetCredits returns an agent's balance and recent transactions.
func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	agentID := core.AgentID(chi.URLParam(r, "agentID"))

	balance, err := s.credits.GetBalance(r.Context(), agentID)
	if errors.Is(err, core.ErrAccountNotFound) {
		s.respondError(w, http.StatusNotFound, "no credit account for agent")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	history, err := s.credits.History(r.Context(), agentID, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"balance":      balance,
		"transactions": history,
	})
}

// handleOpenAccount creates a credit account with an opening balance.
func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	agentID := core.AgentID(chi.URLParam(r, "agentID"))

	var input struct {
		OpeningBalance    int64 `json:"opening_balance"`
		LowThreshold      int64 `json:"low_threshold"`
		CriticalThreshold int64 `json:"critical_threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if input.OpeningBalance < 0 {
		s.respondError(w, http.StatusBadRequest, "opening balance must not be negative")
		return
	}

	err := s.credits.OpenAccount(r.Context(), agentID, input.OpeningBalance, input.LowThreshold, input.CriticalThreshold)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	balance, err := s.credits.GetBalance(r.Context(), agentID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, balance)
}

// handleTopUp credits an agent's account.
func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	agentID := core.AgentID(chi.URLParam(r, "agentID"))

	var input struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if input.Amount <= 0 {
		s.respondError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if input.Reason == "" {
		input.Reason = "top up"
	}

	tx, err := s.credits.Credit(r.Context(), agentID, input.Amount, input.Reason)
	if errors.Is(err, core.ErrAccountNotFound) {
		s.respondError(w, http.StatusNotFound, "no credit account for agent")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, tx)
}

// handleVerifyLedger walks the transaction hash chain.
func (s *Server) handleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	if err := s.credits.VerifyChain(r.Context()); err != nil {
		if errors.Is(err, core.ErrChainBroken) {
			s.respondJSON(w, http.StatusOK, map[string]interface{}{
				"valid":  false,
				"detail": err.Error(),
			})
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
}
