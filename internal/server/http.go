package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/focusshield/shieldd/internal/domain"
)

func (s *Server) registerREST(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /api/blocked", s.handleListBlocked)
	mux.HandleFunc("POST /api/block", s.handleAddBlock)
	mux.HandleFunc("DELETE /api/block/{domain}", s.handleRemoveBlock)
	mux.HandleFunc("GET /api/check/{domain}", s.handleCheck)
	mux.HandleFunc("POST /api/grant", s.handleGrant)
	mux.HandleFunc("DELETE /api/grant/{domain}", s.handleRevoke)
	mux.HandleFunc("GET /api/allowances", s.handleListAllowances)
	mux.HandleFunc("POST /api/shield/enable", s.handleShieldEnable)
	mux.HandleFunc("POST /api/shield/disable", s.handleShieldDisable)
	mux.HandleFunc("GET /api/delayed", s.handleListDelayed)
	mux.HandleFunc("POST /api/delay/{domain}", s.handleAddDelay)
	mux.HandleFunc("DELETE /api/delay/{domain}", s.handleRemoveDelay)
	mux.HandleFunc("GET /api/locks", s.handleListLocks)
	mux.HandleFunc("POST /api/lock/{domain}", s.handleAddLock)
	mux.HandleFunc("DELETE /api/lock/{domain}", s.handleRemoveLock)
	mux.HandleFunc("POST /api/flush-dns", s.handleFlushDNS)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.agentClient.Status(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		domain.AgentStatus
		DaemonRunning bool `json:"daemon_running"`
	}{status, true})
}

func (s *Server) handleListBlocked(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"domains": s.store.EffectiveBlockSet().Domains()})
}

type blockRequest struct {
	Domain string `json:"domain"`
}

func (s *Server) handleAddBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if err := s.store.AddBlock(req.Domain); err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.agentClient.EnforceBlock(r.Context(), req.Domain); err != nil {
		s.logger.Warn("agent enforce-block sync failed after add-block", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, errorBody{OK: true})
}

// handleRemoveBlock removes a domain from the blocklist, an
// enforcement-reducing change: per spec §7 the agent call must succeed
// before the caller sees success, and a failure there is surfaced rather
// than swallowed, since the store mutation already happened.
func (s *Server) handleRemoveBlock(w http.ResponseWriter, r *http.Request) {
	d := r.PathValue("domain")
	if err := s.store.RemoveBlock(d); err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.agentClient.Blocklist(r.Context(), nil); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errorBody{OK: true})
}

type checkResponse struct {
	Domain           string `json:"domain"`
	Blocked          bool   `json:"blocked"`
	AllowanceMinutes int    `json:"allowance_minutes"`
	ShieldActive     bool   `json:"shield_active"`
	Locked           bool   `json:"locked"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	d := r.PathValue("domain")
	_, locked := s.store.IsHardLocked(d)
	writeJSON(w, http.StatusOK, checkResponse{
		Domain:           d,
		Blocked:          s.store.IsBlocked(d),
		AllowanceMinutes: s.store.RemainingMinutes(d),
		ShieldActive:     s.store.Shield(),
		Locked:           locked,
	})
}

type grantRequest struct {
	Domain  string `json:"domain"`
	Minutes int    `json:"minutes"`
	Reason  string `json:"reason"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	allowance, err := s.store.Grant(req.Domain, req.Minutes, req.Reason)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.agentClient.Grant(r.Context(), allowance.Domain, req.Minutes, req.Reason); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allowance)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	d := r.PathValue("domain")
	if err := s.store.Revoke(d); err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.agentClient.Revoke(r.Context(), d); err != nil {
		s.logger.Warn("agent revoke sync failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, errorBody{OK: true})
}

func (s *Server) handleListAllowances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ActiveAllowances())
}

func (s *Server) handleShieldEnable(w http.ResponseWriter, r *http.Request) {
	if err := s.agentClient.Enable(r.Context()); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errorBody{OK: true})
}

func (s *Server) handleShieldDisable(w http.ResponseWriter, r *http.Request) {
	if err := s.agentClient.Disable(r.Context()); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errorBody{OK: true})
}

func (s *Server) handleListDelayed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.DelayList())
}

func (s *Server) handleAddDelay(w http.ResponseWriter, r *http.Request) {
	d := r.PathValue("domain")
	if err := s.store.AddDelay(d); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errorBody{OK: true})
}

func (s *Server) handleRemoveDelay(w http.ResponseWriter, r *http.Request) {
	d := r.PathValue("domain")
	if err := s.store.RemoveDelay(d); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errorBody{OK: true})
}

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ActiveLocks())
}

type lockRequest struct {
	Until time.Time `json:"until"`
}

func (s *Server) handleAddLock(w http.ResponseWriter, r *http.Request) {
	d := r.PathValue("domain")
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if req.Until.IsZero() {
		writeAPIError(w, &domain.ValidationError{Field: "until", Reason: "required"})
		return
	}
	if err := s.store.AddLock(d, req.Until); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errorBody{OK: true})
}

// handleRemoveLock always refuses: a hard lockout cannot be lifted through
// the control API while still in effect (spec §3 lifecycle). Once it
// expires it prunes itself out of the store on the next read.
func (s *Server) handleRemoveLock(w http.ResponseWriter, r *http.Request) {
	d := r.PathValue("domain")
	if l, ok := s.store.IsHardLocked(d); ok {
		writeAPIError(w, &domain.LockoutRefusal{Domain: l.Domain, Until: l.Until})
		return
	}
	writeJSON(w, http.StatusNotFound, errorBody{Error: "no active lockout on " + d})
}

func (s *Server) handleFlushDNS(w http.ResponseWriter, r *http.Request) {
	if err := s.agentClient.FlushDNS(r.Context()); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errorBody{OK: true})
}
