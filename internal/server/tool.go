package server

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/focusshield/shieldd/internal/domain"
)

// toolGrantCapMinutes bounds every grant issued through the remote tool
// surface. The policy store already caps public grants to the same
// window, but the tool surface states it explicitly since it is the one
// entry point reachable from outside the host.
const toolGrantCapMinutes = 30

// toolRequest is the single JSON-RPC-shaped body every /tool call sends,
// one of a closed set of actions mapping onto a subset of the REST API.
type toolRequest struct {
	Action  string `json:"action"`
	Domain  string `json:"domain"`
	Minutes int    `json:"minutes"`
	Reason  string `json:"reason"`
}

type toolResponse struct {
	OK    bool `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func (s *Server) registerTool(mux *http.ServeMux) {
	mux.HandleFunc("POST /tool", s.handleTool)
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeTool(r) {
		writeJSON(w, http.StatusUnauthorized, toolResponse{Error: "invalid or missing bearer token"})
		return
	}

	var req toolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, toolResponse{Error: "malformed request body"})
		return
	}

	switch req.Action {
	case "status":
		s.toolStatus(w, r)
	case "list":
		s.toolList(w, r)
	case "check":
		s.toolCheck(w, r, req)
	case "grant":
		s.toolGrant(w, r, req)
	case "add-block":
		s.toolAddBlock(w, r, req)
	case "remove-block":
		s.toolRemoveBlock(w, r, req)
	default:
		writeJSON(w, http.StatusBadRequest, toolResponse{Error: "unknown action: " + req.Action})
	}
}

// authorizeTool checks the Authorization: Bearer header, falling back to
// a token query parameter, against the server's loaded bearer token using
// a constant-time comparison.
func (s *Server) authorizeTool(r *http.Request) bool {
	supplied := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		supplied = strings.TrimPrefix(auth, "Bearer ")
	}
	if supplied == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(supplied)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(decoded, s.token) == 1
}

func toolErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, toolResponse{Error: err.Error()})
}

func (s *Server) toolStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.agentClient.Status(r.Context())
	if err != nil {
		toolErr(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toolResponse{OK: true, Data: status})
}

func (s *Server) toolList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toolResponse{OK: true, Data: s.store.EffectiveBlockSet().Domains()})
}

func (s *Server) toolCheck(w http.ResponseWriter, r *http.Request, req toolRequest) {
	writeJSON(w, http.StatusOK, toolResponse{OK: true, Data: checkResponse{
		Domain:           req.Domain,
		Blocked:          s.store.IsBlocked(req.Domain),
		AllowanceMinutes: s.store.RemainingMinutes(req.Domain),
	}})
}

func (s *Server) toolGrant(w http.ResponseWriter, r *http.Request, req toolRequest) {
	if req.Minutes > toolGrantCapMinutes {
		toolErr(w, http.StatusBadRequest, &domain.ValidationError{Field: "minutes", Reason: "must be at most 30 on the tool surface"})
		return
	}
	minutes := req.Minutes
	if minutes <= 0 {
		minutes = toolGrantCapMinutes
	}
	allowance, err := s.store.Grant(req.Domain, minutes, req.Reason)
	if err != nil {
		toolErr(w, statusForErr(err), err)
		return
	}
	if err := s.agentClient.Grant(r.Context(), allowance.Domain, minutes, req.Reason); err != nil {
		s.logger.Warn("agent grant sync failed via tool surface", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, toolResponse{OK: true, Data: allowance})
}

func (s *Server) toolAddBlock(w http.ResponseWriter, r *http.Request, req toolRequest) {
	if err := s.store.AddBlock(req.Domain); err != nil {
		toolErr(w, statusForErr(err), err)
		return
	}
	if err := s.agentClient.Blocklist(r.Context(), nil); err != nil {
		s.logger.Warn("agent blocklist sync failed via tool surface", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, toolResponse{OK: true})
}

// toolRemoveBlock refuses with the same hard-lockout semantics as the REST
// surface: a domain under an active lockout cannot be unblocked remotely.
func (s *Server) toolRemoveBlock(w http.ResponseWriter, r *http.Request, req toolRequest) {
	if err := s.store.RemoveBlock(req.Domain); err != nil {
		toolErr(w, statusForErr(err), err)
		return
	}
	if err := s.agentClient.Blocklist(r.Context(), nil); err != nil {
		s.logger.Warn("agent blocklist sync failed via tool surface", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, toolResponse{OK: true})
}

func statusForErr(err error) int {
	if _, ok := domain.IsLockoutRefusal(err); ok {
		return http.StatusForbidden
	}
	if _, ok := domain.IsValidationError(err); ok {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
