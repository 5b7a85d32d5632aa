// Package server implements the Control Server: the unprivileged,
// loopback-bound process that owns the policy store and talks to the
// Enforcement Agent over its Unix socket, exposing a REST API (spec §4.3)
// and a bearer-token-authenticated remote tool surface (spec §6).
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/focusshield/shieldd/internal/domain"
)

// Server bundles the policy store and agent client behind the HTTP
// surfaces. One instance backs both the REST API and the /tool endpoint.
type Server struct {
	store       domain.PolicyStore
	agentClient domain.AgentIPCClient
	keys        domain.KeyProvider
	token       []byte
	logger      *zap.Logger
}

// New creates a Control Server. token is the pre-loaded bearer token
// (see infra.EnsureKey) checked on every /tool request.
func New(store domain.PolicyStore, agentClient domain.AgentIPCClient, keys domain.KeyProvider, token []byte, logger *zap.Logger) *Server {
	return &Server{
		store:       store,
		agentClient: agentClient,
		keys:        keys,
		token:       token,
		logger:      logger,
	}
}

// Router builds the HTTP handler serving both the REST API and /tool.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	s.registerREST(mux)
	s.registerTool(mux)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error,omitempty"`
	OK    bool   `json:"ok"`
}

// writeAPIError maps a domain error kind to the HTTP status spec §7
// requires and writes a {"error": ...} body. Errors that don't match a
// known kind fall back to 500, since every domain operation that can fail
// in an expected way already returns one of the typed kinds.
func writeAPIError(w http.ResponseWriter, err error) {
	if lr, ok := domain.IsLockoutRefusal(err); ok {
		writeJSON(w, http.StatusForbidden, errorBody{Error: lr.Error()})
		return
	}
	if ve, ok := domain.IsValidationError(err); ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error()})
		return
	}
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: nf.Error()})
		return
	}
	var au *domain.AgentUnavailable
	if errors.As(err, &au) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: au.Error()})
		return
	}
	var sa *domain.SurfaceApplyError
	if errors.As(err, &sa) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: sa.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}
