package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/focusshield/shieldd/internal/domain"
)

// Request is one JSON-over-Unix-socket IPC call from the Control Server
// to the Enforcement Agent.
type Request struct {
	Op      string `json:"op"`
	Domain  string `json:"domain,omitempty"`
	Minutes int    `json:"minutes,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Response is the agent's reply to a Request.
type Response struct {
	OK     bool           `json:"ok"`
	Error  string         `json:"error,omitempty"`
	Status *domain.AgentStatus `json:"status,omitempty"`
}

// Server accepts JSON-over-Unix-domain-socket connections and dispatches
// each line as one Request, one Response per line back.
type Server struct {
	socketPath string
	agent      *Agent
	store      domain.PolicyStore
	logger     *zap.Logger

	listener net.Listener
}

// NewServer creates an IPC server bound to socketPath.
func NewServer(socketPath string, a *Agent, store domain.PolicyStore, logger *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		agent:      a,
		store:      store,
		logger:     logger,
	}
}

// Listen creates the Unix domain socket, world-writable so an unprivileged
// Control Server process can reach it, per the loopback-transport design.
func (s *Server) Listen() error {
	_ = os.Remove(s.socketPath)
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0777); err != nil {
		l.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	s.listener = l
	return nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the listener and removes the socket file.
func (s *Server) Close() error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return os.Remove(s.socketPath)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	ctx := context.Background()

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(Response{OK: false, Error: "malformed request"})
			continue
		}
		resp := s.dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			s.logger.Warn("failed to write ipc response", zap.Error(err))
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Op {
	case "blocklist":
		return s.opBlocklist()
	case "grant":
		return s.opGrant(req)
	case "revoke":
		return s.opRevoke(ctx, req)
	case "enforce-block":
		return s.opEnforceBlock(ctx, req)
	case "enable":
		return s.opSetShield(true)
	case "disable":
		return s.opSetShield(false)
	case "flush-dns":
		return s.opFlushDNS(ctx)
	case "clear":
		return s.opClear()
	case "status":
		return s.opStatus()
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

func (s *Server) opBlocklist() Response {
	if err := s.agent.EnforceBlocklist(); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true}
}

// opGrant grants a temporary allowance and lifts the aggressive
// packet-filter block for the domain while it's active (spec §4.2 grant).
func (s *Server) opGrant(req Request) Response {
	if _, err := s.store.Grant(req.Domain, req.Minutes, req.Reason); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.agent.removeDynamicRule(req.Domain)
	if err := s.agent.EnforceBlocklist(); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true}
}

// opRevoke ends an allowance early and immediately re-enforces: resolves
// the domain, re-adds its dynamic packet-filter rule, kills any live
// connections, closes open browser tabs, and flushes the resolver cache
// (spec §4.2 revoke), rather than waiting for the next hosts-file refresh.
func (s *Server) opRevoke(ctx context.Context, req Request) Response {
	if err := s.store.Revoke(req.Domain); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	if err := s.agent.EnforceBlocklist(); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.agent.applyEnforceCascade(ctx, req.Domain)
	s.agent.flushResolverCacheBestEffort(ctx)
	return Response{OK: true}
}

// opEnforceBlock runs the same aggressive cascade as revoke, ahead of the
// next hosts-file/DNS-cache-driven block taking effect — the fast path for
// "block this right now".
func (s *Server) opEnforceBlock(ctx context.Context, req Request) Response {
	s.agent.applyEnforceCascade(ctx, req.Domain)
	if err := s.agent.EnforceBlocklist(); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.agent.flushResolverCacheBestEffort(ctx)
	return Response{OK: true}
}

func (s *Server) opSetShield(enabled bool) Response {
	if err := s.store.SetShield(enabled); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	if err := s.agent.EnforceBlocklist(); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true}
}

func (s *Server) opFlushDNS(ctx context.Context) Response {
	if err := s.agent.FlushResolverCache(ctx); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true}
}

func (s *Server) opClear() Response {
	if err := s.store.Clear(); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	if err := s.agent.Clear(); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true}
}

func (s *Server) opStatus() Response {
	allowances := s.store.ActiveAllowances()
	status := domain.AgentStatus{
		Running:          true,
		Shield:           s.store.Shield(),
		BlockedCount:     len(s.store.EffectiveBlockSet()),
		ActiveAllowances: len(allowances),
	}
	return Response{OK: true, Status: &status}
}
