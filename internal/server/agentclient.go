package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/focusshield/shieldd/internal/agent"
	"github.com/focusshield/shieldd/internal/domain"
)

// dialTimeout bounds how long the Control Server waits for the agent
// socket to accept a connection before treating it as unavailable.
const dialTimeout = 2 * time.Second

// AgentClient implements domain.AgentIPCClient by dialing the Enforcement
// Agent's Unix domain socket and round-tripping one JSON line per call,
// the same wire format agent.Server speaks on the other end.
type AgentClient struct {
	socketPath string
}

// NewAgentClient creates a client bound to the agent's socket path.
func NewAgentClient(socketPath string) *AgentClient {
	return &AgentClient{socketPath: socketPath}
}

func (c *AgentClient) roundtrip(ctx context.Context, req agent.Request) (agent.Response, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return agent.Response{}, &domain.AgentUnavailable{Op: req.Op, Err: err}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return agent.Response{}, &domain.AgentUnavailable{Op: req.Op, Err: err}
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		err := scanner.Err()
		if err == nil {
			err = fmt.Errorf("agent closed connection without responding")
		}
		return agent.Response{}, &domain.AgentUnavailable{Op: req.Op, Err: err}
	}

	var resp agent.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return agent.Response{}, &domain.AgentUnavailable{Op: req.Op, Err: err}
	}
	if !resp.OK {
		return resp, fmt.Errorf("agent refused %s: %s", req.Op, resp.Error)
	}
	return resp, nil
}

// Blocklist asks the agent to recompute and reapply the effective block
// set across every enforcement surface. domains is accepted for interface
// symmetry with the REST layer but the agent always recomputes from its
// own policy store, so it is not sent over the wire.
func (c *AgentClient) Blocklist(ctx context.Context, domains []string) error {
	_, err := c.roundtrip(ctx, agent.Request{Op: "blocklist"})
	return err
}

// Grant asks the agent to re-enforce after a store-side grant has already
// been recorded.
func (c *AgentClient) Grant(ctx context.Context, domain string, minutes int, reason string) error {
	_, err := c.roundtrip(ctx, agent.Request{Op: "grant", Domain: domain, Minutes: minutes, Reason: reason})
	return err
}

// Revoke asks the agent to re-enforce after a store-side revoke.
func (c *AgentClient) Revoke(ctx context.Context, domain string) error {
	_, err := c.roundtrip(ctx, agent.Request{Op: "revoke", Domain: domain})
	return err
}

// EnforceBlock asks the agent to resolve domain immediately and add a
// fast-path packet-filter rule ahead of the hosts-file/DNS-driven block.
func (c *AgentClient) EnforceBlock(ctx context.Context, domain string) error {
	_, err := c.roundtrip(ctx, agent.Request{Op: "enforce-block", Domain: domain})
	return err
}

// Enable turns the shield on.
func (c *AgentClient) Enable(ctx context.Context) error {
	_, err := c.roundtrip(ctx, agent.Request{Op: "enable"})
	return err
}

// Disable turns the shield off.
func (c *AgentClient) Disable(ctx context.Context) error {
	_, err := c.roundtrip(ctx, agent.Request{Op: "disable"})
	return err
}

// FlushDNS asks the agent to invalidate the OS resolver cache.
func (c *AgentClient) FlushDNS(ctx context.Context) error {
	_, err := c.roundtrip(ctx, agent.Request{Op: "flush-dns"})
	return err
}

// ClearAll asks the agent to turn the shield off and drop every allowance.
func (c *AgentClient) ClearAll(ctx context.Context) error {
	_, err := c.roundtrip(ctx, agent.Request{Op: "clear"})
	return err
}

// Status returns the agent's current status record.
func (c *AgentClient) Status(ctx context.Context) (domain.AgentStatus, error) {
	resp, err := c.roundtrip(ctx, agent.Request{Op: "status"})
	if err != nil {
		return domain.AgentStatus{}, err
	}
	if resp.Status == nil {
		return domain.AgentStatus{}, &domain.AgentUnavailable{Op: "status", Err: fmt.Errorf("agent returned no status")}
	}
	return *resp.Status, nil
}

var _ domain.AgentIPCClient = (*AgentClient)(nil)
