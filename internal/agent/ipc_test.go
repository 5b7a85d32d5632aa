package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/focusshield/shieldd/internal/domain"
	"github.com/focusshield/shieldd/internal/infra"
	"github.com/focusshield/shieldd/internal/policyshield"
)

type fakeHosts struct {
	applied []string
	shield  bool
	cleared bool
}

func (f *fakeHosts) Apply(domains []string, shield bool) error {
	f.applied = domains
	f.shield = shield
	return nil
}
func (f *fakeHosts) Clear() error { f.cleared = true; return nil }

type fakePF struct {
	dynamic map[string][]string
}

func (f *fakePF) EnsureAnchor() error { return nil }
func (f *fakePF) ApplyStatic() error  { return nil }
func (f *fakePF) AddDynamic(domain string, ips []string) error {
	f.dynamic[domain] = ips
	return nil
}
func (f *fakePF) RemoveDynamic(domain string) error { delete(f.dynamic, domain); return nil }
func (f *fakePF) Reload() error                     { return nil }
func (f *fakePF) Clear() error                      { f.dynamic = map[string][]string{}; return nil }

type fakeKiller struct{}

func (fakeKiller) KillConnectionsTo(ctx context.Context, ips []string) error { return nil }

func newTestAgent(t *testing.T) (*Agent, *fakeHosts) {
	t.Helper()
	dir := t.TempDir()
	store, err := policyshield.Open(filepath.Join(dir, "policy.json"))
	require.NoError(t, err)

	hosts := &fakeHosts{}
	pf := &fakePF{dynamic: map[string][]string{}}
	mirror := infra.NewMirrorStore(filepath.Join(dir, "mirror.json"))

	a := New(DefaultConfig(), store, hosts, pf, fakeKiller{}, nil, nil, mirror, zap.NewNop())
	return a, hosts
}

func dialAndRoundtrip(t *testing.T, socketPath string, req Request) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	data, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())
	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func TestIPCServer_StatusReflectsShield(t *testing.T) {
	a, _ := newTestAgent(t)
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "agent.sock")

	srv := NewServer(socketPath, a, a.store, zap.NewNop())
	require.NoError(t, srv.Listen())
	go srv.Serve()
	defer srv.Close()

	time.Sleep(20 * time.Millisecond)

	resp := dialAndRoundtrip(t, socketPath, Request{Op: "status"})
	require.True(t, resp.OK)
	require.NotNil(t, resp.Status)
	assert.True(t, resp.Status.Shield)
}

func TestIPCServer_GrantThenBlocklistExcludesDomain(t *testing.T) {
	a, hosts := newTestAgent(t)
	require.NoError(t, a.store.AddBlock("reddit.com"))

	dir := t.TempDir()
	socketPath := filepath.Join(dir, "agent.sock")
	srv := NewServer(socketPath, a, a.store, zap.NewNop())
	require.NoError(t, srv.Listen())
	go srv.Serve()
	defer srv.Close()
	time.Sleep(20 * time.Millisecond)

	resp := dialAndRoundtrip(t, socketPath, Request{Op: "grant", Domain: "reddit.com", Minutes: 5, Reason: "test"})
	require.True(t, resp.OK)

	assert.NotContains(t, hosts.applied, "reddit.com")
}

func TestIPCServer_UnknownOpReturnsError(t *testing.T) {
	a, _ := newTestAgent(t)
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "agent.sock")
	srv := NewServer(socketPath, a, a.store, zap.NewNop())
	require.NoError(t, srv.Listen())
	go srv.Serve()
	defer srv.Close()
	time.Sleep(20 * time.Millisecond)

	resp := dialAndRoundtrip(t, socketPath, Request{Op: "nonsense"})
	assert.False(t, resp.OK)
	assert.NotEmpty(t, resp.Error)
}

var _ domain.PolicyStore = (*policyshield.Store)(nil)
