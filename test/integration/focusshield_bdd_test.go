//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/focusshield/shieldd/internal/agent"
	"github.com/focusshield/shieldd/internal/infra"
	"github.com/focusshield/shieldd/internal/policyshield"
	"github.com/focusshield/shieldd/internal/server"
)

// fakePacketFilter is a no-op domain.PacketFilterBackend so these tests
// exercise the hosts-file surface and the store/agent/server wiring
// without needing pfctl/nft or root.
type fakePacketFilter struct {
	dynamic map[string][]string
}

func newFakePacketFilter() *fakePacketFilter {
	return &fakePacketFilter{dynamic: map[string][]string{}}
}

func (f *fakePacketFilter) EnsureAnchor() error                         { return nil }
func (f *fakePacketFilter) ApplyStatic() error                          { return nil }
func (f *fakePacketFilter) AddDynamic(domain string, ips []string) error { f.dynamic[domain] = ips; return nil }
func (f *fakePacketFilter) RemoveDynamic(domain string) error           { delete(f.dynamic, domain); return nil }
func (f *fakePacketFilter) Reload() error                               { return nil }
func (f *fakePacketFilter) Clear() error                                { f.dynamic = map[string][]string{}; return nil }

type fakeKiller struct{}

func (fakeKiller) KillConnectionsTo(ctx context.Context, ips []string) error { return nil }

// harness wires a real Policy Store, a real hosts-file writer against a
// temp file, an in-process Enforcement Agent over a Unix socket, and a
// Control Server fronting it with httptest — the same three components
// the spec splits responsibility across, minus only the privileged
// surfaces a test process can't touch.
type harness struct {
	dir        string
	store      *policyshield.Store
	hostsPath  string
	agentInst  *agent.Agent
	ipc        *agent.Server
	httpServer *httptest.Server
	cancel     context.CancelFunc
}

func newHarness() *harness {
	dir, err := os.MkdirTemp("", "focusshield-integration-*")
	Expect(err).NotTo(HaveOccurred())

	policyPath := filepath.Join(dir, "policy.json")
	hostsPath := filepath.Join(dir, "hosts")
	Expect(os.WriteFile(hostsPath, []byte("127.0.0.1 localhost\n"), 0644)).To(Succeed())

	store, err := policyshield.Open(policyPath)
	Expect(err).NotTo(HaveOccurred())

	logger := zap.NewNop()
	hosts := infra.NewHostsFileWriter(hostsPath)
	pf := newFakePacketFilter()
	mirror := infra.NewMirrorStore(filepath.Join(dir, "mirror.json"))

	a := agent.New(agent.DefaultConfig(), store, hosts, pf, fakeKiller{}, nil, nil, mirror, logger)

	socketPath := filepath.Join(dir, "agent.sock")
	ipc := agent.NewServer(socketPath, a, store, logger)
	Expect(ipc.Listen()).To(Succeed())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = a.Run(ctx) }()
	go func() { _ = ipc.Serve() }()

	agentClient := server.NewAgentClient(socketPath)
	keys := infra.NewFileKeyProvider(dir)
	token, err := infra.EnsureKey(keys)
	Expect(err).NotTo(HaveOccurred())

	srv := server.New(store, agentClient, keys, token, logger)
	httpServer := httptest.NewServer(srv.Router())

	return &harness{
		dir:        dir,
		store:      store,
		hostsPath:  hostsPath,
		agentInst:  a,
		ipc:        ipc,
		httpServer: httpServer,
		cancel:     cancel,
	}
}

func (h *harness) close() {
	h.httpServer.Close()
	h.cancel()
	_ = h.ipc.Close()
	_ = os.RemoveAll(h.dir)
}

func (h *harness) get(path string) *http.Response {
	resp, err := http.Get(h.httpServer.URL + path)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func (h *harness) post(path string, body any) *http.Response {
	data, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	resp, err := http.Post(h.httpServer.URL+path, "application/json", bytes.NewReader(data))
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func (h *harness) delete(path string) *http.Response {
	req, err := http.NewRequest(http.MethodDelete, h.httpServer.URL+path, nil)
	Expect(err).NotTo(HaveOccurred())
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func hostsFileContains(path, needle string) bool {
	data, err := os.ReadFile(path)
	Expect(err).NotTo(HaveOccurred())
	return strings.Contains(string(data), needle)
}

var _ = Describe("Focus Shield end-to-end", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
		// give the agent's restore() a moment to run before each scenario.
		time.Sleep(50 * time.Millisecond)
	})

	AfterEach(func() {
		h.close()
	})

	Describe("cold start", func() {
		It("enforces the default blocklist into the hosts file on startup", func() {
			resp := h.get("/api/blocked")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var blocked struct {
				Domains []string `json:"domains"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&blocked)).To(Succeed())
			Expect(blocked.Domains).NotTo(BeEmpty())
			Expect(hostsFileContains(h.hostsPath, "0.0.0.0 twitter.com")).To(BeTrue())
		})
	})

	Describe("granting and revoking an allowance", func() {
		It("excludes a granted domain from enforcement, then re-includes it on revoke", func() {
			Expect(h.store.AddBlock("reddit.com")).To(Succeed())

			grantResp := h.post("/api/grant", map[string]any{"domain": "reddit.com", "minutes": 5, "reason": "research"})
			defer grantResp.Body.Close()
			Expect(grantResp.StatusCode).To(Equal(http.StatusOK))

			checkResp := h.get("/api/check/reddit.com")
			defer checkResp.Body.Close()
			var check map[string]any
			Expect(json.NewDecoder(checkResp.Body).Decode(&check)).To(Succeed())
			Expect(check["blocked"]).To(BeFalse())

			revokeResp := h.delete("/api/grant/reddit.com")
			defer revokeResp.Body.Close()
			Expect(revokeResp.StatusCode).To(Equal(http.StatusOK))

			checkResp2 := h.get("/api/check/reddit.com")
			defer checkResp2.Body.Close()
			var check2 map[string]any
			Expect(json.NewDecoder(checkResp2.Body).Decode(&check2)).To(Succeed())
			Expect(check2["blocked"]).To(BeTrue())
		})
	})

	Describe("hard lockout", func() {
		It("refuses a grant on a hard-locked domain with 403", func() {
			Expect(h.store.AddBlock("gambling-example.com")).To(Succeed())
			Expect(h.store.AddLock("gambling-example.com", time.Now().Add(24*time.Hour))).To(Succeed())

			resp := h.post("/api/grant", map[string]any{"domain": "gambling-example.com", "minutes": 5, "reason": "nope"})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})
	})

	Describe("subdomain inclusion", func() {
		It("treats a subdomain of a blocked domain as blocked", func() {
			Expect(h.store.AddBlock("example.com")).To(Succeed())

			resp := h.get("/api/check/mail.example.com")
			defer resp.Body.Close()
			var check map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&check)).To(Succeed())
			Expect(check["blocked"]).To(BeTrue())
		})
	})

	Describe("crash recovery", func() {
		It("re-applies the persisted blocklist to the hosts file after a restart", func() {
			Expect(h.store.AddBlock("news-example.com")).To(Succeed())
			Expect(h.agentInst.EnforceBlocklist()).To(Succeed())
			Expect(hostsFileContains(h.hostsPath, "news-example.com")).To(BeTrue())

			// Simulate a crash that also lost the hosts-file region: fresh
			// agent instance over the same store and a cleared hosts file, as
			// if the process had restarted.
			logger := zap.NewNop()
			hosts2 := infra.NewHostsFileWriter(h.hostsPath)
			Expect(hosts2.Clear()).To(Succeed())
			Expect(hostsFileContains(h.hostsPath, "news-example.com")).To(BeFalse())
			pf2 := newFakePacketFilter()
			mirror2 := infra.NewMirrorStore(filepath.Join(h.dir, "mirror2.json"))
			restarted := agent.New(agent.DefaultConfig(), h.store, hosts2, pf2, fakeKiller{}, nil, nil, mirror2, logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() { _ = restarted.Run(ctx) }()
			time.Sleep(50 * time.Millisecond)

			Expect(hostsFileContains(h.hostsPath, "news-example.com")).To(BeTrue())
		})
	})
})
