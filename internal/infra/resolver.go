package infra

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"time"

	"github.com/miekg/dns"

	"github.com/focusshield/shieldd/internal/domain"
)

const resolveTimeout = 2 * time.Second

// TrustedResolver implements domain.Resolver by querying a fixed,
// operator-trusted DNS server directly, bypassing whatever resolver the
// OS or browser would otherwise consult, so a blocked domain's IP can't be
// discovered through an alternate DNS path the packet filter doesn't know
// about yet.
type TrustedResolver struct {
	client     *dns.Client
	serverAddr string
}

// NewTrustedResolver creates a resolver that queries server (host:port,
// e.g. "1.1.1.1:53").
func NewTrustedResolver(server string) *TrustedResolver {
	return &TrustedResolver{
		client:     &dns.Client{Timeout: resolveTimeout},
		serverAddr: server,
	}
}

// Resolve looks up the A records for domainName against the trusted server.
func (r *TrustedResolver) Resolve(ctx context.Context, domainName string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domainName), dns.TypeA)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.serverAddr)
	if err != nil {
		return nil, fmt.Errorf("dns query for %s failed: %w", domainName, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns query for %s returned rcode %d", domainName, resp.Rcode)
	}

	var out []string
	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			out = append(out, a.A.String())
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no A records for %s", domainName)
	}
	return out, nil
}

// FlushCache asks the OS resolver to drop its cache, best-effort, so a
// domain that was resolved (and cached) before being blocked doesn't keep
// serving a stale, still-reachable answer.
func (r *TrustedResolver) FlushCache(ctx context.Context) error {
	switch runtime.GOOS {
	case "darwin":
		_ = exec.Command("dscacheutil", "-flushcache").Run()
		return exec.Command("killall", "-HUP", "mDNSResponder").Run()
	case "linux":
		if _, err := exec.LookPath("resolvectl"); err == nil {
			return exec.Command("resolvectl", "flush-caches").Run()
		}
		if _, err := exec.LookPath("systemd-resolve"); err == nil {
			return exec.Command("systemd-resolve", "--flush-caches").Run()
		}
		return nil
	default:
		return nil
	}
}

// systemNameserver returns the primary resolver from /etc/resolv.conf,
// falling back to a well-known public resolver.
func systemNameserver() string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || cfg == nil || len(cfg.Servers) == 0 {
		return "1.1.1.1:53"
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}

var _ domain.Resolver = (*TrustedResolver)(nil)
