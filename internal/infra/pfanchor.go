//go:build darwin

package infra

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/focusshield/shieldd/internal/domain"
	"github.com/focusshield/shieldd/internal/policyshield"
)

const (
	pfAnchorName   = "focusshield"
	pfAnchorPath   = "/etc/pf.anchors/focusshield"
	pfConfPath     = "/etc/pf.conf"
	pfAnchorRefFmt = `anchor "%s"` + "\n"
	pfLoadRefFmt   = `load anchor "%s" from "%s"` + "\n"
)

// PFBackend implements domain.PacketFilterBackend using macOS's pf(4),
// writing static and dynamic per-domain rules to a dedicated anchor file
// and reloading it with pfctl. A reference to the anchor is appended to
// /etc/pf.conf once, idempotently, the same way the teacher's strategy
// manager probes for and records one-time system state.
type PFBackend struct {
	mu           sync.Mutex
	runner       CommandRunner
	staticRanges []string
	dynamic      map[string][]string // domain -> IPs currently blocked
}

// NewPFBackend creates a pf-backed packet filter.
func NewPFBackend() *PFBackend {
	return &PFBackend{
		runner:  &RealCommandRunner{},
		dynamic: make(map[string][]string),
	}
}

// EnsureAnchor appends a reference to the focusshield anchor into
// /etc/pf.conf if one isn't already present, and creates an empty anchor
// file if missing.
func (p *PFBackend) EnsureAnchor() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := os.Stat(pfAnchorPath); os.IsNotExist(err) {
		if err := os.WriteFile(pfAnchorPath, []byte(""), 0644); err != nil {
			return fmt.Errorf("failed to create pf anchor file: %w", err)
		}
	}

	conf, err := os.ReadFile(pfConfPath)
	if err != nil {
		return fmt.Errorf("failed to read pf.conf: %w", err)
	}
	content := string(conf)

	anchorRef := fmt.Sprintf(pfAnchorRefFmt, pfAnchorName)
	loadRef := fmt.Sprintf(pfLoadRefFmt, pfAnchorName, pfAnchorPath)

	if strings.Contains(content, anchorRef) && strings.Contains(content, loadRef) {
		return nil
	}

	updated := content
	if !strings.Contains(updated, anchorRef) {
		updated += anchorRef
	}
	if !strings.Contains(updated, loadRef) {
		updated += loadRef
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", pfConfPath, os.Getpid())
	if err := os.WriteFile(tmpPath, []byte(updated), 0644); err != nil {
		return fmt.Errorf("failed to write pf.conf temp file: %w", err)
	}
	if err := os.Rename(tmpPath, pfConfPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to install pf.conf: %w", err)
	}
	return nil
}

// ApplyStatic (re)writes the fixed CIDR block list into the anchor from the
// operator-facing static range table, leaving dynamic entries intact.
func (p *PFBackend) ApplyStatic() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staticRanges = make([]string, 0, len(policyshield.StaticRanges))
	for _, r := range policyshield.StaticRanges {
		p.staticRanges = append(p.staticRanges, r.CIDR)
	}
	return p.writeAnchorLocked()
}

// AddDynamic blocks the resolved IPs for domain, tagging each anchor line
// with a trailing comment so it can be found again on removal.
func (p *PFBackend) AddDynamic(domainName string, ips []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dynamic[domainName] = ips
	return p.writeAnchorLocked()
}

// RemoveDynamic unblocks the IPs previously associated with domain.
func (p *PFBackend) RemoveDynamic(domainName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dynamic, domainName)
	return p.writeAnchorLocked()
}

func (p *PFBackend) writeAnchorLocked() error {
	var b strings.Builder
	for _, r := range p.staticRanges {
		fmt.Fprintf(&b, "block drop out quick proto {tcp,udp} to %s\n", r)
	}

	domains := make([]string, 0, len(p.dynamic))
	for d := range p.dynamic {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		for _, ip := range p.dynamic[d] {
			fmt.Fprintf(&b, "block drop out quick proto {tcp,udp} to %s # %s\n", ip, d)
		}
	}

	if err := os.WriteFile(pfAnchorPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write pf anchor: %w", err)
	}
	return p.reloadLocked()
}

// Reload tells pfctl to re-read the anchor and ensures pf is enabled.
func (p *PFBackend) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloadLocked()
}

func (p *PFBackend) reloadLocked() error {
	_ = p.runner.Run("pfctl", "-E")
	if err := p.runner.Run("pfctl", "-a", pfAnchorName, "-f", pfAnchorPath); err != nil {
		return fmt.Errorf("pfctl reload failed: %w", err)
	}
	return nil
}

// Clear empties the anchor of all rules, static and dynamic.
func (p *PFBackend) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staticRanges = nil
	p.dynamic = make(map[string][]string)
	if err := os.WriteFile(pfAnchorPath, []byte(""), 0644); err != nil {
		return fmt.Errorf("failed to clear pf anchor: %w", err)
	}
	return p.reloadLocked()
}

var _ domain.PacketFilterBackend = (*PFBackend)(nil)

// ConnectionKillerPF implements domain.ConnectionKiller by asking pfctl to
// drop any live state entries whose destination matches ips.
type ConnectionKillerPF struct {
	runner CommandRunner
}

// NewConnectionKillerPF creates a pf-backed connection killer.
func NewConnectionKillerPF() *ConnectionKillerPF {
	return &ConnectionKillerPF{runner: &RealCommandRunner{}}
}

// KillConnectionsTo tears down established connections to the given IPs.
func (c *ConnectionKillerPF) KillConnectionsTo(ctx context.Context, ips []string) error {
	var lastErr error
	for _, ip := range ips {
		if err := c.runner.Run("pfctl", "-k", "0.0.0.0/0", "-k", ip); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

var _ domain.ConnectionKiller = (*ConnectionKillerPF)(nil)
