//go:build linux

package infra

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/focusshield/shieldd/internal/domain"
	"github.com/focusshield/shieldd/internal/policyshield"
)

const (
	nftFamily = "inet"
	nftTable  = "focusshield"
	nftSet    = "block_v4"
)

// NFTBackend implements domain.PacketFilterBackend on Linux using nft(8),
// mirroring the table/set/rule shape of chrismfz-cfm's nft backend but
// collapsed to the single "drop outbound to this address" rule this spec
// needs, since it has no port/rate-limiting requirements of its own.
type NFTBackend struct {
	mu      sync.Mutex
	dynamic map[string][]string // domain -> ips
}

// NewNFTBackend creates an nft-backed packet filter.
func NewNFTBackend() *NFTBackend {
	return &NFTBackend{dynamic: make(map[string][]string)}
}

// EnsureAnchor creates the focusshield table, chain and set if missing.
func (b *NFTBackend) EnsureAnchor() error {
	if err := b.nftCmd(fmt.Sprintf("add table %s %s", nftFamily, nftTable)); err != nil {
		return err
	}
	if err := b.nftCmd(fmt.Sprintf(
		`add chain %s %s output { type filter hook output priority filter; policy accept; }`,
		nftFamily, nftTable)); err != nil {
		return err
	}
	if err := b.nftCmd(fmt.Sprintf(`add set %s %s %s { type ipv4_addr; flags interval; }`, nftFamily, nftTable, nftSet)); err != nil {
		return err
	}
	_ = b.nftCmd(fmt.Sprintf(`add rule %s %s output ip daddr @%s drop`, nftFamily, nftTable, nftSet))
	return nil
}

// ApplyStatic flushes the set and re-adds the operator-facing static CIDR
// ranges.
func (b *NFTBackend) ApplyStatic() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.nftCmd(fmt.Sprintf(`flush set %s %s %s`, nftFamily, nftTable, nftSet)); err != nil {
		return err
	}
	ranges := make([]string, 0, len(policyshield.StaticRanges))
	for _, r := range policyshield.StaticRanges {
		ranges = append(ranges, r.CIDR)
	}
	return b.addElementsLocked(ranges)
}

// AddDynamic adds the resolved IPs for a delayed/blocked domain.
func (b *NFTBackend) AddDynamic(domainName string, ips []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dynamic[domainName] = ips
	return b.addElementsLocked(ips)
}

// RemoveDynamic removes the previously blocked IPs for domainName.
func (b *NFTBackend) RemoveDynamic(domainName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ips, ok := b.dynamic[domainName]
	if !ok {
		return nil
	}
	delete(b.dynamic, domainName)
	var lastErr error
	for _, ip := range ips {
		if err := b.nftCmd(fmt.Sprintf(`delete element %s %s %s { %s }`, nftFamily, nftTable, nftSet, ip)); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (b *NFTBackend) addElementsLocked(elems []string) error {
	if len(elems) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("add element %s %s %s { ", nftFamily, nftTable, nftSet))
	for i, e := range elems {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(e)
	}
	sb.WriteString(" }")
	return b.nftCmd(sb.String())
}

// Reload is a no-op for nft: every mutation above already takes effect
// immediately through the netlink-backed nft command.
func (b *NFTBackend) Reload() error { return nil }

// Clear removes the focusshield table entirely.
func (b *NFTBackend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dynamic = make(map[string][]string)
	return b.nftCmd(fmt.Sprintf("delete table %s %s", nftFamily, nftTable))
}

func (b *NFTBackend) nftCmd(expr string) error {
	cmd := exec.Command("nft", "-f", "-")
	cmd.Stdin = bytes.NewBufferString(expr + "\n")
	out, err := cmd.CombinedOutput()
	if err != nil && !strings.Contains(string(out), "File exists") {
		return fmt.Errorf("nft: %v: %s", err, string(out))
	}
	return nil
}

var _ domain.PacketFilterBackend = (*NFTBackend)(nil)
