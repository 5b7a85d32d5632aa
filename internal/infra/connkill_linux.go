//go:build linux

package infra

import (
	"context"

	"github.com/focusshield/shieldd/internal/domain"
)

// ConnectionKillerNFT implements domain.ConnectionKiller on Linux by
// deleting conntrack entries for the given destinations, best-effort:
// dropping future packets via the nft set is the enforcement surface that
// matters, this only speeds up teardown of connections already open.
type ConnectionKillerNFT struct {
	runner CommandRunner
}

// NewConnectionKillerNFT creates a conntrack-backed connection killer.
func NewConnectionKillerNFT() *ConnectionKillerNFT {
	return &ConnectionKillerNFT{runner: &RealCommandRunner{}}
}

// KillConnectionsTo tears down conntrack state for the given IPs.
func (c *ConnectionKillerNFT) KillConnectionsTo(ctx context.Context, ips []string) error {
	var lastErr error
	for _, ip := range ips {
		if err := c.runner.Run("conntrack", "-D", "-d", ip); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

var _ domain.ConnectionKiller = (*ConnectionKillerNFT)(nil)
