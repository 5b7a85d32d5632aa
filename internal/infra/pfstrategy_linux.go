//go:build linux

package infra

import (
	"fmt"
	"os/exec"

	"github.com/focusshield/shieldd/internal/domain"
)

// SelectPacketFilterBackend probes for nft and returns the nft-backed
// packet filter, the secondary backend for Linux hosts.
func SelectPacketFilterBackend() (domain.PacketFilterBackend, error) {
	if _, err := exec.LookPath("nft"); err != nil {
		return nil, fmt.Errorf("nft not found on PATH: %w", err)
	}
	return NewNFTBackend(), nil
}

// SelectConnectionKiller returns the platform-appropriate domain.ConnectionKiller.
func SelectConnectionKiller() domain.ConnectionKiller {
	return NewConnectionKillerNFT()
}
