//go:build darwin

package infra

import (
	"fmt"
	"os/exec"

	"github.com/focusshield/shieldd/internal/domain"
)

// SelectPacketFilterBackend probes for pfctl and returns the pf-backed
// packet filter, mirroring the teacher's StrategyManager, which discovers
// available uninstall strategies at runtime rather than assuming one.
func SelectPacketFilterBackend() (domain.PacketFilterBackend, error) {
	if _, err := exec.LookPath("pfctl"); err != nil {
		return nil, fmt.Errorf("pfctl not found on PATH: %w", err)
	}
	return NewPFBackend(), nil
}

// SelectConnectionKiller returns the platform-appropriate domain.ConnectionKiller.
func SelectConnectionKiller() domain.ConnectionKiller {
	return NewConnectionKillerPF()
}
