package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunExpirySweep periodically checks whether any allowance has expired
// since the last tick and, if so, asks the agent to recompute its
// effective block set. This is defensive: the agent already re-sweeps on
// its own ticker, so this only closes the gap left by a server restart or
// a missed agent tick, per spec §4.3.
func RunExpirySweep(ctx context.Context, s *Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prevCount := len(s.store.ActiveAllowances())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nowCount := len(s.store.ActiveAllowances())
			if nowCount < prevCount {
				if err := s.agentClient.Blocklist(ctx, nil); err != nil {
					s.logger.Warn("expiry sweep failed to re-sync agent blocklist", zap.Error(err))
				}
			}
			prevCount = nowCount
		}
	}
}
