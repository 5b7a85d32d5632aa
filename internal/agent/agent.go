// Package agent implements the Enforcement Agent: the privileged daemon
// that owns the hosts-file and packet-filter surfaces and is the only
// process that ever calls domain.HostsFileWriter or domain.PacketFilterBackend.
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/focusshield/shieldd/internal/domain"
	"github.com/focusshield/shieldd/internal/infra"
)

// State is one stage of the agent's startup/run/shutdown lifecycle.
type State string

const (
	StateInitializing State = "initializing"
	StateRestoring     State = "restoring"
	StateServing       State = "serving"
	StateDraining       State = "draining"
)

// Config holds the agent's tunables. Grounded on the teacher's
// WatcherConfig, collapsed to the two tickers this spec actually needs:
// an expiry sweep and a mirror heartbeat.
type Config struct {
	ExpirySweepInterval time.Duration
	MirrorSaveInterval  time.Duration
}

// DefaultConfig returns the agent's default tuning.
func DefaultConfig() Config {
	return Config{
		ExpirySweepInterval: 10 * time.Second,
		MirrorSaveInterval:  30 * time.Second,
	}
}

// Agent is the enforcement daemon's main loop.
type Agent struct {
	cfg      Config
	store    domain.PolicyStore
	hosts    domain.HostsFileWriter
	pf       domain.PacketFilterBackend
	killer   domain.ConnectionKiller
	resolver domain.Resolver
	tabs     domain.BrowserTabCloser
	mirror   *infra.MirrorStore
	logger   *zap.Logger

	state State

	// prevAllowed is the set of domains with an active allowance as of the
	// last expiry sweep, used to detect which domains just lost theirs.
	prevAllowed map[string]struct{}
}

// New creates an Agent wired to its enforcement surfaces. resolver and tabs
// may be nil, in which case the surfaces they back (dynamic-rule IP
// resolution, resolver-cache flush, browser-tab close) are skipped.
func New(cfg Config, store domain.PolicyStore, hosts domain.HostsFileWriter, pf domain.PacketFilterBackend, killer domain.ConnectionKiller, resolver domain.Resolver, tabs domain.BrowserTabCloser, mirror *infra.MirrorStore, logger *zap.Logger) *Agent {
	return &Agent{
		cfg:      cfg,
		store:    store,
		hosts:    hosts,
		pf:       pf,
		killer:   killer,
		resolver: resolver,
		tabs:     tabs,
		mirror:   mirror,
		logger:   logger,
		state:    StateInitializing,
	}
}

// State returns the agent's current lifecycle stage.
func (a *Agent) State() State {
	return a.state
}

// Run brings the agent up (recovering enforcement from the last known
// policy before accepting any IPC) and then blocks, re-sweeping expired
// allowances on a fixed interval, until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	a.state = StateRestoring
	if err := a.restore(); err != nil {
		a.logger.Error("failed to restore enforcement on startup", zap.Error(err))
		return fmt.Errorf("startup recovery failed: %w", err)
	}
	a.state = StateServing
	a.logger.Info("agent serving")

	sweepTicker := time.NewTicker(a.cfg.ExpirySweepInterval)
	mirrorTicker := time.NewTicker(a.cfg.MirrorSaveInterval)
	defer sweepTicker.Stop()
	defer mirrorTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.state = StateDraining
			a.logger.Info("agent draining")
			return ctx.Err()

		case <-sweepTicker.C:
			a.sweepExpiry(ctx)

		case <-mirrorTicker.C:
			a.saveMirror()
		}
	}
}

// restore re-applies enforcement surfaces 1 (hosts file) and 2 (packet
// filter) from the policy store before the agent accepts any IPC request,
// so a crash-and-restart never leaves a window where blocked domains are
// briefly reachable again.
func (a *Agent) restore() error {
	if err := a.pf.EnsureAnchor(); err != nil {
		return fmt.Errorf("failed to ensure packet filter anchor: %w", err)
	}
	if err := a.pf.ApplyStatic(); err != nil {
		return fmt.Errorf("failed to apply static packet filter ranges: %w", err)
	}
	if err := a.EnforceBlocklist(); err != nil {
		return err
	}
	a.prevAllowed = allowedDomainSet(a.store.ActiveAllowances())
	return nil
}

// sweepExpiry re-applies hosts-file enforcement and, for any domain whose
// allowance expired since the last sweep, runs the same aggressive cascade
// as an explicit revoke so access doesn't linger on the packet-filter and
// connection-level surfaces past the granted window (spec §4.2 revoke,
// spec §8 Property 7).
func (a *Agent) sweepExpiry(ctx context.Context) {
	if err := a.EnforceBlocklist(); err != nil {
		a.logger.Warn("expiry sweep failed to re-apply enforcement", zap.Error(err))
	}

	curr := allowedDomainSet(a.store.ActiveAllowances())
	for d := range a.prevAllowed {
		if _, stillAllowed := curr[d]; stillAllowed {
			continue
		}
		a.logger.Info("allowance expired, re-enforcing", zap.String("domain", d))
		a.applyEnforceCascade(ctx, d)
		a.flushResolverCacheBestEffort(ctx)
	}
	a.prevAllowed = curr
}

func allowedDomainSet(allowances []domain.Allowance) map[string]struct{} {
	set := make(map[string]struct{}, len(allowances))
	for _, al := range allowances {
		set[al.Domain] = struct{}{}
	}
	return set
}

// KillConnections tears down any live connections to ips, used by the IPC
// server's enforce-block fast path to cut a session already open to a
// domain that was just blocked, rather than waiting for it to idle out.
func (a *Agent) KillConnections(ctx context.Context, ips []string) error {
	if a.killer == nil || len(ips) == 0 {
		return nil
	}
	return a.killer.KillConnectionsTo(ctx, ips)
}

// applyEnforceCascade is the aggressive fast path for making domainName
// unreachable immediately rather than waiting for the next hosts-file
// refresh or a stale DNS answer to age out: resolve its live IPs, add a
// dynamic packet-filter rule for them (which reloads the filter as part of
// writing the anchor), kill any already-open connections, and close any
// browser tabs left open on it. Used by both an explicit revoke/enforce-block
// IPC op and the expiry sweep's per-domain re-block. Best-effort throughout;
// failures are logged, never returned, per spec §7's BestEffortFailure kind.
func (a *Agent) applyEnforceCascade(ctx context.Context, domainName string) {
	ips := a.resolveBestEffort(ctx, domainName)
	if len(ips) > 0 {
		if err := a.pf.AddDynamic(domainName, ips); err != nil {
			a.logger.Warn("failed to add dynamic packet filter rule", zap.String("domain", domainName), zap.Error(err))
		}
		if err := a.KillConnections(ctx, ips); err != nil {
			a.logger.Warn("failed to kill live connections", zap.String("domain", domainName), zap.Error(err))
		}
	}
	a.closeTabsBestEffort(ctx, domainName)
}

// removeDynamicRule drops domainName's dynamic packet-filter rule, used by
// grant to lift the aggressive block while an allowance is active (spec
// §4.2 grant: "remove any dynamic anchor rules for the domain").
func (a *Agent) removeDynamicRule(domainName string) {
	if err := a.pf.RemoveDynamic(domainName); err != nil {
		a.logger.Warn("failed to remove dynamic packet filter rule", zap.String("domain", domainName), zap.Error(err))
	}
}

func (a *Agent) resolveBestEffort(ctx context.Context, domainName string) []string {
	if a.resolver == nil {
		return nil
	}
	ips, err := a.resolver.Resolve(ctx, domainName)
	if err != nil {
		a.logger.Warn("failed to resolve domain for enforcement cascade", zap.String("domain", domainName), zap.Error(err))
		return nil
	}
	return ips
}

func (a *Agent) closeTabsBestEffort(ctx context.Context, domainName string) {
	if a.tabs == nil {
		return
	}
	if err := a.tabs.CloseTabsForDomain(ctx, domainName); err != nil {
		a.logger.Warn("failed to close browser tabs", zap.String("domain", domainName), zap.Error(err))
	}
}

func (a *Agent) flushResolverCacheBestEffort(ctx context.Context) {
	if a.resolver == nil {
		return
	}
	if err := a.resolver.FlushCache(ctx); err != nil {
		a.logger.Warn("failed to flush resolver cache", zap.Error(err))
	}
}

// FlushResolverCache flushes the OS resolver cache via the trusted
// resolver, exposed as its own IPC operation ("flush-dns") distinct from
// the best-effort flush folded into the enforce cascade above.
func (a *Agent) FlushResolverCache(ctx context.Context) error {
	if a.resolver == nil {
		return nil
	}
	return a.resolver.FlushCache(ctx)
}

// EnforceBlocklist recomputes the effective block set from the policy
// store and re-applies it to the hosts file, persisting a fresh mirror.
func (a *Agent) EnforceBlocklist() error {
	shield := a.store.Shield()
	var domains []string
	if shield {
		domains = a.store.EffectiveBlockSet().Domains()
	}

	if err := a.hosts.Apply(domains, shield); err != nil {
		return fmt.Errorf("failed to apply hosts file: %w", err)
	}

	a.saveMirrorWith(shield, domains)
	return nil
}

// Clear disables enforcement entirely: empties the hosts-file block, drops
// packet-filter rules, and records the cleared state in the mirror.
func (a *Agent) Clear() error {
	if err := a.hosts.Clear(); err != nil {
		return fmt.Errorf("failed to clear hosts file: %w", err)
	}
	if err := a.pf.Clear(); err != nil {
		return fmt.Errorf("failed to clear packet filter: %w", err)
	}
	a.saveMirrorWith(false, nil)
	return nil
}

func (a *Agent) saveMirror() {
	shield := a.store.Shield()
	var domains []string
	if shield {
		domains = a.store.EffectiveBlockSet().Domains()
	}
	a.saveMirrorWith(shield, domains)
}

func (a *Agent) saveMirrorWith(shield bool, domains []string) {
	if a.mirror == nil {
		return
	}
	if err := a.mirror.Save(infra.AgentMirror{
		Shield:       shield,
		BlockedSet:   domains,
		AppliedAtUTC: time.Now().Unix(),
	}); err != nil {
		a.logger.Warn("failed to persist enforcement mirror", zap.Error(err))
	}
}
