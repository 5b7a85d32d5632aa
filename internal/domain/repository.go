package domain

import (
	"context"
	"time"
)

// PolicyStore owns the authoritative policy document and provides atomic
// mutation and derived queries (spec §4.1).
type PolicyStore interface {
	// IsBlocked reports whether d matches any blocklist entry and no
	// active allowance covers it.
	IsBlocked(d string) bool

	// EffectiveBlockSet returns blocklist minus domains with a currently
	// active allowance (Invariant 1).
	EffectiveBlockSet() EffectiveSet

	// Grant replaces any prior allowance on d and returns the new record.
	Grant(d string, minutes int, reason string) (Allowance, error)

	// Revoke drops the allowance on d, if any.
	Revoke(d string) error

	AddBlock(d string) error
	RemoveBlock(d string) error
	AddDelay(d string) error
	RemoveDelay(d string) error

	// ActiveAllowances returns non-expired allowances, pruning expired
	// entries from storage as a side effect.
	ActiveAllowances() []Allowance

	// ActiveLocks returns non-expired hard lockouts, pruning expired
	// entries from storage as a side effect.
	ActiveLocks() []HardLockout

	// RemainingMinutes returns the ceil-rounded minutes left for any
	// active allowance covering d, else 0.
	RemainingMinutes(d string) int

	// IsHardLocked reports whether d is covered by an active hard lockout.
	IsHardLocked(d string) (*HardLockout, bool)

	AddLock(d string, until time.Time) error

	Blocklist() []string
	DelayList() []string

	// Shield reports the global enable flag.
	Shield() bool
	SetShield(enabled bool) error

	// Clear turns the shield off and drops all allowances.
	Clear() error
}

// HostsFileWriter owns the sentinel-bracketed region of the OS host file
// (spec §4.2 surface 1).
type HostsFileWriter interface {
	// Apply rewrites the sentinel region for the given effective set when
	// shield is true, or clears it when shield is false. Idempotent.
	Apply(effective []string, shield bool) error

	// Clear strips the sentinel region entirely, leaving surrounding
	// content byte-identical to what it was outside the sentinels.
	Clear() error
}

// PacketFilterBackend owns the kernel packet-filter anchor (spec §4.2
// surface 2). A pf (macOS/BSD) and an nft (Linux) implementation exist;
// selection happens at agent startup.
type PacketFilterBackend interface {
	// EnsureAnchor appends the anchor reference line to the main
	// configuration exactly once across the agent's lifetime, and writes
	// an empty anchor file if none exists yet.
	EnsureAnchor() error

	// ApplyStatic (re)writes the static CIDR block rules.
	ApplyStatic() error

	// AddDynamic appends per-IP block rules tagged with domain as a
	// trailing comment.
	AddDynamic(domain string, ips []string) error

	// RemoveDynamic removes all rules tagged with domain.
	RemoveDynamic(domain string) error

	// Reload reloads the packet filter from the anchor file.
	Reload() error

	// Clear empties the anchor's dynamic and static content (shield off).
	Clear() error
}

// ConnectionKiller tears down live connection state for a set of IPs
// (spec §4.2 surface 3). Best-effort; failures are logged, never surfaced.
type ConnectionKiller interface {
	KillConnectionsTo(ctx context.Context, ips []string) error
}

// BrowserTabCloser drives the scriptable interface of known browsers to
// close tabs on a blocked domain (spec §4.2 surface 4). Best-effort.
type BrowserTabCloser interface {
	CloseTabsForDomain(ctx context.Context, domain string) error
}

// Resolver resolves a domain to IPs via an external, trusted resolver, and
// can invalidate the OS resolver cache.
type Resolver interface {
	Resolve(ctx context.Context, domain string) ([]string, error)
	FlushCache(ctx context.Context) error
}

// KeyProvider abstracts the source of a random secret (AES key or bearer
// token), stored with owner-only permissions.
type KeyProvider interface {
	GetKey() ([]byte, error)
	StoreKey(key []byte) error
	KeyExists() bool
}

// DelaySessionStore persists delay-session counters (spec §4.1 delay
// progression), separate from the plain-JSON policy document.
type DelaySessionStore interface {
	Get(domain string) (DelaySession, error)
	Put(session DelaySession) error
	Close() error
}

// ProcessManager handles OS process operations used for browser-process
// discovery and liveness checks.
type ProcessManager interface {
	FindByName(pattern string) ([]int, error)
	Kill(pid int) error
	IsRunning(pid int) bool
	GetCurrentPID() int
}

// FileSystemManager handles filesystem operations shared by the atomic
// writers (hosts file, anchor file, mirror store).
type FileSystemManager interface {
	Exists(path string) bool
	ExpandHome(path string) string
}

// AgentIPCClient is the control server's view of the agent's loopback IPC
// surface (spec §4.2 Operations table).
type AgentIPCClient interface {
	Blocklist(ctx context.Context, domains []string) error
	Grant(ctx context.Context, domain string, minutes int, reason string) error
	Revoke(ctx context.Context, domain string) error
	EnforceBlock(ctx context.Context, domain string) error
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	FlushDNS(ctx context.Context) error
	ClearAll(ctx context.Context) error
	Status(ctx context.Context) (AgentStatus, error)
}
