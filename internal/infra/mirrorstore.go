package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
)

// AgentMirror is the agent's own persisted record of what it last enforced:
// the effective block set and shield flag it applied to the hosts file. The
// agent writes it after every apply and on its heartbeat ticker; its startup
// recovery recomputes the set from the policy store and does not read this
// file back.
type AgentMirror struct {
	Shield       bool     `json:"shield"`
	BlockedSet   []string `json:"blocked_set"`
	AppliedAtUTC int64    `json:"applied_at_utc"`
}

// MirrorStore persists an AgentMirror to a JSON file, guarded by an flock
// so a concurrent agent restart can't read a half-written file. Adapted
// from the teacher's FileRegistry: same lock-file-then-atomic-write shape,
// applied here to the agent's enforcement mirror instead of daemon PIDs.
type MirrorStore struct {
	path string
}

// NewMirrorStore creates a mirror store backed by path.
func NewMirrorStore(path string) *MirrorStore {
	return &MirrorStore{path: path}
}

// Load reads the persisted mirror, returning a zero-value mirror if none
// has been written yet.
func (m *MirrorStore) Load() (AgentMirror, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return AgentMirror{}, nil
		}
		return AgentMirror{}, fmt.Errorf("failed to read mirror: %w", err)
	}
	var mirror AgentMirror
	if err := json.Unmarshal(data, &mirror); err != nil {
		return AgentMirror{}, fmt.Errorf("failed to parse mirror: %w", err)
	}
	return mirror, nil
}

// Save writes the mirror atomically under an exclusive file lock.
func (m *MirrorStore) Save(mirror AgentMirror) error {
	lockPath := m.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open mirror lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire mirror lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	data, err := json.Marshal(mirror)
	if err != nil {
		return fmt.Errorf("failed to marshal mirror: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", m.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write mirror temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to install mirror: %w", err)
	}
	return nil
}
