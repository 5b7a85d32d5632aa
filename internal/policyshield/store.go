package policyshield

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/focusshield/shieldd/internal/domain"
)

// Store is the Policy Store: the single source of truth for blocked
// domains, delayed domains, active allowances, and hard lockouts. All
// mutation passes through a single mutex; persistence is write-temp +
// atomic rename (spec §4.1, §9 "no ambient singletons").
//
// Grounded on internal/infra/registry.go's atomicWrite pattern from the
// teacher, generalized from a single daemon-registry struct to the full
// policy document.
type Store struct {
	mu   sync.Mutex
	path string
	doc  domain.PolicyDocument
	now  func() time.Time
}

// Open loads the policy document at path, initializing it with default
// categories if the file does not yet exist (spec §4.1 load()).
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.doc = defaultDocument()
			return s.persistLocked()
		}
		return fmt.Errorf("failed to read policy document: %w", err)
	}
	var doc domain.PolicyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse policy document: %w", err)
	}
	if doc.Allowances == nil {
		doc.Allowances = map[string]domain.Allowance{}
	}
	if doc.HardLocks == nil {
		doc.HardLocks = map[string]domain.HardLockout{}
	}
	s.doc = doc
	return nil
}

func defaultDocument() domain.PolicyDocument {
	return domain.PolicyDocument{
		Shield:     true,
		Blocklist:  DomainsFor(DefaultCategories),
		DelayList:  []string{},
		Allowances: map[string]domain.Allowance{},
		HardLocks:  map[string]domain.HardLockout{},
	}
}

// persistLocked writes the document to disk via write-temp + atomic
// rename. Caller must hold s.mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal policy document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create policy directory: %w", err)
	}
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open temp policy file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp policy file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to fsync temp policy file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename policy file into place: %w", err)
	}
	return nil
}

// pruneExpiredLocked removes expired allowances and lockouts from storage.
// Caller must hold s.mu.
func (s *Store) pruneExpiredLocked() bool {
	now := s.now()
	changed := false
	for d, a := range s.doc.Allowances {
		if !a.Active(now) {
			delete(s.doc.Allowances, d)
			changed = true
		}
	}
	for d, l := range s.doc.HardLocks {
		if !l.Active(now) {
			delete(s.doc.HardLocks, d)
			changed = true
		}
	}
	return changed
}

// IsBlocked reports whether d matches any blocklist entry and no active
// allowance covers it.
func (s *Store) IsBlocked(d string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneExpiredLocked()
	if !MatchesAny(s.doc.Blocklist, d) {
		return false
	}
	return !s.hasActiveAllowanceLocked(d)
}

func (s *Store) hasActiveAllowanceLocked(d string) bool {
	now := s.now()
	for ad, a := range s.doc.Allowances {
		if a.Active(now) && Matches(ad, d) {
			return true
		}
	}
	return false
}

// EffectiveBlockSet returns blocklist minus domains with a currently
// active allowance (Invariant 1).
func (s *Store) EffectiveBlockSet() domain.EffectiveSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneExpiredLocked()
	out := domain.EffectiveSet{}
	for _, b := range s.doc.Blocklist {
		if s.hasActiveAllowanceLocked(b) {
			continue
		}
		out[b] = struct{}{}
	}
	return out
}

// Grant replaces any prior allowance on d and returns the new record.
// Rejects minutes outside [1, 30] on the public grant surface; callers
// with a privileged bypass should validate separately before calling.
func (s *Store) Grant(d string, minutes int, reason string) (domain.Allowance, error) {
	cd, err := Canonicalize(d)
	if err != nil {
		return domain.Allowance{}, &domain.ValidationError{Field: "domain", Reason: err.Error()}
	}
	if minutes < 1 || minutes > 30 {
		return domain.Allowance{}, &domain.ValidationError{Field: "minutes", Reason: "must be in [1, 30]"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.doc.HardLocks[cd]; ok && l.Active(s.now()) {
		return domain.Allowance{}, &domain.LockoutRefusal{Domain: cd, Until: l.Until}
	}

	now := s.now()
	a := domain.Allowance{
		Domain:         cd,
		GrantedAt:      now,
		ExpiresAt:      now.Add(time.Duration(minutes) * time.Minute),
		Reason:         reason,
		GrantedMinutes: minutes,
	}
	s.doc.Allowances[cd] = a
	if err := s.persistLocked(); err != nil {
		return domain.Allowance{}, err
	}
	return a, nil
}

// Revoke drops the allowance on d, if any. Idempotent.
func (s *Store) Revoke(d string) error {
	cd, err := Canonicalize(d)
	if err != nil {
		return &domain.ValidationError{Field: "domain", Reason: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Allowances, cd)
	return s.persistLocked()
}

// AddBlock adds a canonical domain to the blocklist. Idempotent; always
// safe, never refused by hard lockouts (spec §4.3: adding to block is
// always safe).
func (s *Store) AddBlock(d string) error {
	cd, err := Canonicalize(d)
	if err != nil {
		return &domain.ValidationError{Field: "domain", Reason: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.doc.Blocklist {
		if b == cd {
			return nil
		}
	}
	s.doc.Blocklist = append(s.doc.Blocklist, cd)
	return s.persistLocked()
}

// RemoveBlock removes a canonical domain from the blocklist. Refused if
// hard-locked.
func (s *Store) RemoveBlock(d string) error {
	cd, err := Canonicalize(d)
	if err != nil {
		return &domain.ValidationError{Field: "domain", Reason: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.doc.HardLocks[cd]; ok && l.Active(s.now()) {
		return &domain.LockoutRefusal{Domain: cd, Until: l.Until}
	}
	out := s.doc.Blocklist[:0:0]
	for _, b := range s.doc.Blocklist {
		if b != cd {
			out = append(out, b)
		}
	}
	s.doc.Blocklist = out
	return s.persistLocked()
}

// AddDelay adds a canonical domain to the delay list. Idempotent.
func (s *Store) AddDelay(d string) error {
	cd, err := Canonicalize(d)
	if err != nil {
		return &domain.ValidationError{Field: "domain", Reason: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.doc.DelayList {
		if b == cd {
			return nil
		}
	}
	s.doc.DelayList = append(s.doc.DelayList, cd)
	return s.persistLocked()
}

// RemoveDelay removes a canonical domain from the delay list. Idempotent.
func (s *Store) RemoveDelay(d string) error {
	cd, err := Canonicalize(d)
	if err != nil {
		return &domain.ValidationError{Field: "domain", Reason: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.doc.DelayList[:0:0]
	for _, b := range s.doc.DelayList {
		if b != cd {
			out = append(out, b)
		}
	}
	s.doc.DelayList = out
	return s.persistLocked()
}

// ActiveAllowances returns non-expired allowances, pruning expired entries
// from storage as a side effect.
func (s *Store) ActiveAllowances() []domain.Allowance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pruneExpiredLocked() {
		_ = s.persistLocked()
	}
	out := make([]domain.Allowance, 0, len(s.doc.Allowances))
	for _, a := range s.doc.Allowances {
		out = append(out, a)
	}
	return out
}

// ActiveLocks returns non-expired hard lockouts, pruning expired entries
// from storage as a side effect.
func (s *Store) ActiveLocks() []domain.HardLockout {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pruneExpiredLocked() {
		_ = s.persistLocked()
	}
	out := make([]domain.HardLockout, 0, len(s.doc.HardLocks))
	for _, l := range s.doc.HardLocks {
		out = append(out, l)
	}
	return out
}

// RemainingMinutes returns the ceil-rounded minutes left for any active
// allowance covering d, else 0.
func (s *Store) RemainingMinutes(d string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for ad, a := range s.doc.Allowances {
		if a.Active(now) && Matches(ad, d) {
			return a.RemainingMinutes(now)
		}
	}
	return 0
}

// IsHardLocked reports whether d is covered by an active hard lockout.
func (s *Store) IsHardLocked(d string) (*domain.HardLockout, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.doc.HardLocks[d]; ok && l.Active(s.now()) {
		cp := l
		return &cp, true
	}
	return nil, false
}

// AddLock installs a hard lockout on d until the given date. Created
// out-of-band per spec §3 lifecycle (direct file edit or privileged
// endpoint) — this method is that privileged endpoint's backing call.
func (s *Store) AddLock(d string, until time.Time) error {
	cd, err := Canonicalize(d)
	if err != nil {
		return &domain.ValidationError{Field: "domain", Reason: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.HardLocks[cd] = domain.HardLockout{Domain: cd, Until: until}
	return s.persistLocked()
}

// Blocklist returns a copy of the current blocklist.
func (s *Store) Blocklist() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.doc.Blocklist))
	copy(out, s.doc.Blocklist)
	return out
}

// DelayList returns a copy of the current delay list.
func (s *Store) DelayList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.doc.DelayList))
	copy(out, s.doc.DelayList)
	return out
}

// Shield reports the global enable flag.
func (s *Store) Shield() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Shield
}

// SetShield toggles the global enable flag.
func (s *Store) SetShield(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Shield = enabled
	return s.persistLocked()
}

// Clear turns the shield off and drops all allowances.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Shield = false
	s.doc.Allowances = map[string]domain.Allowance{}
	return s.persistLocked()
}

var _ domain.PolicyStore = (*Store)(nil)
