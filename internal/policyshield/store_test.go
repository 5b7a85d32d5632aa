package policyshield

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focusshield/shieldd/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "policy.json"))
	require.NoError(t, err)
	// Start from an empty blocklist for deterministic per-test assertions.
	s.doc.Blocklist = nil
	require.NoError(t, s.persistLocked())
	return s
}

func TestStore_AddBlockIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddBlock("Twitter.com"))
	require.NoError(t, s.AddBlock("twitter.com"))
	assert.Equal(t, []string{"twitter.com"}, s.Blocklist())
}

func TestStore_IsBlocked_SubdomainCoverage(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddBlock("youtube.com"))
	assert.True(t, s.IsBlocked("youtube.com"))
	assert.True(t, s.IsBlocked("m.youtube.com"))
	assert.False(t, s.IsBlocked("notyoutube.com"))
}

func TestStore_GrantMakesUnblockedUntilExpiry(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	require.NoError(t, s.AddBlock("reddit.com"))

	_, err := s.Grant("reddit.com", 1, "test")
	require.NoError(t, err)
	assert.False(t, s.IsBlocked("reddit.com"))

	s.now = func() time.Time { return now.Add(61 * time.Second) }
	assert.True(t, s.IsBlocked("reddit.com"))
}

func TestStore_GrantRejectsOutOfRangeMinutes(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Grant("reddit.com", 0, "x")
	assert.Error(t, err)
	_, err = s.Grant("reddit.com", 31, "x")
	assert.Error(t, err)
}

func TestStore_HardLockoutVetoesGrantAndRemoveBlock(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddBlock("twitter.com"))
	require.NoError(t, s.AddLock("twitter.com", time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)))

	_, err := s.Grant("twitter.com", 5, "x")
	lr, ok := domain.IsLockoutRefusal(err)
	require.True(t, ok)
	assert.Equal(t, "2099-01-01", lr.Until.Format("2006-01-02"))

	err = s.RemoveBlock("twitter.com")
	_, ok = domain.IsLockoutRefusal(err)
	assert.True(t, ok)
}

func TestStore_EffectiveBlockSetExcludesActiveAllowance(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddBlock("a.com"))
	require.NoError(t, s.AddBlock("b.com"))
	_, err := s.Grant("a.com", 5, "x")
	require.NoError(t, err)

	eff := s.EffectiveBlockSet()
	assert.False(t, eff.Contains("a.com"))
	assert.True(t, eff.Contains("b.com"))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.AddBlock("persisted.com"))

	s2, err := Open(path)
	require.NoError(t, err)
	assert.Contains(t, s2.Blocklist(), "persisted.com")
}
