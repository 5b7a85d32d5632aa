package infra

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirrorStore_LoadMissingReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	s := NewMirrorStore(filepath.Join(dir, "mirror.json"))

	m, err := s.Load()
	require.NoError(t, err)
	assert.False(t, m.Shield)
	assert.Empty(t, m.BlockedSet)
}

func TestMirrorStore_SaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mirror.json")
	s := NewMirrorStore(path)

	want := AgentMirror{Shield: true, BlockedSet: []string{"a.com", "b.com"}, AppliedAtUTC: 1700000000}
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMirrorStore_SaveOverwritesPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mirror.json")
	s := NewMirrorStore(path)

	require.NoError(t, s.Save(AgentMirror{Shield: true, BlockedSet: []string{"a.com"}}))
	require.NoError(t, s.Save(AgentMirror{Shield: false, BlockedSet: []string{"b.com"}}))

	got, err := s.Load()
	require.NoError(t, err)
	assert.False(t, got.Shield)
	assert.Equal(t, []string{"b.com"}, got.BlockedSet)
}
