package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostsFileWriter_PreservesSurroundingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	original := "127.0.0.1 localhost\n::1 localhost\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))

	w := NewHostsFileWriter(path)
	require.NoError(t, w.Apply([]string{"twitter.com", "reddit.com"}, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "127.0.0.1 localhost")
	assert.Contains(t, content, "::1 localhost")
	assert.Contains(t, content, hostsBeginMarker)
	assert.Contains(t, content, hostsEndMarker)
	assert.Contains(t, content, "0.0.0.0 reddit.com")
	assert.Contains(t, content, ":: reddit.com")
	assert.Contains(t, content, "0.0.0.0 twitter.com")
	assert.Contains(t, content, "0.0.0.0 mobile.twitter.com")
	assert.Contains(t, content, "0.0.0.0 old.reddit.com")
}

func TestHostsFileWriter_ReapplyReplacesBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(path, []byte("127.0.0.1 localhost\n"), 0644))

	w := NewHostsFileWriter(path)
	require.NoError(t, w.Apply([]string{"a.com"}, true))
	require.NoError(t, w.Apply([]string{"b.com"}, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, "a.com")
	assert.Contains(t, content, "b.com")
}

func TestHostsFileWriter_ShieldFalseClearsBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(path, []byte("127.0.0.1 localhost\n"), 0644))

	w := NewHostsFileWriter(path)
	require.NoError(t, w.Apply([]string{"a.com"}, true))
	require.NoError(t, w.Apply([]string{"a.com"}, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, hostsBeginMarker)
	assert.Contains(t, content, "127.0.0.1 localhost")
}

func TestHostsFileWriter_ClearRemovesBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(path, []byte("127.0.0.1 localhost\n"), 0644))

	w := NewHostsFileWriter(path)
	require.NoError(t, w.Apply([]string{"a.com"}, true))
	require.NoError(t, w.Clear())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, hostsBeginMarker)
	assert.Contains(t, content, "127.0.0.1 localhost")
}

func TestHostsFileWriter_CreatesFileIfMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")

	w := NewHostsFileWriter(path)
	require.NoError(t, w.Apply([]string{"a.com"}, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "0.0.0.0 a.com")
	assert.Contains(t, string(data), ":: a.com")
}
