package infra

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessManager struct {
	byName map[string][]int
}

func (f *fakeProcessManager) FindByName(pattern string) ([]int, error) {
	return f.byName[pattern], nil
}
func (f *fakeProcessManager) Kill(pid int) error       { return nil }
func (f *fakeProcessManager) IsRunning(pid int) bool   { return true }
func (f *fakeProcessManager) GetCurrentPID() int       { return 0 }

type fakeCommandRunner struct {
	outputs map[string][]byte
	calls   []string
}

func (f *fakeCommandRunner) Run(name string, args ...string) error {
	f.calls = append(f.calls, name)
	return nil
}

func (f *fakeCommandRunner) Output(name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, name)
	if out, ok := f.outputs[name]; ok {
		return out, nil
	}
	return []byte("0"), nil
}

func TestBrowserTabCloser_ClosesTabsInRunningBrowsers(t *testing.T) {
	pm := &fakeProcessManager{byName: map[string][]int{
		"Safari": {123},
	}}
	runner := &fakeCommandRunner{outputs: map[string][]byte{
		"osascript": []byte("2\n"),
	}}

	closer := NewBrowserTabCloserWithRunner(pm, nil, runner)
	err := closer.CloseTabsForDomain(context.Background(), "reddit.com")
	require.NoError(t, err)
	assert.Contains(t, runner.calls, "osascript")
}

func TestBrowserTabCloser_SkipsBrowsersNotRunning(t *testing.T) {
	pm := &fakeProcessManager{byName: map[string][]int{}}
	runner := &fakeCommandRunner{}

	closer := NewBrowserTabCloserWithRunner(pm, nil, runner)
	err := closer.CloseTabsForDomain(context.Background(), "reddit.com")
	require.NoError(t, err)
	assert.Empty(t, runner.calls)
}
