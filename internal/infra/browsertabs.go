package infra

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/focusshield/shieldd/internal/domain"
)

// browserTargets maps a browser's process name to the AppleScript
// application name used to script it.
var browserTargets = map[string]string{
	"Safari":  "Safari",
	"Google Chrome": "Google Chrome",
}

// BrowserTabCloserImpl implements domain.BrowserTabCloser via AppleScript,
// grounded directly on the teacher's freedom.go login-item/restart pattern:
// same CommandRunner injection point, same osascript invocation style.
type BrowserTabCloserImpl struct {
	pm        domain.ProcessManager
	logger    *zap.Logger
	cmdRunner CommandRunner
}

// NewBrowserTabCloser creates a browser tab closer.
func NewBrowserTabCloser(pm domain.ProcessManager, logger *zap.Logger) *BrowserTabCloserImpl {
	return &BrowserTabCloserImpl{pm: pm, logger: logger, cmdRunner: &RealCommandRunner{}}
}

// NewBrowserTabCloserWithRunner creates a tab closer with an injectable
// CommandRunner, for testing.
func NewBrowserTabCloserWithRunner(pm domain.ProcessManager, logger *zap.Logger, runner CommandRunner) *BrowserTabCloserImpl {
	return &BrowserTabCloserImpl{pm: pm, logger: logger, cmdRunner: runner}
}

// CloseTabsForDomain closes every open tab across the known browsers whose
// URL contains domainName as a substring.
func (b *BrowserTabCloserImpl) CloseTabsForDomain(ctx context.Context, domainName string) error {
	var lastErr error

	for procName, appName := range browserTargets {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pids, err := b.pm.FindByName(procName)
		if err != nil || len(pids) == 0 {
			continue
		}

		if _, err := b.closeTabsInApp(appName, domainName); err != nil {
			lastErr = err
			b.logWarn("failed to close tabs", zap.String("app", appName), zap.Error(err))
		}
	}
	return lastErr
}

// closeTabsInApp runs a small AppleScript that walks every window/tab of
// appName and closes any whose URL contains domainName.
func (b *BrowserTabCloserImpl) closeTabsInApp(appName, domainName string) (int, error) {
	script := fmt.Sprintf(`
tell application "%s"
	set closedCount to 0
	repeat with w in windows
		set tabIndexesToClose to {}
		set tabList to tabs of w
		repeat with i from 1 to count of tabList
			set t to item i of tabList
			if URL of t contains "%s" then
				set end of tabIndexesToClose to i
			end if
		end repeat
		repeat with i in reverse of tabIndexesToClose
			close (item i of tabList)
			set closedCount to closedCount + 1
		end repeat
	end repeat
	return closedCount
end tell`, appName, domainName)

	out, err := b.cmdRunner.Output("osascript", "-e", script)
	if err != nil {
		return 0, fmt.Errorf("osascript failed for %s: %w", appName, err)
	}

	n := 0
	fmt.Sscanf(strings.TrimSpace(string(out)), "%d", &n)
	return n, nil
}

func (b *BrowserTabCloserImpl) logWarn(msg string, fields ...zap.Field) {
	if b.logger != nil {
		b.logger.Warn(msg, fields...)
	}
}

var _ domain.BrowserTabCloser = (*BrowserTabCloserImpl)(nil)
