package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds per spec §7. These are sentinel-wrapping types, not a
// hierarchy: callers compare with errors.As, never with type switches on
// concrete implementation details.

// ValidationError reports a malformed domain or out-of-range minutes.
// Local, returned to caller, no side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// LockoutRefusal reports a mutation blocked by an active hard lockout.
type LockoutRefusal struct {
	Domain string
	Until  time.Time
}

func (e *LockoutRefusal) Error() string {
	return fmt.Sprintf("lockout: %s is hard-locked until %s", e.Domain, e.Until.Format("2006-01-02"))
}

// AgentUnavailable reports that IPC to the agent failed.
type AgentUnavailable struct {
	Op  string
	Err error
}

func (e *AgentUnavailable) Error() string {
	return fmt.Sprintf("agent unavailable during %s: %v", e.Op, e.Err)
}

func (e *AgentUnavailable) Unwrap() error { return e.Err }

// SurfaceApplyError reports that the host file or filter reload failed.
// Fatal to the specific request; the agent retains previous on-disk state.
type SurfaceApplyError struct {
	Surface string
	Err     error
}

func (e *SurfaceApplyError) Error() string {
	return fmt.Sprintf("surface apply failed (%s): %v", e.Surface, e.Err)
}

func (e *SurfaceApplyError) Unwrap() error { return e.Err }

// NotFoundError reports that a referenced domain/entry does not exist.
type NotFoundError struct {
	Domain string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Domain)
}

// IsLockoutRefusal is a convenience wrapper around errors.As.
func IsLockoutRefusal(err error) (*LockoutRefusal, bool) {
	var lr *LockoutRefusal
	if errors.As(err, &lr) {
		return lr, true
	}
	return nil, false
}

// IsValidationError is a convenience wrapper around errors.As.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
