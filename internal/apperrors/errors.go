// Package apperrors holds the error conditions shared by the resolver, the
// extension runner and the dialog controller. Callers classify failures with
// errors.Is against the sentinels below.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrSettingsUnavailable      = errors.New("settings unavailable")
	ErrExtensionNotFound        = errors.New("extension not found")
	ErrExtensionExecutionFailed = errors.New("extension execution failed")
	ErrExtensionTimeout         = errors.New("extension timed out")
	ErrChannelIO                = errors.New("context channel i/o failure")
	ErrNoDialogPending          = errors.New("no dialog pending")
	ErrProcessLaunch            = errors.New("process launch failure")
	ErrUnsupportedPlatform      = errors.New("unsupported platform operation")
	ErrInvalidRequest           = errors.New("invalid request")
	ErrBackgroundLimit          = errors.New("background run limit reached")
)

// ExecutionError describes an extension run that did not produce results.
type ExecutionError struct {
	ExtensionID string
	ExitCode    int
	Stderr      string
	TimedOut    bool
	Cause       error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("extension %q failed", e.ExtensionID)
	switch {
	case e.TimedOut:
		msg = fmt.Sprintf("extension %q timed out", e.ExtensionID)
	case e.ExitCode != 0:
		msg = fmt.Sprintf("extension %q exited with status %d", e.ExtensionID, e.ExitCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports ErrExtensionExecutionFailed for every execution error, and
// ErrExtensionTimeout as well when the run was killed at its deadline.
func (e *ExecutionError) Is(target error) bool {
	switch target {
	case ErrExtensionExecutionFailed:
		return true
	case ErrExtensionTimeout:
		return e.TimedOut
	}
	return false
}

// Kind returns a stable, lower-case name for the condition err represents.
// It is used on the IPC wire so front-ends can branch without parsing text.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSettingsUnavailable):
		return "settings_unavailable"
	case errors.Is(err, ErrExtensionNotFound):
		return "extension_not_found"
	case errors.Is(err, ErrExtensionTimeout):
		return "extension_timeout"
	case errors.Is(err, ErrExtensionExecutionFailed):
		return "extension_execution_failed"
	case errors.Is(err, ErrChannelIO):
		return "channel_io_failure"
	case errors.Is(err, ErrNoDialogPending):
		return "no_dialog_pending"
	case errors.Is(err, ErrProcessLaunch):
		return "process_launch_failure"
	case errors.Is(err, ErrUnsupportedPlatform):
		return "unsupported_platform_operation"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrBackgroundLimit):
		return "background_limit_reached"
	default:
		return "internal"
	}
}
