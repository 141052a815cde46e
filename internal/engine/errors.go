package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes fatal run errors.
type ErrorCode string

const (
	// ErrCodePlanningFailed means the run failed before mutating anything.
	ErrCodePlanningFailed ErrorCode = "PLANNING_FAILED"

	// ErrCodeLockHeld means another run holds the output-root lock.
	ErrCodeLockHeld ErrorCode = "LOCK_HELD"

	// ErrCodePublishUnrecoverable means a failed swap could not be rolled
	// back. The state file is not written.
	ErrCodePublishUnrecoverable ErrorCode = "PUBLISH_UNRECOVERABLE"

	// ErrCodeStateWriteFailed means outputs were published but the state
	// file could not be saved. The next run rebuilds what it cannot prove.
	ErrCodeStateWriteFailed ErrorCode = "STATE_WRITE_FAILED"
)

// Error is a fatal run error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of a fatal run error, or "" for other errors.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
