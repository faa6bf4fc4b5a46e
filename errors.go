// Package supersonic provides the host-side API for wiring a producer
// channel, a prescheduler, and an inbound reply pipeline around a
// browser-hosted audio synthesis engine over a lock-free shared-memory
// OSC transport.
package supersonic

import (
	"errors"
	"fmt"
)

// Error represents a structured supersonic error with enough context to
// identify which ring/channel/session it came from, mirroring go-ublk's
// Error{Op,DevID,Queue,...} shape repurposed for this domain.
type Error struct {
	Op        string    // Operation that failed (e.g., "send", "classify", "release")
	SourceID  uint32    // Producer source_id (0 if not applicable)
	Ring      string    // Ring name: "in", "out", "debug" ("" if not applicable)
	SessionID uint32    // Session ID (0 if not applicable)
	Code      ErrorCode // High-level error category
	Msg       string    // Human-readable message
	Inner     error     // Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.SourceID != 0 {
		parts = append(parts, fmt.Sprintf("source=%d", e.SourceID))
	}
	if e.Ring != "" {
		parts = append(parts, fmt.Sprintf("ring=%s", e.Ring))
	}
	if e.SessionID != 0 {
		parts = append(parts, fmt.Sprintf("session=%d", e.SessionID))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("supersonic: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("supersonic: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support comparing by Code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents the high-level error categories from the error
// taxonomy: ring framing/capacity, scheduling, allocation, and pipeline
// decode errors.
type ErrorCode string

const (
	ErrCodeRingFull           ErrorCode = "ring full"
	ErrCodeRingCorrupt        ErrorCode = "ring corrupt"
	ErrCodeLockContention     ErrorCode = "lock contention"
	ErrCodeClassifierMiss     ErrorCode = "classifier miss"
	ErrCodeScheduleCancelled  ErrorCode = "schedule cancelled"
	ErrCodeAllocationFailed   ErrorCode = "allocation failed"
	ErrCodeLoadTimeout        ErrorCode = "load timeout"
	ErrCodeWorkerInitTimeout  ErrorCode = "worker init timeout"
	ErrCodeDecodeFailure      ErrorCode = "decode failure"
	ErrCodeStateMisuse        ErrorCode = "state misuse"
	ErrCodeRecordTooLarge     ErrorCode = "record too large"
)

// Error constructors.

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewChannelError creates a new per-source channel error.
func NewChannelError(op string, sourceID uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, SourceID: sourceID, Code: code, Msg: msg}
}

// NewRingError creates a new per-ring error.
func NewRingError(op string, ring string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Ring: ring, Code: code, Msg: msg}
}

// NewSessionError creates a new per-session error (cancellation paths).
func NewSessionError(op string, sessionID uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, SessionID: sessionID, Code: code, Msg: msg}
}

// WrapError wraps an existing error with supersonic context, preserving
// the original's code/ring/source when it is already structured.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if se, ok := inner.(*Error); ok {
		return &Error{
			Op:        op,
			SourceID:  se.SourceID,
			Ring:      se.Ring,
			SessionID: se.SessionID,
			Code:      se.Code,
			Msg:       se.Msg,
			Inner:     se.Inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  ErrCodeDecodeFailure,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
