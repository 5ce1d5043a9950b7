// Package flerr defines the FL Bridge Core error taxonomy (spec.md §7).
//
// Errors are distinguished by kind, not by a single enum: each kind is its
// own type implementing the shared protocolMarker interface so callers can
// classify with errors.As without a type switch over dozens of cases.
package flerr

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"
)

// protocolMarker is implemented by every FL Bridge error kind so IsBridgeError
// can classify an error chain without naming every concrete type.
type protocolMarker interface {
	error
	isBridge()
}

// TransportLostError indicates the MIDI endpoint disconnected mid-session.
type TransportLostError struct {
	Op  string
	Err error
}

func (e *TransportLostError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport lost: %s", e.Op)
	}
	return fmt.Sprintf("transport lost: %s: %v", e.Op, e.Err)
}
func (e *TransportLostError) Unwrap() error { return e.Err }
func (e *TransportLostError) isBridge()     {}

// EndpointMissingError indicates a named MIDI endpoint was not present at startup.
type EndpointMissingError struct {
	EndpointName string
	Err          error
}

func (e *EndpointMissingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("endpoint missing: %s", e.EndpointName)
	}
	return fmt.Sprintf("endpoint missing: %s: %v", e.EndpointName, e.Err)
}
func (e *EndpointMissingError) Unwrap() error { return e.Err }
func (e *EndpointMissingError) isBridge()     {}

// PayloadTooLargeError indicates an outbound payload or inbound accumulator
// exceeded the configured maximum.
type PayloadTooLargeError struct {
	Op       string
	Size     int
	MaxSize  int
	Inbound  bool
	ClientID byte
}

func (e *PayloadTooLargeError) Error() string {
	dir := "outbound"
	if e.Inbound {
		dir = "inbound"
	}
	return fmt.Sprintf("payload too large (%s): %s: %d > %d bytes (client %d)", dir, e.Op, e.Size, e.MaxSize, e.ClientID)
}
func (e *PayloadTooLargeError) isBridge() {}

// TimeoutError indicates a pending request's deadline elapsed before a response arrived.
type TimeoutError struct {
	Command  string
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout: %s (after %s)", e.Command, e.Duration)
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}
func (e *TimeoutError) Unwrap() error { return e.Err }
func (e *TimeoutError) isBridge()     {}

// CancelledError indicates the caller aborted a pending request.
type CancelledError struct {
	Command string
}

func (e *CancelledError) Error() string { return fmt.Sprintf("cancelled: %s", e.Command) }
func (e *CancelledError) isBridge()     {}

// UnknownCommandError indicates a command name not present in the executor's set.
type UnknownCommandError struct {
	Command string
}

func (e *UnknownCommandError) Error() string { return fmt.Sprintf("unknown command: %s", e.Command) }
func (e *UnknownCommandError) isBridge()     {}

// CommandFailedError wraps a host-reported status=error response.
type CommandFailedError struct {
	Command string
	Reason  string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command failed: %s: %s", e.Command, e.Reason)
}
func (e *CommandFailedError) isBridge() {}

// ParameterNotFoundError indicates directory resolution exhausted all tiers,
// including the post-discovery retry.
type ParameterNotFoundError struct {
	OwnerIndex int
	SlotIndex  int
	Query      string
}

func (e *ParameterNotFoundError) Error() string {
	return fmt.Sprintf("parameter not found: (%d,%d) %q", e.OwnerIndex, e.SlotIndex, e.Query)
}
func (e *ParameterNotFoundError) isBridge() {}

// HostUnsafeError indicates the host refused a write under current guards; retryable later.
type HostUnsafeError struct {
	Command string
	Reason  string
}

func (e *HostUnsafeError) Error() string {
	return fmt.Sprintf("host unsafe: %s: %s", e.Command, e.Reason)
}
func (e *HostUnsafeError) isBridge() {}

// ProtocolViolationError indicates an unparseable response after successful reassembly.
type ProtocolViolationError struct {
	Op  string
	Err error
}

func (e *ProtocolViolationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol violation: %s", e.Op)
	}
	return fmt.Sprintf("protocol violation: %s: %v", e.Op, e.Err)
}
func (e *ProtocolViolationError) Unwrap() error { return e.Err }
func (e *ProtocolViolationError) isBridge()     {}

// Constructors. Callers are expected to keep layering context with fmt.Errorf("...: %w", err)
// above these when useful.
func NewTransportLostError(op string, cause error) error { return &TransportLostError{Op: op, Err: cause} }
func NewEndpointMissingError(name string, cause error) error {
	return &EndpointMissingError{EndpointName: name, Err: cause}
}
func NewPayloadTooLargeError(op string, size, max int, inbound bool, clientID byte) error {
	return &PayloadTooLargeError{Op: op, Size: size, MaxSize: max, Inbound: inbound, ClientID: clientID}
}
func NewTimeoutError(command string, d time.Duration, cause error) error {
	return &TimeoutError{Command: command, Duration: d, Err: cause}
}
func NewCancelledError(command string) error { return &CancelledError{Command: command} }
func NewUnknownCommandError(command string) error {
	return &UnknownCommandError{Command: command}
}
func NewCommandFailedError(command, reason string) error {
	return &CommandFailedError{Command: command, Reason: reason}
}
func NewParameterNotFoundError(owner, slot int, query string) error {
	return &ParameterNotFoundError{OwnerIndex: owner, SlotIndex: slot, Query: query}
}
func NewHostUnsafeError(command, reason string) error {
	return &HostUnsafeError{Command: command, Reason: reason}
}
func NewProtocolViolationError(op string, cause error) error {
	return &ProtocolViolationError{Op: op, Err: cause}
}

// IsTimeout returns true if err is (or wraps) a TimeoutError or a context deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if stdErrors.As(err, &te) {
		return true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	if stdErrors.As(err, &toErr) && toErr.Timeout() {
		return true
	}
	return false
}

// IsBridgeError returns true if the error chain contains any FL Bridge error kind.
func IsBridgeError(err error) bool {
	if err == nil {
		return false
	}
	var pm protocolMarker
	return stdErrors.As(err, &pm)
}

// IsTransportLost reports whether err is (or wraps) a TransportLostError.
func IsTransportLost(err error) bool {
	var e *TransportLostError
	return stdErrors.As(err, &e)
}

// IsHostUnsafe reports whether err is (or wraps) a HostUnsafeError.
func IsHostUnsafe(err error) bool {
	var e *HostUnsafeError
	return stdErrors.As(err, &e)
}
