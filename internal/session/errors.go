package session

import (
	"fmt"

	"github.com/rtcbridge/sfuclient/internal/capture"
)

// PreconditionError reports an operation invoked on a session that lacks
// the identity or transport the operation requires. The session is left
// unchanged.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: invalid session state: %s", e.Op, e.Reason)
}

// SignalingError reports a dispatcher request the server rejected. The
// session's transport state may be left partially advanced; retry or
// teardown is the caller's call.
type SignalingError struct {
	Method string
	Err    error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling %s failed: %v", e.Method, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }

// CaptureError reports a failed device capture. It is raised before any
// track-collection mutation, so session state stays consistent.
type CaptureError struct {
	Kind capture.Kind
	Err  error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("failed to capture %s: %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
