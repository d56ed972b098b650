package models

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind classifies why a dispatch, or one attempt within it, failed.
type FailureKind string

const (
	// Surfaced to callers.
	KindInvalidInput        FailureKind = "invalid_input"
	KindThrottled           FailureKind = "throttled"
	KindTimeout             FailureKind = "timeout"
	KindQuota               FailureKind = "quota"
	KindMalformedResponse   FailureKind = "malformed_response"
	KindAllTargetsExhausted FailureKind = "all_targets_exhausted"
	KindCanceled            FailureKind = "canceled"

	// Attempt-level only.
	KindTransport   FailureKind = "transport"   // connection refused, reset, DNS
	KindUpstream    FailureKind = "upstream"    // non-2xx other than quota
	KindUnsupported FailureKind = "unsupported" // target cannot serve the requested mode
)

// ErrEmptyChain is a configuration error: a dispatch needs at least one target.
var ErrEmptyChain = errors.New("fallback chain is empty")

// TargetError is returned by Generator adapters. Kind drives the fallback
// policy; Message is what operators see.
type TargetError struct {
	Kind    FailureKind
	Status  int // HTTP status, 0 when no response was received
	Message string
	Err     error
}

func (e *TargetError) Error() string {
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("status %d: %s", e.Status, msg)
	}
	if e.Err != nil {
		return string(e.Kind) + ": " + msg + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + msg
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// NewTargetError creates a typed adapter error.
func NewTargetError(kind FailureKind, status int, message string, err error) *TargetError {
	return &TargetError{Kind: kind, Status: status, Message: message, Err: err}
}

// ClassifyError maps any adapter error onto a FailureKind.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return ""
	}
	var te *TargetError
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}

// StatusOf returns the HTTP status carried by err, if any.
func StatusOf(err error) int {
	var te *TargetError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}
