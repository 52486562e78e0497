package nwis

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Classification buckets a fetch failure for retry and outcome reporting.
type Classification int

const (
	// Transient errors (timeouts, 5xx, throttling) are retried locally.
	Transient Classification = iota
	// Permanent errors (discontinued station, malformed site id) are
	// returned immediately without retry.
	Permanent
	// Validation errors mean the payload shape was unexpected.
	Validation
)

// String returns the classification name used in outcome records.
func (c Classification) String() string {
	switch c {
	case Transient:
		return "network"
	case Permanent:
		return "permanent"
	case Validation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a classified fetch failure.
type Error struct {
	Class      Classification
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("nwis: %s (status %d)", e.Message, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("nwis: %s: %v", e.Message, e.Err)
	}
	return "nwis: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a fetch error worth retrying.
func IsTransient(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class == Transient
	}
	return false
}

// ClassifyStatus maps an upstream HTTP status to an error classification.
// 5xx and 429 are transient; every other non-2xx status is permanent.
func ClassifyStatus(code int) Classification {
	if code >= 500 || code == 429 {
		return Transient
	}
	return Permanent
}

func classifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Class: Transient, Message: "request timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Class: Transient, Message: "request timed out", Err: err}
	}
	return &Error{Class: Transient, Message: "request failed", Err: err}
}
