package classifier

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoReasoner is returned by escalation when no reasoning service is configured.
var ErrNoReasoner = errors.New("no reasoning service configured")

// FieldError describes one invalid field of a reasoning-service reply.
type FieldError struct {
	Field  string
	Reason string
	Value  any
}

func (e FieldError) String() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Reason, e.Value)
}

// ValidationError is returned when the reasoning-service reply is malformed.
type ValidationError struct {
	Fields []FieldError
	Raw    string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return "invalid classifier response: " + e.Err.Error()
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return "invalid classifier response: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RateLimitError is returned when the limiter denies an escalation.
type RateLimitError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s (retry after %s)", e.Reason, e.RetryAfter)
}

// NetworkError wraps a transport failure or timeout talking to the
// reasoning service.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// FallbackReason labels why escalation did not produce a result.
func FallbackReason(err error) string {
	var (
		verr *ValidationError
		rerr *RateLimitError
		nerr *NetworkError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoReasoner):
		return "no_reasoner"
	case errors.As(err, &rerr):
		return "rate_limited"
	case errors.As(err, &verr):
		return "invalid_response"
	case errors.As(err, &nerr):
		return "network"
	}
	return "unknown"
}
