package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies per-platform publish failures. The retry policy
// treats transient kinds differently from permanent rejections.
type ErrorKind string

const (
	ErrKindTimeout         ErrorKind = "timeout"
	ErrKindRateLimited     ErrorKind = "rate_limited"
	ErrKindUnauthorized    ErrorKind = "unauthorized"
	ErrKindContentRejected ErrorKind = "content_rejected"
	ErrKindUnknown         ErrorKind = "unknown"
)

// PlatformError is a failure reported by (or on behalf of) one platform
// adapter. It is recorded per platform, never surfaced to the composer
// caller as a request error.
type PlatformError struct {
	Kind    ErrorKind
	Message string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Transient reports whether the failure is safe for automatic retry.
func (e *PlatformError) Transient() bool {
	switch e.Kind {
	case ErrKindTimeout, ErrKindRateLimited, ErrKindUnknown:
		return true
	}
	return false
}

// ClassifyPlatformError normalizes an adapter error into a PlatformError.
// Context deadline expirations become the timeout kind so retry policy
// can distinguish them from explicit platform rejections.
func ClassifyPlatformError(err error) *PlatformError {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &PlatformError{Kind: ErrKindTimeout, Message: err.Error()}
	}
	return &PlatformError{Kind: ErrKindUnknown, Message: err.Error()}
}

// Violation names one field of one platform's rule set the post does not
// satisfy.
type Violation struct {
	Platform string `json:"platform"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

// ValidationError blocks a post from leaving draft/pending. It carries
// every violation so the caller can fix all of them, or drop a platform,
// in one edit cycle.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s/%s: %s", v.Platform, v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ConsistencyError rejects an illegal state transition or an edit that
// would violate the lifecycle invariants. Never silently coerced.
type ConsistencyError struct {
	Op      string
	Status  PostStatus
	Message string
}

func (e *ConsistencyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s not allowed in status %s: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s not allowed in status %s", e.Op, e.Status)
}

// SchedulingConflict signals a stale reschedule attempt; the caller
// should re-read the post and retry.
type SchedulingConflict struct {
	Message string
}

func (e *SchedulingConflict) Error() string {
	return "scheduling conflict: " + e.Message
}

// ErrPostNotFound is returned by lookups against an unknown post id.
var ErrPostNotFound = errors.New("post not found")
