package broadcast

import (
	"errors"
	"fmt"
)

// Reason is a machine-readable code for a rejected broadcast request.
type Reason string

// Validation reasons.
const (
	ReasonInvalidAudience Reason = "invalid_audience"
	ReasonEmptyTitle      Reason = "empty_title"
	ReasonEmptyBody       Reason = "empty_body"
	ReasonTitleTooLong    Reason = "title_too_long"
	ReasonBodyTooLong     Reason = "body_too_long"
	ReasonInvalidURL      Reason = "invalid_url"
)

// ValidationError rejects a request before any side effect happens.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Validation errors.
var (
	ErrInvalidAudience = &ValidationError{Reason: ReasonInvalidAudience, Message: "unknown target audience"}
	ErrEmptyTitle      = &ValidationError{Reason: ReasonEmptyTitle, Message: "title is required"}
	ErrEmptyBody       = &ValidationError{Reason: ReasonEmptyBody, Message: "body is required"}
	ErrTitleTooLong    = &ValidationError{Reason: ReasonTitleTooLong, Message: fmt.Sprintf("title must be at most %d characters", MaxTitleLength)}
	ErrBodyTooLong     = &ValidationError{Reason: ReasonBodyTooLong, Message: fmt.Sprintf("body must be at most %d characters", MaxBodyLength)}
	ErrInvalidURL      = &ValidationError{Reason: ReasonInvalidURL, Message: "url must be an absolute http(s) URL or a path starting with /"}
)

// Infrastructure errors. A broadcast that hits one of these is reported as failed
// even if some pushes already went out.
var (
	ErrRecipientsUnavailable = errors.New("recipient directory unavailable")
	ErrHistoryUnavailable    = errors.New("broadcast history unavailable")
	ErrShuttingDown          = errors.New("broadcast service is shutting down")
)

// Collaborator errors.
var (
	ErrSubscriptionNotFound = errors.New("push subscription not found")
)

// SendErrorKind classifies a push transport failure.
type SendErrorKind string

// Send error kinds.
const (
	SendErrorSubscriptionGone SendErrorKind = "subscription_gone"
	SendErrorRateLimited      SendErrorKind = "rate_limited"
	SendErrorRejected         SendErrorKind = "rejected"
	SendErrorUnavailable      SendErrorKind = "unavailable"
	SendErrorNetwork          SendErrorKind = "network"
)

// SendError is returned by a PushTransport when the push service refuses a message.
type SendError struct {
	Kind       SendErrorKind
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("push error %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("push error (%s): %s", e.Kind, e.Message)
}

// IsRetryable reports whether a later attempt could succeed.
// Broadcasts never retry; the flag is kept for re-broadcast tooling.
func (e *SendError) IsRetryable() bool {
	switch e.Kind {
	case SendErrorRateLimited, SendErrorUnavailable, SendErrorNetwork:
		return true
	default:
		return false
	}
}

// Detail returns a short description that is safe to store in history.
func (e *SendError) Detail() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d)", e.Kind, e.StatusCode)
	}
	return string(e.Kind)
}
