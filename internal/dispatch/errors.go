package dispatch

import (
	"errors"
	"fmt"
)

// Reason classifies a failed dispatch.
type Reason string

// Dispatch failure reasons.
const (
	ReasonRateLimited         Reason = "rate_limited"
	ReasonProviderUnavailable Reason = "provider_unavailable"
	ReasonInvalidRecipient    Reason = "invalid_recipient"
)

// Error is returned by Dispatcher and Provider implementations when a message
// could not be delivered.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether sending the same message later may succeed.
func (e *Error) Retryable() bool {
	return e.Reason != ReasonInvalidRecipient
}

// NewError wraps err with a dispatch reason.
func NewError(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

// ReasonOf extracts the dispatch reason from err. Unclassified errors count as
// ProviderUnavailable.
func ReasonOf(err error) Reason {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	return ReasonProviderUnavailable
}

// IsRetryable reports whether err leaves the notification eligible for retry.
func IsRetryable(err error) bool {
	return ReasonOf(err) != ReasonInvalidRecipient
}
