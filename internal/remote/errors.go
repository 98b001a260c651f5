package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrVerificationRejected means the verifier answered but the content does not match the category.
	ErrVerificationRejected = errors.New("verification rejected")
	// ErrAuthExpired means the session is missing or no longer accepted.
	ErrAuthExpired = errors.New("auth expired")
	// ErrUpstreamOverloaded covers 429, 502 and 503 from the verification service.
	ErrUpstreamOverloaded = errors.New("upstream overloaded")
	// ErrVerificationFailed is any other verification failure, including timeouts.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrSubmission means the issue could not be created on the backend.
	ErrSubmission = errors.New("submission failed")
	// ErrGeocodingUnavailable is returned for every geocoding failure.
	ErrGeocodingUnavailable = errors.New("geocoding unavailable")
)

const (
	msgSessionExpired   = "Your session has expired. Please sign in again and try submitting your report."
	msgOverloaded       = "The AI service is currently overloaded with too many requests. Please try again in a few minutes."
	msgGatewayDown      = "The AI verification service is temporarily unavailable. Please try again in a few minutes."
	msgServiceDown      = "The verification service is temporarily unavailable. Please try again later."
	msgTooManyRequests  = "Too many requests. Please wait a few minutes before trying again."
	msgServerError      = "The verification service encountered an error. Please try again in a moment."
	msgTimeout          = "The verification request timed out. Please check your connection and try again."
	msgNoResponse       = "No response from verification service."
	msgSubmissionFailed = "Failed to create issue on the server. Please try again later."
)

// Error is a classified remote failure. Kind is one of the sentinels above and
// Message is safe to show to the reporter.
type Error struct {
	Kind       error
	StatusCode int
	Message    string
	Detail     string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v (status %d): %s", e.Kind, e.StatusCode, e.detail())
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.detail())
}

func (e *Error) detail() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// UserMessage returns the reporter-facing text for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var remoteErr *Error
	if errors.As(err, &remoteErr) && remoteErr.Message != "" {
		return remoteErr.Message
	}
	switch {
	case errors.Is(err, ErrAuthExpired):
		return msgSessionExpired
	case errors.Is(err, ErrUpstreamOverloaded):
		return msgOverloaded
	case errors.Is(err, ErrSubmission):
		return msgSubmissionFailed
	}
	return err.Error()
}
