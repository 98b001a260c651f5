package sync

import (
	"errors"

	"github.com/JohanCodinha/reportsync/internal/remote"
	"github.com/JohanCodinha/reportsync/internal/store"
)

// ErrValidation means the report failed local checks; no network call was made.
var ErrValidation = errors.New("validation failed")

// Kind classifies why a sync attempt ended.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindVerificationRejected Kind = "verification_rejected"
	KindAuthExpired          Kind = "auth_expired"
	KindUpstreamOverloaded   Kind = "upstream_overloaded"
	KindVerificationFailed   Kind = "verification_failed"
	KindSubmission           Kind = "submission"
	KindStorage              Kind = "storage"
	KindNotFound             Kind = "not_found"
	KindExhausted            Kind = "exhausted"
)

// Result is the outcome of one pipeline run for one report.
type Result struct {
	ReportID  string `json:"reportId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Kind      Kind   `json:"kind,omitempty"`
	Attempt   int    `json:"attempt"`
	WillRetry bool   `json:"willRetry"`
	RemoteID  string `json:"remoteId,omitempty"`
}

// Listener receives every pipeline outcome.
type Listener interface {
	OnSyncResult(Result)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Result)

func (f ListenerFunc) OnSyncResult(r Result) { f(r) }

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, remote.ErrVerificationRejected):
		return KindVerificationRejected
	case errors.Is(err, remote.ErrAuthExpired):
		return KindAuthExpired
	case errors.Is(err, remote.ErrUpstreamOverloaded):
		return KindUpstreamOverloaded
	case errors.Is(err, remote.ErrVerificationFailed):
		return KindVerificationFailed
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrStorageUnavailable):
		return KindStorage
	default:
		return KindSubmission
	}
}

// messageFor is the text recorded on the report and shown to the reporter.
func messageFor(err error) string {
	var plain *messageError
	if errors.As(err, &plain) {
		return plain.msg
	}
	return remote.UserMessage(err)
}

// messageError carries a ready-to-display message and a kind sentinel.
type messageError struct {
	kind error
	msg  string
}

func (e *messageError) Error() string { return e.msg }

func (e *messageError) Unwrap() error { return e.kind }
