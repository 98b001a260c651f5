// Package sync drains the offline report queue: it validates, verifies,
// geocodes and submits each queued report under a bounded retry policy.
package sync

import (
	"context"
	"time"

	"github.com/JohanCodinha/reportsync/internal/remote"
	"github.com/JohanCodinha/reportsync/internal/store"
)

// MaxSyncAttempts bounds how many times a report is tried before it is dropped.
const MaxSyncAttempts = 3

// Store is the persistence the engine needs. *store.DB and *store.Memory implement it.
type Store interface {
	Get(ctx context.Context, id string) (*store.Report, error)
	List(ctx context.Context, filter store.Filter) ([]store.Report, error)
	Count(ctx context.Context, filter store.Filter) (int, error)
	UpdateStatus(ctx context.Context, id string, status store.Status, syncErr string) error
	Update(ctx context.Context, id string, update store.ReportUpdate) error
	Delete(ctx context.Context, id string) error
	ClearTerminal(ctx context.Context) (int, error)
	ClearAll(ctx context.Context) (int, error)
	ResetSyncing(ctx context.Context, before time.Time) (int, error)
}

// Verifier checks that a photo and description match the report category.
type Verifier interface {
	Verify(ctx context.Context, req remote.VerifyRequest) (remote.VerifyResult, error)
}

// Geocoder resolves an address. Failures never fail a sync.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (remote.Coordinates, error)
}

// Submitter creates the issue on the backend.
type Submitter interface {
	CreateIssue(ctx context.Context, issue remote.IssueInput, authorID string, photos []remote.Photo) (*remote.RemoteIssue, error)
}

// Connectivity reports whether a batch run is worth starting.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// eligible selects reports that may still be attempted.
var eligible = store.Filter{
	Statuses:    []store.Status{store.StatusPending, store.StatusFailed},
	MaxAttempts: MaxSyncAttempts,
}
