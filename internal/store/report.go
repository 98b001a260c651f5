// Package store provides durable local persistence for reports queued while offline.
package store

import (
	"errors"
	"time"
)

// OfflineUserID marks a report whose author was not known when it was created.
const OfflineUserID = "offline-user"

// Status is the sync lifecycle state of a queued report.
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
	// StatusSynced is never written by the sync pipeline; ClearTerminal purges it if it appears.
	StatusSynced Status = "synced"
)

var (
	// ErrNotFound is returned when no report exists with the given id.
	ErrNotFound = errors.New("report not found")
	// ErrStorageUnavailable wraps every failure of the underlying storage layer.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// IssueData is the payload destined for the remote issue backend.
type IssueData struct {
	Title       string  `json:"title" yaml:"title"`
	Description string  `json:"description" yaml:"description"`
	Category    string  `json:"category" yaml:"category"`
	Severity    string  `json:"severity" yaml:"severity"`
	Address     string  `json:"address" yaml:"address"`
	Latitude    float64 `json:"latitude" yaml:"latitude"`
	Longitude   float64 `json:"longitude" yaml:"longitude"`
}

// Photo is one attached image. Data is stored byte-for-byte.
type Photo struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"-"`
}

// Report is a queued report together with its sync bookkeeping.
type Report struct {
	ID              string
	Issue           IssueData
	Photos          []Photo
	UserID          string
	CreatedAt       time.Time
	SyncStatus      Status
	SyncAttempts    int
	LastSyncAttempt time.Time // zero until the first status write
	SyncError       string
}

// IsOfflineAuthored reports whether the report still carries the placeholder author.
func (r *Report) IsOfflineAuthored() bool {
	return r.UserID == "" || r.UserID == OfflineUserID
}

// PhotoBytes returns the total size of all attached photos.
func (r *Report) PhotoBytes() int {
	total := 0
	for _, p := range r.Photos {
		total += len(p.Data)
	}
	return total
}

// NewReport is the input to Save. Id, status and attempts are assigned by the store.
type NewReport struct {
	Issue  IssueData
	Photos []Photo
	UserID string
	// CreatedAt defaults to the current time when zero.
	CreatedAt time.Time
}

// ReportUpdate contains optional fields for a partial update.
// Nil fields are not updated.
type ReportUpdate struct {
	UserID *string
	Issue  *IssueData
	Photos *[]Photo
}

// Filter selects reports for List and Count. The zero Filter matches everything.
type Filter struct {
	Statuses []Status
	// MaxAttempts, when positive, keeps only reports with SyncAttempts < MaxAttempts.
	MaxAttempts int
	UserID      string
}

func (f Filter) matches(r *Report) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if r.SyncStatus == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.MaxAttempts > 0 && r.SyncAttempts >= f.MaxAttempts {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	return true
}

func copyPhotos(photos []Photo) []Photo {
	if photos == nil {
		return nil
	}
	out := make([]Photo, len(photos))
	for i, p := range photos {
		out[i] = Photo{
			Filename: p.Filename,
			MimeType: p.MimeType,
			Data:     append([]byte(nil), p.Data...),
		}
	}
	return out
}
