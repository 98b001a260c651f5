package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JohanCodinha/reportsync/internal/logger"
	"github.com/JohanCodinha/reportsync/internal/remote"
	"github.com/JohanCodinha/reportsync/internal/store"
)

const (
	msgReportNotFound = "Report not found"
	msgNeedsAuthor    = "Offline report needs to be linked to a user before syncing"
)

// anyAttempts disables the snapshot check in process.
const anyAttempts = -1

// outcome is what a singleflight run hands back to every caller sharing it.
type outcome struct {
	result Result
	ran    bool
}

// runOne processes one report, collapsing concurrent calls for the same id
// into a single run. Listeners hear about the run once, from inside it.
func (e *Engine) runOne(ctx context.Context, id, userID string, expectAttempts int) (Result, bool) {
	v, _, shared := e.inflight.Do(id, func() (interface{}, error) {
		res, ran := e.process(ctx, id, userID, expectAttempts)
		if ran {
			e.notify(res)
		}
		return outcome{result: res, ran: ran}, nil
	})
	if shared {
		logger.Debug("sync: joined in-flight run for report %s", id)
	}
	out := v.(outcome)
	return out.result, out.ran
}

// process runs the state machine for one report. ran is false when the report
// was not touched: it is gone, or its attempt count no longer matches the
// snapshot the caller selected it from.
func (e *Engine) process(ctx context.Context, id, userID string, expectAttempts int) (Result, bool) {
	log := logger.With(logger.Fields{"report": id})

	r, err := e.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Result{ReportID: id, Error: msgReportNotFound, Kind: KindNotFound}, false
	}
	if err != nil {
		log.Error("sync: failed to load report: %v", err)
		return Result{ReportID: id, Error: messageFor(err), Kind: KindStorage}, true
	}
	if expectAttempts != anyAttempts && r.SyncAttempts != expectAttempts {
		log.Debug("sync: skipping report, attempts moved from %d to %d", expectAttempts, r.SyncAttempts)
		return Result{ReportID: id}, false
	}

	if r.SyncAttempts >= MaxSyncAttempts {
		e.discard(ctx, r)
		return Result{
			ReportID: id,
			Error:    fmt.Sprintf("Report exceeded %d sync attempts", MaxSyncAttempts),
			Kind:     KindExhausted,
			Attempt:  r.SyncAttempts,
		}, true
	}

	if err := e.store.UpdateStatus(ctx, id, store.StatusSyncing, ""); err != nil {
		log.Error("sync: failed to mark report syncing: %v", err)
		return Result{ReportID: id, Error: messageFor(err), Kind: kindOf(err), Attempt: r.SyncAttempts}, true
	}
	attempt := r.SyncAttempts + 1
	r.SyncAttempts = attempt
	r.SyncStatus = store.StatusSyncing

	// The outcome must be recorded even if the caller has gone away, or the
	// report stays claimed with its attempt spent.
	created, err := e.attempt(ctx, r, userID)
	if err == nil {
		if err := e.store.Delete(context.WithoutCancel(ctx), id); err != nil {
			log.Error("sync: submitted but failed to remove local copy: %v", err)
		}
		log.Info("sync: report submitted as %s on attempt %d", created.ID, attempt)
		return Result{ReportID: id, Success: true, Attempt: attempt, RemoteID: created.ID}, true
	}

	return e.fail(ctx, r, err), true
}

// attempt runs validate, verify, geocode and submit.
func (e *Engine) attempt(ctx context.Context, r *store.Report, userID string) (*remote.RemoteIssue, error) {
	if err := validateIssue(r.Issue); err != nil {
		return nil, err
	}
	category := MapCategory(r.Issue.Category)

	// Only the first photo is verified.
	if len(r.Photos) > 0 {
		first := r.Photos[0]
		verdict, err := e.verifier.Verify(ctx, remote.VerifyRequest{
			Photo:       first.Data,
			MimeType:    first.MimeType,
			Category:    category,
			Description: r.Issue.Description,
		})
		if err != nil {
			return nil, err
		}
		if !verdict.Verified {
			return nil, &messageError{kind: remote.ErrVerificationRejected, msg: rejectionMessage(verdict)}
		}
	}

	issue := remote.IssueInput{
		Title:       r.Issue.Title,
		Description: r.Issue.Description,
		Category:    category,
		Severity:    r.Issue.Severity,
		Address:     r.Issue.Address,
		Latitude:    r.Issue.Latitude,
		Longitude:   r.Issue.Longitude,
	}
	if addr := strings.TrimSpace(r.Issue.Address); addr != "" && e.geocoder != nil {
		coords, err := e.geocoder.Geocode(ctx, addr)
		if err != nil {
			logger.Warn("sync: geocoding failed for report %s, keeping stored coordinates: %v", r.ID, err)
		} else {
			issue.Latitude = coords.Latitude
			issue.Longitude = coords.Longitude
		}
	}

	author, err := e.resolveAuthor(ctx, r, userID)
	if err != nil {
		return nil, err
	}

	photos := make([]remote.Photo, len(r.Photos))
	for i, p := range r.Photos {
		photos[i] = remote.Photo{Filename: p.Filename, MimeType: p.MimeType, Data: p.Data}
	}
	return e.submitter.CreateIssue(ctx, issue, author, photos)
}

// resolveAuthor returns the id to submit under. A placeholder author is
// replaced by userID and the replacement is persisted first.
func (e *Engine) resolveAuthor(ctx context.Context, r *store.Report, userID string) (string, error) {
	if !r.IsOfflineAuthored() {
		return r.UserID, nil
	}
	if userID == "" || userID == store.OfflineUserID {
		return "", &messageError{kind: remote.ErrSubmission, msg: msgNeedsAuthor}
	}
	if err := e.store.Update(ctx, r.ID, store.ReportUpdate{UserID: &userID}); err != nil {
		return "", fmt.Errorf("failed to link report author: %w", err)
	}
	r.UserID = userID
	return userID, nil
}

// fail applies the retry policy after a failed attempt.
func (e *Engine) fail(ctx context.Context, r *store.Report, cause error) Result {
	ctx = context.WithoutCancel(ctx)
	msg := messageFor(cause)
	res := Result{ReportID: r.ID, Error: msg, Kind: kindOf(cause), Attempt: r.SyncAttempts}
	log := logger.With(logger.Fields{"report": r.ID, "attempt": r.SyncAttempts})

	if r.SyncAttempts < MaxSyncAttempts {
		if err := e.store.UpdateStatus(ctx, r.ID, store.StatusPending, msg); err != nil {
			log.Error("sync: failed to record failure: %v", err)
		}
		res.WillRetry = true
		log.Warn("sync: attempt failed, will retry: %s", msg)
		return res
	}

	if err := e.store.UpdateStatus(ctx, r.ID, store.StatusFailed, msg); err != nil {
		log.Error("sync: failed to mark report failed: %v", err)
	}
	r.SyncStatus = store.StatusFailed
	r.SyncError = msg
	e.discard(ctx, r)
	log.Warn("sync: giving up after %d attempts: %s", r.SyncAttempts, msg)
	return res
}

// discard archives (when configured) and deletes a report that will not be retried.
func (e *Engine) discard(ctx context.Context, r *store.Report) {
	ctx = context.WithoutCancel(ctx)
	if e.archiveDir != "" {
		if path, err := archiveReport(e.archiveDir, r, e.now()); err != nil {
			logger.Warn("sync: failed to archive report %s: %v", r.ID, err)
		} else {
			logger.Info("sync: archived report %s to %s", r.ID, path)
		}
	}
	if err := e.store.Delete(ctx, r.ID); err != nil {
		logger.Error("sync: failed to delete report %s: %v", r.ID, err)
	}
}

// rejectionMessage composes the text shown when verification rejects a report.
func rejectionMessage(v remote.VerifyResult) string {
	img := strings.TrimSpace(v.ImageError)
	desc := strings.TrimSpace(v.DescriptionError)

	var msg string
	switch {
	case img != "" && desc != "":
		msg = fmt.Sprintf("The image and description do not match the selected category. Image: %s. Description: %s", img, desc)
	case img != "":
		msg = "The image does not match the selected category. " + img
	case desc != "":
		msg = "The description does not match the selected category. " + desc
	default:
		msg = "The report does not match the selected category. Please update your image or description."
	}
	return strings.TrimSpace("Sync failed: " + msg)
}
