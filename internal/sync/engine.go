package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JohanCodinha/reportsync/internal/logger"
	"github.com/JohanCodinha/reportsync/internal/store"
)

// DefaultDebounce is the TriggerSync delay when Options.Debounce is zero.
const DefaultDebounce = 500 * time.Millisecond

// StaleClaimAge is how long a syncing claim must sit untouched before a
// process that shares the queue may treat it as abandoned.
const StaleClaimAge = 5 * time.Minute

// Options configures an Engine. The zero value is usable.
type Options struct {
	// Connectivity gates batch runs. Nil means always online.
	Connectivity Connectivity
	// ArchiveDir receives a markdown copy of every report dropped after its
	// last attempt. Empty disables archiving.
	ArchiveDir string
	Debounce   time.Duration
	// Now overrides the clock used for archive file names.
	Now func() time.Time
}

// Engine is the sync orchestrator. Construct one per process.
type Engine struct {
	store     Store
	verifier  Verifier
	geocoder  Geocoder
	submitter Submitter

	conn       Connectivity
	archiveDir string
	debounce   time.Duration
	now        func() time.Time

	syncing  atomic.Bool
	inflight singleflight.Group

	mu        gosync.Mutex
	listeners map[int]Listener
	nextID    int
	timer     *time.Timer
	stopped   bool
}

// NewEngine wires the store and gateways. geocoder may be nil.
func NewEngine(s Store, verifier Verifier, geocoder Geocoder, submitter Submitter, opts Options) *Engine {
	e := &Engine{
		store:      s,
		verifier:   verifier,
		geocoder:   geocoder,
		submitter:  submitter,
		conn:       opts.Connectivity,
		archiveDir: opts.ArchiveDir,
		debounce:   opts.Debounce,
		now:        opts.Now,
		listeners:  make(map[int]Listener),
	}
	if e.debounce <= 0 {
		e.debounce = DefaultDebounce
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// SyncPendingReports runs one batch over every eligible report, in store
// order, one at a time. It returns an empty slice without doing anything if a
// batch is already running or the device is offline.
func (e *Engine) SyncPendingReports(ctx context.Context, userID string) ([]Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		logger.Debug("sync: batch already in progress")
		return []Result{}, nil
	}
	defer e.syncing.Store(false)

	if e.conn != nil && !e.conn.Online(ctx) {
		logger.Info("sync: offline, skipping batch")
		return []Result{}, nil
	}

	reports, err := e.store.List(ctx, eligible)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reports: %w", err)
	}
	logger.Debug("sync: starting batch of %d reports", len(reports))

	results := make([]Result, 0, len(reports))
	for _, r := range reports {
		if err := ctx.Err(); err != nil {
			logger.Warn("sync: batch interrupted: %v", err)
			break
		}
		res, ran := e.runOne(ctx, r.ID, userID, r.SyncAttempts)
		if ran {
			results = append(results, res)
		}
	}

	if n, err := e.store.ClearTerminal(ctx); err != nil {
		logger.Warn("sync: failed to clear synced reports: %v", err)
	} else if n > 0 {
		logger.Warn("sync: purged %d reports left marked synced", n)
	}

	logger.Debug("sync: batch complete, %d processed", len(results))
	return results, nil
}

// SyncSingleReport runs the pipeline for one report regardless of a running
// batch. A run already in flight for the same id is joined, not repeated.
// A missing report yields a failed Result and no listener event.
func (e *Engine) SyncSingleReport(ctx context.Context, id, userID string) Result {
	res, _ := e.runOne(ctx, id, userID, anyAttempts)
	return res
}

// IsSyncing reports whether a batch is running.
func (e *Engine) IsSyncing() bool {
	return e.syncing.Load()
}

// Subscribe registers l for every pipeline outcome.
func (e *Engine) Subscribe(l Listener) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

func (e *Engine) notify(res Result) {
	e.mu.Lock()
	ls := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		ls = append(ls, l)
	}
	e.mu.Unlock()

	for _, l := range ls {
		l.OnSyncResult(res)
	}
}

// TriggerSync schedules a debounced batch run.
// Multiple calls within the debounce window reset the timer.
func (e *Engine) TriggerSync(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, func() {
		if _, err := e.SyncPendingReports(context.Background(), userID); err != nil {
			logger.Error("sync: triggered batch failed: %v", err)
		}
	})

	logger.Debug("sync: debounce timer started/reset (%s)", e.debounce)
}

// Stop cancels a pending TriggerSync. A batch already running is not interrupted.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.stopped = true
	logger.Debug("sync: engine stopped")
}

// Recover returns reports left in syncing by a crashed run to pending, then
// drops any report that has already used its last attempt. Only claims older
// than staleAfter are reset; zero resets every claim, which is safe only when
// no other process is syncing the same queue.
func (e *Engine) Recover(ctx context.Context, staleAfter time.Duration) (int, error) {
	var cutoff time.Time
	if staleAfter > 0 {
		cutoff = e.now().Add(-staleAfter)
	}
	n, err := e.store.ResetSyncing(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted reports: %w", err)
	}
	if n > 0 {
		logger.Info("sync: recovered %d interrupted reports", n)
	}

	reports, err := e.store.List(ctx, store.Filter{Statuses: []store.Status{store.StatusPending, store.StatusFailed}})
	if err != nil {
		return n, fmt.Errorf("failed to list recovered reports: %w", err)
	}
	for i := range reports {
		if r := &reports[i]; r.SyncAttempts >= MaxSyncAttempts {
			logger.Warn("sync: dropping report %s left with %d attempts", r.ID, r.SyncAttempts)
			e.discard(ctx, r)
		}
	}
	return n, nil
}

// LinkOfflineReports assigns userID to every report still carrying the
// offline placeholder and returns how many were linked.
func (e *Engine) LinkOfflineReports(ctx context.Context, userID string) (int, error) {
	if userID == "" || userID == store.OfflineUserID {
		return 0, fmt.Errorf("cannot link reports to %q", userID)
	}
	reports, err := e.store.List(ctx, store.Filter{UserID: store.OfflineUserID})
	if err != nil {
		return 0, fmt.Errorf("failed to list offline reports: %w", err)
	}

	linked := 0
	for _, r := range reports {
		if err := e.store.Update(ctx, r.ID, store.ReportUpdate{UserID: &userID}); err != nil {
			return linked, fmt.Errorf("failed to link report %s: %w", r.ID, err)
		}
		linked++
	}
	logger.Info("sync: linked %d offline reports to %s", linked, userID)
	return linked, nil
}

// RetryFailedReports re-runs every report that has failed at least once and
// still has attempts left.
func (e *Engine) RetryFailedReports(ctx context.Context, userID string) ([]Result, error) {
	reports, err := e.store.List(ctx, eligible)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed reports: %w", err)
	}

	results := []Result{}
	for _, r := range reports {
		if r.SyncStatus != store.StatusFailed && r.SyncError == "" {
			continue
		}
		if res, ran := e.runOne(ctx, r.ID, userID, r.SyncAttempts); ran {
			results = append(results, res)
		}
	}
	return results, nil
}

// PendingCount returns how many reports are still eligible for sync.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.store.Count(ctx, eligible)
}

// PendingReports lists every queued report in store order.
func (e *Engine) PendingReports(ctx context.Context) ([]store.Report, error) {
	return e.store.List(ctx, store.Filter{})
}

// ClearAll empties the queue.
func (e *Engine) ClearAll(ctx context.Context) (int, error) {
	return e.store.ClearAll(ctx)
}
