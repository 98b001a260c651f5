package background

import (
	"context"
	"sync/atomic"

	"github.com/JohanCodinha/reportsync/internal/connectivity"
	"github.com/JohanCodinha/reportsync/internal/logger"
	"github.com/JohanCodinha/reportsync/internal/remote"
)

// AutoSync runs one batch per process the first time the device is online
// with something queued.
type AutoSync struct {
	engine   Engine
	sessions *remote.SessionStore
	fired    atomic.Bool
}

// NewAutoSync returns an AutoSync that syncs as the signed-in user from sessions.
func NewAutoSync(engine Engine, sessions *remote.SessionStore) *AutoSync {
	return &AutoSync{engine: engine, sessions: sessions}
}

// Evaluate runs the batch if the policy allows it and reports whether it did.
func (a *AutoSync) Evaluate(ctx context.Context, online bool) bool {
	if !online || a.fired.Load() {
		return false
	}

	n, err := a.engine.PendingCount(ctx)
	if err != nil {
		logger.Warn("autosync: failed to count pending reports: %v", err)
		return false
	}
	if n == 0 {
		return false
	}
	if !a.fired.CompareAndSwap(false, true) {
		return false
	}

	logger.Info("autosync: %d reports pending, starting sync", n)
	results, err := a.engine.SyncPendingReports(ctx, a.sessions.Current().UserID)
	if err != nil {
		logger.Error("autosync: sync failed: %v", err)
		return true
	}
	logger.Debug("autosync: processed %d reports", len(results))
	return true
}

// Fired reports whether the one-shot batch has run.
func (a *AutoSync) Fired() bool {
	return a.fired.Load()
}

// Watch evaluates the policy on every monitor state change.
func (a *AutoSync) Watch(ctx context.Context, m *connectivity.Monitor) (unsubscribe func()) {
	return m.Subscribe(func(s connectivity.State) {
		if s.Online && !a.fired.Load() {
			go a.Evaluate(ctx, true)
		}
	})
}
