// Package background connects the sync engine to the host's background sync
// facility: tag registration, the one-shot auto-sync policy, the config
// message channel and the periodic credential refresh.
package background

import (
	"context"
	"slices"
	"time"

	"github.com/JohanCodinha/reportsync/internal/logger"
	"github.com/JohanCodinha/reportsync/internal/platform"
)

// SyncTag is the background sync tag for queued reports.
const SyncTag = "sync-pending-reports"

const (
	activeReadyWait = 1 * time.Second
	coldReadyWait   = 2 * time.Second
)

// Trigger registers the background sync tag and runs the queue when it fires.
type Trigger struct {
	platform   platform.Platform
	fastWait   time.Duration
	slowWait   time.Duration
	stopFiring func()
}

// NewTrigger returns a Trigger that registers background syncs with p.
func NewTrigger(p platform.Platform) *Trigger {
	return &Trigger{platform: p, fastWait: activeReadyWait, slowWait: coldReadyWait}
}

// Register asks the platform to fire SyncTag when it is next online. It
// returns false when registration was not possible; the report stays queued
// either way.
func (t *Trigger) Register(ctx context.Context) bool {
	wait := t.slowWait
	if t.platform.SyncActive() {
		wait = t.fastWait
	}

	readyCtx, cancel := context.WithTimeout(ctx, wait)
	err := t.platform.WaitReady(readyCtx)
	cancel()
	if err != nil {
		logger.Warn("background: worker not ready after %s: %v", wait, err)
		return false
	}

	tags, err := t.platform.SyncTags(ctx)
	if err != nil {
		logger.Warn("background: failed to list sync tags: %v", err)
		return false
	}
	if slices.Contains(tags, SyncTag) {
		return true
	}

	if err := t.platform.RegisterSync(ctx, SyncTag); err != nil {
		logger.Warn("background: failed to register sync: %v", err)
		return false
	}
	logger.Debug("background: registered sync tag %s", SyncTag)
	return true
}

// Listen runs a background sync through ch whenever SyncTag fires.
func (t *Trigger) Listen(ch *Channel) {
	if t.stopFiring != nil {
		t.stopFiring()
	}
	t.stopFiring = t.platform.OnSync(func(ctx context.Context, tag string) {
		if tag != SyncTag {
			return
		}
		summary := ch.RunBackgroundSync(ctx)
		if !summary.Success {
			logger.Warn("background: sync did not run: %s", summary.Error)
			return
		}
		logger.Info("background: sync complete, %d synced, %d failed", summary.Synced, summary.Failed)
	})
}

// Close stops listening for fired tags.
func (t *Trigger) Close() {
	if t.stopFiring != nil {
		t.stopFiring()
		t.stopFiring = nil
	}
}
