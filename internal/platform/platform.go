// Package platform isolates the host facilities the sync core depends on:
// connectivity events and a one-shot background sync registry.
package platform

import (
	"context"
	"errors"
)

// ErrUnsupported is returned when the host has no background sync facility.
var ErrUnsupported = errors.New("background sync not supported")

// Platform is the host environment seen by the connectivity monitor and the background trigger.
type Platform interface {
	// Online is the host's own connectivity flag. It can be wrong in the optimistic direction.
	Online() bool
	// OnConnectivityChange registers fn for online/offline transitions.
	OnConnectivityChange(fn func(online bool)) (unsubscribe func())

	// SyncActive reports whether the background worker is already running.
	SyncActive() bool
	// WaitReady blocks until the background worker is ready or ctx ends.
	WaitReady(ctx context.Context) error
	// SyncTags lists the currently registered background sync tags.
	SyncTags(ctx context.Context) ([]string, error)
	// RegisterSync asks the host to fire tag the next time it is online.
	RegisterSync(ctx context.Context, tag string) error
	// OnSync registers fn to run when a registered tag fires.
	OnSync(fn func(ctx context.Context, tag string)) (unsubscribe func())
}

// Noop is a Platform without background sync that always reports online.
type Noop struct{}

var _ Platform = Noop{}

func (Noop) Online() bool { return true }

func (Noop) OnConnectivityChange(func(bool)) func() { return func() {} }

func (Noop) SyncActive() bool { return false }

func (Noop) WaitReady(context.Context) error { return ErrUnsupported }

func (Noop) SyncTags(context.Context) ([]string, error) { return nil, ErrUnsupported }

func (Noop) RegisterSync(context.Context, string) error { return ErrUnsupported }

func (Noop) OnSync(func(context.Context, string)) func() { return func() {} }
