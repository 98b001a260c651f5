package platform

import (
	"context"
	"sort"
	"sync"

	"github.com/JohanCodinha/reportsync/internal/logger"
)

// Local is an in-process Platform. Connectivity is pushed in with SetOnline
// (by the control API or tests); registered tags fire once when the host
// next goes online, then are dropped.
type Local struct {
	mu       sync.Mutex
	online   bool
	active   bool
	ready    chan struct{}
	tags     map[string]struct{}
	nextID   int
	onChange map[int]func(bool)
	onSync   map[int]func(context.Context, string)
}

var _ Platform = (*Local)(nil)

// NewLocal returns a Local platform with the given initial connectivity.
// The background worker starts not ready; call MarkReady once it is.
func NewLocal(online bool) *Local {
	return &Local{
		online:   online,
		ready:    make(chan struct{}),
		tags:     make(map[string]struct{}),
		onChange: make(map[int]func(bool)),
		onSync:   make(map[int]func(context.Context, string)),
	}
}

// MarkReady signals that the background worker is running.
func (l *Local) MarkReady() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		return
	}
	l.active = true
	close(l.ready)
}

func (l *Local) Online() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.online
}

// SetOnline records a connectivity transition, notifies listeners and, when
// going online, fires every registered sync tag.
func (l *Local) SetOnline(ctx context.Context, online bool) {
	l.mu.Lock()
	if l.online == online {
		l.mu.Unlock()
		return
	}
	l.online = online
	listeners := make([]func(bool), 0, len(l.onChange))
	for _, fn := range l.onChange {
		listeners = append(listeners, fn)
	}
	l.mu.Unlock()

	logger.Debug("platform: connectivity changed online=%v", online)
	for _, fn := range listeners {
		fn(online)
	}
	if online {
		l.FlushSync(ctx)
	}
}

func (l *Local) OnConnectivityChange(fn func(online bool)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.onChange[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.onChange, id)
	}
}

func (l *Local) SyncActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Local) WaitReady(ctx context.Context) error {
	select {
	case <-l.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Local) SyncTags(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tags := make([]string, 0, len(l.tags))
	for tag := range l.tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

func (l *Local) RegisterSync(ctx context.Context, tag string) error {
	l.mu.Lock()
	l.tags[tag] = struct{}{}
	online := l.online
	l.mu.Unlock()

	if online {
		l.FlushSync(ctx)
	}
	return nil
}

func (l *Local) OnSync(fn func(ctx context.Context, tag string)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.onSync[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.onSync, id)
	}
}

// FlushSync fires and clears every registered tag. Tags stay registered when
// nobody is listening yet.
func (l *Local) FlushSync(ctx context.Context) {
	l.mu.Lock()
	if len(l.onSync) == 0 || len(l.tags) == 0 {
		l.mu.Unlock()
		return
	}
	tags := make([]string, 0, len(l.tags))
	for tag := range l.tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	l.tags = make(map[string]struct{})
	handlers := make([]func(context.Context, string), 0, len(l.onSync))
	for _, fn := range l.onSync {
		handlers = append(handlers, fn)
	}
	l.mu.Unlock()

	for _, tag := range tags {
		logger.Debug("platform: firing background sync tag=%s", tag)
		for _, fn := range handlers {
			fn(ctx, tag)
		}
	}
}
