package background

import (
	"context"
	"errors"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JohanCodinha/reportsync/internal/connectivity"
	"github.com/JohanCodinha/reportsync/internal/platform"
	"github.com/JohanCodinha/reportsync/internal/remote"
	"github.com/JohanCodinha/reportsync/internal/sync"
)

type fakeEngine struct {
	mu        gosync.Mutex
	pending   int
	countErr  error
	results   []sync.Result
	syncErr   error
	batches   atomic.Int32
	triggered []string
	users     []string
}

func (f *fakeEngine) SyncPendingReports(ctx context.Context, userID string) ([]sync.Result, error) {
	f.batches.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return f.results, f.syncErr
}

func (f *fakeEngine) PendingCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, f.countErr
}

func (f *fakeEngine) TriggerSync(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, userID)
}

func (f *fakeEngine) triggers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.triggered...)
}

var _ Engine = (*sync.Engine)(nil)

// fakePlatform records how Register drives it.
type fakePlatform struct {
	platform.Noop
	active      bool
	readyErr    error
	tags        []string
	registered  []string
	registerErr error
	waitBudget  time.Duration
}

func (f *fakePlatform) SyncActive() bool { return f.active }

func (f *fakePlatform) WaitReady(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		f.waitBudget = time.Until(dl)
	}
	return f.readyErr
}

func (f *fakePlatform) SyncTags(context.Context) ([]string, error) { return f.tags, nil }

func (f *fakePlatform) RegisterSync(ctx context.Context, tag string) error {
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered = append(f.registered, tag)
	f.tags = append(f.tags, tag)
	return nil
}

func TestTrigger_Register(t *testing.T) {
	tests := []struct {
		name           string
		platform       *fakePlatform
		want           bool
		wantRegistered int
		wantBudget     time.Duration
	}{
		{
			name:           "cold worker waits longer",
			platform:       &fakePlatform{},
			want:           true,
			wantRegistered: 1,
			wantBudget:     coldReadyWait,
		},
		{
			name:           "active worker fast path",
			platform:       &fakePlatform{active: true},
			want:           true,
			wantRegistered: 1,
			wantBudget:     activeReadyWait,
		},
		{
			name:           "already registered",
			platform:       &fakePlatform{active: true, tags: []string{SyncTag}},
			want:           true,
			wantRegistered: 0,
			wantBudget:     activeReadyWait,
		},
		{
			name:       "not ready",
			platform:   &fakePlatform{readyErr: context.DeadlineExceeded},
			want:       false,
			wantBudget: coldReadyWait,
		},
		{
			name:       "registration refused",
			platform:   &fakePlatform{active: true, registerErr: errors.New("denied")},
			want:       false,
			wantBudget: activeReadyWait,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig := NewTrigger(tt.platform)
			if got := trig.Register(context.Background()); got != tt.want {
				t.Errorf("Register() = %v, want %v", got, tt.want)
			}
			if len(tt.platform.registered) != tt.wantRegistered {
				t.Errorf("registered = %v", tt.platform.registered)
			}
			if b := tt.platform.waitBudget; b > tt.wantBudget || b < tt.wantBudget-200*time.Millisecond {
				t.Errorf("readiness wait = %s, want about %s", b, tt.wantBudget)
			}
		})
	}
}

func TestTrigger_UnsupportedPlatformIsNonFatal(t *testing.T) {
	trig := NewTrigger(platform.Noop{})
	trig.slowWait = 10 * time.Millisecond
	if trig.Register(context.Background()) {
		t.Error("Register() on a platform without background sync should return false")
	}
}

func TestTrigger_FiresBackgroundSync(t *testing.T) {
	ctx := context.Background()
	p := platform.NewLocal(false)
	p.MarkReady()
	sessions := remote.NewSessionStore(remote.Session{URL: "http://backend", APIKey: "anon", UserID: "user-1"})
	engine := &fakeEngine{results: []sync.Result{{Success: true}, {Success: false}}}

	trig := NewTrigger(p)
	trig.Listen(NewChannel(sessions, nil, engine))
	defer trig.Close()

	if !trig.Register(ctx) {
		t.Fatal("Register() = false")
	}
	if engine.batches.Load() != 0 {
		t.Fatal("sync should wait until online")
	}

	p.SetOnline(ctx, true)
	if got := engine.batches.Load(); got != 1 {
		t.Fatalf("batches = %d, want 1", got)
	}
	if engine.users[0] != "user-1" {
		t.Errorf("user = %q", engine.users[0])
	}

	// The tag fired once; a later transition does nothing.
	p.SetOnline(ctx, false)
	p.SetOnline(ctx, true)
	if got := engine.batches.Load(); got != 1 {
		t.Errorf("batches = %d after re-connect, want 1", got)
	}
}

func TestChannel_UpdateConfig(t *testing.T) {
	ctx := context.Background()
	sessions := remote.NewSessionStore(remote.Session{})
	engine := &fakeEngine{}
	ch := NewChannel(sessions, nil, engine)

	reply, err := ch.Handle(ctx, Message{Type: MessageUpdateConfig, Config: &remote.Session{
		URL: "http://backend", APIKey: "anon", AuthToken: "tok-1", UserID: "user-1",
	}})
	if err != nil || reply != nil {
		t.Fatalf("Handle() = %v, %v", reply, err)
	}
	if got := sessions.Current(); got.AuthToken != "tok-1" || got.UserID != "user-1" {
		t.Errorf("session = %+v", got)
	}
	if got := engine.triggers(); len(got) != 1 || got[0] != "user-1" {
		t.Errorf("triggers = %v", got)
	}

	// Same credentials again: no new sync.
	ch.Handle(ctx, Message{Type: MessageUpdateConfig, Config: &remote.Session{AuthToken: "tok-1"}})
	if got := engine.triggers(); len(got) != 1 {
		t.Errorf("triggers = %v, want unchanged", got)
	}

	if _, err := ch.Handle(ctx, Message{Type: MessageUpdateConfig}); !errors.Is(err, ErrMissingConfig) {
		t.Errorf("missing config error = %v", err)
	}
	if _, err := ch.Handle(ctx, Message{Type: "PING"}); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("unknown type error = %v", err)
	}
}

func TestChannel_RequestConfig(t *testing.T) {
	ctx := context.Background()
	sessions := remote.NewSessionStore(remote.Session{})
	engine := &fakeEngine{}

	calls := 0
	source := SessionSourceFunc(func(context.Context) (remote.Session, error) {
		calls++
		return remote.Session{URL: "http://backend", APIKey: "anon", AuthToken: "tok", UserID: "u"}, nil
	})
	ch := NewChannel(sessions, source, engine)

	reply, err := ch.Handle(ctx, Message{Type: MessageRequestConfig})
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if reply == nil || reply.Type != MessageUpdateConfig || reply.Config.URL != "http://backend" {
		t.Errorf("reply = %+v", reply)
	}
	if calls != 1 || sessions.Current().AuthToken != "tok" {
		t.Errorf("calls = %d, session = %+v", calls, sessions.Current())
	}

	noSource := NewChannel(remote.NewSessionStore(remote.Session{}), nil, engine)
	if _, err := noSource.Handle(ctx, Message{Type: MessageRequestConfig}); !errors.Is(err, ErrMissingConfig) {
		t.Errorf("error = %v, want ErrMissingConfig", err)
	}
}

func TestChannel_SyncNow(t *testing.T) {
	ctx := context.Background()

	t.Run("without config", func(t *testing.T) {
		engine := &fakeEngine{}
		ch := NewChannel(remote.NewSessionStore(remote.Session{}), nil, engine)
		reply, err := ch.Handle(ctx, Message{Type: MessageSyncNow})
		if err != nil {
			t.Fatal(err)
		}
		if reply.Type != MessageSyncComplete || reply.Result.Success || reply.Result.Error != "Configuration missing" {
			t.Errorf("reply = %+v", reply.Result)
		}
		if engine.batches.Load() != 0 {
			t.Error("no batch should run without config")
		}
	})

	t.Run("counts outcomes", func(t *testing.T) {
		engine := &fakeEngine{results: []sync.Result{{Success: true}, {Success: true}, {Success: false}}}
		ch := NewChannel(remote.NewSessionStore(remote.Session{URL: "u", APIKey: "k"}), nil, engine)
		reply, _ := ch.Handle(ctx, Message{Type: MessageSyncNow})
		if got := *reply.Result; got != (Summary{Success: true, Synced: 2, Failed: 1}) {
			t.Errorf("summary = %+v", got)
		}
	})

	t.Run("engine error", func(t *testing.T) {
		engine := &fakeEngine{syncErr: errors.New("store down")}
		ch := NewChannel(remote.NewSessionStore(remote.Session{URL: "u", APIKey: "k"}), nil, engine)
		reply, _ := ch.Handle(ctx, Message{Type: MessageSyncNow})
		if reply.Result.Success || reply.Result.Error != "store down" {
			t.Errorf("summary = %+v", reply.Result)
		}
	})
}

func TestAutoSync_Evaluate(t *testing.T) {
	ctx := context.Background()
	sessions := remote.NewSessionStore(remote.Session{UserID: "user-7"})

	t.Run("offline does nothing", func(t *testing.T) {
		engine := &fakeEngine{pending: 2}
		a := NewAutoSync(engine, sessions)
		if a.Evaluate(ctx, false) || engine.batches.Load() != 0 {
			t.Error("should not sync while offline")
		}
	})

	t.Run("empty queue keeps the flag", func(t *testing.T) {
		engine := &fakeEngine{}
		a := NewAutoSync(engine, sessions)
		if a.Evaluate(ctx, true) {
			t.Error("should not sync an empty queue")
		}
		if a.Fired() {
			t.Error("flag should stay unset so a later report still auto-syncs")
		}

		engine.mu.Lock()
		engine.pending = 1
		engine.mu.Unlock()
		if !a.Evaluate(ctx, true) {
			t.Error("should sync once a report is queued")
		}
	})

	t.Run("fires once", func(t *testing.T) {
		engine := &fakeEngine{pending: 3}
		a := NewAutoSync(engine, sessions)
		for i := 0; i < 5; i++ {
			a.Evaluate(ctx, true)
		}
		if got := engine.batches.Load(); got != 1 {
			t.Errorf("batches = %d, want 1", got)
		}
		if engine.users[0] != "user-7" {
			t.Errorf("user = %q", engine.users[0])
		}
	})

	t.Run("count failure", func(t *testing.T) {
		engine := &fakeEngine{countErr: errors.New("boom")}
		a := NewAutoSync(engine, sessions)
		if a.Evaluate(ctx, true) || a.Fired() {
			t.Error("count failure should not consume the one-shot")
		}
	})
}

func TestAutoSync_WatchMonitor(t *testing.T) {
	ctx := context.Background()
	p := platform.NewLocal(false)
	m := connectivity.New(p, nil, time.Second)
	defer m.Close()

	engine := &fakeEngine{pending: 1}
	a := NewAutoSync(engine, remote.NewSessionStore(remote.Session{}))
	unsubscribe := a.Watch(ctx, m)
	defer unsubscribe()

	p.SetOnline(ctx, true)

	deadline := time.Now().Add(2 * time.Second)
	for engine.batches.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := engine.batches.Load(); got != 1 {
		t.Fatalf("batches = %d, want 1", got)
	}

	p.SetOnline(ctx, false)
	p.SetOnline(ctx, true)
	time.Sleep(50 * time.Millisecond)
	if got := engine.batches.Load(); got != 1 {
		t.Errorf("batches = %d after reconnect, want 1", got)
	}
}

func TestRefresher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	pushed := make(chan struct{}, 8)
	source := SessionSourceFunc(func(context.Context) (remote.Session, error) {
		n := calls.Add(1)
		pushed <- struct{}{}
		return remote.Session{URL: "http://backend", APIKey: "anon", AuthToken: "tok", UserID: string(rune('a' + n))}, nil
	})
	engine := &fakeEngine{}
	sessions := remote.NewSessionStore(remote.Session{})
	r := NewRefresher(NewChannel(sessions, source, engine), time.Hour)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitPush := func() {
		t.Helper()
		select {
		case <-pushed:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a session push")
		}
	}
	waitPush() // initial push
	r.Refresh()
	waitPush()

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("source calls = %d, want 2", got)
	}
	if got := len(engine.triggers()); got != 2 {
		t.Errorf("syncs triggered = %d, want 2 (user changed each time)", got)
	}
}

func TestNewRefresher_DefaultInterval(t *testing.T) {
	r := NewRefresher(nil, 0)
	if r.interval != DefaultRefreshInterval {
		t.Errorf("interval = %s", r.interval)
	}
}
