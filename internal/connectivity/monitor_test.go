package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JohanCodinha/reportsync/internal/platform"
)

func countingServer(status int, hits *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
}

func TestCheckConnection_ProbesOnce(t *testing.T) {
	var hits atomic.Int32
	server := countingServer(http.StatusOK, &hits)
	defer server.Close()

	m := New(platform.Noop{}, []string{server.URL}, time.Second)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !m.CheckConnection(context.Background()) {
				t.Error("CheckConnection() = false, want true")
			}
		}()
	}
	wg.Wait()
	m.CheckConnection(context.Background())

	if got := hits.Load(); got != 1 {
		t.Errorf("endpoint hit %d times, want 1", got)
	}
	if m.Probes() != 1 {
		t.Errorf("Probes() = %d, want 1", m.Probes())
	}

	state := m.State()
	if !state.Online || state.Quality != QualityGood || state.Checking {
		t.Errorf("state = %+v, want online/good/not checking", state)
	}
	if state.LastChecked.IsZero() {
		t.Error("LastChecked not set")
	}
}

func TestCheckConnection_FallsThroughEndpoints(t *testing.T) {
	var badHits, goodHits atomic.Int32
	bad := countingServer(http.StatusInternalServerError, &badHits)
	defer bad.Close()
	good := countingServer(http.StatusNoContent, &goodHits)
	defer good.Close()

	m := New(platform.Noop{}, []string{bad.URL, good.URL}, time.Second)
	if !m.CheckConnection(context.Background()) {
		t.Fatal("CheckConnection() = false, want true")
	}
	if badHits.Load() != 1 || goodHits.Load() != 1 {
		t.Errorf("hits bad=%d good=%d, want 1/1", badHits.Load(), goodHits.Load())
	}
}

func TestCheckConnection_AllFailIsOffline(t *testing.T) {
	var hits atomic.Int32
	bad := countingServer(http.StatusServiceUnavailable, &hits)
	defer bad.Close()

	m := New(platform.Noop{}, []string{bad.URL, "http://127.0.0.1:1"}, time.Second)
	if m.CheckConnection(context.Background()) {
		t.Fatal("CheckConnection() = true, want false")
	}
	if s := m.State(); s.Online || s.Quality != QualityOffline {
		t.Errorf("state = %+v, want offline", s)
	}
}

func TestCheckConnection_TimeoutCountsAsFailure(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	m := New(platform.Noop{}, []string{slow.URL}, 30*time.Millisecond)
	if m.CheckConnection(context.Background()) {
		t.Error("CheckConnection() = true for a probe slower than the timeout")
	}
}

func TestCheckConnection_PlatformOfflineSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	server := countingServer(http.StatusOK, &hits)
	defer server.Close()

	p := platform.NewLocal(false)
	m := New(p, []string{server.URL}, time.Second)
	if m.CheckConnection(context.Background()) {
		t.Error("CheckConnection() = true while platform offline")
	}
	if hits.Load() != 0 {
		t.Errorf("endpoint hit %d times, want 0", hits.Load())
	}
}

func TestHandleConnectivityChange_KeepsProbeCache(t *testing.T) {
	var hits atomic.Int32
	server := countingServer(http.StatusOK, &hits)
	defer server.Close()

	p := platform.NewLocal(true)
	m := New(p, []string{server.URL}, time.Second)
	defer m.Close()

	var seen []State
	m.Subscribe(func(s State) { seen = append(seen, s) })

	m.CheckConnection(context.Background())
	p.SetOnline(context.Background(), false)

	if s := m.State(); s.Online || s.Quality != QualityOffline {
		t.Errorf("after offline event state = %+v", s)
	}

	p.SetOnline(context.Background(), true)
	if s := m.State(); !s.Online || s.Quality != QualityGood {
		t.Errorf("after online event state = %+v", s)
	}

	// The cached probe result survives events; no second probe runs.
	if !m.CheckConnection(context.Background()) {
		t.Error("cached CheckConnection result changed")
	}
	if hits.Load() != 1 {
		t.Errorf("endpoint hit %d times, want 1", hits.Load())
	}

	if len(seen) < 3 {
		t.Errorf("subscriber saw %d states, want at least 3", len(seen))
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	m := New(platform.Noop{}, nil, 0)
	calls := 0
	unsubscribe := m.Subscribe(func(State) { calls++ })

	m.HandleConnectivityChange(false)
	unsubscribe()
	m.HandleConnectivityChange(true)

	if calls != 1 {
		t.Errorf("subscriber called %d times, want 1", calls)
	}
}
