package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JohanCodinha/reportsync/internal/remote"
	"github.com/JohanCodinha/reportsync/internal/store"
)

var (
	_ Store = (*store.DB)(nil)
	_ Store = (*store.Memory)(nil)

	_ Verifier  = (*remote.Verifier)(nil)
	_ Geocoder  = (*remote.Geocoder)(nil)
	_ Submitter = (*remote.Submitter)(nil)
)

type fakeVerifier struct {
	mu       gosync.Mutex
	result   remote.VerifyResult
	err      error
	requests []remote.VerifyRequest
	calls    atomic.Int32

	// started receives once per call; release, when set, blocks each call until closed.
	started chan struct{}
	release chan struct{}
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{result: remote.VerifyResult{Verified: true}, started: make(chan struct{}, 16)}
}

func (f *fakeVerifier) Verify(ctx context.Context, req remote.VerifyRequest) (remote.VerifyResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	release := f.release
	result, err := f.result, f.err
	f.mu.Unlock()

	select {
	case f.started <- struct{}{}:
	default:
	}
	if release != nil {
		<-release
	}
	return result, err
}

func (f *fakeVerifier) set(result remote.VerifyResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result, f.err = result, err
}

func (f *fakeVerifier) lastRequest(t *testing.T) remote.VerifyRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("verifier was never called")
	}
	return f.requests[len(f.requests)-1]
}

type fakeGeocoder struct {
	coords remote.Coordinates
	err    error
	calls  atomic.Int32
}

func (f *fakeGeocoder) Geocode(ctx context.Context, address string) (remote.Coordinates, error) {
	f.calls.Add(1)
	return f.coords, f.err
}

type submission struct {
	issue  remote.IssueInput
	author string
	photos []remote.Photo
}

type fakeSubmitter struct {
	mu      gosync.Mutex
	err     error
	created []submission
	calls   atomic.Int32
}

func (f *fakeSubmitter) CreateIssue(ctx context.Context, issue remote.IssueInput, authorID string, photos []remote.Photo) (*remote.RemoteIssue, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, submission{issue: issue, author: authorID, photos: photos})
	return &remote.RemoteIssue{ID: fmt.Sprintf("remote-%d", n), ReporterID: authorID, Title: issue.Title}, nil
}

func (f *fakeSubmitter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSubmitter) last(t *testing.T) submission {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		t.Fatal("no issue was created")
	}
	return f.created[len(f.created)-1]
}

type fakeConn struct{ online atomic.Bool }

func (f *fakeConn) Online(ctx context.Context) bool { return f.online.Load() }

// recorder is a Listener that keeps every result.
type recorder struct {
	mu      gosync.Mutex
	results []Result
	ch      chan Result
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Result, 32)}
}

func (r *recorder) OnSyncResult(res Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	select {
	case r.ch <- res:
	default:
	}
}

func (r *recorder) all() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

func (r *recorder) wait(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-r.ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sync result")
		return Result{}
	}
}

type harness struct {
	store     *store.Memory
	verifier  *fakeVerifier
	geocoder  *fakeGeocoder
	submitter *fakeSubmitter
	conn      *fakeConn
	events    *recorder
	engine    *Engine
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		store:     store.NewMemory(),
		verifier:  newFakeVerifier(),
		geocoder:  &fakeGeocoder{err: remote.ErrGeocodingUnavailable},
		submitter: &fakeSubmitter{},
		conn:      &fakeConn{},
		events:    newRecorder(),
	}
	h.conn.online.Store(true)
	if opts.Connectivity == nil {
		opts.Connectivity = h.conn
	}
	h.engine = NewEngine(h.store, h.verifier, h.geocoder, h.submitter, opts)
	h.engine.Subscribe(h.events)
	t.Cleanup(h.engine.Stop)
	return h
}

// potholeReport is 19 title characters and 25 description characters with one photo.
func potholeReport(userID string) store.NewReport {
	return store.NewReport{
		Issue: store.IssueData{
			Title:       "Pothole on Main St",
			Description: "Deep hole by the bus stop",
			Category:    "pothole",
			Severity:    "high",
			Address:     "1 Main St",
			Latitude:    -37.81,
			Longitude:   144.96,
		},
		Photos: []store.Photo{{Filename: "hole.jpg", MimeType: "image/jpeg", Data: []byte{0xFF, 0xD8, 0xFF, 0xE0}}},
		UserID: userID,
	}
}

func (h *harness) save(t *testing.T, r store.NewReport) string {
	t.Helper()
	id, err := h.store.Save(context.Background(), r)
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	return id
}

func (h *harness) get(t *testing.T, id string) *store.Report {
	t.Helper()
	r, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) error: %v", id, err)
	}
	return r
}

func (h *harness) assertGone(t *testing.T, id string) {
	t.Helper()
	if _, err := h.store.Get(context.Background(), id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(%s) error = %v, want ErrNotFound", id, err)
	}
}

func rejectImage(msg string) remote.VerifyResult {
	return remote.VerifyResult{Verified: false, ImageError: msg}
}
