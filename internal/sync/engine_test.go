package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JohanCodinha/reportsync/internal/remote"
	"github.com/JohanCodinha/reportsync/internal/store"
)

func TestNewEngine(t *testing.T) {
	e := NewEngine(store.NewMemory(), newFakeVerifier(), nil, &fakeSubmitter{}, Options{})
	if e.debounce != DefaultDebounce {
		t.Errorf("debounce = %s, want %s", e.debounce, DefaultDebounce)
	}
	if e.now == nil {
		t.Error("clock should default to time.Now")
	}
	if e.IsSyncing() {
		t.Error("new engine should not be syncing")
	}
}

func TestSyncPendingReports_ProcessesInStoreOrder(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		r := potholeReport("user-1")
		r.CreatedAt = time.Date(2026, 1, 1, 0, 0, 3-i, 0, time.UTC)
		ids = append(ids, h.save(t, r))
	}

	results, err := h.engine.SyncPendingReports(ctx, "")
	if err != nil {
		t.Fatalf("SyncPendingReports() error: %v", err)
	}
	want := []string{ids[2], ids[1], ids[0]}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, res := range results {
		if res.ReportID != want[i] {
			t.Errorf("results[%d] = %s, want %s", i, res.ReportID, want[i])
		}
	}
}

func TestSyncPendingReports_ConcurrentBatchReturnsEmpty(t *testing.T) {
	h := newHarness(t, Options{})
	h.verifier.release = make(chan struct{})
	h.save(t, potholeReport("user-1"))
	ctx := context.Background()

	done := make(chan []Result, 1)
	go func() {
		results, _ := h.engine.SyncPendingReports(ctx, "")
		done <- results
	}()

	select {
	case <-h.verifier.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first batch never reached the verifier")
	}
	if !h.engine.IsSyncing() {
		t.Error("IsSyncing() = false during a batch")
	}

	second, err := h.engine.SyncPendingReports(ctx, "")
	if err != nil {
		t.Fatalf("second batch error: %v", err)
	}
	if second == nil || len(second) != 0 {
		t.Errorf("second batch = %#v, want empty non-nil slice", second)
	}

	close(h.verifier.release)
	first := <-done
	if len(first) != 1 || !first[0].Success {
		t.Errorf("first batch = %+v", first)
	}
	if h.engine.IsSyncing() {
		t.Error("IsSyncing() = true after the batch")
	}
	if got := h.verifier.calls.Load(); got != 1 {
		t.Errorf("verifier calls = %d, want 1", got)
	}
}

func TestSingleReportDuringBatchRunsOnce(t *testing.T) {
	h := newHarness(t, Options{})
	h.verifier.release = make(chan struct{})
	id := h.save(t, potholeReport("user-1"))
	ctx := context.Background()

	batchDone := make(chan []Result, 1)
	go func() {
		results, _ := h.engine.SyncPendingReports(ctx, "")
		batchDone <- results
	}()
	<-h.verifier.started

	singleDone := make(chan Result, 1)
	go func() {
		singleDone <- h.engine.SyncSingleReport(ctx, id, "")
	}()

	// Let the single call reach the in-flight group before releasing.
	time.Sleep(50 * time.Millisecond)
	close(h.verifier.release)

	single := <-singleDone
	batch := <-batchDone
	if !single.Success {
		t.Errorf("single = %+v, want success", single)
	}
	if len(batch) != 1 || !batch[0].Success {
		t.Errorf("batch = %+v", batch)
	}
	if got := h.verifier.calls.Load(); got != 1 {
		t.Errorf("verifier calls = %d, want 1", got)
	}
	if got := h.submitter.calls.Load(); got != 1 {
		t.Errorf("submitter calls = %d, want 1", got)
	}
	if got := len(h.events.all()); got != 1 {
		t.Errorf("listener events = %d, want 1", got)
	}
	h.assertGone(t, id)
}

func TestSyncPendingReports_Offline(t *testing.T) {
	h := newHarness(t, Options{})
	h.conn.online.Store(false)
	id := h.save(t, potholeReport("user-1"))

	results, err := h.engine.SyncPendingReports(context.Background(), "")
	if err != nil {
		t.Fatalf("SyncPendingReports() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want none while offline", results)
	}
	if h.verifier.calls.Load() != 0 {
		t.Error("offline batch should not call the verifier")
	}
	if r := h.get(t, id); r.SyncAttempts != 0 {
		t.Errorf("attempts = %d, want 0", r.SyncAttempts)
	}
}

func TestSyncPendingReports_PurgesSyncedMarkers(t *testing.T) {
	h := newHarness(t, Options{})
	stray := h.save(t, potholeReport("user-1"))
	if err := h.store.SetStatus(stray, store.StatusSynced, 1); err != nil {
		t.Fatal(err)
	}

	results, err := h.engine.SyncPendingReports(context.Background(), "")
	if err != nil {
		t.Fatalf("SyncPendingReports() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("synced record should not be processed, got %+v", results)
	}
	h.assertGone(t, stray)
}

func TestSyncPendingReports_StorageUnavailable(t *testing.T) {
	h := newHarness(t, Options{})
	h.store.FailWith = errors.New("disk gone")

	_, err := h.engine.SyncPendingReports(context.Background(), "")
	if !errors.Is(err, store.ErrStorageUnavailable) {
		t.Errorf("error = %v, want ErrStorageUnavailable", err)
	}
	if h.engine.IsSyncing() {
		t.Error("guard should be released after a failed batch")
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	h := newHarness(t, Options{})
	extra := newRecorder()
	unsubscribe := h.engine.Subscribe(ListenerFunc(extra.OnSyncResult))
	ctx := context.Background()

	first := h.save(t, potholeReport("user-1"))
	h.engine.SyncSingleReport(ctx, first, "")
	unsubscribe()
	second := h.save(t, potholeReport("user-1"))
	h.engine.SyncSingleReport(ctx, second, "")

	if got := extra.all(); len(got) != 1 || got[0].ReportID != first {
		t.Errorf("unsubscribed listener saw %+v", got)
	}
	if got := h.events.all(); len(got) != 2 {
		t.Errorf("remaining listener saw %d events, want 2", len(got))
	}
}

func TestRecover(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.save(t, potholeReport("user-1"))
	if err := h.store.SetStatus(id, store.StatusSyncing, 1); err != nil {
		t.Fatal(err)
	}

	n, err := h.engine.Recover(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recover() error: %v", err)
	}
	if n != 1 {
		t.Errorf("Recover() = %d, want 1", n)
	}
	if r := h.get(t, id); r.SyncStatus != store.StatusPending || r.SyncAttempts != 1 {
		t.Errorf("report = %s/%d, want pending/1", r.SyncStatus, r.SyncAttempts)
	}
}

func TestLinkOfflineReports(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	a := h.save(t, potholeReport(""))
	b := h.save(t, potholeReport(store.OfflineUserID))
	owned := h.save(t, potholeReport("someone-else"))

	n, err := h.engine.LinkOfflineReports(ctx, "user-9")
	if err != nil {
		t.Fatalf("LinkOfflineReports() error: %v", err)
	}
	if n != 2 {
		t.Errorf("linked = %d, want 2", n)
	}
	for _, id := range []string{a, b} {
		if got := h.get(t, id).UserID; got != "user-9" {
			t.Errorf("report %s UserID = %q", id, got)
		}
	}
	if got := h.get(t, owned).UserID; got != "someone-else" {
		t.Errorf("owned report relinked to %q", got)
	}

	if _, err := h.engine.LinkOfflineReports(ctx, store.OfflineUserID); err == nil {
		t.Error("linking to the placeholder should fail")
	}
}

func TestRetryFailedReports(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	fresh := h.save(t, potholeReport("user-1"))
	failing := h.save(t, potholeReport("user-1"))

	h.verifier.set(rejectImage("blurry"), nil)
	h.engine.SyncSingleReport(ctx, failing, "")
	h.verifier.set(remote.VerifyResult{Verified: true}, nil)

	results, err := h.engine.RetryFailedReports(ctx, "")
	if err != nil {
		t.Fatalf("RetryFailedReports() error: %v", err)
	}
	if len(results) != 1 || results[0].ReportID != failing || !results[0].Success {
		t.Errorf("results = %+v", results)
	}
	if r := h.get(t, fresh); r.SyncAttempts != 0 {
		t.Errorf("fresh report was attempted %d times", r.SyncAttempts)
	}
}

func TestPendingCountAndClearAll(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.save(t, potholeReport("user-1"))
	spent := h.save(t, potholeReport("user-1"))
	if err := h.store.SetStatus(spent, store.StatusFailed, MaxSyncAttempts); err != nil {
		t.Fatal(err)
	}

	n, err := h.engine.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() error: %v", err)
	}
	if n != 1 {
		t.Errorf("PendingCount() = %d, want 1", n)
	}

	cleared, err := h.engine.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll() error: %v", err)
	}
	if cleared != 2 {
		t.Errorf("ClearAll() = %d, want 2", cleared)
	}
}

func TestTriggerSync_Debounces(t *testing.T) {
	h := newHarness(t, Options{Debounce: 20 * time.Millisecond})
	h.save(t, potholeReport("user-1"))

	for i := 0; i < 5; i++ {
		h.engine.TriggerSync("")
	}

	res := h.events.wait(t)
	if !res.Success {
		t.Errorf("triggered run result = %+v", res)
	}
	time.Sleep(60 * time.Millisecond)
	if got := h.verifier.calls.Load(); got != 1 {
		t.Errorf("verifier calls = %d, want 1", got)
	}
}

func TestStop(t *testing.T) {
	h := newHarness(t, Options{Debounce: 20 * time.Millisecond})
	h.save(t, potholeReport("user-1"))

	h.engine.TriggerSync("")
	h.engine.Stop()
	h.engine.TriggerSync("")

	time.Sleep(80 * time.Millisecond)
	if got := h.verifier.calls.Load(); got != 0 {
		t.Errorf("verifier calls after Stop = %d, want 0", got)
	}
	// Stop is idempotent.
	h.engine.Stop()
}
