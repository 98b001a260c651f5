package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process report store with the same semantics as DB.
// It backs tests and --ephemeral runs.
type Memory struct {
	mu      sync.Mutex
	reports map[string]*Report
	order   []string
	now     func() time.Time

	// FailWith, when set, is returned (wrapped as ErrStorageUnavailable) by every call.
	FailWith error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		reports: make(map[string]*Report),
		now:     time.Now,
	}
}

func (m *Memory) fail(op string) error {
	if m.FailWith != nil {
		return storageErr(op, m.FailWith)
	}
	return nil
}

func cloneReport(r *Report) *Report {
	out := *r
	out.Photos = copyPhotos(r.Photos)
	return &out
}

func (m *Memory) Save(ctx context.Context, report NewReport) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("insert report"); err != nil {
		return "", err
	}

	createdAt := report.CreatedAt
	if createdAt.IsZero() {
		createdAt = m.now()
	}
	userID := report.UserID
	if userID == "" {
		userID = OfflineUserID
	}

	id := uuid.NewString()
	m.reports[id] = &Report{
		ID:         id,
		Issue:      report.Issue,
		Photos:     copyPhotos(report.Photos),
		UserID:     userID,
		CreatedAt:  createdAt.UTC(),
		SyncStatus: StatusPending,
	}
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) Get(ctx context.Context, id string) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("get report"); err != nil {
		return nil, err
	}

	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneReport(r), nil
}

// List returns matching reports ordered by creation time, then insertion order.
func (m *Memory) List(ctx context.Context, filter Filter) ([]Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("query reports"); err != nil {
		return nil, err
	}

	reports := []Report{}
	for _, id := range m.sortedIDs() {
		r := m.reports[id]
		if filter.matches(r) {
			reports = append(reports, *cloneReport(r))
		}
	}
	return reports, nil
}

// sortedIDs is a stable sort of insertion order by CreatedAt. Caller holds mu.
func (m *Memory) sortedIDs() []string {
	ids := append([]string(nil), m.order...)
	sort.SliceStable(ids, func(i, j int) bool {
		return m.reports[ids[i]].CreatedAt.Before(m.reports[ids[j]].CreatedAt)
	})
	return ids
}

func (m *Memory) Count(ctx context.Context, filter Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("count reports"); err != nil {
		return 0, err
	}

	n := 0
	for _, r := range m.reports {
		if filter.matches(r) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) UpdateStatus(ctx context.Context, id string, status Status, syncErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("update status"); err != nil {
		return err
	}

	r, ok := m.reports[id]
	if !ok {
		return ErrNotFound
	}
	r.SyncStatus = status
	r.LastSyncAttempt = m.now().UTC()
	if status == StatusSyncing {
		r.SyncAttempts++
	}
	if syncErr != "" {
		r.SyncError = syncErr
	}
	return nil
}

func (m *Memory) Update(ctx context.Context, id string, update ReportUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("update report"); err != nil {
		return err
	}

	r, ok := m.reports[id]
	if !ok {
		return ErrNotFound
	}
	if update.UserID != nil {
		r.UserID = *update.UserID
	}
	if update.Issue != nil {
		r.Issue = *update.Issue
	}
	if update.Photos != nil {
		r.Photos = copyPhotos(*update.Photos)
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete report"); err != nil {
		return err
	}
	m.remove(id)
	return nil
}

// remove drops id from the map and the order slice. Caller holds mu.
func (m *Memory) remove(id string) {
	if _, ok := m.reports[id]; !ok {
		return
	}
	delete(m.reports, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Memory) ClearTerminal(ctx context.Context) (int, error) {
	return m.removeMatching("delete reports", func(r *Report) bool { return r.SyncStatus == StatusSynced })
}

func (m *Memory) ClearAll(ctx context.Context) (int, error) {
	return m.removeMatching("delete reports", func(*Report) bool { return true })
}

func (m *Memory) ResetSyncing(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("reset syncing reports"); err != nil {
		return 0, err
	}

	n := 0
	for _, r := range m.reports {
		if r.SyncStatus != StatusSyncing {
			continue
		}
		if before.IsZero() || r.LastSyncAttempt.Before(before) {
			r.SyncStatus = StatusPending
			n++
		}
	}
	return n, nil
}

func (m *Memory) removeMatching(op string, match func(*Report) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(op); err != nil {
		return 0, err
	}

	var ids []string
	for id, r := range m.reports {
		if match(r) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		m.remove(id)
	}
	return len(ids), nil
}

// SetStatus overwrites a record's status and attempt count directly.
// Tests use it to plant states the pipeline never writes, such as synced.
func (m *Memory) SetStatus(id string, status Status, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reports[id]
	if !ok {
		return ErrNotFound
	}
	r.SyncStatus = status
	r.SyncAttempts = attempts
	return nil
}
