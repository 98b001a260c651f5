// Package connectivity decides whether the device can reach the network by
// probing real endpoints rather than trusting the host's online flag.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JohanCodinha/reportsync/internal/logger"
	"github.com/JohanCodinha/reportsync/internal/platform"
)

// Quality is a coarse connection grade.
type Quality string

const (
	QualityGood    Quality = "good"
	QualityPoor    Quality = "poor"
	QualityOffline Quality = "offline"
)

// goodRTT is the round trip under which a probe counts as a good connection.
const goodRTT = 2 * time.Second

// DefaultEndpoints are independent, CORS-enabled URLs that answer 2xx to a plain GET.
var DefaultEndpoints = []string{
	"https://httpbin.org/status/200",
	"https://jsonplaceholder.typicode.com/posts/1",
}

// State is a snapshot of the monitor.
type State struct {
	Online      bool      `json:"online"`
	Quality     Quality   `json:"quality"`
	LastChecked time.Time `json:"lastChecked"`
	Checking    bool      `json:"checking"`
}

// Monitor tracks connectivity. The active probe runs at most once per Monitor;
// platform events keep the state current afterwards.
type Monitor struct {
	platform   platform.Platform
	endpoints  []string
	timeout    time.Duration
	httpClient *http.Client

	once   sync.Once
	result bool
	probes atomic.Int32

	mu          sync.Mutex
	state       State
	nextID      int
	subscribers map[int]func(State)
	unsubscribe func()
}

// New creates a monitor subscribed to p's connectivity events.
func New(p platform.Platform, endpoints []string, timeout time.Duration) *Monitor {
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	online := p.Online()
	quality := QualityGood
	if !online {
		quality = QualityOffline
	}

	m := &Monitor{
		platform:    p,
		endpoints:   endpoints,
		timeout:     timeout,
		httpClient:  &http.Client{},
		state:       State{Online: online, Quality: quality},
		subscribers: make(map[int]func(State)),
	}
	m.unsubscribe = p.OnConnectivityChange(m.HandleConnectivityChange)
	return m
}

// Close detaches the monitor from platform events.
func (m *Monitor) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// CheckConnection probes the endpoints the first time it is called and
// returns the cached answer on every later call.
func (m *Monitor) CheckConnection(ctx context.Context) bool {
	m.once.Do(func() {
		m.result = m.probe(ctx)
	})
	return m.result
}

// Online runs the one-time probe if needed and returns the current state,
// which later platform events may have changed.
func (m *Monitor) Online(ctx context.Context) bool {
	m.CheckConnection(ctx)
	return m.State().Online
}

// Probes returns how many active probes have run.
func (m *Monitor) Probes() int {
	return int(m.probes.Load())
}

func (m *Monitor) probe(ctx context.Context) bool {
	m.probes.Add(1)

	if !m.platform.Online() {
		logger.Debug("connectivity: platform reports offline, skipping probe")
		m.setState(State{Online: false, Quality: QualityOffline, LastChecked: time.Now()})
		return false
	}

	m.mu.Lock()
	m.state.Checking = true
	snapshot := m.state
	m.mu.Unlock()
	m.notify(snapshot)

	for _, endpoint := range m.endpoints {
		rtt, ok := m.ping(ctx, endpoint)
		if !ok {
			continue
		}
		quality := QualityPoor
		if rtt < goodRTT {
			quality = QualityGood
		}
		logger.Debug("connectivity: %s answered in %v (%s)", endpoint, rtt, quality)
		m.setState(State{Online: true, Quality: quality, LastChecked: time.Now()})
		return true
	}

	logger.Info("connectivity: all probe endpoints failed, treating device as offline")
	m.setState(State{Online: false, Quality: QualityOffline, LastChecked: time.Now()})
	return false
}

func (m *Monitor) ping(ctx context.Context, endpoint string) (time.Duration, bool) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		logger.Warn("connectivity: invalid probe endpoint %s: %v", endpoint, err)
		return 0, false
	}
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	if err != nil {
		logger.Debug("connectivity: probe %s failed: %v", endpoint, err)
		return 0, false
	}
	resp.Body.Close()
	rtt := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("connectivity: probe %s returned %s", endpoint, resp.Status)
		return 0, false
	}
	return rtt, true
}

// HandleConnectivityChange applies a platform online/offline event. It does not
// reset the cached probe result.
func (m *Monitor) HandleConnectivityChange(online bool) {
	if online {
		m.setState(State{Online: true, Quality: QualityGood, LastChecked: time.Now()})
	} else {
		m.setState(State{Online: false, Quality: QualityOffline, LastChecked: time.Now()})
	}
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for every state change.
func (m *Monitor) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.notify(s)
}

func (m *Monitor) notify(s State) {
	m.mu.Lock()
	fns := make([]func(State), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
