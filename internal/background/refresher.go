package background

import (
	"context"
	"time"

	"github.com/JohanCodinha/reportsync/internal/logger"
)

// DefaultRefreshInterval is how often credentials are pushed when nothing else asks.
const DefaultRefreshInterval = 5 * time.Minute

// Refresher keeps the background session current by replaying REQUEST_CONFIG
// on a timer and on demand.
type Refresher struct {
	channel  *Channel
	interval time.Duration
	kick     chan struct{}
}

// NewRefresher returns a Refresher that pushes every interval, or DefaultRefreshInterval when interval is not positive.
func NewRefresher(ch *Channel, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{channel: ch, interval: interval, kick: make(chan struct{}, 1)}
}

// Refresh schedules an immediate push, e.g. after sign-in. It never blocks.
func (r *Refresher) Refresh() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run pushes once, then on every tick or Refresh until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.push(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.push(ctx)
		case <-r.kick:
			r.push(ctx)
		}
	}
}

func (r *Refresher) push(ctx context.Context) {
	if _, err := r.channel.Handle(ctx, Message{Type: MessageRequestConfig}); err != nil {
		logger.Warn("background: failed to refresh session: %v", err)
	}
}
