package background

import (
	"context"
	"errors"
	"fmt"

	"github.com/JohanCodinha/reportsync/internal/logger"
	"github.com/JohanCodinha/reportsync/internal/remote"
	"github.com/JohanCodinha/reportsync/internal/sync"
)

// Message types exchanged with the background context.
const (
	MessageUpdateConfig  = "UPDATE_CONFIG"
	MessageRequestConfig = "REQUEST_CONFIG"
	MessageSyncNow       = "SYNC_NOW"
	MessageSyncComplete  = "SYNC_COMPLETE"
)

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrMissingConfig  = errors.New("configuration missing")
)

// Message is one envelope on the channel.
type Message struct {
	Type   string          `json:"type"`
	Config *remote.Session `json:"config,omitempty"`
	Result *Summary        `json:"result,omitempty"`
}

// Summary reports a background sync run.
type Summary struct {
	Success bool   `json:"success"`
	Synced  int    `json:"synced"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// Engine is the part of sync.Engine the background context drives.
type Engine interface {
	SyncPendingReports(ctx context.Context, userID string) ([]sync.Result, error)
	PendingCount(ctx context.Context) (int, error)
	TriggerSync(userID string)
}

// SessionSource supplies fresh credentials on REQUEST_CONFIG.
type SessionSource interface {
	Session(ctx context.Context) (remote.Session, error)
}

// SessionSourceFunc adapts a function to SessionSource.
type SessionSourceFunc func(ctx context.Context) (remote.Session, error)

func (f SessionSourceFunc) Session(ctx context.Context) (remote.Session, error) { return f(ctx) }

// Channel applies config messages to the session store and runs syncs for the
// background context.
type Channel struct {
	sessions *remote.SessionStore
	source   SessionSource
	engine   Engine
}

// NewChannel wires the channel. source may be nil, in which case
// REQUEST_CONFIG fails with ErrMissingConfig.
func NewChannel(sessions *remote.SessionStore, source SessionSource, engine Engine) *Channel {
	return &Channel{sessions: sessions, source: source, engine: engine}
}

// Handle processes msg and returns the reply, if any.
func (c *Channel) Handle(ctx context.Context, msg Message) (*Message, error) {
	switch msg.Type {
	case MessageUpdateConfig:
		if msg.Config == nil {
			return nil, fmt.Errorf("%s: %w", msg.Type, ErrMissingConfig)
		}
		c.applyConfig(*msg.Config)
		return nil, nil

	case MessageRequestConfig:
		s, err := c.requestConfig(ctx)
		if err != nil {
			return nil, err
		}
		return &Message{Type: MessageUpdateConfig, Config: &s}, nil

	case MessageSyncNow:
		summary := c.RunBackgroundSync(ctx)
		return &Message{Type: MessageSyncComplete, Result: &summary}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// applyConfig merges next into the session store. A changed sign-in schedules a sync.
func (c *Channel) applyConfig(next remote.Session) remote.Session {
	prev := c.sessions.Current()
	merged := c.sessions.Update(next)
	logger.Debug("background: session updated for %s", merged.URL)

	if merged.AuthToken != "" && (merged.AuthToken != prev.AuthToken || merged.UserID != prev.UserID) {
		c.engine.TriggerSync(merged.UserID)
	}
	return merged
}

func (c *Channel) requestConfig(ctx context.Context) (remote.Session, error) {
	if c.source == nil {
		return remote.Session{}, ErrMissingConfig
	}
	s, err := c.source.Session(ctx)
	if err != nil {
		return remote.Session{}, fmt.Errorf("failed to fetch session: %w", err)
	}
	if s.URL == "" || s.APIKey == "" {
		return remote.Session{}, ErrMissingConfig
	}
	return c.applyConfig(s), nil
}

// RunBackgroundSync runs one batch with the current session, asking for
// config first when none has been received.
func (c *Channel) RunBackgroundSync(ctx context.Context) Summary {
	s := c.sessions.Current()
	if s.URL == "" || s.APIKey == "" {
		var err error
		if s, err = c.requestConfig(ctx); err != nil {
			return Summary{Error: "Configuration missing"}
		}
	}

	results, err := c.engine.SyncPendingReports(ctx, s.UserID)
	if err != nil {
		return Summary{Error: err.Error()}
	}
	summary := Summary{Success: true}
	for _, r := range results {
		if r.Success {
			summary.Synced++
		} else {
			summary.Failed++
		}
	}
	return summary
}
