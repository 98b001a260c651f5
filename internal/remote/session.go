package remote

import "sync"

// Session is the backend location and credentials used for remote calls.
type Session struct {
	URL       string `json:"url" yaml:"url"`
	APIKey    string `json:"key" yaml:"api_key"`
	AuthToken string `json:"authToken" yaml:"auth_token"`
	UserID    string `json:"userId,omitempty" yaml:"user_id"`
}

// SessionStore holds the current session. It is updated by the background
// message channel and read on every request.
type SessionStore struct {
	mu      sync.RWMutex
	current Session
}

// NewSessionStore returns a store holding initial.
func NewSessionStore(initial Session) *SessionStore {
	return &SessionStore{current: initial}
}

// Current returns a copy of the active session.
func (s *SessionStore) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update overwrites every non-empty field of next and returns the merged session.
func (s *SessionStore) Update(next Session) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next.URL != "" {
		s.current.URL = next.URL
	}
	if next.APIKey != "" {
		s.current.APIKey = next.APIKey
	}
	if next.AuthToken != "" {
		s.current.AuthToken = next.AuthToken
	}
	if next.UserID != "" {
		s.current.UserID = next.UserID
	}
	return s.current
}

// SignOut drops the auth token and user id but keeps the backend location.
func (s *SessionStore) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.AuthToken = ""
	s.current.UserID = ""
}
