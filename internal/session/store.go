package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"productscene/internal/workflow"
)

type Key struct {
	ChatID int64
	UserID int64
}

// Factory builds the controller for a new session.
type Factory func(sessionID string) (*workflow.Controller, error)

type Session struct {
	ID           string
	Username     string
	Controller   *workflow.Controller
	LastActivity time.Time
	// StatusMessageID is the chat message that shows the live workflow card.
	StatusMessageID int
}

type Options struct {
	Factory     Factory
	IdleTimeout time.Duration
	Now         func() time.Time
}

type Store struct {
	mu       sync.Mutex
	sessions map[Key]*Session
	factory  Factory
	idle     time.Duration
	now      func() time.Time
}

func NewStore(opts Options) (*Store, error) {
	if opts.Factory == nil {
		return nil, errors.New("session factory is nil")
	}

	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 2 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		sessions: make(map[Key]*Session),
		factory:  opts.Factory,
		idle:     idle,
		now:      now,
	}, nil
}

// Get returns the user's controller, creating the session on first use.
func (s *Store) Get(chatID, userID int64, username string) (*workflow.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getOrCreateLocked(Key{ChatID: chatID, UserID: userID}, username)
	if err != nil {
		return nil, err
	}
	return sess.Controller, nil
}

// Reset starts the user's workflow over. It reports whether a session existed.
func (s *Store) Reset(chatID, userID int64) bool {
	s.mu.Lock()
	sess, ok := s.sessions[Key{ChatID: chatID, UserID: userID}]
	if ok {
		sess.LastActivity = s.now()
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	sess.Controller.Reset()
	return true
}

func (s *Store) StatusMessage(chatID, userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[Key{ChatID: chatID, UserID: userID}]; ok {
		return sess.StatusMessageID
	}
	return 0
}

func (s *Store) SetStatusMessage(chatID, userID int64, messageID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[Key{ChatID: chatID, UserID: userID}]; ok {
		sess.StatusMessageID = messageID
		sess.LastActivity = s.now()
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the idle timeout. Sessions with
// an operation in flight are kept.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idle)
	removed := 0
	for key, sess := range s.sessions {
		if sess.LastActivity.After(cutoff) {
			continue
		}
		if sess.Controller.Snapshot().Pending != "" {
			continue
		}
		delete(s.sessions, key)
		removed++
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 && onSweep != nil {
				onSweep(n)
			}
		}
	}
}

func (s *Store) getOrCreateLocked(key Key, username string) (*Session, error) {
	if sess, ok := s.sessions[key]; ok {
		if sess.Username == "" && username != "" {
			sess.Username = username
		}
		sess.LastActivity = s.now()
		return sess, nil
	}

	id := uuid.NewString()
	ctrl, err := s.factory(id)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:           id,
		Username:     username,
		Controller:   ctrl,
		LastActivity: s.now(),
	}
	s.sessions[key] = sess
	return sess, nil
}
