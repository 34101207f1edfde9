// Package session keeps one conversation per Telegram chat.
package session

import (
	"context"
	"sync"
	"time"

	"nanograph/internal/chat"
)

// Factory builds a fresh conversation, already seeded with its welcome turn.
type Factory func() *chat.Controller

type Session struct {
	ChatID       int64
	Conversation *chat.Controller
	LastActivity time.Time
}

type Options struct {
	New         Factory
	IdleTimeout time.Duration
	Now         func() time.Time
}

type Store struct {
	mu          sync.Mutex
	sessions    map[int64]*Session
	newConv     Factory
	idleTimeout time.Duration
	now         func() time.Time
}

func NewStore(opts Options) *Store {
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 2 * time.Hour
	}

	newConv := opts.New
	if newConv == nil {
		newConv = func() *chat.Controller { return chat.NewController(chat.Options{}) }
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		sessions:    make(map[int64]*Session),
		newConv:     newConv,
		idleTimeout: idle,
		now:         now,
	}
}

// Get returns the chat's conversation, creating it on first use.
func (s *Store) Get(chatID int64) *chat.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(chatID)
	sess.LastActivity = s.now()
	return sess.Conversation
}

// Reset replaces the chat's conversation with a fresh one unless a send is in
// flight, in which case it returns chat.ErrBusy and keeps the current one.
func (s *Store) Reset(chatID int64) (*chat.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[chatID]; ok && sess.Conversation.Busy() {
		return sess.Conversation, chat.ErrBusy
	}

	sess := &Session{
		ChatID:       chatID,
		Conversation: s.newConv(),
		LastActivity: s.now(),
	}
	s.sessions[chatID] = sess
	return sess.Conversation, nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Prune drops sessions idle for longer than the idle timeout. Busy sessions stay.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTimeout)
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActivity.After(cutoff) || sess.Conversation.Busy() {
			continue
		}
		delete(s.sessions, id)
		removed++
	}
	return removed
}

// Run prunes on every tick until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration, onPrune func(removed int)) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Prune(); n > 0 && onPrune != nil {
				onPrune(n)
			}
		}
	}
}

func (s *Store) getOrCreateLocked(chatID int64) *Session {
	if sess, ok := s.sessions[chatID]; ok {
		return sess
	}

	sess := &Session{
		ChatID:       chatID,
		Conversation: s.newConv(),
		LastActivity: s.now(),
	}
	s.sessions[chatID] = sess
	return sess
}
