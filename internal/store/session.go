package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ytakahashi/veo-lists/internal/services"
)

// Session is one signed-in user's view: their lists and at most one open list.
type Session struct {
	backend services.Backend
	userID  string
	opts    Options

	lists *ListStore

	mu      sync.Mutex
	current *ItemStore
}

// NewSession returns a session for userID. Its lists are not loaded yet.
func NewSession(backend services.Backend, userID string, opts Options) *Session {
	return &Session{
		backend: backend,
		userID:  userID,
		opts:    opts,
		lists:   NewListStore(backend, userID, opts),
	}
}

// UserID returns the id of the session's user.
func (s *Session) UserID() string {
	return s.userID
}

// Lists returns the store of the user's lists.
func (s *Session) Lists() *ListStore {
	return s.lists
}

// Open makes listID the open list and loads its items. The previously open
// list is closed. The list must be one of the session's loaded lists.
func (s *Session) Open(ctx context.Context, listID string) (*ItemStore, error) {
	if _, ok := s.lists.Get(listID); !ok {
		return nil, fmt.Errorf("list %s: %w", listID, services.ErrNotFound)
	}

	items := NewItemStore(s.backend, s.userID, listID, s.opts)

	s.mu.Lock()
	prev := s.current
	s.current = items
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	if _, err := items.Load(ctx); err != nil {
		return items, err
	}
	return items, nil
}

// Current returns the open list's store, or nil.
func (s *Session) Current() *ItemStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CloseList closes the open list, if any.
func (s *Session) CloseList() {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// Close releases the session and its stores.
func (s *Session) Close() {
	s.CloseList()
	s.lists.Close()
}
