package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/ytakahashi/veo-lists/internal/models"
	"github.com/ytakahashi/veo-lists/internal/services"
	"golang.org/x/sync/singleflight"
)

// Confirmer asks the user to approve the deletion of a list.
type Confirmer interface {
	Confirm(ctx context.Context, list models.List) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, list models.List) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, list models.List) (bool, error) {
	return f(ctx, list)
}

// Confirmed approves without asking, for callers that already collected
// the user's consent.
var Confirmed Confirmer = ConfirmFunc(func(context.Context, models.List) (bool, error) {
	return true, nil
})

// ListStore is the local copy of one user's lists, newest first.
type ListStore struct {
	core

	userID string
	lists  []models.List
	loads  singleflight.Group
}

// NewListStore returns an empty store for the lists of userID. Call Load to
// fill it and Close to release it.
func NewListStore(backend services.Backend, userID string, opts Options) *ListStore {
	s := &ListStore{
		userID: userID,
		lists:  []models.List{},
	}
	s.core.init("list", backend, opts)
	s.core.resync = s.reload
	return s
}

// Lists returns a copy of the local lists.
func (s *ListStore) Lists() []models.List {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lists)
}

// Get returns the local list with id.
func (s *ListStore) Get(id string) (models.List, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.lists[i], true
	}
	return models.List{}, false
}

// Load replaces the local lists with the backend's. On failure the local
// collection is left empty.
func (s *ListStore) Load(ctx context.Context) ([]models.List, error) {
	v, err, _ := s.loads.Do("load", func() (any, error) {
		type loaded struct {
			lists []models.List
			err   error
		}
		ch := make(chan loaded, 1)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, s.opError(ActionLoad, ErrClosed)
		}
		s.q.push(func() {
			lists, err := s.backend.ListLists(ctx, s.userID)
			s.mu.Lock()
			if err != nil {
				s.lists = []models.List{}
			} else {
				s.lists = lists
			}
			s.needResync = s.inflight > 0
			s.mu.Unlock()
			ch <- loaded{lists: lists, err: err}
		})
		s.mu.Unlock()

		var res loaded
		select {
		case res = <-ch:
		case <-ctx.Done():
			res.err = ctx.Err()
		}
		if res.err != nil {
			opErr := s.opError(ActionLoad, res.err)
			s.logger.Warn("load failed", "user_id", s.userID, "error", res.err)
			s.publish(opErr)
			return nil, opErr
		}
		return res.lists, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]models.List)), nil
}

func (s *ListStore) reload(ctx context.Context) error {
	lists, err := s.backend.ListLists(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("failed to reload lists: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == 0 {
		s.lists = lists
		s.needResync = false
	}
	return nil
}

// Rename sets the name of the list at pos.
func (s *ListStore) Rename(ctx context.Context, pos int, name string) *Op {
	name = strings.TrimSpace(name)
	if name == "" {
		return failedOp(ActionRename, s.scope, ErrEmptyText)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return failedOp(ActionRename, s.scope, ErrClosed)
	}
	if pos < 0 || pos >= len(s.lists) {
		return skippedOp(ActionRename)
	}

	id := s.lists[pos].ID
	prev := s.lists[pos].Name
	if prev == name {
		return skippedOp(ActionRename)
	}
	s.lists[pos].Name = name

	op := newOp(ActionRename, id)
	s.dispatch(ctx, op,
		func(ctx context.Context) error {
			return s.backend.RenameList(ctx, id, name)
		},
		func(err error) {
			if err == nil {
				return
			}
			if i := s.indexOf(id); i >= 0 && s.lists[i].Name == name {
				s.lists[i].Name = prev
			}
		})
	return op
}

// Insert creates a new list named name at the top.
func (s *ListStore) Insert(ctx context.Context, name string) *Op {
	name = strings.TrimSpace(name)
	if name == "" {
		return failedOp(ActionInsert, s.scope, ErrEmptyText)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return failedOp(ActionInsert, s.scope, ErrClosed)
	}

	list := models.List{
		ID:        uuid.New().String(),
		UserID:    s.userID,
		Name:      name,
		CreatedAt: s.opts.Now().UTC(),
	}
	s.lists = slices.Insert(s.lists, 0, list)

	op := newOp(ActionInsert, list.ID)
	s.dispatch(ctx, op,
		func(ctx context.Context) error {
			return s.backend.CreateList(ctx, list)
		},
		func(err error) {
			if err == nil {
				return
			}
			if i := s.indexOf(list.ID); i >= 0 {
				s.lists = slices.Delete(s.lists, i, i+1)
			}
		})
	return op
}

// Delete removes the list at pos, together with its items, once confirm
// approves. A declined or failed confirmation changes nothing.
func (s *ListStore) Delete(ctx context.Context, pos int, confirm Confirmer) *Op {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return failedOp(ActionDelete, s.scope, ErrClosed)
	}
	if pos < 0 || pos >= len(s.lists) {
		s.mu.Unlock()
		return skippedOp(ActionDelete)
	}
	list := s.lists[pos]
	s.mu.Unlock()

	ok, err := confirm.Confirm(ctx, list)
	if err != nil {
		s.logger.Warn("confirmation failed", "list_id", list.ID, "error", err)
		return skippedOp(ActionDelete)
	}
	if !ok {
		return skippedOp(ActionDelete)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return failedOp(ActionDelete, s.scope, ErrClosed)
	}
	// The collection may have changed while the user was asked.
	pos = s.indexOf(list.ID)
	if pos < 0 {
		return skippedOp(ActionDelete)
	}
	list = s.lists[pos]
	s.lists = slices.Delete(s.lists, pos, pos+1)

	op := newOp(ActionDelete, list.ID)
	s.dispatch(ctx, op,
		func(ctx context.Context) error {
			return s.backend.DeleteList(ctx, list.ID)
		},
		func(err error) {
			if err == nil || s.indexOf(list.ID) >= 0 {
				return
			}
			s.lists = slices.Insert(s.lists, min(pos, len(s.lists)), list)
		})
	return op
}

func (s *ListStore) indexOf(id string) int {
	return slices.IndexFunc(s.lists, func(l models.List) bool { return l.ID == id })
}

// Close waits for queued operations and releases the store.
func (s *ListStore) Close() {
	s.shutdown()
}
