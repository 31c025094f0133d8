package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ytakahashi/veo-lists/internal/models"
	"github.com/ytakahashi/veo-lists/internal/services"
	"golang.org/x/sync/singleflight"
)

// ItemStore is the local copy of the items of one list, ordered by index.
//
// Item indexes are kept dense: an insert at the top shifts every sibling down
// by one before the item is created, a delete closes the gap it leaves. When
// the backend implements services.OrdinalInserter or services.OrdinalDeleter
// the shift and the row write happen in one backend call.
type ItemStore struct {
	core

	userID string
	listID string
	items  []models.Item
	undo   *undoRecord
	loads  singleflight.Group
}

// NewItemStore returns an empty store for the items of listID. Call Load to
// fill it and Close to release it.
func NewItemStore(backend services.Backend, userID, listID string, opts Options) *ItemStore {
	s := &ItemStore{
		userID: userID,
		listID: listID,
		items:  []models.Item{},
	}
	s.core.init("item", backend, opts)
	s.core.resync = s.reload
	return s
}

// ListID returns the id of the list the store holds items of.
func (s *ItemStore) ListID() string {
	return s.listID
}

// Items returns a copy of the local items, top first.
func (s *ItemStore) Items() []models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Load replaces the local items with the backend's. Concurrent calls share
// one fetch. On failure the local items are left untouched.
func (s *ItemStore) Load(ctx context.Context) ([]models.Item, error) {
	v, err, _ := s.loads.Do("load", func() (any, error) {
		type loaded struct {
			items []models.Item
			err   error
		}
		ch := make(chan loaded, 1)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, s.opError(ActionLoad, ErrClosed)
		}
		s.q.push(func() {
			items, err := s.backend.ListItems(ctx, s.listID)
			if err != nil {
				ch <- loaded{err: err}
				return
			}
			s.mu.Lock()
			s.items = items
			s.needResync = s.inflight > 0
			s.mu.Unlock()
			ch <- loaded{items: items}
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
			s.logger.Warn("load failed", "list_id", s.listID, "error", res.err)
			s.publish(opErr)
			return nil, opErr
		}
		return res.items, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]models.Item)), nil
}

func (s *ItemStore) reload(ctx context.Context) error {
	items, err := s.backend.ListItems(ctx, s.listID)
	if err != nil {
		return fmt.Errorf("failed to reload items: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == 0 {
		s.items = items
		s.needResync = false
	}
	return nil
}

// Rename sets the text of the item at pos.
func (s *ItemStore) Rename(ctx context.Context, pos int, text string) *Op {
	text = strings.TrimSpace(text)
	if text == "" {
		return failedOp(ActionRename, s.scope, ErrEmptyText)
	}
	return s.update(ctx, ActionRename, pos, func(item *models.Item) (models.ItemUpdate, func(*models.Item)) {
		prev := item.Text
		if prev == text {
			return models.ItemUpdate{}, nil
		}
		item.Text = text
		return models.ItemUpdate{Text: &text}, func(cur *models.Item) {
			// A later rename of the same item wins.
			if cur.Text == text {
				cur.Text = prev
			}
		}
	})
}

// SetDone marks the item at pos done or not done.
func (s *ItemStore) SetDone(ctx context.Context, pos int, done bool) *Op {
	return s.update(ctx, ActionSetDone, pos, func(item *models.Item) (models.ItemUpdate, func(*models.Item)) {
		if item.Done == done {
			return models.ItemUpdate{}, nil
		}
		item.Done = done
		return models.ItemUpdate{Done: &done}, func(cur *models.Item) {
			if cur.Done == done {
				cur.Done = !done
			}
		}
	})
}

// update applies change to the item at pos and writes the returned update.
// The returned revert undoes the change when the write fails.
func (s *ItemStore) update(ctx context.Context, action Action, pos int, change func(*models.Item) (models.ItemUpdate, func(*models.Item))) *Op {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return failedOp(action, s.scope, ErrClosed)
	}
	if pos < 0 || pos >= len(s.items) {
		return skippedOp(action)
	}

	id := s.items[pos].ID
	upd, revert := change(&s.items[pos])
	if upd.Empty() {
		return skippedOp(action)
	}

	op := newOp(action, id)
	s.dispatch(ctx, op,
		func(ctx context.Context) error {
			return s.backend.UpdateItem(ctx, id, upd)
		},
		func(err error) {
			if err == nil {
				return
			}
			if i := s.indexOf(id); i >= 0 {
				revert(&s.items[i])
			}
		})
	return op
}

// Insert adds a new item with text at the top of the list.
func (s *ItemStore) Insert(ctx context.Context, text string) *Op {
	text = strings.TrimSpace(text)
	if text == "" {
		return failedOp(ActionInsert, s.scope, ErrEmptyText)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return failedOp(ActionInsert, s.scope, ErrClosed)
	}

	item := models.Item{
		ID:     uuid.New().String(),
		UserID: s.userID,
		ListID: s.listID,
		Text:   text,
		Index:  0,
	}
	s.insertLocal(item)

	op := newOp(ActionInsert, item.ID)
	var gapLeft bool
	s.dispatch(ctx, op,
		func(ctx context.Context) (err error) {
			gapLeft, err = s.insertRemote(ctx, item)
			return err
		},
		func(err error) {
			if err == nil {
				return
			}
			s.removeLocal(item.ID)
			if gapLeft {
				s.needResync = true
			}
		})
	return op
}

// Delete removes the item at pos and keeps it restorable through Undo until
// the undo window elapses, DismissUndo is called or another item is deleted.
func (s *ItemStore) Delete(ctx context.Context, pos int) *Op {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return failedOp(ActionDelete, s.scope, ErrClosed)
	}
	if pos < 0 || pos >= len(s.items) {
		return skippedOp(ActionDelete)
	}

	item := s.items[pos]
	s.removeLocal(item.ID)
	rec := s.setUndo(item, pos)

	op := newOp(ActionDelete, item.ID)
	var rowDeleted bool
	s.dispatch(ctx, op,
		func(ctx context.Context) error {
			if del, ok := s.backend.(services.OrdinalDeleter); ok {
				err := del.DeleteItemAt(ctx, item)
				rowDeleted = err == nil
				return err
			}
			// The local index may be off after an interleaved rollback.
			stored, err := s.backend.GetItem(ctx, item.ID)
			if err != nil {
				return err
			}
			if err := s.backend.DeleteItem(ctx, item.ID); err != nil {
				return err
			}
			rowDeleted = true
			return s.backend.DecrementOrdinals(ctx, s.listID, stored.Index)
		},
		func(err error) {
			if rowDeleted {
				rec.remoteDeleted = true
			}
			if err == nil {
				return
			}
			if rowDeleted {
				// The row is gone but the backend's indexes kept the gap;
				// pick up whatever it holds now.
				s.needResync = true
				return
			}
			if rec.state == undoRestoring {
				// Undo already put the item back locally.
				return
			}
			if s.undo == rec {
				s.clearUndo()
			}
			if s.indexOf(item.ID) < 0 {
				restored := item
				restored.Index = min(restored.Index, len(s.items))
				s.insertLocal(restored)
			}
		})
	return op
}

// Undo restores the most recently deleted item at its former index. It is a
// skipped no-op when there is nothing to restore.
func (s *ItemStore) Undo(ctx context.Context) *Op {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return failedOp(ActionUndo, s.scope, ErrClosed)
	}
	rec := s.undo
	if rec == nil || rec.state != undoPending {
		return skippedOp(ActionUndo)
	}
	rec.state = undoRestoring
	rec.stopTimer()

	item := rec.item
	item.Index = min(item.Index, len(s.items))
	s.insertLocal(item)

	op := newOp(ActionUndo, item.ID)
	var gapLeft bool
	s.dispatch(ctx, op,
		func(ctx context.Context) (err error) {
			s.mu.Lock()
			gone := rec.remoteDeleted
			s.mu.Unlock()
			if !gone {
				// The delete never reached the backend.
				return nil
			}
			gapLeft, err = s.insertRemote(ctx, item)
			return err
		},
		func(err error) {
			if s.undo == rec {
				s.undo = nil
			}
			if err == nil {
				return
			}
			s.removeLocal(item.ID)
			if gapLeft {
				s.needResync = true
			}
		})
	return op
}

// insertRemote opens a slot at item.Index and creates the item. gapLeft
// reports a half-done insert that could not be reverted on the backend.
func (s *ItemStore) insertRemote(ctx context.Context, item models.Item) (gapLeft bool, err error) {
	if ins, ok := s.backend.(services.OrdinalInserter); ok {
		return false, ins.InsertItemAt(ctx, item)
	}
	if err := s.backend.IncrementOrdinals(ctx, item.ListID, item.Index); err != nil {
		return false, err
	}
	if err := s.backend.CreateItem(ctx, item); err != nil {
		if cerr := s.backend.DecrementOrdinals(ctx, item.ListID, item.Index-1); cerr != nil {
			s.logger.Error("failed to close ordinal gap after failed insert",
				"list_id", item.ListID, "index", item.Index, "error", cerr)
			return true, err
		}
		return false, err
	}
	return false, nil
}

func (s *ItemStore) indexOf(id string) int {
	return slices.IndexFunc(s.items, func(it models.Item) bool { return it.ID == id })
}

// insertLocal shifts every item at or below item.Index down by one and puts
// item in the freed slot.
func (s *ItemStore) insertLocal(item models.Item) {
	for i := range s.items {
		if s.items[i].Index >= item.Index {
			s.items[i].Index++
		}
	}
	pos := slices.IndexFunc(s.items, func(it models.Item) bool { return it.Index > item.Index })
	if pos < 0 {
		pos = len(s.items)
	}
	s.items = slices.Insert(s.items, pos, item)
}

// removeLocal removes the item with id and closes the gap in the indexes.
func (s *ItemStore) removeLocal(id string) {
	pos := s.indexOf(id)
	if pos < 0 {
		return
	}
	index := s.items[pos].Index
	s.items = slices.Delete(s.items, pos, pos+1)
	for i := range s.items {
		if s.items[i].Index > index {
			s.items[i].Index--
		}
	}
}

// PendingUndo returns the restorable deletion, if any.
func (s *ItemStore) PendingUndo() (UndoRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.undo == nil || s.undo.state != undoPending {
		return UndoRecord{}, false
	}
	return UndoRecord{Item: s.undo.item, Position: s.undo.position}, true
}

// DismissUndo drops the restorable deletion without restoring it.
func (s *ItemStore) DismissUndo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.undo != nil && s.undo.state == undoPending {
		s.clearUndo()
	}
}

func (s *ItemStore) setUndo(item models.Item, pos int) *undoRecord {
	if s.undo != nil {
		s.undo.stopTimer()
	}
	rec := &undoRecord{item: item, position: pos, state: undoPending}
	if s.opts.UndoWindow > 0 {
		rec.timer = time.AfterFunc(s.opts.UndoWindow, func() { s.expireUndo(rec) })
	}
	s.undo = rec
	return rec
}

func (s *ItemStore) expireUndo(rec *undoRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.undo == rec && rec.state == undoPending {
		s.undo = nil
	}
}

func (s *ItemStore) clearUndo() {
	s.undo.stopTimer()
	s.undo = nil
}

// Close waits for queued operations and releases the store.
func (s *ItemStore) Close() {
	s.mu.Lock()
	if s.undo != nil {
		s.undo.stopTimer()
	}
	s.mu.Unlock()
	s.shutdown()
}
