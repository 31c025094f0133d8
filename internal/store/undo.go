package store

import (
	"time"

	"github.com/ytakahashi/veo-lists/internal/models"
)

// UndoRecord is a deleted item that can still be restored.
type UndoRecord struct {
	Item models.Item
	// Position is where the item sat in the local collection.
	Position int
}

type undoState int

const (
	undoPending undoState = iota + 1
	undoRestoring
)

// undoRecord is guarded by the owning store's lock. A store holds at most one;
// a newer delete replaces it without restoring it.
type undoRecord struct {
	item     models.Item
	position int
	state    undoState
	timer    *time.Timer

	// remoteDeleted is set once the backend confirmed the row was deleted.
	remoteDeleted bool
}

func (r *undoRecord) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
	}
}
