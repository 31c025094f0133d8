package services

import (
	"context"
	"errors"

	"github.com/ytakahashi/veo-lists/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDecode is returned when a stored row does not match the expected shape.
	ErrDecode = errors.New("malformed row")
	// ErrConflict is returned when a row with the same id already exists.
	ErrConflict = errors.New("already exists")
	// ErrInvalidID is returned for an id a backend cannot store.
	ErrInvalidID = errors.New("invalid id")
)

// Backend is the remote persistence the stores synchronize with.
//
// Lists are returned newest first and items by ascending index. Item indexes
// within a list form a dense ordinal 0..N-1, kept dense by callers through
// IncrementOrdinals and DecrementOrdinals.
type Backend interface {
	ListLists(ctx context.Context, userID string) ([]models.List, error)
	GetList(ctx context.Context, listID string) (*models.List, error)
	CreateList(ctx context.Context, list models.List) error
	RenameList(ctx context.Context, listID, name string) error
	// DeleteList removes the list and every item in it.
	DeleteList(ctx context.Context, listID string) error

	ListItems(ctx context.Context, listID string) ([]models.Item, error)
	GetItem(ctx context.Context, itemID string) (*models.Item, error)
	CreateItem(ctx context.Context, item models.Item) error
	UpdateItem(ctx context.Context, itemID string, update models.ItemUpdate) error
	DeleteItem(ctx context.Context, itemID string) error

	// IncrementOrdinals adds one to the index of every item of the list whose
	// index is at least from.
	IncrementOrdinals(ctx context.Context, listID string, from int) error
	// DecrementOrdinals subtracts one from the index of every item of the list
	// whose index is greater than below.
	DecrementOrdinals(ctx context.Context, listID string, below int) error
}

// OrdinalInserter is implemented by backends that can open a slot at
// item.Index and create the item in one transaction.
type OrdinalInserter interface {
	InsertItemAt(ctx context.Context, item models.Item) error
}

// OrdinalDeleter is implemented by backends that can delete an item and close
// the gap it leaves in one transaction.
type OrdinalDeleter interface {
	DeleteItemAt(ctx context.Context, item models.Item) error
}
