package services

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/ytakahashi/veo-lists/internal/models"
)

// BadgerConfig holds configuration for an embedded BadgerDB.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests and throwaway servers.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// OpenBadger opens a BadgerDB with the given configuration, creating the
// directory when needed.
func OpenBadger(cfg BadgerConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Key layout:
//
//	list/<listID>               List JSON
//	item/<itemID>               Item JSON
//	user-lists/<userID>/<listID> (empty) lists owned by a user
//	list-items/<listID>/<itemID> (empty) items of a list
const (
	listPrefix      = "list/"
	itemPrefix      = "item/"
	userListsPrefix = "user-lists/"
	listItemsPrefix = "list-items/"
)

// conflictRetries bounds how often a transaction is retried after a
// concurrent commit touched the same keys.
const conflictRetries = 3

// BadgerService is a Backend stored in an embedded BadgerDB. Every operation,
// including the ordinal procedures, runs in a single transaction.
type BadgerService struct {
	db *badger.DB
}

var (
	_ Backend         = (*BadgerService)(nil)
	_ OrdinalInserter = (*BadgerService)(nil)
	_ OrdinalDeleter  = (*BadgerService)(nil)
)

// NewBadgerService wraps an open database. The caller keeps ownership of db.
func NewBadgerService(db *badger.DB) *BadgerService {
	return &BadgerService{db: db}
}

func (bs *BadgerService) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = bs.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (bs *BadgerService) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return bs.db.View(fn)
}

func (bs *BadgerService) ListLists(ctx context.Context, userID string) ([]models.List, error) {
	lists := []models.List{}
	err := bs.view(ctx, func(txn *badger.Txn) error {
		ids := childIDs(txn, userListsPrefix+userID+"/")
		for _, id := range ids {
			var list models.List
			if err := getJSON(txn, listPrefix+id, &list); err != nil {
				return err
			}
			lists = append(lists, list)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}

	slices.SortFunc(lists, func(a, b models.List) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return lists, nil
}

func (bs *BadgerService) GetList(ctx context.Context, listID string) (*models.List, error) {
	var list models.List
	err := bs.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, listPrefix+listID, &list)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get list: %w", err)
	}
	return &list, nil
}

func (bs *BadgerService) CreateList(ctx context.Context, list models.List) error {
	if err := checkKeySegments(list.ID, list.UserID); err != nil {
		return fmt.Errorf("failed to create list: %w", err)
	}
	err := bs.update(ctx, func(txn *badger.Txn) error {
		if exists(txn, listPrefix+list.ID) {
			return ErrConflict
		}
		if err := setJSON(txn, listPrefix+list.ID, list); err != nil {
			return err
		}
		return txn.Set([]byte(userListsPrefix+list.UserID+"/"+list.ID), nil)
	})
	if err != nil {
		return fmt.Errorf("failed to create list: %w", err)
	}
	return nil
}

func (bs *BadgerService) RenameList(ctx context.Context, listID, name string) error {
	err := bs.update(ctx, func(txn *badger.Txn) error {
		var list models.List
		if err := getJSON(txn, listPrefix+listID, &list); err != nil {
			return err
		}
		list.Name = name
		return setJSON(txn, listPrefix+listID, list)
	})
	if err != nil {
		return fmt.Errorf("failed to rename list: %w", err)
	}
	return nil
}

func (bs *BadgerService) DeleteList(ctx context.Context, listID string) error {
	err := bs.update(ctx, func(txn *badger.Txn) error {
		var list models.List
		if err := getJSON(txn, listPrefix+listID, &list); err != nil {
			return err
		}
		for _, id := range childIDs(txn, listItemsPrefix+listID+"/") {
			if err := txn.Delete([]byte(itemPrefix + id)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(listItemsPrefix + listID + "/" + id)); err != nil {
				return err
			}
		}
		if err := txn.Delete([]byte(userListsPrefix + list.UserID + "/" + listID)); err != nil {
			return err
		}
		return txn.Delete([]byte(listPrefix + listID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete list: %w", err)
	}
	return nil
}

func (bs *BadgerService) ListItems(ctx context.Context, listID string) ([]models.Item, error) {
	var items []models.Item
	err := bs.view(ctx, func(txn *badger.Txn) error {
		var err error
		items, err = listItems(txn, listID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

func (bs *BadgerService) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	var item models.Item
	err := bs.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, itemPrefix+itemID, &item)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

func (bs *BadgerService) CreateItem(ctx context.Context, item models.Item) error {
	err := bs.update(ctx, func(txn *badger.Txn) error {
		return createItem(txn, item)
	})
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

func (bs *BadgerService) UpdateItem(ctx context.Context, itemID string, update models.ItemUpdate) error {
	if update.Empty() {
		return nil
	}
	err := bs.update(ctx, func(txn *badger.Txn) error {
		var item models.Item
		if err := getJSON(txn, itemPrefix+itemID, &item); err != nil {
			return err
		}
		if update.Text != nil {
			item.Text = *update.Text
		}
		if update.Done != nil {
			item.Done = *update.Done
		}
		return setJSON(txn, itemPrefix+itemID, item)
	})
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return nil
}

func (bs *BadgerService) DeleteItem(ctx context.Context, itemID string) error {
	err := bs.update(ctx, func(txn *badger.Txn) error {
		_, err := deleteItem(txn, itemID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func (bs *BadgerService) IncrementOrdinals(ctx context.Context, listID string, from int) error {
	err := bs.update(ctx, func(txn *badger.Txn) error {
		return shiftItems(txn, listID, func(index int) bool { return index >= from }, 1)
	})
	if err != nil {
		return fmt.Errorf("failed to increment ordinals: %w", err)
	}
	return nil
}

func (bs *BadgerService) DecrementOrdinals(ctx context.Context, listID string, below int) error {
	err := bs.update(ctx, func(txn *badger.Txn) error {
		return shiftItems(txn, listID, func(index int) bool { return index > below }, -1)
	})
	if err != nil {
		return fmt.Errorf("failed to decrement ordinals: %w", err)
	}
	return nil
}

func (bs *BadgerService) InsertItemAt(ctx context.Context, item models.Item) error {
	err := bs.update(ctx, func(txn *badger.Txn) error {
		if exists(txn, itemPrefix+item.ID) {
			return ErrConflict
		}
		if err := shiftItems(txn, item.ListID, func(index int) bool { return index >= item.Index }, 1); err != nil {
			return err
		}
		return createItem(txn, item)
	})
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

func (bs *BadgerService) DeleteItemAt(ctx context.Context, item models.Item) error {
	err := bs.update(ctx, func(txn *badger.Txn) error {
		stored, err := deleteItem(txn, item.ID)
		if err != nil {
			return err
		}
		return shiftItems(txn, stored.ListID, func(index int) bool { return index > stored.Index }, -1)
	})
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func listItems(txn *badger.Txn, listID string) ([]models.Item, error) {
	items := []models.Item{}
	for _, id := range childIDs(txn, listItemsPrefix+listID+"/") {
		var item models.Item
		if err := getJSON(txn, itemPrefix+id, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b models.Item) int {
		if c := cmp.Compare(a.Index, b.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return items, nil
}

func createItem(txn *badger.Txn, item models.Item) error {
	if err := checkKeySegments(item.ID, item.ListID); err != nil {
		return err
	}
	if exists(txn, itemPrefix+item.ID) {
		return ErrConflict
	}
	if !exists(txn, listPrefix+item.ListID) {
		return fmt.Errorf("list %s: %w", item.ListID, ErrNotFound)
	}
	if err := setJSON(txn, itemPrefix+item.ID, item); err != nil {
		return err
	}
	return txn.Set([]byte(listItemsPrefix+item.ListID+"/"+item.ID), nil)
}

func deleteItem(txn *badger.Txn, itemID string) (models.Item, error) {
	var item models.Item
	if err := getJSON(txn, itemPrefix+itemID, &item); err != nil {
		return item, err
	}
	if err := txn.Delete([]byte(itemPrefix + itemID)); err != nil {
		return item, err
	}
	return item, txn.Delete([]byte(listItemsPrefix + item.ListID + "/" + itemID))
}

func shiftItems(txn *badger.Txn, listID string, match func(index int) bool, delta int) error {
	items, err := listItems(txn, listID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if !match(item.Index) {
			continue
		}
		item.Index += delta
		if err := setJSON(txn, itemPrefix+item.ID, item); err != nil {
			return err
		}
	}
	return nil
}

// childIDs returns the last path segment of every key under prefix.
func childIDs(txn *badger.Txn, prefix string) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		id := strings.TrimPrefix(string(it.Item().Key()), prefix)
		if strings.Contains(id, keySeparator) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

const keySeparator = "/"

// checkKeySegments rejects ids that would not form a single key segment.
func checkKeySegments(ids ...string) error {
	for _, id := range ids {
		if id == "" || strings.Contains(id, keySeparator) {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}

func exists(txn *badger.Txn, key string) bool {
	_, err := txn.Get([]byte(key))
	return err == nil
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("%s: %w: %v", key, ErrDecode, err)
		}
		return nil
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), b)
}
