package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ytakahashi/veo-lists/internal/models"
	"github.com/ytakahashi/veo-lists/internal/services"
)

var errUnavailable = errors.New("service unavailable")

// faultyBackend wraps a real backend, records calls and fails the methods it
// is told to. It does not expose the atomic ordinal procedures, so stores
// talking to it use the two-step path.
type faultyBackend struct {
	services.Backend

	mu         sync.Mutex
	fails      map[string]error
	createFail func(models.Item) error
	calls      map[string]int
}

func newTestBackend(t *testing.T) (*services.BadgerService, *faultyBackend) {
	t.Helper()
	db, err := services.OpenBadger(services.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bs := services.NewBadgerService(db)
	return bs, &faultyBackend{
		Backend: bs,
		fails:   map[string]error{},
		calls:   map[string]int{},
	}
}

func (f *faultyBackend) failOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails[method] = err
}

func (f *faultyBackend) failCreate(fn func(models.Item) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createFail = fn
}

func (f *faultyBackend) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails = map[string]error{}
	f.createFail = nil
}

func (f *faultyBackend) called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *faultyBackend) check(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.fails[method]
}

func (f *faultyBackend) ListLists(ctx context.Context, userID string) ([]models.List, error) {
	if err := f.check("ListLists"); err != nil {
		return nil, err
	}
	return f.Backend.ListLists(ctx, userID)
}

func (f *faultyBackend) CreateList(ctx context.Context, list models.List) error {
	if err := f.check("CreateList"); err != nil {
		return err
	}
	return f.Backend.CreateList(ctx, list)
}

func (f *faultyBackend) RenameList(ctx context.Context, listID, name string) error {
	if err := f.check("RenameList"); err != nil {
		return err
	}
	return f.Backend.RenameList(ctx, listID, name)
}

func (f *faultyBackend) DeleteList(ctx context.Context, listID string) error {
	if err := f.check("DeleteList"); err != nil {
		return err
	}
	return f.Backend.DeleteList(ctx, listID)
}

func (f *faultyBackend) ListItems(ctx context.Context, listID string) ([]models.Item, error) {
	if err := f.check("ListItems"); err != nil {
		return nil, err
	}
	return f.Backend.ListItems(ctx, listID)
}

func (f *faultyBackend) CreateItem(ctx context.Context, item models.Item) error {
	if err := f.check("CreateItem"); err != nil {
		return err
	}
	f.mu.Lock()
	createFail := f.createFail
	f.mu.Unlock()
	if createFail != nil {
		if err := createFail(item); err != nil {
			return err
		}
	}
	return f.Backend.CreateItem(ctx, item)
}

func (f *faultyBackend) UpdateItem(ctx context.Context, itemID string, update models.ItemUpdate) error {
	if err := f.check("UpdateItem"); err != nil {
		return err
	}
	return f.Backend.UpdateItem(ctx, itemID, update)
}

func (f *faultyBackend) DeleteItem(ctx context.Context, itemID string) error {
	if err := f.check("DeleteItem"); err != nil {
		return err
	}
	return f.Backend.DeleteItem(ctx, itemID)
}

func (f *faultyBackend) IncrementOrdinals(ctx context.Context, listID string, from int) error {
	if err := f.check("IncrementOrdinals"); err != nil {
		return err
	}
	return f.Backend.IncrementOrdinals(ctx, listID, from)
}

func (f *faultyBackend) DecrementOrdinals(ctx context.Context, listID string, below int) error {
	if err := f.check("DecrementOrdinals"); err != nil {
		return err
	}
	return f.Backend.DecrementOrdinals(ctx, listID, below)
}

const testUser = "user-1"

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seedList(t *testing.T, bs *services.BadgerService, name string, age time.Duration) models.List {
	t.Helper()
	list := models.List{
		ID:        "list-" + name,
		UserID:    testUser,
		Name:      name,
		CreatedAt: testNow.Add(-age),
	}
	require.NoError(t, bs.CreateList(context.Background(), list))
	return list
}

// seedItems creates texts as the items of list, the first one on top.
func seedItems(t *testing.T, bs *services.BadgerService, list models.List, texts ...string) []models.Item {
	t.Helper()
	items := make([]models.Item, 0, len(texts))
	for i, text := range texts {
		item := models.Item{
			ID:     fmt.Sprintf("%s-item-%d", list.ID, i),
			UserID: testUser,
			ListID: list.ID,
			Text:   text,
			Index:  i,
		}
		require.NoError(t, bs.CreateItem(context.Background(), item))
		items = append(items, item)
	}
	return items
}

func waitAll(t *testing.T, ops ...*Op) []Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := make([]Result, 0, len(ops))
	for _, op := range ops {
		select {
		case <-op.Done():
			results = append(results, op.Result())
		case <-ctx.Done():
			t.Fatalf("operation did not settle: %v", ctx.Err())
		}
	}
	return results
}

func requireDense(t *testing.T, items []models.Item) {
	t.Helper()
	for i, item := range items {
		require.Equalf(t, i, item.Index, "item %q at position %d", item.Text, i)
	}
}

func texts(items []models.Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Text)
	}
	return out
}
