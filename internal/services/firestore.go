package services

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/ytakahashi/veo-lists/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	listsCollection = "lists"
	itemsCollection = "items"
)

type FirestoreService struct {
	client *firestore.Client
}

var (
	_ Backend         = (*FirestoreService)(nil)
	_ OrdinalInserter = (*FirestoreService)(nil)
	_ OrdinalDeleter  = (*FirestoreService)(nil)
)

func NewFirestoreService(ctx context.Context, projectID string) (*FirestoreService, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreService{
		client: client,
	}, nil
}

func (fs *FirestoreService) Close() error {
	return fs.client.Close()
}

func (fs *FirestoreService) ListLists(ctx context.Context, userID string) ([]models.List, error) {
	iter := fs.client.Collection(listsCollection).
		Where("userId", "==", userID).
		OrderBy("createdAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	lists := []models.List{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate lists: %w", mapFirestoreError(err))
		}

		var list models.List
		if err := doc.DataTo(&list); err != nil {
			return nil, fmt.Errorf("failed to unmarshal list %s: %w: %v", doc.Ref.ID, ErrDecode, err)
		}

		lists = append(lists, list)
	}

	return lists, nil
}

func (fs *FirestoreService) GetList(ctx context.Context, listID string) (*models.List, error) {
	doc, err := fs.client.Collection(listsCollection).Doc(listID).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get list: %w", mapFirestoreError(err))
	}

	var list models.List
	if err := doc.DataTo(&list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal list %s: %w: %v", listID, ErrDecode, err)
	}

	return &list, nil
}

func (fs *FirestoreService) CreateList(ctx context.Context, list models.List) error {
	_, err := fs.client.Collection(listsCollection).Doc(list.ID).Create(ctx, list)
	if err != nil {
		return fmt.Errorf("failed to create list: %w", mapFirestoreError(err))
	}

	return nil
}

func (fs *FirestoreService) RenameList(ctx context.Context, listID, name string) error {
	_, err := fs.client.Collection(listsCollection).Doc(listID).Update(ctx, []firestore.Update{
		{Path: "name", Value: name},
	})
	if err != nil {
		return fmt.Errorf("failed to rename list: %w", mapFirestoreError(err))
	}

	return nil
}

func (fs *FirestoreService) DeleteList(ctx context.Context, listID string) error {
	listRef := fs.client.Collection(listsCollection).Doc(listID)
	items := fs.client.Collection(itemsCollection).Where("listId", "==", listID)

	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(listRef); err != nil {
			return err
		}
		docs, err := tx.Documents(items).GetAll()
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := tx.Delete(doc.Ref); err != nil {
				return err
			}
		}
		return tx.Delete(listRef)
	})
	if err != nil {
		return fmt.Errorf("failed to delete list: %w", mapFirestoreError(err))
	}

	return nil
}

func (fs *FirestoreService) ListItems(ctx context.Context, listID string) ([]models.Item, error) {
	iter := fs.client.Collection(itemsCollection).
		Where("listId", "==", listID).
		OrderBy("index", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	items := []models.Item{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate items: %w", mapFirestoreError(err))
		}

		var item models.Item
		if err := doc.DataTo(&item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item %s: %w: %v", doc.Ref.ID, ErrDecode, err)
		}

		items = append(items, item)
	}

	return items, nil
}

func (fs *FirestoreService) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	doc, err := fs.client.Collection(itemsCollection).Doc(itemID).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", mapFirestoreError(err))
	}

	var item models.Item
	if err := doc.DataTo(&item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item %s: %w: %v", itemID, ErrDecode, err)
	}

	return &item, nil
}

func (fs *FirestoreService) CreateItem(ctx context.Context, item models.Item) error {
	_, err := fs.client.Collection(itemsCollection).Doc(item.ID).Create(ctx, item)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", mapFirestoreError(err))
	}

	return nil
}

func (fs *FirestoreService) UpdateItem(ctx context.Context, itemID string, update models.ItemUpdate) error {
	var updates []firestore.Update
	if update.Text != nil {
		updates = append(updates, firestore.Update{Path: "text", Value: *update.Text})
	}
	if update.Done != nil {
		updates = append(updates, firestore.Update{Path: "done", Value: *update.Done})
	}
	if len(updates) == 0 {
		return nil
	}

	_, err := fs.client.Collection(itemsCollection).Doc(itemID).Update(ctx, updates)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", mapFirestoreError(err))
	}

	return nil
}

func (fs *FirestoreService) DeleteItem(ctx context.Context, itemID string) error {
	ref := fs.client.Collection(itemsCollection).Doc(itemID)
	_, err := ref.Delete(ctx, firestore.Exists)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", mapFirestoreError(err))
	}

	return nil
}

func (fs *FirestoreService) IncrementOrdinals(ctx context.Context, listID string, from int) error {
	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fs.shift(tx, listID, ">=", from, 1)
	})
	if err != nil {
		return fmt.Errorf("failed to increment ordinals: %w", mapFirestoreError(err))
	}

	return nil
}

func (fs *FirestoreService) DecrementOrdinals(ctx context.Context, listID string, below int) error {
	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fs.shift(tx, listID, ">", below, -1)
	})
	if err != nil {
		return fmt.Errorf("failed to decrement ordinals: %w", mapFirestoreError(err))
	}

	return nil
}

func (fs *FirestoreService) InsertItemAt(ctx context.Context, item models.Item) error {
	ref := fs.client.Collection(itemsCollection).Doc(item.ID)
	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := fs.shift(tx, item.ListID, ">=", item.Index, 1); err != nil {
			return err
		}
		return tx.Create(ref, item)
	})
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", mapFirestoreError(err))
	}

	return nil
}

func (fs *FirestoreService) DeleteItemAt(ctx context.Context, item models.Item) error {
	ref := fs.client.Collection(itemsCollection).Doc(item.ID)
	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored models.Item
		if err := doc.DataTo(&stored); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		// All reads must happen before the first write of a transaction.
		if err := fs.shift(tx, stored.ListID, ">", stored.Index, -1); err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", mapFirestoreError(err))
	}

	return nil
}

// shift adds delta to the index of every item of the list matching op value.
func (fs *FirestoreService) shift(tx *firestore.Transaction, listID, op string, value, delta int) error {
	q := fs.client.Collection(itemsCollection).
		Where("listId", "==", listID).
		Where("index", op, value)
	docs, err := tx.Documents(q).GetAll()
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := tx.Update(doc.Ref, []firestore.Update{
			{Path: "index", Value: firestore.Increment(delta)},
		}); err != nil {
			return err
		}
	}
	return nil
}

func mapFirestoreError(err error) error {
	if errors.Is(err, ErrDecode) {
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
