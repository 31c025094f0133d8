// Package client talks to the data API over HTTP. Client implements
// services.Backend, so stores can run against a remote server the same way
// they run against an embedded database.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ytakahashi/veo-lists/internal/models"
	"github.com/ytakahashi/veo-lists/internal/services"
)

// ErrUnauthorized is returned when the server rejects the session token.
var ErrUnauthorized = errors.New("not signed in")

// APIError is an unexpected error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client is an HTTP services.Backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      func() string
}

var (
	_ services.Backend         = (*Client)(nil)
	_ services.OrdinalInserter = (*Client)(nil)
	_ services.OrdinalDeleter  = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the source of the bearer token sent with every request.
func WithToken(token func() string) Option {
	return func(c *Client) { c.token = token }
}

// New returns a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		token:      func() string { return "" },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorResponse struct {
	Message string `json:"message"`
}

// do sends body as JSON and decodes the response into out when out is not nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: %w: %v", method, path, services.ErrDecode, err)
		}
		return nil
	}

	var e errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, services.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s %s: %w", method, path, services.ErrConflict)
	case http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case http.StatusBadGateway:
		if e.Message == "malformed row" {
			return fmt.Errorf("%s %s: %w", method, path, services.ErrDecode)
		}
	}
	return &APIError{Status: resp.StatusCode, Message: e.Message}
}

func (c *Client) ListLists(ctx context.Context, userID string) ([]models.List, error) {
	var lists []models.List
	if err := c.do(ctx, http.MethodGet, "/rest/lists", nil, &lists); err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	if lists == nil {
		lists = []models.List{}
	}
	return lists, nil
}

func (c *Client) GetList(ctx context.Context, listID string) (*models.List, error) {
	var list models.List
	if err := c.do(ctx, http.MethodGet, "/rest/lists/"+url.PathEscape(listID), nil, &list); err != nil {
		return nil, fmt.Errorf("failed to get list: %w", err)
	}
	return &list, nil
}

func (c *Client) CreateList(ctx context.Context, list models.List) error {
	body := map[string]any{"id": list.ID, "name": list.Name, "created_at": list.CreatedAt}
	if err := c.do(ctx, http.MethodPost, "/rest/lists", body, nil); err != nil {
		return fmt.Errorf("failed to create list: %w", err)
	}
	return nil
}

func (c *Client) RenameList(ctx context.Context, listID, name string) error {
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPatch, "/rest/lists/"+url.PathEscape(listID), body, nil); err != nil {
		return fmt.Errorf("failed to rename list: %w", err)
	}
	return nil
}

func (c *Client) DeleteList(ctx context.Context, listID string) error {
	if err := c.do(ctx, http.MethodDelete, "/rest/lists/"+url.PathEscape(listID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete list: %w", err)
	}
	return nil
}

func (c *Client) ListItems(ctx context.Context, listID string) ([]models.Item, error) {
	var items []models.Item
	if err := c.do(ctx, http.MethodGet, "/rest/lists/"+url.PathEscape(listID)+"/items", nil, &items); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	if items == nil {
		items = []models.Item{}
	}
	return items, nil
}

func (c *Client) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	var item models.Item
	if err := c.do(ctx, http.MethodGet, "/rest/items/"+url.PathEscape(itemID), nil, &item); err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

func (c *Client) CreateItem(ctx context.Context, item models.Item) error {
	if err := c.do(ctx, http.MethodPost, "/rest/items", item, nil); err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

func (c *Client) UpdateItem(ctx context.Context, itemID string, update models.ItemUpdate) error {
	if update.Empty() {
		return nil
	}
	if err := c.do(ctx, http.MethodPatch, "/rest/items/"+url.PathEscape(itemID), update, nil); err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return nil
}

func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	if err := c.do(ctx, http.MethodDelete, "/rest/items/"+url.PathEscape(itemID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func (c *Client) IncrementOrdinals(ctx context.Context, listID string, from int) error {
	body := map[string]any{"list_id": listID, "from": from}
	if err := c.do(ctx, http.MethodPost, "/rpc/increment_ordinals", body, nil); err != nil {
		return fmt.Errorf("failed to increment ordinals: %w", err)
	}
	return nil
}

func (c *Client) DecrementOrdinals(ctx context.Context, listID string, below int) error {
	body := map[string]any{"list_id": listID, "below": below}
	if err := c.do(ctx, http.MethodPost, "/rpc/decrement_ordinals", body, nil); err != nil {
		return fmt.Errorf("failed to decrement ordinals: %w", err)
	}
	return nil
}

func (c *Client) InsertItemAt(ctx context.Context, item models.Item) error {
	if err := c.do(ctx, http.MethodPost, "/rpc/insert_item_at", item, nil); err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

func (c *Client) DeleteItemAt(ctx context.Context, item models.Item) error {
	body := map[string]string{"id": item.ID}
	if err := c.do(ctx, http.MethodPost, "/rpc/delete_item_at", body, nil); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}
