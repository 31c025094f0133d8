package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ytakahashi/veo-lists/internal/auth"
	"github.com/ytakahashi/veo-lists/internal/models"
	"github.com/ytakahashi/veo-lists/internal/services"
	"golang.org/x/crypto/bcrypt"
)

type testAPI struct {
	t       *testing.T
	e       *echo.Echo
	backend *services.BadgerService
}

func newTestAPI(t *testing.T, cfg Config) *testAPI {
	t.Helper()
	db, err := services.OpenBadger(services.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	authDB, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = authDB.Close() })

	backend := services.NewBadgerService(db)
	authSvc := auth.NewService(authDB, time.Hour, auth.WithBcryptCost(bcrypt.MinCost))

	e := echo.New()
	NewServer(backend, authSvc, cfg).Register(e)
	return &testAPI{t: t, e: e, backend: backend}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

// signIn registers email and returns a session token.
func (a *testAPI) signIn(email string) *models.Session {
	a.t.Helper()
	creds := map[string]string{"email": email, "password": "s3cret-pass"}
	rec := a.do(http.MethodPost, "/auth/signup", "", creds)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/auth/signin", "", creds)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	var session models.Session
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &session))
	return &session
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAPI_Health(t *testing.T) {
	a := newTestAPI(t, Config{})
	rec := a.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "veo_api_requests_total")
}

func TestAPI_Auth(t *testing.T) {
	a := newTestAPI(t, Config{})
	session := a.signIn("alice@example.com")

	rec := a.do(http.MethodGet, "/auth/session", session.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.Session](t, rec)
	assert.Equal(t, session.UserID, got.UserID)

	// Registering twice conflicts.
	rec = a.do(http.MethodPost, "/auth/signup", "", map[string]string{"email": "alice@example.com", "password": "s3cret-pass"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/auth/signin", "", map[string]string{"email": "alice@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodPost, "/auth/signup", "", map[string]string{"email": "bob@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/auth/signup", "", map[string]string{"email": "not-an-email", "password": "s3cret-pass"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/auth/signup", "", map[string]string{"email": "carol@example.com", "password": strings.Repeat("パ", 30)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/auth/signout", session.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodGet, "/auth/session", session.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_RequiresSession(t *testing.T) {
	a := newTestAPI(t, Config{})

	for _, path := range []string{"/rest/lists", "/auth/session"} {
		rec := a.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)

		rec = a.do(http.MethodGet, path, "bogus", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestAPI_Lists(t *testing.T) {
	a := newTestAPI(t, Config{})
	session := a.signIn("alice@example.com")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	groceries, chores := uuid.NewString(), uuid.NewString()

	for i, id := range []string{groceries, chores} {
		rec := a.do(http.MethodPost, "/rest/lists", session.Token, map[string]any{
			"id": id, "name": "list", "created_at": now.Add(time.Duration(i) * time.Minute),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		created := decode[models.List](t, rec)
		assert.Equal(t, session.UserID, created.UserID)
	}

	rec := a.do(http.MethodGet, "/rest/lists", session.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lists := decode[[]models.List](t, rec)
	require.Len(t, lists, 2)
	assert.Equal(t, chores, lists[0].ID)

	rec = a.do(http.MethodPatch, "/rest/lists/"+chores, session.Token, map[string]string{"name": "housework"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodGet, "/rest/lists/"+chores, session.Token, nil)
	assert.Equal(t, "housework", decode[models.List](t, rec).Name)

	rec = a.do(http.MethodPatch, "/rest/lists/"+chores, session.Token, map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/rest/lists", session.Token, map[string]any{"id": groceries, "name": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodDelete, "/rest/lists/"+chores, session.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodGet, "/rest/lists/"+chores, session.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_RejectsMalformedIDs(t *testing.T) {
	a := newTestAPI(t, Config{})
	alice := a.signIn("alice@example.com")
	mallory := a.signIn("mallory@example.com")

	victim := uuid.NewString()
	rec := a.do(http.MethodPost, "/rest/lists", alice.Token, map[string]any{"id": victim, "name": "groceries"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = a.do(http.MethodPost, "/rest/items", alice.Token, map[string]any{"id": uuid.NewString(), "list_id": victim, "text": "eggs"})
	require.Equal(t, http.StatusCreated, rec.Code)

	nested := victim + "/x"
	requests := []struct {
		path string
		body map[string]any
	}{
		{"/rest/lists", map[string]any{"id": nested, "name": "shadow"}},
		{"/rest/lists", map[string]any{"id": "groceries", "name": "shadow"}},
		{"/rest/items", map[string]any{"id": uuid.NewString(), "list_id": nested, "text": "x"}},
		{"/rest/items", map[string]any{"id": "e1", "list_id": victim, "text": "x"}},
		{"/rpc/insert_item_at", map[string]any{"id": uuid.NewString() + "/e", "list_id": victim, "text": "x"}},
	}
	for _, r := range requests {
		rec := a.do(http.MethodPost, r.path, mallory.Token, r.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s %v", r.path, r.body)
	}

	items, err := a.backend.ListItems(context.Background(), victim)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "eggs", items[0].Text)
}

func TestAPI_OwnerChecks(t *testing.T) {
	a := newTestAPI(t, Config{})
	alice := a.signIn("alice@example.com")
	mallory := a.signIn("mallory@example.com")
	secret, diary := uuid.NewString(), uuid.NewString()

	rec := a.do(http.MethodPost, "/rest/lists", alice.Token, map[string]any{"id": secret, "name": "secret"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = a.do(http.MethodPost, "/rest/items", alice.Token, map[string]any{"id": diary, "list_id": secret, "text": "diary"})
	require.Equal(t, http.StatusCreated, rec.Code)

	requests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/rest/lists/" + secret, nil},
		{http.MethodPatch, "/rest/lists/" + secret, map[string]string{"name": "mine"}},
		{http.MethodDelete, "/rest/lists/" + secret, nil},
		{http.MethodGet, "/rest/lists/" + secret + "/items", nil},
		{http.MethodPost, "/rest/items", map[string]any{"id": uuid.NewString(), "list_id": secret, "text": "x"}},
		{http.MethodGet, "/rest/items/" + diary, nil},
		{http.MethodPatch, "/rest/items/" + diary, map[string]any{"done": true}},
		{http.MethodDelete, "/rest/items/" + diary, nil},
		{http.MethodPost, "/rpc/increment_ordinals", map[string]any{"list_id": secret}},
		{http.MethodPost, "/rpc/delete_item_at", map[string]any{"id": diary}},
	}
	for _, r := range requests {
		rec := a.do(r.method, r.path, mallory.Token, r.body)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", r.method, r.path)
	}

	rec = a.do(http.MethodGet, "/rest/lists", mallory.Token, nil)
	assert.Empty(t, decode[[]models.List](t, rec))

	items, err := a.backend.ListItems(context.Background(), secret)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].Done)
}

func TestAPI_ItemsAndOrdinals(t *testing.T) {
	a := newTestAPI(t, Config{})
	session := a.signIn("alice@example.com")
	tok := session.Token
	list := uuid.NewString()
	ids := map[string]string{"eggs": uuid.NewString(), "milk": uuid.NewString(), "bread": uuid.NewString()}

	rec := a.do(http.MethodPost, "/rest/lists", tok, map[string]any{"id": list, "name": "groceries"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Two-step insert at the top: shift, then create.
	for i, text := range []string{"eggs", "milk"} {
		rec = a.do(http.MethodPost, "/rpc/increment_ordinals", tok, map[string]any{"list_id": list, "from": 0})
		require.Equal(t, http.StatusNoContent, rec.Code)
		rec = a.do(http.MethodPost, "/rest/items", tok, map[string]any{"id": ids[text], "list_id": list, "text": text, "index": 0})
		require.Equal(t, http.StatusCreated, rec.Code, "item %d", i)
	}

	// Atomic insert in the middle.
	rec = a.do(http.MethodPost, "/rpc/insert_item_at", tok, map[string]any{"id": ids["bread"], "list_id": list, "text": "bread", "index": 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodGet, "/rest/lists/"+list+"/items", tok, nil)
	items := decode[[]models.Item](t, rec)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"milk", "bread", "eggs"}, []string{items[0].Text, items[1].Text, items[2].Text})
	for i, item := range items {
		assert.Equal(t, i, item.Index)
		assert.Equal(t, session.UserID, item.UserID)
	}

	bread := "/rest/items/" + ids["bread"]
	rec = a.do(http.MethodPatch, bread, tok, map[string]any{"text": "rye bread", "done": true})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodGet, bread, tok, nil)
	got := decode[models.Item](t, rec)
	assert.Equal(t, "rye bread", got.Text)
	assert.True(t, got.Done)

	rec = a.do(http.MethodPatch, bread, tok, map[string]any{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/rpc/delete_item_at", tok, map[string]any{"id": ids["milk"]})
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Two-step delete at the bottom.
	rec = a.do(http.MethodDelete, "/rest/items/"+ids["eggs"], tok, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodPost, "/rpc/decrement_ordinals", tok, map[string]any{"list_id": list, "below": 1})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(http.MethodGet, "/rest/lists/"+list+"/items", tok, nil)
	items = decode[[]models.Item](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, ids["bread"], items[0].ID)
	assert.Equal(t, 0, items[0].Index)

	rec = a.do(http.MethodPost, "/rpc/decrement_ordinals", tok, map[string]any{"list_id": list, "below": -2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(http.MethodGet, "/rest/items/"+ids["milk"], tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_AuthRateLimit(t *testing.T) {
	a := newTestAPI(t, Config{AuthRate: 0.001})
	creds := map[string]string{"email": "carol@example.com", "password": "s3cret-pass"}

	var limited bool
	for i := 0; i <= authBurst; i++ {
		rec := a.do(http.MethodPost, "/auth/signin", "", creds)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}
