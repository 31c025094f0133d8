package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ytakahashi/veo-lists/internal/models"
	"github.com/ytakahashi/veo-lists/internal/services"
	"github.com/ytakahashi/veo-lists/internal/store"
)

const (
	testSecret = "channel-secret"
	testUser   = "U0123"
)

type fakeReplier struct {
	mu       sync.Mutex
	messages []*messaging_api.TextMessage
}

func (f *fakeReplier) ReplyMessage(req *messaging_api.ReplyMessageRequest) (*messaging_api.ReplyMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range req.Messages {
		if text, ok := m.(*messaging_api.TextMessage); ok {
			f.messages = append(f.messages, text)
		}
	}
	return &messaging_api.ReplyMessageResponse{}, nil
}

func (f *fakeReplier) last(t *testing.T) *messaging_api.TextMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.messages)
	return f.messages[len(f.messages)-1]
}

func (f *fakeReplier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func newTestHandler(t *testing.T) (*WebhookHandler, *fakeReplier, *services.BadgerService) {
	t.Helper()
	db, err := services.OpenBadger(services.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	backend := services.NewBadgerService(db)
	bot := &fakeReplier{}
	h := NewWebhookHandler(bot, testSecret, backend, store.Options{UndoWindow: time.Minute})
	t.Cleanup(h.Close)
	return h, bot, backend
}

func (h *WebhookHandler) send(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, h.handleTextMessage(context.Background(), "reply-token", testUser, text))
}

func postbackData(t *testing.T, msg *messaging_api.TextMessage, label string) string {
	t.Helper()
	require.NotNil(t, msg.QuickReply)
	for _, item := range msg.QuickReply.Items {
		if a, ok := item.Action.(*messaging_api.PostbackAction); ok && a.Label == label {
			return a.Data
		}
	}
	t.Fatalf("no quick reply %q", label)
	return ""
}

func TestHandleTextMessage_Help(t *testing.T) {
	h, bot, _ := newTestHandler(t)
	h.send(t, "ヘルプ")
	assert.Contains(t, bot.last(t).Text, "リスト追加 <名前>")
}

func TestHandleTextMessage_Unknown(t *testing.T) {
	h, bot, _ := newTestHandler(t)
	h.send(t, "こんにちは")
	assert.Zero(t, bot.count())
}

func TestHandleTextMessage_Lists(t *testing.T) {
	h, bot, backend := newTestHandler(t)

	h.send(t, "リスト")
	assert.Contains(t, bot.last(t).Text, "リストはまだありません")

	h.send(t, "リスト追加 買い物")
	assert.Equal(t, "✅ リスト「買い物」を追加しました。", bot.last(t).Text)
	h.send(t, "リスト追加 「仕事」")

	h.send(t, "リスト一覧")
	assert.Equal(t, "📋 リスト一覧 (2件)\n\n1. 仕事\n2. 買い物", bot.last(t).Text)

	h.send(t, "リスト名変更 ２ 食料品")
	assert.Equal(t, "✏️ リスト名を「食料品」に変更しました。", bot.last(t).Text)

	h.send(t, "リスト名変更 9 なし")
	assert.Equal(t, "9番のリストは変更されませんでした。", bot.last(t).Text)

	lists, err := backend.ListLists(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, lists, 2)
	assert.Equal(t, "食料品", lists[1].Name)
}

func TestHandleTextMessage_NoListOpen(t *testing.T) {
	h, bot, _ := newTestHandler(t)
	for _, text := range []string{"一覧", "追加 牛乳", "完了 1", "削除 1", "元に戻す"} {
		h.send(t, text)
		assert.Equal(t, noListOpen, bot.last(t).Text, text)
	}
}

func TestHandleTextMessage_Items(t *testing.T) {
	h, bot, backend := newTestHandler(t)
	h.send(t, "リスト追加 買い物")

	h.send(t, "開く １")
	assert.Contains(t, bot.last(t).Text, "「買い物」にアイテムはありません")

	h.send(t, "追加 牛乳")
	assert.Equal(t, "✅ 「牛乳」を追加しました。", bot.last(t).Text)
	h.send(t, "追加 卵")
	h.send(t, "追加 パン")

	h.send(t, "完了 2")
	assert.Equal(t, "🎉 アイテムを完了しました！", bot.last(t).Text)
	h.send(t, "変更 3 低脂肪乳")

	h.send(t, "一覧")
	assert.Equal(t, "📝 買い物 (3件)\n\n1. ⬜ パン\n2. ✅ 卵\n3. ⬜ 低脂肪乳", bot.last(t).Text)

	h.send(t, "未完了 2")
	assert.Equal(t, "アイテムを未完了に戻しました。", bot.last(t).Text)

	h.send(t, "完了 7")
	assert.Equal(t, "7番のアイテムは変更されませんでした。", bot.last(t).Text)

	listID := h.sessions[testUser].sess.Current().ListID()
	items, err := backend.ListItems(context.Background(), listID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, i, item.Index)
	}
	assert.Equal(t, "低脂肪乳", items[2].Text)
	assert.False(t, items[1].Done)
}

func TestHandleTextMessage_DeleteAndUndo(t *testing.T) {
	h, bot, backend := newTestHandler(t)
	h.send(t, "リスト追加 買い物")
	h.send(t, "開く 1")
	h.send(t, "追加 牛乳")
	h.send(t, "追加 卵")

	h.send(t, "削除 2")
	msg := bot.last(t)
	assert.Equal(t, "🗑️ 「牛乳」を削除しました。", msg.Text)
	data := postbackData(t, msg, "元に戻す")

	listID := h.sessions[testUser].sess.Current().ListID()
	items, err := backend.ListItems(context.Background(), listID)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, h.handlePostback(context.Background(), "reply-token", testUser, data))
	assert.Equal(t, "↩️ 「牛乳」を元に戻しました。", bot.last(t).Text)

	items, err = backend.ListItems(context.Background(), listID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "牛乳", items[1].Text)
	assert.Equal(t, 1, items[1].Index)

	h.send(t, "元に戻す")
	assert.Equal(t, "元に戻せる削除はありません。", bot.last(t).Text)

	h.send(t, "削除 5")
	assert.Equal(t, "5番のアイテムは見つかりませんでした。", bot.last(t).Text)
}

func TestHandlePostback_DeleteList(t *testing.T) {
	h, bot, backend := newTestHandler(t)
	h.send(t, "リスト追加 買い物")
	h.send(t, "開く 1")
	h.send(t, "追加 牛乳")

	h.send(t, "リスト削除 1")
	msg := bot.last(t)
	assert.Contains(t, msg.Text, "リスト「買い物」")
	no := postbackData(t, msg, "いいえ")
	yes := postbackData(t, msg, "はい")

	ctx := context.Background()
	require.NoError(t, h.handlePostback(ctx, "reply-token", testUser, no))
	assert.Equal(t, "リストの削除をキャンセルしました。", bot.last(t).Text)
	lists, err := backend.ListLists(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, lists, 1)

	require.NoError(t, h.handlePostback(ctx, "reply-token", testUser, yes))
	assert.Equal(t, "🗑️ リスト「買い物」を削除しました。", bot.last(t).Text)
	lists, err = backend.ListLists(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, lists)
	assert.Nil(t, h.sessions[testUser].sess.Current())

	// A second tap on the same quick reply finds nothing.
	require.NoError(t, h.handlePostback(ctx, "reply-token", testUser, yes))
	assert.Equal(t, "リストはすでに削除されています。", bot.last(t).Text)
}

func TestHandleTextMessage_ShowsChangesMadeElsewhere(t *testing.T) {
	h, bot, backend := newTestHandler(t)
	ctx := context.Background()
	h.send(t, "リスト追加 買い物")
	h.send(t, "開く 1")

	// Another client adds a list and an item behind the bot's back.
	require.NoError(t, backend.CreateList(ctx, models.List{
		ID: uuid.NewString(), UserID: testUser, Name: "仕事", CreatedAt: time.Now().Add(time.Hour),
	}))
	listID := h.sessions[testUser].sess.Current().ListID()
	require.NoError(t, backend.InsertItemAt(ctx, models.Item{
		ID: uuid.NewString(), UserID: testUser, ListID: listID, Text: "牛乳",
	}))

	h.send(t, "リスト")
	assert.Equal(t, "📋 リスト一覧 (2件)\n\n1. 仕事\n2. 買い物", bot.last(t).Text)
	h.send(t, "一覧")
	assert.Equal(t, "📝 買い物 (1件)\n\n1. ⬜ 牛乳", bot.last(t).Text)
}

func TestWithSession_EvictsIdleSessions(t *testing.T) {
	h, bot, _ := newTestHandler(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	h.idleTimeout = time.Minute

	h.send(t, "リスト追加 買い物")
	old := h.sessions[testUser].sess

	now = now.Add(2 * time.Minute)
	require.NoError(t, h.handleTextMessage(context.Background(), "reply-token", "U-other", "リスト"))

	h.mu.Lock()
	_, cached := h.sessions[testUser]
	count := len(h.sessions)
	h.mu.Unlock()
	assert.False(t, cached)
	assert.Equal(t, 1, count)

	res := old.Lists().Insert(context.Background(), "x").Result()
	assert.ErrorIs(t, res.Err, store.ErrClosed)

	// The next message starts a fresh session from the backend.
	h.send(t, "リスト")
	assert.Equal(t, "📋 リスト一覧 (1件)\n\n1. 買い物", bot.last(t).Text)
	assert.NotSame(t, old, h.sessions[testUser].sess)
}

func TestHandleTextMessage_EmptyUser(t *testing.T) {
	h, bot, _ := newTestHandler(t)
	require.NoError(t, h.handleTextMessage(context.Background(), "reply-token", "", "ヘルプ"))
	assert.Zero(t, bot.count())
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestHandleWebhook(t *testing.T) {
	body := `{"destination":"Uxxx","events":[{"type":"message","mode":"active","timestamp":1700000000000,` +
		`"source":{"type":"user","userId":"` + testUser + `"},"webhookEventId":"01H","deliveryContext":{"isRedelivery":false},` +
		`"replyToken":"reply-token","message":{"type":"text","id":"1","quoteToken":"q","text":"ヘルプ"}}]}`

	tests := []struct {
		name      string
		signature string
		status    int
		replies   int
	}{
		{name: "valid signature", signature: sign(body), status: http.StatusOK, replies: 1},
		{name: "invalid signature", signature: "bogus", status: http.StatusBadRequest, replies: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, bot, _ := newTestHandler(t)
			e := echo.New()
			e.POST("/webhook", h.HandleWebhook)

			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
			req.Header.Set("X-Line-Signature", tt.signature)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.replies, bot.count())
		})
	}
}
