package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	"github.com/ytakahashi/veo-lists/internal/services"
	"github.com/ytakahashi/veo-lists/internal/store"
)

// replyTimeout bounds how long a command waits for the backend before the
// reply token goes stale.
const replyTimeout = 20 * time.Second

// DefaultIdleTimeout is how long a chat session stays cached after the
// user's last message.
const DefaultIdleTimeout = 30 * time.Minute

// Replier sends reply messages. *messaging_api.MessagingApiAPI implements it.
type Replier interface {
	ReplyMessage(req *messaging_api.ReplyMessageRequest) (*messaging_api.ReplyMessageResponse, error)
}

// WebhookHandler turns LINE chat messages into list and item operations.
// Every LINE user gets one store session, created on their first message.
type WebhookHandler struct {
	bot     Replier
	secret  string
	backend services.Backend
	opts    store.Options
	logger  *slog.Logger

	idleTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*chatSession
}

// chatSession serializes the commands of one LINE user.
type chatSession struct {
	mu      sync.Mutex
	sess    *store.Session
	evicted bool

	// lastUsed is guarded by WebhookHandler.mu.
	lastUsed time.Time
}

// Option configures a WebhookHandler.
type Option func(*WebhookHandler)

// WithIdleTimeout sets how long an inactive user's session is kept.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *WebhookHandler) {
		h.idleTimeout = d
	}
}

func NewWebhookHandler(bot Replier, channelSecret string, backend services.Backend, opts store.Options, options ...Option) *WebhookHandler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &WebhookHandler{
		bot:         bot,
		secret:      channelSecret,
		backend:     backend,
		opts:        opts,
		logger:      logger,
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		sessions:    map[string]*chatSession{},
	}
	for _, o := range options {
		o(h)
	}
	return h
}

func getUserID(source webhook.SourceInterface) string {
	switch s := source.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	default:
		return ""
	}
}

func (h *WebhookHandler) HandleWebhook(c echo.Context) error {
	cb, err := webhook.ParseRequest(h.secret, c.Request())
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			h.logger.Warn("invalid signature")
			return c.NoContent(http.StatusBadRequest)
		}
		h.logger.Error("parse request error", "error", err)
		return c.NoContent(http.StatusInternalServerError)
	}

	for _, event := range cb.Events {
		switch e := event.(type) {
		case webhook.MessageEvent:
			switch message := e.Message.(type) {
			case webhook.TextMessageContent:
				userID := getUserID(e.Source)
				if err := h.handleTextMessage(c.Request().Context(), e.ReplyToken, userID, message.Text); err != nil {
					h.logger.Error("error handling text message", "user_id", userID, "error", err)
				}
			}
		case webhook.PostbackEvent:
			userID := getUserID(e.Source)
			if err := h.handlePostback(c.Request().Context(), e.ReplyToken, userID, e.Postback.Data); err != nil {
				h.logger.Error("error handling postback", "user_id", userID, "error", err)
			}
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// withSession runs fn with the user's store session, loading their lists on
// first use. Commands of one user run one at a time.
func (h *WebhookHandler) withSession(ctx context.Context, userID string, fn func(*store.Session) error) error {
	h.evictIdle()

	var cs *chatSession
	for {
		h.mu.Lock()
		cs = h.sessions[userID]
		if cs == nil {
			cs = &chatSession{}
			h.sessions[userID] = cs
		}
		cs.lastUsed = h.now()
		h.mu.Unlock()

		cs.mu.Lock()
		if !cs.evicted {
			break
		}
		// Evicted while we waited for it.
		cs.mu.Unlock()
	}
	defer cs.mu.Unlock()

	if cs.sess == nil {
		sess := store.NewSession(h.backend, userID, h.opts)
		go h.drain("list", userID, sess.Lists().Errors())
		if _, err := sess.Lists().Load(ctx); err != nil {
			sess.Close()
			return err
		}
		cs.sess = sess
	}
	return fn(cs.sess)
}

// drain logs failures reported outside of a waited-for command.
func (h *WebhookHandler) drain(scope, userID string, errs <-chan *store.OpError) {
	for err := range errs {
		h.logger.Debug("store error", "scope", scope, "user_id", userID, "error", err)
	}
}

// evictIdle closes the sessions of users who have been quiet for longer than
// the idle timeout.
func (h *WebhookHandler) evictIdle() {
	if h.idleTimeout <= 0 {
		return
	}
	cutoff := h.now().Add(-h.idleTimeout)

	var idle []*chatSession
	h.mu.Lock()
	for userID, cs := range h.sessions {
		if cs.lastUsed.Before(cutoff) {
			delete(h.sessions, userID)
			idle = append(idle, cs)
		}
	}
	h.mu.Unlock()

	for _, cs := range idle {
		cs.close()
	}
	if len(idle) > 0 {
		h.logger.Debug("evicted idle chat sessions", "count", len(idle))
	}
}

func (cs *chatSession) close() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.evicted = true
	if cs.sess != nil {
		cs.sess.Close()
		cs.sess = nil
	}
}

// Close releases every chat session.
func (h *WebhookHandler) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = map[string]*chatSession{}
	h.mu.Unlock()

	for _, cs := range sessions {
		cs.close()
	}
}

func (h *WebhookHandler) reply(replyToken string, messages ...messaging_api.MessageInterface) error {
	_, err := h.bot.ReplyMessage(
		&messaging_api.ReplyMessageRequest{
			ReplyToken: replyToken,
			Messages:   messages,
		},
	)
	if err != nil {
		h.logger.Error("failed to send reply message", "error", err)
	}
	return err
}

func (h *WebhookHandler) replyMessage(replyToken, text string) error {
	return h.reply(replyToken, &messaging_api.TextMessage{Text: text})
}

func quickReply(text string, actions ...*messaging_api.PostbackAction) *messaging_api.TextMessage {
	items := make([]messaging_api.QuickReplyItem, 0, len(actions))
	for _, a := range actions {
		items = append(items, messaging_api.QuickReplyItem{Action: a})
	}
	return &messaging_api.TextMessage{
		Text:       text,
		QuickReply: &messaging_api.QuickReply{Items: items},
	}
}

func postback(label, data string) *messaging_api.PostbackAction {
	return &messaging_api.PostbackAction{
		Label:       label,
		Data:        data,
		DisplayText: label,
	}
}
