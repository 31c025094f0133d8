package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ytakahashi/veo-lists/internal/models"
)

// Event is a change of the signed-in state.
type Event string

const (
	// EventInitialSession is the first event of every Changes stream and
	// carries the state at subscription time.
	EventInitialSession Event = "initial_session"
	EventSignedIn       Event = "signed_in"
	EventSignedOut      Event = "signed_out"
)

// Change is one element of the Changes stream. Session is nil when signed out.
type Change struct {
	Event   Event
	Session *models.Session
}

const changesBuffer = 8

// ErrInvalidCredentials is returned by SignIn for a wrong email or password.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Auth signs the user in and out against the API and keeps the session token
// in a CredentialStore.
type Auth struct {
	client *Client
	store  *CredentialStore
	logger *slog.Logger

	mu      sync.Mutex
	session *models.Session
	subs    map[chan Change]struct{}
}

// NewAuth returns an Auth for the API at baseURL. Its Backend sends the
// session token with every request.
func NewAuth(baseURL string, store *CredentialStore, logger *slog.Logger, opts ...Option) *Auth {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Auth{
		store:  store,
		logger: logger,
		subs:   map[chan Change]struct{}{},
	}
	a.client = New(baseURL, append(opts, WithToken(a.Token))...)
	return a
}

// Backend returns the authenticated API client.
func (a *Auth) Backend() *Client {
	return a.client
}

// Token returns the current session token, or "".
func (a *Auth) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return ""
	}
	return a.session.Token
}

// Session returns the current session, or nil when signed out.
func (a *Auth) Session() *models.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	s := *a.session
	return &s
}

// Restore picks up the stored token and checks it with the server. A token
// the server rejects is forgotten.
func (a *Auth) Restore(ctx context.Context) (*models.Session, error) {
	creds, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	if creds == nil {
		a.set(EventInitialSession, nil)
		return nil, nil
	}

	a.mu.Lock()
	a.session = &models.Session{Token: creds.Token, Email: creds.Email}
	a.mu.Unlock()

	var session models.Session
	err = a.client.do(ctx, http.MethodGet, "/auth/session", nil, &session)
	if errors.Is(err, ErrUnauthorized) {
		a.logger.Info("stored session is no longer valid")
		if creds.Source == "file" {
			if err := a.store.Delete(); err != nil {
				a.logger.Warn("failed to remove credentials", "error", err)
			}
		}
		a.set(EventInitialSession, nil)
		return nil, nil
	}
	if err != nil {
		a.set(EventInitialSession, nil)
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}

	a.set(EventInitialSession, &session)
	return a.Session(), nil
}

// SignUp registers a new account. It does not sign in.
func (a *Auth) SignUp(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}
	if err := a.client.do(ctx, http.MethodPost, "/auth/signup", body, nil); err != nil {
		return fmt.Errorf("failed to sign up: %w", err)
	}
	return nil
}

// SignIn opens a session and stores its token.
func (a *Auth) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	body := map[string]string{"email": email, "password": password}
	var session models.Session
	err := a.client.do(ctx, http.MethodPost, "/auth/signin", body, &session)
	if errors.Is(err, ErrUnauthorized) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	if err := a.store.Save(Credentials{
		Token:     session.Token,
		Email:     session.Email,
		ExpiresAt: session.ExpiresAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	a.set(EventSignedIn, &session)
	return a.Session(), nil
}

// SignOut ends the session on the server and forgets the token.
func (a *Auth) SignOut(ctx context.Context) error {
	if a.Token() != "" {
		err := a.client.do(ctx, http.MethodPost, "/auth/signout", nil, nil)
		if err != nil && !errors.Is(err, ErrUnauthorized) {
			return fmt.Errorf("failed to sign out: %w", err)
		}
	}
	if err := a.store.Delete(); err != nil {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	a.set(EventSignedOut, nil)
	return nil
}

// Changes streams sign-in state changes until ctx is done. The first element
// is always EventInitialSession. Slow readers miss events rather than block
// the sender.
func (a *Auth) Changes(ctx context.Context) <-chan Change {
	ch := make(chan Change, changesBuffer)

	a.mu.Lock()
	ch <- Change{Event: EventInitialSession, Session: copySession(a.session)}
	a.subs[ch] = struct{}{}
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		delete(a.subs, ch)
		close(ch)
		a.mu.Unlock()
	}()
	return ch
}

func (a *Auth) set(event Event, session *models.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = copySession(session)
	for ch := range a.subs {
		select {
		case ch <- Change{Event: event, Session: copySession(session)}:
		default:
			a.logger.Warn("auth change dropped", "event", event)
		}
	}
}

func copySession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
