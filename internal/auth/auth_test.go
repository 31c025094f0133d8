package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestService(t *testing.T, ttl time.Duration) (*Service, *fakeClock) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &fakeClock{now: time.Now()}
	return NewService(db, ttl, WithBcryptCost(bcrypt.MinCost), WithClock(clock.Now)), clock
}

func TestService_RegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()

	user, err := svc.Register(ctx, "  Alice@Example.com ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "correct horse", user.PasswordHash)

	session, err := svc.Login(ctx, "alice@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.UserID)
	assert.NotEmpty(t, session.Token)

	got, err := svc.Lookup(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UserID)
	assert.Equal(t, "alice@example.com", got.Email)
}

func TestService_Register_Rejects(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()

	_, err := svc.Register(ctx, "not an email", "long enough")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Register(ctx, "bob@example.com", "short")
	assert.ErrorIs(t, err, ErrInvalidInput)

	// 25 runes but 75 bytes, past what bcrypt hashes.
	_, err = svc.Register(ctx, "bob@example.com", strings.Repeat("あ", 25))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Register(ctx, "bob@example.com", strings.Repeat("x", MaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Register(ctx, "bob@example.com", "long enough")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "BOB@example.com", "another one")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestService_Login_InvalidCredentials(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()
	_, err := svc.Register(ctx, "carol@example.com", "s3cret-pass")
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{name: "wrong password", email: "carol@example.com", password: "guess-guess"},
		{name: "unknown user", email: "dave@example.com", password: "s3cret-pass"},
		{name: "malformed email", email: "carol", password: "s3cret-pass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestService_Logout(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()
	_, err := svc.Register(ctx, "erin@example.com", "s3cret-pass")
	require.NoError(t, err)
	session, err := svc.Login(ctx, "erin@example.com", "s3cret-pass")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, session.Token))
	_, err = svc.Lookup(ctx, session.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Logging out twice is fine.
	assert.NoError(t, svc.Logout(ctx, session.Token))
}

func TestService_Lookup_Expired(t *testing.T) {
	svc, clock := newTestService(t, time.Hour)
	ctx := context.Background()
	_, err := svc.Register(ctx, "frank@example.com", "s3cret-pass")
	require.NoError(t, err)
	session, err := svc.Login(ctx, "frank@example.com", "s3cret-pass")
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Hour)
	_, err = svc.Lookup(ctx, session.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestService_Lookup_Unknown(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	_, err := svc.Lookup(context.Background(), "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Lookup(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
