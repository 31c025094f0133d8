// Package api serves the hosted data API: accounts and sessions under /auth,
// row access under /rest and the ordinal procedures under /rpc.
//
// Every /rest and /rpc route needs a bearer token from /auth/signin, and rows
// of other users answer 404.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ytakahashi/veo-lists/internal/auth"
	"github.com/ytakahashi/veo-lists/internal/models"
	"github.com/ytakahashi/veo-lists/internal/services"
	"golang.org/x/time/rate"
)

// Authenticator is the account and session service behind /auth.
type Authenticator interface {
	Register(ctx context.Context, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.Session, error)
	Logout(ctx context.Context, token string) error
	Lookup(ctx context.Context, token string) (*models.Session, error)
}

// Config configures the API.
type Config struct {
	// AuthRate limits sign-up and sign-in requests per second per client IP.
	// Zero disables the limit.
	AuthRate float64

	Logger *slog.Logger
}

// Server holds the API's collaborators.
type Server struct {
	backend services.Backend
	auth    Authenticator
	cfg     Config
	logger  *slog.Logger
}

// NewServer returns an API over backend and authenticator.
func NewServer(backend services.Backend, authenticator Authenticator, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		backend: backend,
		auth:    authenticator,
		cfg:     cfg,
		logger:  logger,
	}
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}

// Register mounts the API on e. It also sets e's validator.
func (s *Server) Register(e *echo.Echo) {
	e.Validator = &requestValidator{validate: validator.New()}
	e.Use(metricsMiddleware)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	requireSession := s.sessionMiddleware()

	a := e.Group("/auth")
	var limit []echo.MiddlewareFunc
	if s.cfg.AuthRate > 0 {
		store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:  rate.Limit(s.cfg.AuthRate),
			Burst: authBurst,
		})
		limit = append(limit, middleware.RateLimiter(store))
	}
	a.POST("/signup", s.signUp, limit...)
	a.POST("/signin", s.signIn, limit...)
	a.POST("/signout", s.signOut, requireSession)
	a.GET("/session", s.getSession, requireSession)

	r := e.Group("/rest", requireSession)
	r.GET("/lists", s.listLists)
	r.POST("/lists", s.createList)
	r.GET("/lists/:id", s.getList)
	r.PATCH("/lists/:id", s.renameList)
	r.DELETE("/lists/:id", s.deleteList)
	r.GET("/lists/:id/items", s.listItems)
	r.POST("/items", s.createItem)
	r.GET("/items/:id", s.getItem)
	r.PATCH("/items/:id", s.updateItem)
	r.DELETE("/items/:id", s.deleteItem)

	p := e.Group("/rpc", requireSession)
	p.POST("/increment_ordinals", s.incrementOrdinals)
	p.POST("/decrement_ordinals", s.decrementOrdinals)
	p.POST("/insert_item_at", s.insertItemAt)
	p.POST("/delete_item_at", s.deleteItemAt)
}

const sessionKey = "session"

// authBurst is how many sign-ins a client may make back to back.
const authBurst = 5

// sessionMiddleware resolves the bearer token to a session.
func (s *Server) sessionMiddleware() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(token string, c echo.Context) (bool, error) {
			session, err := s.auth.Lookup(c.Request().Context(), token)
			if errors.Is(err, auth.ErrSessionNotFound) || errors.Is(err, auth.ErrSessionExpired) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			c.Set(sessionKey, session)
			return true, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired session").SetInternal(err)
		},
	})
}

func currentSession(c echo.Context) *models.Session {
	session, _ := c.Get(sessionKey).(*models.Session)
	return session
}

// httpError maps backend and auth errors to HTTP errors.
func (s *Server) httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, errNotOwner):
		return echo.NewHTTPError(http.StatusNotFound, "not found").SetInternal(err)
	case errors.Is(err, services.ErrConflict), errors.Is(err, auth.ErrUserExists):
		return echo.NewHTTPError(http.StatusConflict, "already exists").SetInternal(err)
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, services.ErrInvalidID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	case errors.Is(err, auth.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials").SetInternal(err)
	case errors.Is(err, services.ErrDecode):
		s.logger.Error("stored row is malformed", "path", c.Path(), "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "malformed row").SetInternal(err)
	default:
		s.logger.Error("request failed", "path", c.Path(), "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

// bind decodes and validates the request body into v.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return err
	}
	return c.Validate(v)
}
