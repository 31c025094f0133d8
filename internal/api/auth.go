package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/veo-lists/internal/auth"
)

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

// userResponse is a registered user without its password hash.
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (s *Server) signUp(c echo.Context) error {
	var req credentialsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := s.auth.Register(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) || errors.Is(err, auth.ErrInvalidInput) {
			authEvents.WithLabelValues("signup", "rejected").Inc()
		} else {
			authEvents.WithLabelValues("signup", "error").Inc()
		}
		return s.httpError(c, err)
	}
	authEvents.WithLabelValues("signup", "ok").Inc()
	return c.JSON(http.StatusCreated, userResponse{ID: user.ID, Email: user.Email})
}

func (s *Server) signIn(c echo.Context) error {
	var req credentialsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	session, err := s.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			authEvents.WithLabelValues("signin", "rejected").Inc()
		} else {
			authEvents.WithLabelValues("signin", "error").Inc()
		}
		return s.httpError(c, err)
	}
	authEvents.WithLabelValues("signin", "ok").Inc()
	return c.JSON(http.StatusOK, session)
}

func (s *Server) signOut(c echo.Context) error {
	session := currentSession(c)
	if err := s.auth.Logout(c.Request().Context(), session.Token); err != nil {
		authEvents.WithLabelValues("signout", "error").Inc()
		return s.httpError(c, err)
	}
	authEvents.WithLabelValues("signout", "ok").Inc()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getSession(c echo.Context) error {
	return c.JSON(http.StatusOK, currentSession(c))
}
