package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/veo-lists/internal/models"
)

// errNotOwner hides rows of other users behind a 404.
var errNotOwner = errors.New("row belongs to another user")

type createListRequest struct {
	ID        string    `json:"id" validate:"required,uuid"`
	Name      string    `json:"name" validate:"required,max=200"`
	CreatedAt time.Time `json:"created_at"`
}

type renameListRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type createItemRequest struct {
	ID     string `json:"id" validate:"required,uuid"`
	ListID string `json:"list_id" validate:"required,uuid"`
	Text   string `json:"text" validate:"required,max=1000"`
	Done   bool   `json:"done"`
	Index  int    `json:"index" validate:"min=0"`
}

type updateItemRequest struct {
	Text *string `json:"text" validate:"omitempty,min=1,max=1000"`
	Done *bool   `json:"done"`
}

// ownList returns the list with id if it belongs to the session's user.
func (s *Server) ownList(c echo.Context, id string) (*models.List, error) {
	list, err := s.backend.GetList(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if list.UserID != currentSession(c).UserID {
		return nil, errNotOwner
	}
	return list, nil
}

// ownItem returns the item with id if it belongs to the session's user.
func (s *Server) ownItem(c echo.Context, id string) (*models.Item, error) {
	item, err := s.backend.GetItem(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if item.UserID != currentSession(c).UserID {
		return nil, errNotOwner
	}
	return item, nil
}

func (s *Server) listLists(c echo.Context) error {
	lists, err := s.backend.ListLists(c.Request().Context(), currentSession(c).UserID)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, lists)
}

func (s *Server) createList(c echo.Context) error {
	var req createListRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	list := models.List{
		ID:        req.ID,
		UserID:    currentSession(c).UserID,
		Name:      req.Name,
		CreatedAt: req.CreatedAt.UTC(),
	}
	if list.CreatedAt.IsZero() {
		list.CreatedAt = time.Now().UTC()
	}
	if err := s.backend.CreateList(c.Request().Context(), list); err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, list)
}

func (s *Server) getList(c echo.Context) error {
	list, err := s.ownList(c, c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) renameList(c echo.Context) error {
	var req renameListRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	list, err := s.ownList(c, c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	if err := s.backend.RenameList(c.Request().Context(), list.ID, req.Name); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteList(c echo.Context) error {
	list, err := s.ownList(c, c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	if err := s.backend.DeleteList(c.Request().Context(), list.ID); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listItems(c echo.Context) error {
	list, err := s.ownList(c, c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	items, err := s.backend.ListItems(c.Request().Context(), list.ID)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

// newItem checks the target list and returns the item to create.
func (s *Server) newItem(c echo.Context) (models.Item, error) {
	var req createItemRequest
	if err := bind(c, &req); err != nil {
		return models.Item{}, err
	}
	list, err := s.ownList(c, req.ListID)
	if err != nil {
		return models.Item{}, s.httpError(c, err)
	}
	return models.Item{
		ID:     req.ID,
		UserID: list.UserID,
		ListID: list.ID,
		Done:   req.Done,
		Text:   req.Text,
		Index:  req.Index,
	}, nil
}

func (s *Server) createItem(c echo.Context) error {
	item, err := s.newItem(c)
	if err != nil {
		return err
	}
	if err := s.backend.CreateItem(c.Request().Context(), item); err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (s *Server) getItem(c echo.Context) error {
	item, err := s.ownItem(c, c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (s *Server) updateItem(c echo.Context) error {
	var req updateItemRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	item, err := s.ownItem(c, c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	update := models.ItemUpdate{Text: req.Text, Done: req.Done}
	if err := s.backend.UpdateItem(c.Request().Context(), item.ID, update); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteItem(c echo.Context) error {
	item, err := s.ownItem(c, c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	if err := s.backend.DeleteItem(c.Request().Context(), item.ID); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
