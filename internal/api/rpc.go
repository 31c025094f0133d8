package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/veo-lists/internal/services"
)

type incrementRequest struct {
	ListID string `json:"list_id" validate:"required,max=64"`
	From   int    `json:"from" validate:"min=0"`
}

type decrementRequest struct {
	ListID string `json:"list_id" validate:"required,max=64"`
	Below  int    `json:"below" validate:"min=-1"`
}

type itemRefRequest struct {
	ID string `json:"id" validate:"required,max=64"`
}

func (s *Server) incrementOrdinals(c echo.Context) error {
	var req incrementRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if _, err := s.ownList(c, req.ListID); err != nil {
		return s.httpError(c, err)
	}
	err := s.backend.IncrementOrdinals(c.Request().Context(), req.ListID, req.From)
	ordinalProcedures.WithLabelValues("increment_ordinals", outcome(err)).Inc()
	if err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) decrementOrdinals(c echo.Context) error {
	var req decrementRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if _, err := s.ownList(c, req.ListID); err != nil {
		return s.httpError(c, err)
	}
	err := s.backend.DecrementOrdinals(c.Request().Context(), req.ListID, req.Below)
	ordinalProcedures.WithLabelValues("decrement_ordinals", outcome(err)).Inc()
	if err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// insertItemAt opens a slot at the item's index and creates it. Backends
// without the atomic procedure get the two calls in sequence.
func (s *Server) insertItemAt(c echo.Context) error {
	item, err := s.newItem(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if ins, ok := s.backend.(services.OrdinalInserter); ok {
		err = ins.InsertItemAt(ctx, item)
	} else if err = s.backend.IncrementOrdinals(ctx, item.ListID, item.Index); err == nil {
		if err = s.backend.CreateItem(ctx, item); err != nil {
			if cerr := s.backend.DecrementOrdinals(ctx, item.ListID, item.Index-1); cerr != nil {
				s.logger.Error("failed to close ordinal gap", "list_id", item.ListID, "error", cerr)
			}
		}
	}
	ordinalProcedures.WithLabelValues("insert_item_at", outcome(err)).Inc()
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, item)
}

// deleteItemAt deletes an item and closes the gap it leaves.
func (s *Server) deleteItemAt(c echo.Context) error {
	var req itemRefRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	item, err := s.ownItem(c, req.ID)
	if err != nil {
		return s.httpError(c, err)
	}
	ctx := c.Request().Context()
	if del, ok := s.backend.(services.OrdinalDeleter); ok {
		err = del.DeleteItemAt(ctx, *item)
	} else if err = s.backend.DeleteItem(ctx, item.ID); err == nil {
		err = s.backend.DecrementOrdinals(ctx, item.ListID, item.Index)
	}
	ordinalProcedures.WithLabelValues("delete_item_at", outcome(err)).Inc()
	if err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
