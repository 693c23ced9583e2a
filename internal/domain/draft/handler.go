package draft

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the persist/resume endpoints used by the questionnaire
// client.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.PUT("/drafts/:sessionId", h.Persist)
	g.GET("/drafts/:sessionId", h.Resume)
}

// Persist accepts a client snapshot. A 409 response carries the stored
// server copy so the client can reconcile and retry.
func (h *Handler) Persist(c echo.Context) error {
	var snap Snapshot
	if err := c.Bind(&snap); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snap.SessionID = c.Param("sessionId")
	if snap.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	stored, err := h.svc.Persist(c.Request().Context(), &snap)
	if err != nil {
		var conflict *ConflictError
		switch {
		case errors.As(err, &conflict):
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error":  "version conflict",
				"stored": conflict.Stored,
			})
		case errors.Is(err, ErrSubmitted):
			return echo.NewHTTPError(http.StatusConflict, "draft already submitted")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, stored)
}

func (h *Handler) Resume(c echo.Context) error {
	snap, err := h.svc.Resume(c.Request().Context(), c.Param("sessionId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "draft not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}
