package intake

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telehq/intake/internal/domain/flow"
	"github.com/telehq/intake/internal/platform/auth"
	"github.com/telehq/intake/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/sessions/:sessionId/submit", h.Submit)

	review := g.Group("", auth.RequireRole("reviewer"))
	review.GET("/cases", h.ListCases)
	review.GET("/cases/:id", h.GetCase)
	review.POST("/cases/:id/request-info", h.RequestInfo)
	review.POST("/cases/:id/escalate", h.Escalate)
	review.POST("/cases/:id/complete", h.Complete)
	review.POST("/cases/:id/cancel", h.Cancel)
}

// Submit finalizes a session. Validation and knockout failures are typed
// results, not server errors: the client branches on them.
func (h *Handler) Submit(c echo.Context) error {
	sessionID := c.Param("sessionId")
	actorID := auth.UserIDFromContext(c.Request().Context())

	created, err := h.svc.SubmitFlow(c.Request().Context(), sessionID, actorID)
	if err != nil {
		var vErr *flow.ValidationError
		var kErr *flow.KnockoutError
		switch {
		case errors.As(err, &kErr):
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error":   "knockout",
				"message": kErr.Error(),
				"flags":   kErr.Flags,
			})
		case errors.As(err, &vErr):
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"error":   "validation",
				"missing": vErr.Missing,
			})
		case errors.Is(err, ErrDraftNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "no draft for session")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, map[string]string{"case_id": created.ID.String()})
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	rec, visible, err := h.svc.Summary(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "case not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"case":    rec,
		"summary": visible,
	})
}

type caseActionRequest struct {
	Note   string `json:"note,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RequestInfo moves a held case to pending_info, releasing the claim until
// the respondent replies.
func (h *Handler) RequestInfo(c echo.Context) error {
	return h.reviewerAction(c, func(ctx context.Context, id uuid.UUID, actorID, role string, req caseActionRequest) (*Case, error) {
		return h.svc.RequestInfo(ctx, id, actorID, role, req.Note)
	})
}

// Escalate moves a held case to the escalated queue.
func (h *Handler) Escalate(c echo.Context) error {
	return h.reviewerAction(c, func(ctx context.Context, id uuid.UUID, actorID, role string, req caseActionRequest) (*Case, error) {
		return h.svc.Escalate(ctx, id, actorID, role, req.Reason)
	})
}

// Complete closes out a finalized case.
func (h *Handler) Complete(c echo.Context) error {
	return h.reviewerAction(c, func(ctx context.Context, id uuid.UUID, actorID, role string, req caseActionRequest) (*Case, error) {
		return h.svc.Complete(ctx, id, actorID, role)
	})
}

// Cancel abandons a case that has not reached an outcome.
func (h *Handler) Cancel(c echo.Context) error {
	return h.reviewerAction(c, func(ctx context.Context, id uuid.UUID, actorID, role string, req caseActionRequest) (*Case, error) {
		return h.svc.Cancel(ctx, id, actorID, role, req.Reason)
	})
}

func (h *Handler) reviewerAction(c echo.Context, fn func(ctx context.Context, id uuid.UUID, actorID, role string, req caseActionRequest) (*Case, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	var req caseActionRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	ctx := c.Request().Context()
	actorID := auth.UserIDFromContext(ctx)
	role := ""
	if roles := auth.RolesFromContext(ctx); len(roles) > 0 {
		role = roles[0]
	}

	rec, err := fn(ctx, id, actorID, role, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "case not found")
		case errors.Is(err, ErrStaleClaim):
			return echo.NewHTTPError(http.StatusConflict, "claim no longer held")
		case errors.Is(err, ErrInvalidTransition):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListCases(c echo.Context) error {
	pg := pagination.FromContext(c)
	status := Status(c.QueryParam("status"))
	items, total, err := h.svc.ListCases(c.Request().Context(), status, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Case{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
