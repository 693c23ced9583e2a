package issuance

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telehq/intake/internal/domain/intake"
	"github.com/telehq/intake/internal/domain/review"
	"github.com/telehq/intake/internal/platform/auth"
	"github.com/telehq/intake/internal/platform/render"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	guarded := g.Group("", auth.RequireRole("reviewer"))
	guarded.POST("/cases/:id/issue", h.Issue)
	guarded.POST("/cases/:id/decline", h.Decline)
}

func (h *Handler) Issue(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TemplateID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "template_id is required")
	}

	ctx := c.Request().Context()
	reviewerID := auth.UserIDFromContext(ctx)
	role := primaryRole(auth.RolesFromContext(ctx))

	result, err := h.svc.Issue(ctx, caseID, reviewerID, role, req)
	if err != nil {
		return mapIssuanceError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type declineRequest struct {
	Reason    string `json:"reason"`
	Recipient string `json:"recipient,omitempty"`
}

func (h *Handler) Decline(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	var req declineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}

	ctx := c.Request().Context()
	reviewerID := auth.UserIDFromContext(ctx)
	role := primaryRole(auth.RolesFromContext(ctx))

	if err := h.svc.Decline(ctx, caseID, reviewerID, role, req.Reason, req.Recipient); err != nil {
		return mapIssuanceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"case_id": caseID, "status": intake.StatusDeclined, "refund_due": true})
}

func mapIssuanceError(c echo.Context, err error) error {
	var issErr *IssuanceError
	var conflict *review.ClaimConflictError
	switch {
	case errors.Is(err, intake.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	case errors.Is(err, render.ErrTemplateNotFound):
		return echo.NewHTTPError(http.StatusBadRequest, "unknown template")
	case errors.Is(err, render.ErrMissingData):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrCaseFinalized):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": "claim held by another reviewer", "holder": conflict.Holder})
	case errors.As(err, &issErr):
		if issErr.Kind == KindClaimExpired {
			return echo.NewHTTPError(http.StatusConflict, "claim expired")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "document storage unavailable, retry")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func primaryRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	return roles[0]
}
