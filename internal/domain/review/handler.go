package review

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telehq/intake/internal/domain/intake"
	"github.com/telehq/intake/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	guarded := g.Group("", auth.RequireRole("reviewer"))
	guarded.POST("/cases/:id/claim", h.Claim)
	guarded.POST("/cases/:id/release", h.Release)
}

// Claim returns 200 with granted=true, or 200 with granted=false and the
// current holder. A held case is an expected outcome, not an error page.
func (h *Handler) Claim(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	ctx := c.Request().Context()
	reviewerID := auth.UserIDFromContext(ctx)
	role := primaryRole(auth.RolesFromContext(ctx))

	result, err := h.svc.Claim(ctx, caseID, reviewerID, role)
	if err != nil {
		switch {
		case errors.Is(err, intake.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "case not found")
		case errors.Is(err, ErrNotClaimable):
			return echo.NewHTTPError(http.StatusConflict, "case is not claimable")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Release(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	ctx := c.Request().Context()
	reviewerID := auth.UserIDFromContext(ctx)
	role := primaryRole(auth.RolesFromContext(ctx))

	if err := h.svc.Release(ctx, caseID, reviewerID, role); err != nil {
		switch {
		case errors.Is(err, intake.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "case not found")
		case errors.Is(err, ErrNotHolder):
			return echo.NewHTTPError(http.StatusConflict, "claim not held by caller")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func primaryRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	return roles[0]
}
