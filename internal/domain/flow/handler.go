package flow

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler serves flow definitions to the questionnaire client and exposes a
// stateless evaluation endpoint so clients without a local evaluator can
// preview visibility and safety flags.
type Handler struct {
	reg *Registry
}

func NewHandler(reg *Registry) *Handler {
	return &Handler{reg: reg}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/flows", h.List)
	g.GET("/flows/:id", h.Get)
	g.POST("/flows/:id/evaluate", h.Evaluate)
}

type flowSummary struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Title   string `json:"title"`
}

// List returns the latest version of every registered flow.
func (h *Handler) List(c echo.Context) error {
	ids := h.reg.IDs()
	out := make([]flowSummary, 0, len(ids))
	for _, id := range ids {
		def, err := h.reg.Latest(id)
		if err != nil {
			continue
		}
		out = append(out, flowSummary{ID: def.ID, Version: def.Version, Title: def.Title})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"flows": out})
}

// Get returns a full definition. Without a version query parameter the
// latest version is served; sessions pin a version and pass it explicitly.
func (h *Handler) Get(c echo.Context) error {
	id := c.Param("id")

	var (
		def *Definition
		err error
	)
	if v := c.QueryParam("version"); v != "" {
		version, convErr := strconv.Atoi(v)
		if convErr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid version")
		}
		def, err = h.reg.Get(id, version)
	} else {
		def, err = h.reg.Latest(id)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "flow not found")
	}
	return c.JSON(http.StatusOK, def)
}

type evaluateRequest struct {
	Version int     `json:"version"`
	Answers Answers `json:"answers"`
}

type evaluateResponse struct {
	VisibleSections []string     `json:"visible_sections"`
	Flags           []SafetyFlag `json:"flags"`
	MissingRequired []string     `json:"missing_required"`
	Blocked         bool         `json:"blocked"`
}

// Evaluate runs the rule evaluator against the posted answers without
// touching any stored state.
func (h *Handler) Evaluate(c echo.Context) error {
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var (
		def *Definition
		err error
	)
	if req.Version > 0 {
		def, err = h.reg.Get(c.Param("id"), req.Version)
	} else {
		def, err = h.reg.Latest(c.Param("id"))
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "flow not found")
	}

	if req.Answers == nil {
		req.Answers = make(Answers)
	}
	eval := Evaluate(def, req.Answers)

	resp := evaluateResponse{
		VisibleSections: eval.VisibleSections,
		Flags:           eval.Flags,
		MissingRequired: MissingRequired(def, req.Answers),
		Blocked:         eval.Knockout(),
	}
	if resp.VisibleSections == nil {
		resp.VisibleSections = []string{}
	}
	if resp.Flags == nil {
		resp.Flags = []SafetyFlag{}
	}
	if resp.MissingRequired == nil {
		resp.MissingRequired = []string{}
	}
	return c.JSON(http.StatusOK, resp)
}
