package analytics

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/casewatch/casewatch/internal/domain/jurisdiction"
	"github.com/casewatch/casewatch/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePublicHealth, auth.RolePublicHealthEnroller, auth.RoleAnalyst))
	g.GET("/analytics/:jurisdiction_id", h.GetLatest)
}

func (h *Handler) GetLatest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("jurisdiction_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid jurisdiction_id")
	}
	ctx := c.Request().Context()
	ok, err := h.svc.Visible(ctx, auth.JurisdictionIDFromContext(ctx), id)
	if errors.Is(err, jurisdiction.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "jurisdiction is outside your scope")
	}

	a, err := h.svc.Latest(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}
