package jurisdiction

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/casewatch/casewatch/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RolePublicHealth, auth.RolePublicHealthEnroller, auth.RoleEnroller, auth.RoleAnalyst))
	read.GET("/jurisdictions", h.ListJurisdictions)
	read.GET("/jurisdictions/:id/subtree", h.GetSubtree)
}

func (h *Handler) ListJurisdictions(c echo.Context) error {
	tree, err := h.svc.Tree(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, tree.All())
}

type subtreeResponse struct {
	ID   uuid.UUID   `json:"id"`
	Path string      `json:"path"`
	IDs  []uuid.UUID `json:"ids"`
}

func (h *Handler) GetSubtree(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	tree, err := h.svc.Tree(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	ids := tree.Subtree(id)
	if len(ids) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	return c.JSON(http.StatusOK, subtreeResponse{ID: id, Path: tree.Path(id), IDs: ids})
}
