package export

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/casewatch/casewatch/internal/domain/patient"
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
	g.POST("/exports", h.RequestExport)
	api.GET("/downloads/:lookup", h.Download)
}

type exportRequest struct {
	ExportType     string    `json:"export_type"`
	JurisdictionID uuid.UUID `json:"jurisdiction_id"`
}

func (h *Handler) RequestExport(c echo.Context) error {
	var body exportRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	req := Request{
		UserID:         auth.UserIDFromContext(ctx),
		UserEmail:      auth.EmailFromContext(ctx),
		Type:           body.ExportType,
		JurisdictionID: body.JurisdictionID,
	}
	queued, err := h.svc.Request(ctx, req, auth.JurisdictionIDFromContext(ctx))
	switch {
	case errors.Is(err, patient.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"id":          queued.ID,
		"export_type": queued.Type,
	})
}

// Download streams a file once; the download is removed afterwards.
func (h *Handler) Download(c echo.Context) error {
	ctx := c.Request().Context()
	d, rc, err := h.svc.Fetch(ctx, c.Param("lookup"), auth.UserIDFromContext(ctx))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", d.Filename))
	if err := c.Stream(http.StatusOK, contentType(d.ExportType), rc); err != nil {
		return err
	}
	if err := h.svc.Consume(ctx, d); err != nil {
		h.svc.logger.Error().Err(err).Str("download_id", d.ID.String()).Msg("failed to remove download")
	}
	return nil
}
