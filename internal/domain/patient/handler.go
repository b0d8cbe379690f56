package patient

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/casewatch/casewatch/internal/domain/jurisdiction"
	"github.com/casewatch/casewatch/internal/platform/auth"
	"github.com/casewatch/casewatch/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RolePublicHealth, auth.RolePublicHealthEnroller, auth.RoleEnroller))
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/patients/:id/household", h.GetHousehold)

	enroll := api.Group("", auth.RequireRole(auth.RolePublicHealthEnroller, auth.RoleEnroller))
	enroll.POST("/patients", h.EnrollPatient)
	enroll.PUT("/patients/:id", h.UpdatePatient)

	workflow := api.Group("", auth.RequireRole(auth.RolePublicHealth, auth.RolePublicHealthEnroller))
	workflow.POST("/patients/:id/status", h.UpdateStatus)
	workflow.POST("/patients/:id/transfer", h.TransferPatient)
}

func userJurisdiction(c echo.Context) uuid.UUID {
	return auth.JurisdictionIDFromContext(c.Request().Context())
}

func actor(c echo.Context) string {
	return auth.ActorFromContext(c.Request().Context())
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, jurisdiction.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// load fetches the monitoree and checks it is visible to the caller.
func (h *Handler) load(c echo.Context) (*Patient, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil, httpError(err)
	}
	ok, err := h.svc.Visible(ctx, userJurisdiction(c), p)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return nil, httpError(ErrForbidden)
	}
	return p, nil
}

func (h *Handler) ListPatients(c echo.Context) error {
	requested := uuid.Nil
	if raw := c.QueryParam("jurisdiction_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid jurisdiction_id")
		}
		requested = id
	}
	workflow := c.QueryParam("workflow")
	if workflow != "" && workflow != "exposure" && workflow != "isolation" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow must be exposure or isolation")
	}

	ctx := c.Request().Context()
	scope, err := h.svc.Scope(ctx, userJurisdiction(c), requested)
	if err != nil {
		return httpError(err)
	}

	pg := pagination.FromContext(c)
	f := ListFilter{JurisdictionIDs: scope, Workflow: workflow, Closed: c.QueryParam("closed") == "true"}
	items, total, err := h.svc.List(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetHousehold(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	members, err := h.svc.Household(c.Request().Context(), p.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, members)
}

func (h *Handler) EnrollPatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if uj := userJurisdiction(c); uj != uuid.Nil && p.JurisdictionID == uuid.Nil {
		p.JurisdictionID = uj
	}
	if p.JurisdictionID != uuid.Nil {
		ok, err := h.svc.Visible(c.Request().Context(), userJurisdiction(c), &p)
		if err != nil {
			return httpError(err)
		}
		if !ok {
			return httpError(ErrForbidden)
		}
	}
	if err := h.svc.Enroll(c.Request().Context(), &p, actor(c)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	var d Details
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdateDetails(c.Request().Context(), p.ID, d, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	var u StatusUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdateStatus(c.Request().Context(), p.ID, u, userJurisdiction(c), actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

type transferRequest struct {
	JurisdictionID uuid.UUID `json:"jurisdiction_id"`
}

func (h *Handler) TransferPatient(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.JurisdictionID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "jurisdiction_id is required")
	}
	t, err := h.svc.Transfer(c.Request().Context(), p.ID, req.JurisdictionID, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}
