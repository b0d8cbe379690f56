package assessment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/casewatch/casewatch/internal/domain/patient"
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
	g := api.Group("", auth.RequireRole(auth.RolePublicHealth, auth.RolePublicHealthEnroller, auth.RoleEnroller))
	g.GET("/patients/:id/assessments", h.ListAssessments)
	g.POST("/patients/:id/assessments", h.CreateAssessment)
	g.GET("/patients/:id/laboratories", h.ListLaboratories)
	g.POST("/patients/:id/laboratories", h.CreateLaboratory)
}

// RegisterPublicRoutes mounts the submission link endpoint, which is
// authorized by its token alone.
func (h *Handler) RegisterPublicRoutes(g *echo.Group) {
	g.POST("/report/:token", h.SubmitReport)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, patient.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, patient.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, patient.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// monitoree resolves :id and checks the caller may see it.
func (h *Handler) monitoree(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.patients.Get(ctx, id)
	if err != nil {
		return uuid.Nil, httpError(err)
	}
	ok, err := h.svc.patients.Visible(ctx, auth.JurisdictionIDFromContext(ctx), p)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return uuid.Nil, httpError(patient.ErrForbidden)
	}
	return p.ID, nil
}

func (h *Handler) ListAssessments(c echo.Context) error {
	id, err := h.monitoree(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateAssessment(c echo.Context) error {
	id, err := h.monitoree(c)
	if err != nil {
		return err
	}
	var a Assessment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.Create(ctx, id, &a, auth.ActorFromContext(ctx)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

type reportRequest struct {
	PatientID        uuid.UUID `json:"patient_id"`
	ReportedSymptoms []Symptom `json:"reported_symptoms"`
}

func (h *Handler) SubmitReport(c echo.Context) error {
	var req reportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a := Assessment{ReportedSymptoms: req.ReportedSymptoms}
	if err := h.svc.Submit(c.Request().Context(), c.Param("token"), req.PatientID, &a); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusCreated)
}

func (h *Handler) ListLaboratories(c echo.Context) error {
	id, err := h.monitoree(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListLabs(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateLaboratory(c echo.Context) error {
	id, err := h.monitoree(c)
	if err != nil {
		return err
	}
	var l Laboratory
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddLab(c.Request().Context(), id, &l); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, l)
}
