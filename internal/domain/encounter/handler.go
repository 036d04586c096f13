package encounter

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/encounters", h.Create)
	api.GET("/encounters/:id", h.Get)
	api.PUT("/encounters/:id/status", h.UpdateStatus)
	api.GET("/patients/:id/encounters", h.ListByPatient)
}

type createInput struct {
	PatientID   string  `json:"patient_id"`
	ProviderID  string  `json:"provider_id"`
	Status      string  `json:"status"`
	Reason      string  `json:"reason"`
	PeriodStart *string `json:"period_start"`
	PeriodEnd   *string `json:"period_end"`
}

func (h *Handler) Create(c echo.Context) error {
	var in createInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	patientID, err := uuid.Parse(in.PatientID)
	if err != nil {
		return apperr.Validation("invalid patient_id")
	}
	providerID, err := uuid.Parse(in.ProviderID)
	if err != nil {
		return apperr.Validation("invalid provider_id")
	}

	enc := &Encounter{
		PatientID:  patientID,
		ProviderID: providerID,
		Status:     in.Status,
		Reason:     in.Reason,
	}
	if enc.PeriodStart, err = parseTime(in.PeriodStart); err != nil {
		return apperr.Validation("invalid period_start")
	}
	if enc.PeriodEnd, err = parseTime(in.PeriodEnd); err != nil {
		return apperr.Validation("invalid period_end")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.Create(c.Request().Context(), actor, enc); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	enc, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var in struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	enc, err := h.svc.UpdateStatus(c.Request().Context(), actor, id, in.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), actor, patientID, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func parseTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
