package prescription

import (
	"context"
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
	api.POST("/prescriptions", h.Create)
	api.GET("/prescriptions", h.List)
	api.GET("/prescriptions/:id", h.Get)
	api.PUT("/prescriptions/:id", h.Update)
	api.POST("/prescriptions/:id/activate", h.Activate)
	api.POST("/prescriptions/:id/complete", h.Complete)
	api.POST("/prescriptions/:id/cancel", h.Cancel)
	api.POST("/admin/prescriptions/expire", h.Expire)
}

type createInput struct {
	PatientID      string  `json:"patient_id"`
	AppointmentID  *string `json:"appointment_id"`
	MedicationName string  `json:"medication_name"`
	Dosage         string  `json:"dosage"`
	Frequency      string  `json:"frequency"`
	Duration       string  `json:"duration"`
	Quantity       int     `json:"quantity"`
	Refills        int     `json:"refills"`
	Instructions   string  `json:"instructions"`
	Status         string  `json:"status"`
	StartDate      *string `json:"start_date"`
	EndDate        *string `json:"end_date"`
}

type createResponse struct {
	Prescription *Prescription `json:"prescription"`
	Warnings     []Warning     `json:"warnings,omitempty"`
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

	p := &Prescription{
		PatientID:      patientID,
		MedicationName: in.MedicationName,
		Dosage:         in.Dosage,
		Frequency:      in.Frequency,
		Duration:       in.Duration,
		Quantity:       in.Quantity,
		Refills:        in.Refills,
		Instructions:   in.Instructions,
		Status:         Status(in.Status),
	}
	if in.AppointmentID != nil && *in.AppointmentID != "" {
		id, err := uuid.Parse(*in.AppointmentID)
		if err != nil {
			return apperr.Validation("invalid appointment_id")
		}
		p.AppointmentID = &id
	}
	if p.StartDate, err = parseDate(in.StartDate); err != nil {
		return apperr.Validation("invalid start_date")
	}
	if p.EndDate, err = parseDate(in.EndDate); err != nil {
		return apperr.Validation("invalid end_date")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	warnings, err := h.svc.Create(c.Request().Context(), actor, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, createResponse{Prescription: p, Warnings: warnings})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	p, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	p, err := h.svc.Update(c.Request().Context(), actor, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Activate(c echo.Context) error {
	return h.transition(c, h.svc.Activate)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, h.svc.Complete)
}

func (h *Handler) transition(c echo.Context, fn func(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*Prescription, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	p, err := fn(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var in struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	p, err := h.svc.Cancel(c.Request().Context(), actor, id, in.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// Expire triggers the end-date sweep on demand; the scheduler normally runs
// it via the CLI.
func (h *Handler) Expire(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	if actor == nil {
		return apperr.Unauthorized("authentication required")
	}
	if actor.Role != auth.RoleAdmin {
		return apperr.Forbidden()
	}
	count, err := h.svc.ExpireActive(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"expired": count})
}

func (h *Handler) List(c echo.Context) error {
	var filter ListFilter
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("invalid patient_id")
		}
		filter.PatientID = id
	}
	if v := c.QueryParam("provider_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("invalid provider_id")
		}
		filter.ProviderID = id
	}
	if v := c.QueryParam("status"); v != "" {
		filter.Status = Status(v)
	}
	var err error
	if filter.From, err = parseDate(strPtr(c.QueryParam("from"))); err != nil {
		return apperr.Validation("invalid from date")
	}
	if filter.To, err = parseDate(strPtr(c.QueryParam("to"))); err != nil {
		return apperr.Validation("invalid to date")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor, filter, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		// Accept bare dates too.
		t, err = time.Parse("2006-01-02", *s)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func strPtr(s string) *string {
	return &s
}
