package connection

import (
	"net/http"

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
	api.POST("/connections", h.RequestConnection)
	api.POST("/connections/:id/approve", h.Approve)
	api.GET("/providers/:id/connections", h.ListByProvider)
	api.GET("/patients/:id/connections", h.ListByPatient)
}

type requestConnectionInput struct {
	ProviderID string `json:"provider_id"`
	PatientID  string `json:"patient_id"`
	Category   string `json:"category"`
}

func (h *Handler) RequestConnection(c echo.Context) error {
	var in requestConnectionInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	providerID, err := uuid.Parse(in.ProviderID)
	if err != nil {
		return apperr.Validation("invalid provider_id")
	}
	patientID, err := uuid.Parse(in.PatientID)
	if err != nil {
		return apperr.Validation("invalid patient_id")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	link, created, err := h.svc.RequestConnection(c.Request().Context(), actor, providerID, patientID, in.Category)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, link)
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	link, err := h.svc.Approve(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, link)
}

func (h *Handler) ListByProvider(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByProvider(c.Request().Context(), actor, id, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListByPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), actor, id, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
