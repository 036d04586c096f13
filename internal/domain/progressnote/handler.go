package progressnote

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
	api.POST("/progress-notes", h.CreateDraft)
	api.GET("/progress-notes", h.List)
	api.GET("/progress-notes/:id", h.Get)
	api.PUT("/progress-notes/:id", h.UpdateDraft)
	api.POST("/progress-notes/:id/finalize", h.Finalize)
	api.POST("/progress-notes/:id/amend", h.Amend)
}

type createDraftInput struct {
	EncounterID string `json:"encounter_id"`
	PatientID   string `json:"patient_id"`
	Content
}

func (h *Handler) CreateDraft(c echo.Context) error {
	var in createDraftInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	encounterID, err := uuid.Parse(in.EncounterID)
	if err != nil {
		return apperr.Validation("invalid encounter_id")
	}
	patientID, err := uuid.Parse(in.PatientID)
	if err != nil {
		return apperr.Validation("invalid patient_id")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	note, err := h.svc.CreateDraft(c.Request().Context(), actor, encounterID, patientID, in.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, note)
}

type updateDraftInput struct {
	Content
	VersionID int `json:"version_id"`
}

func (h *Handler) UpdateDraft(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var in updateDraftInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	note, err := h.svc.UpdateDraft(c.Request().Context(), actor, id, in.Content, in.VersionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, note)
}

type finalizeInput struct {
	SignatureHash string `json:"signature_hash"`
	VersionID     int    `json:"version_id"`
}

func (h *Handler) Finalize(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var in finalizeInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	note, err := h.svc.Finalize(c.Request().Context(), actor, id, in.SignatureHash, in.VersionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, note)
}

type amendInput struct {
	Reason string `json:"reason"`
	Content
}

func (h *Handler) Amend(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var in amendInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	note, err := h.svc.Amend(c.Request().Context(), actor, id, in.Reason, in.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, note)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	note, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, note)
}

func (h *Handler) List(c echo.Context) error {
	var filter ListFilter
	if v := c.QueryParam("encounter_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("invalid encounter_id")
		}
		filter.EncounterID = id
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("invalid patient_id")
		}
		filter.PatientID = id
	}
	if v := c.QueryParam("status"); v != "" {
		filter.Status = Status(v)
	}
	filter.Keyword = c.QueryParam("q")

	actor := auth.ActorFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor, filter, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
