package integration

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/pagination"
)

type Handler struct {
	svc       *Service
	batchSize int
}

func NewHandler(svc *Service, batchSize int) *Handler {
	return &Handler{svc: svc, batchSize: batchSize}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/admin/ingest-errors", h.List)
	api.POST("/admin/ingest-errors/sweep", h.Sweep)
}

func (h *Handler) List(c echo.Context) error {
	if err := requireAdmin(c); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Sweep(c echo.Context) error {
	if err := requireAdmin(c); err != nil {
		return err
	}
	batch := h.batchSize
	if v := c.QueryParam("batch"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return apperr.Validation("invalid batch size")
		}
		batch = n
	}
	res, err := h.svc.Sweep(c.Request().Context(), batch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func requireAdmin(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	if actor == nil {
		return apperr.Unauthorized("authentication required")
	}
	if actor.Role != auth.RoleAdmin {
		return apperr.Forbidden()
	}
	return nil
}
