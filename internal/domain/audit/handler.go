package audit

import (
	"net/http"

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
	api.GET("/audit-events", h.ListEvents)
}

// ListEvents is admin-only: the ledger itself records who did what and must
// not be readable by the actors it describes.
func (h *Handler) ListEvents(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	if actor == nil {
		return apperr.Unauthorized("authentication required")
	}
	if actor.Role != auth.RoleAdmin {
		return apperr.Forbidden()
	}

	params := map[string]string{}
	for qp, key := range map[string]string{
		"entity_type": "entity-type",
		"entity_id":   "entity-id",
		"action":      "action",
		"actor":       "actor",
	} {
		if v := c.QueryParam(qp); v != "" {
			params[key] = v
		}
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
