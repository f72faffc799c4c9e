package notification

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxtrail/rxtrail/internal/domain/identity"
	"github.com/rxtrail/rxtrail/pkg/apperror"
	"github.com/rxtrail/rxtrail/pkg/pagination"
)

// Handler exposes the notification endpoints.
type Handler struct {
	svc *Dispatcher
}

func NewHandler(svc *Dispatcher) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the notification routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications")
	g.GET("", h.List)
	g.GET("/unread-count", h.UnreadCount)
	g.POST("/:id/read", h.MarkRead)
}

func (h *Handler) List(c echo.Context) error {
	cu, err := identity.CurrentUserFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	params := pagination.FromContext(c)
	items, total, err := h.svc.ListForUser(c.Request().Context(), cu, params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, params.Limit, params.Offset))
}

func (h *Handler) UnreadCount(c echo.Context) error {
	cu, err := identity.CurrentUserFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	count, err := h.svc.UnreadCount(c.Request().Context(), cu)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": count})
}

func (h *Handler) MarkRead(c echo.Context) error {
	cu, err := identity.CurrentUserFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid notification id")
	}
	n, err := h.svc.MarkRead(c.Request().Context(), cu, id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, n)
}
