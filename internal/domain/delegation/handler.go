package delegation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxtrail/rxtrail/internal/domain/identity"
	"github.com/rxtrail/rxtrail/internal/platform/auth"
	"github.com/rxtrail/rxtrail/pkg/apperror"
	"github.com/rxtrail/rxtrail/pkg/pagination"
)

// Handler exposes the delegation endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the delegation routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/delegations")
	g.POST("", h.Create, auth.RequireRole("patient"))
	g.GET("", h.List)
	g.POST("/:id/approve", h.Approve, auth.RequireRole("patient"))
	g.POST("/:id/revoke", h.Revoke, auth.RequireRole("patient"))
}

func (h *Handler) Create(c echo.Context) error {
	cu, err := identity.CurrentUserFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := h.svc.Create(c.Request().Context(), cu, in)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, d)
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

func (h *Handler) Approve(c echo.Context) error {
	return h.act(c, h.svc.Approve)
}

func (h *Handler) Revoke(c echo.Context) error {
	return h.act(c, h.svc.Revoke)
}

func (h *Handler) act(c echo.Context, fn func(ctx context.Context, cu identity.CurrentUser, id uuid.UUID) (*Delegation, error)) error {
	cu, err := identity.CurrentUserFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid delegation id")
	}
	d, err := fn(c.Request().Context(), cu, id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, d)
}
