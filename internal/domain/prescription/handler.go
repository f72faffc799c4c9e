package prescription

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxtrail/rxtrail/internal/domain/identity"
	"github.com/rxtrail/rxtrail/internal/platform/auth"
	"github.com/rxtrail/rxtrail/pkg/apperror"
	"github.com/rxtrail/rxtrail/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/prescriptions", h.Create, auth.RequireRole("patient"))
	api.GET("/prescriptions", h.List)
	api.GET("/prescriptions/stats", h.Stats)
	api.GET("/prescriptions/:id", h.Get)
	api.GET("/prescriptions/:id/events", h.ListEvents)
	api.POST("/prescriptions/:id/transition", h.Transition)
}

func (h *Handler) Create(c echo.Context) error {
	cu, err := identity.CurrentUserFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Create(c.Request().Context(), cu, in)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	cu, err := identity.CurrentUserFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), cu, id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	cu, err := identity.CurrentUserFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	var status *Status
	if raw := c.QueryParam("status"); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		status = &st
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForUser(c.Request().Context(), cu, status, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Transition(c echo.Context) error {
	cu, err := identity.CurrentUserFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in TransitionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Transition(c.Request().Context(), cu, id, in)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListEvents(c echo.Context) error {
	cu, err := identity.CurrentUserFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	events, err := h.svc.Events(c.Request().Context(), cu, id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, events)
}

func (h *Handler) Stats(c echo.Context) error {
	cu, err := identity.CurrentUserFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	st, err := h.svc.StatsForUser(c.Request().Context(), cu)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, st)
}
