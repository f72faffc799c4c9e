package identity

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rxtrail/rxtrail/pkg/apperror"
	"github.com/rxtrail/rxtrail/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts auth endpoints (public) and user endpoints
// (authenticated) on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	api.GET("/users/me", h.GetMe)
	api.PUT("/users/me", h.UpdateMe)
	api.GET("/users/gps", h.ListGPs)
	api.GET("/users/pharmacies", h.ListPharmacies)
}

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Register(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Login(c echo.Context) error {
	var in LoginInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Login(c.Request().Context(), in)
	if err != nil {
		// Login failures are 401 rather than the usual 403 mapping.
		if apperror.IsKind(err, apperror.KindAuthorization) {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetMe(c echo.Context) error {
	cu, err := CurrentUserFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	u, err := h.svc.Get(c.Request().Context(), cu.ID)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateMe(c echo.Context) error {
	cu, err := CurrentUserFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	var in UpdateProfileInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.UpdateProfile(c.Request().Context(), cu.ID, in)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListGPs(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListGPs(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListPharmacies(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPharmacies(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
