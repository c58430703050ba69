package automation

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rtt/rtt/internal/platform/auth"
	"github.com/rtt/rtt/internal/rtt"
	"github.com/rtt/rtt/pkg/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ReadRoles...))
	read.GET("/pathways/:id/automation", h.Evaluate)

	write := api.Group("", auth.RequireRole(auth.WriteRoles...))
	write.POST("/pathways/:id/automation", h.Apply)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleValidator))
	admin.POST("/automation/sweep", h.Sweep)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Evaluate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Evaluate(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Apply(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Apply(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// Sweep runs the breach sweep for the caller's tenant. The optional as_of
// query parameter replays it for another day.
func (h *Handler) Sweep(c echo.Context) error {
	var asOf time.Time
	if v := c.QueryParam("as_of"); v != "" {
		d, err := rtt.ParseDate(v)
		if err != nil {
			return apperr.HTTPError(err)
		}
		asOf = d
	}
	res, err := h.svc.Sweep(c.Request().Context(), asOf)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}
