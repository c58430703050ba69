package reporting

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rtt/rtt/internal/platform/auth"
	"github.com/rtt/rtt/internal/rtt"
	"github.com/rtt/rtt/pkg/apperr"
	"github.com/rtt/rtt/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/reports", auth.RequireRole(auth.ReadRoles...))
	read.GET("/measures", h.ListMeasures)
	read.GET("/measures/:id", h.GetMeasure)
	read.GET("/waiting-list", h.WaitingList)

	export := api.Group("/reports", auth.RequireRole(auth.WriteRoles...))
	export.POST("/waiting-list/export", h.ExportWaitingList)
	export.GET("/exports", h.ListExports)
	export.GET("/exports/:id", h.DownloadExport)
}

func asOfParam(c echo.Context) (time.Time, error) {
	v := c.QueryParam("as_of")
	if v == "" {
		return time.Time{}, nil
	}
	return rtt.ParseDate(v)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	asOf, err := asOfParam(c)
	if err != nil {
		return apperr.HTTPError(err)
	}
	items, err := h.svc.Measures(c.Request().Context(), asOf)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetMeasure(c echo.Context) error {
	asOf, err := asOfParam(c)
	if err != nil {
		return apperr.HTTPError(err)
	}
	m, err := h.svc.Measure(c.Request().Context(), c.Param("id"), asOf)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func filterFromQuery(c echo.Context) (Filter, error) {
	f := Filter{
		Specialty:   c.QueryParam("specialty"),
		PathwayType: c.QueryParam("type"),
		Status:      c.QueryParam("status"),
		AsOf:        c.QueryParam("as_of"),
	}
	if v := c.QueryParam("min_weeks"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, apperr.Validation("invalid min_weeks: %s", v)
		}
		f.MinWeeks = n
	}
	return f, nil
}

func (h *Handler) WaitingList(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return apperr.HTTPError(err)
	}
	pg := pagination.FromContext(c)
	f.Limit, f.Offset = pg.Limit, pg.Offset
	wl, err := h.svc.WaitingList(c.Request().Context(), f)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, wl)
}

func (h *Handler) ExportWaitingList(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return apperr.HTTPError(err)
	}
	meta, err := h.svc.ExportWaitingList(c.Request().Context(), f)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, meta)
}

func (h *Handler) ListExports(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.ListExports(c.Request().Context(), pg.Limit)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DownloadExport(c echo.Context) error {
	rc, meta, err := h.svc.GetExport(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	defer rc.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentDisposition, "attachment; filename=\""+meta.FileName+"\"")
	resp.Header().Set(echo.HeaderContentLength, strconv.FormatInt(meta.Size, 10))
	resp.Header().Set(echo.HeaderContentType, meta.ContentType)
	resp.WriteHeader(http.StatusOK)
	_, err = io.Copy(resp, rc)
	return err
}
