package episode

import (
	"net/http"

	"github.com/google/uuid"
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
	read := api.Group("", auth.RequireRole(auth.ReadRoles...))
	read.GET("/pathways/:id/episodes", h.ListEpisodes)
	read.GET("/episodes/:id", h.GetEpisode)

	write := api.Group("", auth.RequireRole(auth.WriteRoles...))
	write.POST("/pathways/:id/episodes", h.RecordEpisode)
	write.PUT("/episodes/:id", h.UpdateEpisode)
	write.DELETE("/episodes/:id", h.DeleteEpisode)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type episodeRequest struct {
	EpisodeType   string  `json:"episode_type"`
	EpisodeDate   string  `json:"episode_date"`
	Clinician     *string `json:"clinician"`
	RTTCode       *string `json:"rtt_code"`
	Outcome       *string `json:"outcome"`
	ProcedureCode *string `json:"procedure_code"`
	TestName      *string `json:"test_name"`
	Notes         *string `json:"notes"`
}

func (r episodeRequest) toEpisode() (*Episode, error) {
	e := &Episode{
		EpisodeType:   Type(r.EpisodeType),
		Clinician:     r.Clinician,
		RTTCode:       r.RTTCode,
		Outcome:       r.Outcome,
		ProcedureCode: r.ProcedureCode,
		TestName:      r.TestName,
		Notes:         r.Notes,
	}
	if r.EpisodeDate != "" {
		d, err := rtt.ParseDate(r.EpisodeDate)
		if err != nil {
			return nil, err
		}
		e.EpisodeDate = d
	}
	return e, nil
}

func (h *Handler) bind(c echo.Context) (*Episode, error) {
	var req episodeRequest
	if err := c.Bind(&req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	e, err := req.toEpisode()
	if err != nil {
		return nil, apperr.HTTPError(err)
	}
	return e, nil
}

func (h *Handler) RecordEpisode(c echo.Context) error {
	pathwayID, err := parseID(c)
	if err != nil {
		return err
	}
	e, err := h.bind(c)
	if err != nil {
		return err
	}
	res, err := h.svc.RecordEpisode(c.Request().Context(), pathwayID, e)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetEpisode(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.GetEpisode(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListEpisodes(c echo.Context) error {
	pathwayID, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPathway(c.Request().Context(), pathwayID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams()))
}

func (h *Handler) UpdateEpisode(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	e, err := h.bind(c)
	if err != nil {
		return err
	}
	e.ID = id
	res, err := h.svc.UpdateEpisode(c.Request().Context(), e)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// DeleteEpisode answers 204, or 200 with the warning when automation failed.
func (h *Handler) DeleteEpisode(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.DeleteEpisode(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if res.Warning != "" {
		return c.JSON(http.StatusOK, res)
	}
	return c.NoContent(http.StatusNoContent)
}
