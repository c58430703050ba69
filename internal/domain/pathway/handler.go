package pathway

import (
	"context"
	"net/http"
	"time"

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
	read.GET("/pathways", h.ListPathways)
	read.GET("/pathways/:id", h.GetPathway)
	read.GET("/pathways/:id/clock", h.GetClock)
	read.GET("/pathways/:id/history", h.GetHistory)
	read.GET("/pathways/:id/milestones", h.ListMilestones)
	read.GET("/patients/:id/pathways", h.ListPatientPathways)
	read.GET("/reference/rtt-codes", h.ListRTTCodes)
	read.GET("/reference/pathway-types", h.ListPathwayTypes)

	write := api.Group("", auth.RequireRole(auth.WriteRoles...))
	write.POST("/pathways", h.CreatePathway)
	write.PUT("/pathways/:id", h.UpdatePathway)
	write.DELETE("/pathways/:id", h.DeletePathway)
	write.POST("/pathways/:id/pause", h.Pause)
	write.POST("/pathways/:id/resume", h.Resume)
	write.POST("/pathways/:id/stop", h.Stop)
	write.POST("/pathways/:id/reopen", h.Reopen)
	write.POST("/pathways/:id/milestones", h.RecordMilestone)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func parseOptDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return rtt.ParseDate(s)
}

type pathwayRequest struct {
	PatientID        string  `json:"patient_id"`
	PathwayType      string  `json:"pathway_type"`
	SpecialtyCode    *string `json:"specialty_code"`
	ReferralSource   *string `json:"referral_source"`
	ReferringOrgCode *string `json:"referring_org_code"`
	Consultant       *string `json:"consultant"`
	Priority         string  `json:"priority"`
	ReferralDate     string  `json:"referral_date"`
	ClockStart       string  `json:"clock_start"`
	VersionID        int     `json:"version_id"`
}

func (r pathwayRequest) toPathway() (*Pathway, error) {
	p := &Pathway{
		PathwayType:      rtt.PathwayType(r.PathwayType),
		SpecialtyCode:    r.SpecialtyCode,
		ReferralSource:   r.ReferralSource,
		ReferringOrgCode: r.ReferringOrgCode,
		Consultant:       r.Consultant,
		Priority:         r.Priority,
		VersionID:        r.VersionID,
	}
	if r.PatientID != "" {
		id, err := uuid.Parse(r.PatientID)
		if err != nil {
			return nil, apperr.Validation("invalid patient_id: %s", r.PatientID)
		}
		p.PatientID = id
	}
	var err error
	if p.ReferralDate, err = parseOptDate(r.ReferralDate); err != nil {
		return nil, err
	}
	if p.ClockStart, err = parseOptDate(r.ClockStart); err != nil {
		return nil, err
	}
	return p, nil
}

func (h *Handler) CreatePathway(c echo.Context) error {
	var req pathwayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := req.toPathway()
	if err != nil {
		return apperr.HTTPError(err)
	}
	if err := h.svc.CreatePathway(c.Request().Context(), p); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPathway(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPathway(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPathways(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range SearchParams() {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}

	var (
		items []*Pathway
		total int
		err   error
	)
	if len(params) > 0 {
		items, total, err = h.svc.SearchPathways(c.Request().Context(), params, pg.Limit, pg.Offset)
	} else {
		items, total, err = h.svc.ListPathways(c.Request().Context(), pg.Limit, pg.Offset)
	}
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams()))
}

func (h *Handler) ListPatientPathways(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams()))
}

func (h *Handler) UpdatePathway(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req pathwayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := req.toPathway()
	if err != nil {
		return apperr.HTTPError(err)
	}
	p.ID = id
	if err := h.svc.UpdatePathway(c.Request().Context(), p); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePathway(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePathway(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type transitionRequest struct {
	Date           string `json:"date"`
	Reason         string `json:"reason"`
	RTTCode        string `json:"rtt_code"`
	VersionID      int    `json:"version_id"`
	KeepClockStart bool   `json:"keep_clock_start"`
}

func (h *Handler) transition(c echo.Context, fn func(context.Context, uuid.UUID, Transition) (*Pathway, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	date, err := parseOptDate(req.Date)
	if err != nil {
		return apperr.HTTPError(err)
	}
	p, err := fn(c.Request().Context(), id, Transition{
		Date:           date,
		Reason:         req.Reason,
		RTTCode:        req.RTTCode,
		VersionID:      req.VersionID,
		KeepClockStart: req.KeepClockStart,
	})
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, NewSummaryResponse(p, h.svc))
}

func (h *Handler) Pause(c echo.Context) error  { return h.transition(c, h.svc.Pause) }
func (h *Handler) Resume(c echo.Context) error { return h.transition(c, h.svc.Resume) }
func (h *Handler) Stop(c echo.Context) error   { return h.transition(c, h.svc.Stop) }
func (h *Handler) Reopen(c echo.Context) error { return h.transition(c, h.svc.Reopen) }

// SummaryResponse pairs a pathway with its clock view as of today.
type SummaryResponse struct {
	Pathway *Pathway `json:"pathway"`
	Clock   Summary  `json:"clock"`
}

func NewSummaryResponse(p *Pathway, svc *Service) SummaryResponse {
	return SummaryResponse{Pathway: p, Clock: NewSummary(p, svc.Today(), svc.AtRiskDays())}
}

func (h *Handler) GetClock(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	asOf, err := parseOptDate(c.QueryParam("as_of"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	sum, err := h.svc.Summary(c.Request().Context(), id, asOf)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ClockHistory(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if items == nil {
		items = []*ClockEvent{}
	}
	return c.JSON(http.StatusOK, items)
}

type milestoneRequest struct {
	MilestoneType string `json:"milestone_type"`
	AchievedDate  string `json:"achieved_date"`
	Notes         string `json:"notes"`
}

func (h *Handler) RecordMilestone(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req milestoneRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in := MilestoneInput{Type: req.MilestoneType, Notes: req.Notes}
	if req.AchievedDate != "" {
		d, err := rtt.ParseDate(req.AchievedDate)
		if err != nil {
			return apperr.HTTPError(err)
		}
		in.AchievedDate = &d
	}
	m, err := h.svc.RecordMilestone(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListMilestones(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListMilestones(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if items == nil {
		items = []*Milestone{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListRTTCodes(c echo.Context) error {
	return c.JSON(http.StatusOK, rtt.Codes())
}

type pathwayTypeInfo struct {
	Type       rtt.PathwayType `json:"type"`
	TargetDays int             `json:"target_days"`
}

func (h *Handler) ListPathwayTypes(c echo.Context) error {
	out := make([]pathwayTypeInfo, 0, 4)
	for _, pt := range []rtt.PathwayType{rtt.PathwayRTT18Week, rtt.PathwayCancer2WW, rtt.PathwayCancer62Day, rtt.PathwayCancer31Day} {
		days, _ := rtt.TargetDays(pt)
		out = append(out, pathwayTypeInfo{Type: pt, TargetDays: days})
	}
	return c.JSON(http.StatusOK, out)
}
