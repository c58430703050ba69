package pathway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rtt/rtt/internal/rtt"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc), f, echo.New()
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	return he.Code
}

func jsonContext(e *echo.Echo, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_CreatePathway(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"patient_id":"` + f.patientID.String() + `","pathway_type":"cancer-2ww","referral_date":"2025-05-20","specialty_code":"370"}`
	c, rec := jsonContext(e, http.MethodPost, body)

	if err := h.CreatePathway(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var p Pathway
	_ = json.Unmarshal(rec.Body.Bytes(), &p)
	if p.PathwayType != rtt.PathwayCancer2WW || p.Status != rtt.StateOpen {
		t.Errorf("unexpected pathway %+v", p)
	}
}

func TestHandler_CreatePathway_BadRequest(t *testing.T) {
	h, f, e := newTestHandler()
	for name, body := range map[string]string{
		"bad patient id":  `{"patient_id":"x","pathway_type":"rtt-18-week","referral_date":"2025-01-01"}`,
		"bad date":        `{"patient_id":"` + f.patientID.String() + `","pathway_type":"rtt-18-week","referral_date":"01/01/2025"}`,
		"unknown type":    `{"patient_id":"` + f.patientID.String() + `","pathway_type":"weekly","referral_date":"2025-01-01"}`,
		"unknown patient": `{"patient_id":"` + uuid.NewString() + `","pathway_type":"rtt-18-week","referral_date":"2025-01-01"}`,
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := jsonContext(e, http.MethodPost, body)
			if code := statusOf(t, h.CreatePathway(c)); code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", code)
			}
		})
	}
}

func TestHandler_PauseResume(t *testing.T) {
	h, f, e := newTestHandler()
	p := f.create(t, rtt.PathwayRTT18Week, "2025-01-01")

	c, rec := jsonContext(e, http.MethodPost, `{"date":"2025-02-01","reason":"patient unavailable"}`)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.Pause(c); err != nil {
		t.Fatalf("pause: %v", err)
	}
	var resp SummaryResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Clock.ClockState != rtt.ClockPaused {
		t.Errorf("expected paused, got %s", resp.Clock.ClockState)
	}

	c, rec = jsonContext(e, http.MethodPost, `{"date":"2025-02-08"}`)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.Resume(c); err != nil {
		t.Fatalf("resume: %v", err)
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Clock.PausedDays != 7 || resp.Clock.BreachDate != "2025-05-14" {
		t.Errorf("unexpected clock %+v", resp.Clock)
	}
}

func TestHandler_Pause_Conflict(t *testing.T) {
	h, f, e := newTestHandler()
	p := f.create(t, rtt.PathwayRTT18Week, "2025-01-01")

	c, _ := jsonContext(e, http.MethodPost, `{"reason":"x","version_id":7}`)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if code := statusOf(t, h.Pause(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_StopReopen(t *testing.T) {
	h, f, e := newTestHandler()
	p := f.create(t, rtt.PathwayRTT18Week, "2025-01-01")

	c, rec := jsonContext(e, http.MethodPost, `{"date":"2025-03-01","rtt_code":"30"}`)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.Stop(c); err != nil {
		t.Fatalf("stop: %v", err)
	}
	var resp SummaryResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Pathway.Status != rtt.StateClosed || resp.Clock.BreachStatus != rtt.StatusStopped {
		t.Errorf("unexpected stop response %+v", resp)
	}

	c, rec = jsonContext(e, http.MethodPost, `{"date":"2025-04-01","rtt_code":"10"}`)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.Reopen(c); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Pathway.Status != rtt.StateOpen || resp.Clock.ClockStart != "2025-04-01" {
		t.Errorf("unexpected reopen response %+v", resp)
	}
}

func TestHandler_GetClock(t *testing.T) {
	h, f, e := newTestHandler()
	p := f.create(t, rtt.PathwayCancer62Day, "2025-01-01")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?as_of=2025-02-15", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.GetClock(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sum Summary
	_ = json.Unmarshal(rec.Body.Bytes(), &sum)
	if sum.DaysWaited != 45 || sum.BreachDate != "2025-03-04" || sum.BreachStatus != rtt.StatusOnTrack {
		t.Errorf("unexpected summary %+v", sum)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?as_of=tomorrow", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if code := statusOf(t, h.GetClock(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetHistory_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	if code := statusOf(t, h.GetHistory(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_RecordMilestone(t *testing.T) {
	h, f, e := newTestHandler()
	p := f.create(t, rtt.PathwayRTT18Week, "2025-01-01")

	c, rec := jsonContext(e, http.MethodPost, `{"milestone_type":"decision-to-treat","achieved_date":"2025-03-20"}`)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.RecordMilestone(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_ListPathways_Filter(t *testing.T) {
	h, f, e := newTestHandler()
	f.create(t, rtt.PathwayRTT18Week, "2025-01-01")
	f.create(t, rtt.PathwayCancer2WW, "2025-05-25")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/pathways?type=cancer-2ww", nil), rec)
	if err := h.ListPathways(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data  []Pathway `json:"data"`
		Total int       `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 || resp.Data[0].PathwayType != rtt.PathwayCancer2WW {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandler_ListRTTCodes(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := h.ListRTTCodes(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var codes []rtt.Code
	_ = json.Unmarshal(rec.Body.Bytes(), &codes)
	if len(codes) != 17 || codes[0].Code != "10" {
		t.Errorf("unexpected codes %v", codes)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	routes := map[string]bool{}
	for _, r := range e.Routes() {
		routes[r.Method+":"+r.Path] = true
	}
	for _, want := range []string{
		"GET:/api/v1/pathways",
		"POST:/api/v1/pathways",
		"GET:/api/v1/pathways/:id",
		"PUT:/api/v1/pathways/:id",
		"DELETE:/api/v1/pathways/:id",
		"POST:/api/v1/pathways/:id/pause",
		"POST:/api/v1/pathways/:id/resume",
		"POST:/api/v1/pathways/:id/stop",
		"POST:/api/v1/pathways/:id/reopen",
		"GET:/api/v1/pathways/:id/clock",
		"GET:/api/v1/pathways/:id/history",
		"GET:/api/v1/pathways/:id/milestones",
		"POST:/api/v1/pathways/:id/milestones",
		"GET:/api/v1/patients/:id/pathways",
		"GET:/api/v1/reference/rtt-codes",
	} {
		if !routes[want] {
			t.Errorf("missing expected route: %s", want)
		}
	}
}
