package reporting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtt/rtt/internal/platform/blobstore"
)

func (f *fixture) context(e *echo.Echo, method, target string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, nil).WithContext(f.ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected echo.HTTPError, got %T (%v)", err, err)
	return he.Code
}

func TestHandler_Measures(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()

	c, rec := f.context(e, http.MethodGet, "/?as_of=2025-06-01")
	require.NoError(t, h.ListMeasures(c))
	var items []Measure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 4)

	c, rec = f.context(e, http.MethodGet, "/")
	c.SetParamNames("id")
	c.SetParamValues(MeasureMedianWeeks)
	require.NoError(t, h.GetMeasure(c))
	var m Measure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, 10.5, m.Rows[0].Value)

	c, _ = f.context(e, http.MethodGet, "/")
	c.SetParamNames("id")
	c.SetParamValues("nope")
	assert.Equal(t, http.StatusNotFound, statusOf(t, h.GetMeasure(c)))

	c, _ = f.context(e, http.MethodGet, "/?as_of=yesterday")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.ListMeasures(c)))
}

func TestHandler_WaitingList(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()

	c, rec := f.context(e, http.MethodGet, "/?min_weeks=13&limit=2")
	require.NoError(t, h.WaitingList(c))
	var wl WaitingList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wl))
	assert.Equal(t, 3, wl.Total)
	assert.Len(t, wl.Entries, 2)

	for _, q := range []string{"/?min_weeks=many", "/?type=cancer-99-day", "/?status=paused"} {
		c, _ = f.context(e, http.MethodGet, q)
		assert.Equal(t, http.StatusBadRequest, statusOf(t, h.WaitingList(c)), q)
	}
}

func TestHandler_ExportAndDownload(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()

	c, rec := f.context(e, http.MethodPost, "/?specialty=110")
	require.NoError(t, h.ExportWaitingList(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	var meta blobstore.Metadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, "2", meta.Tags["rows"])

	c, rec = f.context(e, http.MethodGet, "/")
	require.NoError(t, h.ListExports(c))
	var items []blobstore.Metadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 1)

	c, rec = f.context(e, http.MethodGet, "/")
	c.SetParamNames("id")
	c.SetParamValues(meta.ID)
	require.NoError(t, h.DownloadExport(c))
	assert.Equal(t, "text/csv", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "waiting-list-2025-06-01.csv")
	assert.Contains(t, rec.Body.String(), "Longest, Pat")

	c, _ = f.context(e, http.MethodGet, "/")
	c.SetParamNames("id")
	c.SetParamValues("missing")
	assert.Equal(t, http.StatusNotFound, statusOf(t, h.DownloadExport(c)))
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := NewHandler(newFixture().svc), echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))

	routes := map[string]bool{}
	for _, r := range e.Routes() {
		routes[r.Method+":"+r.Path] = true
	}
	for _, want := range []string{
		"GET:/api/v1/reports/measures",
		"GET:/api/v1/reports/measures/:id",
		"GET:/api/v1/reports/waiting-list",
		"POST:/api/v1/reports/waiting-list/export",
		"GET:/api/v1/reports/exports",
		"GET:/api/v1/reports/exports/:id",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}
