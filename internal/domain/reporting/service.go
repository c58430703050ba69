// Package reporting builds waiting-list reports and measures over the
// pathways of a tenant.
package reporting

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rtt/rtt/internal/platform/auth"
	"github.com/rtt/rtt/internal/platform/blobstore"
	"github.com/rtt/rtt/internal/platform/cache"
	"github.com/rtt/rtt/internal/platform/db"
	"github.com/rtt/rtt/internal/platform/events"
	"github.com/rtt/rtt/internal/platform/telemetry"
	"github.com/rtt/rtt/internal/rtt"
	"github.com/rtt/rtt/pkg/apperr"
)

const (
	maxWaitingListLimit = 1000
	exportKind          = "waiting-list"
)

// band is a half-open range of weeks waited. A max of zero is unbounded.
type band struct {
	label    string
	min, max int
}

var weekBands = []band{
	{"0-6", 0, 6},
	{"6-12", 6, 12},
	{"12-18", 12, 18},
	{"18-52", 18, 52},
	{"52+", 52, 0},
}

func (b band) contains(weeks int) bool {
	return weeks >= b.min && (b.max == 0 || weeks < b.max)
}

type measureDef struct {
	name        string
	description string
	build       func(s *Service, ctx context.Context, asOf time.Time) ([]MeasureRow, error)
}

var measureDefs = map[string]measureDef{
	MeasureWeeksBands: {
		name:        "Open pathways by weeks waited",
		description: "Open pathways grouped into weeks-waited bands",
		build:       (*Service).weeksBands,
	},
	MeasureBreachesBySpecialty: {
		name:        "Breaches by specialty",
		description: "Open pathways past their breach date out of all open pathways, per specialty",
		build:       (*Service).breachesBySpecialty,
	},
	MeasureTypeStatus: {
		name:        "Pathways by type and status",
		description: "Number of pathways per pathway type and open/closed status",
		build:       (*Service).typeStatus,
	},
	MeasureMedianWeeks: {
		name:        "Median weeks waited",
		description: "Median weeks waited of open pathways, per pathway type",
		build:       (*Service).medianWeeks,
	},
}

var measureOrder = []string{MeasureWeeksBands, MeasureBreachesBySpecialty, MeasureTypeStatus, MeasureMedianWeeks}

type Service struct {
	repo       Repository
	cache      cache.Cache
	blobs      blobstore.Store
	events     events.Publisher
	logger     zerolog.Logger
	cacheTTL   time.Duration
	atRiskDays int
	now        func() time.Time
}

func NewService(repo Repository, c cache.Cache, blobs blobstore.Store, pub events.Publisher, logger zerolog.Logger, cacheTTL time.Duration, atRiskDays int) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		repo:       repo,
		cache:      c,
		blobs:      blobs,
		events:     pub,
		logger:     logger.With().Str("component", "reporting").Logger(),
		cacheTTL:   cacheTTL,
		atRiskDays: atRiskDays,
		now:        time.Now,
	}
}

// CachePrefix is the prefix of every cached report of a tenant.
func CachePrefix(tenantID string) string {
	return "reports:" + tenantID + ":"
}

func (s *Service) cacheKey(ctx context.Context, parts ...string) string {
	return CachePrefix(db.TenantFromContext(ctx)) + strings.Join(parts, ":")
}

// cached loads key into dst, or fills dst with load and stores it. Cache
// failures are logged and the report is computed anyway.
func (s *Service) cached(ctx context.Context, key string, dst any, load func() error) error {
	log := telemetry.Logger(ctx, s.logger)
	ok, err := cache.GetJSON(ctx, s.cache, key, dst)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("report cache read failed")
	}
	if ok {
		return nil
	}
	if err := load(); err != nil {
		return err
	}
	if s.cacheTTL <= 0 {
		return nil
	}
	if err := cache.SetJSON(ctx, s.cache, key, dst, s.cacheTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("report cache write failed")
	}
	return nil
}

func (s *Service) asOf(t time.Time) time.Time {
	if t.IsZero() {
		return rtt.Day(s.now())
	}
	return rtt.Day(t)
}

func (s *Service) openRows(ctx context.Context) ([]*Row, error) {
	rows, err := s.repo.Rows(ctx, Filter{Status: string(rtt.StateOpen)})
	if err != nil {
		return nil, fmt.Errorf("load open pathways: %w", err)
	}
	return rows, nil
}

func (s *Service) weeksBands(ctx context.Context, asOf time.Time) ([]MeasureRow, error) {
	rows, err := s.openRows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MeasureRow, len(weekBands))
	for i, b := range weekBands {
		out[i] = MeasureRow{Label: b.label, Total: len(rows)}
	}
	for _, r := range rows {
		weeks := r.Clock().WeeksWaited(asOf)
		for i, b := range weekBands {
			if b.contains(weeks) {
				out[i].Count++
				break
			}
		}
	}
	return out, nil
}

func (s *Service) breachesBySpecialty(ctx context.Context, asOf time.Time) ([]MeasureRow, error) {
	rows, err := s.openRows(ctx)
	if err != nil {
		return nil, err
	}
	bySpec := map[string]*MeasureRow{}
	for _, r := range rows {
		spec := r.specialty()
		m, ok := bySpec[spec]
		if !ok {
			m = &MeasureRow{Label: spec}
			bySpec[spec] = m
		}
		m.Total++
		if r.Clock().Status(asOf, s.atRiskDays) == rtt.StatusBreached {
			m.Count++
		}
	}
	out := make([]MeasureRow, 0, len(bySpec))
	for _, m := range bySpec {
		if m.Total > 0 {
			m.Value = float64(m.Count) / float64(m.Total)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *Service) typeStatus(ctx context.Context, _ time.Time) ([]MeasureRow, error) {
	counts, err := s.repo.CountByTypeStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pathways: %w", err)
	}
	out := make([]MeasureRow, 0, len(counts))
	for _, c := range counts {
		out = append(out, MeasureRow{Label: string(c.PathwayType) + "/" + string(c.Status), Count: c.Count})
	}
	return out, nil
}

func (s *Service) medianWeeks(ctx context.Context, asOf time.Time) ([]MeasureRow, error) {
	rows, err := s.openRows(ctx)
	if err != nil {
		return nil, err
	}
	byType := map[rtt.PathwayType][]int{}
	var all []int
	for _, r := range rows {
		w := r.Clock().WeeksWaited(asOf)
		byType[r.PathwayType] = append(byType[r.PathwayType], w)
		all = append(all, w)
	}
	types := make([]string, 0, len(byType))
	for pt := range byType {
		types = append(types, string(pt))
	}
	sort.Strings(types)

	out := make([]MeasureRow, 0, len(types)+1)
	out = append(out, MeasureRow{Label: "all", Count: len(all), Value: median(all)})
	for _, pt := range types {
		weeks := byType[rtt.PathwayType(pt)]
		out = append(out, MeasureRow{Label: pt, Count: len(weeks), Value: median(weeks)})
	}
	return out, nil
}

func median(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	v := append([]int(nil), values...)
	sort.Ints(v)
	mid := len(v) / 2
	if len(v)%2 == 1 {
		return float64(v[mid])
	}
	return float64(v[mid-1]+v[mid]) / 2
}

// Measure computes one measure as of asOf. A zero asOf means today.
func (s *Service) Measure(ctx context.Context, id string, asOf time.Time) (*Measure, error) {
	def, ok := measureDefs[id]
	if !ok {
		return nil, apperr.NotFound("measure %s not found", id)
	}
	asOf = s.asOf(asOf)
	m := &Measure{ID: id, Name: def.name, Description: def.description, AsOf: rtt.FormatDate(asOf)}
	err := s.cached(ctx, s.cacheKey(ctx, "measure", id, m.AsOf), m, func() error {
		rows, err := def.build(s, ctx, asOf)
		if err != nil {
			return err
		}
		m.Rows = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Measures computes every measure as of asOf.
func (s *Service) Measures(ctx context.Context, asOf time.Time) ([]*Measure, error) {
	out := make([]*Measure, 0, len(measureOrder))
	for _, id := range measureOrder {
		m, err := s.Measure(ctx, id, asOf)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Service) normalizeFilter(f *Filter) (time.Time, error) {
	f.Specialty = strings.TrimSpace(f.Specialty)
	if f.PathwayType != "" {
		if _, err := rtt.ParsePathwayType(f.PathwayType); err != nil {
			return time.Time{}, err
		}
	}
	switch rtt.PathwayState(f.Status) {
	case "":
		f.Status = string(rtt.StateOpen)
	case rtt.StateOpen, rtt.StateClosed:
	default:
		return time.Time{}, apperr.Validation("invalid status: %s", f.Status)
	}
	if f.MinWeeks < 0 {
		return time.Time{}, apperr.Validation("min_weeks must not be negative")
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > maxWaitingListLimit {
		f.Limit = maxWaitingListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	var asOf time.Time
	if f.AsOf != "" {
		d, err := rtt.ParseDate(f.AsOf)
		if err != nil {
			return time.Time{}, err
		}
		asOf = d
	}
	asOf = s.asOf(asOf)
	f.AsOf = rtt.FormatDate(asOf)
	return asOf, nil
}

// entries loads every entry matching f, longest waits first.
func (s *Service) entries(ctx context.Context, f Filter, asOf time.Time) ([]Entry, error) {
	rows, err := s.repo.Rows(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("load waiting list: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e := newEntry(r, asOf, s.atRiskDays)
		if e.WeeksWaited < f.MinWeeks {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysWaited > out[j].DaysWaited })
	return out, nil
}

// WaitingList returns one page of the waiting list, longest waits first.
func (s *Service) WaitingList(ctx context.Context, f Filter) (*WaitingList, error) {
	asOf, err := s.normalizeFilter(&f)
	if err != nil {
		return nil, err
	}
	key := s.cacheKey(ctx, "waiting-list", f.AsOf, f.Specialty, f.PathwayType, f.Status,
		strconv.Itoa(f.MinWeeks), strconv.Itoa(f.Limit), strconv.Itoa(f.Offset))
	wl := &WaitingList{}
	err = s.cached(ctx, key, wl, func() error {
		all, err := s.entries(ctx, f, asOf)
		if err != nil {
			return err
		}
		*wl = WaitingList{AsOf: f.AsOf, Total: len(all), Limit: f.Limit, Offset: f.Offset, Entries: []Entry{}}
		if f.Offset < len(all) {
			end := f.Offset + f.Limit
			if end > len(all) {
				end = len(all)
			}
			wl.Entries = all[f.Offset:end]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wl, nil
}

var csvHeader = []string{
	"pathway_id", "patient_id", "nhs_number", "patient_name", "pathway_type", "specialty",
	"priority", "status", "clock_state", "clock_start", "breach_date", "days_waited",
	"weeks_waited", "days_remaining", "breach_status",
}

func writeCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		rec := []string{
			e.PathwayID.String(), e.PatientID.String(), e.NHSNumber, e.PatientName,
			string(e.PathwayType), e.Specialty, e.Priority, string(e.Status), string(e.ClockState),
			e.ClockStart, e.BreachDate, strconv.Itoa(e.DaysWaited), strconv.Itoa(e.WeeksWaited),
			strconv.Itoa(e.DaysRemaining), string(e.BreachStatus),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportWaitingList writes the whole filtered waiting list as CSV to the
// blob store. Limit and offset are ignored.
func (s *Service) ExportWaitingList(ctx context.Context, f Filter) (meta *blobstore.Metadata, err error) {
	ctx, span := telemetry.StartSpan(ctx, "reporting.export")
	defer func() { telemetry.End(span, err) }()

	asOf, err := s.normalizeFilter(&f)
	if err != nil {
		return nil, err
	}
	entries, err := s.entries(ctx, f, asOf)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCSV(&buf, entries); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}

	tenant := db.TenantFromContext(ctx)
	meta, err = s.blobs.Put(ctx, blobstore.Metadata{
		TenantID:    tenant,
		FileName:    fmt.Sprintf("waiting-list-%s.csv", f.AsOf),
		ContentType: "text/csv",
		CreatedBy:   auth.UserIDFromContext(ctx),
		Tags: map[string]string{
			"kind":         exportKind,
			"as_of":        f.AsOf,
			"status":       f.Status,
			"specialty":    f.Specialty,
			"pathway_type": f.PathwayType,
			"rows":         strconv.Itoa(len(entries)),
		},
	}, &buf)
	if err != nil {
		return nil, fmt.Errorf("store export: %w", err)
	}

	log := telemetry.Logger(ctx, s.logger)
	log.Info().
		Str("export_id", meta.ID).
		Int("rows", len(entries)).
		Msg("waiting list exported")
	evt := events.New(events.ReportExportCreated, tenant)
	evt.Data = map[string]any{
		"export_id": meta.ID,
		"file_name": meta.FileName,
		"rows":      len(entries),
		"as_of":     f.AsOf,
	}
	events.Emit(ctx, s.events, telemetry.Logger(ctx, s.logger), evt)
	return meta, nil
}

func mapBlobErr(err error, id string) error {
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return apperr.NotFound("export %s not found", id)
	}
	return err
}

// GetExport opens an export of the caller's tenant.
func (s *Service) GetExport(ctx context.Context, id string) (io.ReadCloser, *blobstore.Metadata, error) {
	meta, err := s.blobs.Stat(ctx, id)
	if err != nil {
		return nil, nil, mapBlobErr(err, id)
	}
	if meta.TenantID != db.TenantFromContext(ctx) {
		return nil, nil, apperr.NotFound("export %s not found", id)
	}
	rc, meta, err := s.blobs.Get(ctx, id)
	if err != nil {
		return nil, nil, mapBlobErr(err, id)
	}
	return rc, meta, nil
}

func (s *Service) ListExports(ctx context.Context, limit int) ([]*blobstore.Metadata, error) {
	items, err := s.blobs.List(ctx, db.TenantFromContext(ctx), limit)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	return items, nil
}

// InvalidatingPublisher drops a tenant's cached reports whenever a pathway
// or episode event is published for it, then forwards the event.
type InvalidatingPublisher struct {
	next   events.Publisher
	cache  cache.Cache
	logger zerolog.Logger
}

func NewInvalidatingPublisher(next events.Publisher, c cache.Cache, logger zerolog.Logger) *InvalidatingPublisher {
	if next == nil {
		next = events.NopPublisher{}
	}
	if c == nil {
		c = cache.Nop{}
	}
	return &InvalidatingPublisher{next: next, cache: c, logger: logger}
}

func (p *InvalidatingPublisher) Publish(ctx context.Context, evt events.Event) error {
	if strings.HasPrefix(evt.Type, "pathway.") || strings.HasPrefix(evt.Type, "episode.") || strings.HasPrefix(evt.Type, "automation.") {
		if err := p.cache.DeletePrefix(ctx, CachePrefix(evt.TenantID)); err != nil {
			p.logger.Warn().Err(err).Str("tenant_id", evt.TenantID).Msg("report cache invalidation failed")
		}
	}
	return p.next.Publish(ctx, evt)
}

func (p *InvalidatingPublisher) Close() error {
	return p.next.Close()
}
