package episode

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rtt/rtt/internal/domain/pathway"
	"github.com/rtt/rtt/internal/platform/events"
	"github.com/rtt/rtt/internal/rtt"
	"github.com/rtt/rtt/pkg/apperr"
)

var today = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	d, _ := rtt.ParseDate(s)
	return d
}

func strPtr(s string) *string { return &s }

type mockEpisodeRepo struct {
	episodes map[uuid.UUID]*Episode
	seq      int
}

func newMockEpisodeRepo() *mockEpisodeRepo {
	return &mockEpisodeRepo{episodes: make(map[uuid.UUID]*Episode)}
}

func (m *mockEpisodeRepo) Create(_ context.Context, e *Episode) error {
	m.seq++
	e.ID = uuid.New()
	e.CreatedAt = today.Add(time.Duration(m.seq) * time.Second)
	e.UpdatedAt = e.CreatedAt
	cp := *e
	m.episodes[e.ID] = &cp
	return nil
}

func (m *mockEpisodeRepo) GetByID(_ context.Context, id uuid.UUID) (*Episode, error) {
	e, ok := m.episodes[id]
	if !ok {
		return nil, apperr.NotFound("episode not found")
	}
	cp := *e
	return &cp, nil
}

func (m *mockEpisodeRepo) Update(_ context.Context, e *Episode) error {
	existing, ok := m.episodes[e.ID]
	if !ok {
		return apperr.NotFound("episode not found")
	}
	e.CreatedAt = existing.CreatedAt
	e.UpdatedAt = time.Now()
	cp := *e
	m.episodes[e.ID] = &cp
	return nil
}

func (m *mockEpisodeRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.episodes[id]; !ok {
		return apperr.NotFound("episode not found")
	}
	delete(m.episodes, id)
	return nil
}

func (m *mockEpisodeRepo) sorted(pathwayID uuid.UUID) []*Episode {
	var out []*Episode
	for _, e := range m.episodes {
		if e.PathwayID == pathwayID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EpisodeDate.Equal(out[j].EpisodeDate) {
			return out[i].EpisodeDate.Before(out[j].EpisodeDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *mockEpisodeRepo) ListByPathway(_ context.Context, pathwayID uuid.UUID, limit, offset int) ([]*Episode, int, error) {
	out := m.sorted(pathwayID)
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockEpisodeRepo) LatestCoded(_ context.Context, pathwayID uuid.UUID) (*Episode, error) {
	out := m.sorted(pathwayID)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Coded() {
			return out[i], nil
		}
	}
	return nil, nil
}

type mockPathways struct {
	pathways map[uuid.UUID]*pathway.Pathway
}

func (m *mockPathways) GetPathway(_ context.Context, id uuid.UUID) (*pathway.Pathway, error) {
	p, ok := m.pathways[id]
	if !ok {
		return nil, apperr.NotFound("pathway not found")
	}
	return p, nil
}

type mockSync struct {
	calls []uuid.UUID
	err   error
}

func (m *mockSync) SyncPathway(_ context.Context, pathwayID uuid.UUID) error {
	m.calls = append(m.calls, pathwayID)
	return m.err
}

type fixture struct {
	svc      *Service
	repo     *mockEpisodeRepo
	sync     *mockSync
	recorder *events.Recorder
	pw       *pathway.Pathway
}

func newFixture() *fixture {
	pw := &pathway.Pathway{
		ID:           uuid.New(),
		PatientID:    uuid.New(),
		PathwayType:  rtt.PathwayRTT18Week,
		ReferralDate: day("2025-01-01"),
		ClockStart:   day("2025-01-01"),
	}
	repo := newMockEpisodeRepo()
	sync := &mockSync{}
	rec := events.NewRecorder()
	svc := NewService(repo, &mockPathways{pathways: map[uuid.UUID]*pathway.Pathway{pw.ID: pw}}, sync, rec, zerolog.Nop())
	svc.now = func() time.Time { return today }
	return &fixture{svc: svc, repo: repo, sync: sync, recorder: rec, pw: pw}
}

func TestRecordEpisode(t *testing.T) {
	f := newFixture()
	e := &Episode{EpisodeType: TypeConsultant, EpisodeDate: day("2025-01-15"), Clinician: strPtr(" Dr Smith "), RTTCode: strPtr(" 20 ")}

	res, err := f.svc.RecordEpisode(context.Background(), f.pw.ID, e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Warning != "" {
		t.Errorf("unexpected warning %q", res.Warning)
	}
	if e.PatientID != f.pw.PatientID {
		t.Error("expected patient id copied from pathway")
	}
	if *e.Clinician != "Dr Smith" || *e.RTTCode != "20" {
		t.Errorf("expected trimmed fields, got %q %q", *e.Clinician, *e.RTTCode)
	}
	if len(f.sync.calls) != 1 || f.sync.calls[0] != f.pw.ID {
		t.Errorf("expected automation for the pathway, got %v", f.sync.calls)
	}
	if types := f.recorder.Types(); len(types) != 1 || types[0] != events.EpisodeRecorded {
		t.Errorf("expected episode.recorded, got %v", types)
	}
}

func TestRecordEpisode_UncodedSkipsAutomation(t *testing.T) {
	f := newFixture()
	e := &Episode{EpisodeType: TypeDiagnostic, EpisodeDate: day("2025-02-01"), TestName: strPtr("MRI knee")}
	if _, err := f.svc.RecordEpisode(context.Background(), f.pw.ID, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sync.calls) != 0 {
		t.Errorf("expected no automation for an uncoded episode")
	}
}

func TestRecordEpisode_AutomationFailureIsWarning(t *testing.T) {
	f := newFixture()
	f.sync.err = errors.New("database unavailable")
	e := &Episode{EpisodeType: TypeTreatment, EpisodeDate: day("2025-03-01"), ProcedureCode: strPtr("W401"), RTTCode: strPtr("30")}

	res, err := f.svc.RecordEpisode(context.Background(), f.pw.ID, e)
	if err != nil {
		t.Fatalf("expected episode to be stored, got %v", err)
	}
	if res.Warning == "" {
		t.Error("expected a warning")
	}
	if len(f.repo.episodes) != 1 {
		t.Errorf("expected episode stored, got %d", len(f.repo.episodes))
	}
}

func TestRecordEpisode_Validation(t *testing.T) {
	tests := []struct {
		name string
		e    Episode
	}{
		{"unknown type", Episode{EpisodeType: "telephone", EpisodeDate: day("2025-02-01")}},
		{"consultant without clinician", Episode{EpisodeType: TypeConsultant, EpisodeDate: day("2025-02-01")}},
		{"treatment without detail", Episode{EpisodeType: TypeTreatment, EpisodeDate: day("2025-02-01"), Outcome: strPtr("  ")}},
		{"diagnostic without test", Episode{EpisodeType: TypeDiagnostic, EpisodeDate: day("2025-02-01")}},
		{"unknown rtt code", Episode{EpisodeType: TypeConsultant, Clinician: strPtr("x"), EpisodeDate: day("2025-02-01"), RTTCode: strPtr("42")}},
		{"missing date", Episode{EpisodeType: TypeConsultant, Clinician: strPtr("x")}},
		{"before referral", Episode{EpisodeType: TypeConsultant, Clinician: strPtr("x"), EpisodeDate: day("2024-12-31")}},
		{"future date", Episode{EpisodeType: TypeConsultant, Clinician: strPtr("x"), EpisodeDate: day("2025-06-02")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			e := tt.e
			_, err := f.svc.RecordEpisode(context.Background(), f.pw.ID, &e)
			if !apperr.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
			if len(f.repo.episodes) != 0 {
				t.Error("expected nothing stored")
			}
		})
	}
}

func TestRecordEpisode_UnknownPathway(t *testing.T) {
	f := newFixture()
	e := &Episode{EpisodeType: TypeConsultant, Clinician: strPtr("x"), EpisodeDate: day("2025-02-01")}
	if _, err := f.svc.RecordEpisode(context.Background(), uuid.New(), e); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestLatestCoded(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	record := func(date, code string) *Episode {
		e := &Episode{EpisodeType: TypeConsultant, Clinician: strPtr("x"), EpisodeDate: day(date)}
		if code != "" {
			e.RTTCode = strPtr(code)
		}
		if _, err := f.svc.RecordEpisode(ctx, f.pw.ID, e); err != nil {
			t.Fatalf("record: %v", err)
		}
		return e
	}
	record("2025-03-01", "30")
	record("2025-01-10", "10")
	record("2025-03-05", "")
	sameDay := record("2025-03-01", "20")

	latest, err := f.svc.LatestCoded(ctx, f.pw.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest == nil || latest.ID != sameDay.ID {
		t.Errorf("expected the later-created episode on the latest coded day, got %+v", latest)
	}
}

func TestUpdateEpisode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := &Episode{EpisodeType: TypeConsultant, Clinician: strPtr("x"), EpisodeDate: day("2025-02-01"), RTTCode: strPtr("20")}
	_, _ = f.svc.RecordEpisode(ctx, f.pw.ID, e)
	f.sync.calls = nil

	upd := &Episode{ID: e.ID, EpisodeType: TypeConsultant, Clinician: strPtr("y"), EpisodeDate: day("2025-02-02"), PathwayID: uuid.New()}
	if _, err := f.svc.UpdateEpisode(ctx, upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upd.PathwayID != f.pw.ID {
		t.Error("expected pathway link to stay fixed")
	}
	if len(f.sync.calls) != 1 {
		t.Errorf("expected automation when a code is removed, got %d calls", len(f.sync.calls))
	}

	if _, err := f.svc.UpdateEpisode(ctx, &Episode{ID: uuid.New()}); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeleteEpisode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := &Episode{EpisodeType: TypeTreatment, Outcome: strPtr("treated"), EpisodeDate: day("2025-02-01"), RTTCode: strPtr("30")}
	_, _ = f.svc.RecordEpisode(ctx, f.pw.ID, e)
	f.sync.calls = nil

	if _, err := f.svc.DeleteEpisode(ctx, e.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sync.calls) != 1 {
		t.Errorf("expected automation after deleting a coded episode")
	}
	if _, err := f.svc.GetEpisode(ctx, e.ID); !apperr.IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	types := f.recorder.Types()
	if types[len(types)-1] != events.EpisodeDeleted {
		t.Errorf("expected episode.deleted, got %v", types)
	}
}

func TestListByPathway(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for _, d := range []string{"2025-03-01", "2025-01-05", "2025-02-01"} {
		_, _ = f.svc.RecordEpisode(ctx, f.pw.ID, &Episode{EpisodeType: TypeConsultant, Clinician: strPtr("x"), EpisodeDate: day(d)})
	}
	items, total, err := f.svc.ListByPathway(ctx, f.pw.ID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || rtt.FormatDate(items[0].EpisodeDate) != "2025-01-05" || rtt.FormatDate(items[2].EpisodeDate) != "2025-03-01" {
		t.Errorf("expected episodes in date order, got %v", items)
	}
	if _, _, err := f.svc.ListByPathway(ctx, uuid.New(), 20, 0); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}
