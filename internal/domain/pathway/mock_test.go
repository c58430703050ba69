package pathway

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rtt/rtt/internal/domain/patient"
	"github.com/rtt/rtt/pkg/apperr"
)

type mockPathwayRepo struct {
	pathways   map[uuid.UUID]*Pathway
	events     []*ClockEvent
	milestones map[uuid.UUID]map[string]*Milestone
	// failClockEvent makes AddClockEvent fail, to exercise rollback paths.
	failClockEvent error
}

func newMockPathwayRepo() *mockPathwayRepo {
	return &mockPathwayRepo{
		pathways:   make(map[uuid.UUID]*Pathway),
		milestones: make(map[uuid.UUID]map[string]*Milestone),
	}
}

func (m *mockPathwayRepo) Create(_ context.Context, p *Pathway) error {
	p.ID = uuid.New()
	p.VersionID = 1
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.pathways[p.ID] = &cp
	return nil
}

func (m *mockPathwayRepo) GetByID(_ context.Context, id uuid.UUID) (*Pathway, error) {
	p, ok := m.pathways[id]
	if !ok {
		return nil, apperr.NotFound("pathway not found")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPathwayRepo) save(p *Pathway) error {
	existing, ok := m.pathways[p.ID]
	if !ok || existing.VersionID != p.VersionID {
		return apperr.Conflict("pathway %s was modified concurrently (version %d)", p.ID, p.VersionID)
	}
	p.VersionID++
	p.UpdatedAt = time.Now()
	cp := *p
	m.pathways[p.ID] = &cp
	return nil
}

func (m *mockPathwayRepo) Update(_ context.Context, p *Pathway) error      { return m.save(p) }
func (m *mockPathwayRepo) UpdateClock(_ context.Context, p *Pathway) error { return m.save(p) }

func (m *mockPathwayRepo) UpdateBreachStatus(_ context.Context, id uuid.UUID, status string) error {
	p, ok := m.pathways[id]
	if !ok {
		return apperr.NotFound("pathway not found")
	}
	p.LastBreachStatus = &status
	return nil
}

func (m *mockPathwayRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.pathways[id]; !ok {
		return apperr.NotFound("pathway not found")
	}
	delete(m.pathways, id)
	return nil
}

func (m *mockPathwayRepo) List(ctx context.Context, limit, offset int) ([]*Pathway, int, error) {
	return m.Search(ctx, nil, limit, offset)
}

func (m *mockPathwayRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Pathway, int, error) {
	return m.Search(ctx, map[string]string{"patient": patientID.String()}, limit, offset)
}

func (m *mockPathwayRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Pathway, int, error) {
	var out []*Pathway
	for _, p := range m.pathways {
		if v, ok := params["patient"]; ok && p.PatientID.String() != v {
			continue
		}
		if v, ok := params["status"]; ok && string(p.Status) != v {
			continue
		}
		if v, ok := params["type"]; ok && string(p.PathwayType) != v {
			continue
		}
		if v, ok := params["clock_state"]; ok && string(p.ClockState) != v {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClockStart.Before(out[j].ClockStart) })
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

func (m *mockPathwayRepo) ListOpen(_ context.Context, after uuid.UUID, limit int) ([]*Pathway, error) {
	var out []*Pathway
	for _, p := range m.pathways {
		if p.Status == "open" && p.ID.String() > after.String() {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockPathwayRepo) AddClockEvent(_ context.Context, e *ClockEvent) error {
	if m.failClockEvent != nil {
		return m.failClockEvent
	}
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	m.events = append(m.events, e)
	return nil
}

func (m *mockPathwayRepo) ListClockEvents(_ context.Context, pathwayID uuid.UUID) ([]*ClockEvent, error) {
	var out []*ClockEvent
	for _, e := range m.events {
		if e.PathwayID == pathwayID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockPathwayRepo) UpsertMilestone(_ context.Context, ms *Milestone) error {
	byType, ok := m.milestones[ms.PathwayID]
	if !ok {
		byType = make(map[string]*Milestone)
		m.milestones[ms.PathwayID] = byType
	}
	if existing, ok := byType[string(ms.MilestoneType)]; ok {
		ms.ID = existing.ID
		ms.CreatedAt = existing.CreatedAt
	} else {
		ms.ID = uuid.New()
		ms.CreatedAt = time.Now()
	}
	ms.UpdatedAt = time.Now()
	cp := *ms
	byType[string(ms.MilestoneType)] = &cp
	return nil
}

func (m *mockPathwayRepo) ListMilestones(_ context.Context, pathwayID uuid.UUID) ([]*Milestone, error) {
	var out []*Milestone
	for _, ms := range m.milestones[pathwayID] {
		cp := *ms
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetDate.Before(out[j].TargetDate) })
	return out, nil
}

type mockPatients struct {
	ids map[uuid.UUID]bool
}

func (m *mockPatients) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	if !m.ids[id] {
		return nil, apperr.NotFound("patient not found")
	}
	return &patient.Patient{ID: id}, nil
}
