package pathway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rtt/rtt/internal/domain/patient"
	"github.com/rtt/rtt/internal/platform/auth"
	"github.com/rtt/rtt/internal/platform/db"
	"github.com/rtt/rtt/internal/platform/events"
	"github.com/rtt/rtt/internal/platform/telemetry"
	"github.com/rtt/rtt/internal/rtt"
	"github.com/rtt/rtt/pkg/apperr"
)

// PatientLookup is the part of the patient registry a pathway needs.
type PatientLookup interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Service struct {
	pathways   Repository
	patients   PatientLookup
	tx         db.TxRunner
	events     events.Publisher
	logger     zerolog.Logger
	atRiskDays int
	now        func() time.Time
}

func NewService(pathways Repository, patients PatientLookup, tx db.TxRunner, pub events.Publisher, logger zerolog.Logger, atRiskDays int) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		pathways:   pathways,
		patients:   patients,
		tx:         tx,
		events:     pub,
		logger:     logger.With().Str("component", "pathway").Logger(),
		atRiskDays: atRiskDays,
		now:        time.Now,
	}
}

// AtRiskDays is the number of days before the breach date at which a
// running clock is reported at risk.
func (s *Service) AtRiskDays() int {
	return s.atRiskDays
}

// Today is the current day in UTC.
func (s *Service) Today() time.Time {
	return rtt.Day(s.now())
}

var searchParams = []string{"patient", "status", "type", "specialty", "clock_state", "priority"}

// SearchParams lists the query parameters Search understands.
func SearchParams() []string {
	return searchParams
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func recordedBy(ctx context.Context) *string {
	return optString(auth.UserIDFromContext(ctx))
}

func (s *Service) emit(ctx context.Context, eventType string, p *Pathway, data map[string]any) {
	evt := events.New(eventType, db.TenantFromContext(ctx))
	evt.PathwayID = p.ID.String()
	evt.PatientID = p.PatientID.String()
	evt.Data = data
	events.Emit(ctx, s.events, telemetry.Logger(ctx, s.logger), evt)
}

func (s *Service) validate(p *Pathway) error {
	if p.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	if _, err := rtt.ParsePathwayType(string(p.PathwayType)); err != nil {
		return err
	}
	if p.Priority == "" {
		p.Priority = PriorityRoutine
	}
	if !validPriorities[p.Priority] {
		return apperr.Validation("invalid priority: %s", p.Priority)
	}
	if p.ReferralDate.IsZero() {
		return apperr.Validation("referral_date is required")
	}
	p.ReferralDate = rtt.Day(p.ReferralDate)
	if p.ReferralDate.After(s.Today()) {
		return apperr.Validation("referral_date cannot be in the future")
	}
	return nil
}

// CreatePathway opens a pathway for an existing patient, starts its clock
// and records the start event and the referral-received milestone.
func (s *Service) CreatePathway(ctx context.Context, p *Pathway) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "pathway.create")
	defer func() { telemetry.End(span, err) }()

	if err := s.validate(p); err != nil {
		return err
	}
	if _, err := s.patients.GetPatient(ctx, p.PatientID); err != nil {
		if apperr.IsNotFound(err) {
			return apperr.Validation("patient %s does not exist", p.PatientID)
		}
		return err
	}

	start := p.ReferralDate
	if !p.ClockStart.IsZero() {
		start = rtt.Day(p.ClockStart)
	}
	if start.Before(p.ReferralDate) {
		return apperr.Validation("clock_start cannot precede referral_date")
	}
	clock, err := rtt.NewClock(p.PathwayType, start)
	if err != nil {
		return err
	}
	p.setClock(clock)
	p.StopReason = nil
	p.LastRTTCode = nil

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.pathways.Create(ctx, p); err != nil {
			return fmt.Errorf("create pathway: %w", err)
		}
		if err := s.pathways.AddClockEvent(ctx, &ClockEvent{
			PathwayID:  p.ID,
			EventType:  EventStart,
			EventDate:  clock.Start,
			RecordedBy: recordedBy(ctx),
		}); err != nil {
			return fmt.Errorf("record start event: %w", err)
		}
		achieved := p.ReferralDate
		if err := s.pathways.UpsertMilestone(ctx, &Milestone{
			PathwayID:     p.ID,
			MilestoneType: rtt.MilestoneReferralReceived,
			TargetDate:    rtt.MilestoneTarget(clock, rtt.MilestoneReferralReceived),
			AchievedDate:  &achieved,
		}); err != nil {
			return fmt.Errorf("record referral milestone: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log := telemetry.Logger(ctx, s.logger)
	log.Info().
		Str("pathway_id", p.ID.String()).
		Str("pathway_type", string(p.PathwayType)).
		Msg("pathway created")
	s.emit(ctx, events.PathwayCreated, p, map[string]any{
		"pathway_type": p.PathwayType,
		"clock_start":  rtt.FormatDate(clock.Start),
		"breach_date":  rtt.FormatDate(clock.BreachDate()),
	})
	return nil
}

func (s *Service) GetPathway(ctx context.Context, id uuid.UUID) (*Pathway, error) {
	return s.pathways.GetByID(ctx, id)
}

func (s *Service) ListPathways(ctx context.Context, limit, offset int) ([]*Pathway, int, error) {
	return s.pathways.List(ctx, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Pathway, int, error) {
	if _, err := s.patients.GetPatient(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return s.pathways.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) SearchPathways(ctx context.Context, params map[string]string, limit, offset int) ([]*Pathway, int, error) {
	if v, ok := params["patient"]; ok {
		if _, err := uuid.Parse(v); err != nil {
			return nil, 0, apperr.Validation("invalid patient id: %s", v)
		}
	}
	if v, ok := params["status"]; ok && v != string(rtt.StateOpen) && v != string(rtt.StateClosed) {
		return nil, 0, apperr.Validation("status must be open or closed")
	}
	if v, ok := params["type"]; ok {
		if _, err := rtt.ParsePathwayType(v); err != nil {
			return nil, 0, err
		}
	}
	if v, ok := params["clock_state"]; ok {
		switch rtt.ClockState(v) {
		case rtt.ClockRunning, rtt.ClockPaused, rtt.ClockStopped:
		default:
			return nil, 0, apperr.Validation("invalid clock_state: %s", v)
		}
	}
	if v, ok := params["priority"]; ok && !validPriorities[v] {
		return nil, 0, apperr.Validation("invalid priority: %s", v)
	}
	return s.pathways.Search(ctx, params, limit, offset)
}

// UpdatePathway replaces the referral details of a pathway. The patient,
// type, referral date and clock are immutable here.
func (s *Service) UpdatePathway(ctx context.Context, p *Pathway) error {
	existing, err := s.pathways.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if p.Priority == "" {
		p.Priority = existing.Priority
	}
	if !validPriorities[p.Priority] {
		return apperr.Validation("invalid priority: %s", p.Priority)
	}
	if p.VersionID != 0 && p.VersionID != existing.VersionID {
		return apperr.Conflict("pathway %s was modified concurrently (version %d)", p.ID, p.VersionID)
	}
	existing.SpecialtyCode = p.SpecialtyCode
	existing.ReferralSource = p.ReferralSource
	existing.ReferringOrgCode = p.ReferringOrgCode
	existing.Consultant = p.Consultant
	existing.Priority = p.Priority
	if err := s.pathways.Update(ctx, existing); err != nil {
		return fmt.Errorf("update pathway: %w", err)
	}
	*p = *existing
	return nil
}

func (s *Service) DeletePathway(ctx context.Context, id uuid.UUID) error {
	if err := s.pathways.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete pathway: %w", err)
	}
	s.logger.Info().Str("pathway_id", id.String()).Msg("pathway deleted")
	return nil
}

// Transition carries the caller's inputs to a clock transition. A zero
// Date means today; a zero VersionID skips the version check.
type Transition struct {
	Date      time.Time
	Reason    string
	RTTCode   string
	VersionID int
	// KeepClockStart reopens a closed pathway on its original clock
	// instead of starting a new period.
	KeepClockStart bool
}

// date is the day a transition takes effect, today by default. Clock
// changes cannot be dated in the future.
func (s *Service) date(t Transition) (time.Time, error) {
	if t.Date.IsZero() {
		return s.Today(), nil
	}
	d := rtt.Day(t.Date)
	if d.After(s.Today()) {
		return time.Time{}, apperr.Validation("date %s is in the future", rtt.FormatDate(d))
	}
	return d, nil
}

// transition loads the pathway, applies fn to its clock and writes the
// pathway and the resulting clock event in one transaction.
func (s *Service) transition(ctx context.Context, name string, id uuid.UUID, version int,
	fn func(p *Pathway, c *rtt.Clock) (*ClockEvent, error)) (p *Pathway, ev *ClockEvent, err error) {
	ctx, span := telemetry.StartSpan(ctx, "pathway."+name, attribute.String("pathway.id", id.String()))
	defer func() { telemetry.End(span, err) }()

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.pathways.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if version != 0 && version != p.VersionID {
			return apperr.Conflict("pathway %s was modified concurrently (version %d)", id, version)
		}
		c := p.Clock()
		ev, err = fn(p, &c)
		if err != nil {
			return err
		}
		p.setClock(c)
		if err := s.pathways.UpdateClock(ctx, p); err != nil {
			return fmt.Errorf("update pathway clock: %w", err)
		}
		if ev == nil {
			return nil
		}
		ev.PathwayID = p.ID
		ev.RecordedBy = recordedBy(ctx)
		if err := s.pathways.AddClockEvent(ctx, ev); err != nil {
			return fmt.Errorf("record %s event: %w", ev.EventType, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	log := telemetry.Logger(ctx, s.logger)
	log.Info().
		Str("pathway_id", id.String()).
		Str("transition", name).
		Str("clock_state", string(p.ClockState)).
		Msg("pathway clock updated")
	return p, ev, nil
}

// Pause suspends the clock of an open pathway.
func (s *Service) Pause(ctx context.Context, id uuid.UUID, t Transition) (*Pathway, error) {
	reason := optString(t.Reason)
	if reason == nil {
		return nil, apperr.Validation("reason is required to pause a clock")
	}
	at, err := s.date(t)
	if err != nil {
		return nil, err
	}
	p, _, err := s.transition(ctx, "pause", id, t.VersionID, func(p *Pathway, c *rtt.Clock) (*ClockEvent, error) {
		if err := c.Pause(at); err != nil {
			return nil, err
		}
		return &ClockEvent{EventType: EventPause, EventDate: at, Reason: reason}, nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.PathwayPaused, p, map[string]any{
		"pause_start": rtt.FormatDate(at),
		"reason":      *reason,
	})
	return p, nil
}

// Resume restarts a paused clock and adds the pause to the cumulative offset.
func (s *Service) Resume(ctx context.Context, id uuid.UUID, t Transition) (*Pathway, error) {
	at, err := s.date(t)
	if err != nil {
		return nil, err
	}
	var added int
	p, _, err := s.transition(ctx, "resume", id, t.VersionID, func(p *Pathway, c *rtt.Clock) (*ClockEvent, error) {
		days, err := c.Resume(at)
		if err != nil {
			return nil, err
		}
		added = days
		return &ClockEvent{EventType: EventResume, EventDate: at, Reason: optString(t.Reason)}, nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.PathwayResumed, p, map[string]any{
		"resumed_on":  rtt.FormatDate(at),
		"paused_days": added,
		"breach_date": rtt.FormatDate(p.Clock().BreachDate()),
	})
	return p, nil
}

// Stop ends the clock and closes the pathway. An RTT code, when given,
// must be a clock-stop or not-applicable code and supplies the default
// reason.
func (s *Service) Stop(ctx context.Context, id uuid.UUID, t Transition) (*Pathway, error) {
	reason := optString(t.Reason)
	code := optString(t.RTTCode)
	if code != nil {
		rc, err := rtt.LookupCode(*code)
		if err != nil {
			return nil, err
		}
		if rc.Action != rtt.ActionStop && rc.Action != rtt.ActionNotApplicable {
			return nil, apperr.Validation("RTT code %s does not stop a clock", rc.Code)
		}
		code = &rc.Code
		if reason == nil {
			reason = &rc.Description
		}
	}
	if reason == nil {
		return nil, apperr.Validation("reason or rtt_code is required to stop a clock")
	}
	at, err := s.date(t)
	if err != nil {
		return nil, err
	}
	var breached bool
	p, _, err := s.transition(ctx, "stop", id, t.VersionID, func(p *Pathway, c *rtt.Clock) (*ClockEvent, error) {
		if err := c.StopAt(at); err != nil {
			return nil, err
		}
		breached = c.Status(at, s.atRiskDays) == rtt.StatusStoppedBreached
		p.StopReason = reason
		if code != nil {
			p.LastRTTCode = code
		}
		return &ClockEvent{EventType: EventStop, EventDate: at, Reason: reason, RTTCode: code}, nil
	})
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"clock_stop": rtt.FormatDate(at),
		"reason":     *reason,
		"breached":   breached,
	}
	if code != nil {
		data["rtt_code"] = *code
	}
	s.emit(ctx, events.PathwayStopped, p, data)
	return p, nil
}

// Reopen opens a closed pathway. By default a new clock period starts on
// the reopen date; KeepClockStart resumes the original period instead.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID, t Transition) (*Pathway, error) {
	code := optString(t.RTTCode)
	if code != nil {
		rc, err := rtt.LookupCode(*code)
		if err != nil {
			return nil, err
		}
		if rc.State != rtt.StateOpen {
			return nil, apperr.Validation("RTT code %s does not open a pathway", rc.Code)
		}
		code = &rc.Code
	}
	at, err := s.date(t)
	if err != nil {
		return nil, err
	}
	p, _, err := s.transition(ctx, "reopen", id, t.VersionID, func(p *Pathway, c *rtt.Clock) (*ClockEvent, error) {
		if c.State() != rtt.ClockStopped {
			return nil, apperr.Conflict("pathway %s is not closed", p.ID)
		}
		if at.Before(*c.Stop) {
			return nil, apperr.Validation("reopen date precedes the clock stop")
		}
		if t.KeepClockStart {
			c.Stop = nil
		} else {
			*c = rtt.Clock{Start: at, TargetDays: c.TargetDays}
			p.LastBreachStatus = nil
		}
		p.StopReason = nil
		if code != nil {
			p.LastRTTCode = code
		}
		return &ClockEvent{EventType: EventReopen, EventDate: at, Reason: optString(t.Reason), RTTCode: code}, nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.PathwayReopened, p, map[string]any{
		"clock_start":      rtt.FormatDate(p.ClockStart),
		"keep_clock_start": t.KeepClockStart,
		"breach_date":      rtt.FormatDate(p.Clock().BreachDate()),
	})
	return p, nil
}

// RecordRTTCode stores code as the last RTT code without touching the clock.
func (s *Service) RecordRTTCode(ctx context.Context, id uuid.UUID, code string) (*Pathway, error) {
	rc, err := rtt.LookupCode(code)
	if err != nil {
		return nil, err
	}
	p, _, err := s.transition(ctx, "record_code", id, 0, func(p *Pathway, _ *rtt.Clock) (*ClockEvent, error) {
		p.LastRTTCode = &rc.Code
		return nil, nil
	})
	return p, err
}

// ClockHistory returns the clock events of a pathway, oldest first.
func (s *Service) ClockHistory(ctx context.Context, id uuid.UUID) ([]*ClockEvent, error) {
	if _, err := s.pathways.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.pathways.ListClockEvents(ctx, id)
}

// MilestoneInput records progress against one milestone.
type MilestoneInput struct {
	Type         string
	AchievedDate *time.Time
	Notes        string
}

// RecordMilestone sets or replaces a milestone. The target date is derived
// from the current clock.
func (s *Service) RecordMilestone(ctx context.Context, id uuid.UUID, in MilestoneInput) (*Milestone, error) {
	mt, err := rtt.ParseMilestoneType(in.Type)
	if err != nil {
		return nil, err
	}
	p, err := s.pathways.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m := &Milestone{
		PathwayID:     p.ID,
		MilestoneType: mt,
		TargetDate:    rtt.MilestoneTarget(p.Clock(), mt),
		Notes:         optString(in.Notes),
	}
	if in.AchievedDate != nil {
		d := rtt.Day(*in.AchievedDate)
		if d.Before(p.ReferralDate) {
			return nil, apperr.Validation("achieved_date precedes the referral date")
		}
		if d.After(s.Today()) {
			return nil, apperr.Validation("achieved_date cannot be in the future")
		}
		m.AchievedDate = &d
	}
	if err := s.pathways.UpsertMilestone(ctx, m); err != nil {
		return nil, fmt.Errorf("record milestone: %w", err)
	}
	return m, nil
}

func (s *Service) ListMilestones(ctx context.Context, id uuid.UUID) ([]*Milestone, error) {
	if _, err := s.pathways.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.pathways.ListMilestones(ctx, id)
}

// Summary returns the derived clock view of a pathway. A zero asOf means today.
func (s *Service) Summary(ctx context.Context, id uuid.UUID, asOf time.Time) (*Summary, error) {
	p, err := s.pathways.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = s.Today()
	}
	sum := NewSummary(p, rtt.Day(asOf), s.atRiskDays)
	return &sum, nil
}

// ListOpen pages through open pathways for the breach sweep.
func (s *Service) ListOpen(ctx context.Context, after uuid.UUID, limit int) ([]*Pathway, error) {
	return s.pathways.ListOpen(ctx, after, limit)
}

// MarkBreachStatus records the breach status last reported for a pathway.
func (s *Service) MarkBreachStatus(ctx context.Context, id uuid.UUID, status rtt.BreachStatus) error {
	return s.pathways.UpdateBreachStatus(ctx, id, string(status))
}
