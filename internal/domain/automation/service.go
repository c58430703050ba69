// Package automation derives pathway state from RTT status codes recorded
// on episodes and reports clocks that are at risk of breaching.
package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rtt/rtt/internal/domain/episode"
	"github.com/rtt/rtt/internal/domain/pathway"
	"github.com/rtt/rtt/internal/platform/db"
	"github.com/rtt/rtt/internal/platform/events"
	"github.com/rtt/rtt/internal/platform/telemetry"
	"github.com/rtt/rtt/internal/rtt"
)

// Pathways is the part of the pathway engine automation drives.
type Pathways interface {
	GetPathway(ctx context.Context, id uuid.UUID) (*pathway.Pathway, error)
	Stop(ctx context.Context, id uuid.UUID, t pathway.Transition) (*pathway.Pathway, error)
	Reopen(ctx context.Context, id uuid.UUID, t pathway.Transition) (*pathway.Pathway, error)
	RecordRTTCode(ctx context.Context, id uuid.UUID, code string) (*pathway.Pathway, error)
	ListOpen(ctx context.Context, after uuid.UUID, limit int) ([]*pathway.Pathway, error)
	MarkBreachStatus(ctx context.Context, id uuid.UUID, status rtt.BreachStatus) error
	ClockHistory(ctx context.Context, id uuid.UUID) ([]*pathway.ClockEvent, error)
	AtRiskDays() int
}

// Episodes finds the episode that decides a pathway's state.
type Episodes interface {
	LatestCoded(ctx context.Context, pathwayID uuid.UUID) (*episode.Episode, error)
}

// Transition is what Apply will do to a pathway.
type Transition string

const (
	TransitionNone       Transition = "none"
	TransitionRecordCode Transition = "record-code"
	TransitionClose      Transition = "close"
	// TransitionReopen starts a new clock period at the episode date.
	TransitionReopen Transition = "reopen"
	// TransitionResumeClock reopens on the original clock.
	TransitionResumeClock Transition = "resume-clock"
)

// Decision is the outcome of evaluating a pathway against its latest coded episode.
type Decision struct {
	PathwayID    uuid.UUID        `json:"pathway_id"`
	EpisodeID    *uuid.UUID       `json:"episode_id,omitempty"`
	EpisodeDate  string           `json:"episode_date,omitempty"`
	Code         string           `json:"rtt_code,omitempty"`
	Description  string           `json:"description,omitempty"`
	Action       rtt.ClockAction  `json:"action,omitempty"`
	CurrentState rtt.PathwayState `json:"current_state"`
	TargetState  rtt.PathwayState `json:"target_state"`
	ChangeNeeded bool             `json:"change_needed"`
	Transition   Transition       `json:"transition"`
	Reason       string           `json:"reason,omitempty"`

	date    time.Time
	version int
}

// Result is a Decision after Apply ran it.
type Result struct {
	Decision
	Applied bool             `json:"applied"`
	Pathway *pathway.Pathway `json:"pathway"`
}

type Service struct {
	pathways  Pathways
	episodes  Episodes
	events    events.Publisher
	logger    zerolog.Logger
	batchSize int
	now       func() time.Time
}

func NewService(pathways Pathways, episodes Episodes, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		pathways:  pathways,
		episodes:  episodes,
		events:    pub,
		logger:    logger.With().Str("component", "automation").Logger(),
		batchSize: 500,
		now:       time.Now,
	}
}

// Evaluate decides the state a pathway should be in from the most recently
// dated episode carrying an RTT code. It changes nothing.
func (s *Service) Evaluate(ctx context.Context, pathwayID uuid.UUID) (*Decision, error) {
	p, err := s.pathways.GetPathway(ctx, pathwayID)
	if err != nil {
		return nil, err
	}
	ep, err := s.episodes.LatestCoded(ctx, pathwayID)
	if err != nil {
		return nil, fmt.Errorf("latest coded episode: %w", err)
	}
	codedStop := false
	if p.ClockStop != nil {
		if codedStop, err = s.codedStop(ctx, pathwayID); err != nil {
			return nil, err
		}
	}
	return decide(p, ep, codedStop)
}

// codedStop reports whether the last clock stop of a pathway was made for
// an RTT code, and so belongs to the episodes that carry one.
func (s *Service) codedStop(ctx context.Context, pathwayID uuid.UUID) (bool, error) {
	history, err := s.pathways.ClockHistory(ctx, pathwayID)
	if err != nil {
		return false, fmt.Errorf("clock history: %w", err)
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].EventType == pathway.EventStop {
			return history[i].RTTCode != nil, nil
		}
	}
	return false, nil
}

// decide works out the transition for p. A coded stop that no coded
// episode dated on or after the stop supports any more is undone on the
// original clock.
func decide(p *pathway.Pathway, ep *episode.Episode, codedStop bool) (*Decision, error) {
	d := &Decision{
		PathwayID:    p.ID,
		CurrentState: p.Status,
		TargetState:  p.Status,
		Transition:   TransitionNone,
		version:      p.VersionID,
	}
	if ep == nil || !ep.Coded() {
		if codedStop && p.Status == rtt.StateClosed {
			d.TargetState = rtt.StateOpen
			d.Transition = TransitionResumeClock
			d.ChangeNeeded = true
			d.Reason = "no coded episode supports the clock stop"
			d.date = *p.ClockStop
			return d, nil
		}
		d.Reason = "no episode carries an RTT code"
		return d, nil
	}
	code, err := rtt.LookupCode(*ep.RTTCode)
	if err != nil {
		return nil, err
	}
	id := ep.ID
	d.EpisodeID = &id
	d.EpisodeDate = rtt.FormatDate(ep.EpisodeDate)
	d.Code = code.Code
	d.Description = code.Description
	d.Action = code.Action
	d.date = rtt.Day(ep.EpisodeDate)
	if code.ChangesState() {
		d.TargetState = code.State
	}

	sameCode := p.LastRTTCode != nil && *p.LastRTTCode == code.Code
	switch {
	case d.TargetState == d.CurrentState:
		if !sameCode {
			d.Transition = TransitionRecordCode
		}
	case d.TargetState == rtt.StateClosed:
		if d.date.Before(p.ClockStart) {
			d.Reason = "episode predates the current clock period"
			return d, nil
		}
		d.Transition = TransitionClose
	case p.ClockStop != nil && d.date.Before(*p.ClockStop):
		if !codedStop {
			d.Reason = "episode predates the clock stop"
			return d, nil
		}
		d.Reason = "no coded episode supports the clock stop"
		d.date = *p.ClockStop
		d.Transition = TransitionResumeClock
	case code.Action == rtt.ActionStart:
		d.Transition = TransitionReopen
	default:
		d.Transition = TransitionResumeClock
	}
	d.ChangeNeeded = d.Transition == TransitionClose || d.Transition == TransitionReopen || d.Transition == TransitionResumeClock
	return d, nil
}

// Apply evaluates a pathway and carries out the decision through the
// pathway engine, so every state change is versioned and logged as a
// clock event.
func (s *Service) Apply(ctx context.Context, pathwayID uuid.UUID) (res *Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "automation.apply", attribute.String("pathway.id", pathwayID.String()))
	defer func() { telemetry.End(span, err) }()

	d, err := s.Evaluate(ctx, pathwayID)
	if err != nil {
		return nil, err
	}
	res = &Result{Decision: *d}

	t := pathway.Transition{Date: d.date, RTTCode: d.Code, VersionID: d.version}
	switch d.Transition {
	case TransitionNone:
		res.Pathway, err = s.pathways.GetPathway(ctx, pathwayID)
		return res, err
	case TransitionRecordCode:
		res.Pathway, err = s.pathways.RecordRTTCode(ctx, pathwayID, d.Code)
	case TransitionClose:
		res.Pathway, err = s.pathways.Stop(ctx, pathwayID, t)
	case TransitionReopen:
		t.Reason = d.Description
		res.Pathway, err = s.pathways.Reopen(ctx, pathwayID, t)
	case TransitionResumeClock:
		t.Reason = d.Description
		if d.Reason != "" {
			t.Reason = d.Reason
		}
		t.KeepClockStart = true
		res.Pathway, err = s.pathways.Reopen(ctx, pathwayID, t)
	}
	if err != nil {
		return nil, fmt.Errorf("apply %s for code %s: %w", d.Transition, d.Code, err)
	}
	res.Applied = true

	log := telemetry.Logger(ctx, s.logger)
	log.Info().
		Str("pathway_id", pathwayID.String()).
		Str("rtt_code", d.Code).
		Str("transition", string(d.Transition)).
		Msg("status automation applied")
	if d.ChangeNeeded {
		evt := events.New(events.AutomationApplied, db.TenantFromContext(ctx))
		evt.PathwayID = pathwayID.String()
		evt.PatientID = res.Pathway.PatientID.String()
		evt.Data = map[string]any{
			"rtt_code":   d.Code,
			"transition": d.Transition,
			"from":       d.CurrentState,
			"to":         d.TargetState,
		}
		events.Emit(ctx, s.events, telemetry.Logger(ctx, s.logger), evt)
	}
	return res, nil
}

// SyncPathway applies automation and discards the result. It lets the
// episode log trigger automation without depending on this package.
func (s *Service) SyncPathway(ctx context.Context, pathwayID uuid.UUID) error {
	_, err := s.Apply(ctx, pathwayID)
	return err
}

// SweepResult counts what one sweep saw and reported.
type SweepResult struct {
	AsOf     string `json:"as_of"`
	Scanned  int    `json:"scanned"`
	AtRisk   int    `json:"at_risk"`
	Breached int    `json:"breached"`
	Notified int    `json:"notified"`
}

// Sweep walks every open pathway, classifies its clock as of asOf and
// publishes an event for each pathway whose status got worse since the
// last sweep. A zero asOf means today.
func (s *Service) Sweep(ctx context.Context, asOf time.Time) (res *SweepResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "automation.sweep")
	defer func() { telemetry.End(span, err) }()

	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = rtt.Day(asOf)
	res = &SweepResult{AsOf: rtt.FormatDate(asOf)}
	atRiskDays := s.pathways.AtRiskDays()

	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		page, err := s.pathways.ListOpen(ctx, after, s.batchSize)
		if err != nil {
			return res, fmt.Errorf("list open pathways: %w", err)
		}
		for _, p := range page {
			res.Scanned++
			status := p.Clock().Status(asOf, atRiskDays)
			switch status {
			case rtt.StatusAtRisk:
				res.AtRisk++
			case rtt.StatusBreached:
				res.Breached++
			}

			var last rtt.BreachStatus
			if p.LastBreachStatus != nil {
				last = rtt.BreachStatus(*p.LastBreachStatus)
			}
			if status == last {
				continue
			}
			if status.Severity() > last.Severity() {
				s.notify(ctx, p, status, asOf)
				res.Notified++
			}
			if err := s.pathways.MarkBreachStatus(ctx, p.ID, status); err != nil {
				return res, fmt.Errorf("mark breach status: %w", err)
			}
		}
		if len(page) < s.batchSize {
			break
		}
		after = page[len(page)-1].ID
	}

	log := telemetry.Logger(ctx, s.logger)
	log.Info().
		Str("as_of", res.AsOf).
		Int("scanned", res.Scanned).
		Int("at_risk", res.AtRisk).
		Int("breached", res.Breached).
		Int("notified", res.Notified).
		Msg("breach sweep complete")
	return res, nil
}

func (s *Service) notify(ctx context.Context, p *pathway.Pathway, status rtt.BreachStatus, asOf time.Time) {
	eventType := events.PathwayAtRisk
	if status == rtt.StatusBreached {
		eventType = events.PathwayBreached
	}
	sum := pathway.NewSummary(p, asOf, s.pathways.AtRiskDays())
	evt := events.New(eventType, db.TenantFromContext(ctx))
	evt.PathwayID = p.ID.String()
	evt.PatientID = p.PatientID.String()
	evt.Data = map[string]any{
		"pathway_type":   p.PathwayType,
		"breach_date":    sum.BreachDate,
		"days_waited":    sum.DaysWaited,
		"days_remaining": sum.DaysRemaining,
		"as_of":          sum.AsOf,
	}
	events.Emit(ctx, s.events, telemetry.Logger(ctx, s.logger), evt)
}
