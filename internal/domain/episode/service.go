package episode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rtt/rtt/internal/domain/pathway"
	"github.com/rtt/rtt/internal/platform/db"
	"github.com/rtt/rtt/internal/platform/events"
	"github.com/rtt/rtt/internal/platform/telemetry"
	"github.com/rtt/rtt/internal/rtt"
	"github.com/rtt/rtt/pkg/apperr"
)

// PathwayLookup is the part of the pathway engine the episode log needs.
type PathwayLookup interface {
	GetPathway(ctx context.Context, id uuid.UUID) (*pathway.Pathway, error)
}

// StatusSync re-derives a pathway's state from its coded episodes.
type StatusSync interface {
	SyncPathway(ctx context.Context, pathwayID uuid.UUID) error
}

// Result is an episode write plus any status automation failure. The
// episode is stored even when automation fails.
type Result struct {
	Episode *Episode `json:"episode,omitempty"`
	Warning string   `json:"warning,omitempty"`
}

type Service struct {
	episodes Repository
	pathways PathwayLookup
	sync     StatusSync
	events   events.Publisher
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(episodes Repository, pathways PathwayLookup, sync StatusSync, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		episodes: episodes,
		pathways: pathways,
		sync:     sync,
		events:   pub,
		logger:   logger.With().Str("component", "episode").Logger(),
		now:      time.Now,
	}
}

func optString(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func (s *Service) validate(e *Episode, pw *pathway.Pathway) error {
	if !validTypes[e.EpisodeType] {
		return apperr.Validation("invalid episode_type: %s", e.EpisodeType)
	}
	e.Clinician = optString(e.Clinician)
	e.Outcome = optString(e.Outcome)
	e.ProcedureCode = optString(e.ProcedureCode)
	e.TestName = optString(e.TestName)
	e.Notes = optString(e.Notes)
	e.RTTCode = optString(e.RTTCode)

	switch e.EpisodeType {
	case TypeConsultant:
		if e.Clinician == nil {
			return apperr.Validation("clinician is required for a consultant episode")
		}
	case TypeTreatment:
		if e.ProcedureCode == nil && e.Outcome == nil {
			return apperr.Validation("procedure_code or outcome is required for a treatment episode")
		}
	case TypeDiagnostic:
		if e.TestName == nil {
			return apperr.Validation("test_name is required for a diagnostic episode")
		}
	}

	if e.RTTCode != nil {
		code, err := rtt.LookupCode(*e.RTTCode)
		if err != nil {
			return err
		}
		e.RTTCode = &code.Code
	}

	if e.EpisodeDate.IsZero() {
		return apperr.Validation("episode_date is required")
	}
	e.EpisodeDate = rtt.Day(e.EpisodeDate)
	if e.EpisodeDate.Before(pw.ReferralDate) {
		return apperr.Validation("episode_date precedes the pathway referral date %s", rtt.FormatDate(pw.ReferralDate))
	}
	if e.EpisodeDate.After(rtt.Day(s.now())) {
		return apperr.Validation("episode_date cannot be in the future")
	}
	return nil
}

// syncStatus runs status automation for a pathway and turns a failure into
// a warning.
func (s *Service) syncStatus(ctx context.Context, pathwayID uuid.UUID) string {
	if s.sync == nil {
		return ""
	}
	if err := s.sync.SyncPathway(ctx, pathwayID); err != nil {
		log := telemetry.Logger(ctx, s.logger)
		log.Warn().Err(err).
			Str("pathway_id", pathwayID.String()).
			Msg("status automation failed")
		return fmt.Sprintf("status automation failed: %v", err)
	}
	return ""
}

func (s *Service) emit(ctx context.Context, eventType string, e *Episode) {
	evt := events.New(eventType, db.TenantFromContext(ctx))
	evt.PathwayID = e.PathwayID.String()
	evt.PatientID = e.PatientID.String()
	evt.Data = map[string]any{
		"episode_id":   e.ID.String(),
		"episode_type": e.EpisodeType,
		"episode_date": rtt.FormatDate(e.EpisodeDate),
	}
	if e.Coded() {
		evt.Data["rtt_code"] = *e.RTTCode
	}
	events.Emit(ctx, s.events, telemetry.Logger(ctx, s.logger), evt)
}

// RecordEpisode adds an episode to a pathway and, when it carries an RTT
// code, re-runs status automation for the pathway.
func (s *Service) RecordEpisode(ctx context.Context, pathwayID uuid.UUID, e *Episode) (res *Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "episode.record", attribute.String("pathway.id", pathwayID.String()))
	defer func() { telemetry.End(span, err) }()

	pw, err := s.pathways.GetPathway(ctx, pathwayID)
	if err != nil {
		return nil, err
	}
	e.PathwayID = pw.ID
	e.PatientID = pw.PatientID
	if err := s.validate(e, pw); err != nil {
		return nil, err
	}
	if err := s.episodes.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create episode: %w", err)
	}
	log := telemetry.Logger(ctx, s.logger)
	log.Info().
		Str("episode_id", e.ID.String()).
		Str("pathway_id", pathwayID.String()).
		Str("episode_type", string(e.EpisodeType)).
		Msg("episode recorded")
	s.emit(ctx, events.EpisodeRecorded, e)

	res = &Result{Episode: e}
	if e.Coded() {
		res.Warning = s.syncStatus(ctx, pw.ID)
	}
	return res, nil
}

func (s *Service) GetEpisode(ctx context.Context, id uuid.UUID) (*Episode, error) {
	return s.episodes.GetByID(ctx, id)
}

func (s *Service) ListByPathway(ctx context.Context, pathwayID uuid.UUID, limit, offset int) ([]*Episode, int, error) {
	if _, err := s.pathways.GetPathway(ctx, pathwayID); err != nil {
		return nil, 0, err
	}
	return s.episodes.ListByPathway(ctx, pathwayID, limit, offset)
}

// LatestCoded returns the episode that decides a pathway's state, or nil.
func (s *Service) LatestCoded(ctx context.Context, pathwayID uuid.UUID) (*Episode, error) {
	return s.episodes.LatestCoded(ctx, pathwayID)
}

// UpdateEpisode replaces the details of an episode. The pathway link is
// fixed. Automation runs when the old or the new version carries a code.
func (s *Service) UpdateEpisode(ctx context.Context, e *Episode) (*Result, error) {
	existing, err := s.episodes.GetByID(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	pw, err := s.pathways.GetPathway(ctx, existing.PathwayID)
	if err != nil {
		return nil, err
	}
	e.PathwayID = existing.PathwayID
	e.PatientID = existing.PatientID
	if err := s.validate(e, pw); err != nil {
		return nil, err
	}
	if err := s.episodes.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("update episode: %w", err)
	}
	s.emit(ctx, events.EpisodeUpdated, e)

	res := &Result{Episode: e}
	if e.Coded() || existing.Coded() {
		res.Warning = s.syncStatus(ctx, e.PathwayID)
	}
	return res, nil
}

func (s *Service) DeleteEpisode(ctx context.Context, id uuid.UUID) (*Result, error) {
	existing, err := s.episodes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.episodes.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("delete episode: %w", err)
	}
	s.logger.Info().Str("episode_id", id.String()).Msg("episode deleted")
	s.emit(ctx, events.EpisodeDeleted, existing)

	res := &Result{}
	if existing.Coded() {
		res.Warning = s.syncStatus(ctx, existing.PathwayID)
	}
	return res, nil
}
