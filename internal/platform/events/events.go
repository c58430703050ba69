// Package events publishes pathway domain events to an external bus.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	PathwayCreated      = "pathway.created"
	PathwayPaused       = "pathway.paused"
	PathwayResumed      = "pathway.resumed"
	PathwayStopped      = "pathway.stopped"
	PathwayReopened     = "pathway.reopened"
	PathwayAtRisk       = "pathway.at_risk"
	PathwayBreached     = "pathway.breached"
	EpisodeRecorded     = "episode.recorded"
	EpisodeUpdated      = "episode.updated"
	EpisodeDeleted      = "episode.deleted"
	AutomationApplied   = "automation.applied"
	ReportExportCreated = "report.export_created"
)

type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id,omitempty"`
	PathwayID  string         `json:"pathway_id,omitempty"`
	PatientID  string         `json:"patient_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// New returns an event with a fresh id and the current time.
func New(eventType, tenantID string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// EmitTimeout bounds how long Emit may hold up the caller.
const EmitTimeout = 500 * time.Millisecond

// Emit publishes evt and logs a failure instead of returning it. Domain
// writes have already committed when events go out, so a slow or broken
// bus costs at most EmitTimeout.
func Emit(ctx context.Context, pub Publisher, logger zerolog.Logger, evt Event) {
	if pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), EmitTimeout)
	defer cancel()
	if err := pub.Publish(ctx, evt); err != nil {
		logger.Warn().Err(err).
			Str("event_type", evt.Type).
			Str("event_id", evt.ID).
			Str("pathway_id", evt.PathwayID).
			Msg("event publish failed")
	}
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the type of every recorded event in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
