package pathway

import (
	"time"

	"github.com/google/uuid"

	"github.com/rtt/rtt/internal/rtt"
)

const (
	PriorityRoutine     = "routine"
	PriorityUrgent      = "urgent"
	PriorityTwoWeekWait = "two-week-wait"
)

var validPriorities = map[string]bool{
	PriorityRoutine: true, PriorityUrgent: true, PriorityTwoWeekWait: true,
}

// Pathway maps to the pathway table. The clock columns are only written
// through the clock transitions.
type Pathway struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	PatientID        uuid.UUID        `db:"patient_id" json:"patient_id"`
	PathwayType      rtt.PathwayType  `db:"pathway_type" json:"pathway_type"`
	SpecialtyCode    *string          `db:"specialty_code" json:"specialty_code,omitempty"`
	ReferralSource   *string          `db:"referral_source" json:"referral_source,omitempty"`
	ReferringOrgCode *string          `db:"referring_org_code" json:"referring_org_code,omitempty"`
	Consultant       *string          `db:"consultant" json:"consultant,omitempty"`
	Priority         string           `db:"priority" json:"priority"`
	ReferralDate     time.Time        `db:"referral_date" json:"referral_date"`
	ClockStart       time.Time        `db:"clock_start" json:"clock_start"`
	ClockStop        *time.Time       `db:"clock_stop" json:"clock_stop,omitempty"`
	PauseStart       *time.Time       `db:"pause_start" json:"pause_start,omitempty"`
	PausedDays       int              `db:"paused_days" json:"paused_days"`
	Status           rtt.PathwayState `db:"status" json:"status"`
	ClockState       rtt.ClockState   `db:"clock_state" json:"clock_state"`
	StopReason       *string          `db:"stop_reason" json:"stop_reason,omitempty"`
	LastRTTCode      *string          `db:"last_rtt_code" json:"last_rtt_code,omitempty"`
	LastBreachStatus *string          `db:"last_breach_status" json:"last_breach_status,omitempty"`
	VersionID        int              `db:"version_id" json:"version_id"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// Clock rebuilds the clock of the current RTT period.
func (p *Pathway) Clock() rtt.Clock {
	target, _ := rtt.TargetDays(p.PathwayType)
	return rtt.Clock{
		Start:      p.ClockStart,
		Stop:       p.ClockStop,
		PauseStart: p.PauseStart,
		PausedDays: p.PausedDays,
		TargetDays: target,
	}
}

// setClock copies c back onto the pathway and derives the clock state and
// open/closed status from it.
func (p *Pathway) setClock(c rtt.Clock) {
	p.ClockStart = c.Start
	p.ClockStop = c.Stop
	p.PauseStart = c.PauseStart
	p.PausedDays = c.PausedDays
	p.ClockState = c.State()
	if p.ClockState == rtt.ClockStopped {
		p.Status = rtt.StateClosed
	} else {
		p.Status = rtt.StateOpen
	}
}

type ClockEventType string

const (
	EventStart  ClockEventType = "start"
	EventPause  ClockEventType = "pause"
	EventResume ClockEventType = "resume"
	EventStop   ClockEventType = "stop"
	EventReopen ClockEventType = "reopen"
)

// ClockEvent maps to the append-only pathway_clock_event table.
type ClockEvent struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	PathwayID  uuid.UUID      `db:"pathway_id" json:"pathway_id"`
	EventType  ClockEventType `db:"event_type" json:"event_type"`
	EventDate  time.Time      `db:"event_date" json:"event_date"`
	Reason     *string        `db:"reason" json:"reason,omitempty"`
	RTTCode    *string        `db:"rtt_code" json:"rtt_code,omitempty"`
	RecordedBy *string        `db:"recorded_by" json:"recorded_by,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// Milestone maps to the pathway_milestone table.
type Milestone struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	PathwayID     uuid.UUID         `db:"pathway_id" json:"pathway_id"`
	MilestoneType rtt.MilestoneType `db:"milestone_type" json:"milestone_type"`
	TargetDate    time.Time         `db:"target_date" json:"target_date"`
	AchievedDate  *time.Time        `db:"achieved_date" json:"achieved_date,omitempty"`
	Notes         *string           `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// Overdue reports whether the milestone missed its target as of asOf.
func (m *Milestone) Overdue(asOf time.Time) bool {
	if m.AchievedDate != nil {
		return m.AchievedDate.After(m.TargetDate)
	}
	return rtt.Day(asOf).After(m.TargetDate)
}

// Summary is the derived clock view of a pathway on a given day.
type Summary struct {
	PathwayID           uuid.UUID        `json:"pathway_id"`
	PathwayType         rtt.PathwayType  `json:"pathway_type"`
	Status              rtt.PathwayState `json:"status"`
	ClockState          rtt.ClockState   `json:"clock_state"`
	AsOf                string           `json:"as_of"`
	ClockStart          string           `json:"clock_start"`
	ClockStop           string           `json:"clock_stop,omitempty"`
	PauseStart          string           `json:"pause_start,omitempty"`
	TargetDays          int              `json:"target_days"`
	PausedDays          int              `json:"paused_days"`
	BreachDate          string           `json:"breach_date"`
	ProjectedBreachDate string           `json:"projected_breach_date"`
	DaysWaited          int              `json:"days_waited"`
	WeeksWaited         int              `json:"weeks_waited"`
	DaysRemaining       int              `json:"days_remaining"`
	BreachStatus        rtt.BreachStatus `json:"breach_status"`
}

// NewSummary derives the clock view of p as of asOf.
func NewSummary(p *Pathway, asOf time.Time, atRiskDays int) Summary {
	c := p.Clock()
	s := Summary{
		PathwayID:           p.ID,
		PathwayType:         p.PathwayType,
		Status:              p.Status,
		ClockState:          c.State(),
		AsOf:                rtt.FormatDate(asOf),
		ClockStart:          rtt.FormatDate(c.Start),
		TargetDays:          c.TargetDays,
		PausedDays:          c.PausedDays,
		BreachDate:          rtt.FormatDate(c.BreachDate()),
		ProjectedBreachDate: rtt.FormatDate(c.ProjectedBreachDate(asOf)),
		DaysWaited:          c.DaysWaited(asOf),
		WeeksWaited:         c.WeeksWaited(asOf),
		DaysRemaining:       c.DaysRemaining(asOf),
		BreachStatus:        c.Status(asOf, atRiskDays),
	}
	if c.Stop != nil {
		s.ClockStop = rtt.FormatDate(*c.Stop)
	}
	if c.PauseStart != nil {
		s.PauseStart = rtt.FormatDate(*c.PauseStart)
	}
	return s
}
