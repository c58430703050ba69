package reporting

import (
	"time"

	"github.com/google/uuid"

	"github.com/rtt/rtt/internal/rtt"
)

// Row is one pathway joined with its patient, as read for reports.
type Row struct {
	PathwayID     uuid.UUID
	PatientID     uuid.UUID
	NHSNumber     string
	GivenName     string
	FamilyName    string
	PathwayType   rtt.PathwayType
	SpecialtyCode *string
	Priority      string
	Status        rtt.PathwayState
	ClockStart    time.Time
	ClockStop     *time.Time
	PauseStart    *time.Time
	PausedDays    int
}

func (r *Row) Clock() rtt.Clock {
	target, _ := rtt.TargetDays(r.PathwayType)
	return rtt.Clock{
		Start:      r.ClockStart,
		Stop:       r.ClockStop,
		PauseStart: r.PauseStart,
		PausedDays: r.PausedDays,
		TargetDays: target,
	}
}

func (r *Row) specialty() string {
	if r.SpecialtyCode == nil || *r.SpecialtyCode == "" {
		return "unknown"
	}
	return *r.SpecialtyCode
}

// Entry is one line of the waiting list.
type Entry struct {
	PathwayID     uuid.UUID        `json:"pathway_id"`
	PatientID     uuid.UUID        `json:"patient_id"`
	NHSNumber     string           `json:"nhs_number"`
	PatientName   string           `json:"patient_name"`
	PathwayType   rtt.PathwayType  `json:"pathway_type"`
	Specialty     string           `json:"specialty"`
	Priority      string           `json:"priority"`
	Status        rtt.PathwayState `json:"status"`
	ClockState    rtt.ClockState   `json:"clock_state"`
	ClockStart    string           `json:"clock_start"`
	BreachDate    string           `json:"breach_date"`
	DaysWaited    int              `json:"days_waited"`
	WeeksWaited   int              `json:"weeks_waited"`
	DaysRemaining int              `json:"days_remaining"`
	BreachStatus  rtt.BreachStatus `json:"breach_status"`
}

func newEntry(r *Row, asOf time.Time, atRiskDays int) Entry {
	c := r.Clock()
	return Entry{
		PathwayID:     r.PathwayID,
		PatientID:     r.PatientID,
		NHSNumber:     r.NHSNumber,
		PatientName:   r.FamilyName + ", " + r.GivenName,
		PathwayType:   r.PathwayType,
		Specialty:     r.specialty(),
		Priority:      r.Priority,
		Status:        r.Status,
		ClockState:    c.State(),
		ClockStart:    rtt.FormatDate(c.Start),
		BreachDate:    rtt.FormatDate(c.ProjectedBreachDate(asOf)),
		DaysWaited:    c.DaysWaited(asOf),
		WeeksWaited:   c.WeeksWaited(asOf),
		DaysRemaining: c.DaysRemaining(asOf),
		BreachStatus:  c.Status(asOf, atRiskDays),
	}
}

// Filter narrows the waiting list. Status defaults to open.
type Filter struct {
	Specialty   string `json:"specialty,omitempty"`
	PathwayType string `json:"type,omitempty"`
	Status      string `json:"status,omitempty"`
	MinWeeks    int    `json:"min_weeks,omitempty"`
	AsOf        string `json:"as_of,omitempty"`
	Limit       int    `json:"limit"`
	Offset      int    `json:"offset"`
}

type WaitingList struct {
	AsOf    string  `json:"as_of"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	Entries []Entry `json:"entries"`
}

// TypeStatusCount is the number of pathways of one type in one state.
type TypeStatusCount struct {
	PathwayType rtt.PathwayType  `json:"pathway_type"`
	Status      rtt.PathwayState `json:"status"`
	Count       int              `json:"count"`
}

const (
	MeasureWeeksBands          = "weeks-waited-bands"
	MeasureBreachesBySpecialty = "breaches-by-specialty"
	MeasureTypeStatus          = "pathways-by-type-status"
	MeasureMedianWeeks         = "median-weeks-waited"
)

// MeasureRow is one labelled value of a measure.
type MeasureRow struct {
	Label string  `json:"label"`
	Count int     `json:"count"`
	Total int     `json:"total,omitempty"`
	Value float64 `json:"value,omitempty"`
}

type Measure struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	AsOf        string       `json:"as_of"`
	Rows        []MeasureRow `json:"rows"`
}
