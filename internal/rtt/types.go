// Package rtt holds the Referral to Treatment rules that do not touch
// storage: pathway targets, clock arithmetic, the RTT status code table,
// milestone offsets and NHS number validation.
package rtt

import (
	"time"

	"github.com/rtt/rtt/pkg/apperr"
)

// PathwayType identifies the waiting-time standard a pathway is measured against.
type PathwayType string

const (
	PathwayRTT18Week   PathwayType = "rtt-18-week"
	PathwayCancer2WW   PathwayType = "cancer-2ww"
	PathwayCancer62Day PathwayType = "cancer-62-day"
	PathwayCancer31Day PathwayType = "cancer-31-day"
)

var targetDays = map[PathwayType]int{
	PathwayRTT18Week:   126,
	PathwayCancer2WW:   14,
	PathwayCancer62Day: 62,
	PathwayCancer31Day: 31,
}

// ParsePathwayType validates s as a known pathway type.
func ParsePathwayType(s string) (PathwayType, error) {
	pt := PathwayType(s)
	if _, ok := targetDays[pt]; !ok {
		return "", apperr.Validation("unknown pathway type %q", s)
	}
	return pt, nil
}

// TargetDays returns the number of days a pathway of type pt may wait before breaching.
func TargetDays(pt PathwayType) (int, error) {
	days, ok := targetDays[pt]
	if !ok {
		return 0, apperr.Validation("unknown pathway type %q", string(pt))
	}
	return days, nil
}

// PathwayTypes returns every known pathway type with its target.
func PathwayTypes() map[PathwayType]int {
	out := make(map[PathwayType]int, len(targetDays))
	for k, v := range targetDays {
		out[k] = v
	}
	return out
}

func (pt PathwayType) String() string { return string(pt) }

// ClockState is the state of an RTT clock.
type ClockState string

const (
	ClockRunning ClockState = "running"
	ClockPaused  ClockState = "paused"
	ClockStopped ClockState = "stopped"
)

// PathwayState is the binary open/closed state of a pathway.
type PathwayState string

const (
	StateOpen   PathwayState = "open"
	StateClosed PathwayState = "closed"
)

// BreachStatus classifies a clock against its target.
type BreachStatus string

const (
	StatusOnTrack         BreachStatus = "on-track"
	StatusAtRisk          BreachStatus = "at-risk"
	StatusBreached        BreachStatus = "breached"
	StatusStopped         BreachStatus = "stopped"
	StatusStoppedBreached BreachStatus = "stopped-breached"
)

// Severity orders breach statuses so a sweep can tell whether a pathway got worse.
func (s BreachStatus) Severity() int {
	switch s {
	case StatusAtRisk:
		return 1
	case StatusBreached:
		return 2
	default:
		return 0
	}
}

// Day truncates t to midnight UTC. All clock arithmetic runs on whole days.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole days from a to b (negative when b precedes a).
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// AddDays returns the day d days after t.
func AddDays(t time.Time, d int) time.Time {
	return Day(t).AddDate(0, 0, d)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, apperr.Validation("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return Day(t).Format("2006-01-02")
}
