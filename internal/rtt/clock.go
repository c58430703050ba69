package rtt

import (
	"time"

	"github.com/rtt/rtt/pkg/apperr"
)

var (
	ErrClockNotRunning = apperr.Conflict("clock is not running")
	ErrClockNotPaused  = apperr.Conflict("clock is not paused")
	ErrClockStopped    = apperr.Conflict("clock is already stopped")
	ErrBeforeStart     = apperr.Validation("date precedes the clock start")
	ErrBeforePause     = apperr.Validation("resume date precedes the pause start")
)

// Clock is the waiting-time clock of one RTT period. PausedDays is the
// cumulative offset added to the breach date by completed pauses.
type Clock struct {
	Start      time.Time
	Stop       *time.Time
	PauseStart *time.Time
	PausedDays int
	TargetDays int
}

// NewClock starts a clock for a pathway of type pt on day start.
func NewClock(pt PathwayType, start time.Time) (Clock, error) {
	target, err := TargetDays(pt)
	if err != nil {
		return Clock{}, err
	}
	return Clock{Start: Day(start), TargetDays: target}, nil
}

// State reports whether the clock is running, paused or stopped.
func (c Clock) State() ClockState {
	switch {
	case c.Stop != nil:
		return ClockStopped
	case c.PauseStart != nil:
		return ClockPaused
	default:
		return ClockRunning
	}
}

// BreachDate is the clock start plus the target plus every completed pause.
func (c Clock) BreachDate() time.Time {
	return AddDays(c.Start, c.TargetDays+c.PausedDays)
}

// ProjectedBreachDate also counts the open pause up to asOf.
func (c Clock) ProjectedBreachDate(asOf time.Time) time.Time {
	return AddDays(c.Start, c.TargetDays+c.pausedAsOf(c.end(asOf)))
}

func (c Clock) end(asOf time.Time) time.Time {
	if c.Stop != nil && c.Stop.Before(asOf) {
		return *c.Stop
	}
	return asOf
}

func (c Clock) pausedAsOf(end time.Time) int {
	paused := c.PausedDays
	if c.PauseStart != nil {
		if open := DaysBetween(*c.PauseStart, end); open > 0 {
			paused += open
		}
	}
	return paused
}

// DaysWaited counts the days on the clock up to asOf, excluding pauses.
func (c Clock) DaysWaited(asOf time.Time) int {
	end := c.end(asOf)
	elapsed := DaysBetween(c.Start, end)
	if elapsed <= 0 {
		return 0
	}
	waited := elapsed - c.pausedAsOf(end)
	if waited < 0 {
		return 0
	}
	return waited
}

// WeeksWaited returns the completed weeks on the clock.
func (c Clock) WeeksWaited(asOf time.Time) int {
	return c.DaysWaited(asOf) / 7
}

// DaysRemaining is the target minus the days waited; negative once breached.
func (c Clock) DaysRemaining(asOf time.Time) int {
	return c.TargetDays - c.DaysWaited(asOf)
}

// Status classifies the clock. A running clock within atRiskDays of its
// target is at risk.
func (c Clock) Status(asOf time.Time, atRiskDays int) BreachStatus {
	waited := c.DaysWaited(asOf)
	if c.Stop != nil {
		if waited > c.TargetDays {
			return StatusStoppedBreached
		}
		return StatusStopped
	}
	if waited > c.TargetDays {
		return StatusBreached
	}
	if c.TargetDays-waited <= atRiskDays {
		return StatusAtRisk
	}
	return StatusOnTrack
}

// Pause suspends a running clock from day at.
func (c *Clock) Pause(at time.Time) error {
	switch c.State() {
	case ClockStopped:
		return ErrClockStopped
	case ClockPaused:
		return ErrClockNotRunning
	}
	if Day(at).Before(c.Start) {
		return ErrBeforeStart
	}
	day := Day(at)
	c.PauseStart = &day
	return nil
}

// Resume restarts a paused clock on day at and returns the days the pause added.
func (c *Clock) Resume(at time.Time) (int, error) {
	if c.State() != ClockPaused {
		if c.Stop != nil {
			return 0, ErrClockStopped
		}
		return 0, ErrClockNotPaused
	}
	days := DaysBetween(*c.PauseStart, at)
	if days < 0 {
		return 0, ErrBeforePause
	}
	c.PausedDays += days
	c.PauseStart = nil
	return days, nil
}

// StopAt ends the clock on day at, closing an open pause first.
func (c *Clock) StopAt(at time.Time) error {
	if c.Stop != nil {
		return ErrClockStopped
	}
	if Day(at).Before(c.Start) {
		return ErrBeforeStart
	}
	if c.PauseStart != nil {
		if _, err := c.Resume(at); err != nil {
			return err
		}
	}
	day := Day(at)
	c.Stop = &day
	return nil
}
