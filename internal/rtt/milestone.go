package rtt

import (
	"time"

	"github.com/rtt/rtt/pkg/apperr"
)

// MilestoneType names a step along a pathway.
type MilestoneType string

const (
	MilestoneReferralReceived     MilestoneType = "referral-received"
	MilestoneFirstAppointment     MilestoneType = "first-appointment"
	MilestoneDiagnosticsRequested MilestoneType = "diagnostics-requested"
	MilestoneDiagnosticsCompleted MilestoneType = "diagnostics-completed"
	MilestoneDecisionToTreat      MilestoneType = "decision-to-treat"
	MilestoneTreatmentStarted     MilestoneType = "treatment-started"
	MilestoneDischarged           MilestoneType = "discharged"
)

// Days after the clock start by which each milestone is expected on an
// 18-week pathway. Shorter pathways scale these by their target.
var milestoneOffsets = map[MilestoneType]int{
	MilestoneReferralReceived:     0,
	MilestoneFirstAppointment:     42,
	MilestoneDiagnosticsRequested: 42,
	MilestoneDiagnosticsCompleted: 84,
	MilestoneDecisionToTreat:      98,
	MilestoneTreatmentStarted:     126,
	MilestoneDischarged:           126,
}

// ParseMilestoneType validates s as a known milestone type.
func ParseMilestoneType(s string) (MilestoneType, error) {
	mt := MilestoneType(s)
	if _, ok := milestoneOffsets[mt]; !ok {
		return "", apperr.Validation("unknown milestone type %q", s)
	}
	return mt, nil
}

// MilestoneTarget returns the day milestone mt is expected on a clock.
func MilestoneTarget(c Clock, mt MilestoneType) time.Time {
	offset := milestoneOffsets[mt]
	if c.TargetDays != targetDays[PathwayRTT18Week] {
		offset = offset * c.TargetDays / targetDays[PathwayRTT18Week]
	}
	return AddDays(c.Start, offset+c.PausedDays)
}
