package episode

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeConsultant Type = "consultant"
	TypeTreatment  Type = "treatment"
	TypeDiagnostic Type = "diagnostic"
)

var validTypes = map[Type]bool{
	TypeConsultant: true, TypeTreatment: true, TypeDiagnostic: true,
}

// Episode maps to the episode table. PatientID is copied from the pathway.
type Episode struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PathwayID     uuid.UUID `db:"pathway_id" json:"pathway_id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	EpisodeType   Type      `db:"episode_type" json:"episode_type"`
	EpisodeDate   time.Time `db:"episode_date" json:"episode_date"`
	Clinician     *string   `db:"clinician" json:"clinician,omitempty"`
	RTTCode       *string   `db:"rtt_code" json:"rtt_code,omitempty"`
	Outcome       *string   `db:"outcome" json:"outcome,omitempty"`
	ProcedureCode *string   `db:"procedure_code" json:"procedure_code,omitempty"`
	TestName      *string   `db:"test_name" json:"test_name,omitempty"`
	Notes         *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Coded reports whether the episode carries an RTT status code.
func (e *Episode) Coded() bool {
	return e.RTTCode != nil && *e.RTTCode != ""
}
