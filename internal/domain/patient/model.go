package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table.
type Patient struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	NHSNumber      string     `db:"nhs_number" json:"nhs_number"`
	GivenName      string     `db:"given_name" json:"given_name"`
	FamilyName     string     `db:"family_name" json:"family_name"`
	BirthDate      *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Sex            *string    `db:"sex" json:"sex,omitempty"`
	Postcode       *string    `db:"postcode" json:"postcode,omitempty"`
	GPPracticeCode *string    `db:"gp_practice_code" json:"gp_practice_code,omitempty"`
	Active         bool       `db:"active" json:"active"`
	VersionID      int        `db:"version_id" json:"version_id"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayName renders the patient as FAMILY, Given.
func (p *Patient) DisplayName() string {
	return strings.ToUpper(p.FamilyName) + ", " + p.GivenName
}
