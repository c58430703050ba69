package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rtt/rtt/internal/rtt"
	"github.com/rtt/rtt/pkg/apperr"
)

type Service struct {
	patients Repository
	logger   zerolog.Logger
}

func NewService(patients Repository, logger zerolog.Logger) *Service {
	return &Service{patients: patients, logger: logger.With().Str("component", "patient").Logger()}
}

var validSexes = map[string]bool{
	"male": true, "female": true, "other": true, "unknown": true,
}

var searchParams = []string{"nhs_number", "family", "postcode", "active"}

// SearchParams lists the query parameters Search understands.
func SearchParams() []string {
	return searchParams
}

func (s *Service) validate(p *Patient) error {
	nhs, err := rtt.ValidateNHSNumber(p.NHSNumber)
	if err != nil {
		return err
	}
	p.NHSNumber = nhs
	p.GivenName = strings.TrimSpace(p.GivenName)
	p.FamilyName = strings.TrimSpace(p.FamilyName)
	if p.GivenName == "" {
		return apperr.Validation("given_name is required")
	}
	if p.FamilyName == "" {
		return apperr.Validation("family_name is required")
	}
	if p.Sex != nil && !validSexes[*p.Sex] {
		return apperr.Validation("invalid sex: %s", *p.Sex)
	}
	if p.BirthDate != nil {
		d := rtt.Day(*p.BirthDate)
		p.BirthDate = &d
	}
	if p.Postcode != nil {
		pc := strings.ToUpper(strings.TrimSpace(*p.Postcode))
		p.Postcode = &pc
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := s.validate(p); err != nil {
		return err
	}
	p.Active = true
	if err := s.patients.Create(ctx, p); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	s.logger.Info().Str("patient_id", p.ID.String()).Msg("patient registered")
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetPatientByNHSNumber(ctx context.Context, nhsNumber string) (*Patient, error) {
	nhs, err := rtt.ValidateNHSNumber(nhsNumber)
	if err != nil {
		return nil, err
	}
	return s.patients.GetByNHSNumber(ctx, nhs)
}

// UpdatePatient replaces the demographics of an existing patient. A zero
// VersionID skips the concurrency check.
func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	existing, err := s.patients.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := s.validate(p); err != nil {
		return err
	}
	if p.VersionID == 0 {
		p.VersionID = existing.VersionID
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := s.patients.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	s.logger.Info().Str("patient_id", id.String()).Msg("patient deleted")
	return nil
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func (s *Service) SearchPatients(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	if v, ok := params["nhs_number"]; ok {
		params["nhs_number"] = rtt.NormalizeNHSNumber(v)
	}
	if v, ok := params["active"]; ok && v != "true" && v != "false" {
		return nil, 0, apperr.Validation("active must be true or false")
	}
	return s.patients.Search(ctx, params, limit, offset)
}
