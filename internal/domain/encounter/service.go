package encounter

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/domain/connection"
	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
)

type Service struct {
	encounters Repository
	guard      *connection.Guard
	recorder   *audit.Recorder
}

func NewService(encounters Repository, guard *connection.Guard, recorder *audit.Recorder) *Service {
	return &Service{encounters: encounters, guard: guard, recorder: recorder}
}

func (s *Service) Create(ctx context.Context, actor *auth.Actor, enc *Encounter) error {
	if err := auth.RequirePermission(actor, auth.PermEncounterCreate); err != nil {
		return err
	}
	if enc.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	if enc.ProviderID == uuid.Nil {
		return apperr.Validation("provider_id is required")
	}
	if enc.Status == "" {
		enc.Status = StatusPlanned
	}
	if !ValidStatus(enc.Status) {
		return apperr.Validation("invalid status: " + enc.Status)
	}
	// Providers open encounters for themselves, with their own patients.
	if actor.IsProviderRole() {
		if actor.ID != enc.ProviderID.String() {
			return apperr.Forbidden()
		}
		if err := s.guard.EnsureProviderPatientLink(ctx, actor, enc.PatientID); err != nil {
			return err
		}
	}

	if err := s.encounters.Create(ctx, enc); err != nil {
		return apperr.Internal(err)
	}
	s.recorder.Record(ctx, audit.ActionCreate, "encounter", enc.ID.String(), actor,
		map[string]string{"patient_id": enc.PatientID.String()})
	return nil
}

func (s *Service) Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*Encounter, error) {
	if err := auth.RequirePermission(actor, auth.PermEncounterRead); err != nil {
		return nil, err
	}

	enc, err := s.encounters.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("encounter")
		}
		return nil, apperr.Internal(err)
	}

	if err := s.ensureRead(ctx, actor, enc.PatientID); err != nil {
		return nil, err
	}
	return enc, nil
}

func (s *Service) UpdateStatus(ctx context.Context, actor *auth.Actor, id uuid.UUID, status string) (*Encounter, error) {
	if err := auth.RequirePermission(actor, auth.PermEncounterUpdate); err != nil {
		return nil, err
	}
	if !ValidStatus(status) {
		return nil, apperr.Validation("invalid status: " + status)
	}

	enc, err := s.encounters.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("encounter")
		}
		return nil, apperr.Internal(err)
	}
	if !connection.OwnsDocument(actor, uuid.Nil, enc.ProviderID) {
		return nil, apperr.Forbidden()
	}
	if enc.Status == StatusCancelled || enc.Status == StatusFinished {
		return nil, apperr.Conflict("encounter is " + enc.Status)
	}

	enc.Status = status
	if err := s.encounters.Update(ctx, enc); err != nil {
		return nil, apperr.Internal(err)
	}
	s.recorder.Record(ctx, audit.ActionUpdate, "encounter", enc.ID.String(), actor,
		map[string]string{"status": status})
	return enc, nil
}

func (s *Service) ListByPatient(ctx context.Context, actor *auth.Actor, patientID uuid.UUID, status string, limit, offset int) ([]*Encounter, int, error) {
	if err := auth.RequirePermission(actor, auth.PermEncounterRead); err != nil {
		return nil, 0, err
	}
	if status != "" && !ValidStatus(status) {
		return nil, 0, apperr.Validation("invalid status: " + status)
	}
	if err := s.ensureRead(ctx, actor, patientID); err != nil {
		return nil, 0, err
	}

	items, total, err := s.encounters.ListByPatient(ctx, patientID, status, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	s.recorder.Record(ctx, audit.ActionView, "encounter", "", actor,
		map[string]string{"patient_id": patientID.String()})
	return items, total, nil
}

// ensureRead applies the record-level access rule for the actor: providers
// need an approved link, patients see only themselves, staff pass.
func (s *Service) ensureRead(ctx context.Context, actor *auth.Actor, patientID uuid.UUID) error {
	if actor.IsProviderRole() {
		return s.guard.EnsureProviderPatientLink(ctx, actor, patientID)
	}
	if actor.Role == auth.RolePatient && actor.ID != patientID.String() {
		return apperr.Forbidden()
	}
	return nil
}
