package prescription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/domain/connection"
	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/notification"
)

type Service struct {
	prescriptions Repository
	guard         *connection.Guard
	recorder      *audit.Recorder
	notifier      notification.Sender
	logger        zerolog.Logger
}

func NewService(prescriptions Repository, guard *connection.Guard, recorder *audit.Recorder, notifier notification.Sender, logger zerolog.Logger) *Service {
	return &Service{
		prescriptions: prescriptions,
		guard:         guard,
		recorder:      recorder,
		notifier:      notifier,
		logger:        logger,
	}
}

// Create validates and stores a new prescription, active unless the caller
// marks it draft. Safety warnings come back with the record; they flag, they
// never block.
func (s *Service) Create(ctx context.Context, actor *auth.Actor, p *Prescription) ([]Warning, error) {
	if err := auth.RequirePermission(actor, auth.PermMedicationCreate,
		auth.PermissionOpts{RequireApprovedProvider: true}); err != nil {
		return nil, err
	}
	if p.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if p.MedicationName == "" {
		return nil, apperr.Validation("medication_name is required")
	}
	if p.Frequency == "" {
		return nil, apperr.Validation("frequency is required")
	}
	if p.Quantity <= 0 {
		return nil, apperr.Validation("quantity must be positive")
	}
	if p.Refills < 0 {
		return nil, apperr.Validation("refills cannot be negative")
	}
	if err := validateDosage(p.MedicationName, p.Dosage); err != nil {
		return nil, err
	}
	switch p.Status {
	case "":
		p.Status = StatusActive
	case StatusDraft, StatusActive:
	default:
		return nil, apperr.Validation("new prescriptions start as draft or active")
	}

	providerID, err := uuid.Parse(actor.ID)
	if err != nil {
		return nil, apperr.Forbidden()
	}
	if actor.IsProviderRole() {
		p.ProviderID = providerID
		if err := s.guard.EnsureProviderPatientLink(ctx, actor, p.PatientID); err != nil {
			return nil, err
		}
	} else if p.ProviderID == uuid.Nil {
		p.ProviderID = providerID
	}

	// Warnings run against the pre-create active set so the new order
	// itself counts toward the polypharmacy total.
	active, err := s.prescriptions.ListActiveByPatient(ctx, p.PatientID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	warnings := safetyWarnings(p, active)

	p.PrescribedDate = time.Now().UTC()
	if err := s.prescriptions.Create(ctx, p); err != nil {
		return nil, apperr.Internal(err)
	}

	s.recorder.Record(ctx, audit.ActionCreate, "prescription", p.ID.String(), actor,
		map[string]string{"patient_id": p.PatientID.String(), "medication": p.MedicationName})
	return warnings, nil
}

func safetyWarnings(p *Prescription, active []*Prescription) []Warning {
	var warnings []Warning

	name := strings.ToLower(strings.TrimSpace(p.MedicationName))
	for _, a := range active {
		if strings.ToLower(strings.TrimSpace(a.MedicationName)) == name {
			warnings = append(warnings, Warning{
				Code:    WarnDuplicateTherapy,
				Message: fmt.Sprintf("patient already has an active prescription for %s", a.MedicationName),
			})
			break
		}
	}

	if len(active) >= polypharmacyThreshold {
		warnings = append(warnings, Warning{
			Code:    WarnPolypharmacy,
			Message: fmt.Sprintf("patient already has %d active prescriptions; review for interactions", len(active)),
		})
	}
	return warnings
}

// UpdateInput carries the editable fields of a prescription.
type UpdateInput struct {
	Dosage       *string `json:"dosage"`
	Frequency    *string `json:"frequency"`
	Duration     *string `json:"duration"`
	Quantity     *int    `json:"quantity"`
	Refills      *int    `json:"refills"`
	Instructions *string `json:"instructions"`
	EndDate      *string `json:"end_date"`
}

func (s *Service) Update(ctx context.Context, actor *auth.Actor, id uuid.UUID, in UpdateInput) (*Prescription, error) {
	if err := auth.RequirePermission(actor, auth.PermMedicationUpdate); err != nil {
		return nil, err
	}

	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !connection.OwnsDocument(actor, p.ProviderID, uuid.Nil) {
		return nil, apperr.Forbidden()
	}
	if p.Status != StatusDraft && p.Status != StatusActive {
		return nil, apperr.Conflict("prescription is " + string(p.Status))
	}

	if in.Dosage != nil {
		if err := validateDosage(p.MedicationName, *in.Dosage); err != nil {
			return nil, err
		}
		p.Dosage = *in.Dosage
	}
	if in.Frequency != nil {
		if *in.Frequency == "" {
			return nil, apperr.Validation("frequency cannot be empty")
		}
		p.Frequency = *in.Frequency
	}
	if in.Duration != nil {
		p.Duration = *in.Duration
	}
	if in.Quantity != nil {
		if *in.Quantity <= 0 {
			return nil, apperr.Validation("quantity must be positive")
		}
		p.Quantity = *in.Quantity
	}
	if in.Refills != nil {
		if *in.Refills < 0 {
			return nil, apperr.Validation("refills cannot be negative")
		}
		p.Refills = *in.Refills
	}
	if in.Instructions != nil {
		p.Instructions = *in.Instructions
	}
	if in.EndDate != nil {
		t, err := time.Parse(time.RFC3339, *in.EndDate)
		if err != nil {
			return nil, apperr.Validation("invalid end_date")
		}
		p.EndDate = &t
	}

	if err := s.prescriptions.Update(ctx, p); err != nil {
		return nil, apperr.Internal(err)
	}
	s.recorder.Record(ctx, audit.ActionUpdate, "prescription", p.ID.String(), actor, nil)
	return p, nil
}

// Activate moves a draft prescription to active.
func (s *Service) Activate(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*Prescription, error) {
	return s.applyTransition(ctx, actor, id, EventActivate, nil)
}

// Complete marks an active prescription as finished.
func (s *Service) Complete(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*Prescription, error) {
	return s.applyTransition(ctx, actor, id, EventComplete, nil)
}

// Cancel stops a prescription. Repeat cancels are a no-op: no second audit
// event, no second patient notification.
func (s *Service) Cancel(ctx context.Context, actor *auth.Actor, id uuid.UUID, reason string) (*Prescription, error) {
	if err := auth.RequirePermission(actor, auth.PermMedicationUpdate); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, apperr.Validation("cancellation reason is required")
	}

	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !connection.OwnsDocument(actor, p.ProviderID, uuid.Nil) {
		return nil, apperr.Forbidden()
	}
	if p.Status == StatusCancelled {
		return p, nil
	}

	next, err := Transition(p.Status, EventCancel)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	line := fmt.Sprintf("[%s] cancelled: %s", now.Format(time.RFC3339), reason)
	if p.Notes != "" {
		p.Notes += "\n"
	}
	p.Notes += line
	p.Status = next
	p.EndDate = &now

	if err := s.prescriptions.Update(ctx, p); err != nil {
		return nil, apperr.Internal(err)
	}
	s.recorder.Record(ctx, audit.ActionUpdate, "prescription", p.ID.String(), actor,
		map[string]string{"status": string(StatusCancelled)})

	// Fire and forget: a notification failure never fails the cancel.
	if err := s.notifier.Notify(ctx, p.PatientID.String(), "prescription",
		"Prescription cancelled",
		fmt.Sprintf("Your prescription for %s was cancelled.", p.MedicationName),
		notification.PriorityHigh, "/prescriptions/"+p.ID.String()); err != nil {
		s.logger.Warn().Err(err).Str("prescription_id", p.ID.String()).Msg("cancel notification failed")
	}
	return p, nil
}

// ExpireActive sweeps every active prescription past its end date into
// expired. Safe to run repeatedly; a second sweep finds nothing to do.
func (s *Service) ExpireActive(ctx context.Context) (int, error) {
	count, err := s.prescriptions.ExpireActive(ctx, time.Now().UTC())
	if err != nil {
		return 0, apperr.Internal(err)
	}
	if count > 0 {
		s.recorder.Record(ctx, audit.ActionUpdate, "prescription", "", nil,
			map[string]string{"sweep": "expire", "count": fmt.Sprintf("%d", count)})
	}
	return count, nil
}

func (s *Service) Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*Prescription, error) {
	if err := auth.RequirePermission(actor, auth.PermMedicationRead); err != nil {
		return nil, err
	}
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsProviderRole() {
		if err := s.guard.EnsureProviderPatientLink(ctx, actor, p.PatientID); err != nil {
			return nil, err
		}
	}
	s.recorder.Record(ctx, audit.ActionView, "prescription", p.ID.String(), actor, nil)
	return p, nil
}

// List returns prescriptions matching the filter. Providers must scope to a
// linked patient or to themselves; one view event covers the page.
func (s *Service) List(ctx context.Context, actor *auth.Actor, filter ListFilter, limit, offset int) ([]*Prescription, int, error) {
	if err := auth.RequirePermission(actor, auth.PermMedicationRead); err != nil {
		return nil, 0, err
	}

	if actor.IsProviderRole() {
		switch {
		case filter.PatientID != uuid.Nil:
			if err := s.guard.EnsureProviderPatientLink(ctx, actor, filter.PatientID); err != nil {
				return nil, 0, err
			}
		case filter.ProviderID != uuid.Nil:
			if actor.ID != filter.ProviderID.String() {
				return nil, 0, apperr.Forbidden()
			}
		default:
			return nil, 0, apperr.Validation("patient_id or provider_id filter is required")
		}
	}

	items, total, err := s.prescriptions.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	s.recorder.Record(ctx, audit.ActionView, "prescription", "", actor, listMetadata(filter, limit, offset))
	return items, total, nil
}

// listMetadata captures the query parameters on the view event so the trail
// shows what was searched, not just that a search happened.
func listMetadata(filter ListFilter, limit, offset int) map[string]string {
	meta := map[string]string{
		"limit":  strconv.Itoa(limit),
		"offset": strconv.Itoa(offset),
	}
	if filter.PatientID != uuid.Nil {
		meta["patient_id"] = filter.PatientID.String()
	}
	if filter.ProviderID != uuid.Nil {
		meta["provider_id"] = filter.ProviderID.String()
	}
	if filter.Status != "" {
		meta["status"] = string(filter.Status)
	}
	if filter.From != nil {
		meta["from"] = filter.From.Format(time.RFC3339)
	}
	if filter.To != nil {
		meta["to"] = filter.To.Format(time.RFC3339)
	}
	return meta
}

func (s *Service) applyTransition(ctx context.Context, actor *auth.Actor, id uuid.UUID, event Event, metadata map[string]string) (*Prescription, error) {
	if err := auth.RequirePermission(actor, auth.PermMedicationUpdate); err != nil {
		return nil, err
	}

	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !connection.OwnsDocument(actor, p.ProviderID, uuid.Nil) {
		return nil, apperr.Forbidden()
	}

	next, err := Transition(p.Status, event)
	if err != nil {
		return nil, err
	}
	p.Status = next
	if err := s.prescriptions.Update(ctx, p); err != nil {
		return nil, apperr.Internal(err)
	}

	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["status"] = string(next)
	s.recorder.Record(ctx, audit.ActionUpdate, "prescription", p.ID.String(), actor, metadata)
	return p, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("prescription")
		}
		return nil, apperr.Internal(err)
	}
	return p, nil
}
