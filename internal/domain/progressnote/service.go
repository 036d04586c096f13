package progressnote

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/domain/connection"
	"github.com/carelink/carelink/internal/domain/encounter"
	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
)

// minSignatureLen is the shortest accepted signature hash. Anything shorter
// cannot be a digest of the note content.
const minSignatureLen = 16

// EncounterSource resolves the encounter a note belongs to.
type EncounterSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
}

type Service struct {
	notes      Repository
	encounters EncounterSource
	guard      *connection.Guard
	recorder   *audit.Recorder
}

func NewService(notes Repository, encounters EncounterSource, guard *connection.Guard, recorder *audit.Recorder) *Service {
	return &Service{notes: notes, encounters: encounters, guard: guard, recorder: recorder}
}

// Content carries the writable fields of a note.
type Content struct {
	Subjective  string   `json:"subjective"`
	Objective   string   `json:"objective"`
	Assessment  string   `json:"assessment"`
	Plan        string   `json:"plan"`
	Summary     string   `json:"summary"`
	Attachments []string `json:"attachments"`
}

func (c Content) applyTo(n *Note) {
	n.Subjective = c.Subjective
	n.Objective = c.Objective
	n.Assessment = c.Assessment
	n.Plan = c.Plan
	n.Summary = c.Summary
	n.Attachments = c.Attachments
}

// CreateDraft opens a new draft note on an encounter. The encounter must
// belong to the authoring provider and to the stated patient; the first
// mismatch is an access failure, the second a data inconsistency.
func (s *Service) CreateDraft(ctx context.Context, actor *auth.Actor, encounterID, patientID uuid.UUID, content Content) (*Note, error) {
	if err := auth.RequirePermission(actor, auth.PermProgressNoteCreate); err != nil {
		return nil, err
	}
	if encounterID == uuid.Nil {
		return nil, apperr.Validation("encounter_id is required")
	}
	if patientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}

	enc, err := s.encounters.GetByID(ctx, encounterID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("encounter")
		}
		return nil, apperr.Internal(err)
	}
	if actor.IsProviderRole() {
		if actor.ID != enc.ProviderID.String() {
			return nil, apperr.Forbidden()
		}
		if err := s.guard.EnsureProviderPatientLink(ctx, actor, patientID); err != nil {
			return nil, err
		}
	}
	if enc.PatientID != patientID {
		return nil, apperr.Conflict("encounter belongs to a different patient")
	}

	authorID, err := uuid.Parse(actor.ID)
	if err != nil {
		return nil, apperr.Forbidden()
	}

	note := &Note{
		EncounterID: encounterID,
		PatientID:   patientID,
		AuthorID:    authorID,
		Status:      StatusDraft,
	}
	content.applyTo(note)

	if err := s.notes.Create(ctx, note); err != nil {
		return nil, apperr.Internal(err)
	}
	s.recorder.Record(ctx, audit.ActionCreate, "progress_note", note.ID.String(), actor,
		map[string]string{"encounter_id": encounterID.String(), "patient_id": patientID.String()})
	return note, nil
}

// UpdateDraft autosaves content into a draft. The caller sends the version
// it last read; a mismatch means another save won the race and the caller
// must reload before retrying.
func (s *Service) UpdateDraft(ctx context.Context, actor *auth.Actor, id uuid.UUID, content Content, version int) (*Note, error) {
	if err := auth.RequirePermission(actor, auth.PermProgressNoteUpdate); err != nil {
		return nil, err
	}

	note, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ownsNote(ctx, actor, note); err != nil {
		return nil, err
	}
	if _, err := Transition(note.Status, EventAutosave); err != nil {
		return nil, err
	}
	if version != note.VersionID {
		return nil, apperr.Conflict("note was modified concurrently; reload and retry")
	}

	content.applyTo(note)
	now := time.Now().UTC()
	note.AutosavedAt = &now

	if err := s.notes.UpdateVersioned(ctx, note, version); err != nil {
		if errors.Is(err, ErrVersionMismatch) {
			return nil, apperr.Conflict("note was modified concurrently; reload and retry")
		}
		return nil, apperr.Internal(err)
	}
	s.recorder.Record(ctx, audit.ActionUpdate, "progress_note", note.ID.String(), actor, nil)
	return note, nil
}

// Finalize signs a draft and freezes it. Only credentialed providers may
// sign; the signature hash travels with the note from then on.
func (s *Service) Finalize(ctx context.Context, actor *auth.Actor, id uuid.UUID, signatureHash string, version int) (*Note, error) {
	if err := auth.RequirePermission(actor, auth.PermProgressNoteFinalize,
		auth.PermissionOpts{RequireApprovedProvider: true}); err != nil {
		return nil, err
	}
	if len(signatureHash) < minSignatureLen {
		return nil, apperr.Validation("signature_hash must be at least 16 characters")
	}

	note, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ownsNote(ctx, actor, note); err != nil {
		return nil, err
	}

	next, err := Transition(note.Status, EventFinalize)
	if err != nil {
		return nil, err
	}
	if version != note.VersionID {
		return nil, apperr.Conflict("note was modified concurrently; reload and retry")
	}

	now := time.Now().UTC()
	note.Status = next
	note.SignatureHash = signatureHash
	note.FinalizedAt = &now

	if err := s.notes.UpdateVersioned(ctx, note, version); err != nil {
		if errors.Is(err, ErrVersionMismatch) {
			return nil, apperr.Conflict("note was modified concurrently; reload and retry")
		}
		return nil, apperr.Internal(err)
	}
	s.recorder.Record(ctx, audit.ActionFinalize, "progress_note", note.ID.String(), actor, nil)
	return note, nil
}

// Amend creates a new draft carrying corrected content and a mandatory
// reason, pointing back at the finalized original. The original row is
// never touched.
func (s *Service) Amend(ctx context.Context, actor *auth.Actor, originalID uuid.UUID, reason string, content Content) (*Note, error) {
	if err := auth.RequirePermission(actor, auth.PermProgressNoteAmend); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, apperr.Validation("amendment_reason is required")
	}

	orig, err := s.load(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusFinalized {
		return nil, apperr.Conflict("only finalized notes can be amended")
	}

	if err := s.ownsNote(ctx, actor, orig); err != nil {
		return nil, err
	}

	authorID, err := uuid.Parse(actor.ID)
	if err != nil {
		return nil, apperr.Forbidden()
	}

	amendment := &Note{
		EncounterID:     orig.EncounterID,
		PatientID:       orig.PatientID,
		AuthorID:        authorID,
		Status:          StatusDraft,
		OriginalID:      &orig.ID,
		AmendmentReason: reason,
	}
	content.applyTo(amendment)

	if err := s.notes.Create(ctx, amendment); err != nil {
		return nil, apperr.Internal(err)
	}
	s.recorder.Record(ctx, audit.ActionCreate, "progress_note", amendment.ID.String(), actor,
		map[string]string{"original_id": orig.ID.String(), "amendment": "true"})
	return amendment, nil
}

func (s *Service) Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*Note, error) {
	if err := auth.RequirePermission(actor, auth.PermProgressNoteRead); err != nil {
		return nil, err
	}
	note, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsProviderRole() {
		if err := s.guard.EnsureProviderPatientLink(ctx, actor, note.PatientID); err != nil {
			return nil, err
		}
	}
	s.recorder.Record(ctx, audit.ActionView, "progress_note", note.ID.String(), actor, nil)
	return note, nil
}

// List returns notes matching the filter. Providers must scope the query to
// a patient or an encounter they can access; staff may list across patients.
// One view event covers the whole page.
func (s *Service) List(ctx context.Context, actor *auth.Actor, filter ListFilter, limit, offset int) ([]*Note, int, error) {
	if err := auth.RequirePermission(actor, auth.PermProgressNoteRead); err != nil {
		return nil, 0, err
	}

	if actor.IsProviderRole() {
		patientID := filter.PatientID
		if patientID == uuid.Nil && filter.EncounterID != uuid.Nil {
			enc, err := s.encounters.GetByID(ctx, filter.EncounterID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, 0, apperr.NotFound("encounter")
				}
				return nil, 0, apperr.Internal(err)
			}
			patientID = enc.PatientID
		}
		if patientID == uuid.Nil {
			return nil, 0, apperr.Validation("patient_id or encounter_id filter is required")
		}
		if err := s.guard.EnsureProviderPatientLink(ctx, actor, patientID); err != nil {
			return nil, 0, err
		}
	}

	items, total, err := s.notes.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	s.recorder.Record(ctx, audit.ActionView, "progress_note", "", actor, listMetadata(filter, limit, offset))
	return items, total, nil
}

// listMetadata captures the query parameters on the view event so the trail
// shows what was searched, not just that a search happened.
func listMetadata(filter ListFilter, limit, offset int) map[string]string {
	meta := map[string]string{
		"limit":  strconv.Itoa(limit),
		"offset": strconv.Itoa(offset),
	}
	if filter.EncounterID != uuid.Nil {
		meta["encounter_id"] = filter.EncounterID.String()
	}
	if filter.PatientID != uuid.Nil {
		meta["patient_id"] = filter.PatientID.String()
	}
	if filter.Status != "" {
		meta["status"] = string(filter.Status)
	}
	if filter.Keyword != "" {
		meta["keyword"] = filter.Keyword
	}
	return meta
}

// ownsNote admits the note's author, the provider on its encounter (a
// covering provider picking up a colleague's draft), or an admin.
func (s *Service) ownsNote(ctx context.Context, actor *auth.Actor, note *Note) error {
	enc, err := s.encounters.GetByID(ctx, note.EncounterID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !connection.OwnsDocument(actor, note.AuthorID, enc.ProviderID) {
		return apperr.Forbidden()
	}
	return nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Note, error) {
	note, err := s.notes.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("progress note")
		}
		return nil, apperr.Internal(err)
	}
	return note, nil
}
