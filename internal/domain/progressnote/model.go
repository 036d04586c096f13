package progressnote

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/platform/apperr"
)

// Status is the note lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
)

// Event is a lifecycle trigger applied to a note.
type Event string

const (
	EventAutosave Event = "autosave"
	EventFinalize Event = "finalize"
)

// Transition returns the status after applying the event, or Conflict when
// the event is illegal in the current status. Amendment is not an event:
// amending creates a new draft note, it never moves the original.
func Transition(current Status, event Event) (Status, error) {
	switch current {
	case StatusDraft:
		switch event {
		case EventAutosave:
			return StatusDraft, nil
		case EventFinalize:
			return StatusFinalized, nil
		}
	case StatusFinalized:
		if event == EventAutosave {
			return "", apperr.Conflict("finalized notes are immutable; use amendment flow")
		}
		if event == EventFinalize {
			return "", apperr.Conflict("note is already finalized")
		}
	}
	return "", apperr.Conflict("invalid transition from " + string(current))
}

// Note is one SOAP progress note. Finalized notes are immutable; edits to a
// finalized note happen through amendment, which copies content into a new
// draft pointing back at the original.
type Note struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	AuthorID    uuid.UUID `db:"author_id" json:"author_id"`
	Status      Status    `db:"status" json:"status"`

	Subjective  string   `db:"subjective" json:"subjective,omitempty"`
	Objective   string   `db:"objective" json:"objective,omitempty"`
	Assessment  string   `db:"assessment" json:"assessment,omitempty"`
	Plan        string   `db:"plan" json:"plan,omitempty"`
	Summary     string   `db:"summary" json:"summary,omitempty"`
	Attachments []string `db:"attachments" json:"attachments,omitempty"`

	// Set on amendment notes only.
	OriginalID      *uuid.UUID `db:"original_id" json:"original_id,omitempty"`
	AmendmentReason string     `db:"amendment_reason" json:"amendment_reason,omitempty"`

	SignatureHash string     `db:"signature_hash" json:"signature_hash,omitempty"`
	AutosavedAt   *time.Time `db:"autosaved_at" json:"autosaved_at,omitempty"`
	FinalizedAt   *time.Time `db:"finalized_at" json:"finalized_at,omitempty"`

	// VersionID increments on every write; writers compare it to detect
	// lost races.
	VersionID int       `db:"version_id" json:"version_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
