package prescription

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/platform/apperr"
)

// Status is the prescription lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Event is a lifecycle trigger applied to a prescription.
type Event string

const (
	EventActivate Event = "activate"
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
	EventExpire   Event = "expire"
)

// Transition returns the status after applying the event. Cancelled and
// expired are terminal.
func Transition(current Status, event Event) (Status, error) {
	switch current {
	case StatusDraft:
		switch event {
		case EventActivate:
			return StatusActive, nil
		case EventCancel:
			return StatusCancelled, nil
		}
	case StatusActive:
		switch event {
		case EventComplete:
			return StatusCompleted, nil
		case EventCancel:
			return StatusCancelled, nil
		case EventExpire:
			return StatusExpired, nil
		}
	case StatusCompleted, StatusCancelled, StatusExpired:
		return "", apperr.Conflict("prescription is " + string(current))
	}
	return "", apperr.Conflict("invalid transition from " + string(current))
}

// Prescription is one medication order. Dosage is stored as entered after
// validation; safety caps live in validate.go.
type Prescription struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	ProviderID    uuid.UUID  `db:"provider_id" json:"provider_id"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`

	MedicationName string `db:"medication_name" json:"medication_name"`
	Dosage         string `db:"dosage" json:"dosage"`
	Frequency      string `db:"frequency" json:"frequency"`
	Duration       string `db:"duration" json:"duration,omitempty"`
	Quantity       int    `db:"quantity" json:"quantity"`
	Refills        int    `db:"refills" json:"refills"`
	Instructions   string `db:"instructions" json:"instructions,omitempty"`
	Notes          string `db:"notes" json:"notes,omitempty"`

	Status         Status     `db:"status" json:"status"`
	PrescribedDate time.Time  `db:"prescribed_date" json:"prescribed_date"`
	StartDate      *time.Time `db:"start_date" json:"start_date,omitempty"`
	EndDate        *time.Time `db:"end_date" json:"end_date,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Warning is a non-blocking safety flag returned alongside a created
// prescription. It never prevents the create.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	WarnDuplicateTherapy = "duplicate_therapy"
	WarnPolypharmacy     = "polypharmacy"
)
