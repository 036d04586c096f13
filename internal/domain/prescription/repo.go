package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	PatientID  uuid.UUID
	ProviderID uuid.UUID
	Status     Status
	From       *time.Time
	To         *time.Time
}

type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	Update(ctx context.Context, p *Prescription) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Prescription, int, error)
	// ListActiveByPatient returns the patient's active prescriptions,
	// used for safety checks at create time.
	ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error)
	// ExpireActive moves every active prescription whose end date has
	// passed to expired, returning how many rows changed.
	ExpireActive(ctx context.Context, now time.Time) (int, error)
}
