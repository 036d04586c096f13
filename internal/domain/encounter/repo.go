package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Update(ctx context.Context, enc *Encounter) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*Encounter, int, error)
}
