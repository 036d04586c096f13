package progressnote

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrVersionMismatch is returned by versioned updates when the row's
// version_id no longer matches the caller's; the service maps it to
// Conflict.
var ErrVersionMismatch = errors.New("note version mismatch")

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	EncounterID uuid.UUID
	PatientID   uuid.UUID
	Status      Status
	Keyword     string
}

type Repository interface {
	Create(ctx context.Context, note *Note) error
	GetByID(ctx context.Context, id uuid.UUID) (*Note, error)
	// UpdateVersioned writes content fields only when the row still holds
	// expectedVersion, bumping version_id on success.
	UpdateVersioned(ctx context.Context, note *Note, expectedVersion int) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Note, int, error)
}
