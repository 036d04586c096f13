package connection

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, link *ProviderPatientLink) error
	GetByID(ctx context.Context, id uuid.UUID) (*ProviderPatientLink, error)
	// GetByPair returns the link between a provider and a patient in any
	// status, or pgx.ErrNoRows when none exists.
	GetByPair(ctx context.Context, providerID, patientID uuid.UUID) (*ProviderPatientLink, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	ListByProvider(ctx context.Context, providerID uuid.UUID, status string, limit, offset int) ([]*ProviderPatientLink, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*ProviderPatientLink, int, error)
	// HasApproved reports whether an approved link exists for the pair.
	HasApproved(ctx context.Context, providerID, patientID uuid.UUID) (bool, error)
}
