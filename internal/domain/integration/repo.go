package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *IngestError) error
	GetByID(ctx context.Context, id uuid.UUID) (*IngestError, error)
	Update(ctx context.Context, e *IngestError) error
	// ListEligible returns up to limit rows due for a retry at now,
	// oldest next_retry_at first.
	ListEligible(ctx context.Context, now time.Time, limit int) ([]*IngestError, error)
	List(ctx context.Context, status string, limit, offset int) ([]*IngestError, int, error)
}
