package integration

import (
	"time"

	"github.com/google/uuid"
)

// IngestError statuses. failed rows stay eligible for retry; rows are
// never deleted, resolved is the only terminal state.
const (
	StatusPending  = "pending"
	StatusRetrying = "retrying"
	StatusResolved = "resolved"
	StatusFailed   = "failed"
)

// baseRetryDelay is the wait before the first retry; each subsequent
// failure doubles it up to maxBackoffStep doublings.
const (
	baseRetryDelay = 15 * time.Minute
	maxBackoffStep = 5
)

// backoffDelay returns the wait before the next attempt after retryCount
// failures: 15, 30, 60, 120, 240 minutes, capped at 480.
func backoffDelay(retryCount int) time.Duration {
	step := retryCount
	if step > maxBackoffStep {
		step = maxBackoffStep
	}
	return baseRetryDelay << uint(step)
}

// IngestError is one failed inbound payload from an external system,
// parked for reprocessing.
type IngestError struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patient_id"`
	OrderID      *uuid.UUID `db:"order_id" json:"order_id,omitempty"`
	Payload      []byte     `db:"payload" json:"payload"`
	ErrorMessage string     `db:"error_message" json:"error_message"`
	RetryCount   int        `db:"retry_count" json:"retry_count"`
	Status       string     `db:"status" json:"status"`
	NextRetryAt  *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
	LastTriedAt  *time.Time `db:"last_tried_at" json:"last_tried_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
