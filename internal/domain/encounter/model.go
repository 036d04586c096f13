package encounter

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPlanned    = "planned"
	StatusInProgress = "in_progress"
	StatusFinished   = "finished"
	StatusCancelled  = "cancelled"
)

var validStatuses = map[string]bool{
	StatusPlanned:    true,
	StatusInProgress: true,
	StatusFinished:   true,
	StatusCancelled:  true,
}

func ValidStatus(s string) bool {
	return validStatuses[s]
}

// Encounter is the visit record clinical documents hang off. Notes and
// orders reference it for provenance and ownership checks.
type Encounter struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	ProviderID  uuid.UUID  `db:"provider_id" json:"provider_id"`
	Status      string     `db:"status" json:"status"`
	Reason      string     `db:"reason" json:"reason,omitempty"`
	PeriodStart *time.Time `db:"period_start" json:"period_start,omitempty"`
	PeriodEnd   *time.Time `db:"period_end" json:"period_end,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}
