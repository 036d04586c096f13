package connection

import (
	"time"

	"github.com/google/uuid"
)

// Link statuses. A link starts pending and is approved by staff; there is
// no rejected or revoked row state because links are never hard-deleted
// and revocation has not been needed yet.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// Categories describe how the link came to exist.
const (
	CategoryReferral   = "referral"
	CategorySelfSignup = "self_signup"
	CategoryTransfer   = "transfer"
)

func ValidStatus(s string) bool {
	return s == StatusPending || s == StatusApproved
}

func ValidCategory(c string) bool {
	switch c {
	case CategoryReferral, CategorySelfSignup, CategoryTransfer:
		return true
	}
	return false
}

// ProviderPatientLink records that a provider may treat a patient. All
// clinical reads and writes by providers pass through an approved link.
type ProviderPatientLink struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ProviderID uuid.UUID `db:"provider_id" json:"provider_id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	Category   string    `db:"category" json:"category"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
