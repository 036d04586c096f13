package connection

import (
	"context"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
)

// Guard is the single chokepoint for provider access to patient records.
// Role permissions answer "may this role do this kind of thing"; the guard
// answers "may this provider touch this patient". Both must pass. Every
// decision reads the link store directly; cached link data is never an
// input to authorization.
type Guard struct {
	links Repository
}

func NewGuard(links Repository) *Guard {
	return &Guard{links: links}
}

// EnsureProviderPatientLink returns nil when the actor holds an approved
// link to the patient. The Forbidden result never reveals whether the
// patient exists or a pending link is in flight.
func (g *Guard) EnsureProviderPatientLink(ctx context.Context, actor *auth.Actor, patientID uuid.UUID) error {
	if actor == nil {
		return apperr.Unauthorized("authentication required")
	}
	if patientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	if !actor.IsProviderRole() {
		return apperr.Forbidden()
	}

	providerID, err := uuid.Parse(actor.ID)
	if err != nil {
		return apperr.Forbidden()
	}

	approved, err := g.links.HasApproved(ctx, providerID, patientID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !approved {
		return apperr.Forbidden()
	}
	return nil
}
