package connection

import (
	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/platform/auth"
)

// OwnsDocument reports whether the actor may modify a clinical document.
// True for admins, the document's author, and the provider on the
// document's encounter.
func OwnsDocument(actor *auth.Actor, authorID, encounterProviderID uuid.UUID) bool {
	if actor == nil {
		return false
	}
	if actor.Role == auth.RoleAdmin {
		return true
	}
	if authorID != uuid.Nil && actor.ID == authorID.String() {
		return true
	}
	if encounterProviderID != uuid.Nil && actor.ID == encounterProviderID.String() {
		return true
	}
	return false
}
