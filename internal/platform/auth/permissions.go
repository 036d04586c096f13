package auth

import (
	"github.com/carelink/carelink/internal/platform/apperr"
)

// Permission identifies one action on one clinical entity type.
type Permission string

const (
	PermProgressNoteRead     Permission = "progress_note.read"
	PermProgressNoteCreate   Permission = "progress_note.create"
	PermProgressNoteUpdate   Permission = "progress_note.update"
	PermProgressNoteFinalize Permission = "progress_note.finalize"
	PermProgressNoteAmend    Permission = "progress_note.amend"

	PermEncounterRead   Permission = "encounter.read"
	PermEncounterCreate Permission = "encounter.create"
	PermEncounterUpdate Permission = "encounter.update"

	PermInvestigationRead   Permission = "investigation.read"
	PermInvestigationCreate Permission = "investigation.create"
	PermInvestigationUpdate Permission = "investigation.update"
	PermInvestigationReview Permission = "investigation.review"

	PermCorrespondenceRead   Permission = "correspondence.read"
	PermCorrespondenceCreate Permission = "correspondence.create"
	PermCorrespondenceUpdate Permission = "correspondence.update"
	PermCorrespondenceSend   Permission = "correspondence.send"

	PermMedicationRead   Permission = "medication.read"
	PermMedicationCreate Permission = "medication.create"
	PermMedicationUpdate Permission = "medication.update"
)

// AllPermissions lists every permission in the closed set.
var AllPermissions = []Permission{
	PermProgressNoteRead, PermProgressNoteCreate, PermProgressNoteUpdate,
	PermProgressNoteFinalize, PermProgressNoteAmend,
	PermEncounterRead, PermEncounterCreate, PermEncounterUpdate,
	PermInvestigationRead, PermInvestigationCreate, PermInvestigationUpdate,
	PermInvestigationReview,
	PermCorrespondenceRead, PermCorrespondenceCreate, PermCorrespondenceUpdate,
	PermCorrespondenceSend,
	PermMedicationRead, PermMedicationCreate, PermMedicationUpdate,
}

var readOnlySet = []Permission{
	PermProgressNoteRead,
	PermEncounterRead,
	PermInvestigationRead,
	PermCorrespondenceRead,
	PermMedicationRead,
}

// permissionMatrix is the fixed role -> permission mapping, built once at
// process start. It is configuration, not state: nothing mutates it after
// init.
var permissionMatrix = buildMatrix()

func buildMatrix() map[Role]map[Permission]bool {
	m := make(map[Role]map[Permission]bool)

	grant := func(role Role, perms []Permission) {
		set := make(map[Permission]bool, len(perms))
		for _, p := range perms {
			set[p] = true
		}
		m[role] = set
	}

	grant(RoleAdmin, AllPermissions)
	grant(RoleProvider, AllPermissions)
	grant(RoleClerk, readOnlySet)
	grant(RoleProviderPending, readOnlySet)
	grant(RoleProviderReviewing, readOnlySet)
	grant(RolePatient, nil)

	return m
}

// HasPermission is a pure lookup against the fixed matrix.
func HasPermission(role Role, perm Permission) bool {
	return permissionMatrix[role][perm]
}

// PermissionOpts modifies RequirePermission for high-consequence actions.
type PermissionOpts struct {
	// RequireApprovedProvider additionally rejects providers whose account
	// is still under credential review, even though the provider role
	// itself holds the permission.
	RequireApprovedProvider bool
}

// RequirePermission checks that the actor holds the permission. A nil actor
// is Unauthorized; a matrix miss is Forbidden. With RequireApprovedProvider,
// a provider-roled actor whose status is not approved is also Forbidden.
func RequirePermission(actor *Actor, perm Permission, opts ...PermissionOpts) error {
	if actor == nil {
		return apperr.Unauthorized("authentication required")
	}
	if !HasPermission(actor.Role, perm) {
		return apperr.Forbidden()
	}
	for _, o := range opts {
		if o.RequireApprovedProvider && actor.IsProviderRole() && !actor.IsApprovedProvider() {
			return apperr.Forbidden()
		}
	}
	return nil
}
