package connection

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
)

func approvedLink(repo *mockRepo, providerID, patientID uuid.UUID) uuid.UUID {
	id := uuid.New()
	repo.links[id] = &ProviderPatientLink{
		ID:         id,
		ProviderID: providerID,
		PatientID:  patientID,
		Category:   CategoryReferral,
		Status:     StatusApproved,
	}
	return id
}

func TestGuard_ApprovedLinkPasses(t *testing.T) {
	repo := newMockRepo()
	providerID, patientID := uuid.New(), uuid.New()
	approvedLink(repo, providerID, patientID)

	g := NewGuard(repo)
	if err := g.EnsureProviderPatientLink(context.Background(), providerActor(providerID), patientID); err != nil {
		t.Errorf("expected access, got %v", err)
	}
}

func TestGuard_PendingLinkForbidden(t *testing.T) {
	repo := newMockRepo()
	providerID, patientID := uuid.New(), uuid.New()
	id := uuid.New()
	repo.links[id] = &ProviderPatientLink{
		ID: id, ProviderID: providerID, PatientID: patientID,
		Category: CategoryReferral, Status: StatusPending,
	}

	g := NewGuard(repo)
	err := g.EnsureProviderPatientLink(context.Background(), providerActor(providerID), patientID)
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden for pending link, got %v", err)
	}
}

func TestGuard_NoLinkForbidden(t *testing.T) {
	g := NewGuard(newMockRepo())
	err := g.EnsureProviderPatientLink(context.Background(), providerActor(uuid.New()), uuid.New())
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	if err.Error() != "access denied" {
		t.Errorf("forbidden message must not leak detail, got %q", err.Error())
	}
}

func TestGuard_ActorChecks(t *testing.T) {
	g := NewGuard(newMockRepo())
	patientID := uuid.New()

	if err := g.EnsureProviderPatientLink(context.Background(), nil, patientID); !apperr.IsKind(err, apperr.KindUnauthorized) {
		t.Errorf("expected unauthorized for nil actor, got %v", err)
	}
	if err := g.EnsureProviderPatientLink(context.Background(), providerActor(uuid.New()), uuid.Nil); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation for nil patient id, got %v", err)
	}

	clerk := &auth.Actor{ID: uuid.NewString(), Role: auth.RoleClerk}
	if err := g.EnsureProviderPatientLink(context.Background(), clerk, patientID); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden for non-provider, got %v", err)
	}
}

// Each guard call must reflect the stored link status at that moment. A
// decision served from anything but the link store would keep allowing a
// provider whose link was just downgraded.
func TestGuard_SeesStatusChangeImmediately(t *testing.T) {
	repo := newMockRepo()
	providerID, patientID := uuid.New(), uuid.New()
	linkID := approvedLink(repo, providerID, patientID)

	g := NewGuard(repo)
	actor := providerActor(providerID)
	if err := g.EnsureProviderPatientLink(context.Background(), actor, patientID); err != nil {
		t.Fatalf("expected access while approved, got %v", err)
	}

	repo.links[linkID].Status = StatusPending
	err := g.EnsureProviderPatientLink(context.Background(), actor, patientID)
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden after downgrade to pending, got %v", err)
	}

	repo.links[linkID].Status = StatusApproved
	if err := g.EnsureProviderPatientLink(context.Background(), actor, patientID); err != nil {
		t.Errorf("expected access after re-approval, got %v", err)
	}
}

func TestGuard_ApprovalVisibleImmediately(t *testing.T) {
	svc, repo, _ := newTestService()
	g := NewGuard(repo)

	providerID, patientID := uuid.New(), uuid.New()
	link, _, err := svc.RequestConnection(context.Background(), adminActor(), providerID, patientID, CategoryReferral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	actor := providerActor(providerID)
	if err := g.EnsureProviderPatientLink(context.Background(), actor, patientID); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden before approval, got %v", err)
	}

	if _, err := svc.Approve(context.Background(), adminActor(), link.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.EnsureProviderPatientLink(context.Background(), actor, patientID); err != nil {
		t.Errorf("expected access after approval, got %v", err)
	}
}

func TestOwnsDocument(t *testing.T) {
	author := uuid.New()
	encProvider := uuid.New()

	cases := []struct {
		name  string
		actor *auth.Actor
		want  bool
	}{
		{"nil actor", nil, false},
		{"admin", &auth.Actor{ID: uuid.NewString(), Role: auth.RoleAdmin}, true},
		{"author", &auth.Actor{ID: author.String(), Role: auth.RoleProvider}, true},
		{"encounter provider", &auth.Actor{ID: encProvider.String(), Role: auth.RoleProvider}, true},
		{"other provider", &auth.Actor{ID: uuid.NewString(), Role: auth.RoleProvider}, false},
		{"clerk", &auth.Actor{ID: author.String(), Role: auth.RoleClerk}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := OwnsDocument(tc.actor, author, encProvider); got != tc.want {
				t.Errorf("OwnsDocument = %v, want %v", got, tc.want)
			}
		})
	}
}
