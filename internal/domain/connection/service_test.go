package connection

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/cache"
)

type mockRepo struct {
	links map[uuid.UUID]*ProviderPatientLink
}

func newMockRepo() *mockRepo {
	return &mockRepo{links: make(map[uuid.UUID]*ProviderPatientLink)}
}

func (m *mockRepo) Create(_ context.Context, link *ProviderPatientLink) error {
	link.ID = uuid.New()
	cp := *link
	m.links[link.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*ProviderPatientLink, error) {
	l, ok := m.links[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *l
	return &cp, nil
}

func (m *mockRepo) GetByPair(_ context.Context, providerID, patientID uuid.UUID) (*ProviderPatientLink, error) {
	for _, l := range m.links {
		if l.ProviderID == providerID && l.PatientID == patientID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	l, ok := m.links[id]
	if !ok {
		return pgx.ErrNoRows
	}
	l.Status = status
	return nil
}

func (m *mockRepo) ListByProvider(_ context.Context, providerID uuid.UUID, status string, limit, offset int) ([]*ProviderPatientLink, int, error) {
	var out []*ProviderPatientLink
	for _, l := range m.links {
		if l.ProviderID == providerID && (status == "" || l.Status == status) {
			out = append(out, l)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*ProviderPatientLink, int, error) {
	var out []*ProviderPatientLink
	for _, l := range m.links {
		if l.PatientID == patientID && (status == "" || l.Status == status) {
			out = append(out, l)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) HasApproved(_ context.Context, providerID, patientID uuid.UUID) (bool, error) {
	for _, l := range m.links {
		if l.ProviderID == providerID && l.PatientID == patientID && l.Status == StatusApproved {
			return true, nil
		}
	}
	return false, nil
}

type mockAuditRepo struct {
	events []*audit.Event
}

func (m *mockAuditRepo) Insert(_ context.Context, ev *audit.Event) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *mockAuditRepo) Search(_ context.Context, _ map[string]string, _, _ int) ([]*audit.Event, int, error) {
	return m.events, len(m.events), nil
}

func newTestService() (*Service, *mockRepo, *mockAuditRepo) {
	repo := newMockRepo()
	auditRepo := &mockAuditRepo{}
	svc := NewService(repo, audit.NewRecorder(auditRepo, zerolog.Nop()), nil)
	return svc, repo, auditRepo
}

func adminActor() *auth.Actor {
	return &auth.Actor{ID: uuid.NewString(), Role: auth.RoleAdmin}
}

func providerActor(id uuid.UUID) *auth.Actor {
	return &auth.Actor{ID: id.String(), Role: auth.RoleProvider, ProviderStatus: auth.ProviderStatusApproved}
}

func TestRequestConnection_CreatesPending(t *testing.T) {
	svc, _, auditRepo := newTestService()
	providerID, patientID := uuid.New(), uuid.New()

	link, created, err := svc.RequestConnection(context.Background(), providerActor(providerID), providerID, patientID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true for a new link")
	}
	if link.Status != StatusPending {
		t.Errorf("expected pending, got %s", link.Status)
	}
	if link.Category != CategoryReferral {
		t.Errorf("expected default category referral, got %s", link.Category)
	}
	if len(auditRepo.events) != 1 || auditRepo.events[0].Action != audit.ActionCreate {
		t.Errorf("expected one create audit event, got %+v", auditRepo.events)
	}
}

func TestRequestConnection_ExistingLinkNotRecreated(t *testing.T) {
	svc, _, auditRepo := newTestService()
	providerID, patientID := uuid.New(), uuid.New()
	actor := providerActor(providerID)

	first, _, err := svc.RequestConnection(context.Background(), actor, providerID, patientID, CategoryReferral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, created, err := svc.RequestConnection(context.Background(), actor, providerID, patientID, CategoryTransfer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected created=false for an existing link")
	}
	if second.ID != first.ID {
		t.Error("expected the existing link back")
	}
	if second.Category != CategoryReferral {
		t.Error("existing link must not be modified by a repeat request")
	}
	if len(auditRepo.events) != 1 {
		t.Errorf("expected no audit event for the repeat request, got %d", len(auditRepo.events))
	}
}

func TestRequestConnection_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	providerID, patientID := uuid.New(), uuid.New()

	_, _, err := svc.RequestConnection(context.Background(), nil, providerID, patientID, "")
	if !apperr.IsKind(err, apperr.KindUnauthorized) {
		t.Errorf("expected unauthorized for nil actor, got %v", err)
	}

	_, _, err = svc.RequestConnection(context.Background(), adminActor(), uuid.Nil, patientID, "")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation for nil provider id, got %v", err)
	}

	_, _, err = svc.RequestConnection(context.Background(), adminActor(), providerID, patientID, "bogus")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation for bad category, got %v", err)
	}
}

func TestRequestConnection_ProviderCannotLinkOthers(t *testing.T) {
	svc, _, _ := newTestService()
	other := uuid.New()

	_, _, err := svc.RequestConnection(context.Background(), providerActor(uuid.New()), other, uuid.New(), "")
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
}

func TestApprove_StaffOnly(t *testing.T) {
	svc, _, _ := newTestService()
	providerID, patientID := uuid.New(), uuid.New()
	link, _, err := svc.RequestConnection(context.Background(), adminActor(), providerID, patientID, CategoryReferral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.Approve(context.Background(), providerActor(providerID), link.ID)
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden for provider, got %v", err)
	}

	clerk := &auth.Actor{ID: uuid.NewString(), Role: auth.RoleClerk}
	approved, err := svc.Approve(context.Background(), clerk, link.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Errorf("expected approved, got %s", approved.Status)
	}
}

func TestApprove_Idempotent(t *testing.T) {
	svc, _, auditRepo := newTestService()
	link, _, err := svc.RequestConnection(context.Background(), adminActor(), uuid.New(), uuid.New(), CategoryReferral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	admin := adminActor()
	if _, err := svc.Approve(context.Background(), admin, link.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := len(auditRepo.events)
	if _, err := svc.Approve(context.Background(), admin, link.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(auditRepo.events) != before {
		t.Error("repeat approve must not record another audit event")
	}
}

func TestApprove_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Approve(context.Background(), adminActor(), uuid.New())
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestList_Scoping(t *testing.T) {
	svc, _, _ := newTestService()
	providerID, patientID := uuid.New(), uuid.New()
	if _, _, err := svc.RequestConnection(context.Background(), adminActor(), providerID, patientID, CategoryReferral); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A provider cannot list another provider's links.
	_, _, err := svc.ListByProvider(context.Background(), providerActor(uuid.New()), providerID, "", 20, 0)
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}

	// A patient cannot list another patient's care network.
	other := &auth.Actor{ID: uuid.NewString(), Role: auth.RolePatient}
	_, _, err = svc.ListByPatient(context.Background(), other, patientID, "", 20, 0)
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}

	patient := &auth.Actor{ID: patientID.String(), Role: auth.RolePatient}
	items, total, err := svc.ListByPatient(context.Background(), patient, patientID, StatusPending, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("expected 1 link, got %d", total)
	}
}

type countingListRepo struct {
	*mockRepo
	providerLists int
}

func (c *countingListRepo) ListByProvider(ctx context.Context, providerID uuid.UUID, status string, limit, offset int) ([]*ProviderPatientLink, int, error) {
	c.providerLists++
	return c.mockRepo.ListByProvider(ctx, providerID, status, limit, offset)
}

func newCachedTestService(t *testing.T) (*Service, *countingListRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewWithClient(client, 30*time.Second, zerolog.Nop())

	repo := &countingListRepo{mockRepo: newMockRepo()}
	svc := NewService(repo, audit.NewRecorder(&mockAuditRepo{}, zerolog.Nop()), c)
	return svc, repo
}

func TestListByProvider_CachesPages(t *testing.T) {
	svc, repo := newCachedTestService(t)
	providerID, patientID := uuid.New(), uuid.New()
	approvedLink(repo.mockRepo, providerID, patientID)

	actor := providerActor(providerID)
	for i := 0; i < 3; i++ {
		if _, _, err := svc.ListByProvider(context.Background(), actor, providerID, "", 20, 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if repo.providerLists != 1 {
		t.Errorf("expected 1 repo list for repeated identical queries, got %d", repo.providerLists)
	}

	// A different page misses the cache.
	if _, _, err := svc.ListByProvider(context.Background(), actor, providerID, "", 20, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.providerLists != 2 {
		t.Errorf("expected a repo list for the new page, got %d", repo.providerLists)
	}
}

func TestListByProvider_MutationDropsCachedPages(t *testing.T) {
	svc, _ := newCachedTestService(t)
	providerID := uuid.New()
	actor := providerActor(providerID)

	link, _, err := svc.RequestConnection(context.Background(), actor, providerID, uuid.New(), CategoryReferral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, total, err := svc.ListByProvider(context.Background(), actor, providerID, StatusPending, 20, 0); err != nil || total != 1 {
		t.Fatalf("expected 1 pending link, got %d (%v)", total, err)
	}

	if _, err := svc.Approve(context.Background(), adminActor(), link.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The pending page was invalidated by the status change, not left to age
	// out over the TTL.
	if _, total, err := svc.ListByProvider(context.Background(), actor, providerID, StatusPending, 20, 0); err != nil || total != 0 {
		t.Errorf("expected 0 pending links after approval, got %d (%v)", total, err)
	}
}
