package progressnote

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/domain/connection"
	"github.com/carelink/carelink/internal/domain/encounter"
	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
)

type mockRepo struct {
	notes map[uuid.UUID]*Note
}

func newMockRepo() *mockRepo {
	return &mockRepo{notes: make(map[uuid.UUID]*Note)}
}

func (m *mockRepo) Create(_ context.Context, note *Note) error {
	note.ID = uuid.New()
	note.VersionID = 1
	cp := *note
	m.notes[note.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Note, error) {
	n, ok := m.notes[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *n
	return &cp, nil
}

func (m *mockRepo) UpdateVersioned(_ context.Context, note *Note, expectedVersion int) error {
	stored, ok := m.notes[note.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if stored.VersionID != expectedVersion {
		return ErrVersionMismatch
	}
	cp := *note
	cp.VersionID = expectedVersion + 1
	m.notes[note.ID] = &cp
	note.VersionID = cp.VersionID
	return nil
}

func (m *mockRepo) List(_ context.Context, filter ListFilter, limit, offset int) ([]*Note, int, error) {
	var out []*Note
	for _, n := range m.notes {
		if filter.EncounterID != uuid.Nil && n.EncounterID != filter.EncounterID {
			continue
		}
		if filter.PatientID != uuid.Nil && n.PatientID != filter.PatientID {
			continue
		}
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		if filter.Keyword != "" && !strings.Contains(n.Subjective, filter.Keyword) {
			continue
		}
		out = append(out, n)
	}
	return out, len(out), nil
}

type mockEncounters struct {
	encounters map[uuid.UUID]*encounter.Encounter
}

func (m *mockEncounters) GetByID(_ context.Context, id uuid.UUID) (*encounter.Encounter, error) {
	e, ok := m.encounters[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return e, nil
}

type mockLinkRepo struct {
	approved map[string]bool
}

func (m *mockLinkRepo) Create(context.Context, *connection.ProviderPatientLink) error { return nil }
func (m *mockLinkRepo) GetByID(context.Context, uuid.UUID) (*connection.ProviderPatientLink, error) {
	return nil, pgx.ErrNoRows
}
func (m *mockLinkRepo) GetByPair(context.Context, uuid.UUID, uuid.UUID) (*connection.ProviderPatientLink, error) {
	return nil, pgx.ErrNoRows
}
func (m *mockLinkRepo) UpdateStatus(context.Context, uuid.UUID, string) error { return nil }
func (m *mockLinkRepo) ListByProvider(context.Context, uuid.UUID, string, int, int) ([]*connection.ProviderPatientLink, int, error) {
	return nil, 0, nil
}
func (m *mockLinkRepo) ListByPatient(context.Context, uuid.UUID, string, int, int) ([]*connection.ProviderPatientLink, int, error) {
	return nil, 0, nil
}
func (m *mockLinkRepo) HasApproved(_ context.Context, providerID, patientID uuid.UUID) (bool, error) {
	return m.approved[providerID.String()+":"+patientID.String()], nil
}

type mockAuditRepo struct {
	events []*audit.Event
}

func (m *mockAuditRepo) Insert(_ context.Context, ev *audit.Event) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *mockAuditRepo) Search(context.Context, map[string]string, int, int) ([]*audit.Event, int, error) {
	return m.events, len(m.events), nil
}

type fixture struct {
	svc        *Service
	repo       *mockRepo
	encounters *mockEncounters
	links      *mockLinkRepo
	audit      *mockAuditRepo

	providerID  uuid.UUID
	patientID   uuid.UUID
	encounterID uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		repo:       newMockRepo(),
		encounters: &mockEncounters{encounters: make(map[uuid.UUID]*encounter.Encounter)},
		links:      &mockLinkRepo{approved: make(map[string]bool)},
		audit:      &mockAuditRepo{},
		providerID: uuid.New(),
		patientID:  uuid.New(),
	}
	f.encounterID = f.addEncounter(f.providerID, f.patientID)
	f.links.approved[f.providerID.String()+":"+f.patientID.String()] = true
	f.svc = NewService(f.repo, f.encounters,
		connection.NewGuard(f.links),
		audit.NewRecorder(f.audit, zerolog.Nop()))
	return f
}

func (f *fixture) addEncounter(providerID, patientID uuid.UUID) uuid.UUID {
	id := uuid.New()
	f.encounters.encounters[id] = &encounter.Encounter{
		ID: id, ProviderID: providerID, PatientID: patientID,
		Status: encounter.StatusInProgress,
	}
	return id
}

func (f *fixture) provider() *auth.Actor {
	return &auth.Actor{ID: f.providerID.String(), Role: auth.RoleProvider, ProviderStatus: auth.ProviderStatusApproved}
}

func (f *fixture) draft(t *testing.T) *Note {
	t.Helper()
	note, err := f.svc.CreateDraft(context.Background(), f.provider(), f.encounterID, f.patientID,
		Content{Subjective: "patient reports improvement"})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	return note
}

func (f *fixture) finalized(t *testing.T) *Note {
	t.Helper()
	note := f.draft(t)
	signed, err := f.svc.Finalize(context.Background(), f.provider(), note.ID,
		"sha256:abcdef0123456789", note.VersionID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return signed
}

func TestCreateDraft(t *testing.T) {
	f := newFixture()
	note := f.draft(t)

	if note.Status != StatusDraft {
		t.Errorf("expected draft, got %s", note.Status)
	}
	if note.VersionID != 1 {
		t.Errorf("expected version 1, got %d", note.VersionID)
	}
	if note.AuthorID != f.providerID {
		t.Error("expected author set to the acting provider")
	}
	if len(f.audit.events) != 1 || f.audit.events[0].Action != audit.ActionCreate {
		t.Errorf("expected one create audit event, got %+v", f.audit.events)
	}
}

func TestCreateDraft_EncounterProviderMismatch(t *testing.T) {
	f := newFixture()
	other := uuid.New()
	f.links.approved[other.String()+":"+f.patientID.String()] = true
	actor := &auth.Actor{ID: other.String(), Role: auth.RoleProvider, ProviderStatus: auth.ProviderStatusApproved}

	_, err := f.svc.CreateDraft(context.Background(), actor, f.encounterID, f.patientID, Content{})
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden when the encounter belongs to another provider, got %v", err)
	}
}

func TestCreateDraft_EncounterPatientMismatch(t *testing.T) {
	f := newFixture()
	otherPatient := uuid.New()
	f.links.approved[f.providerID.String()+":"+otherPatient.String()] = true

	_, err := f.svc.CreateDraft(context.Background(), f.provider(), f.encounterID, otherPatient, Content{})
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("expected conflict when the encounter belongs to another patient, got %v", err)
	}
}

func TestCreateDraft_EncounterNotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateDraft(context.Background(), f.provider(), uuid.New(), f.patientID, Content{})
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestUpdateDraft_StampsAutosave(t *testing.T) {
	f := newFixture()
	note := f.draft(t)

	updated, err := f.svc.UpdateDraft(context.Background(), f.provider(), note.ID,
		Content{Subjective: "revised"}, note.VersionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.AutosavedAt == nil {
		t.Error("expected autosaved_at stamp")
	}
	if updated.VersionID != note.VersionID+1 {
		t.Errorf("expected version bump, got %d", updated.VersionID)
	}
	if updated.Subjective != "revised" {
		t.Errorf("expected content update, got %q", updated.Subjective)
	}
}

func TestUpdateDraft_FinalizedImmutable(t *testing.T) {
	f := newFixture()
	note := f.finalized(t)

	_, err := f.svc.UpdateDraft(context.Background(), f.provider(), note.ID, Content{}, note.VersionID)
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err.Error() != "finalized notes are immutable; use amendment flow" {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestUpdateDraft_VersionRace(t *testing.T) {
	f := newFixture()
	note := f.draft(t)

	// First save wins.
	if _, err := f.svc.UpdateDraft(context.Background(), f.provider(), note.ID,
		Content{Subjective: "first"}, note.VersionID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Second save with the stale version loses.
	_, err := f.svc.UpdateDraft(context.Background(), f.provider(), note.ID,
		Content{Subjective: "second"}, note.VersionID)
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("expected conflict on stale version, got %v", err)
	}

	stored, _ := f.repo.GetByID(context.Background(), note.ID)
	if stored.Subjective != "first" {
		t.Errorf("stale write must not overwrite, got %q", stored.Subjective)
	}
}

func TestUpdateDraft_UnrelatedProviderForbidden(t *testing.T) {
	f := newFixture()
	note := f.draft(t)

	// Linked to the patient, but neither the author nor the provider on
	// the note's encounter.
	other := uuid.New()
	f.links.approved[other.String()+":"+f.patientID.String()] = true
	actor := &auth.Actor{ID: other.String(), Role: auth.RoleProvider, ProviderStatus: auth.ProviderStatusApproved}

	_, err := f.svc.UpdateDraft(context.Background(), actor, note.ID, Content{}, note.VersionID)
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden for unrelated provider, got %v", err)
	}
}

// The provider on the note's encounter may work a draft another author
// opened, covering for a colleague.
func TestUpdateDraft_EncounterProviderAllowed(t *testing.T) {
	f := newFixture()
	admin := &auth.Actor{ID: uuid.NewString(), Role: auth.RoleAdmin}
	note, err := f.svc.CreateDraft(context.Background(), admin, f.encounterID, f.patientID,
		Content{Subjective: "initial impression"})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	updated, err := f.svc.UpdateDraft(context.Background(), f.provider(), note.ID,
		Content{Subjective: "covering provider addendum"}, note.VersionID)
	if err != nil {
		t.Fatalf("expected encounter provider to update the draft, got %v", err)
	}
	if updated.Subjective != "covering provider addendum" {
		t.Errorf("expected content saved, got %q", updated.Subjective)
	}
}

func TestFinalize_EncounterProviderAllowed(t *testing.T) {
	f := newFixture()
	admin := &auth.Actor{ID: uuid.NewString(), Role: auth.RoleAdmin}
	note, err := f.svc.CreateDraft(context.Background(), admin, f.encounterID, f.patientID,
		Content{Subjective: "initial impression"})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	signed, err := f.svc.Finalize(context.Background(), f.provider(), note.ID,
		"sha256:abcdef0123456789", note.VersionID)
	if err != nil {
		t.Fatalf("expected encounter provider to finalize, got %v", err)
	}
	if signed.Status != StatusFinalized {
		t.Errorf("expected finalized, got %s", signed.Status)
	}
}

func TestFinalize(t *testing.T) {
	f := newFixture()
	note := f.finalized(t)

	if note.Status != StatusFinalized {
		t.Errorf("expected finalized, got %s", note.Status)
	}
	if note.FinalizedAt == nil {
		t.Error("expected finalized_at stamp")
	}
	if note.SignatureHash == "" {
		t.Error("expected signature hash stored")
	}

	var finalizes int
	for _, ev := range f.audit.events {
		if ev.Action == audit.ActionFinalize {
			finalizes++
		}
	}
	if finalizes != 1 {
		t.Errorf("expected exactly one finalize audit event, got %d", finalizes)
	}
}

func TestFinalize_ShortSignature(t *testing.T) {
	f := newFixture()
	note := f.draft(t)

	_, err := f.svc.Finalize(context.Background(), f.provider(), note.ID, "short", note.VersionID)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation for short signature, got %v", err)
	}
}

func TestFinalize_UnapprovedProvider(t *testing.T) {
	f := newFixture()
	note := f.draft(t)

	pending := &auth.Actor{ID: f.providerID.String(), Role: auth.RoleProvider, ProviderStatus: "pending"}
	_, err := f.svc.Finalize(context.Background(), pending, note.ID, "sha256:abcdef0123456789", note.VersionID)
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden for unapproved provider, got %v", err)
	}
}

func TestFinalize_AlreadyFinalized(t *testing.T) {
	f := newFixture()
	note := f.finalized(t)

	_, err := f.svc.Finalize(context.Background(), f.provider(), note.ID, "sha256:abcdef0123456789", note.VersionID)
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestAmend_OriginalUntouched(t *testing.T) {
	f := newFixture()
	orig := f.finalized(t)

	amendment, err := f.svc.Amend(context.Background(), f.provider(), orig.ID,
		"transcription error", Content{Subjective: "corrected narrative"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if amendment.Status != StatusDraft {
		t.Errorf("amendment starts as draft, got %s", amendment.Status)
	}
	if amendment.OriginalID == nil || *amendment.OriginalID != orig.ID {
		t.Error("amendment must reference the original")
	}
	if amendment.AmendmentReason != "transcription error" {
		t.Errorf("unexpected reason: %q", amendment.AmendmentReason)
	}

	stored, _ := f.repo.GetByID(context.Background(), orig.ID)
	if stored.Subjective != orig.Subjective || stored.Status != StatusFinalized {
		t.Error("original note must not be rewritten by amendment")
	}
}

func TestAmend_RequiresReason(t *testing.T) {
	f := newFixture()
	orig := f.finalized(t)

	_, err := f.svc.Amend(context.Background(), f.provider(), orig.ID, "", Content{})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation for empty reason, got %v", err)
	}
}

func TestAmend_DraftRejected(t *testing.T) {
	f := newFixture()
	note := f.draft(t)

	_, err := f.svc.Amend(context.Background(), f.provider(), note.ID, "reason", Content{})
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("expected conflict amending a draft, got %v", err)
	}
}

func TestList_ProviderMustScope(t *testing.T) {
	f := newFixture()
	f.draft(t)

	_, _, err := f.svc.List(context.Background(), f.provider(), ListFilter{}, 20, 0)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation for unscoped provider list, got %v", err)
	}

	items, total, err := f.svc.List(context.Background(), f.provider(),
		ListFilter{PatientID: f.patientID}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("expected 1 note, got %d", total)
	}
}

func TestList_EncounterScopeResolvesPatient(t *testing.T) {
	f := newFixture()
	f.draft(t)

	items, _, err := f.svc.List(context.Background(), f.provider(),
		ListFilter{EncounterID: f.encounterID}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 note, got %d", len(items))
	}
}

func TestList_SingleViewAuditEvent(t *testing.T) {
	f := newFixture()
	f.draft(t)
	f.draft(t)
	before := len(f.audit.events)

	if _, _, err := f.svc.List(context.Background(), f.provider(),
		ListFilter{PatientID: f.patientID, Status: StatusDraft, Keyword: "headache"}, 20, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(f.audit.events) - before; got != 1 {
		t.Fatalf("expected exactly one view event per list, got %d", got)
	}

	meta := f.audit.events[len(f.audit.events)-1].Metadata
	if meta["patient_id"] != f.patientID.String() {
		t.Errorf("view event missing patient_id, got %v", meta)
	}
	if meta["status"] != string(StatusDraft) || meta["keyword"] != "headache" {
		t.Errorf("view event missing query filters, got %v", meta)
	}
	if meta["limit"] != "20" || meta["offset"] != "0" {
		t.Errorf("view event missing pagination, got %v", meta)
	}
}

func TestList_UnlinkedProviderForbidden(t *testing.T) {
	f := newFixture()
	f.draft(t)

	stranger := &auth.Actor{ID: uuid.NewString(), Role: auth.RoleProvider, ProviderStatus: auth.ProviderStatusApproved}
	_, _, err := f.svc.List(context.Background(), stranger, ListFilter{PatientID: f.patientID}, 20, 0)
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
}
