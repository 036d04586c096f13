package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/cache"
	"github.com/carelink/carelink/internal/platform/db"
)

type Service struct {
	links    Repository
	recorder *audit.Recorder
	cache    *cache.Cache
}

// NewService wires the link repository with the audit recorder and an
// optional read cache. The cache only accelerates the list endpoints;
// authorization always goes through the Guard, which bypasses it.
func NewService(links Repository, recorder *audit.Recorder, c *cache.Cache) *Service {
	return &Service{links: links, recorder: recorder, cache: c}
}

// linkPage is the cached shape of one list response.
type linkPage struct {
	Items []*ProviderPatientLink `json:"items"`
	Total int                    `json:"total"`
}

func providerListKey(providerID uuid.UUID, status string, limit, offset int) string {
	return fmt.Sprintf("links:provider:%s:%s:%d:%d", providerID, status, limit, offset)
}

func patientListKey(patientID uuid.UUID, status string, limit, offset int) string {
	return fmt.Sprintf("links:patient:%s:%s:%d:%d", patientID, status, limit, offset)
}

// dropCachedPages discards list pages touching the pair after a mutation so
// staleness is bounded by the mutation, not the TTL.
func (s *Service) dropCachedPages(ctx context.Context, providerID, patientID uuid.UUID) {
	tenant := db.TenantFromContext(ctx)
	s.cache.Invalidate(ctx, tenant, "links:provider:"+providerID.String()+":")
	s.cache.Invalidate(ctx, tenant, "links:patient:"+patientID.String()+":")
}

// RequestConnection creates a pending link between a provider and a patient.
// The returned created flag is accurate: an existing link in any status is
// returned as-is rather than silently re-upserted, and only a genuinely new
// link produces a create audit event.
func (s *Service) RequestConnection(ctx context.Context, actor *auth.Actor, providerID, patientID uuid.UUID, category string) (*ProviderPatientLink, bool, error) {
	if actor == nil {
		return nil, false, apperr.Unauthorized("authentication required")
	}
	if providerID == uuid.Nil || patientID == uuid.Nil {
		return nil, false, apperr.Validation("provider_id and patient_id are required")
	}
	if category == "" {
		category = CategoryReferral
	}
	if !ValidCategory(category) {
		return nil, false, apperr.Validation("invalid category: " + category)
	}
	// Providers may only request links for themselves.
	if actor.IsProviderRole() && actor.ID != providerID.String() {
		return nil, false, apperr.Forbidden()
	}
	if actor.Role == auth.RolePatient {
		return nil, false, apperr.Forbidden()
	}

	existing, err := s.links.GetByPair(ctx, providerID, patientID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, apperr.Internal(err)
	}

	link := &ProviderPatientLink{
		ProviderID: providerID,
		PatientID:  patientID,
		Category:   category,
		Status:     StatusPending,
	}
	if err := s.links.Create(ctx, link); err != nil {
		return nil, false, apperr.Internal(err)
	}
	s.dropCachedPages(ctx, providerID, patientID)

	s.recorder.Record(ctx, audit.ActionCreate, "provider_patient_link", link.ID.String(), actor,
		map[string]string{
			"provider_id": providerID.String(),
			"patient_id":  patientID.String(),
			"category":    category,
		})
	return link, true, nil
}

// Approve moves a pending link to approved. Staff only; providers cannot
// approve their own access.
func (s *Service) Approve(ctx context.Context, actor *auth.Actor, linkID uuid.UUID) (*ProviderPatientLink, error) {
	if actor == nil {
		return nil, apperr.Unauthorized("authentication required")
	}
	if actor.Role != auth.RoleAdmin && actor.Role != auth.RoleClerk {
		return nil, apperr.Forbidden()
	}

	link, err := s.links.GetByID(ctx, linkID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("connection")
		}
		return nil, apperr.Internal(err)
	}
	if link.Status == StatusApproved {
		return link, nil
	}

	if err := s.links.UpdateStatus(ctx, linkID, StatusApproved); err != nil {
		return nil, apperr.Internal(err)
	}
	link.Status = StatusApproved
	s.dropCachedPages(ctx, link.ProviderID, link.PatientID)

	s.recorder.Record(ctx, audit.ActionUpdate, "provider_patient_link", link.ID.String(), actor,
		map[string]string{"status": StatusApproved})
	return link, nil
}

func (s *Service) ListByProvider(ctx context.Context, actor *auth.Actor, providerID uuid.UUID, status string, limit, offset int) ([]*ProviderPatientLink, int, error) {
	if actor == nil {
		return nil, 0, apperr.Unauthorized("authentication required")
	}
	if status != "" && !ValidStatus(status) {
		return nil, 0, apperr.Validation("invalid status: " + status)
	}
	// Providers see only their own links.
	if actor.IsProviderRole() && actor.ID != providerID.String() {
		return nil, 0, apperr.Forbidden()
	}
	if actor.Role == auth.RolePatient {
		return nil, 0, apperr.Forbidden()
	}

	tenant := db.TenantFromContext(ctx)
	key := providerListKey(providerID, status, limit, offset)
	var page linkPage
	if s.cache.GetJSON(ctx, tenant, key, &page) {
		return page.Items, page.Total, nil
	}

	items, total, err := s.links.ListByProvider(ctx, providerID, status, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	s.cache.SetJSON(ctx, tenant, key, linkPage{Items: items, Total: total})
	return items, total, nil
}

func (s *Service) ListByPatient(ctx context.Context, actor *auth.Actor, patientID uuid.UUID, status string, limit, offset int) ([]*ProviderPatientLink, int, error) {
	if actor == nil {
		return nil, 0, apperr.Unauthorized("authentication required")
	}
	if status != "" && !ValidStatus(status) {
		return nil, 0, apperr.Validation("invalid status: " + status)
	}
	// Patients see only their own care network.
	if actor.Role == auth.RolePatient && actor.ID != patientID.String() {
		return nil, 0, apperr.Forbidden()
	}

	tenant := db.TenantFromContext(ctx)
	key := patientListKey(patientID, status, limit, offset)
	var page linkPage
	if s.cache.GetJSON(ctx, tenant, key, &page) {
		return page.Items, page.Total, nil
	}

	items, total, err := s.links.ListByPatient(ctx, patientID, status, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	s.cache.SetJSON(ctx, tenant, key, linkPage{Items: items, Total: total})
	return items, total, nil
}
