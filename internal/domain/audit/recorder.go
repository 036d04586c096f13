package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/auth"
)

// Recorder is the write path of the provenance ledger. Every clinical
// mutation and list access records exactly one event through it.
//
// Writes are best effort: a ledger failure is logged and swallowed rather
// than failing the clinical operation that triggered it. The trade-off is
// recorded in DESIGN.md.
type Recorder struct {
	repo   Repository
	logger zerolog.Logger
}

func NewRecorder(repo Repository, logger zerolog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Record appends one event. Metadata carries request context such as
// encounter or order ids; callers must never put clinical free text in it.
func (r *Recorder) Record(ctx context.Context, action Action, entityType, entityID string, actor *auth.Actor, metadata map[string]string) {
	ev := &Event{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Metadata:   metadata,
		Recorded:   time.Now().UTC(),
	}
	if actor != nil {
		ev.ActorID = actor.ID
		ev.ActorRole = string(actor.Role)
	}

	if err := r.repo.Insert(ctx, ev); err != nil {
		r.logger.Error().Err(err).
			Str("entity_type", entityType).
			Str("entity_id", entityID).
			Str("action", string(action)).
			Msg("audit write failed")
	}
}

// Service exposes the ledger's read side.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Event, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}
