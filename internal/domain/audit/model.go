package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action is the closed set of auditable actions.
type Action string

const (
	ActionView     Action = "view"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionFinalize Action = "finalize"
)

// Event is one immutable row in the provenance ledger. There is no update
// or delete path anywhere in the repository; rows only accumulate.
type Event struct {
	ID         uuid.UUID         `db:"id" json:"id"`
	EntityType string            `db:"entity_type" json:"entity_type"`
	EntityID   string            `db:"entity_id" json:"entity_id"`
	Action     Action            `db:"action" json:"action"`
	ActorID    string            `db:"actor_id" json:"actor_id"`
	ActorRole  string            `db:"actor_role" json:"actor_role"`
	Metadata   map[string]string `db:"metadata" json:"metadata"`
	Recorded   time.Time         `db:"recorded" json:"recorded"`
}
