package audit

import (
	"context"
)

type Repository interface {
	// Insert appends one event. There is deliberately no update or delete.
	Insert(ctx context.Context, ev *Event) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Event, int, error)
}
