package auth

import "context"

type contextKey string

const actorKey contextKey = "actor"

// Role is the single role held by an authenticated identity. It is fixed for
// the lifetime of a request.
type Role string

const (
	RolePatient           Role = "patient"
	RoleClerk             Role = "clerk"
	RoleAdmin             Role = "admin"
	RoleProvider          Role = "provider"
	RoleProviderPending   Role = "provider_pending"
	RoleProviderReviewing Role = "provider_reviewing"
)

// ProviderStatusApproved marks a provider account that has cleared
// credential review.
const ProviderStatusApproved = "approved"

// Actor is the authenticated identity acting on a request.
type Actor struct {
	ID             string
	Role           Role
	ProviderStatus string
	TenantID       string
}

// IsProviderRole reports whether the role is any of the provider roles,
// approved or not.
func (a *Actor) IsProviderRole() bool {
	switch a.Role {
	case RoleProvider, RoleProviderPending, RoleProviderReviewing:
		return true
	}
	return false
}

// IsApprovedProvider reports whether the actor is a provider that has
// cleared credential review.
func (a *Actor) IsApprovedProvider() bool {
	return a.Role == RoleProvider && a.ProviderStatus == ProviderStatusApproved
}

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the actor from context, or nil when the request
// is unauthenticated.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorKey).(*Actor)
	return actor
}
