package auth

import "context"

// Identity represents the authenticated caller as asserted by the identity
// provider for a single request. It is never persisted by this service; the
// user directory keeps its own record keyed by TokenIdentifier.
type Identity struct {
	Subject         string         // provider-issued stable subject ID
	TokenIdentifier string         // "<provider>:<subject>", the directory join key
	Email           string
	PublicMetadata  map[string]any // provider metadata visible to the end user
	PrivateMetadata map[string]any // server-only provider metadata; carries the role claim
}

type contextKey struct{}

// WithIdentity stores an Identity in the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context.
// Returns nil if the request is unauthenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
