package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/dumb-questions/internal/auth"
	"github.com/hatemosphere/dumb-questions/internal/storage"
)

// requireIdentity returns the authenticated identity from the request context
// or a 401 error. The auth middleware rejects unauthenticated requests before
// handlers run, so a nil identity here means a wiring bug, but handlers still
// check to keep the failure mode a clean 401 rather than a panic.
func requireIdentity(ctx context.Context) (*auth.Identity, error) {
	identity := auth.IdentityFromContext(ctx)
	if identity == nil {
		return nil, huma.NewError(http.StatusUnauthorized, "authentication required")
	}
	return identity, nil
}

// requireAdmin returns the authenticated identity if it carries the admin
// role, 403 otherwise. The role is read from the identity token's private
// metadata only; the directory's is_admin column is never consulted.
func requireAdmin(ctx context.Context) (*auth.Identity, error) {
	identity, err := requireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if !auth.IsAdmin(identity) {
		return nil, huma.NewError(http.StatusForbidden, "admin role required")
	}
	return identity, nil
}

// currentUser resolves the authenticated identity to its directory record.
// Returns nil without error when the identity has never logged in through the
// directory-creating path.
func (s *Server) currentUser(ctx context.Context) (*storage.User, error) {
	identity, err := requireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByTokenIdentifier(ctx, identity.TokenIdentifier)
	if err != nil {
		return nil, internalError(err)
	}
	return user, nil
}

// ensureCurrentUser resolves the authenticated identity to its directory
// record, creating it if this identity has no row yet. The jwt auth mode has
// no login endpoint, so the first authenticated call creates the record.
func (s *Server) ensureCurrentUser(ctx context.Context) (*storage.User, error) {
	identity, err := requireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	return s.ensureUserRecord(ctx, identity)
}

// ensureUserRecord is ensureCurrentUser for callers that already hold the
// identity, so the guard runs once.
func (s *Server) ensureUserRecord(ctx context.Context, identity *auth.Identity) (*storage.User, error) {
	user, err := s.store.GetUserByTokenIdentifier(ctx, identity.TokenIdentifier)
	if err != nil {
		return nil, internalError(err)
	}
	if user != nil {
		return user, nil
	}
	user, err = s.store.EnsureUser(ctx, identity.TokenIdentifier, identity.Email, auth.IsAdmin(identity))
	if err != nil {
		return nil, internalError(err)
	}
	return user, nil
}
