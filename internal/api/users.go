package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/dumb-questions/internal/auth"
)

func (s *Server) registerUser(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getCurrentUser",
		Method:      http.MethodGet,
		Path:        "/api/user",
		Tags:        []string{"User"},
	}, func(ctx context.Context, input *struct{}) (*GetCurrentUserOutput, error) {
		identity, err := requireIdentity(ctx)
		if err != nil {
			return nil, err
		}
		user, err := s.ensureUserRecord(ctx, identity)
		if err != nil {
			return nil, err
		}

		out := &GetCurrentUserOutput{}
		out.Body.ID = user.ID
		out.Body.Email = user.Email
		// Role comes from the identity token, not the directory row.
		out.Body.IsAdmin = auth.IsAdmin(identity)
		if user.LastLoginAt != nil {
			t := user.LastLoginAt.Unix()
			out.Body.LastLoginAt = &t
		}
		return out, nil
	})

	// Explicit find-or-create for clients that want to register the directory
	// record up front instead of relying on the lazy upsert.
	huma.Register(api, huma.Operation{
		OperationID: "storeUser",
		Method:      http.MethodPost,
		Path:        "/api/user/store",
		Tags:        []string{"User"},
	}, func(ctx context.Context, input *struct{}) (*GetCurrentUserOutput, error) {
		identity, err := requireIdentity(ctx)
		if err != nil {
			return nil, err
		}
		user, err := s.store.EnsureUser(ctx, identity.TokenIdentifier, identity.Email, auth.IsAdmin(identity))
		if err != nil {
			return nil, internalError(err)
		}

		out := &GetCurrentUserOutput{}
		out.Body.ID = user.ID
		out.Body.Email = user.Email
		out.Body.IsAdmin = auth.IsAdmin(identity)
		if user.LastLoginAt != nil {
			t := user.LastLoginAt.Unix()
			out.Body.LastLoginAt = &t
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getCurrentUserRole",
		Method:      http.MethodGet,
		Path:        "/api/user/role",
		Tags:        []string{"User"},
	}, func(ctx context.Context, input *struct{}) (*GetCurrentUserRoleOutput, error) {
		identity, err := requireIdentity(ctx)
		if err != nil {
			return nil, err
		}
		out := &GetCurrentUserRoleOutput{}
		out.Body.IsAdmin = auth.IsAdmin(identity)
		return out, nil
	})
}
