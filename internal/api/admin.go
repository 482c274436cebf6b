package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/dumb-questions/internal/audit"
	"github.com/hatemosphere/dumb-questions/internal/auth"
	"github.com/hatemosphere/dumb-questions/internal/storage"
)

// roleChange is the instruction produced by planning a role update: which
// provider subject to change, and to what role. Planning is separated from
// applying so the provider write happens exactly once and its failure maps
// cleanly to a 502 without touching local state.
type roleChange struct {
	Subject string
	Role    auth.Role
}

// planRoleChange computes the provider-side instruction for a role update.
func planRoleChange(user *storage.User, makeAdmin bool) roleChange {
	role := auth.RoleUser
	if makeAdmin {
		role = auth.RoleAdmin
	}
	return roleChange{
		Subject: subjectFromTokenIdentifier(user.TokenIdentifier),
		Role:    role,
	}
}

// applyRoleChange forwards the instruction to the identity provider. The
// provider is the role authority: nothing local changes unless this succeeds.
func (s *Server) applyRoleChange(ctx context.Context, rc roleChange) error {
	if s.roleUpdater == nil {
		return huma.NewError(http.StatusNotImplemented, "role management is not configured")
	}
	if err := s.roleUpdater.SetRole(ctx, rc.Subject, rc.Role); err != nil {
		slog.Error("provider role update failed", "subject", rc.Subject, "role", rc.Role, "error", err)
		return upstreamError("identity provider rejected the role change")
	}
	return nil
}

func (s *Server) registerAdmin(api huma.API) {
	// --- List users ---
	huma.Register(api, huma.Operation{
		OperationID: "listAdminUsers",
		Method:      http.MethodGet,
		Path:        "/api/admin/users",
		Tags:        []string{"Admin"},
		Errors:      []int{403},
	}, func(ctx context.Context, input *struct{}) (*ListAdminUsersOutput, error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}

		users, err := s.store.ListUsers(ctx)
		if err != nil {
			return nil, internalError(err)
		}

		out := &ListAdminUsersOutput{}
		out.Body.Users = make([]AdminUserInfo, 0, len(users))
		for _, u := range users {
			info := AdminUserInfo{
				ID:              u.ID,
				TokenIdentifier: u.TokenIdentifier,
				Email:           u.Email,
				IsAdmin:         u.IsAdmin,
			}
			if u.LastLoginAt != nil {
				t := u.LastLoginAt.Unix()
				info.LastLoginAt = &t
			}
			// Prefer the provider's live role over the cached flag; fall
			// back silently when the provider is unreachable.
			if s.roleCache != nil {
				role, err := s.roleCache.FetchRole(ctx, subjectFromTokenIdentifier(u.TokenIdentifier))
				if err == nil {
					info.IsAdmin = role == auth.RoleAdmin
				} else {
					slog.Warn("live role lookup failed, using cached flag",
						"token_identifier", u.TokenIdentifier, "error", err)
				}
			}
			out.Body.Users = append(out.Body.Users, info)
		}
		return out, nil
	})

	// --- Change a user's role ---
	huma.Register(api, huma.Operation{
		OperationID: "setUserRole",
		Method:      http.MethodPut,
		Path:        "/api/admin/users/{userId}/role",
		Tags:        []string{"Admin"},
		Errors:      []int{400, 403, 404, 502},
	}, func(ctx context.Context, input *SetUserRoleInput) (*SetUserRoleOutput, error) {
		identity, err := requireAdmin(ctx)
		if err != nil {
			return nil, err
		}

		target, err := s.store.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, internalError(err)
		}
		if target == nil {
			return nil, notFound("user not found")
		}
		if target.TokenIdentifier == identity.TokenIdentifier {
			return nil, huma.NewError(http.StatusBadRequest, "cannot change your own role")
		}

		rc := planRoleChange(target, input.Body.IsAdmin)
		if err := s.applyRoleChange(ctx, rc); err != nil {
			return nil, err
		}

		// Provider accepted the change: update the display cache.
		if err := s.store.SetUserAdmin(ctx, target.ID, input.Body.IsAdmin); err != nil {
			// The authoritative change went through; a stale cache heals on
			// the user's next login.
			slog.Warn("failed to update cached admin flag", "user_id", target.ID, "error", err)
		}
		if s.roleCache != nil {
			s.roleCache.Put(rc.Subject, rc.Role)
		}

		audit.Event{
			Actor:      identity.TokenIdentifier,
			Action:     "setUserRole",
			Status:     "granted",
			TargetUser: target.TokenIdentifier,
			Extra:      []any{slog.String("new_role", string(rc.Role))},
		}.Info("Audit Log: Role Change")

		out := &SetUserRoleOutput{}
		out.Body = AdminUserInfo{
			ID:              target.ID,
			TokenIdentifier: target.TokenIdentifier,
			Email:           target.Email,
			IsAdmin:         input.Body.IsAdmin,
		}
		if target.LastLoginAt != nil {
			t := target.LastLoginAt.Unix()
			out.Body.LastLoginAt = &t
		}
		return out, nil
	})

	// --- Delete a user ---
	huma.Register(api, huma.Operation{
		OperationID:   "deleteAdminUser",
		Method:        http.MethodDelete,
		Path:          "/api/admin/users/{userId}",
		Tags:          []string{"Admin"},
		DefaultStatus: 204,
		Errors:        []int{400, 403, 404},
	}, func(ctx context.Context, input *DeleteUserInput) (*struct{}, error) {
		identity, err := requireAdmin(ctx)
		if err != nil {
			return nil, err
		}

		target, err := s.store.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, internalError(err)
		}
		if target == nil {
			return nil, notFound("user not found")
		}
		if target.TokenIdentifier == identity.TokenIdentifier {
			return nil, huma.NewError(http.StatusBadRequest, "cannot delete your own account")
		}

		if err := s.store.DeleteUser(ctx, target.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, notFound("user not found")
			}
			return nil, internalError(err)
		}

		// Revoke every backend token issued to the deleted identity.
		if n, err := s.store.DeleteTokensByTokenIdentifier(ctx, target.TokenIdentifier); err != nil {
			slog.Warn("failed to revoke tokens for deleted user",
				"token_identifier", target.TokenIdentifier, "error", err)
		} else if n > 0 {
			slog.Info("revoked tokens for deleted user",
				"token_identifier", target.TokenIdentifier, "count", n)
		}

		audit.Event{
			Actor:      identity.TokenIdentifier,
			Action:     "deleteAdminUser",
			Status:     "granted",
			TargetUser: target.TokenIdentifier,
		}.Info("Audit Log: User Deleted")

		return nil, nil
	})

	// --- List questions with owners ---
	huma.Register(api, huma.Operation{
		OperationID: "listAdminQuestions",
		Method:      http.MethodGet,
		Path:        "/api/admin/questions",
		Tags:        []string{"Admin"},
		Errors:      []int{403},
	}, func(ctx context.Context, input *struct{}) (*ListAdminQuestionsOutput, error) {
		if _, err := requireAdmin(ctx); err != nil {
			return nil, err
		}

		questions, err := s.store.ListQuestionsWithOwner(ctx)
		if err != nil {
			return nil, internalError(err)
		}

		out := &ListAdminQuestionsOutput{}
		out.Body.Questions = make([]AdminQuestionInfo, 0, len(questions))
		for _, q := range questions {
			out.Body.Questions = append(out.Body.Questions, AdminQuestionInfo{
				ID:         q.ID,
				Text:       q.Text,
				Likes:      q.Likes,
				CreatedAt:  q.CreatedAt.Unix(),
				UserID:     q.UserID,
				OwnerEmail: q.OwnerEmail,
			})
		}
		return out, nil
	})

	// --- Delete a question ---
	huma.Register(api, huma.Operation{
		OperationID:   "deleteAdminQuestion",
		Method:        http.MethodDelete,
		Path:          "/api/admin/questions/{questionId}",
		Tags:          []string{"Admin"},
		DefaultStatus: 204,
		Errors:        []int{403, 404},
	}, func(ctx context.Context, input *DeleteQuestionInput) (*struct{}, error) {
		identity, err := requireAdmin(ctx)
		if err != nil {
			return nil, err
		}

		if err := s.store.DeleteQuestion(ctx, input.QuestionID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, notFound("question not found")
			}
			return nil, internalError(err)
		}

		audit.Event{
			Actor:          identity.TokenIdentifier,
			Action:         "deleteAdminQuestion",
			Status:         "granted",
			TargetQuestion: input.QuestionID,
		}.Info("Audit Log: Question Deleted")

		return nil, nil
	})

	// --- On-demand backup ---
	if s.backupRunner != nil {
		huma.Register(api, huma.Operation{
			OperationID: "runBackup",
			Method:      http.MethodPost,
			Path:        "/api/admin/backup",
			Tags:        []string{"Admin"},
			Errors:      []int{403},
		}, func(ctx context.Context, input *struct{}) (*BackupOutput, error) {
			if _, err := requireAdmin(ctx); err != nil {
				return nil, err
			}

			location, size, err := s.backupRunner.RunOnce(ctx)
			if err != nil {
				return nil, internalError(err)
			}

			out := &BackupOutput{}
			out.Body.Status = "ok"
			out.Body.Location = location
			out.Body.SizeBytes = size
			return out, nil
		})
	}
}
