package api

// --- Path param mixins ---

// QuestionParams contains the question path parameter.
type QuestionParams struct {
	QuestionID string `path:"questionId" doc:"Question ID"`
}

// UserParams contains the user path parameter.
type UserParams struct {
	UserID string `path:"userId" doc:"User ID"`
}

// --- Reusable sub-types ---

// UserProfile describes the calling user.
type UserProfile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	IsAdmin     bool   `json:"isAdmin"`
	LastLoginAt *int64 `json:"lastLoginAt,omitempty"`
}

// QuestionInfo is a question entry in list and create responses.
type QuestionInfo struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Likes     int    `json:"likes"`
	CreatedAt int64  `json:"createdAt"`
	Mine      bool   `json:"mine"`
}

// AdminUserInfo is a directory entry in the admin user listing. IsAdmin
// reflects the identity provider's role when a live lookup succeeds,
// otherwise the directory's cached flag.
type AdminUserInfo struct {
	ID              string `json:"id"`
	TokenIdentifier string `json:"tokenIdentifier"`
	Email           string `json:"email"`
	IsAdmin         bool   `json:"isAdmin"`
	LastLoginAt     *int64 `json:"lastLoginAt,omitempty"`
}

// AdminQuestionInfo is a question entry in the admin question listing. The
// owner email is nil when the posting user was deleted from the directory.
type AdminQuestionInfo struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Likes      int     `json:"likes"`
	CreatedAt  int64   `json:"createdAt"`
	UserID     string  `json:"userId"`
	OwnerEmail *string `json:"ownerEmail,omitempty"`
}

// --- Operation inputs/outputs ---

// HealthCheckOutput is the health check response.
type HealthCheckOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// TokenExchangeInput carries a provider ID token for exchange.
type TokenExchangeInput struct {
	Body struct {
		IDToken string `json:"idToken"`
	}
}

// TokenExchangeOutput returns the backend access token.
type TokenExchangeOutput struct {
	Body struct {
		Token     string `json:"token"`
		Email     string `json:"email"`
		ExpiresAt int64  `json:"expiresAt"`
	}
}

// GetCurrentUserOutput is the current-user profile response.
type GetCurrentUserOutput struct {
	Body UserProfile
}

// GetCurrentUserRoleOutput answers the caller's admin check.
type GetCurrentUserRoleOutput struct {
	Body struct {
		IsAdmin bool `json:"isAdmin"`
	}
}

// ListQuestionsOutput is the question feed response.
type ListQuestionsOutput struct {
	Body struct {
		Questions []QuestionInfo `json:"questions"`
	}
}

// CreateQuestionInput carries a new question's text.
type CreateQuestionInput struct {
	Body struct {
		Text string `json:"text"`
	}
}

// CreateQuestionOutput returns the created question.
type CreateQuestionOutput struct {
	Body QuestionInfo
}

// LikeQuestionInput identifies the question to like.
type LikeQuestionInput struct {
	QuestionParams
}

// LikeQuestionOutput returns the question's new like count.
type LikeQuestionOutput struct {
	Body struct {
		ID    string `json:"id"`
		Likes int    `json:"likes"`
	}
}

// DeleteQuestionInput identifies the question to delete.
type DeleteQuestionInput struct {
	QuestionParams
}

// ListAdminUsersOutput is the admin user directory response.
type ListAdminUsersOutput struct {
	Body struct {
		Users []AdminUserInfo `json:"users"`
	}
}

// SetUserRoleInput carries an admin role change for a user.
type SetUserRoleInput struct {
	UserParams
	Body struct {
		IsAdmin bool `json:"isAdmin"`
	}
}

// SetUserRoleOutput returns the user after the role change was applied.
type SetUserRoleOutput struct {
	Body AdminUserInfo
}

// DeleteUserInput identifies the user to remove from the directory.
type DeleteUserInput struct {
	UserParams
}

// ListAdminQuestionsOutput is the admin question listing response.
type ListAdminQuestionsOutput struct {
	Body struct {
		Questions []AdminQuestionInfo `json:"questions"`
	}
}

// BackupOutput reports a completed on-demand backup.
type BackupOutput struct {
	Body struct {
		Status    string `json:"status"`
		Location  string `json:"location,omitempty"`
		SizeBytes int64  `json:"sizeBytes,omitempty"`
	}
}
