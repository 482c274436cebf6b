package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a mutation targets a row that does not exist.
var ErrNotFound = errors.New("not found")

// User represents a directory record for an authenticated person.
// IsAdmin mirrors the identity provider's role for display purposes only;
// authorization decisions never read it.
type User struct {
	ID              string
	TokenIdentifier string
	Email           string
	LastLoginAt     *time.Time
	IsAdmin         bool
	CreatedAt       time.Time
}

// Question represents a posted question.
type Question struct {
	ID        string
	Text      string
	Likes     int
	UserID    string
	CreatedAt time.Time
}

// QuestionWithOwner pairs a question with its owner's email, if the owner
// still exists in the directory.
type QuestionWithOwner struct {
	Question
	OwnerEmail *string
}

// Token represents a backend API token issued after an identity-provider login.
// The identity metadata is snapshotted at issue time and refreshed on
// revalidation.
type Token struct {
	TokenHash       string
	TokenIdentifier string
	Email           string
	PublicMetadata  map[string]any
	PrivateMetadata map[string]any
	RefreshToken    string //nolint:gosec // field name, not a credential
	CreatedAt       time.Time
	LastUsedAt      *time.Time
	ExpiresAt       *time.Time
}

// Store is the storage interface for the backend.
type Store interface {
	// Lifecycle
	Close() error

	// Users
	EnsureUser(ctx context.Context, tokenIdentifier, email string, isAdmin bool) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByTokenIdentifier(ctx context.Context, tokenIdentifier string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	SetUserAdmin(ctx context.Context, id string, isAdmin bool) error
	DeleteUser(ctx context.Context, id string) error

	// Questions
	CreateQuestion(ctx context.Context, q *Question) error
	GetQuestion(ctx context.Context, id string) (*Question, error)
	ListQuestions(ctx context.Context) ([]Question, error)
	ListQuestionsWithOwner(ctx context.Context) ([]QuestionWithOwner, error)
	LikeQuestion(ctx context.Context, id string) (int, error)
	DeleteQuestion(ctx context.Context, id string) error

	// Tokens
	CreateToken(ctx context.Context, t *Token) error
	GetToken(ctx context.Context, tokenHash string) (*Token, error)
	TouchToken(ctx context.Context, tokenHash string) error
	UpdateTokenIdentity(ctx context.Context, tokenHash, email string, publicMetadata, privateMetadata map[string]any) error
	DeleteToken(ctx context.Context, tokenHash string) error
	DeleteTokensByTokenIdentifier(ctx context.Context, tokenIdentifier string) (int64, error)

	// Stats
	CountUsers(ctx context.Context) (int, error)
	CountQuestions(ctx context.Context) (int, error)

	// Backup creates a consistent backup of the database at destPath using VACUUM INTO.
	Backup(ctx context.Context, destPath string) error
}
