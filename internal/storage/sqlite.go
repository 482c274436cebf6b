package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path with WAL mode enabled.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer, many readers — pool of 1 write conn + read conns.
	// However, to avoid "database is locked" errors with the current driver setup,
	// we strictly limit to 1 connection for now.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	// Additive migrations for existing databases.
	for _, m := range []string{
		`ALTER TABLE users ADD COLUMN is_admin INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE tokens ADD COLUMN refresh_token TEXT NOT NULL DEFAULT ''`,
	} {
		_, _ = s.db.Exec(m) // Ignore "duplicate column" errors.
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    token_identifier TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL DEFAULT '',
    last_login_at INTEGER,
    is_admin INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    likes INTEGER NOT NULL DEFAULT 0 CHECK (likes >= 0),
    user_id TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
    token_hash TEXT PRIMARY KEY,
    token_identifier TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    public_metadata TEXT DEFAULT '{}',
    private_metadata TEXT DEFAULT '{}',
    refresh_token TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    last_used_at INTEGER,
    expires_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_questions_created ON questions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_questions_user ON questions(user_id);
CREATE INDEX IF NOT EXISTS idx_tokens_identifier ON tokens(token_identifier);
`

// --- Users ---

// EnsureUser finds or creates the directory record for a token identifier and
// refreshes its email, admin flag and last-login timestamp.
func (s *SQLiteStore) EnsureUser(ctx context.Context, tokenIdentifier, email string, isAdmin bool) (*User, error) {
	now := time.Now().Unix()
	admin := 0
	if isAdmin {
		admin = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, token_identifier, email, last_login_at, is_admin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(token_identifier) DO UPDATE SET email=excluded.email, last_login_at=excluded.last_login_at, is_admin=excluded.is_admin`,
		uuid.NewString(), tokenIdentifier, email, now, admin, now)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return s.GetUserByTokenIdentifier(ctx, tokenIdentifier)
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, token_identifier, email, last_login_at, is_admin, created_at FROM users WHERE id=?`, id)
	return scanUserRow(row)
}

func (s *SQLiteStore) GetUserByTokenIdentifier(ctx context.Context, tokenIdentifier string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, token_identifier, email, last_login_at, is_admin, created_at FROM users WHERE token_identifier=?`,
		tokenIdentifier)
	return scanUserRow(row)
}

func scanUserRow(row *sql.Row) (*User, error) {
	u := &User{}
	var lastLoginAt *int64
	var isAdmin int
	var createdAt int64
	err := row.Scan(&u.ID, &u.TokenIdentifier, &u.Email, &lastLoginAt, &isAdmin, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastLoginAt != nil {
		t := time.Unix(*lastLoginAt, 0)
		u.LastLoginAt = &t
	}
	u.IsAdmin = isAdmin != 0
	u.CreatedAt = time.Unix(createdAt, 0)
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, token_identifier, email, last_login_at, is_admin, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var lastLoginAt *int64
		var isAdmin int
		var createdAt int64
		if err := rows.Scan(&u.ID, &u.TokenIdentifier, &u.Email, &lastLoginAt, &isAdmin, &createdAt); err != nil {
			return nil, err
		}
		if lastLoginAt != nil {
			t := time.Unix(*lastLoginAt, 0)
			u.LastLoginAt = &t
		}
		u.IsAdmin = isAdmin != 0
		u.CreatedAt = time.Unix(createdAt, 0)
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserAdmin updates the cached admin flag for display. The identity
// provider's metadata remains the authority for access decisions.
func (s *SQLiteStore) SetUserAdmin(ctx context.Context, id string, isAdmin bool) error {
	admin := 0
	if isAdmin {
		admin = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_admin=? WHERE id=?`, admin, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a directory record. Questions posted by the user are
// kept; their owner lookup resolves to no email afterwards.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Questions ---

func (s *SQLiteStore) CreateQuestion(ctx context.Context, q *Question) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (id, text, likes, user_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		q.ID, q.Text, q.Likes, q.UserID, q.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetQuestion(ctx context.Context, id string) (*Question, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, likes, user_id, created_at FROM questions WHERE id=?`, id)

	q := &Question{}
	var createdAt int64
	err := row.Scan(&q.ID, &q.Text, &q.Likes, &q.UserID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	q.CreatedAt = time.Unix(createdAt, 0)
	return q, nil
}

func (s *SQLiteStore) ListQuestions(ctx context.Context) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, likes, user_id, created_at FROM questions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		var createdAt int64
		if err := rows.Scan(&q.ID, &q.Text, &q.Likes, &q.UserID, &createdAt); err != nil {
			return nil, err
		}
		q.CreatedAt = time.Unix(createdAt, 0)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ListQuestionsWithOwner joins each question against the directory. Questions
// whose owner was deleted come back with a nil owner email.
func (s *SQLiteStore) ListQuestionsWithOwner(ctx context.Context) ([]QuestionWithOwner, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.id, q.text, q.likes, q.user_id, q.created_at, u.email
		 FROM questions q LEFT JOIN users u ON u.id = q.user_id
		 ORDER BY q.created_at DESC, q.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []QuestionWithOwner
	for rows.Next() {
		var q QuestionWithOwner
		var createdAt int64
		if err := rows.Scan(&q.ID, &q.Text, &q.Likes, &q.UserID, &createdAt, &q.OwnerEmail); err != nil {
			return nil, err
		}
		q.CreatedAt = time.Unix(createdAt, 0)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// LikeQuestion increments the like counter in place and returns the new
// count. The relative increment keeps concurrent likes from losing updates.
func (s *SQLiteStore) LikeQuestion(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE questions SET likes = likes + 1 WHERE id=?`, id)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}

	var likes int
	if err := s.db.QueryRowContext(ctx, `SELECT likes FROM questions WHERE id=?`, id).Scan(&likes); err != nil {
		return 0, err
	}
	return likes, nil
}

func (s *SQLiteStore) DeleteQuestion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Tokens ---

func (s *SQLiteStore) CreateToken(ctx context.Context, t *Token) error {
	var expiresAt *int64
	if t.ExpiresAt != nil {
		e := t.ExpiresAt.Unix()
		expiresAt = &e
	}
	publicJSON, _ := json.Marshal(t.PublicMetadata)
	privateJSON, _ := json.Marshal(t.PrivateMetadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (token_hash, token_identifier, email, public_metadata, private_metadata, refresh_token, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TokenHash, t.TokenIdentifier, t.Email, string(publicJSON), string(privateJSON),
		t.RefreshToken, time.Now().Unix(), expiresAt)
	return err
}

func (s *SQLiteStore) GetToken(ctx context.Context, tokenHash string) (*Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token_hash, token_identifier, email, public_metadata, private_metadata, refresh_token, created_at, last_used_at, expires_at
		 FROM tokens WHERE token_hash=?`, tokenHash)

	t := &Token{}
	var publicJSON, privateJSON string
	var createdAt int64
	var lastUsedAt, expiresAt *int64
	err := row.Scan(&t.TokenHash, &t.TokenIdentifier, &t.Email, &publicJSON, &privateJSON,
		&t.RefreshToken, &createdAt, &lastUsedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(publicJSON), &t.PublicMetadata); err != nil {
		slog.Warn("failed to unmarshal token public metadata", "token_identifier", t.TokenIdentifier, "error", err)
	}
	if err := json.Unmarshal([]byte(privateJSON), &t.PrivateMetadata); err != nil {
		slog.Warn("failed to unmarshal token private metadata", "token_identifier", t.TokenIdentifier, "error", err)
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	if lastUsedAt != nil {
		lu := time.Unix(*lastUsedAt, 0)
		t.LastUsedAt = &lu
	}
	if expiresAt != nil {
		ea := time.Unix(*expiresAt, 0)
		t.ExpiresAt = &ea
	}
	return t, nil
}

func (s *SQLiteStore) TouchToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET last_used_at=? WHERE token_hash=?`,
		time.Now().Unix(), tokenHash)
	return err
}

// UpdateTokenIdentity refreshes the identity snapshot stored with a token
// after a successful revalidation against the identity provider.
func (s *SQLiteStore) UpdateTokenIdentity(ctx context.Context, tokenHash, email string, publicMetadata, privateMetadata map[string]any) error {
	publicJSON, _ := json.Marshal(publicMetadata)
	privateJSON, _ := json.Marshal(privateMetadata)
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET email=?, public_metadata=?, private_metadata=? WHERE token_hash=?`,
		email, string(publicJSON), string(privateJSON), tokenHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE token_hash=?`, tokenHash)
	return err
}

// DeleteTokensByTokenIdentifier revokes every token issued to an identity.
// Used when an admin deletes a user from the directory.
func (s *SQLiteStore) DeleteTokensByTokenIdentifier(ctx context.Context, tokenIdentifier string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE token_identifier=?`, tokenIdentifier)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Stats ---

func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) CountQuestions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&n)
	return n, err
}

// --- Backup ---

// Backup creates a consistent backup of the database at destPath using VACUUM INTO.
func (s *SQLiteStore) Backup(ctx context.Context, destPath string) error {
	_, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath)
	return err
}
