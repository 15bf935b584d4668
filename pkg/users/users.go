// Package users provides the relational user repository. Uniqueness of
// email and username is enforced by database constraints; violations are
// surfaced as ErrUserExists so the service layer can map them to a
// conflict without a racy pre-check.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/commune-chat/commune/pkg/tokens"
)

var (
	// ErrNotFound reports an absent user.
	ErrNotFound = errors.New("user not found")
	// ErrUserExists reports a unique-constraint violation on email or username.
	ErrUserExists = errors.New("user already exists")
)

// User is the identity record.
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	EmailConfirmed bool      `json:"email_confirmed"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Repository is the user persistence contract consumed by the auth
// service and the session middleware.
type Repository interface {
	Insert(ctx context.Context, username, email, passwordHash string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByEmailOrUsername(ctx context.Context, identity string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error
	UpdateEmailConfirmed(ctx context.Context, id int64, confirmed bool) error
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// Insert creates a user row with email_confirmed = false. The email is
// normalized before storage so the unique constraint sees one casing.
func (r *PostgresRepository) Insert(ctx context.Context, username, email, passwordHash string) (*User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, email_confirmed, created_at, updated_at)
		VALUES ($1, $2, $3, false, NOW(), NOW())
		RETURNING id, username, email, password_hash, email_confirmed, created_at, updated_at
	`
	user := &User{}
	err := r.db.QueryRowContext(ctx, query, username, tokens.NormalizeEmail(email), passwordHash).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.EmailConfirmed, &user.CreatedAt, &user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return user, nil
}

const userColumns = `id, username, email, password_hash, email_confirmed, created_at, updated_at`

func (r *PostgresRepository) scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.EmailConfirmed, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

// FindByID retrieves a user by id
func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// FindByEmail retrieves a user by normalized email
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, tokens.NormalizeEmail(email)))
}

// FindByEmailOrUsername resolves a login identity, which may be either
// an email or a username, in a single query.
func (r *PostgresRepository) FindByEmailOrUsername(ctx context.Context, identity string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 OR username = $2`
	return r.scanUser(r.db.QueryRowContext(ctx, query, tokens.NormalizeEmail(identity), identity))
}

// UpdatePasswordHash replaces the stored password hash
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	query := `UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateEmailConfirmed flips the confirmation flag
func (r *PostgresRepository) UpdateEmailConfirmed(ctx context.Context, id int64, confirmed bool) error {
	query := `UPDATE users SET email_confirmed = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, confirmed, id)
	if err != nil {
		return fmt.Errorf("failed to update email confirmation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
