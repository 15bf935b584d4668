package users

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to create a new mock repository
func newMockRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	repo := NewPostgresRepository(db)
	return repo, mock, db
}

func userRows(u *User) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "email_confirmed", "created_at", "updated_at",
	}).AddRow(u.ID, u.Username, u.Email, u.PasswordHash, u.EmailConfirmed, u.CreatedAt, u.UpdatedAt)
}

func TestInsert(t *testing.T) {
	repo, mock, db := newMockRepository(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("success normalizes email", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs("alice", "alice@example.com", "hash").
			WillReturnRows(userRows(&User{
				ID: 1, Username: "alice", Email: "alice@example.com",
				PasswordHash: "hash", CreatedAt: now, UpdatedAt: now,
			}))

		user, err := repo.Insert(ctx, "alice", " Alice@Example.COM", "hash")
		require.NoError(t, err)
		assert.Equal(t, int64(1), user.ID)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.False(t, user.EmailConfirmed)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to ErrUserExists", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs("alice", "alice@example.com", "hash").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

		_, err := repo.Insert(ctx, "alice", "alice@example.com", "hash")
		assert.ErrorIs(t, err, ErrUserExists)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other database errors propagate", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO users`).
			WillReturnError(fmt.Errorf("connection refused"))

		_, err := repo.Insert(ctx, "bob", "bob@example.com", "hash")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUserExists)
	})
}

func TestFindByID(t *testing.T) {
	repo, mock, db := newMockRepository(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
			WithArgs(int64(5)).
			WillReturnRows(userRows(&User{
				ID: 5, Username: "carol", Email: "carol@example.com",
				PasswordHash: "h", EmailConfirmed: true, CreatedAt: now, UpdatedAt: now,
			}))

		user, err := repo.FindByID(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, "carol", user.Username)
		assert.True(t, user.EmailConfirmed)
	})

	t.Run("absent", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
			WithArgs(int64(6)).
			WillReturnError(sql.ErrNoRows)

		_, err := repo.FindByID(ctx, 6)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFindByEmailOrUsername(t *testing.T) {
	repo, mock, db := newMockRepository(t)
	defer db.Close()
	ctx := context.Background()

	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1 OR username = \$2`).
		WithArgs("dave@example.com", "Dave@Example.com").
		WillReturnRows(userRows(&User{
			ID: 2, Username: "dave", Email: "dave@example.com",
			PasswordHash: "h", CreatedAt: now, UpdatedAt: now,
		}))

	// The email side is normalized, the username side is passed as-is.
	user, err := repo.FindByEmailOrUsername(ctx, "Dave@Example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), user.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePasswordHash(t *testing.T) {
	repo, mock, db := newMockRepository(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users SET password_hash = \$1`).
			WithArgs("newhash", int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.UpdatePasswordHash(ctx, 3, "newhash"))
	})

	t.Run("absent user", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users SET password_hash = \$1`).
			WithArgs("newhash", int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.UpdatePasswordHash(ctx, 99, "newhash"), ErrNotFound)
	})
}

func TestUpdateEmailConfirmed(t *testing.T) {
	repo, mock, db := newMockRepository(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectExec(`UPDATE users SET email_confirmed = \$1`).
		WithArgs(true, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateEmailConfirmed(ctx, 4, true))
	require.NoError(t, mock.ExpectationsWereMet())
}
