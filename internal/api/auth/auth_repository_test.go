package auth

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/contactbook/contactbook/internal/types"
)

func newMockUserRepo(t *testing.T) (*PostgresUserRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return NewPostgresUserRepo(mock, slog.Default()), mock
}

func userRows(u *types.UserIdentity) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "username", "email", "name", "password_hash", "security_stamp", "created_at", "updated_at",
	}).AddRow(u.ID, u.Username, u.Email, u.Name, u.PasswordHash, u.SecurityStamp, u.CreatedAt, u.UpdatedAt)
}

func TestGetUserByEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		user := testUser("found@example.com")
		mock.ExpectQuery(`SELECT .+ FROM users WHERE lower\(email\) = lower\(\$1\)`).
			WithArgs("Found@Example.com").
			WillReturnRows(userRows(user))

		got, err := repo.GetUserByEmail(ctx, "Found@Example.com")

		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, user.Email, got.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectQuery(`SELECT .+ FROM users WHERE lower\(email\) = lower\(\$1\)`).
			WithArgs("missing@example.com").
			WillReturnError(pgx.ErrNoRows)

		got, err := repo.GetUserByEmail(ctx, "missing@example.com")

		assert.Nil(t, got)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		now := time.Now()
		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs(pgxmock.AnyArg(), "new@example.com", "new@example.com", "Test User", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

		user, err := repo.CreateUser(ctx, "Test User", "new@example.com", "Sup3r$ecret")

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, user.ID)
		assert.Equal(t, "new@example.com", user.Username)
		assert.NotEmpty(t, user.SecurityStamp)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("Sup3r$ecret")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("WeakPasswordRejectedBeforeInsert", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		user, err := repo.CreateUser(ctx, "Test User", "weak@example.com", "short")

		assert.Nil(t, user)
		assert.ErrorIs(t, err, types.ErrInternal)
		assert.Contains(t, err.Error(), "Passwords must be at least 6 characters.")
		assert.Contains(t, err.Error(), "Passwords must have at least one digit ('0'-'9').")
		assert.Contains(t, err.Error(), "Passwords must have at least one uppercase ('A'-'Z').")
		assert.Contains(t, err.Error(), "Passwords must have at least one non alphanumeric character.")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs(pgxmock.AnyArg(), "taken@example.com", "taken@example.com", "Test User", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		user, err := repo.CreateUser(ctx, "Test User", "taken@example.com", "Sup3r$ecret")

		assert.Nil(t, user)
		assert.ErrorIs(t, err, types.ErrConflict)
	})

	t.Run("InsertFailure", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs(pgxmock.AnyArg(), "down@example.com", "down@example.com", "Test User", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("connection reset"))

		user, err := repo.CreateUser(ctx, "Test User", "down@example.com", "Sup3r$ecret")

		assert.Nil(t, user)
		require.Error(t, err)
		assert.NotErrorIs(t, err, types.ErrConflict)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestVerifyPassword(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	hashed, err := bcrypt.GenerateFromPassword([]byte("Sup3r$ecret"), bcrypt.DefaultCost)
	require.NoError(t, err)

	t.Run("Correct", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectQuery(`SELECT password_hash FROM users WHERE id = \$1`).
			WithArgs(userID).
			WillReturnRows(pgxmock.NewRows([]string{"password_hash"}).AddRow(string(hashed)))

		assert.NoError(t, repo.VerifyPassword(ctx, userID, "Sup3r$ecret"))
	})

	t.Run("Incorrect", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectQuery(`SELECT password_hash FROM users WHERE id = \$1`).
			WithArgs(userID).
			WillReturnRows(pgxmock.NewRows([]string{"password_hash"}).AddRow(string(hashed)))

		assert.ErrorIs(t, repo.VerifyPassword(ctx, userID, "wrong"), types.ErrUnauthenticated)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectQuery(`SELECT password_hash FROM users WHERE id = \$1`).
			WithArgs(userID).
			WillReturnError(pgx.ErrNoRows)

		assert.ErrorIs(t, repo.VerifyPassword(ctx, userID, "Sup3r$ecret"), types.ErrNotFound)
	})
}

func TestResetTokenFlow(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("GenerateToken", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectExec(`UPDATE users SET reset_token = \$1 WHERE id = \$2`).
			WithArgs(pgxmock.AnyArg(), userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		token, err := repo.GeneratePasswordResetToken(ctx, userID)

		require.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("GenerateTokenUnknownUser", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectExec(`UPDATE users SET reset_token = \$1 WHERE id = \$2`).
			WithArgs(pgxmock.AnyArg(), userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		token, err := repo.GeneratePasswordResetToken(ctx, userID)

		assert.Empty(t, token)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("ResetPasswordSuccess", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		token := "stored-token"
		mock.ExpectQuery(`SELECT reset_token FROM users WHERE id = \$1`).
			WithArgs(userID).
			WillReturnRows(pgxmock.NewRows([]string{"reset_token"}).AddRow(&token))
		mock.ExpectExec(`UPDATE users`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.ResetPassword(ctx, userID, "stored-token", "N3w$ecret")

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ResetPasswordWrongToken", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		token := "stored-token"
		mock.ExpectQuery(`SELECT reset_token FROM users WHERE id = \$1`).
			WithArgs(userID).
			WillReturnRows(pgxmock.NewRows([]string{"reset_token"}).AddRow(&token))

		err := repo.ResetPassword(ctx, userID, "some-other-token", "N3w$ecret")

		assert.ErrorIs(t, err, types.ErrUnauthenticated)
	})

	t.Run("ResetPasswordNoOutstandingToken", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectQuery(`SELECT reset_token FROM users WHERE id = \$1`).
			WithArgs(userID).
			WillReturnRows(pgxmock.NewRows([]string{"reset_token"}).AddRow((*string)(nil)))

		err := repo.ResetPassword(ctx, userID, "stored-token", "N3w$ecret")

		assert.ErrorIs(t, err, types.ErrUnauthenticated)
	})

	t.Run("ResetPasswordWeakPolicy", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		token := "stored-token"
		mock.ExpectQuery(`SELECT reset_token FROM users WHERE id = \$1`).
			WithArgs(userID).
			WillReturnRows(pgxmock.NewRows([]string{"reset_token"}).AddRow(&token))

		err := repo.ResetPassword(ctx, userID, "stored-token", "weak")

		assert.ErrorIs(t, err, types.ErrBadRequest)
	})
}

func TestRoles(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("RoleExists", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("Admin").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		exists, err := repo.RoleExists(ctx, "Admin")

		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("CreateRoleIdempotent", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectExec(`INSERT INTO roles`).
			WithArgs(pgxmock.AnyArg(), "Admin").
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		assert.NoError(t, repo.CreateRole(ctx, "Admin"))
	})

	t.Run("AddRole", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectExec(`INSERT INTO user_roles`).
			WithArgs(userID, "Admin").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, repo.AddRole(ctx, userID, "Admin"))
	})

	t.Run("GetRoles", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectQuery(`SELECT r.name FROM roles r`).
			WithArgs(userID).
			WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Admin"))

		roles, err := repo.GetRoles(ctx, userID)

		require.NoError(t, err)
		assert.Equal(t, []string{"Admin"}, roles)
	})
}

func TestUpdateAccountRepo(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	strPtr := func(s string) *string { return &s }

	t.Run("EmailChangeAlsoRewritesUsername", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectExec(`UPDATE users SET email = \$1, username = \$2, updated_at = \$3 WHERE id = \$4`).
			WithArgs("new@example.com", "new@example.com", pgxmock.AnyArg(), userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.UpdateAccount(ctx, userID, types.UpdateAccountParams{Email: strPtr("new@example.com")})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NameOnly", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectExec(`UPDATE users SET name = \$1, updated_at = \$2 WHERE id = \$3`).
			WithArgs("New Name", pgxmock.AnyArg(), userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.UpdateAccount(ctx, userID, types.UpdateAccountParams{Name: strPtr("New Name")})

		assert.NoError(t, err)
	})

	t.Run("NoFieldsIsNoOp", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		err := repo.UpdateAccount(ctx, userID, types.UpdateAccountParams{})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectExec(`UPDATE users SET email = \$1, username = \$2, updated_at = \$3 WHERE id = \$4`).
			WithArgs("taken@example.com", "taken@example.com", pgxmock.AnyArg(), userID).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := repo.UpdateAccount(ctx, userID, types.UpdateAccountParams{Email: strPtr("taken@example.com")})

		assert.ErrorIs(t, err, types.ErrConflict)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectExec(`UPDATE users SET name = \$1, updated_at = \$2 WHERE id = \$3`).
			WithArgs("New Name", pgxmock.AnyArg(), userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.UpdateAccount(ctx, userID, types.UpdateAccountParams{Name: strPtr("New Name")})

		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
			WithArgs(userID).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		assert.NoError(t, repo.DeleteUser(ctx, userID))
	})

	t.Run("NotFound", func(t *testing.T) {
		repo, mock := newMockUserRepo(t)

		mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
			WithArgs(userID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		assert.ErrorIs(t, repo.DeleteUser(ctx, userID), types.ErrNotFound)
	})
}
