package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/contactbook/contactbook/app/observability/metrics"
	"github.com/contactbook/contactbook/internal/types"
)

// PostgresPool is the slice of pgxpool.Pool the repositories need.
// pgxmock satisfies it in tests.
type PostgresPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ UserRepo = (*PostgresUserRepo)(nil)

// UserRepo is the credential store contract: identity records, password
// verification, the single-use reset-token mechanism and role management.
type UserRepo interface {
	// GetUserByEmail retrieves an identity by email (case-insensitive).
	// Returns types.ErrNotFound if absent.
	GetUserByEmail(ctx context.Context, email string) (*types.UserIdentity, error)

	// GetUserByID retrieves an identity by id. Returns types.ErrNotFound if absent.
	GetUserByID(ctx context.Context, userID uuid.UUID) (*types.UserIdentity, error)

	// CreateUser validates the password against policy, hashes it and inserts
	// the identity. Email uniqueness is enforced here by the store's unique
	// index; callers' existence checks are advisory only.
	CreateUser(ctx context.Context, name, email, password string) (*types.UserIdentity, error)

	// VerifyPassword checks a plaintext password against the stored hash.
	// Returns types.ErrUnauthenticated on mismatch.
	VerifyPassword(ctx context.Context, userID uuid.UUID, password string) error

	// GeneratePasswordResetToken mints a single-use opaque token for the
	// identity. Any password overwrite must present it to ResetPassword.
	GeneratePasswordResetToken(ctx context.Context, userID uuid.UUID) (string, error)

	// ResetPassword consumes the token, enforces the password policy and
	// rotates hash + security stamp. Policy rejections wrap types.ErrBadRequest.
	ResetPassword(ctx context.Context, userID uuid.UUID, token, newPassword string) error

	RoleExists(ctx context.Context, name string) (bool, error)
	CreateRole(ctx context.Context, name string) error
	AddRole(ctx context.Context, userID uuid.UUID, name string) error
	GetRoles(ctx context.Context, userID uuid.UUID) ([]string, error)

	// UpdateAccount rewrites name/email fields present in params. The username
	// mirrors the email whenever the email changes.
	UpdateAccount(ctx context.Context, userID uuid.UUID, params types.UpdateAccountParams) error

	// DeleteUser removes the identity and its role assignments.
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

type PostgresUserRepo struct {
	logger *slog.Logger
	pgpool PostgresPool
}

func NewPostgresUserRepo(pgpool PostgresPool, logger *slog.Logger) *PostgresUserRepo {
	return &PostgresUserRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

const userColumns = "id, username, email, name, password_hash, security_stamp, created_at, updated_at"

func scanUser(row pgx.Row) (*types.UserIdentity, error) {
	var u types.UserIdentity
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Name, &u.PasswordHash, &u.SecurityStamp, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}

func (r *PostgresUserRepo) GetUserByEmail(ctx context.Context, email string) (*types.UserIdentity, error) {
	row := r.pgpool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(email) = lower($1)",
		email)
	return scanUser(row)
}

func (r *PostgresUserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (*types.UserIdentity, error) {
	row := r.pgpool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1",
		userID)
	return scanUser(row)
}

// validatePassword applies the store's password policy and returns the
// aggregated failure descriptions, Identity-style.
func validatePassword(password string) []string {
	var msgs []string
	if len(password) < 6 {
		msgs = append(msgs, "Passwords must be at least 6 characters.")
	}
	var hasDigit, hasLower, hasUpper, hasSymbol bool
	for _, c := range password {
		switch {
		case unicode.IsDigit(c):
			hasDigit = true
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsUpper(c):
			hasUpper = true
		default:
			hasSymbol = true
		}
	}
	if !hasDigit {
		msgs = append(msgs, "Passwords must have at least one digit ('0'-'9').")
	}
	if !hasLower {
		msgs = append(msgs, "Passwords must have at least one lowercase ('a'-'z').")
	}
	if !hasUpper {
		msgs = append(msgs, "Passwords must have at least one uppercase ('A'-'Z').")
	}
	if !hasSymbol {
		msgs = append(msgs, "Passwords must have at least one non alphanumeric character.")
	}
	return msgs
}

func (r *PostgresUserRepo) CreateUser(ctx context.Context, name, email, password string) (*types.UserIdentity, error) {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "CreateUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	if msgs := validatePassword(password); len(msgs) > 0 {
		span.SetStatus(codes.Error, "password policy rejected")
		return nil, fmt.Errorf("%w: error creating user: %s", types.ErrInternal, strings.Join(msgs, " "))
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := types.UserIdentity{
		ID:            uuid.New(),
		Username:      email, // login name mirrors the email
		Email:         email,
		Name:          name,
		PasswordHash:  string(hashed),
		SecurityStamp: uuid.NewString(),
	}

	err = r.pgpool.QueryRow(ctx,
		`INSERT INTO users (id, username, email, name, password_hash, security_stamp)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING created_at, updated_at`,
		u.ID, u.Username, u.Email, u.Name, u.PasswordHash, u.SecurityStamp).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Unique index on lower(email): the store is the authority under
			// concurrent registration of the same address.
			return nil, fmt.Errorf("%w: user with email %s already exists", types.ErrConflict, email)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return &u, nil
}

func (r *PostgresUserRepo) VerifyPassword(ctx context.Context, userID uuid.UUID, password string) error {
	var hashedPassword string
	err := r.pgpool.QueryRow(ctx, "SELECT password_hash FROM users WHERE id = $1", userID).Scan(&hashedPassword)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.ErrNotFound
		}
		return fmt.Errorf("verify password: query failed: %w", err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	if err != nil {
		return fmt.Errorf("%w: incorrect password", types.ErrUnauthenticated)
	}
	return nil
}

func (r *PostgresUserRepo) GeneratePasswordResetToken(ctx context.Context, userID uuid.UUID) (string, error) {
	token := uuid.NewString()
	tag, err := r.pgpool.Exec(ctx,
		"UPDATE users SET reset_token = $1 WHERE id = $2",
		token, userID)
	if err != nil {
		return "", fmt.Errorf("generate reset token: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", types.ErrNotFound
	}
	return token, nil
}

func (r *PostgresUserRepo) ResetPassword(ctx context.Context, userID uuid.UUID, token, newPassword string) error {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "ResetPassword", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	var stored *string
	err := r.pgpool.QueryRow(ctx, "SELECT reset_token FROM users WHERE id = $1", userID).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.ErrNotFound
		}
		return fmt.Errorf("reset password: query failed: %w", err)
	}
	if stored == nil || *stored != token {
		return fmt.Errorf("%w: invalid reset token", types.ErrUnauthenticated)
	}

	if msgs := validatePassword(newPassword); len(msgs) > 0 {
		span.SetStatus(codes.Error, "password policy rejected")
		return fmt.Errorf("%w: %s", types.ErrBadRequest, strings.Join(msgs, " "))
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash new password: %w", err)
	}

	// Consume the token and rotate the security stamp in the same statement.
	_, err = r.pgpool.Exec(ctx,
		`UPDATE users
         SET password_hash = $1, security_stamp = $2, reset_token = NULL, updated_at = $3
         WHERE id = $4`,
		string(hashed), uuid.NewString(), time.Now(), userID)
	if err != nil {
		span.RecordError(err)
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return fmt.Errorf("reset password: db update failed: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) RoleExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.pgpool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("role exists: query failed: %w", err)
	}
	return exists, nil
}

func (r *PostgresUserRepo) CreateRole(ctx context.Context, name string) error {
	// ON CONFLICT keeps the bootstrap idempotent under concurrent registrations.
	_, err := r.pgpool.Exec(ctx,
		"INSERT INTO roles (id, name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING",
		uuid.New(), name)
	if err != nil {
		return fmt.Errorf("create role: db insert failed: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) AddRole(ctx context.Context, userID uuid.UUID, name string) error {
	tag, err := r.pgpool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id)
         SELECT $1, id FROM roles WHERE name = $2
         ON CONFLICT DO NOTHING`,
		userID, name)
	if err != nil {
		return fmt.Errorf("add role: db insert failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.DebugContext(ctx, "Role already assigned or unknown",
			slog.String("userID", userID.String()), slog.String("role", name))
	}
	return nil
}

func (r *PostgresUserRepo) GetRoles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.pgpool.Query(ctx,
		`SELECT r.name FROM roles r
         JOIN user_roles ur ON ur.role_id = r.id
         WHERE ur.user_id = $1
         ORDER BY r.name`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("get roles: query failed: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("get roles: scan failed: %w", err)
		}
		roles = append(roles, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get roles: rows error: %w", err)
	}
	return roles, nil
}

func (r *PostgresUserRepo) UpdateAccount(ctx context.Context, userID uuid.UUID, params types.UpdateAccountParams) error {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "UpdateAccount", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	var setClauses []string
	var args []interface{}
	argID := 1

	if params.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argID))
		args = append(args, *params.Name)
		argID++
		span.SetAttributes(attribute.Bool("update.name", true))
	}
	if params.Email != nil {
		// Username mirrors the email: both are the login name.
		setClauses = append(setClauses, fmt.Sprintf("email = $%d", argID))
		args = append(args, *params.Email)
		argID++
		setClauses = append(setClauses, fmt.Sprintf("username = $%d", argID))
		args = append(args, *params.Email)
		argID++
		span.SetAttributes(attribute.Bool("update.email", true))
	}

	if len(setClauses) == 0 {
		return nil // nothing to update
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argID))
	args = append(args, time.Now())
	argID++
	args = append(args, userID)

	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argID)
	tag, err := r.pgpool.Exec(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: email already in use", types.ErrConflict)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return fmt.Errorf("update account: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepo) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	// user_roles and password_reset_codes cascade from the schema.
	tag, err := r.pgpool.Exec(ctx, "DELETE FROM users WHERE id = $1", userID)
	if err != nil {
		return fmt.Errorf("delete user: db delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}
