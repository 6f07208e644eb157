package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/contactbook/contactbook/app/observability/metrics"
	"github.com/contactbook/contactbook/internal/types"
)

var _ ResetCodeRepo = (*PostgresResetCodeRepo)(nil)

// ResetCodeRepo persists outstanding password reset codes. Rows are
// append-only plus best-effort delete; there is no uniqueness constraint, so
// concurrent requests for the same user simply stack benign duplicate rows.
type ResetCodeRepo interface {
	// Insert stores a new code for the user with a fixed expiry.
	Insert(ctx context.Context, code int64, userID uuid.UUID, expiresAt time.Time) error

	// Find looks up a row by the exact (code, user) pair. A valid code value
	// under the wrong user is types.ErrNotFound.
	Find(ctx context.Context, code int64, userID uuid.UUID) (*types.PasswordResetCode, error)

	// Delete removes a single row. Used by the lazy expiry path only.
	Delete(ctx context.Context, id int64) error
}

type PostgresResetCodeRepo struct {
	logger *slog.Logger
	pgpool PostgresPool
}

func NewPostgresResetCodeRepo(pgpool PostgresPool, logger *slog.Logger) *PostgresResetCodeRepo {
	return &PostgresResetCodeRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

func (r *PostgresResetCodeRepo) Insert(ctx context.Context, code int64, userID uuid.UUID, expiresAt time.Time) error {
	ctx, span := otel.Tracer("ResetCodeRepo").Start(ctx, "Insert", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "password_reset_codes"),
	))
	defer span.End()

	_, err := r.pgpool.Exec(ctx,
		"INSERT INTO password_reset_codes (code, user_id, expires_at) VALUES ($1, $2, $3)",
		code, userID, expiresAt)
	if err != nil {
		span.RecordError(err)
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return fmt.Errorf("insert reset code: db insert failed: %w", err)
	}
	return nil
}

func (r *PostgresResetCodeRepo) Find(ctx context.Context, code int64, userID uuid.UUID) (*types.PasswordResetCode, error) {
	var row types.PasswordResetCode
	err := r.pgpool.QueryRow(ctx,
		`SELECT id, code, user_id, expires_at, created_at
         FROM password_reset_codes
         WHERE code = $1 AND user_id = $2
         ORDER BY created_at DESC
         LIMIT 1`,
		code, userID).Scan(&row.ID, &row.Code, &row.UserID, &row.ExpiresAt, &row.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("find reset code: query failed: %w", err)
	}
	return &row, nil
}

func (r *PostgresResetCodeRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.pgpool.Exec(ctx, "DELETE FROM password_reset_codes WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete reset code: db delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.DebugContext(ctx, "Reset code already deleted", slog.Int64("id", id))
	}
	return nil
}
