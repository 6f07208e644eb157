package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/contactbook/contactbook/app/observability/metrics"
	"github.com/contactbook/contactbook/config"
	"github.com/contactbook/contactbook/internal/mail"
	"github.com/contactbook/contactbook/internal/types"
)

// adminRole is granted to every new registration. This mirrors the current
// deployment's behavior and is almost certainly a development-time default;
// change before exposing admin-only surfaces in production.
const adminRole = "Admin"

// Reset codes live for 15 minutes from creation.
const resetCodeTTL = 15 * time.Minute

// Strict pattern applied to email changes on account update. Registration
// uses plain address parsing at the handler instead; the two surfaces have
// always validated differently.
var emailPattern = regexp.MustCompile(`^([0-9a-zA-Z]([-.\w]*[0-9a-zA-Z])*@([0-9a-zA-Z][-\w]*[0-9a-zA-Z]\.)+[a-zA-Z]{2,9})$`)

var _ AuthService = (*AuthServiceImpl)(nil)

// AuthService orchestrates registration, login, account maintenance and the
// two-step forgotten-password flow. Failures are reported through the
// sentinel taxonomy in internal/types; the HTTP layer maps them to statuses.
type AuthService interface {
	// Register creates a new identity. The returned identity is scrubbed and
	// holds the roles granted during registration.
	Register(ctx context.Context, name, email, password string) (*types.UserIdentity, error)

	// Login verifies credentials and mints a session token. An unknown email
	// is types.ErrNotFound, a bad password types.ErrUnauthenticated — in that
	// order. Callers must not use this to probe for registered addresses.
	Login(ctx context.Context, email, password string) (string, error)

	// GetAccountData returns the scrubbed identity of an authenticated user.
	GetAccountData(ctx context.Context, userID uuid.UUID) (*types.UserIdentity, error)

	// UpdateAccount applies a partial update to name/email/password.
	UpdateAccount(ctx context.Context, userID uuid.UUID, params types.UpdateAccountRequest) (*types.UserIdentity, error)

	// DeleteAccount removes the authenticated user's identity.
	DeleteAccount(ctx context.Context, userID uuid.UUID) error

	// SendResetCode persists a fresh reset code and mails it to the address.
	SendResetCode(ctx context.Context, email string) error

	// ResetForgottenPassword consumes a mailed code and sets a new password.
	ResetForgottenPassword(ctx context.Context, email string, code int64, newPassword string) error
}

// AuthServiceImpl implements the AuthService interface
type AuthServiceImpl struct {
	logger *slog.Logger
	cfg    *config.Config
	repo   UserRepo
	codes  ResetCodeRepo
	mailer mail.Sender
	cache  *cache.Cache
}

// NewAuthService creates a new AuthService
func NewAuthService(repo UserRepo, codes ResetCodeRepo, mailer mail.Sender, cfg *config.Config, logger *slog.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{
		logger: logger,
		cfg:    cfg,
		repo:   repo,
		codes:  codes,
		mailer: mailer,
		cache:  cache.New(5*time.Minute, 10*time.Minute),
	}
}

func accountCacheKey(userID uuid.UUID) string {
	return "account:" + userID.String()
}

// Register creates a new identity and grants it the bootstrap role.
func (s *AuthServiceImpl) Register(ctx context.Context, name, email, password string) (*types.UserIdentity, error) {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "Register", trace.WithAttributes(
		attribute.String("user.email", email),
	))
	defer span.End()
	start := time.Now()

	l := s.logger.With(slog.String("method", "Register"), slog.String("email", email))
	l.DebugContext(ctx, "Registering new user")

	// Advisory existence check; the store's unique index is the authority.
	existing, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		l.ErrorContext(ctx, "Failed to check for existing user", slog.Any("error", err))
		span.RecordError(err)
		return nil, fmt.Errorf("error checking existing user: %w", err)
	}
	if existing != nil {
		l.WarnContext(ctx, "Registration rejected, email already taken")
		return nil, fmt.Errorf("%w: user with email %s already exists", types.ErrConflict, email)
	}

	user, err := s.repo.CreateUser(ctx, name, email, password)
	if err != nil {
		l.ErrorContext(ctx, "Failed to create user", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create user")
		return nil, err
	}

	// Idempotent role bootstrap: guard with an existence check each time
	// rather than relying on process-wide state.
	exists, err := s.repo.RoleExists(ctx, adminRole)
	if err != nil {
		l.ErrorContext(ctx, "Failed to check role existence", slog.Any("error", err))
		return nil, fmt.Errorf("error checking role: %w", err)
	}
	if !exists {
		if err := s.repo.CreateRole(ctx, adminRole); err != nil {
			l.ErrorContext(ctx, "Failed to create role", slog.Any("error", err))
			return nil, fmt.Errorf("error creating role: %w", err)
		}
	}
	if err := s.repo.AddRole(ctx, user.ID, adminRole); err != nil {
		l.ErrorContext(ctx, "Failed to grant role", slog.Any("error", err))
		return nil, fmt.Errorf("error granting role: %w", err)
	}

	roles, err := s.repo.GetRoles(ctx, user.ID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to load roles", slog.Any("error", err))
		return nil, fmt.Errorf("error loading roles: %w", err)
	}
	user.Roles = roles
	user.Scrub()

	m := metrics.Get()
	m.RegisterRequestsTotal.Add(ctx, 1)
	m.RegisterDurationSeconds.Record(ctx, time.Since(start).Seconds())

	l.InfoContext(ctx, "User registered successfully", slog.String("userID", user.ID.String()))
	span.SetStatus(codes.Ok, "User registered successfully")
	return user, nil
}

// Login authenticates a user and returns a session token.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string) (string, error) {
	l := s.logger.With(slog.String("method", "Login"), slog.String("email", email))
	l.DebugContext(ctx, "Authenticating user")

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			l.WarnContext(ctx, "Login with unknown email")
			return "", fmt.Errorf("%w: no account with email %s", types.ErrNotFound, email)
		}
		l.ErrorContext(ctx, "Failed to fetch user", slog.Any("error", err))
		return "", fmt.Errorf("error fetching user: %w", err)
	}

	if err := s.repo.VerifyPassword(ctx, user.ID, password); err != nil {
		if errors.Is(err, types.ErrUnauthenticated) {
			l.WarnContext(ctx, "Login with incorrect password", slog.String("userID", user.ID.String()))
			return "", fmt.Errorf("%w: incorrect password", types.ErrUnauthenticated)
		}
		l.ErrorContext(ctx, "Failed to verify password", slog.Any("error", err))
		return "", fmt.Errorf("error verifying password: %w", err)
	}

	roles, err := s.repo.GetRoles(ctx, user.ID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to load roles", slog.Any("error", err))
		return "", fmt.Errorf("error loading roles: %w", err)
	}

	token, err := generateSessionToken(user, roles, s.cfg.JWT)
	if err != nil {
		l.ErrorContext(ctx, "Failed to generate session token", slog.Any("error", err))
		return "", fmt.Errorf("error generating token: %w", err)
	}

	metrics.Get().LoginRequestsTotal.Add(ctx, 1)
	l.InfoContext(ctx, "User logged in successfully", slog.String("userID", user.ID.String()))
	return token, nil
}

// GetAccountData returns the authenticated user's scrubbed identity.
func (s *AuthServiceImpl) GetAccountData(ctx context.Context, userID uuid.UUID) (*types.UserIdentity, error) {
	l := s.logger.With(slog.String("method", "GetAccountData"), slog.String("userID", userID.String()))
	l.DebugContext(ctx, "Fetching account data")

	if cached, ok := s.cache.Get(accountCacheKey(userID)); ok {
		if user, ok := cached.(*types.UserIdentity); ok {
			return user, nil
		}
	}

	user, err := s.loadScrubbedUser(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch account data", slog.Any("error", err))
		return nil, err
	}

	s.cache.Set(accountCacheKey(userID), user, cache.DefaultExpiration)
	return user, nil
}

// UpdateAccount applies a partial or full update to the authenticated user.
func (s *AuthServiceImpl) UpdateAccount(ctx context.Context, userID uuid.UUID, params types.UpdateAccountRequest) (*types.UserIdentity, error) {
	l := s.logger.With(slog.String("method", "UpdateAccount"), slog.String("userID", userID.String()))
	l.DebugContext(ctx, "Updating account")

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch user", slog.Any("error", err))
		return nil, err
	}

	storeParams := types.UpdateAccountParams{}

	if params.Name != nil && *params.Name != "" {
		storeParams.Name = params.Name
	}

	if params.Email != nil && *params.Email != "" {
		if !emailPattern.MatchString(*params.Email) {
			return nil, fmt.Errorf("%w: email must be well-formed", types.ErrBadRequest)
		}
		owner, err := s.repo.GetUserByEmail(ctx, *params.Email)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			l.ErrorContext(ctx, "Failed to check email owner", slog.Any("error", err))
			return nil, fmt.Errorf("error checking email: %w", err)
		}
		// Re-submitting your own email is a permitted no-op.
		if owner != nil && owner.ID != user.ID {
			return nil, fmt.Errorf("%w: user with %s already exists", types.ErrConflict, *params.Email)
		}
		storeParams.Email = params.Email
	}

	if err := s.repo.UpdateAccount(ctx, userID, storeParams); err != nil {
		if errors.Is(err, types.ErrConflict) || errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		l.ErrorContext(ctx, "Failed to update account", slog.Any("error", err))
		return nil, fmt.Errorf("%w: error updating account data: %v", types.ErrInternal, err)
	}

	if params.Password != nil && *params.Password != "" {
		// Same indirection as the forgotten-password flow: the store only
		// overwrites a password when presented with a token it minted.
		token, err := s.repo.GeneratePasswordResetToken(ctx, userID)
		if err != nil {
			l.ErrorContext(ctx, "Failed to generate reset token", slog.Any("error", err))
			return nil, fmt.Errorf("%w: error updating password: %v", types.ErrInternal, err)
		}
		if err := s.repo.ResetPassword(ctx, userID, token, *params.Password); err != nil {
			l.ErrorContext(ctx, "Failed to update password", slog.Any("error", err))
			return nil, fmt.Errorf("%w: error updating password: %v", types.ErrInternal, err)
		}
	}

	s.cache.Delete(accountCacheKey(userID))

	user, err = s.loadScrubbedUser(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to reload account data", slog.Any("error", err))
		return nil, err
	}

	l.InfoContext(ctx, "Account updated successfully")
	return user, nil
}

// DeleteAccount removes the authenticated user's identity.
func (s *AuthServiceImpl) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	l := s.logger.With(slog.String("method", "DeleteAccount"), slog.String("userID", userID.String()))
	l.DebugContext(ctx, "Deleting account")

	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		l.ErrorContext(ctx, "Failed to delete account", slog.Any("error", err))
		return err
	}

	s.cache.Delete(accountCacheKey(userID))
	l.InfoContext(ctx, "Account deleted successfully")
	return nil
}

// SendResetCode persists a fresh reset code and emails it to the user.
func (s *AuthServiceImpl) SendResetCode(ctx context.Context, email string) error {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "SendResetCode", trace.WithAttributes(
		attribute.String("user.email", email),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "SendResetCode"), slog.String("email", email))
	l.DebugContext(ctx, "Sending password reset code")

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: email user %s not found", types.ErrNotFound, email)
		}
		l.ErrorContext(ctx, "Failed to fetch user", slog.Any("error", err))
		return fmt.Errorf("error fetching user: %w", err)
	}

	// Pseudo-random on purpose: compatible with the codes users already know
	// from this system. Not secret-strength; flagged for hardening.
	code := 1_000_000 + rand.Int63n(1_000_000)
	expiresAt := time.Now().Add(resetCodeTTL)

	if err := s.codes.Insert(ctx, code, user.ID, expiresAt); err != nil {
		l.ErrorContext(ctx, "Failed to persist reset code", slog.Any("error", err))
		span.RecordError(err)
		return fmt.Errorf("%w: error storing reset code: %v", types.ErrInternal, err)
	}

	subject := "Contact System - Your code reset forgotten password"
	body := fmt.Sprintf("Your password reset code is %d, valid for 15 minutes.", code)
	if err := s.mailer.Send(ctx, email, subject, body); err != nil {
		// The persisted row is intentionally left in place: the code is
		// still honored if the mail eventually arrives or is re-requested.
		l.ErrorContext(ctx, "Failed to send reset code email", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to send reset code email")
		return fmt.Errorf("%w: error sending email: %v", types.ErrInternal, err)
	}

	metrics.Get().ResetCodesSentTotal.Add(ctx, 1)
	l.InfoContext(ctx, "Reset code sent", slog.String("userID", user.ID.String()))
	span.SetStatus(codes.Ok, "Reset code sent")
	return nil
}

// ResetForgottenPassword consumes a mailed code and resets the password.
func (s *AuthServiceImpl) ResetForgottenPassword(ctx context.Context, email string, code int64, newPassword string) error {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "ResetForgottenPassword", trace.WithAttributes(
		attribute.String("user.email", email),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "ResetForgottenPassword"), slog.String("email", email))
	l.DebugContext(ctx, "Resetting forgotten password")

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: email user %s not found", types.ErrNotFound, email)
		}
		l.ErrorContext(ctx, "Failed to fetch user", slog.Any("error", err))
		return fmt.Errorf("error fetching user: %w", err)
	}

	row, err := s.codes.Find(ctx, code, user.ID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			l.WarnContext(ctx, "Reset code not found for user")
			return fmt.Errorf("%w: code entered does not exist", types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to look up reset code", slog.Any("error", err))
		return fmt.Errorf("error looking up reset code: %w", err)
	}

	if row.Expired(time.Now()) {
		// Lazy cleanup of this one stale row; there is no background sweep.
		if err := s.codes.Delete(ctx, row.ID); err != nil {
			l.WarnContext(ctx, "Failed to delete expired reset code", slog.Any("error", err))
		}
		return fmt.Errorf("%w: the maximum time on the code has expired", types.ErrBadRequest)
	}

	token, err := s.repo.GeneratePasswordResetToken(ctx, user.ID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to generate reset token", slog.Any("error", err))
		span.RecordError(err)
		return fmt.Errorf("error generating reset token: %w", err)
	}
	if err := s.repo.ResetPassword(ctx, user.ID, token, newPassword); err != nil {
		if errors.Is(err, types.ErrBadRequest) {
			return err
		}
		l.ErrorContext(ctx, "Failed to reset password", slog.Any("error", err))
		span.RecordError(err)
		return fmt.Errorf("error resetting password: %w", err)
	}

	// The consumed row is left behind: it stays usable until it lazily
	// expires. Kept for compatibility with existing clients; flagged as a
	// hardening candidate.

	s.cache.Delete(accountCacheKey(user.ID))
	metrics.Get().ResetCodesConsumedTotal.Add(ctx, 1)
	l.InfoContext(ctx, "Password reset successfully", slog.String("userID", user.ID.String()))
	span.SetStatus(codes.Ok, "Password reset successfully")
	return nil
}

func (s *AuthServiceImpl) loadScrubbedUser(ctx context.Context, userID uuid.UUID) (*types.UserIdentity, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles, err := s.repo.GetRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading roles: %w", err)
	}
	user.Roles = roles
	user.Scrub()
	return user, nil
}
