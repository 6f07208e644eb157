package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"

	"github.com/google/uuid"

	"github.com/contactbook/contactbook/internal/api"
	"github.com/contactbook/contactbook/internal/types"
)

var _ AuthHandler = (*AuthHandlerImpl)(nil)

type AuthHandler interface {
	Register(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
	GetAccountData(w http.ResponseWriter, r *http.Request)
	PutUpdateAccount(w http.ResponseWriter, r *http.Request)
	PatchUpdateAccount(w http.ResponseWriter, r *http.Request)
	DeleteAccount(w http.ResponseWriter, r *http.Request)
	SendEmailCode(w http.ResponseWriter, r *http.Request)
	ChangeForgottenPassword(w http.ResponseWriter, r *http.Request)
}

type AuthHandlerImpl struct {
	authService AuthService
	logger      *slog.Logger
}

// NewAuthHandlerImpl creates a new auth AuthHandlerImpl instance.
func NewAuthHandlerImpl(authService AuthService, logger *slog.Logger) *AuthHandlerImpl {
	if logger == nil {
		panic("PANIC: Attempting to create AuthHandlerImpl with nil logger!")
	}
	return &AuthHandlerImpl{
		authService: authService,
		logger:      logger,
	}
}

// statusFromError maps the service error taxonomy onto HTTP statuses.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *AuthHandlerImpl) userIDFromContext(w http.ResponseWriter, r *http.Request, l *slog.Logger) (uuid.UUID, bool) {
	userIDStr, ok := GetUserIDFromContext(r.Context())
	if !ok || userIDStr == "" {
		l.ErrorContext(r.Context(), "User ID not found in context")
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		l.ErrorContext(r.Context(), "Invalid user ID format", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return uuid.Nil, false
	}
	return userID, true
}

// Register godoc
// @Summary      Register Account
// @Description  Creates a new account and returns the created identity.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        account body types.RegisterRequest true "Registration Parameters"
// @Success      201 {object} types.UserIdentity "Account Created"
// @Failure      400 {object} types.Response "Invalid Input"
// @Failure      409 {object} types.Response "Email Already Taken"
// @Failure      500 {object} types.Response "Internal Server Error"
// @Router       /auth/register [post]
func (h *AuthHandlerImpl) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("AuthHandlerImpl", "Register"))

	var req types.RegisterRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode register request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "name, email and password are required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "email must be a valid address")
		return
	}

	user, err := h.authService.Register(ctx, req.Name, req.Email, req.Password)
	if err != nil {
		l.ErrorContext(ctx, "Failed to register user", slog.Any("error", err))
		api.ErrorResponse(w, r, statusFromError(err), err.Error())
		return
	}

	api.WriteJSONResponse(w, r, http.StatusCreated, user)
}

// Login godoc
// @Summary      Login
// @Description  Verifies credentials and returns a bearer token valid for 30 days.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        credentials body types.LoginRequest true "Login Credentials"
// @Success      200 {object} types.LoginResponse "Logged In"
// @Failure      400 {object} types.Response "Invalid Input"
// @Failure      401 {object} types.Response "Incorrect Password"
// @Failure      404 {object} types.Response "Unknown Email"
// @Failure      500 {object} types.Response "Internal Server Error"
// @Router       /auth/login [post]
func (h *AuthHandlerImpl) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("AuthHandlerImpl", "Login"))

	var req types.LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode login request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	token, err := h.authService.Login(ctx, req.Email, req.Password)
	if err != nil {
		l.WarnContext(ctx, "Login failed", slog.Any("error", err))
		api.ErrorResponse(w, r, statusFromError(err), err.Error())
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, types.LoginResponse{
		AccessToken: token,
		Message:     "Logged in successfully",
	})
}

// GetAccountData godoc
// @Summary      Get Account Data
// @Description  Returns the authenticated user's account data.
// @Tags         Auth
// @Produce      json
// @Success      200 {object} types.UserIdentity "Account Data"
// @Failure      401 {object} types.Response "Unauthorized"
// @Failure      404 {object} types.Response "Account Not Found"
// @Failure      500 {object} types.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /auth/account-data [get]
func (h *AuthHandlerImpl) GetAccountData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("AuthHandlerImpl", "GetAccountData"))

	userID, ok := h.userIDFromContext(w, r, l)
	if !ok {
		return
	}

	user, err := h.authService.GetAccountData(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to get account data", slog.Any("error", err))
		api.ErrorResponse(w, r, statusFromError(err), err.Error())
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, user)
}

// PutUpdateAccount godoc
// @Summary      Replace Account Data
// @Description  Replaces name, email and password of the authenticated user. All fields are required.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        account body types.RegisterRequest true "Replacement Account Data"
// @Success      200 {object} types.UserIdentity "Updated Account"
// @Failure      400 {object} types.Response "Invalid Input"
// @Failure      401 {object} types.Response "Unauthorized"
// @Failure      409 {object} types.Response "Email Already Taken"
// @Failure      500 {object} types.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /auth/account-update [put]
func (h *AuthHandlerImpl) PutUpdateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("AuthHandlerImpl", "PutUpdateAccount"))

	userID, ok := h.userIDFromContext(w, r, l)
	if !ok {
		return
	}

	var req types.RegisterRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode update request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "name, email and password are required")
		return
	}

	user, err := h.authService.UpdateAccount(ctx, userID, types.UpdateAccountRequest{
		Name:     &req.Name,
		Email:    &req.Email,
		Password: &req.Password,
	})
	if err != nil {
		l.ErrorContext(ctx, "Failed to update account", slog.Any("error", err))
		api.ErrorResponse(w, r, statusFromError(err), err.Error())
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, user)
}

// PatchUpdateAccount godoc
// @Summary      Update Account Data
// @Description  Updates any subset of name, email and password of the authenticated user.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        account body types.UpdateAccountRequest true "Account Fields To Update"
// @Success      200 {object} types.Response "Update Success"
// @Failure      400 {object} types.Response "Invalid Input"
// @Failure      401 {object} types.Response "Unauthorized"
// @Failure      409 {object} types.Response "Email Already Taken"
// @Failure      500 {object} types.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /auth/account-update [patch]
func (h *AuthHandlerImpl) PatchUpdateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("AuthHandlerImpl", "PatchUpdateAccount"))

	userID, ok := h.userIDFromContext(w, r, l)
	if !ok {
		return
	}

	var req types.UpdateAccountRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode update request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.authService.UpdateAccount(ctx, userID, req); err != nil {
		l.ErrorContext(ctx, "Failed to update account", slog.Any("error", err))
		api.ErrorResponse(w, r, statusFromError(err), err.Error())
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, types.Response{
		Success: true,
		Message: "Update success",
	})
}

// DeleteAccount godoc
// @Summary      Delete Account
// @Description  Permanently deletes the authenticated user's account.
// @Tags         Auth
// @Produce      json
// @Success      204 "Account Deleted"
// @Failure      401 {object} types.Response "Unauthorized"
// @Failure      404 {object} types.Response "Account Not Found"
// @Failure      500 {object} types.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /auth/delete-account [delete]
func (h *AuthHandlerImpl) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("AuthHandlerImpl", "DeleteAccount"))

	userID, ok := h.userIDFromContext(w, r, l)
	if !ok {
		return
	}

	if err := h.authService.DeleteAccount(ctx, userID); err != nil {
		l.ErrorContext(ctx, "Failed to delete account", slog.Any("error", err))
		api.ErrorResponse(w, r, statusFromError(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SendEmailCode godoc
// @Summary      Send Password Reset Code
// @Description  Emails a reset code to the address if it belongs to a registered account.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body types.SendEmailCodeRequest true "Account Email"
// @Success      200 {object} types.SendEmailCodeResponse "Code Sent"
// @Failure      400 {object} types.Response "Invalid Input"
// @Failure      404 {object} types.Response "Unknown Email"
// @Failure      500 {object} types.Response "Mail Delivery Failed"
// @Router       /auth/forgotten-password/send-email-code [post]
func (h *AuthHandlerImpl) SendEmailCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("AuthHandlerImpl", "SendEmailCode"))

	var req types.SendEmailCodeRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode send code request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.Email == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "email is required")
		return
	}

	if err := h.authService.SendResetCode(ctx, req.Email); err != nil {
		l.ErrorContext(ctx, "Failed to send reset code", slog.Any("error", err))
		api.ErrorResponse(w, r, statusFromError(err), err.Error())
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	submitURI := fmt.Sprintf("%s://%s/api/v1/auth/forgotten-password/change-password", scheme, r.Host)

	api.WriteJSONResponse(w, r, http.StatusOK, types.SendEmailCodeResponse{
		Message:     fmt.Sprintf("Code send to %s", req.Email),
		Description: fmt.Sprintf("Use the code in %s", submitURI),
	})
}

// ChangeForgottenPassword godoc
// @Summary      Change Forgotten Password
// @Description  Sets a new password using the code previously sent by email.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body types.ChangeForgottenPasswordRequest true "Email, Code And New Password"
// @Success      200 {object} types.Response "Password Updated"
// @Failure      400 {object} types.Response "Invalid Input Or Expired Code"
// @Failure      404 {object} types.Response "Unknown Email Or Code"
// @Failure      500 {object} types.Response "Internal Server Error"
// @Router       /auth/forgotten-password/change-password [put]
func (h *AuthHandlerImpl) ChangeForgottenPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("AuthHandlerImpl", "ChangeForgottenPassword"))

	var req types.ChangeForgottenPasswordRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode change password request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.Email == "" || req.Code == 0 || req.NewPassword == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "email, code and new_password are required")
		return
	}

	if err := h.authService.ResetForgottenPassword(ctx, req.Email, req.Code, req.NewPassword); err != nil {
		l.WarnContext(ctx, "Failed to change forgotten password", slog.Any("error", err))
		api.ErrorResponse(w, r, statusFromError(err), err.Error())
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, types.Response{
		Success: true,
		Message: "Password successfully updated.",
	})
}
