package types

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by issued session tokens. Subject is the user id, ID is a
// fresh jti per token, Roles lists every role the identity held at issuance.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// RegisterRequest is the strict registration input: every field is required.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents the login response body
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Message     string `json:"message,omitempty"`
}

// UpdateAccountRequest is the partial-update input: nil fields are left
// untouched. Distinct from RegisterRequest on purpose; the two shapes carry
// different validation rules.
type UpdateAccountRequest struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

// UpdateAccountParams carries the identity fields the credential store may
// rewrite in one statement. Password changes go through the reset-token
// mechanism instead.
type UpdateAccountParams struct {
	Name  *string
	Email *string
}

// SendEmailCodeRequest asks for a password reset code to be mailed.
type SendEmailCodeRequest struct {
	Email string `json:"email"`
}

// SendEmailCodeResponse confirms the mail went out and points at the
// endpoint where the code must be submitted.
type SendEmailCodeResponse struct {
	Message     string `json:"message"`
	Description string `json:"description"`
}

// ChangeForgottenPasswordRequest consumes a mailed reset code.
type ChangeForgottenPasswordRequest struct {
	Email       string `json:"email"`
	Code        int64  `json:"code"`
	NewPassword string `json:"new_password"`
}

// Response is the generic envelope for simple success/error messages.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
