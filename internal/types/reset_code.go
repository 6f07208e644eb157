package types

import (
	"time"

	"github.com/google/uuid"
)

// PasswordResetCode is a short-lived numeric credential proving control of the
// account's email. One row per send request; duplicates per user are allowed.
type PasswordResetCode struct {
	ID        int64     `json:"id"`
	Code      int64     `json:"code"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"` // creation time + 15 minutes, immutable
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the code's validity window has passed.
func (c *PasswordResetCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
