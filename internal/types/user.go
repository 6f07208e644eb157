package types

import (
	"time"

	"github.com/google/uuid"
)

// UserIdentity represents the core user entity in the domain.
type UserIdentity struct {
	ID            uuid.UUID `json:"id" example:"d290f1ee-6c54-4b01-90e6-d701748f0851"` // Unique identifier (UUID).
	Username      string    `json:"username" example:"john.doe@example.com"`           // Login name, mirrors the email.
	Email         string    `json:"email" example:"john.doe@example.com"`              // Unique email address used for login.
	Name          string    `json:"name" example:"John Doe"`                           // Display name.
	PasswordHash  string    `json:"-"`                                                 // Hashed password (never exposed).
	SecurityStamp string    `json:"-"`                                                 // Rotates whenever credentials change.
	Roles         []string  `json:"roles" example:"Admin"`                             // Role names attached to the identity.
	CreatedAt     time.Time `json:"created_at"`                                        // Timestamp when the user was created.
	UpdatedAt     time.Time `json:"updated_at"`                                        // Timestamp when the user was last updated.
}

// Scrub blanks credential material before the identity leaves the service.
// The json:"-" tags are a second line of defense; callers must still Scrub.
func (u *UserIdentity) Scrub() {
	u.PasswordHash = ""
	u.SecurityStamp = ""
}
