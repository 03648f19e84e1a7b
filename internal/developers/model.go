package developers

import (
	"time"

	"github.com/google/uuid"
)

// Role controls what a developer account may do. Admins can manage
// bootstrap tokens, federation peers, disputes, and account suspensions.
type Role string

const (
	RoleDeveloper Role = "developer"
	RoleAdmin     Role = "admin"
)

// Developer represents a registered platform account that owns agents.
type Developer struct {
	ID           uuid.UUID `json:"id"            db:"id"`
	Email        string    `json:"email"         db:"email"`
	PasswordHash string    `json:"-"             db:"password_hash"`
	Name         string    `json:"name"          db:"name"`
	Role         Role      `json:"role"          db:"role"`
	Suspended    bool      `json:"suspended"     db:"suspended"`
	CreatedAt    time.Time `json:"created_at"    db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"    db:"updated_at"`
}

// APIKey is a long-lived machine credential owned by a developer account.
// Only the prefix and a SHA-256 hash of the full key are stored; the raw
// key is shown exactly once at creation.
type APIKey struct {
	KeyID       uuid.UUID  `json:"key_id"               db:"key_id"`
	Prefix      string     `json:"prefix"               db:"prefix"`
	KeyHash     string     `json:"-"                    db:"key_hash"`
	DeveloperID uuid.UUID  `json:"developer_id"         db:"developer_id"`
	Name        string     `json:"name"                 db:"name"`
	Scopes      []string   `json:"scopes"               db:"scopes"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt   time.Time  `json:"created_at"           db:"created_at"`
}
