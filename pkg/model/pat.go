package model

import (
	"time"

	"github.com/google/uuid"
)

// PATPrefix is the public prefix every personal access token starts with.
const PATPrefix = "ocpat_"

// PersonalAccessToken is a user-created long-lived bearer credential bound
// to a single workspace. Only TokenPrefix is stored in clear; the secret is
// PBKDF2-hashed.
type PersonalAccessToken struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspaceId"`
	UserID      uuid.UUID  `json:"userId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	TokenPrefix string     `json:"tokenPrefix"`
	TokenHash   string     `json:"-"`
	TokenSalt   string     `json:"-"`
	Scopes      []string   `json:"scopes"`
	IsRevoked   bool       `json:"isRevoked"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Usable reports whether the token authenticates at now.
func (t *PersonalAccessToken) Usable(now time.Time) bool {
	if t.IsRevoked {
		return false
	}
	if t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
		return false
	}
	return true
}
