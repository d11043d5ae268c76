package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ClientType distinguishes public clients (PKCE-only) from confidential
// clients (secret-bearing).
type ClientType string

// Client types.
const (
	ClientTypePublic       ClientType = "public"
	ClientTypeConfidential ClientType = "confidential"
)

// OAuthApp is a registered OAuth client owned by a workspace.
type OAuthApp struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspaceId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ClientType  ClientType `json:"clientType"`
	ClientID    string     `json:"clientId"`

	// ClientSecretHash is the PBKDF2-SHA256 hash of the client secret, with
	// its per-secret salt. Confidential clients only; never serialized.
	ClientSecretHash string `json:"-"`
	ClientSecretSalt string `json:"-"`

	RedirectURIs    []string  `json:"redirectUris"`
	AllowedScopes   []string  `json:"allowedScopes"`
	IsEnabled       bool      `json:"isEnabled"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	CreatedByUserID uuid.UUID `json:"createdByUserId"`
}

// HasRedirectURI reports whether uri exactly matches a registered redirect URI.
func (a *OAuthApp) HasRedirectURI(uri string) bool {
	for _, registered := range a.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AllowsScope reports whether the scope is in the app's allowed set.
func (a *OAuthApp) AllowsScope(scope string) bool {
	for _, allowed := range a.AllowedScopes {
		if allowed == scope {
			return true
		}
	}
	return false
}

// PKCEMethod is the code-challenge transform.
type PKCEMethod string

// PKCE methods.
const (
	PKCEMethodS256  PKCEMethod = "S256"
	PKCEMethodPlain PKCEMethod = "plain"
)

// AuthorizationCode is a one-shot authorization grant. The code value is a
// cryptographically random secret indexed directly because the lifetime is
// minutes.
type AuthorizationCode struct {
	Code          string     `json:"-"`
	AppID         uuid.UUID  `json:"appId"`
	UserID        uuid.UUID  `json:"userId"`
	WorkspaceID   uuid.UUID  `json:"workspaceId"`
	RedirectURI   string     `json:"redirectUri"`
	Scopes        []string   `json:"scopes"`
	PKCEChallenge string     `json:"-"`
	PKCEMethod    PKCEMethod `json:"pkceMethod"`
	UsedAt        *time.Time `json:"usedAt,omitempty"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Consumable reports whether the code can still be redeemed at now.
func (c *AuthorizationCode) Consumable(now time.Time) bool {
	return c.UsedAt == nil && now.Before(c.ExpiresAt)
}

// RefreshToken is one link in a rotation chain. Only the SHA-256 of the
// secret is stored; FamilyID is shared across the chain so reuse of any
// revoked member can kill every descendant.
type RefreshToken struct {
	TokenHash         string     `json:"-"`
	AppID             uuid.UUID  `json:"appId"`
	UserID            uuid.UUID  `json:"userId"`
	WorkspaceID       uuid.UUID  `json:"workspaceId"`
	Scopes            []string   `json:"scopes"`
	FamilyID          uuid.UUID  `json:"familyId"`
	PreviousTokenHash string     `json:"-"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastRotatedAt     *time.Time `json:"lastRotatedAt,omitempty"`
}

// Active reports whether the token can be presented at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Revoke marks the token revoked. Revoking twice is an error so rotation
// races surface instead of silently overlapping.
func (t *RefreshToken) Revoke(now time.Time) error {
	if t.RevokedAt != nil {
		return fmt.Errorf("refresh token already revoked at %s", t.RevokedAt)
	}
	t.RevokedAt = &now
	return nil
}
