// Package identity represents authenticated principals and their context plumbing.
package identity

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Principal represents an authenticated user for the duration of a request.
// It is minted either by the OAuth access-token validator or by the PAT
// authenticator; the scope gate treats both identically.
type Principal struct {
	// Subject is the opaque external identity string (the JWT 'sub' claim).
	Subject string

	// UserID is the resolved internal user id.
	UserID uuid.UUID

	// WorkspaceID is the workspace this credential is bound to (the 'tid'
	// claim). Nil means the credential is user-scoped across all of the
	// user's memberships, e.g. a session-cookie caller.
	WorkspaceID *uuid.UUID

	// Scopes are the capability strings granted to this credential.
	Scopes []string

	// Token is the original bearer token (for pass-through scenarios).
	// This is redacted in String() and MarshalJSON() to prevent leakage.
	Token string
}

// HasScope reports whether the principal carries the given scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// BoundTo reports whether the principal may act inside the given workspace.
// An unbound principal passes; membership is checked separately.
func (p *Principal) BoundTo(workspaceID uuid.UUID) bool {
	return p.WorkspaceID == nil || *p.WorkspaceID == workspaceID
}

// String returns a representation with sensitive fields redacted so the
// principal is safe to log.
func (p *Principal) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Principal{Subject:%q}", p.Subject)
}

// MarshalJSON implements json.Marshaler and redacts the bearer token.
func (p *Principal) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}

	type safePrincipal struct {
		Subject     string     `json:"subject"`
		UserID      uuid.UUID  `json:"userId"`
		WorkspaceID *uuid.UUID `json:"workspaceId,omitempty"`
		Scopes      []string   `json:"scopes"`
		Token       string     `json:"token,omitempty"`
	}

	token := p.Token
	if token != "" {
		token = "REDACTED"
	}

	return json.Marshal(&safePrincipal{
		Subject:     p.Subject,
		UserID:      p.UserID,
		WorkspaceID: p.WorkspaceID,
		Scopes:      p.Scopes,
		Token:       token,
	})
}
