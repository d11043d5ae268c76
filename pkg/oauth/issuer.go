package oauth

import (
	"context"
	stderr "errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/identity"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/store"
)

// DefaultAccessTokenTTL is the access-token lifetime when not configured.
const DefaultAccessTokenTTL = time.Hour

// accessClaims is the access-token claim set: sub carries the user subject,
// tid the bound workspace, scp the space-joined scopes.
type accessClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid,omitempty"`
	Scope    string `json:"scp"`
	ClientID string `json:"client_id"`
}

// TokenIssuer mints and validates HMAC-signed access tokens. The signing key
// is process-wide and rotated out-of-band.
type TokenIssuer struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	store      store.UserStore
}

// NewTokenIssuer creates a token issuer. A zero ttl falls back to
// DefaultAccessTokenTTL.
func NewTokenIssuer(signingKey []byte, issuer string, ttl time.Duration, users store.UserStore) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return &TokenIssuer{signingKey: signingKey, issuer: issuer, ttl: ttl, store: users}
}

// TTL returns the configured access-token lifetime.
func (i *TokenIssuer) TTL() time.Duration { return i.ttl }

// Mint signs an access token for the subject bound to the workspace.
func (i *TokenIssuer) Mint(subject string, workspaceID uuid.UUID, scopeSet []string, clientID string) (string, error) {
	now := time.Now().UTC()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
		TenantID: workspaceID.String(),
		Scope:    scopes.Join(scopeSet),
		ClientID: clientID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return "", errors.NewTransient("signing access token", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer access token, resolving its subject
// to an internal user. Implements the scope gate's Verifier contract.
func (i *TokenIssuer) Verify(ctx context.Context, token string) (*identity.Principal, error) {
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, stderr.New("unexpected signing method")
		}
		return i.signingKey, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, errors.NewAuthentication("invalid access token")
	}

	user, err := i.store.GetUserBySubject(ctx, claims.Subject)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, errors.NewAuthentication("unknown token subject")
		}
		return nil, errors.NewTransient("resolving token subject", err)
	}

	principal := &identity.Principal{
		Subject: claims.Subject,
		UserID:  user.ID,
		Scopes:  scopes.Parse(claims.Scope),
		Token:   token,
	}
	if claims.TenantID != "" {
		tid, err := uuid.Parse(claims.TenantID)
		if err != nil {
			return nil, errors.NewAuthentication("malformed tid claim")
		}
		principal.WorkspaceID = &tid
	}
	return principal, nil
}
