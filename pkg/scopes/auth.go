package scopes

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/identity"
	"github.com/octantbim/octant/pkg/model"
)

// Verifier turns a bearer credential into a principal. The OAuth access
// token validator and the PAT authenticator both implement it.
type Verifier interface {
	Verify(ctx context.Context, token string) (*identity.Principal, error)
}

// ErrorWriter renders a classified error as a response; the API layer
// injects its JSON renderer so this package stays transport-shaped only.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Authenticator is the bearer gate: it extracts the Authorization header,
// routes personal access tokens and JWTs to their verifiers and stores the
// resulting principal in the request context.
type Authenticator struct {
	jwtVerifier Verifier
	patVerifier Verifier
	writeError  ErrorWriter
}

// NewAuthenticator creates the bearer gate.
func NewAuthenticator(jwtVerifier, patVerifier Verifier, writeError ErrorWriter) *Authenticator {
	return &Authenticator{jwtVerifier: jwtVerifier, patVerifier: patVerifier, writeError: writeError}
}

// Middleware authenticates every request passing through it.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		verifier := a.jwtVerifier
		if strings.HasPrefix(token, model.PATPrefix) {
			verifier = a.patVerifier
		}

		principal, err := verifier.Verify(r.Context(), token)
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), principal)))
	})
}

// Optional authenticates when an Authorization header is present and passes
// anonymous requests through untouched. The OAuth protocol endpoints use it:
// /token authenticates clients itself, while /authorize needs the end user's
// principal.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		a.Middleware(next).ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.NewAuthentication("missing bearer token")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errors.NewAuthentication("malformed authorization header")
	}
	return strings.TrimSpace(token), nil
}

// Require returns a middleware rejecting principals without the scope. The
// scope check runs before any domain logic so an insufficient credential is
// always a 403, never a 404.
func (a *Authenticator) Require(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := identity.FromContext(r.Context())
			if !ok {
				a.writeError(w, r, errors.NewAuthentication("missing bearer token"))
				return
			}
			if !principal.HasScope(scope) {
				a.writeError(w, r, errors.NewAuthorization("insufficient scope"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authorize checks the scope and the workspace binding of the principal.
// Handlers call it once the target workspace is known; a credential bound to
// a different workspace is rejected before any domain lookup.
func Authorize(principal *identity.Principal, scope string, workspaceID uuid.UUID) error {
	if !principal.HasScope(scope) {
		return errors.NewAuthorization("insufficient scope")
	}
	if !principal.BoundTo(workspaceID) {
		return errors.NewAuthorization("credential is bound to another workspace")
	}
	return nil
}
