package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	stderr "errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/octantbim/octant/pkg/audit"
	"github.com/octantbim/octant/pkg/identity"
	"github.com/octantbim/octant/pkg/logger"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/secrets"
	"github.com/octantbim/octant/pkg/store"
)

// Protocol lifetimes.
const (
	// CodeTTL bounds authorization-code validity.
	CodeTTL = 10 * time.Minute
	// DefaultRefreshTokenTTL is the refresh-token lifetime when not configured.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// RefreshTokenPrefix marks refresh tokens on the wire.
const RefreshTokenPrefix = "octr_"

// codeBytes is the entropy behind an authorization code (>=128 bits).
const codeBytes = 32

// refreshTokenBytes is the entropy behind a refresh-token secret.
const refreshTokenBytes = 32

// RFC 6749 error codes.
const (
	errInvalidRequest          = "invalid_request"
	errInvalidClient           = "invalid_client"
	errInvalidGrant            = "invalid_grant"
	errInvalidScope            = "invalid_scope"
	errUnsupportedResponseType = "unsupported_response_type"
	errUnsupportedGrantType    = "unsupported_grant_type"
)

// ServerRoutes implements the /oauth endpoints.
type ServerRoutes struct {
	store      store.Store
	issuer     *TokenIssuer
	audit      *audit.Recorder
	refreshTTL time.Duration
}

// ServerRouter builds the /oauth router. The authorize endpoint relies on an
// upstream authenticator having placed a principal in the request context.
func ServerRouter(s store.Store, issuer *TokenIssuer, rec *audit.Recorder, refreshTTL time.Duration) http.Handler {
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	routes := &ServerRoutes{store: s, issuer: issuer, audit: rec, refreshTTL: refreshTTL}

	r := chi.NewRouter()
	r.Get("/authorize", routes.authorize)
	r.Post("/authorize", routes.authorize)
	r.Post("/token", routes.token)
	r.Post("/revoke", routes.revoke)
	return r
}

// tokenResponse is the successful /token payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// protocolError is the RFC 6749 error payload.
type protocolError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeProtocolError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(protocolError{Error: code, ErrorDescription: description}); err != nil {
		logger.Errorf("encoding oauth error response: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("encoding oauth response: %v", err)
	}
}

// redirectError sends the error back to the client's registered redirect URI.
// Only reached after the redirect URI itself has been validated.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, code, description, state string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		writeProtocolError(w, http.StatusBadRequest, errInvalidRequest, "malformed redirect_uri")
		return
	}
	q := target.Query()
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// authorize handles the authorization-code request. client_id and
// redirect_uri failures answer with JSON and never redirect, closing the
// open-redirect channel for code exfiltration; everything after that
// redirects back with an error parameter.
func (s *ServerRoutes) authorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeProtocolError(w, http.StatusBadRequest, errInvalidRequest, "malformed request")
		return
	}
	form := r.Form

	app, err := s.store.GetAppByClientID(r.Context(), form.Get("client_id"))
	if err != nil || !app.IsEnabled {
		writeProtocolError(w, http.StatusBadRequest, errInvalidRequest, "unknown or disabled client_id")
		return
	}

	redirectURI := form.Get("redirect_uri")
	if redirectURI == "" || !app.HasRedirectURI(redirectURI) {
		writeProtocolError(w, http.StatusBadRequest, errInvalidRequest, "redirect_uri is not registered for this client")
		return
	}

	state := form.Get("state")
	if form.Get("response_type") != "code" {
		redirectError(w, r, redirectURI, errUnsupportedResponseType, "only response_type=code is supported", state)
		return
	}

	challenge := form.Get("code_challenge")
	method := model.PKCEMethod(form.Get("code_challenge_method"))
	if challenge != "" && method == "" {
		method = model.PKCEMethodS256
	}
	if app.ClientType == model.ClientTypePublic && challenge == "" {
		redirectError(w, r, redirectURI, errInvalidRequest, "code_challenge is required for public clients", state)
		return
	}
	if challenge != "" && method != model.PKCEMethodS256 && method != model.PKCEMethodPlain {
		redirectError(w, r, redirectURI, errInvalidRequest, "unsupported code_challenge_method", state)
		return
	}

	requested := scopes.Parse(form.Get("scope"))
	for _, scope := range requested {
		if !app.AllowsScope(scope) {
			redirectError(w, r, redirectURI, errInvalidScope, "scope not allowed for this client", state)
			return
		}
	}

	principal, ok := identity.FromContext(r.Context())
	if !ok {
		writeProtocolError(w, http.StatusUnauthorized, errInvalidRequest, "authorization requires an authenticated user")
		return
	}

	codeValue, err := secrets.Random(codeBytes)
	if err != nil {
		writeProtocolError(w, http.StatusInternalServerError, errInvalidRequest, "code generation failed")
		return
	}
	now := time.Now().UTC()
	code := &model.AuthorizationCode{
		Code:          codeValue,
		AppID:         app.ID,
		UserID:        principal.UserID,
		WorkspaceID:   app.WorkspaceID,
		RedirectURI:   redirectURI,
		Scopes:        requested,
		PKCEChallenge: challenge,
		PKCEMethod:    method,
		ExpiresAt:     now.Add(CodeTTL),
		CreatedAt:     now,
	}
	if err := s.store.CreateCode(r.Context(), code); err != nil {
		logger.Errorf("storing authorization code: %v", err)
		writeProtocolError(w, http.StatusInternalServerError, errInvalidRequest, "code persistence failed")
		return
	}

	target, _ := url.Parse(redirectURI)
	q := target.Query()
	q.Set("code", codeValue)
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// token handles both grant types after authenticating the client.
func (s *ServerRoutes) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeProtocolError(w, http.StatusBadRequest, errInvalidRequest, "malformed request")
		return
	}
	form := r.PostForm

	clientID := form.Get("client_id")
	if clientID == "" {
		writeProtocolError(w, http.StatusBadRequest, errInvalidRequest, "client_id is required")
		return
	}
	app, err := s.store.GetAppByClientID(r.Context(), clientID)
	if err != nil || !app.IsEnabled {
		writeProtocolError(w, http.StatusUnauthorized, errInvalidClient, "unknown or disabled client")
		return
	}
	if app.ClientType == model.ClientTypeConfidential {
		secret := form.Get("client_secret")
		if secret == "" || !secrets.Verify(secret, app.ClientSecretHash, app.ClientSecretSalt) {
			writeProtocolError(w, http.StatusUnauthorized, errInvalidClient, "client authentication failed")
			return
		}
	}

	switch form.Get("grant_type") {
	case "authorization_code":
		s.exchangeCode(w, r, app, form)
	case "refresh_token":
		s.rotateRefreshToken(w, r, app, form)
	case "":
		writeProtocolError(w, http.StatusBadRequest, errInvalidRequest, "grant_type is required")
	default:
		writeProtocolError(w, http.StatusBadRequest, errUnsupportedGrantType, "unsupported grant_type")
	}
}

// exchangeCode redeems an authorization code. The code is one-shot: it is
// marked used even when PKCE or redirect_uri verification fails, so a stolen
// code cannot be retried.
func (s *ServerRoutes) exchangeCode(w http.ResponseWriter, r *http.Request, app *model.OAuthApp, form url.Values) {
	ctx := r.Context()
	codeValue := form.Get("code")
	if codeValue == "" {
		writeProtocolError(w, http.StatusBadRequest, errInvalidRequest, "code is required")
		return
	}

	code, err := s.store.GetCode(ctx, codeValue)
	if err != nil {
		writeProtocolError(w, http.StatusBadRequest, errInvalidGrant, "authorization code is invalid")
		return
	}
	if code.AppID != app.ID || !code.Consumable(time.Now().UTC()) {
		writeProtocolError(w, http.StatusBadRequest, errInvalidGrant, "authorization code is invalid or expired")
		return
	}

	if form.Get("redirect_uri") != code.RedirectURI {
		s.burnCode(ctx, codeValue)
		writeProtocolError(w, http.StatusBadRequest, errInvalidGrant, "redirect_uri does not match the authorization request")
		return
	}
	if code.PKCEChallenge != "" && !verifyPKCE(code, form.Get("code_verifier")) {
		s.burnCode(ctx, codeValue)
		writeProtocolError(w, http.StatusBadRequest, errInvalidGrant, "PKCE verification failed")
		return
	}

	// Conditional consumption picks one winner among concurrent redeemers.
	if err := s.store.ConsumeCode(ctx, codeValue, time.Now().UTC()); err != nil {
		writeProtocolError(w, http.StatusBadRequest, errInvalidGrant, "authorization code is invalid")
		return
	}

	s.issueTokens(w, r, app, code.UserID, code.WorkspaceID, code.Scopes, uuid.New(), "")
}

// burnCode marks a code used after a failed verification.
func (s *ServerRoutes) burnCode(ctx context.Context, codeValue string) {
	if err := s.store.ConsumeCode(ctx, codeValue, time.Now().UTC()); err != nil && !stderr.Is(err, store.ErrConflict) {
		logger.Warnf("burning authorization code: %v", err)
	}
}

func verifyPKCE(code *model.AuthorizationCode, verifier string) bool {
	if verifier == "" {
		return false
	}
	switch code.PKCEMethod {
	case model.PKCEMethodS256:
		derived := oauth2.S256ChallengeFromVerifier(verifier)
		return subtle.ConstantTimeCompare([]byte(derived), []byte(code.PKCEChallenge)) == 1
	case model.PKCEMethodPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(code.PKCEChallenge)) == 1
	default:
		return false
	}
}

// rotateRefreshToken implements rotation with family-wide reuse kill: a
// presented token that was already rotated away revokes every member of its
// family, descendants included.
func (s *ServerRoutes) rotateRefreshToken(w http.ResponseWriter, r *http.Request, app *model.OAuthApp, form url.Values) {
	ctx := r.Context()
	presented := form.Get("refresh_token")
	if presented == "" {
		writeProtocolError(w, http.StatusBadRequest, errInvalidRequest, "refresh_token is required")
		return
	}

	hash := secrets.Digest(presented)
	token, err := s.store.GetRefreshTokenByHash(ctx, hash)
	if err != nil || token.AppID != app.ID {
		writeProtocolError(w, http.StatusBadRequest, errInvalidGrant, "refresh token is invalid")
		return
	}

	now := time.Now().UTC()
	if token.RevokedAt != nil {
		// Reuse of a rotated-away token: kill the whole family.
		if n, err := s.store.RevokeTokenFamily(ctx, token.FamilyID, now); err != nil {
			logger.Errorf("revoking token family %s: %v", token.FamilyID, err)
		} else if n > 0 {
			logger.Warnw("refresh token reuse detected, family revoked",
				"family_id", token.FamilyID, "revoked", n)
		}
		writeProtocolError(w, http.StatusBadRequest, errInvalidGrant, "refresh token has been revoked")
		return
	}
	if !token.Active(now) {
		writeProtocolError(w, http.StatusBadRequest, errInvalidGrant, "refresh token has expired")
		return
	}

	// Conditional revocation picks one winner; the loser's presentation is
	// a reuse by definition.
	if err := s.store.RevokeRefreshToken(ctx, hash, now); err != nil {
		if stderr.Is(err, store.ErrConflict) {
			if _, famErr := s.store.RevokeTokenFamily(ctx, token.FamilyID, now); famErr != nil {
				logger.Errorf("revoking token family %s: %v", token.FamilyID, famErr)
			}
		}
		writeProtocolError(w, http.StatusBadRequest, errInvalidGrant, "refresh token is invalid")
		return
	}

	s.issueTokens(w, r, app, token.UserID, token.WorkspaceID, token.Scopes, token.FamilyID, hash)
}

// issueTokens mints the access token and a refresh token sharing familyID,
// then writes the token response.
func (s *ServerRoutes) issueTokens(w http.ResponseWriter, r *http.Request, app *model.OAuthApp,
	userID, workspaceID uuid.UUID, scopeSet []string, familyID uuid.UUID, previousHash string) {
	ctx := r.Context()

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		writeProtocolError(w, http.StatusBadRequest, errInvalidGrant, "grant subject no longer exists")
		return
	}

	accessToken, err := s.issuer.Mint(user.Subject, workspaceID, scopeSet, app.ClientID)
	if err != nil {
		logger.Errorf("minting access token: %v", err)
		writeProtocolError(w, http.StatusInternalServerError, errInvalidRequest, "token issuance failed")
		return
	}

	refreshSecret, err := secrets.Random(refreshTokenBytes)
	if err != nil {
		writeProtocolError(w, http.StatusInternalServerError, errInvalidRequest, "token issuance failed")
		return
	}
	refreshValue := RefreshTokenPrefix + refreshSecret

	now := time.Now().UTC()
	refresh := &model.RefreshToken{
		TokenHash:         secrets.Digest(refreshValue),
		AppID:             app.ID,
		UserID:            userID,
		WorkspaceID:       workspaceID,
		Scopes:            scopeSet,
		FamilyID:          familyID,
		PreviousTokenHash: previousHash,
		ExpiresAt:         now.Add(s.refreshTTL),
		CreatedAt:         now,
	}
	if err := s.store.CreateRefreshToken(ctx, refresh); err != nil {
		logger.Errorf("storing refresh token: %v", err)
		writeProtocolError(w, http.StatusInternalServerError, errInvalidRequest, "token issuance failed")
		return
	}

	s.audit.Record(ctx, model.AuditSubjectOAuthApp, app.ID, model.AuditRefreshTokenIssued, userID,
		map[string]any{"familyId": familyID.String()}, audit.ClientIP(r))

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.TTL().Seconds()),
		RefreshToken: refreshValue,
		Scope:        scopes.Join(scopeSet),
	})
}

// revoke marks the presented refresh token revoked. Per RFC 7009 the answer
// is 200 regardless of whether the token was known, valid or well-formed.
func (s *ServerRoutes) revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err == nil {
		if presented := r.PostForm.Get("token"); presented != "" {
			hash := secrets.Digest(presented)
			if err := s.store.RevokeRefreshToken(r.Context(), hash, time.Now().UTC()); err != nil &&
				!stderr.Is(err, store.ErrNotFound) && !stderr.Is(err, store.ErrConflict) {
				logger.Errorf("revoking refresh token: %v", err)
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}
