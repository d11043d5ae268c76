package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/octantbim/octant/pkg/audit"
	"github.com/octantbim/octant/pkg/identity"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/secrets"
	"github.com/octantbim/octant/pkg/store/memory"
)

const testRedirectURI = "https://viewer.example/callback"

type serverFixture struct {
	store  *memory.Store
	router http.Handler
	issuer *TokenIssuer
	user   *model.User
	ws     *model.Workspace
	app    *model.OAuthApp
	secret string
}

// newServerFixture seeds a user, a workspace and an enabled OAuth app and
// builds the protocol router around them.
func newServerFixture(t *testing.T, clientType model.ClientType) *serverFixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()

	now := time.Now().UTC()
	user := &model.User{ID: uuid.New(), Subject: "auth0|alice", DisplayName: "Alice", CreatedAt: now}
	require.NoError(t, st.CreateUser(ctx, user))

	ws := &model.Workspace{ID: uuid.New(), Name: "acme", CreatedAt: now, UpdatedAt: now}
	owner := &model.WorkspaceMembership{
		ID: uuid.New(), WorkspaceID: ws.ID, UserID: user.ID,
		Role: model.WorkspaceRoleOwner, CreatedAt: now,
	}
	require.NoError(t, st.CreateWorkspace(ctx, ws, owner))

	app := &model.OAuthApp{
		ID:              uuid.New(),
		WorkspaceID:     ws.ID,
		Name:            "viewer",
		ClientType:      clientType,
		ClientID:        "ocapp_test",
		RedirectURIs:    []string{testRedirectURI},
		AllowedScopes:   []string{scopes.FilesRead, scopes.ModelsRead},
		IsEnabled:       true,
		CreatedAt:       now,
		UpdatedAt:       now,
		CreatedByUserID: user.ID,
	}
	f := &serverFixture{store: st, user: user, ws: ws, app: app}
	if clientType == model.ClientTypeConfidential {
		var err error
		f.secret, err = secrets.Random(32)
		require.NoError(t, err)
		app.ClientSecretHash, app.ClientSecretSalt, err = secrets.Hash(f.secret)
		require.NoError(t, err)
	}
	require.NoError(t, st.CreateApp(ctx, app))

	f.issuer = NewTokenIssuer([]byte("test-signing-key"), "octant-test", time.Hour, st)
	f.router = ServerRouter(st, f.issuer, audit.NewRecorder(st), time.Hour)
	return f
}

// authorize drives GET /oauth/authorize as the fixture user and returns the
// redirect location.
func (f *serverFixture) authorize(t *testing.T, query url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/authorize?"+query.Encode(), nil)
	principal := &identity.Principal{Subject: f.user.Subject, UserID: f.user.ID}
	req = req.WithContext(identity.WithPrincipal(req.Context(), principal))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// token drives POST /oauth/token with form values.
func (f *serverFixture) token(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// codeFromRedirect extracts the authorization code from a 302 Location.
func codeFromRedirect(t *testing.T, rec *httptest.ResponseRecorder) (code, state string) {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc.Query().Get("code"), loc.Query().Get("state")
}

func TestAuthorizationCodeFlowWithPKCE(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, model.ClientTypePublic)

	verifier := oauth2.GenerateVerifier()
	rec := f.authorize(t, url.Values{
		"response_type":         {"code"},
		"client_id":             {f.app.ClientID},
		"redirect_uri":          {testRedirectURI},
		"scope":                 {scopes.FilesRead + " " + scopes.ModelsRead},
		"state":                 {"xyz"},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(verifier)},
		"code_challenge_method": {"S256"},
	})
	code, state := codeFromRedirect(t, rec)
	require.NotEmpty(t, code)
	assert.Equal(t, "xyz", state)

	rec = f.token(t, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {f.app.ClientID},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.True(t, strings.HasPrefix(resp.RefreshToken, RefreshTokenPrefix))
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, scopes.FilesRead+" "+scopes.ModelsRead, resp.Scope)

	principal, err := f.issuer.Verify(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, principal.UserID)
	require.NotNil(t, principal.WorkspaceID)
	assert.Equal(t, f.ws.ID, *principal.WorkspaceID)
	assert.ElementsMatch(t, []string{scopes.FilesRead, scopes.ModelsRead}, principal.Scopes)
}

func TestAuthorizationCodeIsOneShot(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, model.ClientTypePublic)

	verifier := oauth2.GenerateVerifier()
	rec := f.authorize(t, url.Values{
		"response_type":  {"code"},
		"client_id":      {f.app.ClientID},
		"redirect_uri":   {testRedirectURI},
		"code_challenge": {oauth2.S256ChallengeFromVerifier(verifier)},
	})
	code, _ := codeFromRedirect(t, rec)

	exchange := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {f.app.ClientID},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	}
	require.Equal(t, http.StatusOK, f.token(t, exchange).Code)

	rec = f.token(t, exchange)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_grant")
}

// A failed PKCE check burns the code: a later attempt with the correct
// verifier must not succeed.
func TestFailedPKCEBurnsCode(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, model.ClientTypePublic)

	verifier := oauth2.GenerateVerifier()
	rec := f.authorize(t, url.Values{
		"response_type":  {"code"},
		"client_id":      {f.app.ClientID},
		"redirect_uri":   {testRedirectURI},
		"code_challenge": {oauth2.S256ChallengeFromVerifier(verifier)},
	})
	code, _ := codeFromRedirect(t, rec)

	rec = f.token(t, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {f.app.ClientID},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {"wrong-verifier-wrong-verifier-wrong-verifier"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.token(t, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {f.app.ClientID},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_grant")
}

func TestPublicClientRequiresChallenge(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, model.ClientTypePublic)

	rec := f.authorize(t, url.Values{
		"response_type": {"code"},
		"client_id":     {f.app.ClientID},
		"redirect_uri":  {testRedirectURI},
		"state":         {"s1"},
	})
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid_request", loc.Query().Get("error"))
	assert.Equal(t, "s1", loc.Query().Get("state"))
}

// client_id and redirect_uri failures must answer directly, never redirect.
func TestAuthorizeRejectsWithoutRedirect(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, model.ClientTypePublic)

	tests := []struct {
		name  string
		query url.Values
	}{
		{"unknown client", url.Values{
			"response_type": {"code"},
			"client_id":     {"ocapp_nope"},
			"redirect_uri":  {testRedirectURI},
		}},
		{"unregistered redirect", url.Values{
			"response_type": {"code"},
			"client_id":     {f.app.ClientID},
			"redirect_uri":  {"https://attacker.example/cb"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.authorize(t, tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, rec.Header().Get("Location"))
		})
	}
}

func TestConfidentialClientAuthentication(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, model.ClientTypeConfidential)

	rec := f.token(t, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {f.app.ClientID},
		"client_secret": {"not-the-secret"},
		"code":          {"irrelevant"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_client")
}

// obtainTokens runs the full code flow and returns the token response.
func (f *serverFixture) obtainTokens(t *testing.T) tokenResponse {
	t.Helper()
	verifier := oauth2.GenerateVerifier()
	rec := f.authorize(t, url.Values{
		"response_type":  {"code"},
		"client_id":      {f.app.ClientID},
		"redirect_uri":   {testRedirectURI},
		"scope":          {scopes.FilesRead},
		"code_challenge": {oauth2.S256ChallengeFromVerifier(verifier)},
	})
	code, _ := codeFromRedirect(t, rec)
	rec = f.token(t, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {f.app.ClientID},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// refresh presents a refresh token for rotation.
func (f *serverFixture) refresh(t *testing.T, refreshToken string) *httptest.ResponseRecorder {
	t.Helper()
	return f.token(t, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {f.app.ClientID},
		"refresh_token": {refreshToken},
	})
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, model.ClientTypePublic)
	first := f.obtainTokens(t)

	rec := f.refresh(t, first.RefreshToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, first.Scope, second.Scope)
}

// Presenting a rotated-away refresh token revokes the whole family, the
// freshly issued descendant included.
func TestRefreshReuseKillsFamily(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, model.ClientTypePublic)
	first := f.obtainTokens(t)

	rec := f.refresh(t, first.RefreshToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var second tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))

	// Replay the original token.
	rec = f.refresh(t, first.RefreshToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_grant")

	// The descendant must be dead too.
	rec = f.refresh(t, second.RefreshToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_grant")
}

// Revocation answers 200 for valid, unknown and garbage tokens alike.
func TestRevokeAlwaysSucceeds(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, model.ClientTypePublic)
	issued := f.obtainTokens(t)

	revoke := func(token string) int {
		form := url.Values{"token": {token}}
		req := httptest.NewRequest(http.MethodPost, "/revoke", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, revoke(issued.RefreshToken))
	assert.Equal(t, http.StatusOK, revoke(issued.RefreshToken)) // already revoked
	assert.Equal(t, http.StatusOK, revoke("octr_never-issued"))
	assert.Equal(t, http.StatusOK, revoke(""))

	// The revoked token no longer rotates.
	rec := f.refresh(t, issued.RefreshToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenRejectsUnknownGrantType(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, model.ClientTypePublic)

	rec := f.token(t, url.Values{
		"grant_type": {"password"},
		"client_id":  {f.app.ClientID},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported_grant_type")
}

func TestAuthorizeRejectsDisallowedScope(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, model.ClientTypePublic)

	rec := f.authorize(t, url.Values{
		"response_type":  {"code"},
		"client_id":      {f.app.ClientID},
		"redirect_uri":   {testRedirectURI},
		"scope":          {scopes.WorkspacesWrite},
		"code_challenge": {oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier())},
	})
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid_scope", loc.Query().Get("error"))
}
