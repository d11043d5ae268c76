package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octantbim/octant/pkg/api/render"
	"github.com/octantbim/octant/pkg/audit"
	"github.com/octantbim/octant/pkg/blob"
	"github.com/octantbim/octant/pkg/catalog"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/oauth"
	"github.com/octantbim/octant/pkg/pat"
	"github.com/octantbim/octant/pkg/queue"
	"github.com/octantbim/octant/pkg/ratelimit"
	"github.com/octantbim/octant/pkg/roles"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/store/memory"
	"github.com/octantbim/octant/pkg/upload"
)

type apiFixture struct {
	store  *memory.Store
	blobs  *blob.MemoryStore
	issuer *oauth.TokenIssuer
	deps   Deps
	router http.Handler
}

// newAPIFixture wires the full route tree against in-memory backends.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st := memory.New()
	blobs := blob.NewMemoryStore()
	rec := audit.NewRecorder(st)
	issuer := oauth.NewTokenIssuer([]byte("test-signing-key"), "octant-test", time.Hour, st)
	pats := pat.NewService(st, rec)

	deps := Deps{
		Store:         st,
		Blobs:         blobs,
		Checker:       roles.NewChecker(st),
		Audit:         rec,
		Issuer:        issuer,
		Apps:          oauth.NewService(st, rec),
		PATs:          pats,
		Uploads:       upload.NewService(st, blobs, 0, 0),
		Catalog:       catalog.NewService(st, blobs, queue.NewMemoryQueue(16)),
		Authenticator: scopes.NewAuthenticator(issuer, pats, render.Error),
		Limiter:       ratelimit.NewLimiter(),
		RefreshTTL:    time.Hour,
	}
	return &apiFixture{store: st, blobs: blobs, issuer: issuer, deps: deps, router: NewRouter(deps)}
}

func (f *apiFixture) seedUser(t *testing.T, subject string) *model.User {
	t.Helper()
	user := &model.User{ID: uuid.New(), Subject: subject, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateUser(context.Background(), user))
	return user
}

func (f *apiFixture) seedWorkspace(t *testing.T, owner uuid.UUID) *model.Workspace {
	t.Helper()
	now := time.Now().UTC()
	ws := &model.Workspace{ID: uuid.New(), Name: "acme", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, f.store.CreateWorkspace(context.Background(), ws, &model.WorkspaceMembership{
		ID:          uuid.New(),
		WorkspaceID: ws.ID,
		UserID:      owner,
		Role:        model.WorkspaceRoleOwner,
		CreatedAt:   now,
	}))
	return ws
}

func (f *apiFixture) seedProject(t *testing.T, wsID uuid.UUID) *model.Project {
	t.Helper()
	now := time.Now().UTC()
	project := &model.Project{ID: uuid.New(), WorkspaceID: wsID, Name: "hq", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, f.store.CreateProject(context.Background(), project))
	return project
}

// mint signs a workspace-bound access token for the user.
func (f *apiFixture) mint(t *testing.T, user *model.User, wsID uuid.UUID, tokenScopes ...string) string {
	t.Helper()
	if len(tokenScopes) == 0 {
		tokenScopes = scopes.All()
	}
	token, err := f.issuer.Mint(user.Subject, wsID, tokenScopes, "test-client")
	require.NoError(t, err)
	return token
}

// do runs one request through the router. A non-nil body is sent as JSON
// unless it is already a []byte.
func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	report := decodeBody[struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}](t, rec)
	assert.Equal(t, "Healthy", report.Status)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "database", report.Checks[0].Name)
	assert.Equal(t, "storage", report.Checks[1].Name)
}

func TestCorrelationHeaders(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	// An inbound correlation id is echoed on both headers.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderCorrelationID, "trace-123")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get(HeaderCorrelationID))
	assert.Equal(t, "trace-123", rec.Header().Get(HeaderRequestID))

	// Without one, a fresh id lands on both.
	rec = f.do(t, http.MethodGet, "/healthz", "", nil)
	generated := rec.Header().Get(HeaderCorrelationID)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, rec.Header().Get(HeaderRequestID))
}

func TestMissingTokenRejected(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/workspaces", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decodeBody[struct {
		Error string `json:"error"`
	}](t, rec)
	assert.Equal(t, "authentication", body.Error)
}

func TestWorkspaceAndProjectLifecycle(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	user := f.seedUser(t, "auth0|alice")
	ws := f.seedWorkspace(t, user.ID)
	token := f.mint(t, user, ws.ID)

	rec := f.do(t, http.MethodPost, "/api/v1/workspaces/"+ws.ID.String()+"/projects", token,
		map[string]string{"name": "site-a", "description": "ground works"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	project := decodeBody[model.Project](t, rec)
	assert.Equal(t, "site-a", project.Name)
	assert.Equal(t, ws.ID, project.WorkspaceID)

	rec = f.do(t, http.MethodGet, "/api/v1/projects/"+project.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/workspaces/"+ws.ID.String()+"/projects", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[[]model.Project](t, rec)
	require.Len(t, listed, 1)
	assert.Equal(t, project.ID, listed[0].ID)

	// A nameless project is rejected before any storage write.
	rec = f.do(t, http.MethodPost, "/api/v1/workspaces/"+ws.ID.String()+"/projects", token,
		map[string]string{"description": "no name"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	user := f.seedUser(t, "auth0|alice")
	ws := f.seedWorkspace(t, user.ID)
	project := f.seedProject(t, ws.ID)
	token := f.mint(t, user, ws.ID)
	content := []byte("ISO-10303-21; HEADER; ENDSEC; DATA; ENDSEC; END-ISO-10303-21;")

	base := "/api/v1/projects/" + project.ID.String() + "/files/uploads"
	rec := f.do(t, http.MethodPost, base, token, map[string]any{
		"fileName":          "tower.ifc",
		"contentType":       "application/x-step",
		"expectedSizeBytes": len(content),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reserved := decodeBody[struct {
		Session     model.UploadSession `json:"session"`
		Constraints struct {
			MaxFileSizeBytes int64 `json:"maxFileSizeBytes"`
		} `json:"constraints"`
	}](t, rec)
	assert.Equal(t, model.UploadStatusReserved, reserved.Session.Status)
	assert.Positive(t, reserved.Constraints.MaxFileSizeBytes)

	sessionPath := base + "/" + reserved.Session.ID.String()
	rec = f.do(t, http.MethodPost, sessionPath+"/content", token, content)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, sessionPath+"/commit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	committed := decodeBody[struct {
		Session model.UploadSession `json:"session"`
		File    model.File          `json:"file"`
	}](t, rec)
	assert.Equal(t, model.UploadStatusCommitted, committed.Session.Status)
	assert.Equal(t, model.FileCategoryIfc, committed.File.Category)

	rec = f.do(t, http.MethodGet, "/api/v1/files/"+committed.File.ID.String()+"/content", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
	assert.Equal(t, "application/x-step", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="tower.ifc"`, rec.Header().Get("Content-Disposition"))

	// Committing twice is an invalid state.
	rec = f.do(t, http.MethodPost, sessionPath+"/commit", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadContentMultipart(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	user := f.seedUser(t, "auth0|alice")
	ws := f.seedWorkspace(t, user.ID)
	project := f.seedProject(t, ws.ID)
	token := f.mint(t, user, ws.ID)
	content := []byte("multipart ifc payload")

	base := "/api/v1/projects/" + project.ID.String() + "/files/uploads"
	rec := f.do(t, http.MethodPost, base, token, map[string]any{"fileName": "a.ifc"})
	require.Equal(t, http.StatusCreated, rec.Code)
	reserved := decodeBody[struct {
		Session model.UploadSession `json:"session"`
	}](t, rec)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "a.ifc")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, base+"/"+reserved.Session.ID.String()+"/content", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	rec = f.do(t, http.MethodPost, base+"/"+reserved.Session.ID.String()+"/commit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	committed := decodeBody[struct {
		File model.File `json:"file"`
	}](t, rec)
	assert.Equal(t, int64(len(content)), committed.File.SizeBytes)
}

func TestListFilesClampsPageSize(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	user := f.seedUser(t, "auth0|alice")
	ws := f.seedWorkspace(t, user.ID)
	project := f.seedProject(t, ws.ID)
	token := f.mint(t, user, ws.ID)

	rec := f.do(t, http.MethodGet, "/api/v1/projects/"+project.ID.String()+"/files?pageSize=500", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[struct {
		Page     int `json:"page"`
		PageSize int `json:"pageSize"`
	}](t, rec)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.PageSize)
}

// A caller from another workspace probing a file id gets the same 404 as a
// nonexistent id, never a 403.
func TestForeignFileProbeIsNotFound(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	owner := f.seedUser(t, "auth0|alice")
	ws := f.seedWorkspace(t, owner.ID)
	project := f.seedProject(t, ws.ID)

	file := &model.File{
		ID:         uuid.New(),
		ProjectID:  project.ID,
		Name:       "secret.ifc",
		Kind:       model.FileKindSource,
		Category:   model.FileCategoryIfc,
		StorageKey: "src/secret.ifc",
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateFile(context.Background(), file))

	outsider := f.seedUser(t, "auth0|mallory")
	outsiderWS := f.seedWorkspace(t, outsider.ID)
	token := f.mint(t, outsider, outsiderWS.ID, scopes.FilesRead)

	for _, path := range []string{
		"/api/v1/files/" + file.ID.String(),
		"/api/v1/files/" + file.ID.String() + "/content",
		"/api/v1/files/" + uuid.NewString(),
	} {
		rec := f.do(t, http.MethodGet, path, token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestReserveRateLimited(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	user := f.seedUser(t, "auth0|alice")
	ws := f.seedWorkspace(t, user.ID)
	project := f.seedProject(t, ws.ID)
	token := f.mint(t, user, ws.ID)

	base := "/api/v1/projects/" + project.ID.String() + "/files/uploads"
	for i := 0; i < ratelimit.DefaultReservePolicy.PermitLimit; i++ {
		rec := f.do(t, http.MethodPost, base, token, map[string]any{"fileName": fmt.Sprintf("f%d.ifc", i)})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodPost, base, token, map[string]any{"fileName": "over.ifc"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	body := decodeBody[struct {
		Error string `json:"error"`
	}](t, rec)
	assert.Equal(t, "rate_limited", body.Error)
}

// A configured reserve policy replaces the built-in default at the router.
func TestConfiguredReservePolicyApplies(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	f.deps.Policies = ratelimit.Policies{
		Reserve: ratelimit.Policy{Name: "UploadReserve", PermitLimit: 1, Window: time.Minute},
	}
	f.router = NewRouter(f.deps)

	user := f.seedUser(t, "auth0|alice")
	ws := f.seedWorkspace(t, user.ID)
	project := f.seedProject(t, ws.ID)
	token := f.mint(t, user, ws.ID)

	base := "/api/v1/projects/" + project.ID.String() + "/files/uploads"
	rec := f.do(t, http.MethodPost, base, token, map[string]any{"fileName": "a.ifc"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, base, token, map[string]any{"fileName": "b.ifc"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestDemotingLastOwnerRejected(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	user := f.seedUser(t, "auth0|alice")
	ws := f.seedWorkspace(t, user.ID)
	token := f.mint(t, user, ws.ID)

	rec := f.do(t, http.MethodPut,
		"/api/v1/workspaces/"+ws.ID.String()+"/members/"+user.ID.String(), token,
		map[string]string{"role": "member"})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodDelete,
		"/api/v1/workspaces/"+ws.ID.String()+"/members/"+user.ID.String(), token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// A PAT created over the API authenticates follow-up API calls.
func TestPATLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	user := f.seedUser(t, "auth0|alice")
	ws := f.seedWorkspace(t, user.ID)
	jwt := f.mint(t, user, ws.ID)

	base := "/api/v1/workspaces/" + ws.ID.String() + "/pats"
	rec := f.do(t, http.MethodPost, base, jwt, map[string]any{
		"name":   "ci",
		"scopes": []string{scopes.WorkspacesRead, scopes.FilesRead},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[struct {
		Token model.PersonalAccessToken `json:"token"`
		Value string                    `json:"value"`
	}](t, rec)
	require.NotEmpty(t, created.Value)

	rec = f.do(t, http.MethodGet, "/api/v1/workspaces/"+ws.ID.String(), created.Value, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The PAT does not carry pats:write, so it cannot mint siblings.
	rec = f.do(t, http.MethodPost, base, created.Value, map[string]any{
		"name": "escalation", "scopes": []string{scopes.WorkspacesRead},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Revoking over the API cuts off the credential.
	rec = f.do(t, http.MethodPost, base+"/"+created.Token.ID.String()+"/revoke", jwt, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/workspaces/"+ws.ID.String(), created.Value, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBoundTokenCannotCrossWorkspaces(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	user := f.seedUser(t, "auth0|alice")
	home := f.seedWorkspace(t, user.ID)
	other := f.seedWorkspace(t, user.ID)
	token := f.mint(t, user, home.ID)

	rec := f.do(t, http.MethodGet, "/api/v1/workspaces/"+home.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Same user, same memberships; the credential's binding decides.
	rec = f.do(t, http.MethodGet, "/api/v1/workspaces/"+other.ID.String(), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/workspaces", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[[]model.Workspace](t, rec)
	require.Len(t, listed, 1)
	assert.Equal(t, home.ID, listed[0].ID)
}
