package pat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octantbim/octant/pkg/audit"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/store"
	"github.com/octantbim/octant/pkg/store/memory"
)

type patFixture struct {
	store *memory.Store
	svc   *Service
	user  *model.User
	wsID  uuid.UUID
}

func newPATFixture(t *testing.T) *patFixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()

	user := &model.User{ID: uuid.New(), Subject: "auth0|carol", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateUser(ctx, user))

	return &patFixture{
		store: st,
		svc:   NewService(st, audit.NewRecorder(st)),
		user:  user,
		wsID:  uuid.New(),
	}
}

func (f *patFixture) create(t *testing.T, name string, tokenScopes ...string) (*model.PersonalAccessToken, string) {
	t.Helper()
	token, value, err := f.svc.Create(context.Background(), CreateParams{
		WorkspaceID: f.wsID,
		UserID:      f.user.ID,
		Name:        name,
		Scopes:      tokenScopes,
	})
	require.NoError(t, err)
	return token, value
}

func TestCreateTokenWireFormat(t *testing.T) {
	t.Parallel()
	f := newPATFixture(t)

	token, value, err := f.svc.Create(context.Background(), CreateParams{
		WorkspaceID: f.wsID,
		UserID:      f.user.ID,
		Name:        "ci",
		Scopes:      []string{scopes.FilesRead},
	})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(value, model.PATPrefix))
	remainder := strings.TrimPrefix(value, model.PATPrefix)
	assert.Len(t, remainder[:prefixChars], prefixChars)
	assert.Greater(t, len(remainder), prefixChars)
	assert.Equal(t, remainder[:prefixChars], token.TokenPrefix)
	assert.NotContains(t, token.TokenHash, remainder[prefixChars:])
}

func TestCreateTokenValidation(t *testing.T) {
	t.Parallel()
	f := newPATFixture(t)
	tooLong := MaxExpiryDays + 1

	tests := []struct {
		name   string
		params CreateParams
	}{
		{"missing name", CreateParams{WorkspaceID: f.wsID, UserID: f.user.ID, Scopes: []string{scopes.FilesRead}}},
		{"no scopes", CreateParams{WorkspaceID: f.wsID, UserID: f.user.ID, Name: "x"}},
		{"unknown scope", CreateParams{WorkspaceID: f.wsID, UserID: f.user.ID, Name: "x", Scopes: []string{"root:everything"}}},
		{"expiry too long", CreateParams{
			WorkspaceID: f.wsID, UserID: f.user.ID, Name: "x",
			Scopes: []string{scopes.FilesRead}, ExpiresInDays: &tooLong,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.Create(context.Background(), tt.params)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestVerifyMintsBoundPrincipal(t *testing.T) {
	t.Parallel()
	f := newPATFixture(t)
	token, value := f.create(t, "ci", scopes.FilesRead, scopes.ModelsRead)

	principal, err := f.svc.Verify(context.Background(), value)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, principal.UserID)
	require.NotNil(t, principal.WorkspaceID)
	assert.Equal(t, f.wsID, *principal.WorkspaceID)
	assert.ElementsMatch(t, []string{scopes.FilesRead, scopes.ModelsRead}, principal.Scopes)

	// Verification stamps lastUsedAt.
	stored, err := f.store.GetPAT(context.Background(), token.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastUsedAt)
}

func TestVerifyRecordsUseAudit(t *testing.T) {
	t.Parallel()
	f := newPATFixture(t)
	ctx := context.Background()
	token, value := f.create(t, "ci", scopes.FilesRead)

	_, err := f.svc.Verify(ctx, value)
	require.NoError(t, err)

	logs, err := f.svc.AuditLogs(ctx, f.wsID, token.ID, store.Page{})
	require.NoError(t, err)
	events := make([]model.AuditEvent, 0, len(logs))
	for _, entry := range logs {
		events = append(events, entry.EventType)
		if entry.EventType == model.AuditPATUsed {
			assert.Equal(t, f.user.ID, entry.ActorUserID)
		}
	}
	assert.Contains(t, events, model.AuditPATUsed)
	assert.Contains(t, events, model.AuditPATCreated)
}

func TestVerifyRejectsBadSecrets(t *testing.T) {
	t.Parallel()
	f := newPATFixture(t)
	_, value := f.create(t, "ci", scopes.FilesRead)

	tests := []struct {
		name      string
		presented string
	}{
		{"wrong prefix scheme", "Bearer " + value},
		{"truncated", value[:len(model.PATPrefix)+prefixChars]},
		{"tampered secret", value[:len(value)-4] + "AAAA"},
		{"unknown prefix", model.PATPrefix + strings.Repeat("A", prefixChars) + "secret-part"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Verify(context.Background(), tt.presented)
			assert.True(t, errors.IsAuthentication(err))
		})
	}
}

func TestRevokedTokenStopsAuthenticating(t *testing.T) {
	t.Parallel()
	f := newPATFixture(t)
	ctx := context.Background()
	token, value := f.create(t, "ci", scopes.FilesRead)

	_, err := f.svc.Revoke(ctx, f.wsID, token.ID, false, f.user.ID, "127.0.0.1")
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, value)
	assert.True(t, errors.IsAuthentication(err))

	// Revoking twice is an invalid state, and revoked tokens are frozen.
	_, err = f.svc.Revoke(ctx, f.wsID, token.ID, false, f.user.ID, "")
	assert.True(t, errors.IsInvalidState(err))
	name := "renamed"
	_, err = f.svc.Update(ctx, f.wsID, token.ID, &name, nil, f.user.ID, "")
	assert.True(t, errors.IsInvalidState(err))
}

func TestTokenHiddenAcrossWorkspaces(t *testing.T) {
	t.Parallel()
	f := newPATFixture(t)
	token, _ := f.create(t, "ci", scopes.FilesRead)

	_, err := f.svc.Get(context.Background(), uuid.New(), token.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestRevokeAuditTrailDistinguishesActor(t *testing.T) {
	t.Parallel()
	f := newPATFixture(t)
	ctx := context.Background()
	token, _ := f.create(t, "ci", scopes.FilesRead)

	admin := uuid.New()
	_, err := f.svc.Revoke(ctx, f.wsID, token.ID, true, admin, "10.0.0.1")
	require.NoError(t, err)

	logs, err := f.svc.AuditLogs(ctx, f.wsID, token.ID, store.Page{})
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, model.AuditPATRevokedByAdmin, logs[0].EventType)
	assert.Equal(t, admin, logs[0].ActorUserID)
}
