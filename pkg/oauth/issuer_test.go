package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/store/memory"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()

	user := &model.User{ID: uuid.New(), Subject: "auth0|bob", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateUser(ctx, user))

	issuer := NewTokenIssuer([]byte("key"), "octant-test", time.Hour, st)
	wsID := uuid.New()

	token, err := issuer.Mint(user.Subject, wsID, []string{scopes.FilesRead}, "ocapp_x")
	require.NoError(t, err)

	principal, err := issuer.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.Subject, principal.Subject)
	assert.Equal(t, user.ID, principal.UserID)
	require.NotNil(t, principal.WorkspaceID)
	assert.Equal(t, wsID, *principal.WorkspaceID)
	assert.Equal(t, []string{scopes.FilesRead}, principal.Scopes)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.CreateUser(ctx, &model.User{ID: uuid.New(), Subject: "s"}))

	minter := NewTokenIssuer([]byte("key-a"), "octant-test", time.Hour, st)
	verifier := NewTokenIssuer([]byte("key-b"), "octant-test", time.Hour, st)

	token, err := minter.Mint("s", uuid.New(), nil, "c")
	require.NoError(t, err)

	_, err = verifier.Verify(ctx, token)
	assert.True(t, errors.IsAuthentication(err))
}

func TestVerifyRejectsUnknownSubject(t *testing.T) {
	t.Parallel()
	st := memory.New()
	issuer := NewTokenIssuer([]byte("key"), "octant-test", time.Hour, st)

	token, err := issuer.Mint("never-registered", uuid.New(), nil, "c")
	require.NoError(t, err)

	_, err = issuer.Verify(context.Background(), token)
	assert.True(t, errors.IsAuthentication(err))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.CreateUser(ctx, &model.User{ID: uuid.New(), Subject: "s"}))

	issuer := NewTokenIssuer([]byte("key"), "octant-test", time.Nanosecond, st)
	token, err := issuer.Mint("s", uuid.New(), nil, "c")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = issuer.Verify(ctx, token)
	assert.True(t, errors.IsAuthentication(err))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	t.Parallel()
	issuer := NewTokenIssuer([]byte("key"), "octant-test", time.Hour, memory.New())
	_, err := issuer.Verify(context.Background(), "not.a.jwt")
	assert.True(t, errors.IsAuthentication(err))
}
