package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryForName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want FileCategory
	}{
		{"tower.ifc", FileCategoryIfc},
		{"tower.IFC", FileCategoryIfc},
		{"tower.ifcxml", FileCategoryIfc},
		{"tower.ifczip", FileCategoryIfc},
		{"tower.wexbim", FileCategoryWexBim},
		{"notes.txt", FileCategoryOther},
		{"noextension", FileCategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryForName(tt.name))
		})
	}
}

func TestUploadSessionTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from UploadStatus
		to   UploadStatus
		ok   bool
	}{
		{"reserved to uploading", UploadStatusReserved, UploadStatusUploading, true},
		{"reserved to committed", UploadStatusReserved, UploadStatusCommitted, true},
		{"reserved to expired", UploadStatusReserved, UploadStatusExpired, true},
		{"uploading retried", UploadStatusUploading, UploadStatusUploading, true},
		{"uploading to committed", UploadStatusUploading, UploadStatusCommitted, true},
		{"uploading to failed", UploadStatusUploading, UploadStatusFailed, true},
		{"committed is terminal", UploadStatusCommitted, UploadStatusUploading, false},
		{"expired is terminal", UploadStatusExpired, UploadStatusCommitted, false},
		{"failed is terminal", UploadStatusFailed, UploadStatusUploading, false},
		{"no skipping back to reserved", UploadStatusUploading, UploadStatusReserved, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &UploadSession{ID: uuid.New(), Status: tt.from}
			err := s.Transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, s.Status)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.from, s.Status)
			}
		})
	}
}

func TestUploadSessionExpiredAt(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	active := &UploadSession{Status: UploadStatusReserved, ExpiresAt: now.Add(time.Minute)}
	assert.False(t, active.ExpiredAt(now))
	assert.True(t, active.ExpiredAt(now.Add(2*time.Minute)))

	// A committed session never flips to expired, however old it is.
	committed := &UploadSession{Status: UploadStatusCommitted, ExpiresAt: now.Add(-time.Hour)}
	assert.True(t, committed.Terminal())
	assert.False(t, committed.ExpiredAt(now))
}

func TestVersionTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from VersionStatus
		to   VersionStatus
		ok   bool
	}{
		{"pending to processing", VersionStatusPending, VersionStatusProcessing, true},
		{"pending to failed", VersionStatusPending, VersionStatusFailed, true},
		{"pending cannot skip to ready", VersionStatusPending, VersionStatusReady, false},
		{"processing to ready", VersionStatusProcessing, VersionStatusReady, true},
		{"processing to failed", VersionStatusProcessing, VersionStatusFailed, true},
		{"ready is terminal", VersionStatusReady, VersionStatusProcessing, false},
		{"failed is terminal", VersionStatusFailed, VersionStatusProcessing, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &ModelVersion{ID: uuid.New(), Status: tt.from}
			err := v.Transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.from, v.Status)
			}
		})
	}
}

func TestVersionMarkReadyLinksArtifacts(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	wexbim, props := uuid.New(), uuid.New()

	v := &ModelVersion{ID: uuid.New(), Status: VersionStatusProcessing, ErrorMessage: "stale"}
	require.NoError(t, v.MarkReady(wexbim, props, now))
	assert.Equal(t, VersionStatusReady, v.Status)
	assert.Equal(t, wexbim, *v.WexBimFileID)
	assert.Equal(t, props, *v.PropertiesFileID)
	assert.Empty(t, v.ErrorMessage)
	assert.Equal(t, now, *v.ProcessedAt)
	assert.True(t, v.Terminal())

	// Ready cannot be re-settled.
	assert.Error(t, v.MarkReady(wexbim, props, now))
	assert.Error(t, v.MarkFailed("late failure", now))
}

func TestVersionMarkFailed(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	v := &ModelVersion{ID: uuid.New(), Status: VersionStatusProcessing}
	require.NoError(t, v.MarkFailed("geometry translation failed", now))
	assert.Equal(t, VersionStatusFailed, v.Status)
	assert.Equal(t, "geometry translation failed", v.ErrorMessage)
	assert.True(t, v.Terminal())
}

func TestAuthorizationCodeConsumable(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	used := now.Add(-time.Second)

	tests := []struct {
		name string
		code AuthorizationCode
		want bool
	}{
		{"fresh", AuthorizationCode{ExpiresAt: now.Add(time.Minute)}, true},
		{"expired", AuthorizationCode{ExpiresAt: now.Add(-time.Minute)}, false},
		{"already used", AuthorizationCode{ExpiresAt: now.Add(time.Minute), UsedAt: &used}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Consumable(now))
		})
	}
}

func TestRefreshTokenRevokeIsOneShot(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	tok := &RefreshToken{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, tok.Active(now))
	require.NoError(t, tok.Revoke(now))
	assert.False(t, tok.Active(now))
	assert.Error(t, tok.Revoke(now))
}

func TestPATUsable(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	tests := []struct {
		name  string
		token PersonalAccessToken
		want  bool
	}{
		{"no expiry", PersonalAccessToken{}, true},
		{"future expiry", PersonalAccessToken{ExpiresAt: &future}, true},
		{"expired", PersonalAccessToken{ExpiresAt: &past}, false},
		{"revoked", PersonalAccessToken{IsRevoked: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.Usable(now))
		})
	}
}

func TestStorageKeyDerivation(t *testing.T) {
	t.Parallel()
	ws, project, id := uuid.New(), uuid.New(), uuid.New()

	key := UploadTempKey(ws, project, id, "Tower.IFC")
	assert.Equal(t, ws.String()+"/"+project.String()+"/uploads/"+id.String()+".ifc", key)

	artifact := ArtifactKey(ws, project, id, ".wexbim")
	assert.Equal(t, ws.String()+"/"+project.String()+"/artifacts/"+id.String()+".wexbim", artifact)
}

func TestRoleOrdering(t *testing.T) {
	t.Parallel()

	assert.True(t, WorkspaceRoleOwner.AtLeast(WorkspaceRoleAdmin))
	assert.True(t, WorkspaceRoleAdmin.AtLeast(WorkspaceRoleAdmin))
	assert.False(t, WorkspaceRoleMember.AtLeast(WorkspaceRoleAdmin))
	assert.False(t, WorkspaceRoleGuest.AtLeast(WorkspaceRoleMember))
	assert.False(t, WorkspaceRole("superuser").Valid())

	assert.True(t, ProjectRoleAdmin.AtLeast(ProjectRoleEditor))
	assert.False(t, ProjectRoleViewer.AtLeast(ProjectRoleEditor))
	assert.True(t, ProjectRoleViewer.Valid())
}
