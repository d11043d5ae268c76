package upload

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/octantbim/octant/pkg/blob"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/store/memory"
)

type uploadFixture struct {
	store   *memory.Store
	blobs   *blob.MemoryStore
	svc     *Service
	project *model.Project
}

func newUploadFixture(t *testing.T, maxSize int64, ttl time.Duration) *uploadFixture {
	t.Helper()
	st := memory.New()
	blobs := blob.NewMemoryStore()
	now := time.Now().UTC()
	project := &model.Project{
		ID:          uuid.New(),
		WorkspaceID: uuid.New(),
		Name:        "site-a",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, st.CreateProject(context.Background(), project))
	return &uploadFixture{
		store:   st,
		blobs:   blobs,
		svc:     NewService(st, blobs, maxSize, ttl),
		project: project,
	}
}

func TestReserveUploadCommitRoundTrip(t *testing.T) {
	t.Parallel()
	f := newUploadFixture(t, 0, 0)
	ctx := context.Background()
	content := []byte("ISO-10303-21; HEADER; ENDSEC; DATA; ENDSEC; END-ISO-10303-21;")
	size := int64(len(content))

	session, err := f.svc.Reserve(ctx, f.project, ReserveParams{
		FileName:          "tower.ifc",
		ContentType:       "application/x-step",
		ExpectedSizeBytes: &size,
	})
	require.NoError(t, err)
	assert.Equal(t, model.UploadStatusReserved, session.Status)
	assert.Equal(t, model.UploadModeServerProxy, session.UploadMode)

	session, err = f.svc.UploadContent(ctx, f.project, session.ID, bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, model.UploadStatusUploading, session.Status)

	session, file, err := f.svc.Commit(ctx, f.project, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UploadStatusCommitted, session.Status)
	require.NotNil(t, session.CommittedFileID)
	assert.Equal(t, file.ID, *session.CommittedFileID)
	assert.Equal(t, model.FileKindSource, file.Kind)
	assert.Equal(t, model.FileCategoryIfc, file.Category)
	assert.Equal(t, size, file.SizeBytes)
	assert.Equal(t, "memory", file.StorageProvider)

	rc, err := f.blobs.Get(ctx, file.StorageKey)
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, stored)
}

func TestCommitIsOneShot(t *testing.T) {
	t.Parallel()
	f := newUploadFixture(t, 0, 0)
	ctx := context.Background()

	session, err := f.svc.Reserve(ctx, f.project, ReserveParams{FileName: "a.ifc"})
	require.NoError(t, err)
	_, err = f.svc.UploadContent(ctx, f.project, session.ID, strings.NewReader("x"))
	require.NoError(t, err)
	_, _, err = f.svc.Commit(ctx, f.project, session.ID)
	require.NoError(t, err)

	_, _, err = f.svc.Commit(ctx, f.project, session.ID)
	assert.True(t, errors.IsInvalidState(err))
}

func TestCommitWithoutContentRejected(t *testing.T) {
	t.Parallel()
	f := newUploadFixture(t, 0, 0)
	ctx := context.Background()

	session, err := f.svc.Reserve(ctx, f.project, ReserveParams{FileName: "a.ifc"})
	require.NoError(t, err)

	_, _, err = f.svc.Commit(ctx, f.project, session.ID)
	assert.True(t, errors.IsInvalidState(err))
}

func TestSizeMismatchRejectsAndDiscards(t *testing.T) {
	t.Parallel()
	f := newUploadFixture(t, 0, 0)
	ctx := context.Background()
	expected := int64(100)

	session, err := f.svc.Reserve(ctx, f.project, ReserveParams{
		FileName:          "a.ifc",
		ExpectedSizeBytes: &expected,
	})
	require.NoError(t, err)

	_, err = f.svc.UploadContent(ctx, f.project, session.ID, strings.NewReader("short"))
	assert.True(t, errors.IsValidation(err))

	// The rejected bytes must not linger in temp storage.
	_, err = f.blobs.Stat(ctx, session.TempStorageKey)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestOversizeUploadRejected(t *testing.T) {
	t.Parallel()
	f := newUploadFixture(t, 8, 0)
	ctx := context.Background()

	session, err := f.svc.Reserve(ctx, f.project, ReserveParams{FileName: "a.ifc"})
	require.NoError(t, err)

	_, err = f.svc.UploadContent(ctx, f.project, session.ID, strings.NewReader("way past the byte limit"))
	assert.True(t, errors.IsValidation(err))
}

func TestReserveValidatesExpectedSize(t *testing.T) {
	t.Parallel()
	f := newUploadFixture(t, 8, 0)
	negative, huge := int64(-1), int64(1000)

	tests := []struct {
		name string
		size *int64
	}{
		{"negative", &negative},
		{"over the cap", &huge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Reserve(context.Background(), f.project, ReserveParams{
				FileName:          "a.ifc",
				ExpectedSizeBytes: tt.size,
			})
			assert.True(t, errors.IsValidation(err))
		})
	}

	_, err := f.svc.Reserve(context.Background(), f.project, ReserveParams{})
	assert.True(t, errors.IsValidation(err))
}

func TestExpiredSessionSettlesLazily(t *testing.T) {
	t.Parallel()
	f := newUploadFixture(t, 0, time.Nanosecond)
	ctx := context.Background()

	session, err := f.svc.Reserve(ctx, f.project, ReserveParams{FileName: "a.ifc"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = f.svc.UploadContent(ctx, f.project, session.ID, strings.NewReader("x"))
	assert.True(t, errors.IsInvalidState(err))

	stored, err := f.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UploadStatusExpired, stored.Status)
}

func TestSessionHiddenFromOtherProjects(t *testing.T) {
	t.Parallel()
	f := newUploadFixture(t, 0, 0)
	ctx := context.Background()

	session, err := f.svc.Reserve(ctx, f.project, ReserveParams{FileName: "a.ifc"})
	require.NoError(t, err)

	other := &model.Project{ID: uuid.New(), WorkspaceID: f.project.WorkspaceID, Name: "site-b"}
	require.NoError(t, f.store.CreateProject(ctx, other))

	_, err = f.svc.UploadContent(ctx, other, session.ID, strings.NewReader("x"))
	assert.True(t, errors.IsNotFound(err))
}

func TestReservePresignFallback(t *testing.T) {
	t.Parallel()
	f := newUploadFixture(t, 0, 0)

	// The memory driver cannot presign by default; the session falls back
	// to proxying.
	session, err := f.svc.Reserve(context.Background(), f.project, ReserveParams{
		FileName:           "a.ifc",
		PreferDirectUpload: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.UploadModeServerProxy, session.UploadMode)
	assert.Empty(t, session.DirectUploadURL)

	f.blobs.PresignBase = "https://blobs.example"
	session, err = f.svc.Reserve(context.Background(), f.project, ReserveParams{
		FileName:           "b.ifc",
		PreferDirectUpload: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.UploadModeDirectToBlob, session.UploadMode)
	assert.Equal(t, "https://blobs.example/"+session.TempStorageKey, session.DirectUploadURL)
}

func TestThrottledUploadDeliversAllBytes(t *testing.T) {
	t.Parallel()
	f := newUploadFixture(t, 0, 0)
	ctx := context.Background()
	f.svc.SetIngressLimit(rate.NewLimiter(rate.Inf, 4))

	session, err := f.svc.Reserve(ctx, f.project, ReserveParams{FileName: "a.ifc"})
	require.NoError(t, err)

	content := bytes.Repeat([]byte("abcd"), 64)
	_, err = f.svc.UploadContent(ctx, f.project, session.ID, bytes.NewReader(content))
	require.NoError(t, err)

	session, file, err := f.svc.Commit(ctx, f.project, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UploadStatusCommitted, session.Status)
	assert.Equal(t, int64(len(content)), file.SizeBytes)
}
