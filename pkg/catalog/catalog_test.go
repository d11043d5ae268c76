package catalog

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octantbim/octant/pkg/blob"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/processing"
	"github.com/octantbim/octant/pkg/queue"
	"github.com/octantbim/octant/pkg/store"
	"github.com/octantbim/octant/pkg/store/memory"
)

type catalogFixture struct {
	store   *memory.Store
	blobs   *blob.MemoryStore
	jobs    *queue.MemoryQueue
	svc     *Service
	project *model.Project
	model   *model.Model
}

func newCatalogFixture(t *testing.T, queueCapacity int) *catalogFixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	blobs := blob.NewMemoryStore()
	jobs := queue.NewMemoryQueue(queueCapacity)
	now := time.Now().UTC()

	project := &model.Project{ID: uuid.New(), WorkspaceID: uuid.New(), Name: "hq", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateProject(ctx, project))
	m := &model.Model{ID: uuid.New(), ProjectID: project.ID, Name: "tower", CreatedAt: now}
	require.NoError(t, st.CreateModel(ctx, m))

	return &catalogFixture{
		store:   st,
		blobs:   blobs,
		jobs:    jobs,
		svc:     NewService(st, blobs, jobs),
		project: project,
		model:   m,
	}
}

// addSourceFile records an IFC source file with its blob content.
func (f *catalogFixture) addSourceFile(t *testing.T, name string, content []byte) *model.File {
	t.Helper()
	ctx := context.Background()
	file := &model.File{
		ID:              uuid.New(),
		ProjectID:       f.project.ID,
		Name:            name,
		ContentType:     "application/x-step",
		SizeBytes:       int64(len(content)),
		Kind:            model.FileKindSource,
		Category:        model.FileCategoryIfc,
		StorageProvider: "memory",
		StorageKey:      "src/" + name,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateFile(ctx, file))
	_, err := f.blobs.Put(ctx, file.StorageKey, bytes.NewReader(content))
	require.NoError(t, err)
	return file
}

func TestCreateVersionEnqueuesJob(t *testing.T) {
	t.Parallel()
	f := newCatalogFixture(t, 4)
	ctx := context.Background()
	source := f.addSourceFile(t, "a.ifc", []byte("ifc"))

	version, err := f.svc.CreateVersion(ctx, f.project, f.model, source.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VersionStatusPending, version.Status)
	assert.Equal(t, 1, version.VersionNumber)

	envelope, ok := f.jobs.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, processing.JobTypeProcessIfc, envelope.JobType)
	assert.Equal(t, version.ID, envelope.Payload.ModelVersionID)
	assert.Equal(t, source.ID, envelope.Payload.IfcFileID)
	assert.Equal(t, f.project.WorkspaceID, envelope.Payload.WorkspaceID)
	assert.Equal(t, f.project.ID, envelope.Payload.ProjectID)

	// Version numbers increase per model.
	second, err := f.svc.CreateVersion(ctx, f.project, f.model, source.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.VersionNumber)
}

func TestCreateVersionValidatesSource(t *testing.T) {
	t.Parallel()
	f := newCatalogFixture(t, 4)
	ctx := context.Background()

	t.Run("unknown file", func(t *testing.T) {
		_, err := f.svc.CreateVersion(ctx, f.project, f.model, uuid.New())
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("file from another project", func(t *testing.T) {
		foreign := newCatalogFixture(t, 4)
		file := foreign.addSourceFile(t, "b.ifc", []byte("ifc"))
		require.NoError(t, f.store.CreateFile(ctx, file))
		_, err := f.svc.CreateVersion(ctx, f.project, f.model, file.ID)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("deleted source", func(t *testing.T) {
		file := f.addSourceFile(t, "c.ifc", []byte("ifc"))
		require.NoError(t, f.svc.SoftDelete(ctx, file.ID))
		_, err := f.svc.CreateVersion(ctx, f.project, f.model, file.ID)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("artifact instead of source", func(t *testing.T) {
		artifact := f.addSourceFile(t, "d.wexbim", []byte("geom"))
		artifact.Kind = model.FileKindArtifact
		require.NoError(t, f.store.CreateFile(ctx, artifact))
		_, err := f.svc.CreateVersion(ctx, f.project, f.model, artifact.ID)
		assert.True(t, errors.IsValidation(err))
	})
}

func TestCreateVersionFullQueueIsUnavailable(t *testing.T) {
	t.Parallel()
	f := newCatalogFixture(t, 1)
	source := f.addSourceFile(t, "a.ifc", []byte("ifc"))
	require.NoError(t, f.jobs.Enqueue(queue.Envelope{JobID: uuid.New()}))

	_, err := f.svc.CreateVersion(context.Background(), f.project, f.model, source.ID)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, errors.HTTPStatus(err))
}

func TestDownloadStreamsBlob(t *testing.T) {
	t.Parallel()
	f := newCatalogFixture(t, 4)
	ctx := context.Background()
	content := []byte("ISO-10303-21; bytes")
	file := f.addSourceFile(t, "a.ifc", content)

	rc, err := f.svc.Download(ctx, file)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestSoftDeleteHidesContentKeepsMetadata(t *testing.T) {
	t.Parallel()
	f := newCatalogFixture(t, 4)
	ctx := context.Background()
	file := f.addSourceFile(t, "a.ifc", []byte("ifc"))

	require.NoError(t, f.svc.SoftDelete(ctx, file.ID))

	// Metadata stays reachable by id; content does not.
	got, err := f.svc.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.NotNil(t, got.DeletedAt)
	_, err = f.svc.Download(ctx, got)
	assert.True(t, errors.IsNotFound(err))

	// Deleting twice is an invalid state.
	err = f.svc.SoftDelete(ctx, file.ID)
	assert.True(t, errors.IsInvalidState(err))
}

func TestUsageExcludesDeletedFiles(t *testing.T) {
	t.Parallel()
	f := newCatalogFixture(t, 4)
	ctx := context.Background()
	f.addSourceFile(t, "kept.ifc", bytes.Repeat([]byte("x"), 100))
	dropped := f.addSourceFile(t, "dropped.ifc", bytes.Repeat([]byte("x"), 50))

	require.NoError(t, f.svc.SoftDelete(ctx, dropped.ID))

	usage, err := f.svc.ProjectUsage(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), usage.TotalSizeBytes)
	assert.Equal(t, int64(1), usage.FileCount)

	wsUsage, err := f.svc.WorkspaceUsage(ctx, f.project.WorkspaceID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), wsUsage.TotalSizeBytes)
}

func TestWexBimGuards(t *testing.T) {
	t.Parallel()
	f := newCatalogFixture(t, 4)
	ctx := context.Background()

	t.Run("not ready", func(t *testing.T) {
		v := &model.ModelVersion{ID: uuid.New(), Status: model.VersionStatusProcessing}
		_, _, err := f.svc.WexBim(ctx, v)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("dangling artifact id", func(t *testing.T) {
		missing := uuid.New()
		v := &model.ModelVersion{ID: uuid.New(), Status: model.VersionStatusReady, WexBimFileID: &missing}
		_, _, err := f.svc.WexBim(ctx, v)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("ready streams geometry", func(t *testing.T) {
		artifact := f.addSourceFile(t, "a.wexbim", []byte("geometry"))
		v := &model.ModelVersion{ID: uuid.New(), Status: model.VersionStatusReady, WexBimFileID: &artifact.ID}
		rc, got, err := f.svc.WexBim(ctx, v)
		require.NoError(t, err)
		defer rc.Close()
		assert.Equal(t, artifact.ID, got.ID)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, []byte("geometry"), data)
	})
}

func TestGetElementScopedToVersion(t *testing.T) {
	t.Parallel()
	f := newCatalogFixture(t, 4)
	ctx := context.Background()
	versionID := uuid.New()

	element := model.IfcElement{
		ID:             uuid.New(),
		ModelVersionID: versionID,
		EntityLabel:    1,
		TypeName:       "IfcDoor",
		Name:           "front door",
	}
	require.NoError(t, f.store.ReplaceExtraction(ctx, versionID, []store.ElementRecord{{Element: element}}))

	rec, err := f.svc.GetElement(ctx, versionID, element.ID)
	require.NoError(t, err)
	assert.Equal(t, "IfcDoor", rec.Element.TypeName)

	// The same element is invisible through another version id.
	_, err = f.svc.GetElement(ctx, uuid.New(), element.ID)
	assert.True(t, errors.IsNotFound(err))
}
