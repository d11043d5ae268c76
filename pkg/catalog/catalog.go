// Package catalog serves file and model-version records: listings, streaming
// downloads, soft deletion, usage aggregation and version creation with job
// enqueue.
package catalog

import (
	"context"
	stderr "errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/blob"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/processing"
	"github.com/octantbim/octant/pkg/queue"
	"github.com/octantbim/octant/pkg/store"
)

// Service is the artifact catalog.
type Service struct {
	store store.Store
	blobs blob.Store
	jobs  queue.Enqueuer
}

// NewService creates the catalog.
func NewService(s store.Store, blobs blob.Store, jobs queue.Enqueuer) *Service {
	return &Service{store: s, blobs: blobs, jobs: jobs}
}

// GetFile returns the record regardless of soft-delete state.
func (s *Service) GetFile(ctx context.Context, id uuid.UUID) (*model.File, error) {
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, errors.NewNotFound("file not found")
		}
		return nil, errors.NewTransient("loading file record", err)
	}
	return f, nil
}

// ListFiles returns non-deleted files of a project, newest first, plus the
// pre-paging total.
func (s *Service) ListFiles(ctx context.Context, projectID uuid.UUID, filter store.FileFilter) ([]model.File, int, error) {
	files, total, err := s.store.ListFiles(ctx, projectID, filter)
	if err != nil {
		return nil, 0, errors.NewTransient("listing files", err)
	}
	return files, total, nil
}

// Download opens the blob behind a file. Deleted files have metadata but no
// content.
func (s *Service) Download(ctx context.Context, f *model.File) (io.ReadCloser, error) {
	if f.IsDeleted {
		return nil, errors.NewNotFound("file not found")
	}
	rc, err := s.blobs.Get(ctx, f.StorageKey)
	if err != nil {
		if stderr.Is(err, blob.ErrNotFound) {
			return nil, errors.NewNotFound("file content not found")
		}
		return nil, errors.NewTransient("opening file content", err)
	}
	return rc, nil
}

// SoftDelete marks the file deleted; the blob stays for the orphan sweeper.
func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID) error {
	err := s.store.SoftDeleteFile(ctx, id, time.Now().UTC())
	switch {
	case err == nil:
		return nil
	case stderr.Is(err, store.ErrNotFound):
		return errors.NewNotFound("file not found")
	case stderr.Is(err, store.ErrConflict):
		return errors.NewInvalidState("file is already deleted")
	default:
		return errors.NewTransient("deleting file", err)
	}
}

// ProjectUsage aggregates non-deleted file sizes for a project.
func (s *Service) ProjectUsage(ctx context.Context, projectID uuid.UUID) (*store.Usage, error) {
	usage, err := s.store.ProjectUsage(ctx, projectID)
	if err != nil {
		return nil, errors.NewTransient("aggregating project usage", err)
	}
	return usage, nil
}

// WorkspaceUsage aggregates non-deleted file sizes across a workspace.
func (s *Service) WorkspaceUsage(ctx context.Context, workspaceID uuid.UUID) (*store.Usage, error) {
	usage, err := s.store.WorkspaceUsage(ctx, workspaceID)
	if err != nil {
		return nil, errors.NewTransient("aggregating workspace usage", err)
	}
	return usage, nil
}

// CreateModel adds a model to a project.
func (s *Service) CreateModel(ctx context.Context, projectID uuid.UUID, name, description string) (*model.Model, error) {
	if name == "" {
		return nil, errors.NewValidation("model name is required")
	}
	m := &model.Model{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateModel(ctx, m); err != nil {
		return nil, errors.NewTransient("storing model", err)
	}
	return m, nil
}

// GetModel retrieves a model scoped to a project.
func (s *Service) GetModel(ctx context.Context, id uuid.UUID) (*model.Model, error) {
	m, err := s.store.GetModel(ctx, id)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, errors.NewNotFound("model not found")
		}
		return nil, errors.NewTransient("loading model", err)
	}
	return m, nil
}

// ListModels returns a project's models.
func (s *Service) ListModels(ctx context.Context, projectID uuid.UUID) ([]model.Model, error) {
	models, err := s.store.ListModels(ctx, projectID)
	if err != nil {
		return nil, errors.NewTransient("listing models", err)
	}
	return models, nil
}

// CreateVersion validates the source file, inserts the version with the next
// number and enqueues its processing job. A full queue rejects the request;
// the version row is left Pending for a later manual requeue.
func (s *Service) CreateVersion(ctx context.Context, project *model.Project, m *model.Model, ifcFileID uuid.UUID) (*model.ModelVersion, error) {
	source, err := s.GetFile(ctx, ifcFileID)
	if err != nil {
		return nil, err
	}
	if source.ProjectID != m.ProjectID {
		return nil, errors.NewNotFound("file not found")
	}
	if source.IsDeleted {
		return nil, errors.NewValidation("source file is deleted")
	}
	if source.Kind != model.FileKindSource {
		return nil, errors.NewValidation("ifcFileId must reference a source file")
	}

	version := &model.ModelVersion{
		ID:        uuid.New(),
		ModelID:   m.ID,
		IfcFileID: source.ID,
		Status:    model.VersionStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateVersion(ctx, version); err != nil {
		return nil, errors.NewTransient("storing model version", err)
	}

	envelope := queue.Envelope{
		JobID:   uuid.New(),
		JobType: processing.JobTypeProcessIfc,
		Payload: queue.Payload{
			ModelVersionID: version.ID,
			IfcFileID:      source.ID,
			WorkspaceID:    project.WorkspaceID,
			ProjectID:      project.ID,
		},
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.jobs.Enqueue(envelope); err != nil {
		if stderr.Is(err, queue.ErrFull) {
			return nil, errors.NewUnavailable("processing queue is full")
		}
		return nil, errors.NewTransient("enqueueing processing job", err)
	}
	return version, nil
}

// GetVersion retrieves a model version.
func (s *Service) GetVersion(ctx context.Context, id uuid.UUID) (*model.ModelVersion, error) {
	v, err := s.store.GetVersion(ctx, id)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, errors.NewNotFound("model version not found")
		}
		return nil, errors.NewTransient("loading model version", err)
	}
	return v, nil
}

// ListVersions returns a model's versions, newest number first, plus the
// pre-paging total.
func (s *Service) ListVersions(ctx context.Context, modelID uuid.UUID, page store.Page) ([]model.ModelVersion, int, error) {
	versions, total, err := s.store.ListVersions(ctx, modelID, page)
	if err != nil {
		return nil, 0, errors.NewTransient("listing model versions", err)
	}
	return versions, total, nil
}

// WexBim opens the viewer-geometry artifact of a version. Every guard miss
// is a plain not-found; this endpoint never mutates state.
func (s *Service) WexBim(ctx context.Context, v *model.ModelVersion) (io.ReadCloser, *model.File, error) {
	if v.Status != model.VersionStatusReady || v.WexBimFileID == nil {
		return nil, nil, errors.NewNotFound("wexbim artifact not found")
	}
	artifact, err := s.store.GetFile(ctx, *v.WexBimFileID)
	if err != nil || artifact.IsDeleted {
		return nil, nil, errors.NewNotFound("wexbim artifact not found")
	}
	rc, err := s.blobs.Get(ctx, artifact.StorageKey)
	if err != nil {
		return nil, nil, errors.NewNotFound("wexbim artifact not found")
	}
	return rc, artifact, nil
}

// QueryElements returns a version's extracted elements matching the filter.
func (s *Service) QueryElements(ctx context.Context, versionID uuid.UUID, filter store.PropertyFilter) ([]store.ElementRecord, int, error) {
	elements, total, err := s.store.QueryElements(ctx, versionID, filter)
	if err != nil {
		return nil, 0, errors.NewTransient("querying extracted elements", err)
	}
	return elements, total, nil
}

// GetElement returns one extracted element with its property and quantity
// sets, scoped to a version.
func (s *Service) GetElement(ctx context.Context, versionID, elementID uuid.UUID) (*store.ElementRecord, error) {
	rec, err := s.store.GetElement(ctx, elementID)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, errors.NewNotFound("element not found")
		}
		return nil, errors.NewTransient("loading extracted element", err)
	}
	if rec.Element.ModelVersionID != versionID {
		return nil, errors.NewNotFound("element not found")
	}
	return rec, nil
}
