package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/store"
)

// CreateFile stores a file record.
func (s *Store) CreateFile(_ context.Context, f *model.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[f.ID]; exists {
		return store.ErrAlreadyExists
	}
	s.files[f.ID] = *f
	return nil
}

// GetFile retrieves a file by id, soft-deleted or not.
func (s *Store) GetFile(_ context.Context, id uuid.UUID) (*model.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

// ListFiles returns non-deleted files matching the filter, newest first.
func (s *Store) ListFiles(_ context.Context, projectID uuid.UUID, filter store.FileFilter) ([]model.File, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.File
	for _, f := range s.files {
		if f.ProjectID != projectID || f.IsDeleted {
			continue
		}
		if filter.Kind != "" && f.Kind != filter.Kind {
			continue
		}
		if filter.Category != "" && f.Category != filter.Category {
			continue
		}
		matched = append(matched, f)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	page := filter.Page.Clamp()
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// SoftDeleteFile marks the file deleted; deleting twice conflicts.
func (s *Store) SoftDeleteFile(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return store.ErrNotFound
	}
	if f.IsDeleted {
		return store.ErrConflict
	}
	f.IsDeleted = true
	f.DeletedAt = &at
	s.files[id] = f
	return nil
}

// ProjectUsage sums non-deleted file sizes in a project.
func (s *Store) ProjectUsage(_ context.Context, projectID uuid.UUID) (*store.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usage := &store.Usage{CalculatedAt: time.Now().UTC()}
	for _, f := range s.files {
		if f.ProjectID == projectID && !f.IsDeleted {
			usage.TotalSizeBytes += f.SizeBytes
			usage.FileCount++
		}
	}
	return usage, nil
}

// WorkspaceUsage sums non-deleted file sizes across a workspace's projects.
func (s *Store) WorkspaceUsage(_ context.Context, workspaceID uuid.UUID) (*store.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projectIDs := make(map[uuid.UUID]bool)
	for id, p := range s.projects {
		if p.WorkspaceID == workspaceID {
			projectIDs[id] = true
		}
	}

	usage := &store.Usage{CalculatedAt: time.Now().UTC()}
	for _, f := range s.files {
		if projectIDs[f.ProjectID] && !f.IsDeleted {
			usage.TotalSizeBytes += f.SizeBytes
			usage.FileCount++
		}
	}
	return usage, nil
}

// CreateSession stores an upload session.
func (s *Store) CreateSession(_ context.Context, sess *model.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return store.ErrAlreadyExists
	}
	s.sessions[sess.ID] = *sess
	return nil
}

// GetSession retrieves an upload session by id.
func (s *Store) GetSession(_ context.Context, id uuid.UUID) (*model.UploadSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sess, nil
}

// UpdateSession persists the session conditioned on its prior status.
func (s *Store) UpdateSession(_ context.Context, sess *model.UploadSession, fromStatus model.UploadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[sess.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != fromStatus {
		return store.ErrConflict
	}
	s.sessions[sess.ID] = *sess
	return nil
}

// CreateModel stores a model.
func (s *Store) CreateModel(_ context.Context, m *model.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.models[m.ID]; exists {
		return store.ErrAlreadyExists
	}
	s.models[m.ID] = *m
	return nil
}

// GetModel retrieves a model by id.
func (s *Store) GetModel(_ context.Context, id uuid.UUID) (*model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.models[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

// ListModels returns all models in a project.
func (s *Store) ListModels(_ context.Context, projectID uuid.UUID) ([]model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Model
	for _, m := range s.models {
		if m.ProjectID == projectID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// CreateVersion assigns the next version number under the lock and inserts.
func (s *Store) CreateVersion(_ context.Context, v *model.ModelVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	max := 0
	for _, existing := range s.versions {
		if existing.ModelID == v.ModelID && existing.VersionNumber > max {
			max = existing.VersionNumber
		}
	}
	v.VersionNumber = max + 1
	s.versions[v.ID] = *v
	return nil
}

// GetVersion retrieves a model version by id.
func (s *Store) GetVersion(_ context.Context, id uuid.UUID) (*model.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

// ListVersions returns versions of a model, highest version first.
func (s *Store) ListVersions(_ context.Context, modelID uuid.UUID, page store.Page) ([]model.ModelVersion, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.ModelVersion
	for _, v := range s.versions {
		if v.ModelID == modelID {
			matched = append(matched, v)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].VersionNumber > matched[j].VersionNumber })

	total := len(matched)
	p := page.Clamp()
	start := p.Offset()
	if start > total {
		start = total
	}
	end := start + p.Size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// UpdateVersion persists the version conditioned on its prior status.
func (s *Store) UpdateVersion(_ context.Context, v *model.ModelVersion, fromStatus model.VersionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.versions[v.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != fromStatus {
		return store.ErrConflict
	}
	s.versions[v.ID] = *v
	return nil
}
