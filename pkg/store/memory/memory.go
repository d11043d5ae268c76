// Package memory provides an in-memory implementation of store.Store.
//
// The implementation is thread-safe and suitable for tests and
// single-process development. Values are copied on the way in and out so
// callers never share mutable state with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/store"
)

// Store implements store.Store with mutex-guarded maps.
type Store struct {
	mu sync.RWMutex

	users       map[uuid.UUID]model.User
	usersBySub  map[string]uuid.UUID
	workspaces  map[uuid.UUID]model.Workspace
	memberships map[uuid.UUID]model.WorkspaceMembership
	invites     map[uuid.UUID]model.WorkspaceInvite
	projects    map[uuid.UUID]model.Project
	projMembers map[uuid.UUID]model.ProjectMembership
	files       map[uuid.UUID]model.File
	sessions    map[uuid.UUID]model.UploadSession
	models      map[uuid.UUID]model.Model
	versions    map[uuid.UUID]model.ModelVersion
	apps        map[uuid.UUID]model.OAuthApp
	codes       map[string]model.AuthorizationCode
	refresh     map[string]model.RefreshToken
	pats        map[uuid.UUID]model.PersonalAccessToken
	audits      []model.AuditLog
	elements    map[uuid.UUID][]store.ElementRecord
	elementByID map[uuid.UUID]uuid.UUID // element id -> model version id
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:       make(map[uuid.UUID]model.User),
		usersBySub:  make(map[string]uuid.UUID),
		workspaces:  make(map[uuid.UUID]model.Workspace),
		memberships: make(map[uuid.UUID]model.WorkspaceMembership),
		invites:     make(map[uuid.UUID]model.WorkspaceInvite),
		projects:    make(map[uuid.UUID]model.Project),
		projMembers: make(map[uuid.UUID]model.ProjectMembership),
		files:       make(map[uuid.UUID]model.File),
		sessions:    make(map[uuid.UUID]model.UploadSession),
		models:      make(map[uuid.UUID]model.Model),
		versions:    make(map[uuid.UUID]model.ModelVersion),
		apps:        make(map[uuid.UUID]model.OAuthApp),
		codes:       make(map[string]model.AuthorizationCode),
		refresh:     make(map[string]model.RefreshToken),
		pats:        make(map[uuid.UUID]model.PersonalAccessToken),
		elements:    make(map[uuid.UUID][]store.ElementRecord),
		elementByID: make(map[uuid.UUID]uuid.UUID),
	}
}

// HealthCheck always succeeds for the in-memory store.
func (*Store) HealthCheck(_ context.Context) error { return nil }

// Close releases nothing; the store lives in process memory.
func (*Store) Close() error { return nil }

// CreateUser stores a new user.
func (s *Store) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersBySub[user.Subject]; exists {
		return store.ErrAlreadyExists
	}
	s.users[user.ID] = *user
	s.usersBySub[user.Subject] = user.ID
	return nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

// GetUserBySubject retrieves a user by its opaque subject string.
func (s *Store) GetUserBySubject(_ context.Context, subject string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersBySub[subject]
	if !ok {
		return nil, store.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

// TouchLastLogin records the user's last login time.
func (s *Store) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.LastLoginAt = &at
	s.users[id] = u
	return nil
}

// CreateWorkspace stores the workspace and its founding Owner membership.
func (s *Store) CreateWorkspace(_ context.Context, ws *model.Workspace, owner *model.WorkspaceMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workspaces[ws.ID]; exists {
		return store.ErrAlreadyExists
	}
	s.workspaces[ws.ID] = *ws
	s.memberships[owner.ID] = *owner
	return nil
}

// GetWorkspace retrieves a workspace by id.
func (s *Store) GetWorkspace(_ context.Context, id uuid.UUID) (*model.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.workspaces[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ws, nil
}

// UpdateWorkspace persists workspace field changes.
func (s *Store) UpdateWorkspace(_ context.Context, ws *model.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workspaces[ws.ID]; !ok {
		return store.ErrNotFound
	}
	s.workspaces[ws.ID] = *ws
	return nil
}

// ListWorkspacesForUser returns workspaces the user is a member of, ordered
// by creation time.
func (s *Store) ListWorkspacesForUser(_ context.Context, userID uuid.UUID) ([]model.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Workspace
	for _, m := range s.memberships {
		if m.UserID == userID {
			if ws, ok := s.workspaces[m.WorkspaceID]; ok {
				result = append(result, ws)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// GetMembership retrieves a workspace membership.
func (s *Store) GetMembership(_ context.Context, workspaceID, userID uuid.UUID) (*model.WorkspaceMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.memberships {
		if m.WorkspaceID == workspaceID && m.UserID == userID {
			return &m, nil
		}
	}
	return nil, store.ErrNotFound
}

// ListMembers returns all memberships of a workspace.
func (s *Store) ListMembers(_ context.Context, workspaceID uuid.UUID) ([]model.WorkspaceMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkspaceMembership
	for _, m := range s.memberships {
		if m.WorkspaceID == workspaceID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// AddMember stores a membership, enforcing (workspace, user) uniqueness.
func (s *Store) AddMember(_ context.Context, m *model.WorkspaceMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.memberships {
		if existing.WorkspaceID == m.WorkspaceID && existing.UserID == m.UserID {
			return store.ErrAlreadyExists
		}
	}
	s.memberships[m.ID] = *m
	return nil
}

// UpdateMemberRole changes a member's workspace role.
func (s *Store) UpdateMemberRole(_ context.Context, workspaceID, userID uuid.UUID, role model.WorkspaceRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.memberships {
		if m.WorkspaceID == workspaceID && m.UserID == userID {
			m.Role = role
			s.memberships[id] = m
			return nil
		}
	}
	return store.ErrNotFound
}

// RemoveMember deletes a membership.
func (s *Store) RemoveMember(_ context.Context, workspaceID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.memberships {
		if m.WorkspaceID == workspaceID && m.UserID == userID {
			delete(s.memberships, id)
			return nil
		}
	}
	return store.ErrNotFound
}

// CountOwners counts Owner memberships of a workspace.
func (s *Store) CountOwners(_ context.Context, workspaceID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.memberships {
		if m.WorkspaceID == workspaceID && m.Role == model.WorkspaceRoleOwner {
			count++
		}
	}
	return count, nil
}

// CreateInvite stores a workspace invite.
func (s *Store) CreateInvite(_ context.Context, invite *model.WorkspaceInvite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.invites {
		if existing.WorkspaceID == invite.WorkspaceID &&
			existing.Email == invite.Email &&
			existing.Status == model.InviteStatusPending {
			return store.ErrAlreadyExists
		}
	}
	s.invites[invite.ID] = *invite
	return nil
}

// GetInviteByToken retrieves an invite by its opaque token.
func (s *Store) GetInviteByToken(_ context.Context, token string) (*model.WorkspaceInvite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, invite := range s.invites {
		if invite.Token == token {
			return &invite, nil
		}
	}
	return nil, store.ErrNotFound
}

// ListInvites returns all invites of a workspace.
func (s *Store) ListInvites(_ context.Context, workspaceID uuid.UUID) ([]model.WorkspaceInvite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkspaceInvite
	for _, invite := range s.invites {
		if invite.WorkspaceID == workspaceID {
			result = append(result, invite)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// SettleInvite moves a pending invite to the given status.
func (s *Store) SettleInvite(_ context.Context, id uuid.UUID, status model.InviteStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invite, ok := s.invites[id]
	if !ok {
		return store.ErrNotFound
	}
	if invite.Status != model.InviteStatusPending {
		return store.ErrConflict
	}
	invite.Status = status
	s.invites[id] = invite
	return nil
}

// CreateProject stores a project.
func (s *Store) CreateProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[p.ID]; exists {
		return store.ErrAlreadyExists
	}
	s.projects[p.ID] = *p
	return nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(_ context.Context, id uuid.UUID) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

// UpdateProject persists project field changes.
func (s *Store) UpdateProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[p.ID]; !ok {
		return store.ErrNotFound
	}
	s.projects[p.ID] = *p
	return nil
}

// ListProjects returns all projects in a workspace.
func (s *Store) ListProjects(_ context.Context, workspaceID uuid.UUID) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Project
	for _, p := range s.projects {
		if p.WorkspaceID == workspaceID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// GetProjectMembership retrieves a project membership.
func (s *Store) GetProjectMembership(_ context.Context, projectID, userID uuid.UUID) (*model.ProjectMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.projMembers {
		if m.ProjectID == projectID && m.UserID == userID {
			return &m, nil
		}
	}
	return nil, store.ErrNotFound
}

// ListProjectMembers returns all memberships of a project.
func (s *Store) ListProjectMembers(_ context.Context, projectID uuid.UUID) ([]model.ProjectMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ProjectMembership
	for _, m := range s.projMembers {
		if m.ProjectID == projectID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// UpsertProjectMembership inserts or replaces a project membership.
func (s *Store) UpsertProjectMembership(_ context.Context, m *model.ProjectMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.projMembers {
		if existing.ProjectID == m.ProjectID && existing.UserID == m.UserID {
			existing.Role = m.Role
			s.projMembers[id] = existing
			return nil
		}
	}
	s.projMembers[m.ID] = *m
	return nil
}

// RemoveProjectMembership deletes a project membership.
func (s *Store) RemoveProjectMembership(_ context.Context, projectID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.projMembers {
		if m.ProjectID == projectID && m.UserID == userID {
			delete(s.projMembers, id)
			return nil
		}
	}
	return store.ErrNotFound
}
