// Package roles resolves effective roles and enforces the membership rules.
//
// Explicit project memberships always win; without one, the workspace role
// derives a project role (Owner and Admin act as project admins everywhere,
// Members can view, Guests see nothing they were not added to).
package roles

import (
	"context"
	stderr "errors"

	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/store"
)

// Checker resolves roles against the store.
type Checker struct {
	store store.Store
}

// NewChecker creates a role checker.
func NewChecker(s store.Store) *Checker {
	return &Checker{store: s}
}

// WorkspaceRole returns the user's role in the workspace. A non-member gets
// an authorization error.
func (c *Checker) WorkspaceRole(ctx context.Context, workspaceID, userID uuid.UUID) (model.WorkspaceRole, error) {
	m, err := c.store.GetMembership(ctx, workspaceID, userID)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return "", errors.NewAuthorization("not a member of this workspace")
		}
		return "", errors.NewTransient("loading workspace membership", err)
	}
	return m.Role, nil
}

// ProjectRole returns the user's effective role in the project. An explicit
// project membership wins over the derived workspace role.
func (c *Checker) ProjectRole(ctx context.Context, project *model.Project, userID uuid.UUID) (model.ProjectRole, error) {
	if pm, err := c.store.GetProjectMembership(ctx, project.ID, userID); err == nil {
		return pm.Role, nil
	} else if !stderr.Is(err, store.ErrNotFound) {
		return "", errors.NewTransient("loading project membership", err)
	}

	wsRole, err := c.WorkspaceRole(ctx, project.WorkspaceID, userID)
	if err != nil {
		return "", err
	}
	switch {
	case wsRole.AtLeast(model.WorkspaceRoleAdmin):
		return model.ProjectRoleAdmin, nil
	case wsRole == model.WorkspaceRoleMember:
		return model.ProjectRoleViewer, nil
	default:
		return "", errors.NewAuthorization("no access to this project")
	}
}

// RequireWorkspaceRole fails unless the user holds at least min in the
// workspace.
func (c *Checker) RequireWorkspaceRole(ctx context.Context, workspaceID, userID uuid.UUID, min model.WorkspaceRole) error {
	role, err := c.WorkspaceRole(ctx, workspaceID, userID)
	if err != nil {
		return err
	}
	if !role.AtLeast(min) {
		return errors.NewAuthorization("insufficient workspace role")
	}
	return nil
}

// RequireProjectRole fails unless the user's effective project role is at
// least min.
func (c *Checker) RequireProjectRole(ctx context.Context, project *model.Project, userID uuid.UUID, min model.ProjectRole) error {
	role, err := c.ProjectRole(ctx, project, userID)
	if err != nil {
		return err
	}
	if !role.AtLeast(min) {
		return errors.NewAuthorization("insufficient project role")
	}
	return nil
}

// EnsureNotLastOwner rejects removing or demoting an Owner when they are the
// workspace's only one. Callers invoke this before any change that would
// reduce the Owner count.
func (c *Checker) EnsureNotLastOwner(ctx context.Context, workspaceID uuid.UUID) error {
	count, err := c.store.CountOwners(ctx, workspaceID)
	if err != nil {
		return errors.NewTransient("counting workspace owners", err)
	}
	if count <= 1 {
		return errors.NewInvalidState("workspace must retain at least one owner")
	}
	return nil
}
