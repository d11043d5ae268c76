// Package model defines the octant domain entities and their state machines.
//
// Entities are plain id-keyed structs; cross-references are ids rather than
// object pointers so the User/Workspace/membership cycle stays flat.
package model

import (
	"time"

	"github.com/google/uuid"
)

// WorkspaceRole is a member's role inside a workspace.
type WorkspaceRole string

// Workspace roles, ordered Guest < Member < Admin < Owner.
const (
	WorkspaceRoleGuest  WorkspaceRole = "guest"
	WorkspaceRoleMember WorkspaceRole = "member"
	WorkspaceRoleAdmin  WorkspaceRole = "admin"
	WorkspaceRoleOwner  WorkspaceRole = "owner"
)

var workspaceRoleRank = map[WorkspaceRole]int{
	WorkspaceRoleGuest:  0,
	WorkspaceRoleMember: 1,
	WorkspaceRoleAdmin:  2,
	WorkspaceRoleOwner:  3,
}

// AtLeast reports whether the role ranks at or above min.
func (r WorkspaceRole) AtLeast(min WorkspaceRole) bool {
	return workspaceRoleRank[r] >= workspaceRoleRank[min]
}

// Valid reports whether the role is one of the defined workspace roles.
func (r WorkspaceRole) Valid() bool {
	_, ok := workspaceRoleRank[r]
	return ok
}

// ProjectRole is a member's role inside a project.
type ProjectRole string

// Project roles, ordered Viewer < Editor < ProjectAdmin.
const (
	ProjectRoleViewer ProjectRole = "viewer"
	ProjectRoleEditor ProjectRole = "editor"
	ProjectRoleAdmin  ProjectRole = "project_admin"
)

var projectRoleRank = map[ProjectRole]int{
	ProjectRoleViewer: 0,
	ProjectRoleEditor: 1,
	ProjectRoleAdmin:  2,
}

// AtLeast reports whether the role ranks at or above min.
func (r ProjectRole) AtLeast(min ProjectRole) bool {
	return projectRoleRank[r] >= projectRoleRank[min]
}

// Valid reports whether the role is one of the defined project roles.
func (r ProjectRole) Valid() bool {
	_, ok := projectRoleRank[r]
	return ok
}

// User is an authenticated person. Subject is the opaque external identity
// string and is unique across users.
type User struct {
	ID          uuid.UUID  `json:"id"`
	Subject     string     `json:"subject"`
	Email       string     `json:"email,omitempty"`
	DisplayName string     `json:"displayName"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// Workspace is the top-level multi-tenant container. Every resource belongs
// to exactly one workspace. Invariant: at least one Owner at all times after
// creation.
type Workspace struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// WorkspaceMembership links a user to a workspace with a role.
// Unique per (workspaceID, userID).
type WorkspaceMembership struct {
	ID          uuid.UUID     `json:"id"`
	WorkspaceID uuid.UUID     `json:"workspaceId"`
	UserID      uuid.UUID     `json:"userId"`
	Role        WorkspaceRole `json:"role"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Project is a workspace child and the unit of file ownership and access.
type Project struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspaceId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ProjectMembership links a user to a project with a role. May be absent,
// in which case the effective role derives from the workspace role.
// Unique per (projectID, userID).
type ProjectMembership struct {
	ID        uuid.UUID   `json:"id"`
	ProjectID uuid.UUID   `json:"projectId"`
	UserID    uuid.UUID   `json:"userId"`
	Role      ProjectRole `json:"role"`
	CreatedAt time.Time   `json:"createdAt"`
}

// InviteStatus is the lifecycle state of a workspace invite.
type InviteStatus string

// Invite states.
const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusAccepted InviteStatus = "accepted"
	InviteStatusRevoked  InviteStatus = "revoked"
)

// WorkspaceInvite is a pending invitation to join a workspace. The token is
// an opaque secret handed to the invitee out of band.
type WorkspaceInvite struct {
	ID          uuid.UUID     `json:"id"`
	WorkspaceID uuid.UUID     `json:"workspaceId"`
	Email       string        `json:"email"`
	Role        WorkspaceRole `json:"role"`
	Token       string        `json:"-"`
	Status      InviteStatus  `json:"status"`
	InvitedBy   uuid.UUID     `json:"invitedBy"`
	CreatedAt   time.Time     `json:"createdAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
}
