// Package store defines the persistence interfaces for the octant domain.
//
// The relational store is an external collaborator; this package names its
// contract and ships two implementations: sqlite (production) and memory
// (tests, single-process development).
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/model"
)

// Pagination bounds. Requests outside the bounds are clamped, not rejected.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page selects a slice of a listing.
type Page struct {
	// Number is the 1-based page number.
	Number int
	// Size is the number of rows per page.
	Size int
}

// Clamp normalizes the page to Number >= 1 and Size in [1, MaxPageSize],
// defaulting Size to DefaultPageSize when unset.
func (p Page) Clamp() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset returns the row offset for the clamped page.
func (p Page) Offset() int {
	c := p.Clamp()
	return (c.Number - 1) * c.Size
}

// FileFilter narrows a file listing. Zero values match everything.
type FileFilter struct {
	Kind     model.FileKind
	Category model.FileCategory
	Page     Page
}

// PropertyFilter narrows an extracted-properties query.
type PropertyFilter struct {
	EntityLabel     *int
	GlobalID        string
	TypeName        string
	Name            string
	PropertySetName string
	Page            Page
}

// Usage is the aggregated size of non-deleted files in a container.
type Usage struct {
	TotalSizeBytes int64     `json:"totalSizeBytes"`
	FileCount      int64     `json:"fileCount"`
	CalculatedAt   time.Time `json:"calculatedAt"`
}

// PropertySetRecord is a property set with its properties.
type PropertySetRecord struct {
	Set        model.IfcPropertySet `json:"set"`
	Properties []model.IfcProperty  `json:"properties"`
}

// QuantitySetRecord is a quantity set with its quantities.
type QuantitySetRecord struct {
	Set        model.IfcQuantitySet `json:"set"`
	Quantities []model.IfcQuantity  `json:"quantities"`
}

// ElementRecord is an extracted element with its nested sets.
type ElementRecord struct {
	Element      model.IfcElement    `json:"element"`
	PropertySets []PropertySetRecord `json:"propertySets"`
	QuantitySets []QuantitySetRecord `json:"quantitySets"`
}

// UserStore manages users.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetUserBySubject(ctx context.Context, subject string) (*model.User, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// WorkspaceStore manages workspaces, memberships and invites.
type WorkspaceStore interface {
	// CreateWorkspace persists the workspace and its founding Owner
	// membership in one transaction.
	CreateWorkspace(ctx context.Context, ws *model.Workspace, owner *model.WorkspaceMembership) error
	GetWorkspace(ctx context.Context, id uuid.UUID) (*model.Workspace, error)
	UpdateWorkspace(ctx context.Context, ws *model.Workspace) error
	ListWorkspacesForUser(ctx context.Context, userID uuid.UUID) ([]model.Workspace, error)

	GetMembership(ctx context.Context, workspaceID, userID uuid.UUID) (*model.WorkspaceMembership, error)
	ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]model.WorkspaceMembership, error)
	AddMember(ctx context.Context, m *model.WorkspaceMembership) error
	UpdateMemberRole(ctx context.Context, workspaceID, userID uuid.UUID, role model.WorkspaceRole) error
	RemoveMember(ctx context.Context, workspaceID, userID uuid.UUID) error
	// CountOwners returns the number of Owner memberships; the last-owner
	// invariant is enforced against this count.
	CountOwners(ctx context.Context, workspaceID uuid.UUID) (int, error)

	CreateInvite(ctx context.Context, invite *model.WorkspaceInvite) error
	GetInviteByToken(ctx context.Context, token string) (*model.WorkspaceInvite, error)
	ListInvites(ctx context.Context, workspaceID uuid.UUID) ([]model.WorkspaceInvite, error)
	// SettleInvite moves a pending invite to status. Returns ErrConflict
	// if the invite is no longer pending.
	SettleInvite(ctx context.Context, id uuid.UUID, status model.InviteStatus) error
}

// ProjectStore manages projects and project memberships.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error)
	UpdateProject(ctx context.Context, p *model.Project) error
	ListProjects(ctx context.Context, workspaceID uuid.UUID) ([]model.Project, error)

	GetProjectMembership(ctx context.Context, projectID, userID uuid.UUID) (*model.ProjectMembership, error)
	ListProjectMembers(ctx context.Context, projectID uuid.UUID) ([]model.ProjectMembership, error)
	UpsertProjectMembership(ctx context.Context, m *model.ProjectMembership) error
	RemoveProjectMembership(ctx context.Context, projectID, userID uuid.UUID) error
}

// FileStore manages file records and usage aggregation.
type FileStore interface {
	CreateFile(ctx context.Context, f *model.File) error
	// GetFile returns the record regardless of soft-delete state.
	GetFile(ctx context.Context, id uuid.UUID) (*model.File, error)
	// ListFiles returns non-deleted files ordered by createdAt descending,
	// plus the total count before paging.
	ListFiles(ctx context.Context, projectID uuid.UUID, filter FileFilter) ([]model.File, int, error)
	// SoftDeleteFile marks the file deleted. Returns ErrConflict when the
	// file is already deleted.
	SoftDeleteFile(ctx context.Context, id uuid.UUID, at time.Time) error
	ProjectUsage(ctx context.Context, projectID uuid.UUID) (*Usage, error)
	WorkspaceUsage(ctx context.Context, workspaceID uuid.UUID) (*Usage, error)
}

// UploadSessionStore manages upload sessions.
type UploadSessionStore interface {
	CreateSession(ctx context.Context, s *model.UploadSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.UploadSession, error)
	// UpdateSession persists the session conditioned on the status it was
	// read at, so concurrent commits select exactly one winner. Returns
	// ErrConflict when the condition no longer holds.
	UpdateSession(ctx context.Context, s *model.UploadSession, fromStatus model.UploadStatus) error
}

// ModelStore manages models and versions.
type ModelStore interface {
	CreateModel(ctx context.Context, m *model.Model) error
	GetModel(ctx context.Context, id uuid.UUID) (*model.Model, error)
	ListModels(ctx context.Context, projectID uuid.UUID) ([]model.Model, error)

	// CreateVersion assigns versionNumber = max(existing)+1 atomically and
	// inserts the row.
	CreateVersion(ctx context.Context, v *model.ModelVersion) error
	GetVersion(ctx context.Context, id uuid.UUID) (*model.ModelVersion, error)
	ListVersions(ctx context.Context, modelID uuid.UUID, page Page) ([]model.ModelVersion, int, error)
	// UpdateVersion persists the version conditioned on its prior status.
	// Returns ErrConflict when the condition no longer holds.
	UpdateVersion(ctx context.Context, v *model.ModelVersion, fromStatus model.VersionStatus) error
}

// OAuthStore manages OAuth apps, authorization codes and refresh tokens.
type OAuthStore interface {
	CreateApp(ctx context.Context, app *model.OAuthApp) error
	GetApp(ctx context.Context, id uuid.UUID) (*model.OAuthApp, error)
	GetAppByClientID(ctx context.Context, clientID string) (*model.OAuthApp, error)
	ListApps(ctx context.Context, workspaceID uuid.UUID) ([]model.OAuthApp, error)
	UpdateApp(ctx context.Context, app *model.OAuthApp) error
	// DeleteApp removes the app together with its codes, refresh-token
	// families and audit logs.
	DeleteApp(ctx context.Context, id uuid.UUID) error

	CreateCode(ctx context.Context, code *model.AuthorizationCode) error
	GetCode(ctx context.Context, code string) (*model.AuthorizationCode, error)
	// ConsumeCode marks the code used, conditioned on usedAt being unset.
	// Concurrent redeemers get ErrConflict; the code is one-shot.
	ConsumeCode(ctx context.Context, code string, at time.Time) error

	CreateRefreshToken(ctx context.Context, t *model.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*model.RefreshToken, error)
	// RevokeRefreshToken marks the token revoked, conditioned on revokedAt
	// being unset. Returns ErrConflict when already revoked.
	RevokeRefreshToken(ctx context.Context, hash string, at time.Time) error
	// RevokeTokenFamily revokes every non-revoked token sharing familyID
	// and returns how many were revoked.
	RevokeTokenFamily(ctx context.Context, familyID uuid.UUID, at time.Time) (int, error)
}

// PATStore manages personal access tokens.
type PATStore interface {
	CreatePAT(ctx context.Context, t *model.PersonalAccessToken) error
	GetPAT(ctx context.Context, id uuid.UUID) (*model.PersonalAccessToken, error)
	GetPATByPrefix(ctx context.Context, prefix string) (*model.PersonalAccessToken, error)
	ListPATs(ctx context.Context, workspaceID, userID uuid.UUID) ([]model.PersonalAccessToken, error)
	UpdatePAT(ctx context.Context, t *model.PersonalAccessToken) error
	// TouchPATUsed records lastUsedAt best-effort; failures are the
	// caller's to ignore.
	TouchPATUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AuditStore appends and lists audit events.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *model.AuditLog) error
	ListAudit(ctx context.Context, subject model.AuditSubject, subjectID uuid.UUID, page Page) ([]model.AuditLog, error)
}

// PropertyStore persists extracted IFC properties.
type PropertyStore interface {
	// ReplaceExtraction swaps the full extraction result for a version in
	// one transaction.
	ReplaceExtraction(ctx context.Context, modelVersionID uuid.UUID, elements []ElementRecord) error
	QueryElements(ctx context.Context, modelVersionID uuid.UUID, filter PropertyFilter) ([]ElementRecord, int, error)
	GetElement(ctx context.Context, elementID uuid.UUID) (*ElementRecord, error)
}

// Store aggregates every repository plus lifecycle hooks.
type Store interface {
	UserStore
	WorkspaceStore
	ProjectStore
	FileStore
	UploadSessionStore
	ModelStore
	OAuthStore
	PATStore
	AuditStore
	PropertyStore

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}
