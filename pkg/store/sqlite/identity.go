package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/store"
)

// CreateUser stores a new user.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, subject, email, display_name, created_at, last_login_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID.String(), user.Subject, user.Email, user.DisplayName,
		formatTime(user.CreatedAt), formatTimePtr(user.LastLoginAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

const userColumns = `id, subject, email, display_name, created_at, last_login_at`

func scanUser(sc scanner) (*model.User, error) {
	var (
		u           model.User
		id          string
		createdAt   string
		lastLoginAt sql.NullString
	)
	if err := sc.Scan(&id, &u.Subject, &u.Email, &u.DisplayName, &createdAt, &lastLoginAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning user row: %w", err)
	}

	var err error
	if u.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.LastLoginAt, err = parseTimePtr(lastLoginAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())
	return scanUser(row)
}

// GetUserBySubject retrieves a user by its opaque subject string.
func (s *Store) GetUserBySubject(ctx context.Context, subject string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE subject = ?`, subject)
	return scanUser(row)
}

// TouchLastLogin records the user's last login time.
func (s *Store) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`, formatTime(at), id.String())
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return requireAffected(res)
}

// CreateWorkspace persists the workspace and its founding Owner membership
// in one transaction.
func (s *Store) CreateWorkspace(ctx context.Context, ws *model.Workspace, owner *model.WorkspaceMembership) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ws.ID.String(), ws.Name, ws.Description, formatTime(ws.CreatedAt), formatTime(ws.UpdatedAt),
	); err != nil {
		return fmt.Errorf("inserting workspace: %w", err)
	}

	if err := insertMembership(ctx, tx, owner); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertMembership(ctx context.Context, tx *sql.Tx, m *model.WorkspaceMembership) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workspace_memberships (id, workspace_id, user_id, role, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ID.String(), m.WorkspaceID.String(), m.UserID.String(), string(m.Role), formatTime(m.CreatedAt),
	); err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("inserting membership: %w", err)
	}
	return nil
}

func scanWorkspace(sc scanner) (*model.Workspace, error) {
	var (
		ws                   model.Workspace
		id, created, updated string
	)
	if err := sc.Scan(&id, &ws.Name, &ws.Description, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning workspace row: %w", err)
	}

	var err error
	if ws.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing workspace id: %w", err)
	}
	if ws.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if ws.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &ws, nil
}

// GetWorkspace retrieves a workspace by id.
func (s *Store) GetWorkspace(ctx context.Context, id uuid.UUID) (*model.Workspace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM workspaces WHERE id = ?`, id.String())
	return scanWorkspace(row)
}

// UpdateWorkspace persists workspace field changes.
func (s *Store) UpdateWorkspace(ctx context.Context, ws *model.Workspace) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workspaces SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		ws.Name, ws.Description, formatTime(ws.UpdatedAt), ws.ID.String())
	if err != nil {
		return fmt.Errorf("updating workspace: %w", err)
	}
	return requireAffected(res)
}

// ListWorkspacesForUser returns workspaces the user is a member of.
func (s *Store) ListWorkspacesForUser(ctx context.Context, userID uuid.UUID) ([]model.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.description, w.created_at, w.updated_at
		FROM workspaces w
		JOIN workspace_memberships m ON m.workspace_id = w.id
		WHERE m.user_id = ?
		ORDER BY w.created_at`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("querying workspaces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workspace rows: %w", err)
	}
	return result, nil
}

const membershipColumns = `id, workspace_id, user_id, role, created_at`

func scanMembership(sc scanner) (*model.WorkspaceMembership, error) {
	var (
		m                        model.WorkspaceMembership
		id, wsID, userID, roleS  string
		created                  string
	)
	if err := sc.Scan(&id, &wsID, &userID, &roleS, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning membership row: %w", err)
	}

	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing membership id: %w", err)
	}
	if m.WorkspaceID, err = uuid.Parse(wsID); err != nil {
		return nil, fmt.Errorf("parsing workspace id: %w", err)
	}
	if m.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}
	m.Role = model.WorkspaceRole(roleS)
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMembership retrieves a workspace membership.
func (s *Store) GetMembership(ctx context.Context, workspaceID, userID uuid.UUID) (*model.WorkspaceMembership, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM workspace_memberships WHERE workspace_id = ? AND user_id = ?`,
		workspaceID.String(), userID.String())
	return scanMembership(row)
}

// ListMembers returns all memberships of a workspace.
func (s *Store) ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]model.WorkspaceMembership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM workspace_memberships WHERE workspace_id = ? ORDER BY created_at`,
		workspaceID.String())
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.WorkspaceMembership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating member rows: %w", err)
	}
	return result, nil
}

// AddMember stores a membership, enforcing (workspace, user) uniqueness.
func (s *Store) AddMember(ctx context.Context, m *model.WorkspaceMembership) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if err := insertMembership(ctx, tx, m); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// UpdateMemberRole changes a member's workspace role.
func (s *Store) UpdateMemberRole(ctx context.Context, workspaceID, userID uuid.UUID, role model.WorkspaceRole) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workspace_memberships SET role = ? WHERE workspace_id = ? AND user_id = ?`,
		string(role), workspaceID.String(), userID.String())
	if err != nil {
		return fmt.Errorf("updating member role: %w", err)
	}
	return requireAffected(res)
}

// RemoveMember deletes a membership.
func (s *Store) RemoveMember(ctx context.Context, workspaceID, userID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM workspace_memberships WHERE workspace_id = ? AND user_id = ?`,
		workspaceID.String(), userID.String())
	if err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	return requireAffected(res)
}

// CountOwners counts Owner memberships of a workspace.
func (s *Store) CountOwners(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workspace_memberships WHERE workspace_id = ? AND role = ?`,
		workspaceID.String(), string(model.WorkspaceRoleOwner)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting owners: %w", err)
	}
	return count, nil
}

// CreateInvite stores a workspace invite, rejecting a duplicate pending
// invite for the same email.
func (s *Store) CreateInvite(ctx context.Context, invite *model.WorkspaceInvite) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workspace_invites WHERE workspace_id = ? AND email = ? AND status = ?`,
		invite.WorkspaceID.String(), invite.Email, string(model.InviteStatusPending)).Scan(&existing); err != nil {
		return fmt.Errorf("checking pending invites: %w", err)
	}
	if existing > 0 {
		return store.ErrAlreadyExists
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workspace_invites (id, workspace_id, email, role, token, status, invited_by, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invite.ID.String(), invite.WorkspaceID.String(), invite.Email, string(invite.Role),
		invite.Token, string(invite.Status), invite.InvitedBy.String(),
		formatTime(invite.CreatedAt), formatTime(invite.ExpiresAt),
	); err != nil {
		return fmt.Errorf("inserting invite: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const inviteColumns = `id, workspace_id, email, role, token, status, invited_by, created_at, expires_at`

func scanInvite(sc scanner) (*model.WorkspaceInvite, error) {
	var (
		inv                                               model.WorkspaceInvite
		id, wsID, roleS, statusS, invitedBy, created, exp string
	)
	if err := sc.Scan(&id, &wsID, &inv.Email, &roleS, &inv.Token, &statusS, &invitedBy, &created, &exp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning invite row: %w", err)
	}

	var err error
	if inv.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing invite id: %w", err)
	}
	if inv.WorkspaceID, err = uuid.Parse(wsID); err != nil {
		return nil, fmt.Errorf("parsing workspace id: %w", err)
	}
	if inv.InvitedBy, err = uuid.Parse(invitedBy); err != nil {
		return nil, fmt.Errorf("parsing inviter id: %w", err)
	}
	inv.Role = model.WorkspaceRole(roleS)
	inv.Status = model.InviteStatus(statusS)
	if inv.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if inv.ExpiresAt, err = parseTime(exp); err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInviteByToken retrieves an invite by its opaque token.
func (s *Store) GetInviteByToken(ctx context.Context, token string) (*model.WorkspaceInvite, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM workspace_invites WHERE token = ?`, token)
	return scanInvite(row)
}

// ListInvites returns all invites of a workspace.
func (s *Store) ListInvites(ctx context.Context, workspaceID uuid.UUID) ([]model.WorkspaceInvite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+inviteColumns+` FROM workspace_invites WHERE workspace_id = ? ORDER BY created_at`,
		workspaceID.String())
	if err != nil {
		return nil, fmt.Errorf("querying invites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.WorkspaceInvite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invite rows: %w", err)
	}
	return result, nil
}

// SettleInvite moves a pending invite to the given status.
func (s *Store) SettleInvite(ctx context.Context, id uuid.UUID, status model.InviteStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workspace_invites SET status = ? WHERE id = ? AND status = ?`,
		string(status), id.String(), string(model.InviteStatusPending))
	if err != nil {
		return fmt.Errorf("settling invite: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing invite from a settled one.
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM workspace_invites WHERE id = ?`, id.String()).Scan(&exists); err != nil {
			return fmt.Errorf("checking invite existence: %w", err)
		}
		if exists == 0 {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	return nil
}

// CreateProject stores a project.
func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, workspace_id, name, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.WorkspaceID.String(), p.Name, p.Description,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

func scanProject(sc scanner) (*model.Project, error) {
	var (
		p                          model.Project
		id, wsID, created, updated string
	)
	if err := sc.Scan(&id, &wsID, &p.Name, &p.Description, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning project row: %w", err)
	}

	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing project id: %w", err)
	}
	if p.WorkspaceID, err = uuid.Parse(wsID); err != nil {
		return nil, fmt.Errorf("parsing workspace id: %w", err)
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, name, description, created_at, updated_at FROM projects WHERE id = ?`,
		id.String())
	return scanProject(row)
}

// UpdateProject persists project field changes.
func (s *Store) UpdateProject(ctx context.Context, p *model.Project) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Description, formatTime(p.UpdatedAt), p.ID.String())
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	return requireAffected(res)
}

// ListProjects returns all projects in a workspace.
func (s *Store) ListProjects(ctx context.Context, workspaceID uuid.UUID) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_id, name, description, created_at, updated_at
		 FROM projects WHERE workspace_id = ? ORDER BY created_at`, workspaceID.String())
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project rows: %w", err)
	}
	return result, nil
}

func scanProjectMembership(sc scanner) (*model.ProjectMembership, error) {
	var (
		m                              model.ProjectMembership
		id, projID, userID, roleS, created string
	)
	if err := sc.Scan(&id, &projID, &userID, &roleS, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning project membership row: %w", err)
	}

	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing membership id: %w", err)
	}
	if m.ProjectID, err = uuid.Parse(projID); err != nil {
		return nil, fmt.Errorf("parsing project id: %w", err)
	}
	if m.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}
	m.Role = model.ProjectRole(roleS)
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetProjectMembership retrieves a project membership.
func (s *Store) GetProjectMembership(ctx context.Context, projectID, userID uuid.UUID) (*model.ProjectMembership, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, user_id, role, created_at
		 FROM project_memberships WHERE project_id = ? AND user_id = ?`,
		projectID.String(), userID.String())
	return scanProjectMembership(row)
}

// ListProjectMembers returns all memberships of a project.
func (s *Store) ListProjectMembers(ctx context.Context, projectID uuid.UUID) ([]model.ProjectMembership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, user_id, role, created_at
		 FROM project_memberships WHERE project_id = ? ORDER BY created_at`, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("querying project members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.ProjectMembership
	for rows.Next() {
		m, err := scanProjectMembership(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project member rows: %w", err)
	}
	return result, nil
}

// UpsertProjectMembership inserts or replaces a project membership.
func (s *Store) UpsertProjectMembership(ctx context.Context, m *model.ProjectMembership) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_memberships (id, project_id, user_id, role, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, user_id) DO UPDATE SET role = excluded.role`,
		m.ID.String(), m.ProjectID.String(), m.UserID.String(), string(m.Role), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting project membership: %w", err)
	}
	return nil
}

// RemoveProjectMembership deletes a project membership.
func (s *Store) RemoveProjectMembership(ctx context.Context, projectID, userID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM project_memberships WHERE project_id = ? AND user_id = ?`,
		projectID.String(), userID.String())
	if err != nil {
		return fmt.Errorf("removing project membership: %w", err)
	}
	return requireAffected(res)
}

// requireAffected converts a zero-row update into ErrNotFound.
func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
