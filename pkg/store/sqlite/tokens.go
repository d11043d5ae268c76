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

const appColumns = `id, workspace_id, name, description, client_type, client_id,
	client_secret_hash, client_secret_salt, redirect_uris, allowed_scopes,
	is_enabled, created_at, updated_at, created_by_user_id`

// CreateApp stores an OAuth app, enforcing client_id uniqueness.
func (s *Store) CreateApp(ctx context.Context, app *model.OAuthApp) error {
	redirects, err := encodeStrings(app.RedirectURIs)
	if err != nil {
		return err
	}
	scopes, err := encodeStrings(app.AllowedScopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO oauth_apps (`+appColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		app.ID.String(), app.WorkspaceID.String(), app.Name, app.Description,
		string(app.ClientType), app.ClientID, app.ClientSecretHash, app.ClientSecretSalt,
		redirects, scopes, boolToInt(app.IsEnabled),
		formatTime(app.CreatedAt), formatTime(app.UpdatedAt), app.CreatedByUserID.String())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("inserting oauth app: %w", err)
	}
	return nil
}

func scanApp(sc scanner) (*model.OAuthApp, error) {
	var (
		app                            model.OAuthApp
		id, wsID, typeS, createdBy     string
		redirects, scopes              string
		isEnabled                      int
		created, updated               string
	)
	if err := sc.Scan(&id, &wsID, &app.Name, &app.Description, &typeS, &app.ClientID,
		&app.ClientSecretHash, &app.ClientSecretSalt, &redirects, &scopes,
		&isEnabled, &created, &updated, &createdBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning oauth app row: %w", err)
	}

	var err error
	if app.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing app id: %w", err)
	}
	if app.WorkspaceID, err = uuid.Parse(wsID); err != nil {
		return nil, fmt.Errorf("parsing workspace id: %w", err)
	}
	if app.CreatedByUserID, err = uuid.Parse(createdBy); err != nil {
		return nil, fmt.Errorf("parsing creator id: %w", err)
	}
	app.ClientType = model.ClientType(typeS)
	if app.RedirectURIs, err = decodeStrings(redirects); err != nil {
		return nil, err
	}
	if app.AllowedScopes, err = decodeStrings(scopes); err != nil {
		return nil, err
	}
	app.IsEnabled = isEnabled != 0
	if app.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if app.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &app, nil
}

// GetApp retrieves an OAuth app by id.
func (s *Store) GetApp(ctx context.Context, id uuid.UUID) (*model.OAuthApp, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appColumns+` FROM oauth_apps WHERE id = ?`, id.String())
	return scanApp(row)
}

// GetAppByClientID retrieves an OAuth app by its public client identifier.
func (s *Store) GetAppByClientID(ctx context.Context, clientID string) (*model.OAuthApp, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appColumns+` FROM oauth_apps WHERE client_id = ?`, clientID)
	return scanApp(row)
}

// ListApps returns all OAuth apps of a workspace.
func (s *Store) ListApps(ctx context.Context, workspaceID uuid.UUID) ([]model.OAuthApp, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+appColumns+` FROM oauth_apps WHERE workspace_id = ? ORDER BY created_at`,
		workspaceID.String())
	if err != nil {
		return nil, fmt.Errorf("querying oauth apps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.OAuthApp
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating oauth app rows: %w", err)
	}
	return result, nil
}

// UpdateApp persists OAuth app field changes.
func (s *Store) UpdateApp(ctx context.Context, app *model.OAuthApp) error {
	redirects, err := encodeStrings(app.RedirectURIs)
	if err != nil {
		return err
	}
	scopes, err := encodeStrings(app.AllowedScopes)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE oauth_apps
		 SET name = ?, description = ?, client_secret_hash = ?, client_secret_salt = ?,
		     redirect_uris = ?, allowed_scopes = ?, is_enabled = ?, updated_at = ?
		 WHERE id = ?`,
		app.Name, app.Description, app.ClientSecretHash, app.ClientSecretSalt,
		redirects, scopes, boolToInt(app.IsEnabled), formatTime(app.UpdatedAt), app.ID.String())
	if err != nil {
		return fmt.Errorf("updating oauth app: %w", err)
	}
	return requireAffected(res)
}

// DeleteApp removes the app; codes, refresh tokens and audit logs go with it.
func (s *Store) DeleteApp(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	// Codes and refresh tokens cascade through the foreign keys; audit
	// logs are keyed by subject id and need an explicit sweep.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE subject = ? AND subject_id = ?`,
		string(model.AuditSubjectOAuthApp), id.String()); err != nil {
		return fmt.Errorf("deleting app audit logs: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM oauth_apps WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("deleting oauth app: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// CreateCode stores an authorization code.
func (s *Store) CreateCode(ctx context.Context, code *model.AuthorizationCode) error {
	scopes, err := encodeStrings(code.Scopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO oauth_codes (code, app_id, user_id, workspace_id, redirect_uri, scopes,
		 pkce_challenge, pkce_method, used_at, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code, code.AppID.String(), code.UserID.String(), code.WorkspaceID.String(),
		code.RedirectURI, scopes, code.PKCEChallenge, string(code.PKCEMethod),
		formatTimePtr(code.UsedAt), formatTime(code.ExpiresAt), formatTime(code.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("inserting authorization code: %w", err)
	}
	return nil
}

// GetCode retrieves an authorization code by value.
func (s *Store) GetCode(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	var (
		c                              model.AuthorizationCode
		appID, userID, wsID, scopes    string
		methodS                        string
		used                           sql.NullString
		expires, created               string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT code, app_id, user_id, workspace_id, redirect_uri, scopes, pkce_challenge,
		 pkce_method, used_at, expires_at, created_at FROM oauth_codes WHERE code = ?`, code).
		Scan(&c.Code, &appID, &userID, &wsID, &c.RedirectURI, &scopes, &c.PKCEChallenge,
			&methodS, &used, &expires, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning authorization code row: %w", err)
	}

	if c.AppID, err = uuid.Parse(appID); err != nil {
		return nil, fmt.Errorf("parsing app id: %w", err)
	}
	if c.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}
	if c.WorkspaceID, err = uuid.Parse(wsID); err != nil {
		return nil, fmt.Errorf("parsing workspace id: %w", err)
	}
	if c.Scopes, err = decodeStrings(scopes); err != nil {
		return nil, err
	}
	c.PKCEMethod = model.PKCEMethod(methodS)
	if c.UsedAt, err = parseTimePtr(used); err != nil {
		return nil, err
	}
	if c.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &c, nil
}

// ConsumeCode marks the code used, conditioned on usedAt being unset. The
// code is one-shot; a second redeemer gets ErrConflict.
func (s *Store) ConsumeCode(ctx context.Context, code string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE oauth_codes SET used_at = ? WHERE code = ? AND used_at IS NULL`,
		formatTime(at), code)
	if err != nil {
		return fmt.Errorf("consuming authorization code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM oauth_codes WHERE code = ?`, code).Scan(&exists); err != nil {
			return fmt.Errorf("checking code existence: %w", err)
		}
		if exists == 0 {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	return nil
}

const refreshColumns = `token_hash, app_id, user_id, workspace_id, scopes, family_id,
	previous_token_hash, revoked_at, expires_at, created_at, last_rotated_at`

// CreateRefreshToken stores a refresh-token record.
func (s *Store) CreateRefreshToken(ctx context.Context, t *model.RefreshToken) error {
	scopes, err := encodeStrings(t.Scopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (`+refreshColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TokenHash, t.AppID.String(), t.UserID.String(), t.WorkspaceID.String(), scopes,
		t.FamilyID.String(), t.PreviousTokenHash, formatTimePtr(t.RevokedAt),
		formatTime(t.ExpiresAt), formatTime(t.CreatedAt), formatTimePtr(t.LastRotatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("inserting refresh token: %w", err)
	}
	return nil
}

// GetRefreshTokenByHash retrieves a refresh token by its SHA-256 hash.
func (s *Store) GetRefreshTokenByHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	var (
		t                             model.RefreshToken
		appID, userID, wsID, familyID string
		scopes                        string
		revoked, lastRotated          sql.NullString
		expires, created              string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+refreshColumns+` FROM refresh_tokens WHERE token_hash = ?`, hash).
		Scan(&t.TokenHash, &appID, &userID, &wsID, &scopes, &familyID,
			&t.PreviousTokenHash, &revoked, &expires, &created, &lastRotated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning refresh token row: %w", err)
	}

	if t.AppID, err = uuid.Parse(appID); err != nil {
		return nil, fmt.Errorf("parsing app id: %w", err)
	}
	if t.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}
	if t.WorkspaceID, err = uuid.Parse(wsID); err != nil {
		return nil, fmt.Errorf("parsing workspace id: %w", err)
	}
	if t.FamilyID, err = uuid.Parse(familyID); err != nil {
		return nil, fmt.Errorf("parsing family id: %w", err)
	}
	if t.Scopes, err = decodeStrings(scopes); err != nil {
		return nil, err
	}
	if t.RevokedAt, err = parseTimePtr(revoked); err != nil {
		return nil, err
	}
	if t.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.LastRotatedAt, err = parseTimePtr(lastRotated); err != nil {
		return nil, err
	}
	return &t, nil
}

// RevokeRefreshToken marks the token revoked, conditioned on revokedAt being
// unset. A concurrent rotation loses with ErrConflict.
func (s *Store) RevokeRefreshToken(ctx context.Context, hash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?, last_rotated_at = ?
		 WHERE token_hash = ? AND revoked_at IS NULL`,
		formatTime(at), formatTime(at), hash)
	if err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM refresh_tokens WHERE token_hash = ?`, hash).Scan(&exists); err != nil {
			return fmt.Errorf("checking refresh token existence: %w", err)
		}
		if exists == 0 {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	return nil
}

// RevokeTokenFamily revokes every non-revoked token sharing familyID.
func (s *Store) RevokeTokenFamily(ctx context.Context, familyID uuid.UUID, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE family_id = ? AND revoked_at IS NULL`,
		formatTime(at), familyID.String())
	if err != nil {
		return 0, fmt.Errorf("revoking token family: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(affected), nil
}

const patColumns = `id, workspace_id, user_id, name, description, token_prefix, token_hash,
	token_salt, scopes, is_revoked, revoked_at, expires_at, last_used_at, created_at`

// CreatePAT stores a personal access token, enforcing prefix uniqueness.
func (s *Store) CreatePAT(ctx context.Context, t *model.PersonalAccessToken) error {
	scopes, err := encodeStrings(t.Scopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO personal_access_tokens (`+patColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.WorkspaceID.String(), t.UserID.String(), t.Name, t.Description,
		t.TokenPrefix, t.TokenHash, t.TokenSalt, scopes, boolToInt(t.IsRevoked),
		formatTimePtr(t.RevokedAt), formatTimePtr(t.ExpiresAt), formatTimePtr(t.LastUsedAt),
		formatTime(t.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("inserting personal access token: %w", err)
	}
	return nil
}

func scanPAT(sc scanner) (*model.PersonalAccessToken, error) {
	var (
		t                          model.PersonalAccessToken
		id, wsID, userID, scopes   string
		isRevoked                  int
		revoked, expires, lastUsed sql.NullString
		created                    string
	)
	if err := sc.Scan(&id, &wsID, &userID, &t.Name, &t.Description, &t.TokenPrefix,
		&t.TokenHash, &t.TokenSalt, &scopes, &isRevoked, &revoked, &expires, &lastUsed,
		&created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning personal access token row: %w", err)
	}

	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing token id: %w", err)
	}
	if t.WorkspaceID, err = uuid.Parse(wsID); err != nil {
		return nil, fmt.Errorf("parsing workspace id: %w", err)
	}
	if t.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}
	if t.Scopes, err = decodeStrings(scopes); err != nil {
		return nil, err
	}
	t.IsRevoked = isRevoked != 0
	if t.RevokedAt, err = parseTimePtr(revoked); err != nil {
		return nil, err
	}
	if t.ExpiresAt, err = parseTimePtr(expires); err != nil {
		return nil, err
	}
	if t.LastUsedAt, err = parseTimePtr(lastUsed); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetPAT retrieves a personal access token by id.
func (s *Store) GetPAT(ctx context.Context, id uuid.UUID) (*model.PersonalAccessToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+patColumns+` FROM personal_access_tokens WHERE id = ?`, id.String())
	return scanPAT(row)
}

// GetPATByPrefix retrieves a personal access token by its lookup prefix.
func (s *Store) GetPATByPrefix(ctx context.Context, prefix string) (*model.PersonalAccessToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+patColumns+` FROM personal_access_tokens WHERE token_prefix = ?`, prefix)
	return scanPAT(row)
}

// ListPATs returns a user's tokens in a workspace.
func (s *Store) ListPATs(ctx context.Context, workspaceID, userID uuid.UUID) ([]model.PersonalAccessToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patColumns+` FROM personal_access_tokens
		 WHERE workspace_id = ? AND user_id = ? ORDER BY created_at`,
		workspaceID.String(), userID.String())
	if err != nil {
		return nil, fmt.Errorf("querying personal access tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.PersonalAccessToken
	for rows.Next() {
		t, err := scanPAT(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating token rows: %w", err)
	}
	return result, nil
}

// UpdatePAT persists token field changes.
func (s *Store) UpdatePAT(ctx context.Context, t *model.PersonalAccessToken) error {
	scopes, err := encodeStrings(t.Scopes)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE personal_access_tokens
		 SET name = ?, description = ?, scopes = ?, is_revoked = ?, revoked_at = ?, expires_at = ?
		 WHERE id = ?`,
		t.Name, t.Description, scopes, boolToInt(t.IsRevoked),
		formatTimePtr(t.RevokedAt), formatTimePtr(t.ExpiresAt), t.ID.String())
	if err != nil {
		return fmt.Errorf("updating personal access token: %w", err)
	}
	return requireAffected(res)
}

// TouchPATUsed records lastUsedAt. Best-effort; callers may ignore failures.
func (s *Store) TouchPATUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE personal_access_tokens SET last_used_at = ? WHERE id = ?`,
		formatTime(at), id.String())
	if err != nil {
		return fmt.Errorf("touching token last used: %w", err)
	}
	return nil
}

// AppendAudit stores one audit event.
func (s *Store) AppendAudit(ctx context.Context, entry *model.AuditLog) error {
	details, err := encodeDetails(entry.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, subject, subject_id, event_type, actor_user_id, ts, details, ip_address)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), string(entry.Subject), entry.SubjectID.String(), string(entry.EventType),
		entry.ActorUserID.String(), formatTime(entry.Timestamp), details, entry.IPAddress)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// ListAudit returns a subject's events, newest first.
func (s *Store) ListAudit(ctx context.Context, subject model.AuditSubject, subjectID uuid.UUID, page store.Page) ([]model.AuditLog, error) {
	p := page.Clamp()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject, subject_id, event_type, actor_user_id, ts, details, ip_address
		 FROM audit_logs WHERE subject = ? AND subject_id = ?
		 ORDER BY ts DESC LIMIT ? OFFSET ?`,
		string(subject), subjectID.String(), p.Size, p.Offset())
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.AuditLog
	for rows.Next() {
		var (
			entry                          model.AuditLog
			id, subjS, subjID, eventS, actor string
			ts, details                      string
		)
		if err := rows.Scan(&id, &subjS, &subjID, &eventS, &actor, &ts, &details, &entry.IPAddress); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		if entry.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing audit id: %w", err)
		}
		if entry.SubjectID, err = uuid.Parse(subjID); err != nil {
			return nil, fmt.Errorf("parsing subject id: %w", err)
		}
		if entry.ActorUserID, err = uuid.Parse(actor); err != nil {
			return nil, fmt.Errorf("parsing actor id: %w", err)
		}
		entry.Subject = model.AuditSubject(subjS)
		entry.EventType = model.AuditEvent(eventS)
		if entry.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if entry.Details, err = decodeDetails(details); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return result, nil
}
