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

const fileColumns = `id, project_id, name, content_type, size_bytes, checksum, kind, category,
	storage_provider, storage_key, is_deleted, created_at, deleted_at`

// CreateFile stores a file record.
func (s *Store) CreateFile(ctx context.Context, f *model.File) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID.String(), f.ProjectID.String(), f.Name, f.ContentType, f.SizeBytes, f.Checksum,
		string(f.Kind), string(f.Category), f.StorageProvider, f.StorageKey,
		boolToInt(f.IsDeleted), formatTime(f.CreatedAt), formatTimePtr(f.DeletedAt))
	if err != nil {
		return fmt.Errorf("inserting file: %w", err)
	}
	return nil
}

func scanFile(sc scanner) (*model.File, error) {
	var (
		f                          model.File
		id, projID, kindS, catS    string
		isDeleted                  int
		created                    string
		deleted                    sql.NullString
	)
	if err := sc.Scan(&id, &projID, &f.Name, &f.ContentType, &f.SizeBytes, &f.Checksum,
		&kindS, &catS, &f.StorageProvider, &f.StorageKey, &isDeleted, &created, &deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning file row: %w", err)
	}

	var err error
	if f.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing file id: %w", err)
	}
	if f.ProjectID, err = uuid.Parse(projID); err != nil {
		return nil, fmt.Errorf("parsing project id: %w", err)
	}
	f.Kind = model.FileKind(kindS)
	f.Category = model.FileCategory(catS)
	f.IsDeleted = isDeleted != 0
	if f.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if f.DeletedAt, err = parseTimePtr(deleted); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFile returns the record regardless of soft-delete state.
func (s *Store) GetFile(ctx context.Context, id uuid.UUID) (*model.File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id.String())
	return scanFile(row)
}

// ListFiles returns non-deleted files ordered by createdAt descending, plus
// the pre-paging total.
func (s *Store) ListFiles(ctx context.Context, projectID uuid.UUID, filter store.FileFilter) ([]model.File, int, error) {
	where := `project_id = ? AND is_deleted = 0`
	args := []any{projectID.String()}
	if filter.Kind != "" {
		where += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Category != "" {
		where += ` AND category = ?`
		args = append(args, string(filter.Category))
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting files: %w", err)
	}

	page := filter.Page.Clamp()
	args = append(args, page.Size, page.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE `+where+`
		 ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating file rows: %w", err)
	}
	return result, total, nil
}

// SoftDeleteFile marks the file deleted. A second delete is a conflict.
func (s *Store) SoftDeleteFile(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET is_deleted = 1, deleted_at = ? WHERE id = ? AND is_deleted = 0`,
		formatTime(at), id.String())
	if err != nil {
		return fmt.Errorf("soft-deleting file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM files WHERE id = ?`, id.String()).Scan(&exists); err != nil {
			return fmt.Errorf("checking file existence: %w", err)
		}
		if exists == 0 {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	return nil
}

// ProjectUsage aggregates non-deleted file sizes for a project.
func (s *Store) ProjectUsage(ctx context.Context, projectID uuid.UUID) (*store.Usage, error) {
	u := store.Usage{CalculatedAt: time.Now().UTC()}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0), COUNT(*) FROM files WHERE project_id = ? AND is_deleted = 0`,
		projectID.String()).Scan(&u.TotalSizeBytes, &u.FileCount)
	if err != nil {
		return nil, fmt.Errorf("aggregating project usage: %w", err)
	}
	return &u, nil
}

// WorkspaceUsage aggregates non-deleted file sizes across a workspace.
func (s *Store) WorkspaceUsage(ctx context.Context, workspaceID uuid.UUID) (*store.Usage, error) {
	u := store.Usage{CalculatedAt: time.Now().UTC()}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(f.size_bytes), 0), COUNT(*)
		FROM files f
		JOIN projects p ON p.id = f.project_id
		WHERE p.workspace_id = ? AND f.is_deleted = 0`,
		workspaceID.String()).Scan(&u.TotalSizeBytes, &u.FileCount)
	if err != nil {
		return nil, fmt.Errorf("aggregating workspace usage: %w", err)
	}
	return &u, nil
}

const sessionColumns = `id, project_id, file_name, content_type, expected_size_bytes, status,
	upload_mode, temp_storage_key, direct_upload_url, committed_file_id, created_at, expires_at`

// CreateSession stores an upload session.
func (s *Store) CreateSession(ctx context.Context, sess *model.UploadSession) error {
	var expected sql.NullInt64
	if sess.ExpectedSizeBytes != nil {
		expected = sql.NullInt64{Int64: *sess.ExpectedSizeBytes, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO upload_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID.String(), sess.ProjectID.String(), sess.FileName, sess.ContentType, expected,
		string(sess.Status), string(sess.UploadMode), sess.TempStorageKey, sess.DirectUploadURL,
		formatUUIDPtr(sess.CommittedFileID), formatTime(sess.CreatedAt), formatTime(sess.ExpiresAt))
	if err != nil {
		return fmt.Errorf("inserting upload session: %w", err)
	}
	return nil
}

func scanSession(sc scanner) (*model.UploadSession, error) {
	var (
		sess                 model.UploadSession
		id, projID           string
		expected             sql.NullInt64
		statusS, modeS       string
		committed            sql.NullString
		created, expires     string
	)
	if err := sc.Scan(&id, &projID, &sess.FileName, &sess.ContentType, &expected, &statusS,
		&modeS, &sess.TempStorageKey, &sess.DirectUploadURL, &committed, &created, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning upload session row: %w", err)
	}

	var err error
	if sess.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing session id: %w", err)
	}
	if sess.ProjectID, err = uuid.Parse(projID); err != nil {
		return nil, fmt.Errorf("parsing project id: %w", err)
	}
	if expected.Valid {
		sess.ExpectedSizeBytes = &expected.Int64
	}
	sess.Status = model.UploadStatus(statusS)
	sess.UploadMode = model.UploadMode(modeS)
	if sess.CommittedFileID, err = parseUUIDPtr(committed); err != nil {
		return nil, err
	}
	if sess.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if sess.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession retrieves an upload session.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*model.UploadSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions WHERE id = ?`, id.String())
	return scanSession(row)
}

// UpdateSession persists the session conditioned on the status it was read
// at. Concurrent writers get ErrConflict and exactly one wins.
func (s *Store) UpdateSession(ctx context.Context, sess *model.UploadSession, fromStatus model.UploadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE upload_sessions
		 SET status = ?, upload_mode = ?, direct_upload_url = ?, committed_file_id = ?
		 WHERE id = ? AND status = ?`,
		string(sess.Status), string(sess.UploadMode), sess.DirectUploadURL,
		formatUUIDPtr(sess.CommittedFileID), sess.ID.String(), string(fromStatus))
	if err != nil {
		return fmt.Errorf("updating upload session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM upload_sessions WHERE id = ?`, sess.ID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("checking session existence: %w", err)
		}
		if exists == 0 {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	return nil
}

// CreateModel stores a model.
func (s *Store) CreateModel(ctx context.Context, m *model.Model) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO models (id, project_id, name, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID.String(), m.ProjectID.String(), m.Name, m.Description, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting model: %w", err)
	}
	return nil
}

func scanModel(sc scanner) (*model.Model, error) {
	var (
		m                  model.Model
		id, projID, created string
	)
	if err := sc.Scan(&id, &projID, &m.Name, &m.Description, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning model row: %w", err)
	}

	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing model id: %w", err)
	}
	if m.ProjectID, err = uuid.Parse(projID); err != nil {
		return nil, fmt.Errorf("parsing project id: %w", err)
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetModel retrieves a model by id.
func (s *Store) GetModel(ctx context.Context, id uuid.UUID) (*model.Model, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, description, created_at FROM models WHERE id = ?`, id.String())
	return scanModel(row)
}

// ListModels returns all models in a project.
func (s *Store) ListModels(ctx context.Context, projectID uuid.UUID) ([]model.Model, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, description, created_at
		 FROM models WHERE project_id = ? ORDER BY created_at`, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("querying models: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating model rows: %w", err)
	}
	return result, nil
}

const versionColumns = `id, model_id, version_number, ifc_file_id, status, wexbim_file_id,
	properties_file_id, error_message, processed_at, created_at`

// CreateVersion assigns versionNumber = max(existing)+1 and inserts the row
// in one transaction. The UNIQUE (model_id, version_number) constraint backs
// the atomicity up.
func (s *Store) CreateVersion(ctx context.Context, v *model.ModelVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM model_versions WHERE model_id = ?`,
		v.ModelID.String()).Scan(&next); err != nil {
		return fmt.Errorf("computing next version number: %w", err)
	}
	v.VersionNumber = next

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO model_versions (`+versionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID.String(), v.ModelID.String(), v.VersionNumber, v.IfcFileID.String(), string(v.Status),
		formatUUIDPtr(v.WexBimFileID), formatUUIDPtr(v.PropertiesFileID), v.ErrorMessage,
		formatTimePtr(v.ProcessedAt), formatTime(v.CreatedAt)); err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("inserting model version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func scanVersion(sc scanner) (*model.ModelVersion, error) {
	var (
		v                     model.ModelVersion
		id, modelID, ifcID    string
		statusS               string
		wexbim, props         sql.NullString
		processed             sql.NullString
		created               string
	)
	if err := sc.Scan(&id, &modelID, &v.VersionNumber, &ifcID, &statusS, &wexbim, &props,
		&v.ErrorMessage, &processed, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning model version row: %w", err)
	}

	var err error
	if v.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing version id: %w", err)
	}
	if v.ModelID, err = uuid.Parse(modelID); err != nil {
		return nil, fmt.Errorf("parsing model id: %w", err)
	}
	if v.IfcFileID, err = uuid.Parse(ifcID); err != nil {
		return nil, fmt.Errorf("parsing ifc file id: %w", err)
	}
	v.Status = model.VersionStatus(statusS)
	if v.WexBimFileID, err = parseUUIDPtr(wexbim); err != nil {
		return nil, err
	}
	if v.PropertiesFileID, err = parseUUIDPtr(props); err != nil {
		return nil, err
	}
	if v.ProcessedAt, err = parseTimePtr(processed); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVersion retrieves a model version.
func (s *Store) GetVersion(ctx context.Context, id uuid.UUID) (*model.ModelVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM model_versions WHERE id = ?`, id.String())
	return scanVersion(row)
}

// ListVersions returns versions of a model, newest version number first.
func (s *Store) ListVersions(ctx context.Context, modelID uuid.UUID, page store.Page) ([]model.ModelVersion, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM model_versions WHERE model_id = ?`, modelID.String()).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting versions: %w", err)
	}

	p := page.Clamp()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM model_versions WHERE model_id = ?
		 ORDER BY version_number DESC LIMIT ? OFFSET ?`,
		modelID.String(), p.Size, p.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("querying versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.ModelVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating version rows: %w", err)
	}
	return result, total, nil
}

// UpdateVersion persists the version conditioned on its prior status, so
// concurrent status changes select one winner.
func (s *Store) UpdateVersion(ctx context.Context, v *model.ModelVersion, fromStatus model.VersionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE model_versions
		 SET status = ?, wexbim_file_id = ?, properties_file_id = ?, error_message = ?, processed_at = ?
		 WHERE id = ? AND status = ?`,
		string(v.Status), formatUUIDPtr(v.WexBimFileID), formatUUIDPtr(v.PropertiesFileID),
		v.ErrorMessage, formatTimePtr(v.ProcessedAt), v.ID.String(), string(fromStatus))
	if err != nil {
		return fmt.Errorf("updating model version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM model_versions WHERE id = ?`, v.ID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("checking version existence: %w", err)
		}
		if exists == 0 {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
