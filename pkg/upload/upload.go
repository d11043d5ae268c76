// Package upload implements the reserve/upload/commit session machine in
// front of the blob store.
package upload

import (
	"context"
	stderr "errors"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/octantbim/octant/pkg/blob"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/logger"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/store"
)

// Defaults.
const (
	// DefaultMaxFileSizeBytes caps a single upload at 500 MiB.
	DefaultMaxFileSizeBytes = int64(500) << 20
	// DefaultSessionTTL is how long a reserved session stays usable.
	DefaultSessionTTL = 24 * time.Hour
)

// Service drives upload sessions.
type Service struct {
	store       store.Store
	blobs       blob.Store
	maxFileSize int64
	sessionTTL  time.Duration
	ingress     *rate.Limiter
}

// NewService creates the upload service. Zero limits fall back to defaults.
func NewService(s store.Store, blobs blob.Store, maxFileSize int64, sessionTTL time.Duration) *Service {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSizeBytes
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &Service{store: s, blobs: blobs, maxFileSize: maxFileSize, sessionTTL: sessionTTL}
}

// MaxFileSizeBytes returns the configured upload cap.
func (s *Service) MaxFileSizeBytes() int64 { return s.maxFileSize }

// ReserveParams are the inputs to Reserve.
type ReserveParams struct {
	FileName           string
	ContentType        string
	ExpectedSizeBytes  *int64
	PreferDirectUpload bool
}

// Reserve opens a session. When direct upload is preferred and the blob
// driver can presign, the session carries a direct PUT URL; otherwise it
// falls back to proxying through the server.
func (s *Service) Reserve(ctx context.Context, project *model.Project, p ReserveParams) (*model.UploadSession, error) {
	if p.FileName == "" {
		return nil, errors.NewValidation("fileName is required")
	}
	if p.ExpectedSizeBytes != nil {
		if *p.ExpectedSizeBytes <= 0 {
			return nil, errors.NewValidation("expectedSizeBytes must be positive")
		}
		if *p.ExpectedSizeBytes > s.maxFileSize {
			return nil, errors.NewValidationf("expectedSizeBytes exceeds the %d byte limit", s.maxFileSize)
		}
	}

	now := time.Now().UTC()
	session := &model.UploadSession{
		ID:                uuid.New(),
		ProjectID:         project.ID,
		FileName:          p.FileName,
		ContentType:       p.ContentType,
		ExpectedSizeBytes: p.ExpectedSizeBytes,
		Status:            model.UploadStatusReserved,
		UploadMode:        model.UploadModeServerProxy,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.sessionTTL),
	}
	session.TempStorageKey = model.UploadTempKey(project.WorkspaceID, project.ID, session.ID, p.FileName)

	if p.PreferDirectUpload {
		url, err := s.blobs.PresignPut(ctx, session.TempStorageKey, s.sessionTTL)
		switch {
		case err == nil:
			session.UploadMode = model.UploadModeDirectToBlob
			session.DirectUploadURL = url
		case stderr.Is(err, blob.ErrPresignUnsupported):
			// Fall back to proxying.
		default:
			return nil, errors.NewTransient("requesting direct upload URL", err)
		}
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, errors.NewTransient("storing upload session", err)
	}
	return session, nil
}

// load fetches the session, hides sessions of other projects and applies
// lazy expiry.
func (s *Service) load(ctx context.Context, project *model.Project, sessionID uuid.UUID) (*model.UploadSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, errors.NewNotFound("upload session not found")
		}
		return nil, errors.NewTransient("loading upload session", err)
	}
	if session.ProjectID != project.ID {
		return nil, errors.NewNotFound("upload session not found")
	}

	if session.ExpiredAt(time.Now().UTC()) {
		from := session.Status
		if err := session.Transition(model.UploadStatusExpired); err == nil {
			if err := s.store.UpdateSession(ctx, session, from); err != nil && !stderr.Is(err, store.ErrConflict) {
				logger.Warnf("expiring upload session %s: %v", session.ID, err)
			}
		}
		return nil, errors.NewInvalidState("upload session has expired")
	}
	return session, nil
}

// UploadContent streams the request body into the session's temp key. Legal
// only before the session settles; repeat uploads overwrite.
func (s *Service) UploadContent(ctx context.Context, project *model.Project, sessionID uuid.UUID, body io.Reader) (*model.UploadSession, error) {
	session, err := s.load(ctx, project, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.UploadStatusReserved && session.Status != model.UploadStatusUploading {
		return nil, errors.NewInvalidState("upload session does not accept content")
	}

	// Cap the stream one byte past the limit so oversize is detectable
	// without buffering.
	limited := io.LimitReader(s.throttle(ctx, body), s.maxFileSize+1)
	n, err := s.blobs.Put(ctx, session.TempStorageKey, limited)
	if err != nil {
		return nil, errors.NewTransient("writing upload content", err)
	}
	if n > s.maxFileSize {
		s.discard(ctx, session.TempStorageKey)
		return nil, errors.NewValidationf("upload exceeds the %d byte limit", s.maxFileSize)
	}
	if session.ExpectedSizeBytes != nil && n != *session.ExpectedSizeBytes {
		s.discard(ctx, session.TempStorageKey)
		return nil, errors.NewValidationf("size mismatch: expected %d bytes, received %d", *session.ExpectedSizeBytes, n)
	}

	from := session.Status
	if err := session.Transition(model.UploadStatusUploading); err != nil {
		return nil, errors.NewInvalidState(err.Error())
	}
	if err := s.store.UpdateSession(ctx, session, from); err != nil {
		if stderr.Is(err, store.ErrConflict) {
			return nil, errors.NewInvalidState("upload session changed concurrently")
		}
		return nil, errors.NewTransient("updating upload session", err)
	}
	return session, nil
}

func (s *Service) discard(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		logger.Warnf("discarding rejected upload %s: %v", key, err)
	}
}

// Commit settles the session into a durable File row. Commits are one-shot:
// a repeat commit of a Committed session is rejected so client bugs surface.
func (s *Service) Commit(ctx context.Context, project *model.Project, sessionID uuid.UUID) (*model.UploadSession, *model.File, error) {
	session, err := s.load(ctx, project, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.Terminal() {
		return nil, nil, errors.NewInvalidState("upload session is already settled")
	}
	if session.Status == model.UploadStatusReserved && session.UploadMode == model.UploadModeServerProxy {
		return nil, nil, errors.NewInvalidState("no content has been uploaded")
	}

	info, err := s.blobs.Stat(ctx, session.TempStorageKey)
	if err != nil {
		if stderr.Is(err, blob.ErrNotFound) {
			s.fail(ctx, session)
			return nil, nil, errors.NewInvalidState("uploaded content not found in storage")
		}
		return nil, nil, errors.NewTransient("checking uploaded content", err)
	}
	if session.ExpectedSizeBytes != nil && info.SizeBytes != *session.ExpectedSizeBytes {
		return nil, nil, errors.NewValidationf("size mismatch: expected %d bytes, stored %d", *session.ExpectedSizeBytes, info.SizeBytes)
	}

	now := time.Now().UTC()
	file := &model.File{
		ID:              uuid.New(),
		ProjectID:       project.ID,
		Name:            session.FileName,
		ContentType:     session.ContentType,
		SizeBytes:       info.SizeBytes,
		Kind:            model.FileKindSource,
		Category:        model.CategoryForName(session.FileName),
		StorageProvider: s.blobs.Provider(),
		StorageKey:      session.TempStorageKey,
		CreatedAt:       now,
	}
	if err := s.store.CreateFile(ctx, file); err != nil {
		return nil, nil, errors.NewTransient("storing file record", err)
	}

	from := session.Status
	if err := session.Transition(model.UploadStatusCommitted); err != nil {
		return nil, nil, errors.NewInvalidState(err.Error())
	}
	session.CommittedFileID = &file.ID
	if err := s.store.UpdateSession(ctx, session, from); err != nil {
		// The session settled concurrently; retire the file row this
		// attempt created so Committed keeps pointing at one file.
		if delErr := s.store.SoftDeleteFile(ctx, file.ID, time.Now().UTC()); delErr != nil {
			logger.Warnf("retiring file %s from losing commit: %v", file.ID, delErr)
		}
		if stderr.Is(err, store.ErrConflict) {
			return nil, nil, errors.NewInvalidState("upload session is already settled")
		}
		return nil, nil, errors.NewTransient("updating upload session", err)
	}
	return session, file, nil
}

// fail moves the session to Failed, best-effort.
func (s *Service) fail(ctx context.Context, session *model.UploadSession) {
	from := session.Status
	if err := session.Transition(model.UploadStatusFailed); err != nil {
		return
	}
	if err := s.store.UpdateSession(ctx, session, from); err != nil && !stderr.Is(err, store.ErrConflict) {
		logger.Warnf("failing upload session %s: %v", session.ID, err)
	}
}
