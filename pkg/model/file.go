package model

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileKind distinguishes user uploads from processor output.
type FileKind string

// File kinds.
const (
	FileKindSource   FileKind = "source"
	FileKindArtifact FileKind = "artifact"
)

// FileCategory classifies a file by its content.
type FileCategory string

// File categories.
const (
	FileCategoryIfc        FileCategory = "ifc"
	FileCategoryWexBim     FileCategory = "wexbim"
	FileCategoryProperties FileCategory = "properties"
	FileCategoryOther      FileCategory = "other"
)

// CategoryForName derives the file category from the lowercased extension
// of the given file name.
func CategoryForName(name string) FileCategory {
	switch strings.ToLower(path.Ext(name)) {
	case ".ifc", ".ifcxml", ".ifczip":
		return FileCategoryIfc
	case ".wexbim":
		return FileCategoryWexBim
	default:
		return FileCategoryOther
	}
}

// File is a durable record of a stored blob. Soft-deleted files stay
// reachable by id but are excluded from listings and usage aggregation.
type File struct {
	ID              uuid.UUID    `json:"id"`
	ProjectID       uuid.UUID    `json:"projectId"`
	Name            string       `json:"name"`
	ContentType     string       `json:"contentType"`
	SizeBytes       int64        `json:"sizeBytes"`
	Checksum        string       `json:"checksum,omitempty"`
	Kind            FileKind     `json:"kind"`
	Category        FileCategory `json:"category"`
	StorageProvider string       `json:"storageProvider"`
	StorageKey      string       `json:"storageKey"`
	IsDeleted       bool         `json:"isDeleted"`
	CreatedAt       time.Time    `json:"createdAt"`
	DeletedAt       *time.Time   `json:"deletedAt,omitempty"`
}

// UploadStatus is the state of an upload session.
type UploadStatus string

// Upload session states. Committed, Expired and Failed are terminal.
const (
	UploadStatusReserved  UploadStatus = "reserved"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusCommitted UploadStatus = "committed"
	UploadStatusExpired   UploadStatus = "expired"
	UploadStatusFailed    UploadStatus = "failed"
)

// UploadMode selects how bytes reach the blob store.
type UploadMode string

// Upload modes.
const (
	UploadModeServerProxy  UploadMode = "server_proxy"
	UploadModeDirectToBlob UploadMode = "direct_to_blob"
)

// UploadSession tracks a reserve/upload/commit sequence.
type UploadSession struct {
	ID                uuid.UUID    `json:"id"`
	ProjectID         uuid.UUID    `json:"projectId"`
	FileName          string       `json:"fileName"`
	ContentType       string       `json:"contentType"`
	ExpectedSizeBytes *int64       `json:"expectedSizeBytes,omitempty"`
	Status            UploadStatus `json:"status"`
	UploadMode        UploadMode   `json:"uploadMode"`
	TempStorageKey    string       `json:"-"`
	DirectUploadURL   string       `json:"directUploadUrl,omitempty"`
	CommittedFileID   *uuid.UUID   `json:"committedFileId,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	ExpiresAt         time.Time    `json:"expiresAt"`
}

// uploadTransitions enumerates the legal state changes. Terminal states have
// no outgoing edges.
var uploadTransitions = map[UploadStatus][]UploadStatus{
	UploadStatusReserved:  {UploadStatusUploading, UploadStatusCommitted, UploadStatusExpired, UploadStatusFailed},
	UploadStatusUploading: {UploadStatusUploading, UploadStatusCommitted, UploadStatusExpired, UploadStatusFailed},
}

// Transition moves the session to the target status, rejecting illegal
// transitions. All status changes go through here.
func (s *UploadSession) Transition(to UploadStatus) error {
	for _, allowed := range uploadTransitions[s.Status] {
		if allowed == to {
			s.Status = to
			return nil
		}
	}
	return fmt.Errorf("upload session %s: illegal transition %s -> %s", s.ID, s.Status, to)
}

// Terminal reports whether the session is in a terminal state.
func (s *UploadSession) Terminal() bool {
	return len(uploadTransitions[s.Status]) == 0
}

// ExpiredAt reports whether the session has passed its expiry at the given
// instant. Terminal sessions never expire retroactively.
func (s *UploadSession) ExpiredAt(now time.Time) bool {
	return !s.Terminal() && now.After(s.ExpiresAt)
}

// UploadTempKey derives the deterministic temp storage key for a session.
func UploadTempKey(workspaceID, projectID, sessionID uuid.UUID, fileName string) string {
	return fmt.Sprintf("%s/%s/uploads/%s%s", workspaceID, projectID, sessionID, strings.ToLower(path.Ext(fileName)))
}

// ArtifactKey derives the storage key for a processing artifact.
func ArtifactKey(workspaceID, projectID, versionID uuid.UUID, suffix string) string {
	return fmt.Sprintf("%s/%s/artifacts/%s%s", workspaceID, projectID, versionID, suffix)
}
