package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditSubject is the entity class an audit event belongs to.
type AuditSubject string

// Audit subjects.
const (
	AuditSubjectOAuthApp AuditSubject = "oauth_app"
	AuditSubjectPAT      AuditSubject = "pat"
)

// AuditEvent is the event type within a subject's closed enum.
type AuditEvent string

// OAuth app audit events.
const (
	AuditOAuthAppCreated       AuditEvent = "created"
	AuditOAuthAppUpdated       AuditEvent = "updated"
	AuditOAuthAppEnabled       AuditEvent = "enabled"
	AuditOAuthAppDisabled      AuditEvent = "disabled"
	AuditOAuthAppDeleted       AuditEvent = "deleted"
	AuditOAuthAppSecretRotated AuditEvent = "secret_rotated"
	AuditRefreshTokenIssued    AuditEvent = "refresh_token_issued"
)

// PAT audit events.
const (
	AuditPATCreated        AuditEvent = "created"
	AuditPATUpdated        AuditEvent = "updated"
	AuditPATRevokedByUser  AuditEvent = "revoked_by_user"
	AuditPATRevokedByAdmin AuditEvent = "revoked_by_admin"
	AuditPATUsed           AuditEvent = "used"
)

// AuditLog is one append-only event. Details is a structured map serialized
// to a stable JSON form by the store.
type AuditLog struct {
	ID          uuid.UUID      `json:"id"`
	Subject     AuditSubject   `json:"subject"`
	SubjectID   uuid.UUID      `json:"subjectId"`
	EventType   AuditEvent     `json:"eventType"`
	ActorUserID uuid.UUID      `json:"actorUserId"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
	IPAddress   string         `json:"ipAddress,omitempty"`
}
