// Package audit appends security-relevant lifecycle events.
//
// Writes ride the caller's domain operation: a failed domain change never
// leaves an orphan audit row, and an audit-only failure is logged but does
// not undo the domain change.
package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/logger"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/store"
)

// Recorder appends audit events to the store.
type Recorder struct {
	store store.AuditStore
}

// NewRecorder creates an audit recorder.
func NewRecorder(s store.AuditStore) *Recorder {
	return &Recorder{store: s}
}

// Record appends one event. Failures are logged, not propagated; the domain
// change the event describes has already happened.
func (r *Recorder) Record(ctx context.Context, subject model.AuditSubject, subjectID uuid.UUID,
	event model.AuditEvent, actor uuid.UUID, details map[string]any, ip string) {
	entry := &model.AuditLog{
		ID:          uuid.New(),
		Subject:     subject,
		SubjectID:   subjectID,
		EventType:   event,
		ActorUserID: actor,
		Timestamp:   time.Now().UTC(),
		Details:     details,
		IPAddress:   ip,
	}
	if err := r.store.AppendAudit(ctx, entry); err != nil {
		logger.Errorf("appending audit event %s/%s for %s: %v", subject, event, subjectID, err)
	}
}

// List returns a subject's events, newest first.
func (r *Recorder) List(ctx context.Context, subject model.AuditSubject, subjectID uuid.UUID, page store.Page) ([]model.AuditLog, error) {
	return r.store.ListAudit(ctx, subject, subjectID, page)
}

// ClientIP derives the caller address: first X-Forwarded-For token when
// present, else the connection remote address without its port.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
