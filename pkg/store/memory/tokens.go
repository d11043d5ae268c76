package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/store"
)

// CreateApp stores an OAuth app.
func (s *Store) CreateApp(_ context.Context, app *model.OAuthApp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.apps {
		if existing.ClientID == app.ClientID {
			return store.ErrAlreadyExists
		}
	}
	s.apps[app.ID] = *app
	return nil
}

// GetApp retrieves an OAuth app by id.
func (s *Store) GetApp(_ context.Context, id uuid.UUID) (*model.OAuthApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.apps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &app, nil
}

// GetAppByClientID retrieves an OAuth app by its public client id.
func (s *Store) GetAppByClientID(_ context.Context, clientID string) (*model.OAuthApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, app := range s.apps {
		if app.ClientID == clientID {
			return &app, nil
		}
	}
	return nil, store.ErrNotFound
}

// ListApps returns all OAuth apps in a workspace.
func (s *Store) ListApps(_ context.Context, workspaceID uuid.UUID) ([]model.OAuthApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.OAuthApp
	for _, app := range s.apps {
		if app.WorkspaceID == workspaceID {
			result = append(result, app)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// UpdateApp persists OAuth app field changes.
func (s *Store) UpdateApp(_ context.Context, app *model.OAuthApp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apps[app.ID]; !ok {
		return store.ErrNotFound
	}
	s.apps[app.ID] = *app
	return nil
}

// DeleteApp removes the app, its codes, refresh tokens and audit logs.
func (s *Store) DeleteApp(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apps[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.apps, id)
	for code, c := range s.codes {
		if c.AppID == id {
			delete(s.codes, code)
		}
	}
	for hash, t := range s.refresh {
		if t.AppID == id {
			delete(s.refresh, hash)
		}
	}
	kept := s.audits[:0]
	for _, a := range s.audits {
		if !(a.Subject == model.AuditSubjectOAuthApp && a.SubjectID == id) {
			kept = append(kept, a)
		}
	}
	s.audits = kept
	return nil
}

// CreateCode stores an authorization code.
func (s *Store) CreateCode(_ context.Context, code *model.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return store.ErrAlreadyExists
	}
	s.codes[code.Code] = *code
	return nil
}

// GetCode retrieves an authorization code by value.
func (s *Store) GetCode(_ context.Context, code string) (*model.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

// ConsumeCode marks the code used; exactly one concurrent redeemer wins.
func (s *Store) ConsumeCode(_ context.Context, code string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return store.ErrNotFound
	}
	if c.UsedAt != nil {
		return store.ErrConflict
	}
	c.UsedAt = &at
	s.codes[code] = c
	return nil
}

// CreateRefreshToken stores a refresh token row.
func (s *Store) CreateRefreshToken(_ context.Context, t *model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refresh[t.TokenHash]; exists {
		return store.ErrAlreadyExists
	}
	s.refresh[t.TokenHash] = *t
	return nil
}

// GetRefreshTokenByHash retrieves a refresh token by its SHA-256 hash.
func (s *Store) GetRefreshTokenByHash(_ context.Context, hash string) (*model.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.refresh[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

// RevokeRefreshToken marks a token revoked; exactly one rotator wins.
func (s *Store) RevokeRefreshToken(_ context.Context, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refresh[hash]
	if !ok {
		return store.ErrNotFound
	}
	if t.RevokedAt != nil {
		return store.ErrConflict
	}
	t.RevokedAt = &at
	t.LastRotatedAt = &at
	s.refresh[hash] = t
	return nil
}

// RevokeTokenFamily revokes every active token sharing the family id.
func (s *Store) RevokeTokenFamily(_ context.Context, familyID uuid.UUID, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for hash, t := range s.refresh {
		if t.FamilyID == familyID && t.RevokedAt == nil {
			t.RevokedAt = &at
			s.refresh[hash] = t
			revoked++
		}
	}
	return revoked, nil
}

// CreatePAT stores a personal access token row.
func (s *Store) CreatePAT(_ context.Context, t *model.PersonalAccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.pats {
		if existing.TokenPrefix == t.TokenPrefix {
			return store.ErrAlreadyExists
		}
	}
	s.pats[t.ID] = *t
	return nil
}

// GetPAT retrieves a PAT by id.
func (s *Store) GetPAT(_ context.Context, id uuid.UUID) (*model.PersonalAccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.pats[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

// GetPATByPrefix retrieves a PAT by its public lookup prefix.
func (s *Store) GetPATByPrefix(_ context.Context, prefix string) (*model.PersonalAccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.pats {
		if t.TokenPrefix == prefix {
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

// ListPATs returns a user's PATs in a workspace.
func (s *Store) ListPATs(_ context.Context, workspaceID, userID uuid.UUID) ([]model.PersonalAccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PersonalAccessToken
	for _, t := range s.pats {
		if t.WorkspaceID == workspaceID && t.UserID == userID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// UpdatePAT persists PAT field changes.
func (s *Store) UpdatePAT(_ context.Context, t *model.PersonalAccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pats[t.ID]; !ok {
		return store.ErrNotFound
	}
	s.pats[t.ID] = *t
	return nil
}

// TouchPATUsed records lastUsedAt.
func (s *Store) TouchPATUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pats[id]
	if !ok {
		return store.ErrNotFound
	}
	t.LastUsedAt = &at
	s.pats[id] = t
	return nil
}

// AppendAudit appends an audit event.
func (s *Store) AppendAudit(_ context.Context, entry *model.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audits = append(s.audits, *entry)
	return nil
}

// ListAudit returns audit events for a subject, newest first.
func (s *Store) ListAudit(_ context.Context, subject model.AuditSubject, subjectID uuid.UUID, page store.Page) ([]model.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.AuditLog
	for _, a := range s.audits {
		if a.Subject == subject && a.SubjectID == subjectID {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })

	total := len(matched)
	p := page.Clamp()
	start := p.Offset()
	if start > total {
		start = total
	}
	end := start + p.Size
	if end > total {
		end = total
	}
	return matched[start:end], nil
}

// ReplaceExtraction swaps the extraction result for a model version.
func (s *Store) ReplaceExtraction(_ context.Context, modelVersionID uuid.UUID, elements []store.ElementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, old := range s.elements[modelVersionID] {
		delete(s.elementByID, old.Element.ID)
	}
	copied := make([]store.ElementRecord, len(elements))
	copy(copied, elements)
	s.elements[modelVersionID] = copied
	for _, rec := range copied {
		s.elementByID[rec.Element.ID] = modelVersionID
	}
	return nil
}

// QueryElements returns extracted elements matching the filter.
func (s *Store) QueryElements(_ context.Context, modelVersionID uuid.UUID, filter store.PropertyFilter) ([]store.ElementRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []store.ElementRecord
	for _, rec := range s.elements[modelVersionID] {
		if filter.EntityLabel != nil && rec.Element.EntityLabel != *filter.EntityLabel {
			continue
		}
		if filter.GlobalID != "" && rec.Element.GlobalID != filter.GlobalID {
			continue
		}
		if filter.TypeName != "" && rec.Element.TypeName != filter.TypeName {
			continue
		}
		if filter.Name != "" && rec.Element.Name != filter.Name {
			continue
		}
		if filter.PropertySetName != "" && !hasPropertySet(rec, filter.PropertySetName) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Element.EntityLabel < matched[j].Element.EntityLabel })

	total := len(matched)
	p := filter.Page.Clamp()
	start := p.Offset()
	if start > total {
		start = total
	}
	end := start + p.Size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// GetElement retrieves one extracted element with its sets.
func (s *Store) GetElement(_ context.Context, elementID uuid.UUID) (*store.ElementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versionID, ok := s.elementByID[elementID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, rec := range s.elements[versionID] {
		if rec.Element.ID == elementID {
			return &rec, nil
		}
	}
	return nil, store.ErrNotFound
}

func hasPropertySet(rec store.ElementRecord, name string) bool {
	for _, ps := range rec.PropertySets {
		if ps.Set.Name == name {
			return true
		}
	}
	return false
}
