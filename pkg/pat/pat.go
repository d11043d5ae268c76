// Package pat issues and authenticates personal access tokens.
//
// Wire format: "ocpat_" + prefix + secret, both unpadded URL-safe base64.
// The prefix is the clear-text lookup key; only a PBKDF2 hash of the secret
// is stored.
package pat

import (
	"context"
	stderr "errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/audit"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/identity"
	"github.com/octantbim/octant/pkg/logger"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/secrets"
	"github.com/octantbim/octant/pkg/store"
)

const (
	// prefixBytes encode to 11 base64 characters, the fixed-width lookup key.
	prefixBytes = 8
	prefixChars = 11

	// secretBytes is the entropy behind the hashed remainder.
	secretBytes = 24

	// MaxExpiryDays bounds a token's requested lifetime.
	MaxExpiryDays = 365
)

// Service manages personal access tokens.
type Service struct {
	store store.Store
	audit *audit.Recorder
}

// NewService creates the PAT service.
func NewService(s store.Store, rec *audit.Recorder) *Service {
	return &Service{store: s, audit: rec}
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	WorkspaceID   uuid.UUID
	UserID        uuid.UUID
	Name          string
	Description   string
	Scopes        []string
	ExpiresInDays *int
	IP            string
}

// Create issues a token. The full token value is returned exactly once.
func (s *Service) Create(ctx context.Context, p CreateParams) (*model.PersonalAccessToken, string, error) {
	if p.Name == "" {
		return nil, "", errors.NewValidation("token name is required")
	}
	if len(p.Scopes) == 0 {
		return nil, "", errors.NewValidation("at least one scope is required")
	}
	if err := scopes.ValidateAll(p.Scopes); err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	var expiresAt *time.Time
	if p.ExpiresInDays != nil {
		days := *p.ExpiresInDays
		if days < 1 || days > MaxExpiryDays {
			return nil, "", errors.NewValidationf("expiresInDays must be between 1 and %d", MaxExpiryDays)
		}
		t := now.AddDate(0, 0, days)
		expiresAt = &t
	}

	prefix, err := secrets.Random(prefixBytes)
	if err != nil {
		return nil, "", errors.NewTransient("generating token prefix", err)
	}
	secret, err := secrets.Random(secretBytes)
	if err != nil {
		return nil, "", errors.NewTransient("generating token secret", err)
	}
	hash, salt, err := secrets.Hash(secret)
	if err != nil {
		return nil, "", errors.NewTransient("hashing token secret", err)
	}

	token := &model.PersonalAccessToken{
		ID:          uuid.New(),
		WorkspaceID: p.WorkspaceID,
		UserID:      p.UserID,
		Name:        p.Name,
		Description: p.Description,
		TokenPrefix: prefix,
		TokenHash:   hash,
		TokenSalt:   salt,
		Scopes:      p.Scopes,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	if err := s.store.CreatePAT(ctx, token); err != nil {
		return nil, "", errors.NewTransient("storing personal access token", err)
	}
	s.audit.Record(ctx, model.AuditSubjectPAT, token.ID, model.AuditPATCreated, p.UserID,
		map[string]any{"name": token.Name, "scopes": scopes.Join(token.Scopes)}, p.IP)
	return token, model.PATPrefix + prefix + secret, nil
}

// List returns the user's tokens in the workspace.
func (s *Service) List(ctx context.Context, workspaceID, userID uuid.UUID) ([]model.PersonalAccessToken, error) {
	tokens, err := s.store.ListPATs(ctx, workspaceID, userID)
	if err != nil {
		return nil, errors.NewTransient("listing personal access tokens", err)
	}
	return tokens, nil
}

// Get retrieves a token scoped to a workspace.
func (s *Service) Get(ctx context.Context, workspaceID, id uuid.UUID) (*model.PersonalAccessToken, error) {
	token, err := s.store.GetPAT(ctx, id)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, errors.NewNotFound("token not found")
		}
		return nil, errors.NewTransient("loading personal access token", err)
	}
	if token.WorkspaceID != workspaceID {
		return nil, errors.NewNotFound("token not found")
	}
	return token, nil
}

// Update changes a token's name or description. Revoked tokens are frozen.
func (s *Service) Update(ctx context.Context, workspaceID, id uuid.UUID, name, description *string, actor uuid.UUID, ip string) (*model.PersonalAccessToken, error) {
	token, err := s.Get(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if token.IsRevoked {
		return nil, errors.NewInvalidState("cannot update a revoked token")
	}
	if name != nil {
		if *name == "" {
			return nil, errors.NewValidation("token name cannot be empty")
		}
		token.Name = *name
	}
	if description != nil {
		token.Description = *description
	}
	if err := s.store.UpdatePAT(ctx, token); err != nil {
		return nil, errors.NewTransient("updating personal access token", err)
	}
	s.audit.Record(ctx, model.AuditSubjectPAT, token.ID, model.AuditPATUpdated, actor, nil, ip)
	return token, nil
}

// Revoke disables a token. byAdmin distinguishes self-service revocation
// from a workspace admin acting on someone else's token.
func (s *Service) Revoke(ctx context.Context, workspaceID, id uuid.UUID, byAdmin bool, actor uuid.UUID, ip string) (*model.PersonalAccessToken, error) {
	token, err := s.Get(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if token.IsRevoked {
		return nil, errors.NewInvalidState("token is already revoked")
	}
	now := time.Now().UTC()
	token.IsRevoked = true
	token.RevokedAt = &now
	if err := s.store.UpdatePAT(ctx, token); err != nil {
		return nil, errors.NewTransient("revoking personal access token", err)
	}
	event := model.AuditPATRevokedByUser
	if byAdmin {
		event = model.AuditPATRevokedByAdmin
	}
	s.audit.Record(ctx, model.AuditSubjectPAT, token.ID, event, actor, nil, ip)
	return token, nil
}

// AuditLogs returns a token's audit trail, newest first.
func (s *Service) AuditLogs(ctx context.Context, workspaceID, id uuid.UUID, page store.Page) ([]model.AuditLog, error) {
	if _, err := s.Get(ctx, workspaceID, id); err != nil {
		return nil, err
	}
	return s.audit.List(ctx, model.AuditSubjectPAT, id, page)
}

// Verify authenticates a presented token value and mints the equivalent
// principal. Implements the scope gate's Verifier contract.
func (s *Service) Verify(ctx context.Context, presented string) (*identity.Principal, error) {
	remainder, ok := strings.CutPrefix(presented, model.PATPrefix)
	if !ok || len(remainder) <= prefixChars {
		return nil, errors.NewAuthentication("malformed personal access token")
	}
	prefix, secret := remainder[:prefixChars], remainder[prefixChars:]

	token, err := s.store.GetPATByPrefix(ctx, prefix)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, errors.NewAuthentication("invalid personal access token")
		}
		return nil, errors.NewTransient("looking up personal access token", err)
	}
	if !token.Usable(time.Now().UTC()) {
		return nil, errors.NewAuthentication("token is revoked or expired")
	}
	if !secrets.Verify(secret, token.TokenHash, token.TokenSalt) {
		return nil, errors.NewAuthentication("invalid personal access token")
	}

	user, err := s.store.GetUser(ctx, token.UserID)
	if err != nil {
		return nil, errors.NewAuthentication("token owner no longer exists")
	}

	// Best-effort; a lost write only skews lastUsedAt.
	if err := s.store.TouchPATUsed(ctx, token.ID, time.Now().UTC()); err != nil {
		logger.Warnf("recording token last use for %s: %v", token.ID, err)
	}
	s.audit.Record(ctx, model.AuditSubjectPAT, token.ID, model.AuditPATUsed, user.ID, nil, "")

	workspaceID := token.WorkspaceID
	return &identity.Principal{
		Subject:     user.Subject,
		UserID:      user.ID,
		WorkspaceID: &workspaceID,
		Scopes:      token.Scopes,
		Token:       presented,
	}, nil
}
