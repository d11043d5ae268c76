// Package oauth implements the authorization server: app registration,
// authorization codes, token issuance with refresh rotation, and revocation.
package oauth

import (
	"context"
	stderr "errors"
	"time"

	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/audit"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/secrets"
	"github.com/octantbim/octant/pkg/store"
)

// ClientIDPrefix marks generated client identifiers.
const ClientIDPrefix = "ocapp_"

// clientIDBytes is the entropy behind a generated client id.
const clientIDBytes = 16

// clientSecretBytes is the entropy behind a generated client secret.
const clientSecretBytes = 32

// Service manages OAuth app registrations.
type Service struct {
	store store.Store
	audit *audit.Recorder
}

// NewService creates the app-management service.
func NewService(s store.Store, rec *audit.Recorder) *Service {
	return &Service{store: s, audit: rec}
}

// CreateAppParams are the inputs to CreateApp.
type CreateAppParams struct {
	WorkspaceID   uuid.UUID
	Name          string
	Description   string
	ClientType    model.ClientType
	RedirectURIs  []string
	AllowedScopes []string
	Actor         uuid.UUID
	IP            string
}

// CreateApp registers an OAuth app. For confidential clients the generated
// secret is returned exactly once; only its hash is stored.
func (s *Service) CreateApp(ctx context.Context, p CreateAppParams) (*model.OAuthApp, string, error) {
	if p.Name == "" {
		return nil, "", errors.NewValidation("app name is required")
	}
	if p.ClientType != model.ClientTypePublic && p.ClientType != model.ClientTypeConfidential {
		return nil, "", errors.NewValidationf("unknown client type %q", p.ClientType)
	}
	if len(p.RedirectURIs) == 0 {
		return nil, "", errors.NewValidation("at least one redirect URI is required")
	}
	if err := scopes.ValidateAll(p.AllowedScopes); err != nil {
		return nil, "", err
	}

	clientID, err := secrets.Random(clientIDBytes)
	if err != nil {
		return nil, "", errors.NewTransient("generating client id", err)
	}

	now := time.Now().UTC()
	app := &model.OAuthApp{
		ID:              uuid.New(),
		WorkspaceID:     p.WorkspaceID,
		Name:            p.Name,
		Description:     p.Description,
		ClientType:      p.ClientType,
		ClientID:        ClientIDPrefix + clientID,
		RedirectURIs:    p.RedirectURIs,
		AllowedScopes:   p.AllowedScopes,
		IsEnabled:       true,
		CreatedAt:       now,
		UpdatedAt:       now,
		CreatedByUserID: p.Actor,
	}

	var clientSecret string
	if p.ClientType == model.ClientTypeConfidential {
		clientSecret, err = secrets.Random(clientSecretBytes)
		if err != nil {
			return nil, "", errors.NewTransient("generating client secret", err)
		}
		app.ClientSecretHash, app.ClientSecretSalt, err = secrets.Hash(clientSecret)
		if err != nil {
			return nil, "", errors.NewTransient("hashing client secret", err)
		}
	}

	if err := s.store.CreateApp(ctx, app); err != nil {
		return nil, "", errors.NewTransient("storing oauth app", err)
	}
	s.audit.Record(ctx, model.AuditSubjectOAuthApp, app.ID, model.AuditOAuthAppCreated, p.Actor,
		map[string]any{"name": app.Name, "clientType": string(app.ClientType)}, p.IP)
	return app, clientSecret, nil
}

// GetApp retrieves an app scoped to a workspace; an app in another workspace
// is reported as missing.
func (s *Service) GetApp(ctx context.Context, workspaceID, id uuid.UUID) (*model.OAuthApp, error) {
	app, err := s.store.GetApp(ctx, id)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, errors.NewNotFound("app not found")
		}
		return nil, errors.NewTransient("loading oauth app", err)
	}
	if app.WorkspaceID != workspaceID {
		return nil, errors.NewNotFound("app not found")
	}
	return app, nil
}

// ListApps returns the workspace's registered apps.
func (s *Service) ListApps(ctx context.Context, workspaceID uuid.UUID) ([]model.OAuthApp, error) {
	apps, err := s.store.ListApps(ctx, workspaceID)
	if err != nil {
		return nil, errors.NewTransient("listing oauth apps", err)
	}
	return apps, nil
}

// UpdateAppParams are the optional field changes for UpdateApp.
type UpdateAppParams struct {
	Name          *string
	Description   *string
	RedirectURIs  []string
	AllowedScopes []string
	Actor         uuid.UUID
	IP            string
}

// UpdateApp applies field changes to an app.
func (s *Service) UpdateApp(ctx context.Context, workspaceID, id uuid.UUID, p UpdateAppParams) (*model.OAuthApp, error) {
	app, err := s.GetApp(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		if *p.Name == "" {
			return nil, errors.NewValidation("app name cannot be empty")
		}
		app.Name = *p.Name
	}
	if p.Description != nil {
		app.Description = *p.Description
	}
	if p.RedirectURIs != nil {
		if len(p.RedirectURIs) == 0 {
			return nil, errors.NewValidation("at least one redirect URI is required")
		}
		app.RedirectURIs = p.RedirectURIs
	}
	if p.AllowedScopes != nil {
		if err := scopes.ValidateAll(p.AllowedScopes); err != nil {
			return nil, err
		}
		app.AllowedScopes = p.AllowedScopes
	}
	app.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateApp(ctx, app); err != nil {
		return nil, errors.NewTransient("updating oauth app", err)
	}
	s.audit.Record(ctx, model.AuditSubjectOAuthApp, app.ID, model.AuditOAuthAppUpdated, p.Actor, nil, p.IP)
	return app, nil
}

// SetAppEnabled enables or disables an app. Disabled apps fail client
// resolution at /authorize and /token.
func (s *Service) SetAppEnabled(ctx context.Context, workspaceID, id uuid.UUID, enabled bool, actor uuid.UUID, ip string) (*model.OAuthApp, error) {
	app, err := s.GetApp(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	app.IsEnabled = enabled
	app.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateApp(ctx, app); err != nil {
		return nil, errors.NewTransient("updating oauth app", err)
	}
	event := model.AuditOAuthAppEnabled
	if !enabled {
		event = model.AuditOAuthAppDisabled
	}
	s.audit.Record(ctx, model.AuditSubjectOAuthApp, app.ID, event, actor, nil, ip)
	return app, nil
}

// RotateSecret replaces a confidential app's secret, returning the new
// plaintext exactly once. Existing refresh tokens stay valid.
func (s *Service) RotateSecret(ctx context.Context, workspaceID, id uuid.UUID, actor uuid.UUID, ip string) (*model.OAuthApp, string, error) {
	app, err := s.GetApp(ctx, workspaceID, id)
	if err != nil {
		return nil, "", err
	}
	if app.ClientType != model.ClientTypeConfidential {
		return nil, "", errors.NewInvalidState("public clients have no secret to rotate")
	}

	clientSecret, err := secrets.Random(clientSecretBytes)
	if err != nil {
		return nil, "", errors.NewTransient("generating client secret", err)
	}
	if app.ClientSecretHash, app.ClientSecretSalt, err = secrets.Hash(clientSecret); err != nil {
		return nil, "", errors.NewTransient("hashing client secret", err)
	}
	app.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateApp(ctx, app); err != nil {
		return nil, "", errors.NewTransient("updating oauth app", err)
	}
	s.audit.Record(ctx, model.AuditSubjectOAuthApp, app.ID, model.AuditOAuthAppSecretRotated, actor, nil, ip)
	return app, clientSecret, nil
}

// DeleteApp removes an app; its codes, refresh-token families and audit
// trail go with it.
func (s *Service) DeleteApp(ctx context.Context, workspaceID, id uuid.UUID, actor uuid.UUID, ip string) error {
	if _, err := s.GetApp(ctx, workspaceID, id); err != nil {
		return err
	}
	if err := s.store.DeleteApp(ctx, id); err != nil {
		return errors.NewTransient("deleting oauth app", err)
	}
	return nil
}

// AuditLogs returns an app's audit trail, newest first.
func (s *Service) AuditLogs(ctx context.Context, workspaceID, id uuid.UUID, page store.Page) ([]model.AuditLog, error) {
	if _, err := s.GetApp(ctx, workspaceID, id); err != nil {
		return nil, err
	}
	return s.audit.List(ctx, model.AuditSubjectOAuthApp, id, page)
}
