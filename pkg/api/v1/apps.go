package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/api/render"
	"github.com/octantbim/octant/pkg/audit"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/oauth"
	"github.com/octantbim/octant/pkg/roles"
	"github.com/octantbim/octant/pkg/scopes"
)

// appRouter sets up the OAuth app admin routes nested under a workspace.
// Every operation requires workspace Admin; the scope tiers separate read,
// write and destructive actions.
func appRouter(apps *oauth.Service, checker *roles.Checker, auth *scopes.Authenticator) http.Handler {
	routes := &appRoutes{apps: apps, checker: checker}
	r := chi.NewRouter()
	r.With(auth.Require(scopes.OAuthAppsRead)).Get("/", routes.listApps)
	r.With(auth.Require(scopes.OAuthAppsWrite)).Post("/", routes.createApp)
	r.With(auth.Require(scopes.OAuthAppsRead)).Get("/{appID}", routes.getApp)
	r.With(auth.Require(scopes.OAuthAppsWrite)).Put("/{appID}", routes.updateApp)
	r.With(auth.Require(scopes.OAuthAppsAdmin)).Post("/{appID}/enable", routes.enableApp)
	r.With(auth.Require(scopes.OAuthAppsAdmin)).Post("/{appID}/disable", routes.disableApp)
	r.With(auth.Require(scopes.OAuthAppsAdmin)).Post("/{appID}/rotate-secret", routes.rotateSecret)
	r.With(auth.Require(scopes.OAuthAppsAdmin)).Delete("/{appID}", routes.deleteApp)
	r.With(auth.Require(scopes.OAuthAppsRead)).Get("/{appID}/audit-logs", routes.auditLogs)
	return r
}

type appRoutes struct {
	apps    *oauth.Service
	checker *roles.Checker
}

// admitAdmin runs the tenant gate and the workspace Admin requirement shared
// by every app admin endpoint.
func (h *appRoutes) admitAdmin(r *http.Request, scope string) (uuid.UUID, uuid.UUID, error) {
	workspaceID, err := urlParamUUID(r, "workspaceID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	principal, err := authorizeWorkspace(r, scope, workspaceID)
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.AsNotFound(err)
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), workspaceID, principal.UserID, model.WorkspaceRoleAdmin); err != nil {
		return uuid.Nil, uuid.Nil, errors.AsNotFound(err)
	}
	return workspaceID, principal.UserID, nil
}

type createAppRequest struct {
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	ClientType    model.ClientType `json:"clientType"`
	RedirectURIs  []string         `json:"redirectUris"`
	AllowedScopes []string         `json:"allowedScopes"`
}

type appSecretResponse struct {
	App *model.OAuthApp `json:"app"`
	// ClientSecret is returned only at creation or rotation time.
	ClientSecret string `json:"clientSecret,omitempty"`
}

//	 createApp
//		@Summary		Register an OAuth app
//		@Description	Creates an app; confidential clients receive their secret exactly once
//		@Tags			apps
//		@Accept			json
//		@Produce		json
//		@Success		201	{object}	appSecretResponse
//		@Router			/api/v1/workspaces/{workspaceID}/apps [post]
func (h *appRoutes) createApp(w http.ResponseWriter, r *http.Request) {
	workspaceID, actor, err := h.admitAdmin(r, scopes.OAuthAppsWrite)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	var req createAppRequest
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}

	app, secret, err := h.apps.CreateApp(r.Context(), oauth.CreateAppParams{
		WorkspaceID:   workspaceID,
		Name:          req.Name,
		Description:   req.Description,
		ClientType:    req.ClientType,
		RedirectURIs:  req.RedirectURIs,
		AllowedScopes: req.AllowedScopes,
		Actor:         actor,
		IP:            audit.ClientIP(r),
	})
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusCreated, appSecretResponse{App: app, ClientSecret: secret})
}

func (h *appRoutes) listApps(w http.ResponseWriter, r *http.Request) {
	workspaceID, _, err := h.admitAdmin(r, scopes.OAuthAppsRead)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	apps, err := h.apps.ListApps(r.Context(), workspaceID)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, apps)
}

func (h *appRoutes) getApp(w http.ResponseWriter, r *http.Request) {
	workspaceID, _, err := h.admitAdmin(r, scopes.OAuthAppsRead)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	appID, err := urlParamUUID(r, "appID")
	if err != nil {
		render.Error(w, r, err)
		return
	}
	app, err := h.apps.GetApp(r.Context(), workspaceID, appID)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, app)
}

type updateAppRequest struct {
	Name          *string  `json:"name"`
	Description   *string  `json:"description"`
	RedirectURIs  []string `json:"redirectUris"`
	AllowedScopes []string `json:"allowedScopes"`
}

func (h *appRoutes) updateApp(w http.ResponseWriter, r *http.Request) {
	workspaceID, actor, err := h.admitAdmin(r, scopes.OAuthAppsWrite)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	appID, err := urlParamUUID(r, "appID")
	if err != nil {
		render.Error(w, r, err)
		return
	}
	var req updateAppRequest
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}

	app, err := h.apps.UpdateApp(r.Context(), workspaceID, appID, oauth.UpdateAppParams{
		Name:          req.Name,
		Description:   req.Description,
		RedirectURIs:  req.RedirectURIs,
		AllowedScopes: req.AllowedScopes,
		Actor:         actor,
		IP:            audit.ClientIP(r),
	})
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, app)
}

func (h *appRoutes) enableApp(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *appRoutes) disableApp(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *appRoutes) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	workspaceID, actor, err := h.admitAdmin(r, scopes.OAuthAppsAdmin)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	appID, err := urlParamUUID(r, "appID")
	if err != nil {
		render.Error(w, r, err)
		return
	}
	app, err := h.apps.SetAppEnabled(r.Context(), workspaceID, appID, enabled, actor, audit.ClientIP(r))
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, app)
}

//	 rotateSecret
//		@Summary		Rotate an app's client secret
//		@Description	Replaces the secret of a confidential client; the new value is shown once
//		@Tags			apps
//		@Produce		json
//		@Success		200	{object}	appSecretResponse
//		@Router			/api/v1/workspaces/{workspaceID}/apps/{appID}/rotate-secret [post]
func (h *appRoutes) rotateSecret(w http.ResponseWriter, r *http.Request) {
	workspaceID, actor, err := h.admitAdmin(r, scopes.OAuthAppsAdmin)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	appID, err := urlParamUUID(r, "appID")
	if err != nil {
		render.Error(w, r, err)
		return
	}
	app, secret, err := h.apps.RotateSecret(r.Context(), workspaceID, appID, actor, audit.ClientIP(r))
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, appSecretResponse{App: app, ClientSecret: secret})
}

func (h *appRoutes) deleteApp(w http.ResponseWriter, r *http.Request) {
	workspaceID, actor, err := h.admitAdmin(r, scopes.OAuthAppsAdmin)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	appID, err := urlParamUUID(r, "appID")
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.apps.DeleteApp(r.Context(), workspaceID, appID, actor, audit.ClientIP(r)); err != nil {
		render.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *appRoutes) auditLogs(w http.ResponseWriter, r *http.Request) {
	workspaceID, _, err := h.admitAdmin(r, scopes.OAuthAppsRead)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	appID, err := urlParamUUID(r, "appID")
	if err != nil {
		render.Error(w, r, err)
		return
	}
	page := pageFromQuery(r)
	logs, err := h.apps.AuditLogs(r.Context(), workspaceID, appID, page)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	renderPage(w, logs, len(logs), page)
}
