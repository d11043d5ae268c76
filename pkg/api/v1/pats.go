package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/api/render"
	"github.com/octantbim/octant/pkg/audit"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/identity"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/pat"
	"github.com/octantbim/octant/pkg/roles"
	"github.com/octantbim/octant/pkg/scopes"
)

// patRouter sets up the personal-access-token routes nested under a
// workspace. Tokens are self-service; a workspace Admin may additionally
// revoke anyone's token.
func patRouter(pats *pat.Service, checker *roles.Checker, auth *scopes.Authenticator) http.Handler {
	routes := &patRoutes{pats: pats, checker: checker}
	r := chi.NewRouter()
	r.With(auth.Require(scopes.PATsRead)).Get("/", routes.listPATs)
	r.With(auth.Require(scopes.PATsWrite)).Post("/", routes.createPAT)
	r.With(auth.Require(scopes.PATsRead)).Get("/{patID}", routes.getPAT)
	r.With(auth.Require(scopes.PATsWrite)).Put("/{patID}", routes.updatePAT)
	r.With(auth.Require(scopes.PATsWrite)).Post("/{patID}/revoke", routes.revokePAT)
	r.With(auth.Require(scopes.PATsRead)).Get("/{patID}/audit-logs", routes.auditLogs)
	return r
}

type patRoutes struct {
	pats    *pat.Service
	checker *roles.Checker
}

// admit runs the tenant gate and the membership requirement shared by the
// PAT endpoints.
func (h *patRoutes) admit(r *http.Request, scope string) (uuid.UUID, *identity.Principal, error) {
	workspaceID, err := urlParamUUID(r, "workspaceID")
	if err != nil {
		return uuid.Nil, nil, err
	}
	principal, err := authorizeWorkspace(r, scope, workspaceID)
	if err != nil {
		return uuid.Nil, nil, errors.AsNotFound(err)
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), workspaceID, principal.UserID, model.WorkspaceRoleGuest); err != nil {
		return uuid.Nil, nil, errors.AsNotFound(err)
	}
	return workspaceID, principal, nil
}

type createPATRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Scopes        []string `json:"scopes"`
	ExpiresInDays *int     `json:"expiresInDays"`
}

type patSecretResponse struct {
	Token *model.PersonalAccessToken `json:"token"`
	// Value is the full bearer credential, returned only at creation.
	Value string `json:"value,omitempty"`
}

//	 createPAT
//		@Summary		Create a personal access token
//		@Description	Issues a workspace-bound token; the full value is shown exactly once
//		@Tags			pats
//		@Accept			json
//		@Produce		json
//		@Success		201	{object}	patSecretResponse
//		@Router			/api/v1/workspaces/{workspaceID}/pats [post]
func (h *patRoutes) createPAT(w http.ResponseWriter, r *http.Request) {
	workspaceID, principal, err := h.admit(r, scopes.PATsWrite)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	var req createPATRequest
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}

	token, value, err := h.pats.Create(r.Context(), pat.CreateParams{
		WorkspaceID:   workspaceID,
		UserID:        principal.UserID,
		Name:          req.Name,
		Description:   req.Description,
		Scopes:        req.Scopes,
		ExpiresInDays: req.ExpiresInDays,
		IP:            audit.ClientIP(r),
	})
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusCreated, patSecretResponse{Token: token, Value: value})
}

//	 listPATs
//		@Summary		List own personal access tokens
//		@Tags			pats
//		@Produce		json
//		@Success		200	{array}	model.PersonalAccessToken
//		@Router			/api/v1/workspaces/{workspaceID}/pats [get]
func (h *patRoutes) listPATs(w http.ResponseWriter, r *http.Request) {
	workspaceID, principal, err := h.admit(r, scopes.PATsRead)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	tokens, err := h.pats.List(r.Context(), workspaceID, principal.UserID)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, tokens)
}

// loadOwnOrAdmin fetches the token and admits the owner or a workspace
// Admin. Everyone else sees a 404.
func (h *patRoutes) loadOwnOrAdmin(r *http.Request, workspaceID uuid.UUID, principal *identity.Principal) (*model.PersonalAccessToken, bool, error) {
	patID, err := urlParamUUID(r, "patID")
	if err != nil {
		return nil, false, err
	}
	token, err := h.pats.Get(r.Context(), workspaceID, patID)
	if err != nil {
		return nil, false, err
	}
	if token.UserID == principal.UserID {
		return token, false, nil
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), workspaceID, principal.UserID, model.WorkspaceRoleAdmin); err != nil {
		return nil, false, errors.AsNotFound(err)
	}
	return token, true, nil
}

func (h *patRoutes) getPAT(w http.ResponseWriter, r *http.Request) {
	workspaceID, principal, err := h.admit(r, scopes.PATsRead)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	token, _, err := h.loadOwnOrAdmin(r, workspaceID, principal)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, token)
}

type updatePATRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (h *patRoutes) updatePAT(w http.ResponseWriter, r *http.Request) {
	workspaceID, principal, err := h.admit(r, scopes.PATsWrite)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	token, _, err := h.loadOwnOrAdmin(r, workspaceID, principal)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	// Renaming someone else's token is not an admin power; only revocation is.
	if token.UserID != principal.UserID {
		render.Error(w, r, errors.NewNotFound("token not found"))
		return
	}

	var req updatePATRequest
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}
	updated, err := h.pats.Update(r.Context(), workspaceID, token.ID, req.Name, req.Description, principal.UserID, audit.ClientIP(r))
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, updated)
}

//	 revokePAT
//		@Summary		Revoke a personal access token
//		@Description	Owners revoke their own tokens; workspace Admins may revoke any
//		@Tags			pats
//		@Produce		json
//		@Success		200	{object}	model.PersonalAccessToken
//		@Router			/api/v1/workspaces/{workspaceID}/pats/{patID}/revoke [post]
func (h *patRoutes) revokePAT(w http.ResponseWriter, r *http.Request) {
	workspaceID, principal, err := h.admit(r, scopes.PATsWrite)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	token, byAdmin, err := h.loadOwnOrAdmin(r, workspaceID, principal)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	revoked, err := h.pats.Revoke(r.Context(), workspaceID, token.ID, byAdmin, principal.UserID, audit.ClientIP(r))
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, revoked)
}

func (h *patRoutes) auditLogs(w http.ResponseWriter, r *http.Request) {
	workspaceID, principal, err := h.admit(r, scopes.PATsRead)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	token, _, err := h.loadOwnOrAdmin(r, workspaceID, principal)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	page := pageFromQuery(r)
	logs, err := h.pats.AuditLogs(r.Context(), workspaceID, token.ID, page)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	renderPage(w, logs, len(logs), page)
}
