package v1

import (
	stderr "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/api/render"
	"github.com/octantbim/octant/pkg/audit"
	"github.com/octantbim/octant/pkg/catalog"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/oauth"
	"github.com/octantbim/octant/pkg/pat"
	"github.com/octantbim/octant/pkg/roles"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/secrets"
	"github.com/octantbim/octant/pkg/store"
)

// inviteTTL bounds how long a workspace invite stays redeemable.
const inviteTTL = 7 * 24 * time.Hour

const inviteTokenBytes = 24

// WorkspaceRouter sets up the workspace routes: CRUD, members, invites,
// projects, usage, and the nested app and PAT admin surfaces.
func WorkspaceRouter(
	s store.Store,
	checker *roles.Checker,
	rec *audit.Recorder,
	files *catalog.Service,
	apps *oauth.Service,
	pats *pat.Service,
	auth *scopes.Authenticator,
) http.Handler {
	routes := &workspaceRoutes{store: s, checker: checker, audit: rec, files: files}
	r := chi.NewRouter()

	r.With(auth.Require(scopes.WorkspacesWrite)).Post("/", routes.createWorkspace)
	r.With(auth.Require(scopes.WorkspacesRead)).Get("/", routes.listWorkspaces)
	r.With(auth.Require(scopes.WorkspacesWrite)).Post("/invites/{token}/accept", routes.acceptInvite)

	r.Route("/{workspaceID}", func(r chi.Router) {
		r.With(auth.Require(scopes.WorkspacesRead)).Get("/", routes.getWorkspace)
		r.With(auth.Require(scopes.WorkspacesWrite)).Put("/", routes.updateWorkspace)
		r.With(auth.Require(scopes.WorkspacesRead)).Get("/usage", routes.getUsage)

		r.Route("/members", func(r chi.Router) {
			r.With(auth.Require(scopes.WorkspacesRead)).Get("/", routes.listMembers)
			r.With(auth.Require(scopes.WorkspacesWrite)).Post("/", routes.addMember)
			r.With(auth.Require(scopes.WorkspacesWrite)).Put("/{userID}", routes.updateMemberRole)
			r.With(auth.Require(scopes.WorkspacesWrite)).Delete("/{userID}", routes.removeMember)
		})

		r.Route("/invites", func(r chi.Router) {
			r.With(auth.Require(scopes.WorkspacesRead)).Get("/", routes.listInvites)
			r.With(auth.Require(scopes.WorkspacesWrite)).Post("/", routes.createInvite)
			r.With(auth.Require(scopes.WorkspacesWrite)).Delete("/{inviteID}", routes.revokeInvite)
		})

		r.Route("/projects", func(r chi.Router) {
			r.With(auth.Require(scopes.ProjectsRead)).Get("/", routes.listProjects)
			r.With(auth.Require(scopes.ProjectsWrite)).Post("/", routes.createProject)
		})

		r.Mount("/apps", appRouter(apps, checker, auth))
		r.Mount("/pats", patRouter(pats, checker, auth))
	})
	return r
}

type workspaceRoutes struct {
	store   store.Store
	checker *roles.Checker
	audit   *audit.Recorder
	files   *catalog.Service
}

// loadWorkspace resolves the workspace route parameter and runs the tenant
// binding check.
func (h *workspaceRoutes) loadWorkspace(r *http.Request, scope string) (*model.Workspace, uuid.UUID, error) {
	id, err := urlParamUUID(r, "workspaceID")
	if err != nil {
		return nil, uuid.Nil, err
	}
	principal, err := authorizeWorkspace(r, scope, id)
	if err != nil {
		return nil, uuid.Nil, errors.AsNotFound(err)
	}
	ws, err := h.store.GetWorkspace(r.Context(), id)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, uuid.Nil, errors.NewNotFound("workspace not found")
		}
		return nil, uuid.Nil, errors.NewTransient("loading workspace", err)
	}
	return ws, principal.UserID, nil
}

type createWorkspaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

//	 createWorkspace
//		@Summary		Create a workspace
//		@Description	Creates a workspace; the caller becomes its Owner
//		@Tags			workspaces
//		@Accept			json
//		@Produce		json
//		@Success		201	{object}	model.Workspace
//		@Router			/api/v1/workspaces [post]
func (h *workspaceRoutes) createWorkspace(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	var req createWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}
	if req.Name == "" {
		render.Error(w, r, errors.NewValidation("workspace name is required"))
		return
	}

	now := time.Now().UTC()
	ws := &model.Workspace{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	owner := &model.WorkspaceMembership{
		ID:          uuid.New(),
		WorkspaceID: ws.ID,
		UserID:      principal.UserID,
		Role:        model.WorkspaceRoleOwner,
		CreatedAt:   now,
	}
	if err := h.store.CreateWorkspace(r.Context(), ws, owner); err != nil {
		render.Error(w, r, errors.NewTransient("storing workspace", err))
		return
	}
	render.JSON(w, http.StatusCreated, ws)
}

//	 listWorkspaces
//		@Summary		List workspaces
//		@Description	Lists the workspaces the caller is a member of
//		@Tags			workspaces
//		@Produce		json
//		@Success		200	{array}	model.Workspace
//		@Router			/api/v1/workspaces [get]
func (h *workspaceRoutes) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	workspaces, err := h.store.ListWorkspacesForUser(r.Context(), principal.UserID)
	if err != nil {
		render.Error(w, r, errors.NewTransient("listing workspaces", err))
		return
	}

	// A bound credential sees only its own workspace even when the user has
	// more memberships.
	if principal.WorkspaceID != nil {
		filtered := workspaces[:0]
		for _, ws := range workspaces {
			if ws.ID == *principal.WorkspaceID {
				filtered = append(filtered, ws)
			}
		}
		workspaces = filtered
	}
	render.JSON(w, http.StatusOK, workspaces)
}

//	 getWorkspace
//		@Summary		Get a workspace
//		@Tags			workspaces
//		@Produce		json
//		@Success		200	{object}	model.Workspace
//		@Router			/api/v1/workspaces/{workspaceID} [get]
func (h *workspaceRoutes) getWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, userID, err := h.loadWorkspace(r, scopes.WorkspacesRead)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), ws.ID, userID, model.WorkspaceRoleGuest); err != nil {
		render.Error(w, r, errors.AsNotFound(err))
		return
	}
	render.JSON(w, http.StatusOK, ws)
}

type updateWorkspaceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

//	 updateWorkspace
//		@Summary		Update a workspace
//		@Tags			workspaces
//		@Accept			json
//		@Produce		json
//		@Success		200	{object}	model.Workspace
//		@Router			/api/v1/workspaces/{workspaceID} [put]
func (h *workspaceRoutes) updateWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, userID, err := h.loadWorkspace(r, scopes.WorkspacesWrite)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), ws.ID, userID, model.WorkspaceRoleAdmin); err != nil {
		render.Error(w, r, err)
		return
	}

	var req updateWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}
	if req.Name != nil {
		if *req.Name == "" {
			render.Error(w, r, errors.NewValidation("workspace name is required"))
			return
		}
		ws.Name = *req.Name
	}
	if req.Description != nil {
		ws.Description = *req.Description
	}
	ws.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateWorkspace(r.Context(), ws); err != nil {
		render.Error(w, r, errors.NewTransient("updating workspace", err))
		return
	}
	render.JSON(w, http.StatusOK, ws)
}

//	 getUsage
//		@Summary		Workspace storage usage
//		@Description	Aggregates non-deleted file sizes across the workspace
//		@Tags			workspaces
//		@Produce		json
//		@Success		200	{object}	store.Usage
//		@Router			/api/v1/workspaces/{workspaceID}/usage [get]
func (h *workspaceRoutes) getUsage(w http.ResponseWriter, r *http.Request) {
	ws, userID, err := h.loadWorkspace(r, scopes.WorkspacesRead)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), ws.ID, userID, model.WorkspaceRoleGuest); err != nil {
		render.Error(w, r, errors.AsNotFound(err))
		return
	}
	usage, err := h.files.WorkspaceUsage(r.Context(), ws.ID)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, usage)
}

func (h *workspaceRoutes) listMembers(w http.ResponseWriter, r *http.Request) {
	ws, userID, err := h.loadWorkspace(r, scopes.WorkspacesRead)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), ws.ID, userID, model.WorkspaceRoleGuest); err != nil {
		render.Error(w, r, errors.AsNotFound(err))
		return
	}
	members, err := h.store.ListMembers(r.Context(), ws.ID)
	if err != nil {
		render.Error(w, r, errors.NewTransient("listing members", err))
		return
	}
	render.JSON(w, http.StatusOK, members)
}

type memberRequest struct {
	UserID uuid.UUID           `json:"userId"`
	Role   model.WorkspaceRole `json:"role"`
}

func (h *workspaceRoutes) addMember(w http.ResponseWriter, r *http.Request) {
	ws, userID, err := h.loadWorkspace(r, scopes.WorkspacesWrite)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), ws.ID, userID, model.WorkspaceRoleAdmin); err != nil {
		render.Error(w, r, err)
		return
	}

	var req memberRequest
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}
	if req.UserID == uuid.Nil || !req.Role.Valid() {
		render.Error(w, r, errors.NewValidation("userId and a valid role are required"))
		return
	}

	membership := &model.WorkspaceMembership{
		ID:          uuid.New(),
		WorkspaceID: ws.ID,
		UserID:      req.UserID,
		Role:        req.Role,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.AddMember(r.Context(), membership); err != nil {
		if stderr.Is(err, store.ErrAlreadyExists) {
			render.Error(w, r, errors.NewConflict("user is already a member"))
			return
		}
		render.Error(w, r, errors.NewTransient("adding member", err))
		return
	}
	render.JSON(w, http.StatusCreated, membership)
}

func (h *workspaceRoutes) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	ws, actorID, err := h.loadWorkspace(r, scopes.WorkspacesWrite)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), ws.ID, actorID, model.WorkspaceRoleAdmin); err != nil {
		render.Error(w, r, err)
		return
	}
	targetID, err := urlParamUUID(r, "userID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	var req struct {
		Role model.WorkspaceRole `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}
	if !req.Role.Valid() {
		render.Error(w, r, errors.NewValidation("a valid role is required"))
		return
	}

	current, err := h.store.GetMembership(r.Context(), ws.ID, targetID)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			render.Error(w, r, errors.NewNotFound("membership not found"))
			return
		}
		render.Error(w, r, errors.NewTransient("loading membership", err))
		return
	}

	// Demoting an Owner must not leave the workspace ownerless.
	if current.Role == model.WorkspaceRoleOwner && req.Role != model.WorkspaceRoleOwner {
		if err := h.checker.EnsureNotLastOwner(r.Context(), ws.ID); err != nil {
			render.Error(w, r, err)
			return
		}
	}

	if err := h.store.UpdateMemberRole(r.Context(), ws.ID, targetID, req.Role); err != nil {
		render.Error(w, r, errors.NewTransient("updating member role", err))
		return
	}
	current.Role = req.Role
	render.JSON(w, http.StatusOK, current)
}

func (h *workspaceRoutes) removeMember(w http.ResponseWriter, r *http.Request) {
	ws, actorID, err := h.loadWorkspace(r, scopes.WorkspacesWrite)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	targetID, err := urlParamUUID(r, "userID")
	if err != nil {
		render.Error(w, r, err)
		return
	}
	// Members may leave on their own; removing anyone else takes Admin.
	if targetID != actorID {
		if err := h.checker.RequireWorkspaceRole(r.Context(), ws.ID, actorID, model.WorkspaceRoleAdmin); err != nil {
			render.Error(w, r, err)
			return
		}
	}

	current, err := h.store.GetMembership(r.Context(), ws.ID, targetID)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			render.Error(w, r, errors.NewNotFound("membership not found"))
			return
		}
		render.Error(w, r, errors.NewTransient("loading membership", err))
		return
	}
	if current.Role == model.WorkspaceRoleOwner {
		if err := h.checker.EnsureNotLastOwner(r.Context(), ws.ID); err != nil {
			render.Error(w, r, err)
			return
		}
	}

	if err := h.store.RemoveMember(r.Context(), ws.ID, targetID); err != nil {
		render.Error(w, r, errors.NewTransient("removing member", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createInviteRequest struct {
	Email string              `json:"email"`
	Role  model.WorkspaceRole `json:"role"`
}

type inviteResponse struct {
	*model.WorkspaceInvite
	// Token is returned only on creation; the invitee redeems it out of band.
	Token string `json:"token,omitempty"`
}

func (h *workspaceRoutes) createInvite(w http.ResponseWriter, r *http.Request) {
	ws, userID, err := h.loadWorkspace(r, scopes.WorkspacesWrite)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), ws.ID, userID, model.WorkspaceRoleAdmin); err != nil {
		render.Error(w, r, err)
		return
	}

	var req createInviteRequest
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}
	if req.Email == "" || !req.Role.Valid() {
		render.Error(w, r, errors.NewValidation("email and a valid role are required"))
		return
	}

	existing, err := h.store.ListInvites(r.Context(), ws.ID)
	if err != nil {
		render.Error(w, r, errors.NewTransient("listing invites", err))
		return
	}
	for _, inv := range existing {
		if inv.Email == req.Email && inv.Status == model.InviteStatusPending {
			render.Error(w, r, errors.NewConflict("a pending invite for this email already exists"))
			return
		}
	}

	token, err := secrets.Random(inviteTokenBytes)
	if err != nil {
		render.Error(w, r, errors.NewTransient("generating invite token", err))
		return
	}
	now := time.Now().UTC()
	invite := &model.WorkspaceInvite{
		ID:          uuid.New(),
		WorkspaceID: ws.ID,
		Email:       req.Email,
		Role:        req.Role,
		Token:       token,
		Status:      model.InviteStatusPending,
		InvitedBy:   userID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(inviteTTL),
	}
	if err := h.store.CreateInvite(r.Context(), invite); err != nil {
		render.Error(w, r, errors.NewTransient("storing invite", err))
		return
	}
	render.JSON(w, http.StatusCreated, inviteResponse{WorkspaceInvite: invite, Token: token})
}

func (h *workspaceRoutes) listInvites(w http.ResponseWriter, r *http.Request) {
	ws, userID, err := h.loadWorkspace(r, scopes.WorkspacesRead)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), ws.ID, userID, model.WorkspaceRoleAdmin); err != nil {
		render.Error(w, r, errors.AsNotFound(err))
		return
	}
	invites, err := h.store.ListInvites(r.Context(), ws.ID)
	if err != nil {
		render.Error(w, r, errors.NewTransient("listing invites", err))
		return
	}
	render.JSON(w, http.StatusOK, invites)
}

func (h *workspaceRoutes) revokeInvite(w http.ResponseWriter, r *http.Request) {
	ws, userID, err := h.loadWorkspace(r, scopes.WorkspacesWrite)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), ws.ID, userID, model.WorkspaceRoleAdmin); err != nil {
		render.Error(w, r, err)
		return
	}
	inviteID, err := urlParamUUID(r, "inviteID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	if err := h.store.SettleInvite(r.Context(), inviteID, model.InviteStatusRevoked); err != nil {
		switch {
		case stderr.Is(err, store.ErrNotFound):
			render.Error(w, r, errors.NewNotFound("invite not found"))
		case stderr.Is(err, store.ErrConflict):
			render.Error(w, r, errors.NewInvalidState("invite is no longer pending"))
		default:
			render.Error(w, r, errors.NewTransient("revoking invite", err))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//	 acceptInvite
//		@Summary		Accept a workspace invite
//		@Description	Redeems an invite token and grants the invited role
//		@Tags			workspaces
//		@Produce		json
//		@Success		200	{object}	model.WorkspaceMembership
//		@Router			/api/v1/workspaces/invites/{token}/accept [post]
func (h *workspaceRoutes) acceptInvite(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	token := chi.URLParam(r, "token")

	invite, err := h.store.GetInviteByToken(r.Context(), token)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			render.Error(w, r, errors.NewNotFound("invite not found"))
			return
		}
		render.Error(w, r, errors.NewTransient("loading invite", err))
		return
	}
	if invite.Status != model.InviteStatusPending || time.Now().UTC().After(invite.ExpiresAt) {
		render.Error(w, r, errors.NewInvalidState("invite is no longer redeemable"))
		return
	}
	if _, err := h.store.GetMembership(r.Context(), invite.WorkspaceID, principal.UserID); err == nil {
		render.Error(w, r, errors.NewConflict("user is already a member"))
		return
	}

	membership := &model.WorkspaceMembership{
		ID:          uuid.New(),
		WorkspaceID: invite.WorkspaceID,
		UserID:      principal.UserID,
		Role:        invite.Role,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.AddMember(r.Context(), membership); err != nil {
		if stderr.Is(err, store.ErrAlreadyExists) {
			render.Error(w, r, errors.NewConflict("user is already a member"))
			return
		}
		render.Error(w, r, errors.NewTransient("adding member", err))
		return
	}
	if err := h.store.SettleInvite(r.Context(), invite.ID, model.InviteStatusAccepted); err != nil {
		// The membership stands; a concurrently revoked invite only loses
		// its settled marker.
		if !stderr.Is(err, store.ErrConflict) {
			render.Error(w, r, errors.NewTransient("settling invite", err))
			return
		}
	}
	render.JSON(w, http.StatusOK, membership)
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

//	 createProject
//		@Summary		Create a project
//		@Tags			projects
//		@Accept			json
//		@Produce		json
//		@Success		201	{object}	model.Project
//		@Router			/api/v1/workspaces/{workspaceID}/projects [post]
func (h *workspaceRoutes) createProject(w http.ResponseWriter, r *http.Request) {
	ws, userID, err := h.loadWorkspace(r, scopes.ProjectsWrite)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), ws.ID, userID, model.WorkspaceRoleMember); err != nil {
		render.Error(w, r, err)
		return
	}

	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}
	if req.Name == "" {
		render.Error(w, r, errors.NewValidation("project name is required"))
		return
	}

	now := time.Now().UTC()
	project := &model.Project{
		ID:          uuid.New(),
		WorkspaceID: ws.ID,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateProject(r.Context(), project); err != nil {
		render.Error(w, r, errors.NewTransient("storing project", err))
		return
	}
	render.JSON(w, http.StatusCreated, project)
}

//	 listProjects
//		@Summary		List projects
//		@Tags			projects
//		@Produce		json
//		@Success		200	{array}	model.Project
//		@Router			/api/v1/workspaces/{workspaceID}/projects [get]
func (h *workspaceRoutes) listProjects(w http.ResponseWriter, r *http.Request) {
	ws, userID, err := h.loadWorkspace(r, scopes.ProjectsRead)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.checker.RequireWorkspaceRole(r.Context(), ws.ID, userID, model.WorkspaceRoleGuest); err != nil {
		render.Error(w, r, errors.AsNotFound(err))
		return
	}
	projects, err := h.store.ListProjects(r.Context(), ws.ID)
	if err != nil {
		render.Error(w, r, errors.NewTransient("listing projects", err))
		return
	}
	render.JSON(w, http.StatusOK, projects)
}
