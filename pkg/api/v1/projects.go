package v1

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/api/render"
	"github.com/octantbim/octant/pkg/catalog"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/ratelimit"
	"github.com/octantbim/octant/pkg/roles"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/store"
	"github.com/octantbim/octant/pkg/upload"
)

// ProjectRouter sets up the project-scoped routes: project CRUD, members,
// usage, file listings, the upload session machine and models.
func ProjectRouter(
	s store.Store,
	checker *roles.Checker,
	uploads *upload.Service,
	files *catalog.Service,
	limiter *ratelimit.Limiter,
	policies ratelimit.Policies,
	auth *scopes.Authenticator,
) http.Handler {
	routes := &projectRoutes{store: s, checker: checker, files: files}
	uploadRoutes := &uploadRoutes{store: s, checker: checker, uploads: uploads}
	modelRoutes := &modelRoutes{store: s, checker: checker, files: files}

	r := chi.NewRouter()
	r.Route("/{projectID}", func(r chi.Router) {
		r.With(auth.Require(scopes.ProjectsRead)).Get("/", routes.getProject)
		r.With(auth.Require(scopes.ProjectsWrite)).Put("/", routes.updateProject)
		r.With(auth.Require(scopes.ProjectsRead)).Get("/usage", routes.getUsage)

		r.Route("/members", func(r chi.Router) {
			r.With(auth.Require(scopes.ProjectsRead)).Get("/", routes.listMembers)
			r.With(auth.Require(scopes.ProjectsWrite)).Put("/{userID}", routes.upsertMember)
			r.With(auth.Require(scopes.ProjectsWrite)).Delete("/{userID}", routes.removeMember)
		})

		r.Route("/files", func(r chi.Router) {
			r.With(auth.Require(scopes.FilesRead)).Get("/", routes.listFiles)

			r.Route("/uploads", func(r chi.Router) {
				r.With(
					auth.Require(scopes.FilesWrite),
					limiter.Middleware(policies.Reserve),
				).Post("/", uploadRoutes.reserve)
				r.With(
					auth.Require(scopes.FilesWrite),
					limiter.Middleware(policies.Content),
				).Post("/{sessionID}/content", uploadRoutes.content)
				r.With(
					auth.Require(scopes.FilesWrite),
					limiter.Middleware(policies.Commit),
				).Post("/{sessionID}/commit", uploadRoutes.commit)
			})
		})

		r.Route("/models", func(r chi.Router) {
			r.With(auth.Require(scopes.ModelsRead)).Get("/", modelRoutes.listModels)
			r.With(auth.Require(scopes.ModelsWrite)).Post("/", modelRoutes.createModel)
		})
	})
	return r
}

type projectRoutes struct {
	store   store.Store
	checker *roles.Checker
	files   *catalog.Service
}

// authorizeProject resolves the project parameter, runs the scope and tenant
// gate against the project's workspace and requires the minimum project role.
// Read access failures collapse to 404 so probing ids reveals nothing.
func authorizeProject(
	r *http.Request,
	s store.Store,
	checker *roles.Checker,
	scope string,
	min model.ProjectRole,
	read bool,
) (*model.Project, uuid.UUID, error) {
	project, err := loadProject(r, s, "projectID")
	if err != nil {
		return nil, uuid.Nil, err
	}
	principal, err := authorizeWorkspace(r, scope, project.WorkspaceID)
	if err != nil {
		if read {
			err = errors.AsNotFound(err)
		}
		return nil, uuid.Nil, err
	}
	if err := checker.RequireProjectRole(r.Context(), project, principal.UserID, min); err != nil {
		if read {
			err = errors.AsNotFound(err)
		}
		return nil, uuid.Nil, err
	}
	return project, principal.UserID, nil
}

//	 getProject
//		@Summary		Get a project
//		@Tags			projects
//		@Produce		json
//		@Success		200	{object}	model.Project
//		@Router			/api/v1/projects/{projectID} [get]
func (h *projectRoutes) getProject(w http.ResponseWriter, r *http.Request) {
	project, _, err := authorizeProject(r, h.store, h.checker, scopes.ProjectsRead, model.ProjectRoleViewer, true)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, project)
}

//	 updateProject
//		@Summary		Update a project
//		@Tags			projects
//		@Accept			json
//		@Produce		json
//		@Success		200	{object}	model.Project
//		@Router			/api/v1/projects/{projectID} [put]
func (h *projectRoutes) updateProject(w http.ResponseWriter, r *http.Request) {
	project, _, err := authorizeProject(r, h.store, h.checker, scopes.ProjectsWrite, model.ProjectRoleAdmin, false)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}
	if req.Name != nil {
		if *req.Name == "" {
			render.Error(w, r, errors.NewValidation("project name is required"))
			return
		}
		project.Name = *req.Name
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	project.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateProject(r.Context(), project); err != nil {
		render.Error(w, r, errors.NewTransient("updating project", err))
		return
	}
	render.JSON(w, http.StatusOK, project)
}

//	 getUsage
//		@Summary		Project storage usage
//		@Tags			projects
//		@Produce		json
//		@Success		200	{object}	store.Usage
//		@Router			/api/v1/projects/{projectID}/usage [get]
func (h *projectRoutes) getUsage(w http.ResponseWriter, r *http.Request) {
	project, _, err := authorizeProject(r, h.store, h.checker, scopes.ProjectsRead, model.ProjectRoleViewer, true)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	usage, err := h.files.ProjectUsage(r.Context(), project.ID)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, usage)
}

func (h *projectRoutes) listMembers(w http.ResponseWriter, r *http.Request) {
	project, _, err := authorizeProject(r, h.store, h.checker, scopes.ProjectsRead, model.ProjectRoleViewer, true)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	members, err := h.store.ListProjectMembers(r.Context(), project.ID)
	if err != nil {
		render.Error(w, r, errors.NewTransient("listing project members", err))
		return
	}
	render.JSON(w, http.StatusOK, members)
}

func (h *projectRoutes) upsertMember(w http.ResponseWriter, r *http.Request) {
	project, _, err := authorizeProject(r, h.store, h.checker, scopes.ProjectsWrite, model.ProjectRoleAdmin, false)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	targetID, err := urlParamUUID(r, "userID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	var req struct {
		Role model.ProjectRole `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}
	if !req.Role.Valid() {
		render.Error(w, r, errors.NewValidation("a valid role is required"))
		return
	}

	membership := &model.ProjectMembership{
		ID:        uuid.New(),
		ProjectID: project.ID,
		UserID:    targetID,
		Role:      req.Role,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.UpsertProjectMembership(r.Context(), membership); err != nil {
		render.Error(w, r, errors.NewTransient("storing project membership", err))
		return
	}
	render.JSON(w, http.StatusOK, membership)
}

func (h *projectRoutes) removeMember(w http.ResponseWriter, r *http.Request) {
	project, _, err := authorizeProject(r, h.store, h.checker, scopes.ProjectsWrite, model.ProjectRoleAdmin, false)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	targetID, err := urlParamUUID(r, "userID")
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.store.RemoveProjectMembership(r.Context(), project.ID, targetID); err != nil {
		render.Error(w, r, errors.NewTransient("removing project membership", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//	 listFiles
//		@Summary		List project files
//		@Description	Lists non-deleted files newest first with kind/category filters
//		@Tags			files
//		@Produce		json
//		@Success		200	{object}	pagedResponse
//		@Router			/api/v1/projects/{projectID}/files [get]
func (h *projectRoutes) listFiles(w http.ResponseWriter, r *http.Request) {
	project, _, err := authorizeProject(r, h.store, h.checker, scopes.FilesRead, model.ProjectRoleViewer, true)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := store.FileFilter{
		Kind:     model.FileKind(q.Get("kind")),
		Category: model.FileCategory(q.Get("category")),
		Page:     pageFromQuery(r),
	}
	items, total, err := h.files.ListFiles(r.Context(), project.ID, filter)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	renderPage(w, items, total, filter.Page)
}
