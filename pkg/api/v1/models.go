package v1

import (
	stderr "errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/api/render"
	"github.com/octantbim/octant/pkg/catalog"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/identity"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/roles"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/store"
)

// ModelRouter sets up the model-level routes: model retrieval and version
// creation/listing.
func ModelRouter(s store.Store, checker *roles.Checker, files *catalog.Service, auth *scopes.Authenticator) http.Handler {
	routes := &modelRoutes{store: s, checker: checker, files: files}
	r := chi.NewRouter()
	r.With(auth.Require(scopes.ModelsRead)).Get("/{modelID}", routes.getModel)
	r.With(auth.Require(scopes.ModelsRead)).Get("/{modelID}/versions", routes.listVersions)
	r.With(auth.Require(scopes.ModelsWrite)).Post("/{modelID}/versions", routes.createVersion)
	return r
}

type modelRoutes struct {
	store   store.Store
	checker *roles.Checker
	files   *catalog.Service
}

type createModelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

//	 createModel
//		@Summary		Create a model
//		@Tags			models
//		@Accept			json
//		@Produce		json
//		@Success		201	{object}	model.Model
//		@Router			/api/v1/projects/{projectID}/models [post]
func (h *modelRoutes) createModel(w http.ResponseWriter, r *http.Request) {
	project, _, err := authorizeProject(r, h.store, h.checker, scopes.ModelsWrite, model.ProjectRoleEditor, false)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	var req createModelRequest
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}
	m, err := h.files.CreateModel(r.Context(), project.ID, req.Name, req.Description)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusCreated, m)
}

//	 listModels
//		@Summary		List project models
//		@Tags			models
//		@Produce		json
//		@Success		200	{array}	model.Model
//		@Router			/api/v1/projects/{projectID}/models [get]
func (h *modelRoutes) listModels(w http.ResponseWriter, r *http.Request) {
	project, _, err := authorizeProject(r, h.store, h.checker, scopes.ModelsRead, model.ProjectRoleViewer, true)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	models, err := h.files.ListModels(r.Context(), project.ID)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, models)
}

// loadModel resolves the model route parameter together with its project and
// the caller's access. Failures on reads collapse to 404.
func (h *modelRoutes) loadModel(r *http.Request, scope string, min model.ProjectRole, read bool) (*model.Model, *model.Project, error) {
	id, err := urlParamUUID(r, "modelID")
	if err != nil {
		return nil, nil, err
	}
	m, err := h.files.GetModel(r.Context(), id)
	if err != nil {
		return nil, nil, err
	}
	project, err := h.store.GetProject(r.Context(), m.ProjectID)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, nil, errors.NewNotFound("model not found")
		}
		return nil, nil, errors.NewTransient("loading project", err)
	}

	principal, ok := identity.FromContext(r.Context())
	if !ok {
		return nil, nil, errors.NewAuthentication("missing bearer token")
	}
	if err := scopes.Authorize(principal, scope, project.WorkspaceID); err != nil {
		if read {
			err = errors.AsNotFound(err)
		}
		return nil, nil, err
	}
	if err := h.checker.RequireProjectRole(r.Context(), project, principal.UserID, min); err != nil {
		if read {
			err = errors.AsNotFound(err)
		}
		return nil, nil, err
	}
	return m, project, nil
}

//	 getModel
//		@Summary		Get a model
//		@Tags			models
//		@Produce		json
//		@Success		200	{object}	model.Model
//		@Router			/api/v1/models/{modelID} [get]
func (h *modelRoutes) getModel(w http.ResponseWriter, r *http.Request) {
	m, _, err := h.loadModel(r, scopes.ModelsRead, model.ProjectRoleViewer, true)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, m)
}

type createVersionRequest struct {
	IfcFileID uuid.UUID `json:"ifcFileId"`
}

//	 createVersion
//		@Summary		Create a model version
//		@Description	Inserts a Pending version from a committed IFC source and enqueues processing
//		@Tags			models
//		@Accept			json
//		@Produce		json
//		@Success		201	{object}	model.ModelVersion
//		@Router			/api/v1/models/{modelID}/versions [post]
func (h *modelRoutes) createVersion(w http.ResponseWriter, r *http.Request) {
	m, project, err := h.loadModel(r, scopes.ModelsWrite, model.ProjectRoleEditor, false)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	var req createVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}
	if req.IfcFileID == uuid.Nil {
		render.Error(w, r, errors.NewValidation("ifcFileId is required"))
		return
	}

	version, err := h.files.CreateVersion(r.Context(), project, m, req.IfcFileID)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusCreated, version)
}

//	 listVersions
//		@Summary		List model versions
//		@Tags			models
//		@Produce		json
//		@Success		200	{object}	pagedResponse
//		@Router			/api/v1/models/{modelID}/versions [get]
func (h *modelRoutes) listVersions(w http.ResponseWriter, r *http.Request) {
	m, _, err := h.loadModel(r, scopes.ModelsRead, model.ProjectRoleViewer, true)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	page := pageFromQuery(r)
	versions, total, err := h.files.ListVersions(r.Context(), m.ID, page)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	renderPage(w, versions, total, page)
}
