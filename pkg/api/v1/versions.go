package v1

import (
	stderr "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/octantbim/octant/pkg/api/render"
	"github.com/octantbim/octant/pkg/catalog"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/identity"
	"github.com/octantbim/octant/pkg/logger"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/roles"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/store"
)

// ModelVersionRouter sets up the version-level routes: status, the wexbim
// artifact stream and the extracted-properties queries. All reads; access
// failures collapse to 404.
func ModelVersionRouter(s store.Store, checker *roles.Checker, files *catalog.Service, auth *scopes.Authenticator) http.Handler {
	routes := &versionRoutes{store: s, checker: checker, files: files}
	r := chi.NewRouter()
	r.With(auth.Require(scopes.ModelsRead)).Get("/{versionID}", routes.getVersion)
	r.With(auth.Require(scopes.ModelsRead)).Get("/{versionID}/wexbim", routes.getWexBim)
	r.With(auth.Require(scopes.ModelsRead)).Get("/{versionID}/properties", routes.queryProperties)
	r.With(auth.Require(scopes.ModelsRead)).Get("/{versionID}/properties/elements/{elementID}", routes.getElement)
	return r
}

type versionRoutes struct {
	store   store.Store
	checker *roles.Checker
	files   *catalog.Service
}

// loadVersion resolves the version and walks up to its project to run the
// scope, tenant and role gates.
func (h *versionRoutes) loadVersion(r *http.Request) (*model.ModelVersion, error) {
	id, err := urlParamUUID(r, "versionID")
	if err != nil {
		return nil, err
	}
	version, err := h.files.GetVersion(r.Context(), id)
	if err != nil {
		return nil, err
	}
	m, err := h.files.GetModel(r.Context(), version.ModelID)
	if err != nil {
		return nil, err
	}
	project, err := h.store.GetProject(r.Context(), m.ProjectID)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, errors.NewNotFound("model version not found")
		}
		return nil, errors.NewTransient("loading project", err)
	}

	principal, ok := identity.FromContext(r.Context())
	if !ok {
		return nil, errors.NewAuthentication("missing bearer token")
	}
	if err := scopes.Authorize(principal, scopes.ModelsRead, project.WorkspaceID); err != nil {
		return nil, errors.AsNotFound(err)
	}
	if err := h.checker.RequireProjectRole(r.Context(), project, principal.UserID, model.ProjectRoleViewer); err != nil {
		return nil, errors.AsNotFound(err)
	}
	return version, nil
}

//	 getVersion
//		@Summary		Get a model version
//		@Tags			models
//		@Produce		json
//		@Success		200	{object}	model.ModelVersion
//		@Router			/api/v1/modelversions/{versionID} [get]
func (h *versionRoutes) getVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.loadVersion(r)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, version)
}

//	 getWexBim
//		@Summary		Download the viewer geometry artifact
//		@Description	Streams the wexbim artifact of a Ready version
//		@Tags			models
//		@Produce		octet-stream
//		@Success		200	{file}	binary
//		@Router			/api/v1/modelversions/{versionID}/wexbim [get]
func (h *versionRoutes) getWexBim(w http.ResponseWriter, r *http.Request) {
	version, err := h.loadVersion(r)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	rc, artifact, err := h.files.WexBim(r.Context(), version)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", artifact.SizeBytes))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Name))
	if _, err := io.Copy(w, rc); err != nil {
		logger.Warnf("streaming wexbim %s: %v", artifact.ID, err)
	}
}

//	 queryProperties
//		@Summary		Query extracted elements
//		@Description	Filters the version's extracted elements by label, global id, type, name or property set
//		@Tags			models
//		@Produce		json
//		@Success		200	{object}	pagedResponse
//		@Router			/api/v1/modelversions/{versionID}/properties [get]
func (h *versionRoutes) queryProperties(w http.ResponseWriter, r *http.Request) {
	version, err := h.loadVersion(r)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := store.PropertyFilter{
		GlobalID:        q.Get("globalId"),
		TypeName:        q.Get("typeName"),
		Name:            q.Get("name"),
		PropertySetName: q.Get("propertySetName"),
		Page:            pageFromQuery(r),
	}
	if raw := q.Get("entityLabel"); raw != "" {
		label, err := strconv.Atoi(raw)
		if err != nil {
			render.Error(w, r, errors.NewValidation("entityLabel must be an integer"))
			return
		}
		filter.EntityLabel = &label
	}

	elements, total, err := h.files.QueryElements(r.Context(), version.ID, filter)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	renderPage(w, elements, total, filter.Page)
}

//	 getElement
//		@Summary		Get one extracted element
//		@Description	Returns the element with its property and quantity sets
//		@Tags			models
//		@Produce		json
//		@Success		200	{object}	store.ElementRecord
//		@Router			/api/v1/modelversions/{versionID}/properties/elements/{elementID} [get]
func (h *versionRoutes) getElement(w http.ResponseWriter, r *http.Request) {
	version, err := h.loadVersion(r)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	elementID, err := urlParamUUID(r, "elementID")
	if err != nil {
		render.Error(w, r, err)
		return
	}
	record, err := h.files.GetElement(r.Context(), version.ID, elementID)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, record)
}
