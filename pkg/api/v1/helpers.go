// Package v1 contains the octant REST API handlers.
package v1

import (
	"encoding/json"
	stderr "errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/api/render"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/identity"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/store"
)

// urlParamUUID parses a UUID route parameter.
func urlParamUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.NewValidationf("invalid %s", name)
	}
	return id, nil
}

// decodeJSON decodes the request body into dst, rejecting malformed input.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.NewValidation("invalid request body")
	}
	return nil
}

// principalFrom returns the authenticated principal or an authentication
// error. Routers behind the bearer gate always have one; this guards the
// optionally-authenticated mounts.
func principalFrom(r *http.Request) (*identity.Principal, error) {
	principal, ok := identity.FromContext(r.Context())
	if !ok {
		return nil, errors.NewAuthentication("missing bearer token")
	}
	return principal, nil
}

// pageFromQuery reads page/pageSize. Out-of-range values are clamped by the
// store, never rejected.
func pageFromQuery(r *http.Request) store.Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("pageSize"))
	return store.Page{Number: number, Size: size}.Clamp()
}

// pagedResponse is the uniform listing envelope.
type pagedResponse struct {
	Items      any `json:"items"`
	TotalCount int `json:"totalCount"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
}

func renderPage(w http.ResponseWriter, items any, total int, page store.Page) {
	render.JSON(w, http.StatusOK, pagedResponse{
		Items:      items,
		TotalCount: total,
		Page:       page.Number,
		PageSize:   page.Size,
	})
}

// authorizeWorkspace runs the scope and tenant gate for a workspace-scoped
// request.
func authorizeWorkspace(r *http.Request, scope string, workspaceID uuid.UUID) (*identity.Principal, error) {
	principal, err := principalFrom(r)
	if err != nil {
		return nil, err
	}
	if err := scopes.Authorize(principal, scope, workspaceID); err != nil {
		return nil, err
	}
	return principal, nil
}

// loadProject resolves a project route parameter. A missing project is a 404
// before any authorization runs, so the id itself leaks nothing.
func loadProject(r *http.Request, s store.Store, param string) (*model.Project, error) {
	id, err := urlParamUUID(r, param)
	if err != nil {
		return nil, err
	}
	project, err := s.GetProject(r.Context(), id)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, errors.NewNotFound("project not found")
		}
		return nil, errors.NewTransient("loading project", err)
	}
	return project, nil
}
