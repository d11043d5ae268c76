package v1

import (
	stderr "errors"
	"fmt"
	"io"
	"net/http"

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

// FileRouter sets up the file-level routes. Files are addressed by id alone;
// the project and workspace derive from the record.
func FileRouter(s store.Store, checker *roles.Checker, files *catalog.Service, auth *scopes.Authenticator) http.Handler {
	routes := &fileRoutes{store: s, checker: checker, files: files}
	r := chi.NewRouter()
	r.With(auth.Require(scopes.FilesRead)).Get("/{fileID}", routes.getFile)
	r.With(auth.Require(scopes.FilesRead)).Get("/{fileID}/content", routes.getContent)
	r.With(auth.Require(scopes.FilesWrite)).Delete("/{fileID}", routes.deleteFile)
	return r
}

type fileRoutes struct {
	store   store.Store
	checker *roles.Checker
	files   *catalog.Service
}

// loadFile resolves the file, its project and the caller's access in one
// step. Every access failure is a 404 so a prober cannot confirm a file
// exists in a workspace they cannot see.
func (h *fileRoutes) loadFile(r *http.Request, scope string, min model.ProjectRole) (*model.File, error) {
	id, err := urlParamUUID(r, "fileID")
	if err != nil {
		return nil, err
	}
	file, err := h.files.GetFile(r.Context(), id)
	if err != nil {
		return nil, err
	}
	project, err := h.store.GetProject(r.Context(), file.ProjectID)
	if err != nil {
		if stderr.Is(err, store.ErrNotFound) {
			return nil, errors.NewNotFound("file not found")
		}
		return nil, errors.NewTransient("loading project", err)
	}

	principal, ok := identity.FromContext(r.Context())
	if !ok {
		return nil, errors.NewAuthentication("missing bearer token")
	}
	if err := scopes.Authorize(principal, scope, project.WorkspaceID); err != nil {
		return nil, errors.AsNotFound(err)
	}
	if err := h.checker.RequireProjectRole(r.Context(), project, principal.UserID, min); err != nil {
		return nil, errors.AsNotFound(err)
	}
	return file, nil
}

//	 getFile
//		@Summary		Get a file record
//		@Tags			files
//		@Produce		json
//		@Success		200	{object}	model.File
//		@Router			/api/v1/files/{fileID} [get]
func (h *fileRoutes) getFile(w http.ResponseWriter, r *http.Request) {
	file, err := h.loadFile(r, scopes.FilesRead, model.ProjectRoleViewer)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, file)
}

//	 getContent
//		@Summary		Download file content
//		@Description	Streams the blob with a content-disposition attachment header
//		@Tags			files
//		@Produce		octet-stream
//		@Success		200	{file}	binary
//		@Router			/api/v1/files/{fileID}/content [get]
func (h *fileRoutes) getContent(w http.ResponseWriter, r *http.Request) {
	file, err := h.loadFile(r, scopes.FilesRead, model.ProjectRoleViewer)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	rc, err := h.files.Download(r.Context(), file)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	defer func() { _ = rc.Close() }()

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", file.SizeBytes))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	if _, err := io.Copy(w, rc); err != nil {
		logger.Warnf("streaming file %s: %v", file.ID, err)
	}
}

//	 deleteFile
//		@Summary		Soft-delete a file
//		@Description	Marks the record deleted; content is no longer served and usage excludes it
//		@Tags			files
//		@Success		204	{string}	string	"No Content"
//		@Router			/api/v1/files/{fileID} [delete]
func (h *fileRoutes) deleteFile(w http.ResponseWriter, r *http.Request) {
	file, err := h.loadFile(r, scopes.FilesWrite, model.ProjectRoleEditor)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if err := h.files.SoftDelete(r.Context(), file.ID); err != nil {
		render.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
