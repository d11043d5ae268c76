package v1

import (
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/octantbim/octant/pkg/api/render"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/roles"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/store"
	"github.com/octantbim/octant/pkg/upload"
)

type uploadRoutes struct {
	store   store.Store
	checker *roles.Checker
	uploads *upload.Service
}

type reserveRequest struct {
	FileName           string `json:"fileName"`
	ContentType        string `json:"contentType"`
	ExpectedSizeBytes  *int64 `json:"expectedSizeBytes"`
	PreferDirectUpload bool   `json:"preferDirectUpload"`
}

type reserveResponse struct {
	Session     *model.UploadSession `json:"session"`
	Constraints uploadConstraints    `json:"constraints"`
}

type uploadConstraints struct {
	MaxFileSizeBytes int64     `json:"maxFileSizeBytes"`
	SessionExpiresAt time.Time `json:"sessionExpiresAt"`
}

//	 reserve
//		@Summary		Reserve an upload session
//		@Description	Opens a session; returns a direct upload URL when the storage backend can presign
//		@Tags			uploads
//		@Accept			json
//		@Produce		json
//		@Success		201	{object}	reserveResponse
//		@Router			/api/v1/projects/{projectID}/files/uploads [post]
func (h *uploadRoutes) reserve(w http.ResponseWriter, r *http.Request) {
	project, _, err := authorizeProject(r, h.store, h.checker, scopes.FilesWrite, model.ProjectRoleEditor, false)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	var req reserveRequest
	if err := decodeJSON(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}
	session, err := h.uploads.Reserve(r.Context(), project, upload.ReserveParams{
		FileName:           req.FileName,
		ContentType:        req.ContentType,
		ExpectedSizeBytes:  req.ExpectedSizeBytes,
		PreferDirectUpload: req.PreferDirectUpload,
	})
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusCreated, reserveResponse{
		Session: session,
		Constraints: uploadConstraints{
			MaxFileSizeBytes: h.uploads.MaxFileSizeBytes(),
			SessionExpiresAt: session.ExpiresAt,
		},
	})
}

//	 content
//		@Summary		Upload session content
//		@Description	Streams the multipart "file" field into the session's temp storage
//		@Tags			uploads
//		@Accept			multipart/form-data
//		@Produce		json
//		@Success		200	{object}	model.UploadSession
//		@Router			/api/v1/projects/{projectID}/files/uploads/{sessionID}/content [post]
func (h *uploadRoutes) content(w http.ResponseWriter, r *http.Request) {
	project, _, err := authorizeProject(r, h.store, h.checker, scopes.FilesWrite, model.ProjectRoleEditor, false)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	sessionID, err := urlParamUUID(r, "sessionID")
	if err != nil {
		render.Error(w, r, err)
		return
	}
	body, err := contentStream(r)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	session, err := h.uploads.UploadContent(r.Context(), project, sessionID, body)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, session)
}

// contentStream returns the upload byte stream: the multipart "file" part
// when the request is multipart, otherwise the raw body. Multipart is read
// streaming so large files never land in memory.
func contentStream(r *http.Request) (io.Reader, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return r.Body, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errors.NewValidation("malformed multipart body")
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errors.NewValidation("multipart field 'file' is required")
		}
		if err != nil {
			return nil, errors.NewValidation("malformed multipart body")
		}
		if part.FormName() == "file" {
			return part, nil
		}
	}
}

type commitResponse struct {
	Session *model.UploadSession `json:"session"`
	File    *model.File          `json:"file"`
}

//	 commit
//		@Summary		Commit an upload session
//		@Description	Settles the session into a durable file record; commits are one-shot
//		@Tags			uploads
//		@Produce		json
//		@Success		200	{object}	commitResponse
//		@Router			/api/v1/projects/{projectID}/files/uploads/{sessionID}/commit [post]
func (h *uploadRoutes) commit(w http.ResponseWriter, r *http.Request) {
	project, _, err := authorizeProject(r, h.store, h.checker, scopes.FilesWrite, model.ProjectRoleEditor, false)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	sessionID, err := urlParamUUID(r, "sessionID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	session, file, err := h.uploads.Commit(r.Context(), project, sessionID)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, commitResponse{Session: session, File: file})
}
