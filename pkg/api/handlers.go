package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/drive/engine"
	"github.com/marmos91/dittodrive/pkg/drive/quota"
	"github.com/marmos91/dittodrive/pkg/drive/view"
	"github.com/marmos91/dittodrive/pkg/facade"
)

const (
	// maxJSONBody bounds JSON request bodies
	maxJSONBody = 10 << 20

	// maxIngestBatch bounds the descriptors of one ingest request
	maxIngestBatch = 10000

	// multipartMemory is how much of a multipart upload is held in memory
	// before parts spill to temporary files
	multipartMemory = 32 << 20
)

type handlers struct {
	drive          *facade.Drive
	maxUploadBytes int64
}

// ============================================================================
// Requests and responses
// ============================================================================

type createFolderRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parentId"`
}

func (r createFolderRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
	)
}

type ingestRequest struct {
	Files []drive.FileDescriptor `json:"files"`
}

func (r ingestRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Files, validation.NotNil, validation.Length(0, maxIngestBatch)),
	)
}

type setVerifiedRequest struct {
	Verified *bool `json:"verified"`
}

func (r setVerifiedRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Verified, validation.NotNil),
	)
}

type listingResponse struct {
	Location string         `json:"location"`
	Sort     string         `json:"sort"`
	Folders  []drive.Folder `json:"folders"`
	Files    []drive.File   `json:"files"`
}

type usageResponse struct {
	quota.Report
	Summary string `json:"summary"`
}

// decodeJSON reads a bounded JSON body into dest and validates it.
// Failures are drive validation errors so they map to 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest validation.Validatable) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return drive.NewValidationError("invalid JSON body: %v", err)
	}
	if err := dest.Validate(); err != nil {
		return drive.NewValidationError("%v", err)
	}
	return nil
}

// ============================================================================
// Handlers
// ============================================================================

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.drive.Healthcheck(r.Context()); err != nil {
		respondProblem(w, r, http.StatusServiceUnavailable, err.Error(), "")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listing handles GET /api/v1/listing?location=&folder=&q=&sort=
//
// location is a navigation token (a folder id or a pseudo-location name);
// folder scopes the verified location to one folder.
func (h *handlers) listing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sort, err := view.ParseSort(q.Get("sort"))
	if err != nil {
		respondError(w, r, drive.NewValidationError("%v", err))
		return
	}

	loc := drive.ParseLocation(q.Get("location"))
	if loc.Kind == drive.LocationVerified && q.Get("folder") != "" {
		loc = drive.VerifiedIn(q.Get("folder"))
	}

	l := h.drive.List(view.Query{Location: loc, SearchTerm: q.Get("q"), Sort: sort})
	respondJSON(w, http.StatusOK, listingResponse{
		Location: loc.String(),
		Sort:     sort.String(),
		Folders:  l.Folders,
		Files:    l.Files,
	})
}

func (h *handlers) usage(w http.ResponseWriter, _ *http.Request) {
	report := h.drive.Usage()
	respondJSON(w, http.StatusOK, usageResponse{
		Report:  report,
		Summary: quota.Summary(report),
	})
}

func (h *handlers) createFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	f, err := h.drive.CreateFolder(r.Context(), req.Name, req.ParentID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, f)
}

func (h *handlers) breadcrumbs(w http.ResponseWriter, r *http.Request) {
	chain, err := h.drive.Breadcrumbs(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]drive.Folder{"folders": chain})
}

func (h *handlers) deleteFolder(w http.ResponseWriter, r *http.Request) {
	h.deleteItem(w, r, true)
}

func (h *handlers) deleteFile(w http.ResponseWriter, r *http.Request) {
	h.deleteItem(w, r, false)
}

// deleteItem answers 200 with the delete result even when nothing matched,
// since deleting twice is not an error.
func (h *handlers) deleteItem(w http.ResponseWriter, r *http.Request, isFolder bool) {
	res, err := h.drive.DeleteItem(r.Context(), chi.URLParam(r, "id"), isFolder)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ingest handles POST /api/v1/folders/{id}/files: descriptors of content
// that already lives somewhere, referenced by contentRef.
func (h *handlers) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.drive.IngestFiles(r.Context(), req.Files, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, ingestStatus(res), res)
}

// upload handles POST /api/v1/folders/{id}/uploads with a multipart body.
// Every part carrying a file name becomes one file.
func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, err)
			return
		}
		respondError(w, r, drive.NewValidationError("invalid multipart body: %v", err))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logger.Warn("Failed to remove multipart temp files: %v", err)
		}
	}()

	// Field order, then part order within a field
	var headers []*multipart.FileHeader
	for _, field := range slices.Sorted(maps.Keys(r.MultipartForm.File)) {
		headers = append(headers, r.MultipartForm.File[field]...)
	}
	if len(headers) == 0 {
		respondError(w, r, drive.NewValidationError("no files in upload"))
		return
	}

	sources := make([]facade.UploadSource, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			respondError(w, r, fmt.Errorf("open upload part %s: %w", fh.Filename, err))
			return
		}
		defer f.Close()

		sources = append(sources, facade.UploadSource{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Body:     f,
		})
	}

	res, err := h.drive.Upload(r.Context(), chi.URLParam(r, "id"), sources)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, ingestStatus(res), res)
}

// ingestStatus is 201 when at least one file was created, 200 otherwise.
func ingestStatus(res engine.IngestResult) int {
	if len(res.Files) > 0 {
		return http.StatusCreated
	}
	return http.StatusOK
}

func (h *handlers) toggleStar(w http.ResponseWriter, r *http.Request) {
	f, err := h.drive.ToggleStar(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, f)
}

func (h *handlers) setVerified(w http.ResponseWriter, r *http.Request) {
	var req setVerifiedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	f, err := h.drive.SetVerified(r.Context(), chi.URLParam(r, "id"), *req.Verified)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, f)
}

// content streams the bytes of a file. Seekable content gets range and
// conditional request support through http.ServeContent.
func (h *handlers) content(w http.ResponseWriter, r *http.Request) {
	f, rc, err := h.drive.OpenContent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", f.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, f.Name, f.LastModified, rs)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(f.SizeBytes, 10))
	w.Header().Set("Last-Modified", f.LastModified.UTC().Format(http.TimeFormat))
	if _, err := io.Copy(w, rc); err != nil {
		logger.Warn("Streaming content of %s aborted: %v", f.ID, err)
	}
}
