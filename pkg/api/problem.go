package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/facade"
)

// Problem is an RFC 7807 problem details body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Code is the drive error code ("validation", "not_found", ...) when
	// the problem comes from the drive
	Code string `json:"code,omitempty"`
}

const problemContentType = "application/problem+json"

// respondJSON writes data as JSON. The payload is marshaled before the
// header goes out, so an encoding failure still produces a clean 500.
func respondJSON(w http.ResponseWriter, status int, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		logger.Error("Failed to encode response: %v", err)
		respondProblem(w, nil, http.StatusInternalServerError, "failed to encode response", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// respondProblem writes a problem details response.
func respondProblem(w http.ResponseWriter, r *http.Request, status int, detail, code string) {
	p := Problem{
		Type:   problemType(status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code,
	}
	if r != nil {
		p.Instance = r.URL.Path
	}

	payload, err := json.Marshal(p)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal server error"))
		return
	}

	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// respondError maps err to a status and writes it as a problem.
//
//	drive validation           400
//	drive not found            404
//	drive invariant violation  409
//	drive no space             507
//	body too large             413
//	no content store           501
//	anything else              500 (detail hidden, error logged)
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	if code, ok := drive.CodeOf(err); ok {
		respondProblem(w, r, statusForCode(code), err.Error(), code.String())
		return
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		respondProblem(w, r, http.StatusRequestEntityTooLarge, err.Error(), "")
	case errors.Is(err, facade.ErrNoContentStore):
		respondProblem(w, r, http.StatusNotImplemented, err.Error(), "")
	case errors.Is(err, context.Canceled):
		// The client is gone; nobody reads the body
		logger.Debug("Request %s %s cancelled", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		logger.Error("Request %s %s failed: %v", r.Method, r.URL.Path, err)
		respondProblem(w, r, http.StatusInternalServerError, "internal server error", "")
	}
}

func statusForCode(code drive.ErrorCode) int {
	switch code {
	case drive.ErrValidation:
		return http.StatusBadRequest
	case drive.ErrNotFound:
		return http.StatusNotFound
	case drive.ErrInvariantViolation:
		return http.StatusConflict
	case drive.ErrNoSpace:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// problemType returns the RFC 7807 type URI for a status code.
func problemType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "https://datatracker.ietf.org/doc/html/rfc7231#section-6.5.1"
	case http.StatusNotFound:
		return "https://datatracker.ietf.org/doc/html/rfc7231#section-6.5.4"
	case http.StatusConflict:
		return "https://datatracker.ietf.org/doc/html/rfc7231#section-6.5.8"
	case http.StatusRequestEntityTooLarge:
		return "https://datatracker.ietf.org/doc/html/rfc7231#section-6.5.11"
	case http.StatusInternalServerError:
		return "https://datatracker.ietf.org/doc/html/rfc7231#section-6.6.1"
	case http.StatusNotImplemented:
		return "https://datatracker.ietf.org/doc/html/rfc7231#section-6.6.2"
	case http.StatusServiceUnavailable:
		return "https://datatracker.ietf.org/doc/html/rfc7231#section-6.6.4"
	case http.StatusInsufficientStorage:
		return "https://datatracker.ietf.org/doc/html/rfc4918#section-11.5"
	default:
		return "about:blank"
	}
}
