package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/yoloprep/internal/apperr"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
	Extra   []string `json:"extra,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// decodeJSON reads a bounded JSON body into v. It writes the 400 response
// itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	var ve validation.Errors
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrAlreadyExists), errors.Is(err, apperr.ErrClassMismatch):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrInvalidName),
		errors.Is(err, apperr.ErrEmptyDataset),
		errors.Is(err, apperr.ErrPartitionDegenerate),
		errors.Is(err, apperr.ErrUnsafePath),
		errors.Is(err, apperr.ErrMalformedAnnotation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrRegistryCorrupt), errors.Is(err, apperr.ErrHistoryCorrupt):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with the status of its kind. Internal errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	body := errorBody(err.Error())
	var mismatch *apperr.ClassMismatchError
	if errors.As(err, &mismatch) {
		body.Missing = mismatch.Missing
		body.Extra = mismatch.Extra
	}
	writeJSON(w, status, body)
}
