package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"agent-queue/internal/entity"
)

const maxBodyBytes = 1 << 20

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// writeServiceErr maps the queue error taxonomy onto HTTP status codes.
func writeServiceErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, entity.ErrInvalidPayload), errors.Is(err, entity.ErrDuplicateJob):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, entity.ErrNotFound):
		writeErr(w, http.StatusNotFound, "job not found")
	case errors.Is(err, entity.ErrInvalidTransition):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, entity.ErrStoreUnavailable):
		log.Printf("[http] method=%s path=%s store error=%v", r.Method, r.URL.Path, err)
		writeErr(w, http.StatusServiceUnavailable, "job store unavailable")
	default:
		log.Printf("[http] method=%s path=%s error=%v", r.Method, r.URL.Path, err)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v as is.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}
