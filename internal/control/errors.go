package control

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JohanCodinha/reportsync/internal/logger"
	"github.com/JohanCodinha/reportsync/internal/store"
)

// httpError is a failure with a status code and a message safe to return.
type httpError struct {
	code    int
	message string
	cause   error
}

func (e *httpError) Error() string { return e.message }

func (e *httpError) Unwrap() error { return e.cause }

func errBadRequest(message string, cause error) *httpError {
	return &httpError{code: http.StatusBadRequest, message: message, cause: cause}
}

func errNotFound(message string) *httpError {
	return &httpError{code: http.StatusNotFound, message: message}
}

// handlerFunc is a handler that reports failure by returning an error.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle adapts h and turns its error into a JSON error response.
func handle(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}

		var he *httpError
		switch {
		case errors.As(err, &he):
			logger.Debug("control: %s %s: %d %v", r.Method, r.URL.Path, he.code, err)
			respondJSON(w, he.code, map[string]string{"error": he.message})
		case errors.Is(err, store.ErrNotFound):
			respondJSON(w, http.StatusNotFound, map[string]string{"error": "Report not found"})
		case errors.Is(err, store.ErrStorageUnavailable):
			logger.Error("control: %s %s: %v", r.Method, r.URL.Path, err)
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Local storage unavailable"})
		default:
			logger.Error("control: %s %s: %v", r.Method, r.URL.Path, err)
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		}
	}
}

func respondJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("control: failed to encode response: %v", err)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadRequest("Invalid request body", err)
	}
	return nil
}
