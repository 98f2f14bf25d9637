package controlapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/logger"
)

// writeError maps a domain error onto its HTTP status and error code.
// Unknown errors are logged and reported as ERR_INTERNAL without their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "ERR_INTERNAL"

	switch {
	case errors.Is(err, experiment.ErrNotFound):
		status, code = http.StatusNotFound, "ERR_NOT_FOUND"
	case errors.Is(err, experiment.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "ERR_INVALID_INPUT"
	case errors.Is(err, experiment.ErrInvalidExperimentState):
		status, code = http.StatusConflict, "ERR_INVALID_EXPERIMENT_STATE"
	case errors.Is(err, experiment.ErrUnauthenticated):
		status, code = http.StatusUnauthorized, "ERR_UNAUTHENTICATED"
	case errors.Is(err, experiment.ErrNotAuthorized):
		status, code = http.StatusForbidden, "ERR_FORBIDDEN"
	case errors.Is(err, experiment.ErrAlreadyExists):
		status, code = http.StatusConflict, "ERR_CONFLICT"
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", slog.String("error", err.Error()))
		message = "Internal server error"
	}

	writeErrorResponse(w, r, status, code, message)
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: message})
}

// decodeJSON reads the body into v. It returns false after writing a 400 or 413 reply.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorResponse(w, r, http.StatusRequestEntityTooLarge, "ERR_PAYLOAD_TOO_LARGE", "Request body is too large")
			return false
		}

		logger.FromContext(r.Context()).Warn("invalid json payload", slog.String("error", err.Error()))
		writeErrorResponse(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return false
	}
	return true
}
