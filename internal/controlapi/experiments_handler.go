package controlapi

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/crenshan/experiment-factory/internal/engine"
	"github.com/crenshan/experiment-factory/internal/identity"
	"github.com/crenshan/experiment-factory/internal/logger"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// handleCreateExperiment processes POST /api/v1/experiments.
func (a *API) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req CreateExperimentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in, errResp := req.toInput()
	if errResp != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, errResp.Code, errResp.Message)
		return
	}

	exp, err := a.engine.CreateExperiment(r.Context(), identity.FromContext(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	a.notifyCacheAsync(logger.FromContext(r.Context()), exp.ID, exp.Version)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, exp)
}

// handleListExperiments processes GET /api/v1/experiments?page=&page_size=.
func (a *API) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}
	pageSize, err := parseOptionalInt(r, "page_size", defaultPageSize)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}

	// Out-of-range values are clamped rather than rejected.
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	exps, total, err := a.engine.ListExperiments(r.Context(), identity.FromContext(r.Context()), pageSize, (page-1)*pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}

	totalPages := 0
	if total > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(pageSize)))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data: exps,
		Pagination: Pagination{
			TotalItems:  total,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	})
}

// handleGetExperiment processes GET /api/v1/experiments/{id}.
func (a *API) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := a.engine.GetExperiment(r.Context(), identity.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, exp)
}

// handleUpdateExperiment processes PATCH /api/v1/experiments/{id}.
func (a *API) handleUpdateExperiment(w http.ResponseWriter, r *http.Request) {
	var req UpdateExperimentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	patch, errResp := req.toPatch()
	if errResp != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, errResp.Code, errResp.Message)
		return
	}

	exp, err := a.engine.UpdateExperiment(r.Context(), identity.FromContext(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}

	a.notifyCacheAsync(logger.FromContext(r.Context()), exp.ID, exp.Version)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, exp)
}

// handleExperimentMetrics processes GET /api/v1/experiments/{id}/metrics.
func (a *API) handleExperimentMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := a.engine.ExperimentMetrics(r.Context(), identity.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, m)
}

// handleGetAssignment processes GET /api/v1/experiments/{id}/assignment.
func (a *API) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	asg, err := a.engine.GetAssignment(r.Context(), identity.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, asg)
}

// handleLogEvent processes POST /api/v1/experiments/{id}/events.
// A new event answers 201; a replayed idempotency key returns the stored event too.
func (a *API) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	var req LogEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ev, err := a.engine.LogEvent(r.Context(), identity.FromContext(r.Context()), engine.LogEventInput{
		ExperimentID:   chi.URLParam(r, "id"),
		VariantID:      req.VariantID,
		Type:           req.Type,
		Name:           req.Name,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Debug("event logged",
		slog.String("experiment_id", ev.ExperimentID),
		slog.String("event_id", ev.ID),
		slog.String("type", string(ev.Type)),
	)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ev)
}

// parseOptionalInt reads an integer query parameter, returning def when absent.
func parseOptionalInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}
