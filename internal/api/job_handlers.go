package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/openxui/panelsync/internal/models"
)

func importKind(r *http.Request) (models.JobKind, bool) {
	switch mux.Vars(r)["kind"] {
	case "movies":
		return models.JobKindMovies, true
	case "series":
		return models.JobKindSeries, true
	}
	return "", false
}

// RunImport handles POST /api/v1/imports/{kind}/run
func (h *Handler) RunImport(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	kind, ok := importKind(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown import kind")
		return
	}

	integ, err := h.integrations.Get(r.Context(), claims.TenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if integ == nil {
		respondError(w, http.StatusConflict, "no integration configured")
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), claims.TenantID, claims.UserID, kind)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.Info("job enqueued", "job_id", job.ID, "kind", kind, "tenant_id", claims.TenantID)
	respondJSON(w, http.StatusAccepted, job)
}

// ListImports handles GET /api/v1/imports/{kind}
func (h *Handler) ListImports(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	kind, ok := importKind(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown import kind")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := h.jobs.ListByKind(r.Context(), claims.TenantID, kind, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, jobs)
}

// ListJobs handles GET /api/v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := h.jobs.List(r.Context(), claims.TenantID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, jobs)
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job ID")
		return
	}

	job, err := h.jobs.Get(r.Context(), claims.TenantID, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// GetJobLogs handles GET /api/v1/jobs/{id}/logs?after=N
func (h *Handler) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job ID")
		return
	}

	// Scope check before exposing logs.
	job, err := h.jobs.Get(r.Context(), claims.TenantID, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.jobs.ListLogs(r.Context(), id, after, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, logs)
}
