package api

import (
	"encoding/json"
	"net/http"

	"github.com/openxui/panelsync/internal/models"
	"github.com/openxui/panelsync/internal/xui"
)

// GetIntegration handles GET /api/v1/integration
func (h *Handler) GetIntegration(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	integ, err := h.integrations.Get(r.Context(), claims.TenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if integ == nil {
		respondError(w, http.StatusNotFound, "no integration configured")
		return
	}

	respondJSON(w, http.StatusOK, integ.Masked())
}

type integrationRequest struct {
	DBHost     string `json:"db_host"`
	DBPort     int    `json:"db_port"`
	DBName     string `json:"db_name"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`

	XtreamBaseURL  string `json:"xtream_base_url"`
	XtreamUsername string `json:"xtream_username"`
	XtreamPassword string `json:"xtream_password"`

	Options *models.Options `json:"options"`
}

// UpdateIntegration handles PUT /api/v1/integration
func (h *Handler) UpdateIntegration(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req integrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DBHost == "" || req.DBName == "" || req.DBUser == "" {
		respondError(w, http.StatusBadRequest, "db_host, db_name and db_user are required")
		return
	}
	if req.XtreamBaseURL == "" || req.XtreamUsername == "" {
		respondError(w, http.StatusBadRequest, "xtream_base_url and xtream_username are required")
		return
	}
	if req.DBPort == 0 {
		req.DBPort = 3306
	}

	integ := &models.Integration{
		TenantID:       claims.TenantID,
		DBHost:         req.DBHost,
		DBPort:         req.DBPort,
		DBName:         req.DBName,
		DBUser:         req.DBUser,
		DBPassword:     req.DBPassword,
		XtreamBaseURL:  req.XtreamBaseURL,
		XtreamUsername: req.XtreamUsername,
		XtreamPassword: req.XtreamPassword,
	}
	if req.Options != nil {
		integ.Options = *req.Options
	} else {
		integ.Options = models.DefaultOptions()
	}

	// A masked password in the payload means "keep the stored one".
	existing, err := h.integrations.Get(r.Context(), claims.TenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing != nil {
		if integ.DBPassword == "********" || integ.DBPassword == "" {
			integ.DBPassword = existing.DBPassword
		}
		if integ.XtreamPassword == "********" || integ.XtreamPassword == "" {
			integ.XtreamPassword = existing.XtreamPassword
		}
		if integ.Options.TMDB.APIKey == "********" {
			integ.Options.TMDB.APIKey = existing.Options.TMDB.APIKey
		}
	}

	saved, err := h.integrations.Upsert(r.Context(), integ)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Credentials may have changed; stale pools and cached catalog
	// views must not outlive them.
	h.panels.Invalidate(claims.TenantID)

	respondJSON(w, http.StatusOK, saved.Masked())
}

// TestIntegration handles POST /api/v1/integration/test. It opens a
// fresh connection to the tenant's panel database and reports
// misconfigurations in a form the tenant can act on.
func (h *Handler) TestIntegration(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	integ, err := h.integrations.Get(r.Context(), claims.TenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if integ == nil {
		respondError(w, http.StatusNotFound, "no integration configured")
		return
	}

	if err := h.panels.TestConnection(r.Context(), integ); err != nil {
		status := http.StatusBadGateway
		if xui.IsAccessDenied(err) || xui.IsSSLMisconfiguration(err) {
			status = http.StatusBadRequest
		}
		respondJSON(w, status, map[string]string{
			"status": "failed",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
