package api

import (
	"net/http"
)

// GetBouquets handles GET /api/v1/catalog/bouquets
func (h *Handler) GetBouquets(w http.ResponseWriter, r *http.Request) {
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

	bouquets, err := h.panels.Bouquets(r.Context(), integ)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, bouquets)
}

// GetCategories handles GET /api/v1/catalog/categories
func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
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

	categories, err := h.panels.Categories(r.Context(), integ)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, categories)
}
