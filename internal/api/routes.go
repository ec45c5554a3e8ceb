package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openxui/panelsync/internal/auth"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler, tokens *auth.TokenManager) http.Handler {
	r := mux.NewRouter()

	// Unauthenticated endpoints
	r.HandleFunc("/healthz", handler.HealthCheck).Methods("GET")
	r.HandleFunc("/api/v1/health", handler.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/api/v1/auth/login", handler.Login).Methods("POST")
	r.HandleFunc("/api/v1/auth/refresh", handler.RefreshToken).Methods("POST")

	// API v1 routes behind JWT auth
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(tokens.Middleware)

	// Imports
	api.HandleFunc("/imports/{kind}/run", handler.RunImport).Methods("POST")
	api.HandleFunc("/imports/{kind}", handler.ListImports).Methods("GET")

	// Jobs
	api.HandleFunc("/jobs", handler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", handler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/logs", handler.GetJobLogs).Methods("GET")

	// Integration
	api.HandleFunc("/integration", handler.GetIntegration).Methods("GET")
	api.HandleFunc("/integration", handler.UpdateIntegration).Methods("PUT")
	api.HandleFunc("/integration/test", handler.TestIntegration).Methods("POST")

	// Catalog
	api.HandleFunc("/catalog/bouquets", handler.GetBouquets).Methods("GET")
	api.HandleFunc("/catalog/categories", handler.GetCategories).Methods("GET")

	// Enable CORS
	r.Use(corsMiddleware)

	// Logging middleware
	r.Use(handler.loggingMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tenant-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs all HTTP requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
