package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/openxui/panelsync/internal/auth"
	"github.com/openxui/panelsync/internal/database"
	"github.com/openxui/panelsync/internal/models"
	"github.com/openxui/panelsync/internal/xui"
)

// JobStore is the slice of the job queue the API reads and writes.
type JobStore interface {
	Enqueue(ctx context.Context, tenantID, userID int64, kind models.JobKind) (*models.Job, error)
	Get(ctx context.Context, tenantID, jobID int64) (*models.Job, error)
	List(ctx context.Context, tenantID int64, limit int) ([]models.Job, error)
	ListByKind(ctx context.Context, tenantID int64, kind models.JobKind, limit int) ([]models.Job, error)
	ListLogs(ctx context.Context, jobID, afterID int64, limit int) ([]models.JobLog, error)
}

// IntegrationStore persists per-tenant panel credentials and options.
type IntegrationStore interface {
	Get(ctx context.Context, tenantID int64) (*models.Integration, error)
	Upsert(ctx context.Context, in *models.Integration) (*models.Integration, error)
}

// UserStore authenticates panel users.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	CheckPassword(user *models.User, password string) bool
}

// PanelReader reads catalog data from a tenant's panel database.
type PanelReader interface {
	Bouquets(ctx context.Context, integ *models.Integration) ([]xui.Bouquet, error)
	Categories(ctx context.Context, integ *models.Integration) ([]xui.PanelCategory, error)
	TestConnection(ctx context.Context, integ *models.Integration) error
	Invalidate(tenantID int64)
}

type Handler struct {
	jobs         JobStore
	integrations IntegrationStore
	users        UserStore
	panels       PanelReader
	tokens       *auth.TokenManager
	db           *sqlx.DB
	log          *slog.Logger
}

func NewHandler(
	jobs JobStore,
	integrations IntegrationStore,
	users UserStore,
	panels PanelReader,
	tokens *auth.TokenManager,
	db *sqlx.DB,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		jobs:         jobs,
		integrations: integrations,
		users:        users,
		panels:       panels,
		tokens:       tokens,
		db:           db,
		log:          logger,
	}
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := database.Health(r.Context(), h.db); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func claimsFrom(r *http.Request) (*auth.Claims, bool) {
	return auth.GetUserFromContext(r.Context())
}
