package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openxui/panelsync/internal/auth"
	"github.com/openxui/panelsync/internal/models"
	"github.com/openxui/panelsync/internal/xui"
)

type fakeJobStore struct {
	jobs    map[int64]*models.Job
	logs    []models.JobLog
	nextID  int64
	enqueue []models.JobKind
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[int64]*models.Job{}, nextID: 1}
}

func (s *fakeJobStore) Enqueue(_ context.Context, tenantID, userID int64, kind models.JobKind) (*models.Job, error) {
	job := &models.Job{
		ID:       s.nextID,
		TenantID: tenantID,
		UserID:   userID,
		Kind:     kind,
		Status:   models.JobQueued,
	}
	s.jobs[job.ID] = job
	s.nextID++
	s.enqueue = append(s.enqueue, kind)
	return job, nil
}

func (s *fakeJobStore) Get(_ context.Context, tenantID, jobID int64) (*models.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return nil, nil
	}
	return job, nil
}

func (s *fakeJobStore) List(_ context.Context, tenantID int64, _ int) ([]models.Job, error) {
	out := []models.Job{}
	for _, job := range s.jobs {
		if job.TenantID == tenantID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *fakeJobStore) ListByKind(_ context.Context, tenantID int64, kind models.JobKind, _ int) ([]models.Job, error) {
	out := []models.Job{}
	for _, job := range s.jobs {
		if job.TenantID == tenantID && job.Kind == kind {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *fakeJobStore) ListLogs(_ context.Context, jobID, afterID int64, _ int) ([]models.JobLog, error) {
	out := []models.JobLog{}
	for _, l := range s.logs {
		if l.JobID == jobID && l.ID > afterID {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeIntegrationStore struct {
	byTenant map[int64]*models.Integration
}

func (s *fakeIntegrationStore) Get(_ context.Context, tenantID int64) (*models.Integration, error) {
	return s.byTenant[tenantID], nil
}

func (s *fakeIntegrationStore) Upsert(_ context.Context, in *models.Integration) (*models.Integration, error) {
	if s.byTenant == nil {
		s.byTenant = map[int64]*models.Integration{}
	}
	saved := *in
	saved.ID = in.TenantID
	s.byTenant[in.TenantID] = &saved
	return &saved, nil
}

type fakeUserStore struct {
	users map[string]*models.User
	pass  map[string]string
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return s.users[email], nil
}

func (s *fakeUserStore) CheckPassword(user *models.User, password string) bool {
	return s.pass[user.Email] == password
}

type fakePanelReader struct {
	bouquets    []xui.Bouquet
	categories  []xui.PanelCategory
	connErr     error
	invalidated int
}

func (p *fakePanelReader) Bouquets(context.Context, *models.Integration) ([]xui.Bouquet, error) {
	return p.bouquets, nil
}

func (p *fakePanelReader) Categories(context.Context, *models.Integration) ([]xui.PanelCategory, error) {
	return p.categories, nil
}

func (p *fakePanelReader) TestConnection(context.Context, *models.Integration) error {
	return p.connErr
}

func (p *fakePanelReader) Invalidate(int64) { p.invalidated++ }

type testEnv struct {
	jobs         *fakeJobStore
	integrations *fakeIntegrationStore
	panels       *fakePanelReader
	tokens       *auth.TokenManager
	server       http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	jobs := newFakeJobStore()
	integrations := &fakeIntegrationStore{byTenant: map[int64]*models.Integration{
		1: {
			ID: 1, TenantID: 1,
			DBHost: "panel.example.com", DBPort: 3306, DBName: "xui", DBUser: "sync",
			DBPassword:     "db-secret",
			XtreamBaseURL:  "http://panel.example.com:8080",
			XtreamUsername: "line", XtreamPassword: "xc-secret",
			Options: models.DefaultOptions(),
		},
	}}
	users := &fakeUserStore{
		users: map[string]*models.User{
			"admin@example.com": {ID: 10, TenantID: 1, Email: "admin@example.com"},
		},
		pass: map[string]string{"admin@example.com": "hunter2"},
	}
	panels := &fakePanelReader{
		bouquets: []xui.Bouquet{{ID: 1, Name: "Filmes"}},
	}
	tokens := auth.NewTokenManager("test-secret", time.Hour)

	handler := NewHandler(jobs, integrations, users, panels, tokens, nil, slog.Default())
	return &testEnv{
		jobs:         jobs,
		integrations: integrations,
		panels:       panels,
		tokens:       tokens,
		server:       SetupRoutes(handler, tokens),
	}
}

func (e *testEnv) token(t *testing.T, userID, tenantID int64) string {
	t.Helper()
	token, err := e.tokens.GenerateToken(userID, tenantID, "admin@example.com")
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Email: "admin@example.com", Password: "hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	claims, err := env.tokens.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), claims.TenantID)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Email: "admin@example.com", Password: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRunImportEnqueuesJob(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, 10, 1)

	rec := env.do(t, http.MethodPost, "/api/v1/imports/movies/run", token, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.JobKindMovies, job.Kind)
	assert.Equal(t, models.JobQueued, job.Status)
	assert.Equal(t, int64(1), job.TenantID)
	assert.Equal(t, int64(10), job.UserID)
}

func TestListImportsFiltersByKind(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, 10, 1)

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/api/v1/imports/movies/run", token, nil).Code)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/api/v1/imports/series/run", token, nil).Code)

	rec := env.do(t, http.MethodGet, "/api/v1/imports/movies", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobKindMovies, jobs[0].Kind)
}

func TestRunImportRejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/imports/channels/run", env.token(t, 10, 1), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunImportRequiresIntegration(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/imports/series/run", env.token(t, 20, 2), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunImportRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/imports/movies/run", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.jobs.enqueue)
}

func TestGetJobScopedToTenant(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.jobs.Enqueue(context.Background(), 1, 10, models.JobKindMovies)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/jobs/1", env.token(t, 10, 1), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another tenant cannot see it.
	rec = env.do(t, http.MethodGet, "/api/v1/jobs/1", env.token(t, 30, 2), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	_ = job
}

func TestJobLogsCursor(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.jobs.Enqueue(context.Background(), 1, 10, models.JobKindMovies)
	require.NoError(t, err)

	env.jobs.logs = []models.JobLog{
		{ID: 1, JobID: job.ID, Kind: models.LogKindItem},
		{ID: 2, JobID: job.ID, Kind: models.LogKindItem},
		{ID: 3, JobID: job.ID, Kind: models.LogKindSummary},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/jobs/1/logs?after=2", env.token(t, 10, 1), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var logs []models.JobLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, int64(3), logs[0].ID)
}

func TestGetIntegrationMasksSecrets(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/integration", env.token(t, 10, 1), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var integ models.Integration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &integ))
	assert.Equal(t, "********", integ.DBPassword)
	assert.Equal(t, "********", integ.XtreamPassword)
	assert.Equal(t, "panel.example.com", integ.DBHost)
}

func TestUpdateIntegrationKeepsStoredPasswordWhenMasked(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/integration", env.token(t, 10, 1), integrationRequest{
		DBHost: "panel.example.com", DBPort: 3306, DBName: "xui", DBUser: "sync",
		DBPassword:     "********",
		XtreamBaseURL:  "http://panel.example.com:8080",
		XtreamUsername: "line", XtreamPassword: "new-secret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	stored := env.integrations.byTenant[1]
	assert.Equal(t, "db-secret", stored.DBPassword)
	assert.Equal(t, "new-secret", stored.XtreamPassword)
	assert.Equal(t, 1, env.panels.invalidated)
}

func TestTestIntegrationClassifiesErrors(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, 10, 1)

	rec := env.do(t, http.MethodPost, "/api/v1/integration/test", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.panels.connErr = &xui.AccessDeniedError{User: "sync", Database: "xui"}
	rec = env.do(t, http.MethodPost, "/api/v1/integration/test", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "GRANT ALL PRIVILEGES")
}

func TestGetBouquets(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/catalog/bouquets", env.token(t, 10, 1), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var bouquets []xui.Bouquet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bouquets))
	require.Len(t, bouquets, 1)
	assert.Equal(t, "Filmes", bouquets[0].Name)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
