package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pharmsync/internal/config"
	"pharmsync/internal/database"
	"pharmsync/internal/domain"
	"pharmsync/internal/models"
	"pharmsync/internal/registry"
	"pharmsync/internal/repository"
	"pharmsync/internal/scheduler"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type stubAdapter struct {
	ids []string
	err error
}

func (a *stubAdapter) Search(context.Context, *models.Backend, models.Filter) ([]string, error) {
	return a.ids, a.err
}

func (a *stubAdapter) Read(context.Context, *models.Backend, string, []string) (map[string]any, error) {
	return map[string]any{}, nil
}

type recordingRunner struct {
	mu    sync.Mutex
	tasks []*models.ImportTask
}

func (r *recordingRunner) Submit(_ context.Context, task *models.ImportTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

type nopImporter struct{}

func (nopImporter) ImportRecord(context.Context, *models.ImportTask) error { return nil }

type testEnv struct {
	db       *database.DB
	backend  *models.Backend
	adapters map[models.EntityType]*stubAdapter
	runner   *recordingRunner
	locker   *repository.MemoryPassLocker
	server   *HTTPServer
	ts       *httptest.Server
}

func newTestEnv(t *testing.T, cfg config.APIConfig) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "state.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	backend := models.NewBackend("main")
	backend.Driver = models.DriverSQLite
	backend.Server = "remote.db"
	backend.ImportInverse = false
	backend.DateDataStart = time.Now().UTC().AddDate(0, -2, 0)
	require.NoError(t, db.SaveBackend(context.Background(), backend))

	env := &testEnv{
		db:       db,
		backend:  backend,
		adapters: make(map[models.EntityType]*stubAdapter),
		runner:   &recordingRunner{},
		locker:   repository.NewMemoryPassLocker(),
	}
	reg, err := registry.Default(nil, func(info models.EntityInfo) domain.RemoteAdapter {
		a := &stubAdapter{}
		env.adapters[info.Type] = a
		return a
	})
	require.NoError(t, err)

	sched := scheduler.New(scheduler.Deps{
		Backends:   db,
		Watermarks: db,
		Bindings:   db,
		Registry:   reg,
		Runner:     env.runner,
		Importer:   nopImporter{},
		Locker:     env.locker,
	}, scheduler.Options{}, &logger)

	env.server = NewHTTPServer(cfg, sched, db, &logger)
	env.ts = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func openConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth:    config.APIAuthConfig{Enabled: false},
	}
}

func (e *testEnv) do(t *testing.T, method, path string, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, http.NoBody)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var body map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestImportEndpoint(t *testing.T) {
	env := newTestEnv(t, openConfig())
	env.adapters[models.EntityItem].ids = []string{"1", "2"}

	resp, body := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/backends/%d/import/item", env.backend.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "main", body["backend"])
	assert.Equal(t, "item", body["entity"])
	assert.GreaterOrEqual(t, body["windows"], float64(2))
	assert.NotEmpty(t, env.runner.tasks)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestImportEndpointErrors(t *testing.T) {
	env := newTestEnv(t, openConfig())
	id := env.backend.ID

	tests := []struct {
		name   string
		path   string
		setup  func()
		status int
	}{
		{name: "BadBackendID", path: "/api/v1/backends/abc/import/item", status: http.StatusBadRequest},
		{name: "UnknownEntity", path: fmt.Sprintf("/api/v1/backends/%d/import/widgets", id), status: http.StatusBadRequest},
		{name: "NotTrackable", path: fmt.Sprintf("/api/v1/backends/%d/import/store", id), status: http.StatusBadRequest},
		{name: "UnknownBackend", path: "/api/v1/backends/999/import/item", status: http.StatusNotFound},
		{
			name:   "Enumeration",
			path:   fmt.Sprintf("/api/v1/backends/%d/import/patient", id),
			setup:  func() { env.adapters[models.EntityPatient].err = errors.New("remote timeout") },
			status: http.StatusBadGateway,
		},
		{
			name:   "Precondition",
			path:   fmt.Sprintf("/api/v1/backends/%d/import/sale", id),
			setup:  func() { env.adapters[models.EntityStore].err = errors.New("no store table") },
			status: http.StatusPreconditionFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			resp, body := env.do(t, http.MethodPost, tt.path, nil)
			assert.Equal(t, tt.status, resp.StatusCode, body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestImportEndpointPassInProgress(t *testing.T) {
	env := newTestEnv(t, openConfig())
	_, ok, err := env.locker.TryLock(context.Background(), fmt.Sprintf("%d:item", env.backend.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	resp, _ := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/backends/%d/import/item", env.backend.ID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCronImportEndpoint(t *testing.T) {
	env := newTestEnv(t, openConfig())

	resp, body := env.do(t, http.MethodPost, "/api/v1/cron/import/phone", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results, ok := body["results"].([]any)
	require.True(t, ok)
	assert.Len(t, results, 1)

	env.adapters[models.EntityPhone].err = errors.New("connection refused")
	resp, body = env.do(t, http.MethodPost, "/api/v1/cron/import/phone", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body["error"], "main")
}

func TestResyncAndForceSync(t *testing.T) {
	env := newTestEnv(t, openConfig())
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, env.db.UpsertBinding(ctx, &models.Binding{BackendID: env.backend.ID, Entity: models.EntityPatient, RemoteID: id}))
	}

	resp, body := env.do(t, http.MethodPost, "/api/v1/resync/patient", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, float64(2), body["submitted"])
	assert.Equal(t, models.ForcePriority, env.runner.tasks[0].Priority)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/resync/patient?priority=1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, env.runner.tasks[3].Priority)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/resync/patient?priority=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/force-sync/item/42?backend_id=%d", env.backend.ID), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	last := env.runner.tasks[len(env.runner.tasks)-1]
	assert.True(t, last.Force)
	assert.Equal(t, "42", last.RemoteID)
	assert.Equal(t, models.ForcePriority, last.Priority)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/force-sync/item/42", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/v1/force-sync/item/42?backend_id=999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFDBEndpoints(t *testing.T) {
	env := newTestEnv(t, openConfig())
	env.adapters[models.EntityFDBUnit].ids = []string{"MG", "ML"}

	resp, body := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/backends/%d/fdb", env.backend.ID), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, float64(2), body["submitted"])

	resp, _ = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/backends/%d/fdb/ndc", env.backend.ID), nil)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestReadEndpoints(t *testing.T) {
	env := newTestEnv(t, openConfig())
	ctx := context.Background()

	task := &models.ImportTask{BackendID: env.backend.ID, Entity: models.EntitySale, RemoteID: "9", Priority: 10}
	require.NoError(t, env.db.CreateImportTask(ctx, task))
	msg := "boom"
	require.NoError(t, env.db.UpdateImportTaskStatus(ctx, task.ID, models.TaskStatusFailed, 5, &msg, nil))

	resp, body := env.do(t, http.MethodGet, "/api/v1/backends", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["backends"], 1)

	resp, body = env.do(t, http.MethodGet, "/api/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["failed"])

	resp, _ = env.do(t, http.MethodGet, "/api/v1/queue/failed.xlsx", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "failed_imports_")
	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetList()[0])
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "main", rows[1][1])
	assert.Equal(t, "boom", rows[1][7])

	resp, _ = env.do(t, http.MethodGet, "/api/v1/queue/failed.xlsx?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, openConfig())

	resp, body := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = env.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env.db.Close()
	resp, _ = env.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, openConfig())
	resp, _ := env.do(t, http.MethodGet, "/api/v1/cron/import/item", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t, openConfig())
	resp, _ := env.do(t, http.MethodGet, "/healthz", http.Header{"X-Request-Id": {"req-123"}})
	assert.Equal(t, "req-123", resp.Header.Get(requestIDHeader))
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))
}
