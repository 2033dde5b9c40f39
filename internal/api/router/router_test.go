package router

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/docqueue/internal/api/dto"
	"github.com/cuongbtq/docqueue/internal/api/handler"
	"github.com/cuongbtq/docqueue/internal/dedup"
	"github.com/cuongbtq/docqueue/internal/jobstore"
	"github.com/cuongbtq/docqueue/internal/objectstore"
	"github.com/cuongbtq/docqueue/internal/queue"
)

func setupTestRouter(t *testing.T, origins []string) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := jobstore.New(rdb, jobstore.WithLogger(logger))
	objects, err := objectstore.NewLocal(t.TempDir(), "http://files.test", logger)
	require.NoError(t, err)

	svc := queue.NewService(&queue.Config{
		Logger: logger,
		Store:  store,
		Cache:  dedup.New(objects, logger),
	})

	deps := &handler.Dependencies{
		Logger:    logger,
		Jobs:      svc,
		Artifacts: objects,
		Checks: map[string]handler.HealthChecker{
			"redis": handler.HealthCheckFunc(store.Ping),
		},
	}
	return SetupRouter(deps, Config{ServiceName: "docqueue-api", AllowedOrigins: origins}), mr
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_SubmitAndPoll(t *testing.T) {
	r, _ := setupTestRouter(t, nil)

	body := `{"type":"markdown","payload":{"title":"Weekly report","markdown":"# hi"},"priority":"urgent","owner_id":"acct-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var created dto.JobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "PENDING", created.Status)
	assert.Equal(t, "URGENT", created.Priority)
	assert.Equal(t, "Weekly report", created.Title)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+created.JobID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?owner_id=acct-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, created.JobID, list.Jobs[0].JobID)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stats dto.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.QueueDepth["URGENT"])

	w = serve(r, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+created.JobID+"/cancel", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"CANCELLED"`)
}

func TestRouter_HistoryDisabled(t *testing.T) {
	r, _ := setupTestRouter(t, nil)
	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_Health(t *testing.T) {
	r, mr := setupTestRouter(t, nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"service":"docqueue-api"`)

	mr.Close()
	w = serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/api/v1/jobs",
		strings.NewReader(`{"type":"markdown","payload":{"title":"T"}}`)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSMiddleware(t *testing.T) {
	t.Run("any origin", func(t *testing.T) {
		r, _ := setupTestRouter(t, nil)
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
		req.Header.Set("Origin", "https://app.example.com")

		w := serve(r, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("allow list", func(t *testing.T) {
		r, _ := setupTestRouter(t, []string{"https://app.example.com"})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := serve(r, req)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w = serve(r, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}
