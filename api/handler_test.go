package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"batchdl/config"
	"batchdl/queue"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *config.Config, *queue.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		MaxConcurrent: 2,
		AuthEnable:    false,
	}
	qm, err := queue.NewManager(queue.Options{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxRetries:    0,
		BackoffUnit:   time.Millisecond,
	})
	require.NoError(t, err)

	execute := func(ctx context.Context, item queue.Item) (string, error) {
		return "/tmp/" + item.DisplayName(), nil
	}
	router := SetupRouter(qm, execute, cfg)
	return router, cfg, qm
}

func TestHandleEnqueue(t *testing.T) {
	router, _, qm := setupTestRouter(t)

	w := httptest.NewRecorder()
	reqBody := `{"url": "https://example.com/a.mp3", "name": "A Song"}`
	req, _ := http.NewRequest("POST", "/api/v1/tasks", bytes.NewBufferString(reqBody))
	req.Header.Set("Content-Type", "application/json")

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Equal(t, "https://example.com/a.mp3", resp["taskId"])

	task, found := qm.Status(resp["taskId"])
	require.True(t, found)
	assert.Equal(t, queue.StatusQueued, task.Status)
}

func TestHandleEnqueue_RejectsMissingURL(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/tasks", bytes.NewBufferString(`{"name": "no url"}`))
	req.Header.Set("Content-Type", "application/json")

	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleEnqueueBatch(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	reqBody := `{"items": [
		{"url": "https://example.com/1.mp3"},
		{"url": "https://example.com/2.mp3"},
		{"url": "https://example.com/3.mp3"}
	]}`
	req, _ := http.NewRequest("POST", "/api/v1/tasks/batch", bytes.NewBufferString(reqBody))
	req.Header.Set("Content-Type", "application/json")

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		TaskIDs []string `json:"taskIds"`
	}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/1.mp3",
		"https://example.com/2.mp3",
		"https://example.com/3.mp3",
	}, resp.TaskIDs)
}

func TestHandleGetTask(t *testing.T) {
	router, _, qm := setupTestRouter(t)

	id := qm.Enqueue(mediaItem{url: "https://example.com/a.mp3"})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/tasks/"+id, nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var respTask queue.Task
	err := json.Unmarshal(w.Body.Bytes(), &respTask)
	assert.NoError(t, err)
	assert.Equal(t, id, respTask.ID)
	assert.Equal(t, queue.StatusQueued, respTask.Status)

	// Test Not Found
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/tasks/nonexistent", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleProcess(t *testing.T) {
	router, _, qm := setupTestRouter(t)

	qm.Enqueue(mediaItem{url: "https://example.com/1.mp3"})
	qm.Enqueue(mediaItem{url: "https://example.com/2.mp3"})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/queue/process", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results map[string]queue.Result `json:"results"`
	}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	require.Len(t, resp.Results, 2)
	for _, res := range resp.Results {
		assert.Equal(t, queue.StatusCompleted, res.Status)
		assert.Equal(t, 0, res.Retries)
	}
}

func TestHandleStatsAndCounters(t *testing.T) {
	router, _, qm := setupTestRouter(t)

	qm.Enqueue(mediaItem{url: "https://example.com/a.mp3"})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/queue/stats", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var stats queue.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, 1, stats.Total)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/queue/counters", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var counters queue.Counters
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counters))
	assert.Equal(t, 1, counters.TotalQueued)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/api/v1/queue/counters/reset", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, queue.Counters{}, qm.Counters())
}

func TestHandleClearPending(t *testing.T) {
	router, _, qm := setupTestRouter(t)

	qm.Enqueue(mediaItem{url: "https://example.com/a.mp3"})
	qm.Enqueue(mediaItem{url: "https://example.com/b.mp3"})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("DELETE", "/api/v1/queue/pending", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp["discarded"])
}

func TestAuthMiddleware(t *testing.T) {
	router, cfg, _ := setupTestRouter(t)

	t.Run("Auth disabled", func(t *testing.T) {
		cfg.AuthEnable = false
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Auth enabled, no token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, wrong token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, correct token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		req.Header.Set("Authorization", "Bearer secret")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

// mediaItem avoids importing fetch just to enqueue directly in tests.
type mediaItem struct{ url string }

func (m mediaItem) Key() string         { return m.url }
func (m mediaItem) DisplayName() string { return m.url }
