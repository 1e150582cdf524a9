package controllers_test

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"lessonsync/backend/buffer"
	"lessonsync/backend/client"
	"lessonsync/backend/config"
	"lessonsync/backend/heartbeat"
	"lessonsync/backend/routes"
	"lessonsync/backend/store"
	"lessonsync/backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

type fakeBackend struct {
	mu           sync.Mutex
	progress     []map[string]interface{}
	interactions [][]map[string]interface{}
}

func (b *fakeBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/progress":
			var p map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&p)
			b.mu.Lock()
			b.progress = append(b.progress, p)
			b.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		case "/flashcard-interactions":
			var body struct {
				Interactions []map[string]interface{} `json:"interactions"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			b.mu.Lock()
			b.interactions = append(b.interactions, body.Interactions)
			b.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]int{"totalProcessed": len(body.Interactions)})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

type testEnv struct {
	app        *fiber.App
	cfg        *config.Config
	backend    *fakeBackend
	token      string
	otherToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend := &fakeBackend{}
	ts := httptest.NewServer(backend.handler())
	t.Cleanup(ts.Close)

	cfg := &config.Config{
		JWTSecret:      "testsecret",
		SessionCookie:  "session_token",
		BackendAPIURL:  ts.URL,
		StorageDriver:  "disk",
		DataDir:        t.TempDir(),
		DebounceWindow: 50 * time.Millisecond,
		SyncInterval:   time.Minute,
		BatchSize:      5,
		MaxBufferSize:  100,
		FlushTime:      time.Minute,
	}

	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	storage, err := store.SelectStorage(cfg, nil)
	assert.NoError(t, err)

	backendClient := client.New(cfg.BackendAPIURL, logger)
	queue := heartbeat.NewQueue(backendClient, logger, heartbeat.DefaultMaxAttempts)
	progressStore := store.NewProgressStore(storage, queue, cfg.DebounceWindow, logger)
	bufferService := buffer.NewService(backendClient, cfg.BatchSize, cfg.MaxBufferSize, cfg.FlushTime, logger)

	app := fiber.New()
	routes.SetupRoutes(app, progressStore, queue, bufferService, cfg)

	token, err := utils.GenerateToken(1, cfg)
	assert.NoError(t, err)
	otherToken, err := utils.GenerateToken(2, cfg)
	assert.NoError(t, err)

	return &testEnv{app: app, cfg: cfg, backend: backend, token: token, otherToken: otherToken}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *http.Response {
	return e.requestAs(t, e.token, method, path, body)
}

func (e *testEnv) requestAs(t *testing.T, token, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		assert.NoError(t, err)
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.app.Test(req, -1)
	assert.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func TestProgressRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/progress", bytes.NewBufferString(`{"lessonId":"l1"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := env.app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestSessionCookieAccepted(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/progress/last-access", nil)
	req.AddCookie(&http.Cookie{Name: env.cfg.SessionCookie, Value: env.token})

	resp, err := env.app.Test(req, -1)
	assert.NoError(t, err)
	// Authenticated but nothing visited yet.
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestProgressTickFlushAndRead(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "POST", "/api/progress", map[string]interface{}{
		"lessonId":    "lesson-1",
		"currentTime": 30.0,
		"duration":    60.0,
		"courseId":    "course-1",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Supersede before any flush happened.
	resp = env.request(t, "POST", "/api/progress", map[string]interface{}{
		"lessonId":    "lesson-1",
		"currentTime": 60.0,
		"duration":    60.0,
		"courseId":    "course-1",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.request(t, "POST", "/api/progress/flush", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Exactly one heartbeat reached the backend, carrying the latest tick.
	env.backend.mu.Lock()
	progress := append([]map[string]interface{}(nil), env.backend.progress...)
	env.backend.mu.Unlock()
	assert.Len(t, progress, 1)
	assert.Equal(t, "lesson-1", progress[0]["lessonId"])
	assert.Equal(t, 60.0, progress[0]["currentTime"])
	assert.Equal(t, 100.0, progress[0]["percentage"])

	resp = env.request(t, "GET", "/api/progress/lesson-1", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	result := decode(t, resp)
	data := result["data"].(map[string]interface{})
	assert.Equal(t, 100.0, data["percentage"])
}

func TestProgressNotFoundAndClear(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "GET", "/api/progress/unknown", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = env.request(t, "POST", "/api/progress", map[string]interface{}{
		"lessonId":    "lesson-2",
		"currentTime": 5.0,
		"duration":    10.0,
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.request(t, "DELETE", "/api/progress/lesson-2", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = env.request(t, "GET", "/api/progress/lesson-2", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestInteractionBatchEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	for i := 1; i <= 4; i++ {
		resp := env.request(t, "POST", "/api/flashcard-interactions", map[string]interface{}{
			"flashcardId":     "card-a",
			"difficultyLevel": "EASY",
			"lessonId":        "lesson-1",
		})
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		result := decode(t, resp)
		data := result["data"].(map[string]interface{})
		assert.Equal(t, "queued", data["status"])
		assert.Equal(t, float64(i), data["queueSize"])
	}

	resp := env.request(t, "POST", "/api/flashcard-interactions", map[string]interface{}{
		"flashcardId":     "card-b",
		"difficultyLevel": "HARD",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	result := decode(t, resp)
	data := result["data"].(map[string]interface{})
	assert.Equal(t, "flushed", data["status"])
	assert.Equal(t, 5.0, data["totalProcessed"])

	env.backend.mu.Lock()
	batches := append([][]map[string]interface{}(nil), env.backend.interactions...)
	env.backend.mu.Unlock()
	assert.Len(t, batches, 1)
	assert.Len(t, batches[0], 5)
}

func TestInteractionValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "POST", "/api/flashcard-interactions", map[string]interface{}{
		"flashcardId":     "card-a",
		"difficultyLevel": "MEDIUM",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = env.request(t, "POST", "/api/flashcard-interactions", map[string]interface{}{
		"difficultyLevel": "EASY",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestManualInteractionFlush(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		resp := env.request(t, "POST", "/api/flashcard-interactions", map[string]interface{}{
			"flashcardId":     "card-a",
			"difficultyLevel": "EASY",
		})
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	resp := env.request(t, "POST", "/api/flashcard-interactions/flush", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	result := decode(t, resp)
	data := result["data"].(map[string]interface{})
	assert.Equal(t, 2.0, data["totalProcessed"])
	assert.Equal(t, 0.0, data["queueSize"])
}

func TestLastAccessEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "PUT", "/api/progress/last-access", map[string]interface{}{
		"lessonId": "lesson-9",
		"courseId": "course-3",
		"moduleId": "module-2",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.request(t, "GET", "/api/progress/last-access", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	result := decode(t, resp)
	data := result["data"].(map[string]interface{})
	assert.Equal(t, "lesson-9", data["lessonId"])
	assert.Equal(t, "course-3", data["courseId"])
}

func TestProgressIsInvisibleToOtherUsers(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "POST", "/api/progress", map[string]interface{}{
		"lessonId":    "lesson-x",
		"currentTime": 30.0,
		"duration":    60.0,
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Another authenticated user watching the same lesson sees nothing.
	resp = env.requestAs(t, env.otherToken, "GET", "/api/progress/lesson-x", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// And cannot clear the owner's state either.
	resp = env.requestAs(t, env.otherToken, "DELETE", "/api/progress/lesson-x", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = env.request(t, "GET", "/api/progress/lesson-x", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	result := decode(t, resp)
	data := result["data"].(map[string]interface{})
	assert.Equal(t, 50.0, data["percentage"])

	// Last-access context is per user too.
	resp = env.request(t, "PUT", "/api/progress/last-access", map[string]interface{}{
		"lessonId": "lesson-x",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp = env.requestAs(t, env.otherToken, "GET", "/api/progress/last-access", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
