package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ollama-chat/constants"
	"ollama-chat/database"
	"ollama-chat/handlers"
	"ollama-chat/models"
	"ollama-chat/ollama"
)

// fakeOllama records /api/generate bodies and answers with canned replies.
type fakeOllama struct {
	mu       sync.Mutex
	prompts  []string
	failGen  bool
	failTags bool
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ollama.EndpointTags:
			if f.failTags {
				http.Error(w, "down", http.StatusBadGateway)
				return
			}
			_, _ = io.WriteString(w, `{"models":[{"name":"llava:latest","size":4700000000},{"name":"llama3:8b","size":4600000000}]}`)
		case ollama.EndpointGenerate:
			var body ollama.GenerateRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.mu.Lock()
			f.prompts = append(f.prompts, body.Prompt)
			f.mu.Unlock()
			if f.failGen {
				http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
				return
			}
			if body.Stream {
				_, _ = io.WriteString(w, "{\"response\":\"str\",\"done\":false}\n{\"response\":\"eam\",\"done\":true}\n")
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":      body.Model,
				"response":   "reply to " + body.Prompt,
				"done":       true,
				"eval_count": 3,
			})
		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeOllama) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func newTestServer(t *testing.T) (http.Handler, *fakeOllama) {
	t.Helper()
	h, fake, _ := newTestServerDB(t)
	return h, fake
}

func newTestServerDB(t *testing.T) (http.Handler, *fakeOllama, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := &fakeOllama{}
	upstream := httptest.NewServer(fake.handler(t))
	t.Cleanup(upstream.Close)

	db, err := database.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	deps := handlers.NewDeps(db, ollama.NewClient(upstream.URL, 5*time.Second), zap.NewNop())
	return handlers.NewRouter(deps), fake, db
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestLoginIsIdempotent(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/user/login", `{"name":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[models.LoginResponse](t, w)
	assert.True(t, first.Success)
	assert.Equal(t, "New user created!", first.Message)

	w = do(t, srv, http.MethodPost, "/api/user/login", `{"name":" alice "}`)
	require.Equal(t, http.StatusOK, w.Code)
	again := decode[models.LoginResponse](t, w)
	assert.Equal(t, first.User.ID, again.User.ID)
	assert.Equal(t, "Welcome back!", again.Message)
}

func TestLoginRejectsEmptyName(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, body := range []string{`{"name":""}`, `{"name":"   "}`, `{}`} {
		w := do(t, srv, http.MethodPost, "/api/user/login", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, constants.ErrNameRequired, decode[map[string]string](t, w)["error"], body)
	}

	w := do(t, srv, http.MethodPost, "/api/user/login", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, constants.ErrInvalidBody, decode[map[string]string](t, w)["error"])
}

func TestGetUser(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/user/nobody", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	do(t, srv, http.MethodPost, "/api/user/login", `{"name":"bob"}`)
	do(t, srv, http.MethodPost, "/api/generate", `{"model":"llama3","prompt":"hi","userName":"bob"}`)

	w = do(t, srv, http.MethodGet, "/api/user/bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.UserResponse](t, w)
	assert.Equal(t, "bob", got.User.Name)
	assert.Equal(t, int64(1), got.Stats.TotalTurns)
	assert.Equal(t, int64(1), got.Stats.DistinctModelsUsed)
	assert.NotNil(t, got.Stats.LastTurnAt)
}

func TestGenerateFoldsHistory(t *testing.T) {
	srv, fake := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/generate", `{"model":"llama3","prompt":"2+2?","userName":"bob"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[map[string]any](t, w)
	assert.Equal(t, "reply to 2+2?", first["response"])
	assert.Equal(t, true, first["history_saved"])
	assert.EqualValues(t, 3, first["eval_count"], "upstream fields pass through")

	w = do(t, srv, http.MethodPost, "/api/generate", `{"model":"llama3","prompt":"and 3+3?","userName":"bob"}`)
	require.Equal(t, http.StatusOK, w.Code)

	sent := fake.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "2+2?", sent[0])
	assert.Equal(t, "User: 2+2?\nAssistant: reply to 2+2?\n\nUser: and 3+3?", sent[1])
}

func TestGenerateReturnsReplyWhenHistoryWriteFails(t *testing.T) {
	srv, fake, db := newTestServerDB(t)
	require.NoError(t, db.Exec(`CREATE TRIGGER reject_turns BEFORE INSERT ON conversations
		BEGIN SELECT RAISE(FAIL, 'disk full'); END`).Error)

	w := do(t, srv, http.MethodPost, "/api/generate", `{"model":"llama3","prompt":"hi","userName":"carol"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Equal(t, "reply to hi", body["response"])
	assert.Equal(t, false, body["history_saved"])
	assert.Equal(t, constants.MessageHistoryNotSaved, body["warning"])
	assert.Len(t, fake.sent(), 1)

	w = do(t, srv, http.MethodGet, "/api/conversations/carol", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[models.ConversationsResponse](t, w)
	assert.Empty(t, list.Conversations)
}

func TestGenerateValidation(t *testing.T) {
	srv, fake := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"no model", `{"prompt":"hi","userName":"u"}`},
		{"no prompt or image", `{"model":"m","userName":"u"}`},
		{"no user", `{"model":"m","prompt":"hi"}`},
		{"bad base64", `{"model":"llava","prompt":"hi","userName":"u","images":["abc!"]}`},
		{"unknown option", `{"model":"m","prompt":"hi","userName":"u","options":{"seed":4}}`},
		{"option range", `{"model":"m","prompt":"hi","userName":"u","options":{"top_p":1.5}}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/api/generate", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
	assert.Empty(t, fake.sent(), "invalid requests never reach the completion service")
}

func TestGenerateUpstreamFailure(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.failGen = true

	w := do(t, srv, http.MethodPost, "/api/generate", `{"model":"nope","prompt":"hi","userName":"carl"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to generate response")

	w = do(t, srv, http.MethodGet, "/api/conversations/carl", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[models.ConversationsResponse](t, w).Conversations)
}

func TestConversationsListAndClear(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/conversations/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, srv, http.MethodDelete, "/api/conversations/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	for _, p := range []string{"one", "two", "three"} {
		w := do(t, srv, http.MethodPost, "/api/generate", `{"model":"llama3","prompt":"`+p+`","userName":"dora"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = do(t, srv, http.MethodGet, "/api/conversations/dora", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[models.ConversationsResponse](t, w).Conversations
	require.Len(t, list, 3)
	assert.Equal(t, "three", list[0].Prompt, "most recent first")
	assert.Equal(t, "one", list[2].Prompt)

	w = do(t, srv, http.MethodDelete, "/api/conversations/dora", "")
	require.Equal(t, http.StatusOK, w.Code)
	cleared := decode[models.ClearResponse](t, w)
	assert.True(t, cleared.Success)
	assert.Equal(t, int64(3), cleared.DeletedCount)
	assert.Equal(t, "Cleared 3 conversations", cleared.Message)

	w = do(t, srv, http.MethodDelete, "/api/conversations/dora", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[models.ClearResponse](t, w).DeletedCount)
}

func TestModelsPassthrough(t *testing.T) {
	srv, fake := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[models.ModelListResponse](t, w)
	require.Len(t, list.Models, 2)
	assert.Equal(t, "llava:latest", list.Models[0].Name)

	fake.failTags = true
	w = do(t, srv, http.MethodGet, "/api/models", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealth(t *testing.T) {
	srv, fake := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode[models.HealthResponse](t, w).Status)

	fake.failTags = true
	w = do(t, srv, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	got := decode[models.HealthResponse](t, w)
	assert.Equal(t, "unhealthy", got.Status)
	assert.Equal(t, "disconnected", got.Ollama)
	assert.Equal(t, "connected", got.Database)
}

func TestGenerateStreamPassthrough(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/generate/stream", `{"model":"llama3","prompt":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(w.Body.String(), "\n"))

	w = do(t, srv, http.MethodGet, "/api/conversations/anyone", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "streaming never creates users or turns")
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, http.MethodOptions, "/api/generate", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
