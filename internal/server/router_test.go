package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devsrv/internal/watcher"
)

type fakeWatch struct {
	status watcher.Status
	reason string
	files  []string
}

func (f fakeWatch) Status() watcher.Status { return f.status }
func (f fakeWatch) Reason() string         { return f.reason }
func (f fakeWatch) Files() []string        { return f.files }

func setupRouter(t *testing.T, base string) (*Router, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := NewRouter(Options{
		BasePath:   base,
		Generation: 4,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return r, r.Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestNewRouterSilencesGinDebug(t *testing.T) {
	t.Setenv(gin.EnvGinMode, "")
	gin.SetMode(gin.DebugMode)
	var out strings.Builder
	orig := gin.DefaultWriter
	gin.DefaultWriter = &out
	t.Cleanup(func() {
		gin.DefaultWriter = orig
		gin.SetMode(gin.TestMode)
	})

	r := NewRouter(Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	_ = r.Handler()
	assert.Equal(t, gin.ReleaseMode, gin.Mode())
	assert.Empty(t, out.String())

	gin.SetMode(gin.TestMode)
	_ = NewRouter(Options{})
	assert.Equal(t, gin.TestMode, gin.Mode(), "an explicit mode is kept")
}

func TestStatusWithoutWatcher(t *testing.T) {
	_, h := setupRouter(t, "")
	rec := doReq(t, h, http.MethodGet, "/__devsrv/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var info Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 4, info.Generation)
	assert.Equal(t, "unwatched", info.Status)
	assert.NotZero(t, info.PID)
	assert.False(t, info.StartedAt.IsZero())
}

func TestStatusReportsWatcher(t *testing.T) {
	r, h := setupRouter(t, "/admin/")
	r.Attach(fakeWatch{status: watcher.Reload, reason: "/src/main.go", files: []string{"a", "b", "c"}})

	rec := doReq(t, h, http.MethodGet, "/admin/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var info Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "reload", info.Status)
	assert.Equal(t, "/src/main.go", info.Reason)
	assert.Equal(t, 3, info.WatchedFiles)
}

func TestFiles(t *testing.T) {
	r, h := setupRouter(t, "")
	rec := doReq(t, h, http.MethodGet, "/__devsrv/files")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	r.Attach(fakeWatch{status: watcher.Running, files: []string{"/x/a.go", "/x/b.go"}})
	rec = doReq(t, h, http.MethodGet, "/__devsrv/files")
	require.Equal(t, http.StatusOK, rec.Code)
	var files []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	assert.Equal(t, []string{"/x/a.go", "/x/b.go"}, files)
}

func TestMetricsAndPprof(t *testing.T) {
	_, h := setupRouter(t, "")
	rec := doReq(t, h, http.MethodGet, "/__devsrv/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doReq(t, h, http.MethodGet, "/__devsrv/debug/pprof/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")

	rec = doReq(t, h, http.MethodGet, "/__devsrv/debug/pprof/goroutine?debug=1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine profile")
}

func TestReloadScript(t *testing.T) {
	r, h := setupRouter(t, "/dev")
	assert.Equal(t, "/dev/livereload.js", r.ScriptURL())
	rec := doReq(t, h, http.MethodGet, r.ScriptURL())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/javascript"))
	assert.Contains(t, rec.Body.String(), `var endpoint = "/dev/livereload";`)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestLiveReloadGreetsAndCloses(t *testing.T) {
	r, h := setupRouter(t, "")
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/__devsrv/livereload"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	var hello ReloadMessage
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, ReloadTypeHello, hello.Type)
	assert.Equal(t, 4, hello.Generation)
	require.Eventually(t, func() bool { return r.Reload().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	r.Shutdown()

	var closing ReloadMessage
	require.NoError(t, conn.ReadJSON(&closing))
	assert.Equal(t, ReloadTypeClosing, closing.Type)
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool { return r.Reload().ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Refused after shutdown: the upgrade succeeds but the socket is dropped.
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = late.ReadMessage()
		assert.Error(t, err)
		_ = late.Close()
	}
}

func TestMount(t *testing.T) {
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "app")
	})
	admin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "admin")
	})
	h := Mount(app, admin, "/__devsrv/")
	cases := map[string]string{
		"/":                 "app",
		"/__devsrv":         "admin",
		"/__devsrv/status":  "admin",
		"/__devsrvx/status": "app",
		"/api/__devsrv":     "app",
	}
	for path, want := range cases {
		rec := doReq(t, h, http.MethodGet, path)
		assert.Equal(t, want, rec.Body.String(), path)
	}
	assert.Equal(t, "admin", doReq(t, Mount(app, admin, ""), http.MethodGet, "/x").Body.String())
}

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, sanitizeBase(c.in), "sanitizeBase(%q)", c.in)
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := doReq(t, r, http.MethodGet, "/x")
	assert.Equal(t, 201, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"a":1}`, rec.Body.String())
}
