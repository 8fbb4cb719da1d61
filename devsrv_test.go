package devsrv

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devsrv/internal/liveness"
	"github.com/loykin/devsrv/internal/loader"
	"github.com/loykin/devsrv/internal/supervisor"
)

func noEnv(string) (string, bool) { return "", false }

func baseConfig(t *testing.T) *Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	cfg.Log = LogConfig{Level: "error"}
	cfg.Interval = 100 * time.Millisecond
	cfg.StopTimeout = time.Second
	return cfg
}

type running struct {
	base string
	done chan result
}

type result struct {
	code int
	err  error
}

func start(t *testing.T, app http.Handler, opts Options) (*running, context.CancelFunc) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	opts.Listener = ln
	opts.Stderr = io.Discard
	if opts.LookupEnv == nil {
		opts.LookupEnv = noEnv
	}

	ready := make(chan net.Addr, 1)
	opts.Ready = func(a net.Addr) { ready <- a }
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{done: make(chan result, 1)}
	go func() {
		code, err := Run(ctx, app, opts)
		r.done <- result{code, err}
	}()
	select {
	case a := <-ready:
		r.base = "http://" + a.String()
	case res := <-r.done:
		cancel()
		t.Fatalf("Run returned early: %d %v", res.code, res.err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not become ready")
	}
	return r, cancel
}

func (r *running) wait(t *testing.T) result {
	t.Helper()
	select {
	case res := <-r.done:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
		return result{}
	}
}

func fetch(t *testing.T, url string) (int, string) {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(b)
}

func TestRunServesDecoratedHandler(t *testing.T) {
	cfg := baseConfig(t)
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "a.txt"), []byte("alpha"), 0o644))
	cfg.Static = true
	cfg.StaticDirs = []string{static}
	cfg.CheckContract = true

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html><body>app</body></html>")
	})
	r, cancel := start(t, app, Options{Config: cfg})

	code, body := fetch(t, r.base+"/hello")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "<html><body>app</body></html>", body, "no reload script outside a supervised session")

	code, body = fetch(t, r.base+"/static/a.txt")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alpha", body)

	code, body = fetch(t, r.base+"/__devsrv/status")
	assert.Equal(t, http.StatusOK, code)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &info))
	assert.Equal(t, "unwatched", info["status"])

	cancel()
	res := r.wait(t)
	assert.NoError(t, res.err)
	assert.Equal(t, ExitOK, res.code)
}

func TestRunAsInnerProcess(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Reload = true
	token, err := liveness.Create(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = token.Remove() })

	child := supervisor.ChildEnv{Token: token.Path(), Generation: 4}
	env := map[string]string{}
	for _, kv := range child.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, "<html><body>page</body></html>")
	})
	r, cancel := start(t, app, Options{Config: cfg, LookupEnv: lookup})

	_, body := fetch(t, r.base+"/")
	assert.Contains(t, body, `<script src="/__devsrv/livereload.js"></script></body>`)

	_, body = fetch(t, r.base+"/__devsrv/status")
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &info))
	assert.Equal(t, "running", info["status"])
	assert.EqualValues(t, 4, info["generation"])

	cancel()
	res := r.wait(t)
	assert.NoError(t, res.err)
	assert.Equal(t, ExitOK, res.code)
	assert.True(t, token.Exists(), "the inner process never removes the token")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Port = 70000
	code, err := Run(context.Background(), http.NotFoundHandler(), Options{Config: cfg, LookupEnv: noEnv, Stderr: io.Discard})
	assert.Error(t, err)
	assert.Equal(t, ExitFailure, code)
}

func TestRunWithoutHandlerSource(t *testing.T) {
	cfg := baseConfig(t)
	code, err := Run(context.Background(), nil, Options{Config: cfg, LookupEnv: noEnv, Stderr: io.Discard})
	assert.ErrorIs(t, err, loader.ErrNoSource)
	assert.Equal(t, ExitFailure, code)
}

func TestMainReportsErrors(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Log.Format = "xml"
	var stderr bytes.Buffer
	code := Main(http.NotFoundHandler(), Options{Config: cfg, LookupEnv: noEnv, Stderr: &stderr})
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr.String(), "devsrv:")
	assert.Contains(t, stderr.String(), "xml")
}
