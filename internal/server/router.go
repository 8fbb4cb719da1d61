package server

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/devsrv/internal/metrics"
	"github.com/loykin/devsrv/internal/watcher"
)

// DefaultBasePath is where the admin routes live next to the served app.
const DefaultBasePath = "/__devsrv"

// WatchState is the part of the change watcher the admin routes report on.
type WatchState interface {
	Status() watcher.Status
	Reason() string
	Files() []string
}

// Router provides the admin endpoints of a serving process.
// Endpoints:
//
//	GET {basePath}/status          pid, generation, watcher state, uptime
//	GET {basePath}/files           tracked files
//	GET {basePath}/metrics         prometheus exposition
//	GET {basePath}/livereload      reload websocket
//	GET {basePath}/livereload.js   reload client
//	GET {basePath}/debug/pprof/*   runtime profiles
type Router struct {
	basePath   string
	generation int
	started    time.Time
	reload     *ReloadServer
	sampler    *metrics.Sampler

	mu    sync.RWMutex
	watch WatchState
}

type Options struct {
	BasePath   string
	Generation int
	Logger     *slog.Logger
}

func NewRouter(opts Options) *Router {
	bp := sanitizeBase(opts.BasePath)
	if bp == "" {
		bp = DefaultBasePath
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	// Keep gin from printing its route table and warnings unless asked to.
	if os.Getenv(gin.EnvGinMode) == "" && gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Router{
		basePath:   bp,
		generation: opts.Generation,
		started:    time.Now(),
		reload:     NewReloadServer(opts.Generation, log.With("component", "livereload")),
		sampler:    metrics.NewSampler(),
	}
}

// Attach makes the watcher visible to /status and /files.
func (r *Router) Attach(w WatchState) {
	r.mu.Lock()
	r.watch = w
	r.mu.Unlock()
}

func (r *Router) state() WatchState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.watch
}

func (r *Router) BasePath() string { return r.basePath }

// ScriptURL is where the reload client is served.
func (r *Router) ScriptURL() string { return r.basePath + "/livereload.js" }

func (r *Router) Reload() *ReloadServer { return r.reload }

// Shutdown drops the reload connections so browsers start reconnecting.
func (r *Router) Shutdown() { r.reload.Close() }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/files", r.handleFiles)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	group.GET("/livereload", gin.WrapF(r.reload.HandleWebSocket))
	group.GET("/livereload.js", r.handleScript)

	group.GET("/debug/pprof/", gin.WrapF(pprof.Index))
	group.GET("/debug/pprof/cmdline", gin.WrapF(pprof.Cmdline))
	group.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
	group.GET("/debug/pprof/symbol", gin.WrapF(pprof.Symbol))
	group.GET("/debug/pprof/trace", gin.WrapF(pprof.Trace))
	group.GET("/debug/pprof/:name", func(c *gin.Context) {
		pprof.Handler(c.Param("name")).ServeHTTP(c.Writer, c.Request)
	})
	return g
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

// Info is the body of GET /status.
type Info struct {
	PID          int                    `json:"pid"`
	Generation   int                    `json:"generation"`
	Status       string                 `json:"status"`
	Reason       string                 `json:"reason,omitempty"`
	WatchedFiles int                    `json:"watched_files"`
	StartedAt    time.Time              `json:"started_at"`
	Uptime       string                 `json:"uptime"`
	Process      *metrics.ProcessSample `json:"process,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	info := Info{
		PID:        os.Getpid(),
		Generation: r.generation,
		Status:     "unwatched",
		StartedAt:  r.started,
		Uptime:     time.Since(r.started).Round(time.Millisecond).String(),
	}
	if w := r.state(); w != nil {
		info.Status = w.Status().String()
		info.Reason = w.Reason()
		info.WatchedFiles = len(w.Files())
	}
	if s, err := r.sampler.Sample(info.PID); err == nil {
		metrics.RecordChild(s)
		info.Process = &s
	}
	writeJSON(c, http.StatusOK, info)
}

func (r *Router) handleFiles(c *gin.Context) {
	w := r.state()
	if w == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "no watcher attached"})
		return
	}
	writeJSON(c, http.StatusOK, w.Files())
}

func (r *Router) handleScript(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8",
		[]byte(ReloadScript(r.basePath+"/livereload")))
}
