// Package devsrv serves an http.Handler for development and, with reloading
// enabled, restarts the whole process whenever one of its source files
// changes.
//
// A program embeds it like this:
//
//	func main() {
//		os.Exit(devsrv.Main(app.Handler(), devsrv.Options{}))
//	}
//
// With Reload set the first invocation becomes the supervisor: it re-executes
// the program as an inner process, keeps a liveness token fresh and respawns
// the inner process whenever it asks for a reload.
package devsrv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/loykin/devsrv/internal/config"
	"github.com/loykin/devsrv/internal/history"
	"github.com/loykin/devsrv/internal/history/factory"
	"github.com/loykin/devsrv/internal/loader"
	"github.com/loykin/devsrv/internal/logger"
	"github.com/loykin/devsrv/internal/metrics"
	"github.com/loykin/devsrv/internal/middleware"
	"github.com/loykin/devsrv/internal/process"
	"github.com/loykin/devsrv/internal/runner"
	"github.com/loykin/devsrv/internal/server"
	"github.com/loykin/devsrv/internal/supervisor"
	devtls "github.com/loykin/devsrv/internal/tls"
	"github.com/loykin/devsrv/internal/watcher"
)

// Re-exported so embedding programs can build configurations without
// reaching into internal packages.
type (
	Config        = config.Config
	HandlerConfig = config.HandlerConfig
	LogConfig     = logger.Config
	TLSConfig     = devtls.Config
)

// Exit codes returned by Run and Main.
const (
	ExitOK      = supervisor.ExitOK
	ExitFailure = supervisor.ExitFailure
)

// LoadConfig merges defaults, the TOML file at path (or devsrv.toml when
// present), DEVSRV_* variables and the given flags.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	return config.Load(path, flags)
}

// AddImage adds a compiled artifact whose sources are watched for changes,
// for programs that load plugins themselves.
func AddImage(path string) { watcher.AddImage(path) }

type Options struct {
	// Config defaults to LoadConfig("", nil).
	Config *Config
	// Command is what the supervisor re-executes. It defaults to the running
	// executable with the current arguments.
	Command []string
	Stdout  io.Writer
	Stderr  io.Writer
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// Listener replaces listening on the configured address.
	Listener net.Listener
	// Ready is called with the bound address.
	Ready func(net.Addr)
}

// Main runs until SIGINT or SIGTERM and returns the exit code.
func Main(app http.Handler, opts Options) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	code, err := Run(ctx, app, opts)
	if err != nil {
		_, _ = fmt.Fprintln(stderrOf(opts), "devsrv:", err)
	}
	return code
}

// Run serves app, or the handler named in the configuration when app is
// nil. In a supervised inner process the returned code may be the reload
// sentinel; the supervisor never returns it.
func Run(ctx context.Context, app http.Handler, opts Options) (int, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load("", nil); err != nil {
			return ExitFailure, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return ExitFailure, err
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	child, isChild := supervisor.ChildFromEnv(lookup)

	logCfg := cfg.Log
	if isChild && logCfg.File.Path != "" {
		// The supervisor copies the inner process output into the file.
		logCfg.File = logger.FileConfig{}
		logCfg.Color = false
	}
	lg, err := logger.New(logCfg, stderrOf(opts))
	if err != nil {
		return ExitFailure, err
	}
	defer func() { _ = lg.Close() }()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		lg.Warn("metrics registration failed", "error", err)
	}

	if cfg.Reload && !isChild {
		return supervise(ctx, cfg, opts, lg)
	}
	return serve(ctx, app, cfg, opts, lg.Logger, child, isChild)
}

func supervise(ctx context.Context, cfg *Config, opts Options, lg *logger.Logger) (int, error) {
	command := opts.Command
	if len(command) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return ExitFailure, fmt.Errorf("locate executable: %w", err)
		}
		command = append([]string{exe}, os.Args[1:]...)
	}
	environ, err := cfg.ChildEnv()
	if err != nil {
		return ExitFailure, err
	}

	var sink history.Sink
	if cfg.History != "" {
		if sink, err = factory.NewSinkFromDSN(cfg.History); err != nil {
			return ExitFailure, fmt.Errorf("history sink: %w", err)
		}
		defer func() { _ = factory.Close(sink) }()
	}

	stdout, stderr := stdoutOf(opts), stderrOf(opts)
	if f := lg.File(); f != nil {
		stdout, stderr = io.MultiWriter(stdout, f), io.MultiWriter(stderr, f)
	}
	return supervisor.Supervise(ctx, supervisor.Config{
		Command:     command,
		Interval:    cfg.Interval,
		Env:         environ,
		Build:       process.ParseCommand(cfg.Build),
		StopTimeout: cfg.StopTimeout,
		Sink:        sink,
		Logger:      lg.Logger,
		Stdout:      stdout,
		Stderr:      stderr,
	})
}

func serve(ctx context.Context, app http.Handler, cfg *Config, opts Options, log *slog.Logger, child supervisor.ChildEnv, isChild bool) (int, error) {
	if app == nil {
		// Plugins must be open before the watcher snapshots the images.
		h, err := loader.Load(loader.Spec{
			Plugin: cfg.Handler.Plugin,
			Symbol: cfg.Handler.Symbol,
			Proxy:  cfg.Handler.Proxy,
			Dir:    cfg.Handler.Dir,
			Logger: log,
		})
		if err != nil {
			return ExitFailure, err
		}
		app = h
	}

	tlsCfg := cfg.TLS
	if tlsCfg.Enabled {
		tlsCfg.Hosts = append(tlsCfg.Hosts, cfg.Host)
	}
	tc, err := devtls.Setup(tlsCfg)
	if err != nil {
		return ExitFailure, fmt.Errorf("tls: %w", err)
	}

	router := server.NewRouter(server.Options{
		BasePath:   cfg.AdminPath,
		Generation: child.Generation,
		Logger:     log,
	})
	script := ""
	if cfg.LiveReload && isChild {
		script = router.ScriptURL()
	}
	decorated, report := middleware.Decorate(app, middleware.Options{
		Static:           cfg.Static,
		StaticRoot:       cfg.StaticRoot,
		StaticDirs:       cfg.StaticDirs,
		Profile:          cfg.Profile,
		ProfileFilter:    cfg.ProfileFilter,
		Validate:         cfg.CheckContract,
		LiveReloadScript: script,
		Logger:           log,
	})
	h := server.Mount(decorated, router.Handler(), router.BasePath())

	serveFn := func(ctx context.Context) error {
		defer report()
		return runner.Serve(ctx, runner.Config{
			Host:         cfg.Host,
			Port:         cfg.Port,
			TLS:          tc,
			DrainTimeout: cfg.StopTimeout,
			Logger:       log,
			OnShutdown:   []func(){router.Shutdown},
			Listener:     opts.Listener,
			Ready:        opts.Ready,
		}, h)
	}

	if isChild {
		code := supervisor.RunChild(ctx, supervisor.ChildConfig{
			Child:       child,
			Interval:    cfg.Interval,
			Extra:       cfg.Watch,
			IncludeDeps: cfg.IncludeDeps,
			Notify:      cfg.Notify,
			Logger:      log,
			OnWatch:     func(w *watcher.Watcher) { router.Attach(w) },
		}, serveFn)
		return code, nil
	}

	if err := serveFn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return ExitFailure, err
	}
	return ExitOK, nil
}

func stdoutOf(o Options) io.Writer {
	if o.Stdout != nil {
		return o.Stdout
	}
	return os.Stdout
}

func stderrOf(o Options) io.Writer {
	if o.Stderr != nil {
		return o.Stderr
	}
	return os.Stderr
}
