package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loykin/devsrv/internal/watcher"
)

// ServeFunc binds and serves until ctx is done. It should return nil when it
// stopped because ctx was cancelled.
type ServeFunc func(ctx context.Context) error

// ChildConfig configures the inner process side of a session.
type ChildConfig struct {
	Child       ChildEnv
	Interval    time.Duration
	Extra       []string
	IncludeDeps bool
	Notify      bool
	Logger      *slog.Logger
	// OnWatch is called with the running watcher after the snapshot and
	// before serving starts.
	OnWatch func(*watcher.Watcher)
	// Paths overrides image enumeration for the watcher.
	Paths []string
}

// RunChild starts the change watcher, then serves until either the watcher
// or ctx cancels the serving context, and maps the outcome to an exit code:
// ExitReload for a detected change or a lost heartbeat, ExitOK for an
// operator interrupt, ExitFailure (after one interval of cool-down) for a
// serving error.
func RunChild(ctx context.Context, cfg ChildConfig, serve ServeFunc) int {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("role", "child", "generation", cfg.Child.Generation)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	w, err := watcher.Start(runCtx, watcher.Config{
		TokenPath:   cfg.Child.Token,
		Interval:    cfg.Interval,
		Cancel:      cancel,
		Extra:       cfg.Extra,
		IncludeDeps: cfg.IncludeDeps,
		Notify:      cfg.Notify,
		Logger:      log,
		Paths:       cfg.Paths,
	})
	if err != nil {
		log.Error("cannot start change watcher", "error", err)
		return ExitFailure
	}
	defer w.Stop()
	if cfg.OnWatch != nil {
		cfg.OnWatch(w)
	}

	serveErr := serve(runCtx)
	w.Stop()

	switch w.Status() {
	case watcher.Reload, watcher.Error:
		log.Debug("restart requested", "status", w.Status().String(), "reason", w.Reason())
		return ExitReload
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		log.Error("serving failed", "error", serveErr)
		t := time.NewTimer(cfg.Interval)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
		return ExitFailure
	}
	return ExitOK
}
