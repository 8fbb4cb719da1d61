package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/devsrv/internal/liveness"
	"github.com/loykin/devsrv/internal/metrics"
)

var (
	// ErrChangeDetected is the cancellation cause when a tracked file changed
	// or disappeared.
	ErrChangeDetected = errors.New("source change detected")
	// ErrStaleLiveness is the cancellation cause when the liveness token is
	// missing or has not been refreshed in time.
	ErrStaleLiveness = errors.New("liveness token missing or stale")

	ErrInvalidInterval = errors.New("watch interval must be positive")
	ErrNoToken         = errors.New("liveness token path is required")
)

type Config struct {
	TokenPath string
	Interval  time.Duration
	// Cancel is invoked once, with ErrChangeDetected or ErrStaleLiveness as
	// cause, when the watcher leaves Running on its own.
	Cancel      context.CancelCauseFunc
	Extra       []string
	IncludeDeps bool
	// Notify registers OS change notifications that wake the poller early.
	Notify bool
	Logger *slog.Logger

	// Paths replaces image enumeration when non-nil.
	Paths []string
}

// Watcher polls a snapshot of the program's source files and the liveness
// token in the background.
type Watcher struct {
	cfg    Config
	log    *slog.Logger
	token  *liveness.Token
	files  FileSet
	status statusCell

	mu     sync.Mutex
	reason string

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	notifier *notifier
}

// Start takes the snapshot synchronously and then launches the polling
// goroutine. The snapshot is complete when Start returns.
func Start(ctx context.Context, cfg Config) (*Watcher, error) {
	if cfg.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if cfg.TokenPath == "" {
		return nil, ErrNoToken
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "watcher")

	paths := cfg.Paths
	if paths == nil {
		var err error
		paths, err = CollectPaths(CollectOptions{Extra: cfg.Extra, IncludeDeps: cfg.IncludeDeps})
		if err != nil {
			log.Warn("some images could not be inspected", "error", err)
		}
	}

	w := &Watcher{
		cfg:   cfg,
		log:   log,
		token: liveness.Open(cfg.TokenPath),
		files: Snapshot(paths),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	metrics.SetWatchedFiles(w.files.Len())
	log.Debug("snapshot taken", "files", w.files.Len(), "interval", cfg.Interval)

	if cfg.Notify {
		n, err := startNotifier(w.files.Paths(), w.wake, log)
		if err != nil {
			log.Warn("change notifications unavailable, polling only", "error", err)
		} else {
			w.notifier = n
		}
	}

	go w.run(ctx)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
		if !w.poll(time.Now()) {
			return
		}
	}
}

// poll runs one liveness check and one change check. It reports whether the
// watcher is still running afterwards.
func (w *Watcher) poll(now time.Time) bool {
	if w.status.load() != Running {
		return false
	}
	metrics.IncPoll()
	if err := w.token.Check(now, w.cfg.Interval); err != nil {
		w.finish(Error, ErrStaleLiveness, err.Error())
		return false
	}
	if path, changed := w.files.Changed(); changed {
		w.finish(Reload, ErrChangeDetected, path)
		return false
	}
	return true
}

func (w *Watcher) finish(to Status, cause error, reason string) {
	if !w.status.leave(to) {
		return
	}
	w.mu.Lock()
	w.reason = reason
	w.mu.Unlock()
	metrics.RecordTransition(to.String())
	switch to {
	case Reload:
		w.log.Info("change detected, reloading", "path", reason)
	case Error:
		w.log.Warn("liveness lost", "token", w.cfg.TokenPath, "reason", reason)
	}
	if w.cfg.Cancel != nil {
		w.cfg.Cancel(fmt.Errorf("%w: %s", cause, reason))
	}
}

// Stop marks the watcher Exit if it is still running, then stops the polling
// goroutine and waits for it. It is safe to call more than once.
func (w *Watcher) Stop() {
	if w.status.leave(Exit) {
		metrics.RecordTransition(Exit.String())
	}
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
	if w.notifier != nil {
		w.notifier.close()
	}
}

// Done is closed once the polling goroutine has returned.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) Status() Status { return w.status.load() }

// Reason describes what moved the watcher out of Running: the changed path or
// the liveness failure. It is empty for Running and Exit.
func (w *Watcher) Reason() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}

// Files returns the tracked paths.
func (w *Watcher) Files() []string { return w.files.Paths() }
