package runner

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DefaultDrainTimeout bounds graceful shutdown of in-flight requests.
const DefaultDrainTimeout = 5 * time.Second

type Config struct {
	Host         string
	Port         int
	TLS          *tls.Config
	DrainTimeout time.Duration
	Logger       *slog.Logger
	// OnShutdown hooks run in order when shutdown starts, e.g. to close
	// hijacked websocket connections that Shutdown does not track. Serve
	// returns only after all of them have finished.
	OnShutdown []func()
	// Listener, when set, is used instead of listening on Host:Port.
	Listener net.Listener
	// Ready receives the bound address once the listener is open.
	Ready func(addr net.Addr)
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Serve binds a listener and serves h until ctx is done. Cancellation drains
// in-flight requests for at most DrainTimeout and then closes the remaining
// connections. It returns nil when stopped by ctx, otherwise the listen or
// serve error.
func Serve(ctx context.Context, cfg Config, h http.Handler) error {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}

	ln := cfg.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", cfg.Addr())
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
		}
	}
	scheme := "http"
	if cfg.TLS != nil {
		ln = tls.NewListener(ln, cfg.TLS)
		scheme = "https"
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelDebug),
	}
	log.Info("serving", "addr", ln.Addr().String(), "url", scheme+"://"+ln.Addr().String())
	if cfg.Ready != nil {
		cfg.Ready(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Debug("shutting down", "cause", context.Cause(ctx))
	for _, f := range cfg.OnShutdown {
		f()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("drain timed out, closing connections", "timeout", drain, "error", err)
		_ = srv.Close()
	}
	<-errCh
	return nil
}
