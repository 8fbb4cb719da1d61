package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/devsrv/internal/env"
	"github.com/loykin/devsrv/internal/history"
	"github.com/loykin/devsrv/internal/liveness"
	"github.com/loykin/devsrv/internal/metrics"
	"github.com/loykin/devsrv/internal/process"
)

// DefaultStopTimeout bounds how long an interrupted inner process may take to
// exit before it is killed.
const DefaultStopTimeout = 5 * time.Second

var ErrInvalidInterval = errors.New("reload interval must be positive")

// Config describes a supervision session.
type Config struct {
	// Command is re-executed for every inner process.
	Command []string
	// Interval is the heartbeat period. The inner process treats the token as
	// stale after Interval plus liveness.Grace.
	Interval time.Duration
	// Env holds extra "K=V" pairs for the inner process.
	Env []string
	Dir string
	// TokenDir is where the liveness token is created; empty means the
	// system temp dir.
	TokenDir string
	// Build, when set, runs before every spawn. A failing build is logged and
	// the previous artifact is used.
	Build       []string
	StopTimeout time.Duration
	Sink        history.Sink
	Logger      *slog.Logger
	Stdout      io.Writer
	Stderr      io.Writer
}

type session struct {
	cfg     Config
	log     *slog.Logger
	token   *liveness.Token
	sampler *metrics.Sampler
}

// Supervise runs the restart loop. It spawns cfg.Command, keeps the liveness
// token fresh while the inner process lives, respawns it whenever it exits
// with ExitReload and returns the first other exit code. Cancelling ctx stops
// the inner process and returns ExitOK. The token is removed on every path.
func Supervise(ctx context.Context, cfg Config) (int, error) {
	if len(cfg.Command) == 0 {
		return ExitFailure, process.ErrEmptyCommand
	}
	if cfg.Interval <= 0 {
		return ExitFailure, ErrInvalidInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("role", "supervisor")

	token, err := liveness.Create(cfg.TokenDir)
	if err != nil {
		return ExitFailure, err
	}
	defer func() {
		if err := token.Remove(); err != nil {
			log.Warn("failed to remove liveness token", "token", token.Path(), "error", err)
		}
	}()
	log.Debug("liveness token created", "token", token.Path(), "interval", cfg.Interval)

	s := &session{cfg: cfg, log: log, token: token, sampler: metrics.NewSampler()}
	return s.loop(ctx)
}

func (s *session) loop(ctx context.Context) (int, error) {
	for gen := 1; s.token.Exists(); gen++ {
		if ctx.Err() != nil {
			return ExitOK, nil
		}
		if len(s.cfg.Build) > 0 {
			s.build(ctx, gen)
			if ctx.Err() != nil {
				return ExitOK, nil
			}
		}
		// Fresh heartbeat right before the inner process starts checking it.
		if err := s.token.Touch(); err != nil {
			break
		}
		code, interrupted, err := s.runOnce(ctx, gen)
		if err != nil {
			return ExitFailure, err
		}
		if interrupted {
			return ExitOK, nil
		}
		if code != ExitReload {
			return code, nil
		}
	}
	s.log.Info("liveness token removed, ending session", "token", s.token.Path())
	return ExitOK, nil
}

// runOnce spawns one inner process and waits for it while refreshing the
// token. interrupted is true when ctx was cancelled.
func (s *session) runOnce(ctx context.Context, gen int) (code int, interrupted bool, err error) {
	child := ChildEnv{Token: s.token.Path(), Generation: gen}
	environ := env.New().FromOS().
		DropPrefix(EnvChild).DropPrefix(EnvToken).DropPrefix(EnvGeneration).
		Merge(append(append([]string{}, s.cfg.Env...), child.Environ()...))

	p, err := process.Start(process.Spec{
		Argv:   s.cfg.Command,
		Env:    environ,
		Dir:    s.cfg.Dir,
		Stdout: s.cfg.Stdout,
		Stderr: s.cfg.Stderr,
	})
	if err != nil {
		return ExitFailure, false, fmt.Errorf("spawn inner process: %w", err)
	}
	rec := history.Record{Session: s.token.Path(), Generation: gen, PID: p.PID()}
	metrics.IncSpawn()
	history.Emit(ctx, s.cfg.Sink, s.log, history.EventSpawn, rec)
	s.log.Debug("inner process started", "pid", p.PID(), "generation", gen)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	refreshing := true
	for {
		select {
		case <-p.Done():
			rec.ExitCode = p.ExitCode()
			metrics.IncExit(rec.ExitCode)
			if rec.ExitCode == ExitReload {
				metrics.IncReload()
				s.log.Info("reloading", "generation", gen+1)
				history.Emit(ctx, s.cfg.Sink, s.log, history.EventReload, rec)
			} else {
				s.log.Debug("inner process exited", "pid", rec.PID, "exit_code", rec.ExitCode)
				history.Emit(ctx, s.cfg.Sink, s.log, history.EventExit, rec)
			}
			return rec.ExitCode, false, nil

		case <-ticker.C:
			if refreshing {
				if err := s.token.Touch(); err != nil {
					// The inner process notices the missing token on its own.
					s.log.Warn("cannot refresh liveness token", "error", err)
					refreshing = false
				}
			}
			if sample, err := s.sampler.Sample(rec.PID); err == nil {
				metrics.RecordChild(sample)
			}

		case <-ctx.Done():
			s.log.Info("interrupted, stopping inner process", "pid", rec.PID)
			if err := p.Stop(s.cfg.StopTimeout); err != nil {
				s.log.Warn("inner process did not stop cleanly", "pid", rec.PID, "error", err)
			}
			rec.ExitCode = p.ExitCode()
			rec.Reason = "interrupted"
			metrics.IncExit(rec.ExitCode)
			history.Emit(ctx, s.cfg.Sink, s.log, history.EventExit, rec)
			return rec.ExitCode, true, nil
		}
	}
}
