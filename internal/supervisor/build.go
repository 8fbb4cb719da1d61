package supervisor

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/loykin/devsrv/internal/history"
	"github.com/loykin/devsrv/internal/metrics"
	"github.com/loykin/devsrv/internal/process"
)

// build runs the build hook once. Failures are logged and counted; the next
// spawn uses whatever artifact is on disk.
func (s *session) build(ctx context.Context, gen int) {
	start := time.Now()
	rec := history.Record{Session: s.token.Path(), Generation: gen}
	p, err := process.Start(process.Spec{
		Argv:   s.cfg.Build,
		Env:    os.Environ(),
		Dir:    s.cfg.Dir,
		Stdout: s.cfg.Stdout,
		Stderr: s.cfg.Stderr,
	})
	if err != nil {
		metrics.IncBuildFailure()
		s.log.Error("build failed to start", "command", s.cfg.Build, "error", err)
		rec.ExitCode, rec.Reason = ExitFailure, err.Error()
		history.Emit(ctx, s.cfg.Sink, s.log, history.EventBuild, rec)
		return
	}
	rec.PID = p.PID()

	code, err := p.Wait(ctx)
	if err != nil {
		_ = p.Stop(s.cfg.StopTimeout)
		return
	}
	elapsed := time.Since(start)
	metrics.ObserveBuildDuration(elapsed.Seconds())
	rec.ExitCode = code
	if code != 0 {
		metrics.IncBuildFailure()
		rec.Reason = "exit status " + strconv.Itoa(code)
		s.log.Error("build failed, keeping previous artifact", "exit_code", code, "duration", elapsed.Round(time.Millisecond))
	} else {
		s.log.Info("build finished", "duration", elapsed.Round(time.Millisecond))
	}
	history.Emit(ctx, s.cfg.Sink, s.log, history.EventBuild, rec)
}
