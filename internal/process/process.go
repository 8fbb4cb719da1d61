package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

var ErrEmptyCommand = errors.New("empty command")

// Process is a spawned child placed in its own process group. A single
// goroutine reaps it; Done is closed once it has exited.
type Process struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	exitErr error
	code    int
}

// Start spawns spec.Argv.
func Start(spec Spec) (*Process, error) {
	if len(spec.Argv) == 0 {
		return nil, ErrEmptyCommand
	}
	// #nosec G204
	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	configureSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Argv[0], err)
	}
	p := &Process{cmd: cmd, done: make(chan struct{})}
	go p.reap()
	return p, nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = exitCode(p.cmd.ProcessState)
	}
	p.mu.Lock()
	p.exitErr = err
	p.code = code
	p.mu.Unlock()
	close(p.done)
}

func (p *Process) PID() int { return p.cmd.Process.Pid }

// Done is closed when the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode is valid after Done is closed. Signal deaths map to 128+signo.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

// Err returns the error reported by Wait, nil for a zero exit.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.ExitCode(), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Alive reports whether the process has not been reaped yet.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return processExists(p.PID())
	}
}

// Stop asks the process group to terminate and escalates to a kill when it
// has not exited within wait. It returns once the process is reaped or the
// kill grace has passed.
func (p *Process) Stop(wait time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	pid := p.PID()
	_ = terminateGroup(pid)
	select {
	case <-p.done:
		return nil
	case <-time.After(wait):
	}
	killErr := killGroup(pid)
	select {
	case <-p.done:
		return nil
	case <-time.After(2 * time.Second):
		if killErr != nil {
			return fmt.Errorf("kill process group %d: %w", pid, killErr)
		}
		return fmt.Errorf("process %d not reaped after kill", pid)
	}
}

// Kill sends SIGKILL to the process group and waits briefly for the reaper.
func (p *Process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := killGroup(p.PID()); err != nil {
		return err
	}
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}
