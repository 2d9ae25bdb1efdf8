// Package process runs the external wireless tools.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/port"

	"github.com/sirupsen/logrus"
)

const defaultStopGrace = 5 * time.Second

// RunnerAdapter is an adapter that implements the ProcessRunner port using os/exec.
type RunnerAdapter struct {
	stopGrace time.Duration
}

// Ensure RunnerAdapter implements the ProcessRunner port
var _ port.ProcessRunner = (*RunnerAdapter)(nil)

// NewRunnerAdapter creates a new process runner adapter.
func NewRunnerAdapter() *RunnerAdapter {
	return &RunnerAdapter{stopGrace: defaultStopGrace}
}

// Run executes a program to completion and returns its combined output.
func (r *RunnerAdapter) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s failed: %w", name, err)
	}
	return out, nil
}

// Start launches a long-running program. Its output is logged at debug level.
// The process outlives ctx; use Stop to end it.
func (r *RunnerAdapter) Start(ctx context.Context, name string, args ...string) (port.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := logging.WithComponent("process").WithField("cmd", name)
	out := logger.WriterLevel(logrus.DebugLevel)

	cmd := exec.Command(name, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	// Children that keep the output pipe open must not block Wait.
	cmd.WaitDelay = time.Second
	if err := cmd.Start(); err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	p := &Process{
		cmd:       cmd,
		name:      name,
		out:       out,
		stopGrace: r.stopGrace,
		done:      make(chan struct{}),
	}
	go p.wait()

	logger.WithField("pid", cmd.Process.Pid).Debug("Process started")
	return p, nil
}

// Process is a started program.
type Process struct {
	cmd       *exec.Cmd
	name      string
	out       io.Closer
	stopGrace time.Duration

	done     chan struct{}
	err      error
	stopOnce sync.Once
	stopErr  error
}

var _ port.Process = (*Process)(nil)

func (p *Process) wait() {
	p.err = p.cmd.Wait()
	_ = p.out.Close()

	logger := logging.WithComponent("process").WithFields(logrus.Fields{
		"cmd": p.name,
		"pid": p.cmd.Process.Pid,
	})
	if p.err != nil {
		logger.WithError(p.err).Debug("Process exited")
	} else {
		logger.Debug("Process exited")
	}
	close(p.done)
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Stop sends SIGTERM, then SIGKILL if the process is still running after
// the grace period, and waits for it to exit.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			if errors.Is(err, os.ErrProcessDone) {
				<-p.done
				return
			}
			p.stopErr = fmt.Errorf("failed to signal %s: %w", p.name, err)
		}

		t := time.NewTimer(p.stopGrace)
		defer t.Stop()
		select {
		case <-p.done:
		case <-t.C:
			logging.WithComponent("process").WithField("cmd", p.name).Warn("Process ignored SIGTERM, killing")
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	})
	return p.stopErr
}
