// Package restart implements the ways the daemon can start its lifecycle over.
package restart

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/port"
)

// Modes accepted by New.
const (
	ModeReboot = "reboot"
	ModeExit   = "exit"
	ModeSoft   = "soft"
)

// New returns the restarter for mode. delay is waited before restarting so
// the last status line stays readable.
func New(mode string, delay time.Duration) (port.Restarter, error) {
	switch strings.ToLower(mode) {
	case ModeReboot:
		return &Reboot{delay: delay, reboot: reboot}, nil
	case ModeExit:
		return &Exit{delay: delay, exit: os.Exit}, nil
	case ModeSoft:
		return &Soft{delay: delay}, nil
	default:
		return nil, fmt.Errorf("unknown restart mode %q", mode)
	}
}

// Reboot restarts the whole device.
type Reboot struct {
	delay  time.Duration
	reboot func() error
}

var _ port.Restarter = (*Reboot)(nil)

// Restart syncs file systems and reboots. It only returns on failure.
func (r *Reboot) Restart(ctx context.Context, reason string) error {
	if err := wait(ctx, r.delay); err != nil {
		return err
	}
	logging.WithComponent("restart").WithField("reason", reason).Warn("Rebooting device")
	if err := r.reboot(); err != nil {
		return fmt.Errorf("reboot failed: %w", err)
	}
	return nil
}

// Exit terminates the process and leaves restarting to the service supervisor.
type Exit struct {
	delay time.Duration
	exit  func(code int)
	code  int
}

var _ port.Restarter = (*Exit)(nil)

// Restart exits the process with a non-zero status.
func (e *Exit) Restart(ctx context.Context, reason string) error {
	if err := wait(ctx, e.delay); err != nil {
		return err
	}
	logging.WithComponent("restart").WithField("reason", reason).Warn("Exiting for supervisor restart")
	code := e.code
	if code == 0 {
		code = 1
	}
	e.exit(code)
	return nil
}

// Soft restarts in process: Restart returns nil and the caller runs its boot
// sequence again.
type Soft struct {
	delay time.Duration
}

var _ port.Restarter = (*Soft)(nil)

// NewSoft creates an in-process restarter.
func NewSoft(delay time.Duration) *Soft {
	return &Soft{delay: delay}
}

// Restart waits for the configured delay.
func (s *Soft) Restart(ctx context.Context, reason string) error {
	if err := wait(ctx, s.delay); err != nil {
		return err
	}
	logging.WithComponent("restart").WithField("reason", reason).Info("Restarting boot sequence")
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
