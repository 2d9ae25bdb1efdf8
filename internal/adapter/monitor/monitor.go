// Package monitor tracks one station connection attempt and applies the
// retry policy to radio events.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/pkg/metrics"
	"golang-wifiprov/internal/types"

	"github.com/sirupsen/logrus"
)

// Rejoiner re-issues a join of the configured network.
type Rejoiner interface {
	Rejoin(ctx context.Context) error
}

// Monitor is the connectivity state machine. HandleEvent may be called from
// any goroutine.
type Monitor struct {
	rejoiner    Rejoiner
	maxRetries  int
	joinTimeout time.Duration
	metrics     *metrics.Collector

	mu      sync.Mutex
	ctx     context.Context
	state   types.ConnectivityState
	done    chan struct{}
	timer   *time.Timer
	timerID uint64
}

// New creates a monitor that gives up after maxRetries failed joins. A join
// that is neither associated nor failed within joinTimeout counts as failed;
// zero disables the timeout.
func New(rejoiner Rejoiner, maxRetries int, joinTimeout time.Duration, collector *metrics.Collector) *Monitor {
	return &Monitor{
		rejoiner:    rejoiner,
		maxRetries:  maxRetries,
		joinTimeout: joinTimeout,
		metrics:     collector,
	}
}

// Begin starts tracking a fresh attempt. ctx bounds the rejoins issued on
// behalf of this attempt.
func (m *Monitor) Begin(ctx context.Context, mode types.RadioMode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disarm()
	m.ctx = ctx
	m.state = types.ConnectivityState{Mode: mode, Phase: types.PhaseAttempting}
	m.done = make(chan struct{})
	m.arm()

	m.logger().Info("Tracking connection attempt")
}

// HandleEvent applies one radio event. Events after a terminal phase are
// ignored.
func (m *Monitor) HandleEvent(event types.RadioEvent) {
	m.mu.Lock()
	if m.done == nil || m.state.Phase.Terminal() {
		m.mu.Unlock()
		return
	}

	logger := m.logger().WithField("event", event.Kind.String())

	switch event.Kind {
	case types.EventAssociated:
		// The driver bounds the address phase and reports its outcome.
		m.disarm()
		m.mu.Unlock()
		logger.Info("Associated with access point")
		return

	case types.EventGotAddress:
		m.disarm()
		m.state.Phase = types.PhaseConnected
		m.state.Connected = true
		m.state.Address = event.Address
		close(m.done)
		m.mu.Unlock()

		logger.WithField("address", event.Address.String()).Info("Got address")
		m.metrics.ConnectivityResult(types.PhaseConnected)
		return

	case types.EventDisconnected:
		m.failAttemptLocked(event.Reason)
		return

	default:
		m.mu.Unlock()
		logger.Warn("Ignoring unknown radio event")
	}
}

// failAttemptLocked counts a failed join and either gives up or rejoins.
// It must be called with mu held and releases it.
func (m *Monitor) failAttemptLocked(reason string) {
	m.state.RetryCount++
	retries := m.state.RetryCount
	logger := m.logger().WithFields(logrus.Fields{
		"reason":  reason,
		"retries": retries,
		"limit":   m.maxRetries,
	})

	if retries >= m.maxRetries {
		m.disarm()
		m.state.Phase = types.PhaseFailed
		close(m.done)
		m.mu.Unlock()

		logger.Warn("Giving up on network")
		m.metrics.ConnectivityResult(types.PhaseFailed)
		return
	}

	m.arm()
	ctx := m.ctx
	m.mu.Unlock()

	logger.Info("Join failed, retrying")
	if err := m.rejoiner.Rejoin(ctx); err != nil {
		logger.WithError(err).Warn("Rejoin was not issued")
	}
}

// Wait blocks until the attempt reaches a terminal phase or ctx is done.
func (m *Monitor) Wait(ctx context.Context) (types.ConnectivityState, error) {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if done == nil {
		return types.ConnectivityState{}, errors.New("no connection attempt in progress")
	}

	select {
	case <-done:
		return m.State(), nil
	case <-ctx.Done():
		return m.State(), ctx.Err()
	}
}

// State returns a snapshot of the current state.
func (m *Monitor) State() types.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Cancel disarms the join timer of an attempt that is being abandoned.
func (m *Monitor) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarm()
}

func (m *Monitor) arm() {
	m.disarm()
	if m.joinTimeout <= 0 {
		return
	}
	id := m.timerID
	m.timer = time.AfterFunc(m.joinTimeout, func() { m.timeout(id) })
}

func (m *Monitor) disarm() {
	m.timerID++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) timeout(id uint64) {
	m.mu.Lock()
	if id != m.timerID || m.done == nil || m.state.Phase.Terminal() {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.failAttemptLocked("join timeout")
}

func (m *Monitor) logger() *logrus.Entry {
	return logging.WithComponent("monitor").WithField("mode", m.state.Mode.String())
}
