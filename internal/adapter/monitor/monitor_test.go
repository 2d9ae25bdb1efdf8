//go:build unit

package monitor

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"golang-wifiprov/internal/pkg/metrics"
	"golang-wifiprov/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRejoiner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRejoiner) Rejoin(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *countingRejoiner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestMonitor_RetryBound(t *testing.T) {
	rejoiner := &countingRejoiner{}
	m := New(rejoiner, 5, 0, nil)
	m.Begin(context.Background(), types.RadioStation)

	for i := 1; i <= 4; i++ {
		m.HandleEvent(types.RadioEvent{Kind: types.EventDisconnected, Reason: "auth"})
		state := m.State()
		assert.Equal(t, types.PhaseAttempting, state.Phase, "after disconnect #%d", i)
		assert.Equal(t, i, state.RetryCount)
	}
	assert.Equal(t, 4, rejoiner.Calls())

	m.HandleEvent(types.RadioEvent{Kind: types.EventDisconnected, Reason: "auth"})
	state := m.State()
	assert.Equal(t, types.PhaseFailed, state.Phase)
	assert.Equal(t, 5, state.RetryCount)
	assert.False(t, state.Connected)
	assert.Equal(t, 4, rejoiner.Calls(), "no rejoin after giving up")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	final, err := m.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseFailed, final.Phase)
}

func TestMonitor_Connected(t *testing.T) {
	rejoiner := &countingRejoiner{}
	m := New(rejoiner, 5, 0, nil)
	m.Begin(context.Background(), types.RadioStation)

	m.HandleEvent(types.RadioEvent{Kind: types.EventAssociated})
	assert.Equal(t, types.PhaseAttempting, m.State().Phase)

	m.HandleEvent(types.RadioEvent{Kind: types.EventDisconnected})
	addr := netip.MustParseAddr("192.168.1.50")
	m.HandleEvent(types.RadioEvent{Kind: types.EventGotAddress, Address: addr})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := m.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseConnected, state.Phase)
	assert.True(t, state.Connected)
	assert.Equal(t, addr, state.Address)
	assert.Equal(t, 1, state.RetryCount)

	t.Run("TerminalIgnoresEvents", func(t *testing.T) {
		m.HandleEvent(types.RadioEvent{Kind: types.EventDisconnected})
		state := m.State()
		assert.Equal(t, types.PhaseConnected, state.Phase)
		assert.Equal(t, 1, state.RetryCount)
		assert.Equal(t, 1, rejoiner.Calls())
	})
}

func TestMonitor_BeginResets(t *testing.T) {
	m := New(&countingRejoiner{}, 5, 0, nil)
	m.Begin(context.Background(), types.RadioStation)
	for i := 0; i < 5; i++ {
		m.HandleEvent(types.RadioEvent{Kind: types.EventDisconnected})
	}
	require.Equal(t, types.PhaseFailed, m.State().Phase)

	m.Begin(context.Background(), types.RadioStation)
	state := m.State()
	assert.Equal(t, types.PhaseAttempting, state.Phase)
	assert.Zero(t, state.RetryCount)
	assert.False(t, state.Address.IsValid())
}

func TestMonitor_JoinTimeout(t *testing.T) {
	rejoiner := &countingRejoiner{}
	m := New(rejoiner, 3, 20*time.Millisecond, nil)
	m.Begin(context.Background(), types.RadioStation)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := m.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseFailed, state.Phase)
	assert.Equal(t, 3, state.RetryCount)
	assert.Equal(t, 2, rejoiner.Calls())
}

func TestMonitor_SlowAddressPhase(t *testing.T) {
	rejoiner := &countingRejoiner{}
	m := New(rejoiner, 5, 50*time.Millisecond, nil)
	m.Begin(context.Background(), types.RadioStation)

	// Each attempt associates, then the lease takes longer than the join
	// timeout before failing.
	for i := 1; i <= 4; i++ {
		m.HandleEvent(types.RadioEvent{Kind: types.EventAssociated})
		time.Sleep(120 * time.Millisecond)
		m.HandleEvent(types.RadioEvent{Kind: types.EventDisconnected, Reason: "dhcp: timeout"})

		state := m.State()
		require.Equal(t, types.PhaseAttempting, state.Phase, "after disconnect #%d", i)
		assert.Equal(t, i, state.RetryCount)
	}

	m.HandleEvent(types.RadioEvent{Kind: types.EventAssociated})
	m.HandleEvent(types.RadioEvent{Kind: types.EventDisconnected, Reason: "dhcp: timeout"})
	state := m.State()
	assert.Equal(t, types.PhaseFailed, state.Phase)
	assert.Equal(t, 5, state.RetryCount)
	assert.Equal(t, 4, rejoiner.Calls())
}

func TestMonitor_RejoinErrorKeepsCounting(t *testing.T) {
	rejoiner := &countingRejoiner{err: types.ErrRadioModeConflict}
	m := New(rejoiner, 2, 0, nil)
	m.Begin(context.Background(), types.RadioStation)

	m.HandleEvent(types.RadioEvent{Kind: types.EventDisconnected})
	assert.Equal(t, types.PhaseAttempting, m.State().Phase)
	m.HandleEvent(types.RadioEvent{Kind: types.EventDisconnected})
	assert.Equal(t, types.PhaseFailed, m.State().Phase)
}

func TestMonitor_Wait(t *testing.T) {
	t.Run("NotBegun", func(t *testing.T) {
		m := New(&countingRejoiner{}, 5, 0, nil)
		_, err := m.Wait(context.Background())
		assert.Error(t, err)
	})

	t.Run("ContextDone", func(t *testing.T) {
		m := New(&countingRejoiner{}, 5, 0, nil)
		m.Begin(context.Background(), types.RadioStation)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		state, err := m.Wait(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, types.PhaseAttempting, state.Phase)
		m.Cancel()
	})
}

func TestMonitor_Metrics(t *testing.T) {
	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	m := New(&countingRejoiner{}, 1, 0, collector)
	m.Begin(context.Background(), types.RadioStation)
	m.HandleEvent(types.RadioEvent{Kind: types.EventDisconnected})

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ConnectivityResults.WithLabelValues("failed")))
}
