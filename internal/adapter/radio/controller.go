// Package radio owns the radio driver and keeps access point and station
// mode mutually exclusive.
package radio

import (
	"context"
	"fmt"
	"sync"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/pkg/metrics"
	"golang-wifiprov/internal/port"
	"golang-wifiprov/internal/types"
)

// Handle identifies one started mode. It is only valid until that mode is
// stopped.
type Handle struct {
	mode types.RadioMode
	gen  uint64
}

// Mode returns the mode the handle was issued for.
func (h *Handle) Mode() types.RadioMode {
	return h.mode
}

// Controller serializes mode transitions on a single radio driver.
type Controller struct {
	driver  port.RadioDriver
	ap      types.APConfig
	metrics *metrics.Collector

	// opMu serializes driver start/stop calls, mu guards the fields below.
	opMu     sync.Mutex
	mu       sync.Mutex
	mode     types.RadioMode
	gen      uint64
	stopping bool
}

// NewController creates a controller. ap supplies the channel, client limit
// and address used for every access point started through it.
func NewController(driver port.RadioDriver, ap types.APConfig, collector *metrics.Collector) *Controller {
	return &Controller{
		driver:  driver,
		ap:      ap,
		metrics: collector,
	}
}

// Mode returns the active radio mode.
func (c *Controller) Mode() types.RadioMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// StartAccessPoint brings up an access point. An empty passphrase starts an
// open network.
func (c *Controller) StartAccessPoint(ctx context.Context, ssid, passphrase string) (*Handle, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.checkIdle(types.RadioAccessPoint); err != nil {
		return nil, err
	}

	cfg := c.ap
	cfg.SSID = ssid
	cfg.Passphrase = passphrase

	logger := logging.WithComponent("radio").WithFields(map[string]interface{}{
		"ssid":    ssid,
		"channel": cfg.Channel,
		"open":    passphrase == "",
	})
	logger.Info("Starting access point")

	if err := c.driver.StartAccessPoint(ctx, cfg); err != nil {
		c.cleanup(ctx)
		return nil, fmt.Errorf("%w: start access point: %v", types.ErrRadioHardwareInit, err)
	}

	return c.activate(types.RadioAccessPoint), nil
}

// StartStation brings the radio up as a station and initiates a join of
// ssid. It returns once the join is under way; events are delivered to
// handler until the returned handle is stopped.
func (c *Controller) StartStation(ctx context.Context, ssid, passphrase string, handler port.EventHandler) (*Handle, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.checkIdle(types.RadioStation); err != nil {
		return nil, err
	}

	logging.WithComponent("radio").WithField("ssid", ssid).Info("Starting station")

	c.mu.Lock()
	gen := c.gen + 1
	c.mu.Unlock()

	cfg := types.StationConfig{SSID: ssid, Passphrase: passphrase}
	if err := c.driver.StartStation(ctx, cfg, c.guard(gen, handler)); err != nil {
		c.cleanup(ctx)
		return nil, fmt.Errorf("%w: start station: %v", types.ErrRadioHardwareInit, err)
	}

	c.metrics.JoinAttempted()
	return c.activate(types.RadioStation), nil
}

// Rejoin re-issues a join of the configured network. It fails with
// ErrRadioModeConflict unless station mode is active.
func (c *Controller) Rejoin(ctx context.Context) error {
	c.mu.Lock()
	active := c.mode == types.RadioStation && !c.stopping
	c.mu.Unlock()
	if !active {
		return fmt.Errorf("%w: rejoin requires station mode", types.ErrRadioModeConflict)
	}

	c.metrics.JoinAttempted()
	if err := c.driver.Join(ctx); err != nil {
		return fmt.Errorf("%w: rejoin: %v", types.ErrRadioHardwareInit, err)
	}
	return nil
}

// Stop tears down the mode identified by h.
func (c *Controller) Stop(ctx context.Context, h *Handle) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if h == nil || c.mode == types.RadioIdle || h.gen != c.gen || h.mode != c.mode {
		active := c.mode
		c.mu.Unlock()
		return fmt.Errorf("%w: stale handle, active mode is %s", types.ErrRadioModeConflict, active)
	}
	c.stopping = true
	c.mu.Unlock()

	logger := logging.WithComponent("radio").WithField("mode", h.mode.String())
	logger.Info("Stopping radio")

	err := c.driver.Stop(ctx)

	c.mu.Lock()
	c.mode = types.RadioIdle
	c.stopping = false
	c.mu.Unlock()
	c.metrics.SetRadioMode(types.RadioIdle)

	if err != nil {
		logger.WithError(err).Warn("Radio teardown reported an error")
		return fmt.Errorf("%w: stop %s: %v", types.ErrRadioHardwareInit, h.mode, err)
	}
	return nil
}

func (c *Controller) checkIdle(want types.RadioMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != types.RadioIdle {
		logging.WithComponent("radio").WithFields(map[string]interface{}{
			"active":    c.mode.String(),
			"requested": want.String(),
		}).Warn("Refusing mode change while another mode is active")
		return fmt.Errorf("%w: cannot start %s while %s is active", types.ErrRadioModeConflict, want, c.mode)
	}
	return nil
}

func (c *Controller) activate(mode types.RadioMode) *Handle {
	c.mu.Lock()
	c.gen++
	c.mode = mode
	h := &Handle{mode: mode, gen: c.gen}
	c.mu.Unlock()

	c.metrics.SetRadioMode(mode)
	return h
}

// cleanup releases whatever a failed start left behind.
func (c *Controller) cleanup(ctx context.Context) {
	if err := c.driver.Stop(ctx); err != nil {
		logging.WithComponent("radio").WithError(err).Debug("Cleanup after failed start")
	}
}

// guard drops events that arrive after the station generation gen was
// stopped.
func (c *Controller) guard(gen uint64, handler port.EventHandler) port.EventHandler {
	return func(event types.RadioEvent) {
		c.mu.Lock()
		live := c.gen == gen && c.mode == types.RadioStation && !c.stopping
		// The driver may report events before StartStation has returned.
		pending := c.gen+1 == gen && c.mode == types.RadioIdle
		c.mu.Unlock()

		if !live && !pending {
			logging.WithComponent("radio").WithField("event", event.Kind.String()).Debug("Dropping event from stopped station")
			return
		}
		handler(event)
	}
}
