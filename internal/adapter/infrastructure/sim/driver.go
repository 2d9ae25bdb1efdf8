// Package sim provides an in-process radio for hosts without wireless hardware.
package sim

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/port"
	"golang-wifiprov/internal/types"

	"github.com/sirupsen/logrus"
)

// Config describes the simulated radio environment.
type Config struct {
	Networks  map[string]string // ssid -> passphrase of the networks in range
	JoinDelay time.Duration
	Address   netip.Addr // address handed out on a successful join
	FailAP    bool       // access point start fails as if the hardware were broken
}

// DriverAdapter is an adapter that implements the RadioDriver port without hardware.
// A join succeeds when the SSID is in range and the passphrase matches.
type DriverAdapter struct {
	cfg Config

	mu      sync.Mutex
	mode    types.RadioMode
	ap      types.APConfig
	station types.StationConfig
	handler port.EventHandler
	stopCh  chan struct{}
	joins   sync.WaitGroup
	history []string
}

// Ensure DriverAdapter implements the RadioDriver port
var _ port.RadioDriver = (*DriverAdapter)(nil)

// NewDriverAdapter creates a simulated radio.
func NewDriverAdapter(cfg Config) *DriverAdapter {
	if cfg.Networks == nil {
		cfg.Networks = map[string]string{}
	}
	return &DriverAdapter{cfg: cfg}
}

// SetNetwork puts a network in range, or takes it out of range when
// passphrase is nil.
func (d *DriverAdapter) SetNetwork(ssid string, passphrase *string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if passphrase == nil {
		delete(d.cfg.Networks, ssid)
		return
	}
	d.cfg.Networks[ssid] = *passphrase
}

// AccessPoint returns the configuration of the running access point.
func (d *DriverAdapter) AccessPoint() (types.APConfig, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ap, d.mode == types.RadioAccessPoint
}

// History lists the operations performed so far, e.g. "ap:OpenAI".
func (d *DriverAdapter) History() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.history...)
}

func (d *DriverAdapter) logger() *logrus.Entry {
	return logging.WithComponent("sim")
}

// StartAccessPoint pretends to start an access point.
func (d *DriverAdapter) StartAccessPoint(_ context.Context, cfg types.APConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode != types.RadioIdle {
		return fmt.Errorf("driver busy in %s mode", d.mode)
	}
	if d.cfg.FailAP {
		return errors.New("simulated access point failure")
	}
	d.mode = types.RadioAccessPoint
	d.ap = cfg
	d.history = append(d.history, "ap:"+cfg.SSID)
	d.logger().WithField("ssid", cfg.SSID).Info("Simulated access point started")
	return nil
}

// StartStation starts a simulated join.
func (d *DriverAdapter) StartStation(_ context.Context, cfg types.StationConfig, handler port.EventHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode != types.RadioIdle {
		return fmt.Errorf("driver busy in %s mode", d.mode)
	}
	d.mode = types.RadioStation
	d.station = cfg
	d.handler = handler
	d.stopCh = make(chan struct{})
	d.history = append(d.history, "station:"+cfg.SSID)
	d.logger().WithField("ssid", cfg.SSID).Info("Simulated station started")
	d.joinLocked()
	return nil
}

// Join re-issues the simulated join.
func (d *DriverAdapter) Join(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode != types.RadioStation {
		return fmt.Errorf("join requires station mode, driver is %s", d.mode)
	}
	d.history = append(d.history, "join:"+d.station.SSID)
	d.joinLocked()
	return nil
}

// joinLocked reports the outcome of a join after the configured delay.
// Events are delivered from their own goroutine, never under mu.
func (d *DriverAdapter) joinLocked() {
	passphrase, inRange := d.cfg.Networks[d.station.SSID]
	ok := inRange && passphrase == d.station.Passphrase
	handler, stopCh, delay, addr := d.handler, d.stopCh, d.cfg.JoinDelay, d.cfg.Address

	d.joins.Add(1)
	go func() {
		defer d.joins.Done()

		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-stopCh:
			return
		case <-t.C:
		}

		if !ok {
			reason := "no AP found"
			if inRange {
				reason = "auth failed"
			}
			handler(types.RadioEvent{Kind: types.EventDisconnected, Reason: reason})
			return
		}
		handler(types.RadioEvent{Kind: types.EventAssociated})
		handler(types.RadioEvent{Kind: types.EventGotAddress, Address: addr})
	}()
}

// Stop ends the active mode.
func (d *DriverAdapter) Stop(_ context.Context) error {
	d.mu.Lock()
	mode := d.mode
	if d.stopCh != nil {
		close(d.stopCh)
		d.stopCh = nil
	}
	d.mode = types.RadioIdle
	d.handler = nil
	d.ap = types.APConfig{}
	if mode != types.RadioIdle {
		d.history = append(d.history, "stop")
	}
	d.mu.Unlock()

	// Pending joins may be inside the handler; they are not waited for under mu.
	d.joins.Wait()

	if mode != types.RadioIdle {
		d.logger().WithField("mode", mode.String()).Info("Simulated radio stopped")
	}
	return nil
}
