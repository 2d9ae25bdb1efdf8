// Package wifi drives the radio on Linux through hostapd, wpa_supplicant and
// netlink.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"path/filepath"
	"sync"

	"golang-wifiprov/internal/adapter/dhcp"
	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/port"
	"golang-wifiprov/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

const (
	hostapdConf    = "hostapd.conf"
	supplicantConf = "wpa_supplicant.conf"
	ctrlDirName    = "wpa_supplicant"
)

// Config locates the wireless tools and the interface they manage.
type Config struct {
	Interface     string
	RunDir        string // rendered configs and the control socket live here
	Hostapd       string
	WPASupplicant string
	WPACli        string
}

// LeaseObtainer acquires and applies a station address.
type LeaseObtainer interface {
	Obtain(ctx context.Context) (*dhcp.Lease, error)
}

// AddressConfigurator sets and clears the access point address.
type AddressConfigurator interface {
	Apply(ctx context.Context, prefix netip.Prefix) error
	Flush(ctx context.Context) error
}

// DriverAdapter is an adapter that implements the RadioDriver port on Linux.
type DriverAdapter struct {
	cfg        Config
	runner     port.ProcessRunner
	fileMgr    port.FileManager
	networkMgr port.NetworkManager
	dhcpServer port.DHCPServer
	lease      LeaseObtainer
	address    AddressConfigurator

	mu      sync.Mutex
	mode    types.RadioMode
	proc    port.Process
	stopCh  chan struct{}
	cancel  context.CancelFunc
	watcher sync.WaitGroup
}

// Ensure DriverAdapter implements the RadioDriver port
var _ port.RadioDriver = (*DriverAdapter)(nil)

// NewDriverAdapter creates a Linux radio driver.
func NewDriverAdapter(cfg Config, runner port.ProcessRunner, fileMgr port.FileManager, networkMgr port.NetworkManager,
	dhcpServer port.DHCPServer, lease LeaseObtainer, address AddressConfigurator) *DriverAdapter {
	return &DriverAdapter{
		cfg:        cfg,
		runner:     runner,
		fileMgr:    fileMgr,
		networkMgr: networkMgr,
		dhcpServer: dhcpServer,
		lease:      lease,
		address:    address,
	}
}

func (d *DriverAdapter) path(name string) string {
	return filepath.Join(d.cfg.RunDir, name)
}

func (d *DriverAdapter) logger() *logrus.Entry {
	return logging.WithComponentAndInterface("wifi", d.cfg.Interface)
}

// StartAccessPoint assigns the AP address, starts hostapd and serves DHCP.
func (d *DriverAdapter) StartAccessPoint(ctx context.Context, cfg types.APConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode != types.RadioIdle {
		return fmt.Errorf("driver busy in %s mode", d.mode)
	}

	conf := d.path(hostapdConf)
	if err := d.fileMgr.WriteFile(conf, renderHostapd(d.cfg.Interface, cfg), 0o600); err != nil {
		return fmt.Errorf("failed to write hostapd config: %w", err)
	}

	if err := d.address.Apply(ctx, cfg.Address); err != nil {
		d.rollbackAP(ctx, nil)
		return fmt.Errorf("failed to configure AP address: %w", err)
	}

	proc, err := d.runner.Start(ctx, d.cfg.Hostapd, conf)
	if err != nil {
		d.rollbackAP(ctx, nil)
		return fmt.Errorf("failed to start hostapd: %w", err)
	}

	if err := d.dhcpServer.Start(d.cfg.Interface, cfg.Address, cfg.MaxClients); err != nil {
		d.rollbackAP(ctx, proc)
		return fmt.Errorf("failed to start DHCP server: %w", err)
	}

	d.proc = proc
	d.mode = types.RadioAccessPoint
	d.logger().WithFields(logrus.Fields{
		"ssid":    cfg.SSID,
		"channel": cfg.Channel,
		"address": cfg.Address.String(),
		"pid":     proc.Pid(),
	}).Info("Access point started")
	return nil
}

func (d *DriverAdapter) rollbackAP(ctx context.Context, proc port.Process) {
	if proc != nil {
		_ = proc.Stop()
	}
	if err := d.address.Flush(ctx); err != nil {
		d.logger().WithError(err).Warn("Failed to flush interface")
	}
	_ = d.fileMgr.RemoveFile(d.path(hostapdConf))
}

// StartStation starts wpa_supplicant and reports link and address events
// to handler until Stop.
func (d *DriverAdapter) StartStation(ctx context.Context, cfg types.StationConfig, handler port.EventHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode != types.RadioIdle {
		return fmt.Errorf("driver busy in %s mode", d.mode)
	}

	conf := d.path(supplicantConf)
	if err := d.fileMgr.WriteFile(conf, renderSupplicant(d.path(ctrlDirName), cfg), 0o600); err != nil {
		return fmt.Errorf("failed to write wpa_supplicant config: %w", err)
	}

	link, err := d.networkMgr.GetLinkByName(d.cfg.Interface)
	if err != nil {
		_ = d.fileMgr.RemoveFile(conf)
		return fmt.Errorf("failed to get netlink interface: %w", err)
	}
	if err := d.networkMgr.SetLinkUp(link); err != nil {
		_ = d.fileMgr.RemoveFile(conf)
		return fmt.Errorf("failed to bring interface up: %w", err)
	}

	stopCh := make(chan struct{})
	updates, err := d.networkMgr.SubscribeLinkUpdates(stopCh)
	if err != nil {
		close(stopCh)
		_ = d.fileMgr.RemoveFile(conf)
		return err
	}

	proc, err := d.runner.Start(ctx, d.cfg.WPASupplicant, "-i", d.cfg.Interface, "-c", conf, "-D", "nl80211")
	if err != nil {
		close(stopCh)
		_ = d.fileMgr.RemoveFile(conf)
		return fmt.Errorf("failed to start wpa_supplicant: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	d.proc = proc
	d.stopCh = stopCh
	d.cancel = cancel
	d.mode = types.RadioStation

	d.watcher.Add(1)
	go func() {
		defer d.watcher.Done()
		d.watch(watchCtx, link.Attrs().Index, updates, proc, handler)
	}()

	d.logger().WithFields(logrus.Fields{"ssid": cfg.SSID, "pid": proc.Pid()}).Info("Station started")
	return nil
}

// watch turns carrier changes into radio events. A carrier going up counts
// as association and triggers the DHCP exchange.
func (d *DriverAdapter) watch(ctx context.Context, index int, updates <-chan netlink.LinkUpdate, proc port.Process, handler port.EventHandler) {
	logger := d.logger()
	carrier := false

	for {
		select {
		case <-ctx.Done():
			return

		case <-proc.Done():
			if ctx.Err() == nil {
				logger.Warn("wpa_supplicant exited unexpectedly")
				handler(types.RadioEvent{Kind: types.EventDisconnected, Reason: "wpa_supplicant exited"})
			}
			return

		case update, ok := <-updates:
			if !ok {
				return
			}
			attrs := update.Link.Attrs()
			if attrs == nil || attrs.Index != index {
				continue
			}
			up := attrs.OperState == netlink.OperUp
			if up == carrier {
				continue
			}
			carrier = up

			if !up {
				logger.Info("Carrier lost")
				handler(types.RadioEvent{Kind: types.EventDisconnected, Reason: "carrier lost"})
				continue
			}

			logger.Info("Associated")
			handler(types.RadioEvent{Kind: types.EventAssociated})

			lease, err := d.lease.Obtain(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.WithError(err).Warn("Failed to obtain address")
				handler(types.RadioEvent{Kind: types.EventDisconnected, Reason: "dhcp: " + err.Error()})
				continue
			}
			handler(types.RadioEvent{Kind: types.EventGotAddress, Address: lease.Address.Addr()})
		}
	}
}

// Join asks wpa_supplicant to reassociate.
func (d *DriverAdapter) Join(ctx context.Context) error {
	d.mu.Lock()
	mode := d.mode
	d.mu.Unlock()

	if mode != types.RadioStation {
		return fmt.Errorf("join requires station mode, driver is %s", mode)
	}

	out, err := d.runner.Run(ctx, d.cfg.WPACli, "-p", d.path(ctrlDirName), "-i", d.cfg.Interface, "reconnect")
	if err != nil {
		return fmt.Errorf("wpa_cli reconnect: %w (%s)", err, string(out))
	}
	d.logger().Debug("Reconnect requested")
	return nil
}

// Stop tears down whichever mode is active and returns the interface to a
// clean, down state.
func (d *DriverAdapter) Stop(ctx context.Context) error {
	d.mu.Lock()
	mode := d.mode
	proc := d.proc
	stopCh := d.stopCh
	cancel := d.cancel
	d.mode = types.RadioIdle
	d.proc = nil
	d.stopCh = nil
	d.cancel = nil
	d.mu.Unlock()

	if mode == types.RadioIdle {
		return nil
	}

	var errs []error
	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}
	if proc != nil {
		if err := proc.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	// The watcher may be delivering an event that ends in Join, so it is
	// awaited without holding mu.
	d.watcher.Wait()

	switch mode {
	case types.RadioAccessPoint:
		if err := d.dhcpServer.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := d.fileMgr.RemoveFile(d.path(hostapdConf)); err != nil {
			errs = append(errs, err)
		}
	case types.RadioStation:
		if err := d.fileMgr.RemoveFile(d.path(supplicantConf)); err != nil {
			errs = append(errs, err)
		}
	}

	if err := d.address.Flush(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		d.logger().WithError(err).Warn("Radio stopped with errors")
		return err
	}
	d.logger().WithField("mode", mode.String()).Info("Radio stopped")
	return nil
}
