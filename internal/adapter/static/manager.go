// Package static assigns the fixed access point address to the radio
// interface and clears it again on teardown.
package static

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/port"

	"github.com/vishvananda/netlink"
)

// Configurator manages the static address of one interface.
type Configurator struct {
	ifaceName  string
	networkMgr port.NetworkManager
}

// NewConfigurator creates a static address configurator for ifaceName.
func NewConfigurator(ifaceName string, networkMgr port.NetworkManager) *Configurator {
	return &Configurator{
		ifaceName:  ifaceName,
		networkMgr: networkMgr,
	}
}

// GetInterfaceName returns the name of the interface managed by this configurator.
func (c *Configurator) GetInterfaceName() string {
	return c.ifaceName
}

// Apply brings the interface up and makes prefix its only IPv4 address.
func (c *Configurator) Apply(_ context.Context, prefix netip.Prefix) error {
	logger := logging.WithComponentAndInterface("static", c.ifaceName)

	if !prefix.Addr().Is4() {
		return fmt.Errorf("invalid IPv4 address: %s", prefix)
	}

	link, err := c.networkMgr.GetLinkByName(c.ifaceName)
	if err != nil {
		return fmt.Errorf("failed to get netlink interface: %w", err)
	}

	if err := c.networkMgr.SetLinkUp(link); err != nil {
		return fmt.Errorf("failed to bring interface up: %w", err)
	}

	ip := net.IP(prefix.Addr().AsSlice())
	ipNet := &net.IPNet{
		IP:   ip,
		Mask: net.CIDRMask(prefix.Bits(), 32),
	}

	logger.WithField("ip", ipNet.String()).Info("Configuring interface with IP")

	existingAddrs, err := c.networkMgr.ListAddresses(link)
	if err != nil {
		return fmt.Errorf("failed to list existing addresses: %w", err)
	}

	for _, addr := range existingAddrs {
		if addr.IPNet.IP.Equal(ipNet.IP) && addr.IPNet.Mask.String() == ipNet.Mask.String() {
			logger.WithField("ip", ipNet.String()).Info("IP address already configured, skipping")
			return nil
		}
	}

	for _, addr := range existingAddrs {
		if err := c.networkMgr.DeleteAddress(link, &addr); err != nil {
			logger.WithError(err).WithField("address", addr.IPNet.String()).Warn("Failed to remove existing address")
		} else {
			logger.WithField("address", addr.IPNet.String()).Debug("Removed existing address")
		}
	}

	if err := c.networkMgr.AddAddress(link, &netlink.Addr{IPNet: ipNet}); err != nil {
		return fmt.Errorf("failed to add IP address %s: %w", ipNet.String(), err)
	}
	logger.WithField("ip", ipNet.String()).Info("Successfully added IP address")
	return nil
}

// Flush removes every IPv4 address from the interface and takes it down.
func (c *Configurator) Flush(_ context.Context) error {
	logger := logging.WithComponentAndInterface("static", c.ifaceName)

	link, err := c.networkMgr.GetLinkByName(c.ifaceName)
	if err != nil {
		return fmt.Errorf("failed to get netlink interface: %w", err)
	}

	addrs, err := c.networkMgr.ListAddresses(link)
	if err != nil {
		return fmt.Errorf("failed to list existing addresses: %w", err)
	}

	var firstErr error
	for _, addr := range addrs {
		if err := c.networkMgr.DeleteAddress(link, &addr); err != nil {
			logger.WithError(err).WithField("address", addr.IPNet.String()).Warn("Failed to remove address")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := c.networkMgr.SetLinkDown(link); err != nil {
		return fmt.Errorf("failed to bring interface down: %w", err)
	}

	logger.WithField("removed", len(addrs)).Info("Interface flushed")
	return firstErr
}
