// Package dhcp configures the station interface from a DHCP lease.
package dhcp

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/port"

	"github.com/cenkalti/backoff/v5"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

const (
	defaultRetries    = 3
	defaultRetryDelay = 2 * time.Second
)

// Lease is an applied DHCP lease.
type Lease struct {
	Address netip.Prefix
	Gateway netip.Addr
	Renewal time.Duration
}

// Configurator acquires a lease on the station interface and applies it
// with netlink.
type Configurator struct {
	ifaceName  string
	dhcpClient port.DHCPClient
	networkMgr port.NetworkManager
	fileMgr    port.FileManager
	resolvConf string
	retries    uint
	retryDelay time.Duration
}

// NewConfigurator creates a configurator for ifaceName. DNS servers from the
// lease are written to resolvConf; an empty path skips DNS configuration.
func NewConfigurator(ifaceName string, dhcpClient port.DHCPClient, networkMgr port.NetworkManager, fileMgr port.FileManager, resolvConf string) *Configurator {
	return &Configurator{
		ifaceName:  ifaceName,
		dhcpClient: dhcpClient,
		networkMgr: networkMgr,
		fileMgr:    fileMgr,
		resolvConf: resolvConf,
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
	}
}

// GetInterfaceName returns the name of the interface managed by this configurator.
func (c *Configurator) GetInterfaceName() string {
	return c.ifaceName
}

// Obtain performs the DHCP exchange and configures the interface with the
// resulting lease.
func (c *Configurator) Obtain(ctx context.Context) (*Lease, error) {
	logger := logging.WithComponentAndInterface("dhcp", c.ifaceName)

	ack, err := c.getDHCPLease(ctx, logger)
	if err != nil {
		return nil, err
	}
	if err := c.applyDHCPLease(ctx, ack); err != nil {
		return nil, err
	}

	lease := &Lease{Renewal: ack.IPAddressRenewalTime(30 * time.Second)}
	if addr, ok := netip.AddrFromSlice(ack.YourIPAddr.To4()); ok {
		ones, _ := subnetMask(ack).Size()
		lease.Address = netip.PrefixFrom(addr, ones)
	}
	if routers := ack.Router(); len(routers) > 0 {
		if gw, ok := netip.AddrFromSlice(routers[0].To4()); ok {
			lease.Gateway = gw
		}
	}

	logger.WithFields(logrus.Fields{
		"ip":      lease.Address.String(),
		"renewal": lease.Renewal.String(),
	}).Info("Successfully configured interface")
	return lease, nil
}

// getDHCPLease performs the complete DHCP DISCOVER/OFFER/REQUEST/ACK sequence
func (c *Configurator) getDHCPLease(ctx context.Context, logger *logrus.Entry) (*dhcpv4.DHCPv4, error) {
	attempt := 0
	ack, err := backoff.Retry(ctx, func() (*dhcpv4.DHCPv4, error) {
		attempt++
		logger.WithField("attempt", fmt.Sprintf("%d/%d", attempt, c.retries)).Debug("Attempting DHCP lease")

		ack, err := c.dhcpClient.RequestLease(ctx)
		if err != nil {
			logger.WithError(err).WithField("attempt", attempt).Error("DHCP lease request failed")
			return nil, err
		}
		return ack, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(c.retries),
	)
	if err != nil {
		return nil, fmt.Errorf("DHCP lease request failed after %d attempts: %w", attempt, err)
	}

	logger.WithField("ip", ack.YourIPAddr.String()).Info("Successfully obtained DHCP lease")
	return ack, nil
}

func subnetMask(ack *dhcpv4.DHCPv4) net.IPMask {
	if mask := ack.SubnetMask(); mask != nil {
		return mask
	}
	return net.IPv4Mask(255, 255, 255, 0)
}

// applyDHCPLease configures the network interface with the received DHCP lease using netlink
func (c *Configurator) applyDHCPLease(ctx context.Context, ack *dhcpv4.DHCPv4) error {
	logger := logging.WithComponentAndInterface("dhcp", c.ifaceName)

	ipNet := &net.IPNet{
		IP:   ack.YourIPAddr,
		Mask: subnetMask(ack),
	}

	logger.WithField("ip", ipNet.String()).Info("Configuring interface with IP")

	link, err := c.networkMgr.GetLinkByName(c.ifaceName)
	if err != nil {
		return fmt.Errorf("failed to get netlink interface: %w", err)
	}

	existingAddrs, err := c.networkMgr.ListAddresses(link)
	if err != nil {
		return fmt.Errorf("failed to list existing addresses: %w", err)
	}

	targetConfigured := false
	for _, addr := range existingAddrs {
		if addr.IPNet.IP.Equal(ipNet.IP) && addr.IPNet.Mask.String() == ipNet.Mask.String() {
			logger.WithField("ip", ipNet.String()).Info("IP address already configured, skipping")
			targetConfigured = true
			break
		}
	}

	if !targetConfigured {
		// Anything else on the interface is left over from an earlier lease
		// or from access point mode.
		for _, addr := range existingAddrs {
			if addr.IPNet.IP.Equal(ipNet.IP) {
				continue
			}
			if err := c.networkMgr.DeleteAddress(link, &addr); err != nil {
				logger.WithError(err).WithField("address", addr.IPNet.String()).Warn("Failed to remove existing address")
			} else {
				logger.WithField("address", addr.IPNet.String()).Debug("Removed existing address")
			}
		}

		leaseTime := ack.IPAddressLeaseTime(60 * time.Second)
		addr := &netlink.Addr{
			IPNet:       ipNet,
			ValidLft:    int(leaseTime.Seconds()),
			PreferedLft: int(leaseTime.Seconds()),
		}
		if err := c.networkMgr.AddAddress(link, addr); err != nil {
			return fmt.Errorf("failed to add IP address %s: %w", ipNet.String(), err)
		}
		logger.WithFields(logrus.Fields{
			"ip":         ipNet.String(),
			"lease_time": leaseTime.String(),
		}).Info("Successfully added IP address")
	}

	if routers := ack.Router(); len(routers) > 0 {
		gateway := routers[0]
		logger.WithField("gateway", gateway.String()).Info("Setting default gateway")

		if err := c.configureDefaultRoute(ctx, link, gateway); err != nil {
			return fmt.Errorf("failed to set default gateway: %w", err)
		}
	}

	if dnsServers := ack.DNS(); len(dnsServers) > 0 && c.resolvConf != "" {
		if err := c.configureDNS(ctx, dnsServers); err != nil {
			logger.WithError(err).Warn("Failed to configure DNS")
		}
	}

	return nil
}

// configureDefaultRoute configures the default route using netlink
func (c *Configurator) configureDefaultRoute(_ context.Context, link netlink.Link, gateway net.IP) error {
	logger := logging.WithComponentAndInterface("dhcp", c.ifaceName).WithField("gateway", gateway.String())

	routes, err := c.networkMgr.ListRoutes()
	if err != nil {
		return fmt.Errorf("failed to list routes: %w", err)
	}

	isDefault := func(route netlink.Route) bool {
		return route.Dst == nil || route.Dst.String() == "0.0.0.0/0"
	}
	isTarget := func(route netlink.Route) bool {
		return route.Gw != nil && route.Gw.Equal(gateway) && route.LinkIndex == link.Attrs().Index
	}

	for _, route := range routes {
		if isDefault(route) && isTarget(route) {
			logger.Info("Default route already exists, skipping")
			return nil
		}
	}

	for _, route := range routes {
		if !isDefault(route) {
			continue
		}
		if err := c.networkMgr.DeleteRoute(&route); err != nil {
			logger.WithError(err).Warn("Failed to remove existing default route")
		} else {
			logger.Debug("Removed existing default route")
		}
	}

	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Gw:        gateway,
	}
	if err := c.networkMgr.AddRoute(route); err != nil {
		return fmt.Errorf("failed to add default route: %w", err)
	}

	logger.Info("Successfully added default route")
	return nil
}

// configureDNS writes DNS servers to the resolver configuration file
func (c *Configurator) configureDNS(_ context.Context, dnsServers []net.IP) error {
	logger := logging.WithComponentAndInterface("dhcp", c.ifaceName)

	var b strings.Builder
	b.WriteString("# Generated by wifiprov\n")
	for _, dns := range dnsServers {
		fmt.Fprintf(&b, "nameserver %s\n", dns.String())
	}
	newContent := b.String()

	if currentContent, err := c.fileMgr.ReadFile(c.resolvConf); err == nil && string(currentContent) == newContent {
		logger.Debug("DNS configuration already up to date, skipping")
		return nil
	}

	if err := c.fileMgr.WriteFile(c.resolvConf, []byte(newContent), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.resolvConf, err)
	}

	logger.WithField("path", c.resolvConf).Info("Updated resolver configuration")
	return nil
}
