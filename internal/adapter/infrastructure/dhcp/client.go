// Package dhcp holds the DHCP adapters: the station-side lease client and the
// server handing out addresses on the access point network.
package dhcp

import (
	"context"
	"fmt"
	"time"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/port"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"
	"github.com/sirupsen/logrus"
)

// leaseOptions are the parameters the station needs to configure itself.
var leaseOptions = []dhcpv4.OptionCode{
	dhcpv4.OptionSubnetMask,
	dhcpv4.OptionRouter,
	dhcpv4.OptionDomainNameServer,
	dhcpv4.OptionIPAddressLeaseTime,
}

// ClientAdapter requests leases for one station interface with nclient4.
type ClientAdapter struct {
	iface    string
	timeout  time.Duration
	hostname string
}

// Ensure ClientAdapter implements the DHCPClient port
var _ port.DHCPClient = (*ClientAdapter)(nil)

// NewClientAdapter creates a client for iface. Each exchange is bounded by
// timeout; hostname, when set, is sent so the network can name the device.
func NewClientAdapter(iface string, timeout time.Duration, hostname string) *ClientAdapter {
	return &ClientAdapter{
		iface:    iface,
		timeout:  timeout,
		hostname: hostname,
	}
}

func (c *ClientAdapter) modifiers() []dhcpv4.Modifier {
	mods := []dhcpv4.Modifier{dhcpv4.WithRequestedOptions(leaseOptions...)}
	if c.hostname != "" {
		mods = append(mods, dhcpv4.WithOption(dhcpv4.OptHostName(c.hostname)))
	}
	return mods
}

// RequestLease runs one DISCOVER/OFFER/REQUEST/ACK exchange and returns the ACK.
func (c *ClientAdapter) RequestLease(ctx context.Context) (*dhcpv4.DHCPv4, error) {
	logger := logging.WithComponentAndInterface("dhcp-client", c.iface)

	client, err := nclient4.New(c.iface, nclient4.WithTimeout(c.timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create DHCP client: %w", err)
	}
	defer client.Close()

	lease, err := client.Request(ctx, c.modifiers()...)
	if err != nil {
		return nil, fmt.Errorf("DHCP lease request on %s failed: %w", c.iface, err)
	}

	logger.WithFields(logrus.Fields{
		"ip":     lease.ACK.YourIPAddr.String(),
		"server": lease.ACK.ServerIPAddr.String(),
	}).Debug("Lease acknowledged")
	return lease.ACK, nil
}
