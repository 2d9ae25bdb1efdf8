//go:build unit

package dhcp

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"golang-wifiprov/internal/mock"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"go.uber.org/mock/gomock"
)

func newTestConfigurator(ctrl *gomock.Controller) (*Configurator, *mock.MockDHCPClient, *mock.MockNetworkManager, *mock.MockFileManager) {
	dhcpClient := mock.NewMockDHCPClient(ctrl)
	networkMgr := mock.NewMockNetworkManager(ctrl)
	fileMgr := mock.NewMockFileManager(ctrl)

	c := NewConfigurator("wlan0", dhcpClient, networkMgr, fileMgr, "/etc/resolv.conf")
	c.retryDelay = time.Millisecond
	return c, dhcpClient, networkMgr, fileMgr
}

func newACK(t *testing.T, modifiers ...dhcpv4.Modifier) *dhcpv4.DHCPv4 {
	t.Helper()
	ack, err := dhcpv4.New(modifiers...)
	require.NoError(t, err)
	return ack
}

func TestConfigurator_getDHCPLease(t *testing.T) {
	ctrl := gomock.NewController(t)
	c, dhcpClient, _, _ := newTestConfigurator(ctrl)
	ctx := context.Background()
	logger := logrusEntry()

	t.Run("SuccessfulLease", func(t *testing.T) {
		expectedACK := newACK(t, dhcpv4.WithYourIP(net.ParseIP("192.168.1.100")))

		dhcpClient.EXPECT().
			RequestLease(ctx).
			Return(expectedACK, nil).
			Times(1)

		ack, err := c.getDHCPLease(ctx, logger)
		require.NoError(t, err)
		assert.Equal(t, expectedACK, ack)
	})

	t.Run("SucceedsOnRetry", func(t *testing.T) {
		expectedACK := newACK(t, dhcpv4.WithYourIP(net.ParseIP("192.168.1.100")))

		gomock.InOrder(
			dhcpClient.EXPECT().RequestLease(ctx).Return(nil, assert.AnError),
			dhcpClient.EXPECT().RequestLease(ctx).Return(expectedACK, nil),
		)

		ack, err := c.getDHCPLease(ctx, logger)
		require.NoError(t, err)
		assert.Equal(t, expectedACK, ack)
	})

	t.Run("FailedLeaseWithRetries", func(t *testing.T) {
		dhcpClient.EXPECT().
			RequestLease(ctx).
			Return(nil, assert.AnError).
			Times(3)

		ack, err := c.getDHCPLease(ctx, logger)
		assert.Error(t, err)
		assert.Nil(t, ack)
		assert.Contains(t, err.Error(), "DHCP lease request failed after 3 attempts")
	})
}

func TestConfigurator_applyDHCPLease(t *testing.T) {
	ctrl := gomock.NewController(t)
	c, _, networkMgr, _ := newTestConfigurator(ctrl)
	ctx := context.Background()
	mockLink := &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: 3, Name: "wlan0"}}

	t.Run("ReplacesAccessPointAddress", func(t *testing.T) {
		ack := newACK(t,
			dhcpv4.WithYourIP(net.ParseIP("192.168.1.100")),
			dhcpv4.WithNetmask(net.IPv4Mask(255, 255, 255, 0)),
		)
		apAddr := netlink.Addr{IPNet: &net.IPNet{IP: net.ParseIP("192.168.4.1"), Mask: net.IPv4Mask(255, 255, 255, 0)}}

		networkMgr.EXPECT().GetLinkByName("wlan0").Return(mockLink, nil)
		networkMgr.EXPECT().ListAddresses(mockLink).Return([]netlink.Addr{apAddr}, nil)
		networkMgr.EXPECT().DeleteAddress(mockLink, gomock.Any()).Return(nil)
		networkMgr.EXPECT().AddAddress(mockLink, gomock.Any()).
			DoAndReturn(func(_ netlink.Link, addr *netlink.Addr) error {
				assert.Equal(t, "192.168.1.100/24", addr.IPNet.String())
				return nil
			})

		require.NoError(t, c.applyDHCPLease(ctx, ack))
	})

	t.Run("IPAlreadyConfigured", func(t *testing.T) {
		ack := newACK(t,
			dhcpv4.WithYourIP(net.ParseIP("192.168.1.100")),
			dhcpv4.WithNetmask(net.IPv4Mask(255, 255, 255, 0)),
		)
		existingAddr := netlink.Addr{IPNet: &net.IPNet{IP: net.ParseIP("192.168.1.100"), Mask: net.IPv4Mask(255, 255, 255, 0)}}

		networkMgr.EXPECT().GetLinkByName("wlan0").Return(mockLink, nil)
		networkMgr.EXPECT().ListAddresses(mockLink).Return([]netlink.Addr{existingAddr}, nil)

		require.NoError(t, c.applyDHCPLease(ctx, ack))
	})
}

func TestConfigurator_configureDefaultRoute(t *testing.T) {
	ctrl := gomock.NewController(t)
	c, _, networkMgr, _ := newTestConfigurator(ctrl)
	ctx := context.Background()
	mockLink := &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: 3, Name: "wlan0"}}
	gateway := net.ParseIP("192.168.1.1")

	t.Run("AddNewDefaultRoute", func(t *testing.T) {
		networkMgr.EXPECT().ListRoutes().Return([]netlink.Route{}, nil)
		networkMgr.EXPECT().AddRoute(gomock.Any()).Return(nil)

		assert.NoError(t, c.configureDefaultRoute(ctx, mockLink, gateway))
	})

	t.Run("ReplacesStaleDefaultRoute", func(t *testing.T) {
		stale := netlink.Route{LinkIndex: 2, Gw: net.ParseIP("10.0.0.1")}

		networkMgr.EXPECT().ListRoutes().Return([]netlink.Route{stale}, nil)
		networkMgr.EXPECT().DeleteRoute(gomock.Any()).Return(nil)
		networkMgr.EXPECT().AddRoute(gomock.Any()).Return(nil)

		assert.NoError(t, c.configureDefaultRoute(ctx, mockLink, gateway))
	})

	t.Run("RouteAlreadyExists", func(t *testing.T) {
		existingRoute := netlink.Route{LinkIndex: 3, Gw: gateway}
		networkMgr.EXPECT().ListRoutes().Return([]netlink.Route{existingRoute}, nil)

		assert.NoError(t, c.configureDefaultRoute(ctx, mockLink, gateway))
	})
}

func TestConfigurator_configureDNS(t *testing.T) {
	ctrl := gomock.NewController(t)
	c, _, _, fileMgr := newTestConfigurator(ctrl)
	ctx := context.Background()
	dnsServers := []net.IP{net.ParseIP("8.8.8.8"), net.ParseIP("8.8.4.4")}
	expectedContent := "# Generated by wifiprov\nnameserver 8.8.8.8\nnameserver 8.8.4.4\n"

	t.Run("WriteDNSConfiguration", func(t *testing.T) {
		fileMgr.EXPECT().ReadFile("/etc/resolv.conf").Return([]byte("old content"), nil)
		fileMgr.EXPECT().WriteFile("/etc/resolv.conf", []byte(expectedContent), 0644).Return(nil)

		assert.NoError(t, c.configureDNS(ctx, dnsServers))
	})

	t.Run("DNSAlreadyUpToDate", func(t *testing.T) {
		fileMgr.EXPECT().ReadFile("/etc/resolv.conf").Return([]byte(expectedContent), nil)

		assert.NoError(t, c.configureDNS(ctx, dnsServers))
	})
}

func TestConfigurator_Obtain(t *testing.T) {
	ctrl := gomock.NewController(t)
	c, dhcpClient, networkMgr, fileMgr := newTestConfigurator(ctrl)
	ctx := context.Background()
	mockLink := &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: 3, Name: "wlan0"}}

	ack := newACK(t,
		dhcpv4.WithYourIP(net.ParseIP("192.168.1.50")),
		dhcpv4.WithNetmask(net.IPv4Mask(255, 255, 255, 0)),
		dhcpv4.WithRouter(net.ParseIP("192.168.1.1")),
		dhcpv4.WithDNS(net.ParseIP("192.168.1.1")),
		dhcpv4.WithLeaseTime(3600),
	)

	dhcpClient.EXPECT().RequestLease(ctx).Return(ack, nil)
	networkMgr.EXPECT().GetLinkByName("wlan0").Return(mockLink, nil)
	networkMgr.EXPECT().ListAddresses(mockLink).Return(nil, nil)
	networkMgr.EXPECT().AddAddress(mockLink, gomock.Any()).Return(nil)
	networkMgr.EXPECT().ListRoutes().Return(nil, nil)
	networkMgr.EXPECT().AddRoute(gomock.Any()).Return(nil)
	fileMgr.EXPECT().ReadFile("/etc/resolv.conf").Return(nil, assert.AnError)
	fileMgr.EXPECT().WriteFile("/etc/resolv.conf", gomock.Any(), 0644).Return(nil)

	lease, err := c.Obtain(ctx)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("192.168.1.50/24"), lease.Address)
	assert.Equal(t, netip.MustParseAddr("192.168.1.1"), lease.Gateway)
	assert.Equal(t, "wlan0", c.GetInterfaceName())
}

func logrusEntry() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}
