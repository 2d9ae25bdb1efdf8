//go:build unit

package static

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"golang-wifiprov/internal/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"go.uber.org/mock/gomock"
)

func TestConfigurator_Apply(t *testing.T) {
	ctrl := gomock.NewController(t)
	networkMgr := mock.NewMockNetworkManager(ctrl)
	c := NewConfigurator("wlan0", networkMgr)
	ctx := context.Background()
	mockLink := &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: 3, Name: "wlan0"}}
	prefix := netip.MustParsePrefix("192.168.4.1/24")

	assert.Equal(t, "wlan0", c.GetInterfaceName())

	t.Run("AddsAddress", func(t *testing.T) {
		stale := netlink.Addr{IPNet: &net.IPNet{IP: net.ParseIP("192.168.1.50"), Mask: net.CIDRMask(24, 32)}}

		networkMgr.EXPECT().GetLinkByName("wlan0").Return(mockLink, nil)
		networkMgr.EXPECT().SetLinkUp(mockLink).Return(nil)
		networkMgr.EXPECT().ListAddresses(mockLink).Return([]netlink.Addr{stale}, nil)
		networkMgr.EXPECT().DeleteAddress(mockLink, gomock.Any()).Return(nil)
		networkMgr.EXPECT().AddAddress(mockLink, gomock.Any()).
			DoAndReturn(func(_ netlink.Link, addr *netlink.Addr) error {
				assert.Equal(t, "192.168.4.1/24", addr.IPNet.String())
				return nil
			})

		require.NoError(t, c.Apply(ctx, prefix))
	})

	t.Run("AlreadyConfigured", func(t *testing.T) {
		existing := netlink.Addr{IPNet: &net.IPNet{IP: net.ParseIP("192.168.4.1"), Mask: net.CIDRMask(24, 32)}}

		networkMgr.EXPECT().GetLinkByName("wlan0").Return(mockLink, nil)
		networkMgr.EXPECT().SetLinkUp(mockLink).Return(nil)
		networkMgr.EXPECT().ListAddresses(mockLink).Return([]netlink.Addr{existing}, nil)

		require.NoError(t, c.Apply(ctx, prefix))
	})

	t.Run("RejectsIPv6", func(t *testing.T) {
		err := c.Apply(ctx, netip.MustParsePrefix("fd00::1/64"))
		assert.Error(t, err)
	})

	t.Run("LinkMissing", func(t *testing.T) {
		networkMgr.EXPECT().GetLinkByName("wlan0").Return(nil, assert.AnError)

		err := c.Apply(ctx, prefix)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestConfigurator_Flush(t *testing.T) {
	ctrl := gomock.NewController(t)
	networkMgr := mock.NewMockNetworkManager(ctrl)
	c := NewConfigurator("wlan0", networkMgr)
	ctx := context.Background()
	mockLink := &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: 3, Name: "wlan0"}}

	addrs := []netlink.Addr{
		{IPNet: &net.IPNet{IP: net.ParseIP("192.168.4.1"), Mask: net.CIDRMask(24, 32)}},
		{IPNet: &net.IPNet{IP: net.ParseIP("169.254.3.3"), Mask: net.CIDRMask(16, 32)}},
	}

	networkMgr.EXPECT().GetLinkByName("wlan0").Return(mockLink, nil)
	networkMgr.EXPECT().ListAddresses(mockLink).Return(addrs, nil)
	networkMgr.EXPECT().DeleteAddress(mockLink, gomock.Any()).Return(nil).Times(2)
	networkMgr.EXPECT().SetLinkDown(mockLink).Return(nil)

	assert.NoError(t, c.Flush(ctx))
}
