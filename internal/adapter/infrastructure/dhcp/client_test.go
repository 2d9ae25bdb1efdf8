//go:build unit

package dhcp

import (
	"context"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAdapter_RequestLease_UnknownInterface(t *testing.T) {
	adapter := NewClientAdapter("nonexistent0", 100*time.Millisecond, "")

	_, err := adapter.RequestLease(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create DHCP client")
}

func TestClientAdapter_Modifiers(t *testing.T) {
	build := func(c *ClientAdapter) *dhcpv4.DHCPv4 {
		t.Helper()
		msg, err := dhcpv4.NewDiscovery(nil, c.modifiers()...)
		require.NoError(t, err)
		return msg
	}

	t.Run("RequestsLeaseParameters", func(t *testing.T) {
		msg := build(NewClientAdapter("wlan0", time.Second, ""))
		requested := msg.ParameterRequestList()
		for _, code := range leaseOptions {
			assert.True(t, requested.Has(code), "missing %s", code)
		}
		assert.Empty(t, msg.HostName())
	})

	t.Run("SendsHostname", func(t *testing.T) {
		msg := build(NewClientAdapter("wlan0", time.Second, "speaker-1"))
		assert.Equal(t, "speaker-1", msg.HostName())
	})
}
