// Package mdns announces the provisioning portal over multicast DNS.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/port"
	"golang-wifiprov/internal/types"

	"github.com/enbility/zeroconf/v3"
)

const (
	// ServiceType is the DNS-SD type the portal is announced under.
	ServiceType = "_http._tcp"
	// Domain is the mDNS domain.
	Domain = "local."
)

// AdvertiserAdapter is an adapter that implements the Advertiser port using enbility/zeroconf.
type AdvertiserAdapter struct {
	mu     sync.Mutex
	server *zeroconf.Server
}

// Ensure AdvertiserAdapter implements the Advertiser port
var _ port.Advertiser = (*AdvertiserAdapter)(nil)

// NewAdvertiserAdapter creates a new mDNS advertiser adapter.
func NewAdvertiserAdapter() *AdvertiserAdapter {
	return &AdvertiserAdapter{}
}

// Advertise registers service, replacing any previous registration.
func (a *AdvertiserAdapter) Advertise(_ context.Context, service types.PortalService) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	var ifaces []net.Interface
	if service.Interface != "" {
		iface, err := net.InterfaceByName(service.Interface)
		if err != nil {
			return fmt.Errorf("failed to find interface %s: %w", service.Interface, err)
		}
		ifaces = []net.Interface{*iface}
	}

	server, err := zeroconf.Register(
		service.Instance,
		ServiceType,
		Domain,
		service.Port,
		service.Text,
		ifaces,
	)
	if err != nil {
		return fmt.Errorf("failed to register portal service: %w", err)
	}
	a.server = server

	logging.WithComponentAndInterface("mdns", service.Interface).WithFields(map[string]interface{}{
		"instance": service.Instance,
		"port":     service.Port,
	}).Info("Advertising portal")
	return nil
}

// Shutdown withdraws the registration.
func (a *AdvertiserAdapter) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return nil
	}
	a.server.Shutdown()
	a.server = nil
	logging.WithComponent("mdns").Info("Stopped advertising portal")
	return nil
}
