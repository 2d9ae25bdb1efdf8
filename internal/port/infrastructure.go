// Package port defines the primary ports (interfaces) for the application.
// This follows the Ports and Adapters (Hexagonal Architecture) pattern.
package port

//go:generate mockgen -source=infrastructure.go -destination=../mock/infrastructure.go -package=mock

import (
	"context"
	"net/netip"

	"golang-wifiprov/internal/types"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/vishvananda/netlink"
)

// CredentialStore is a port for the persistent credential record.
type CredentialStore interface {
	// Load returns the committed record, or nil when none was ever written
	Load(ctx context.Context) (*types.CredentialRecord, error)

	// Save commits all fields of the record or none of them
	Save(ctx context.Context, record types.CredentialRecord) error

	// Clear erases the record; clearing an empty store succeeds
	Clear(ctx context.Context) error
}

// EventHandler receives station-mode events from a radio driver.
// It is called from the driver's own goroutines.
type EventHandler func(event types.RadioEvent)

// RadioDriver is a port for the radio subsystem primitives.
// Implementations are not required to enforce mode exclusivity, the radio
// controller does that.
type RadioDriver interface {
	// StartAccessPoint brings the radio up as an access point
	StartAccessPoint(ctx context.Context, cfg types.APConfig) error

	// StartStation brings the radio up as a station and initiates a join.
	// It does not wait for the join to complete; progress is reported to handler.
	StartStation(ctx context.Context, cfg types.StationConfig, handler EventHandler) error

	// Join re-issues a join of the configured network while in station mode
	Join(ctx context.Context) error

	// Stop tears down whichever mode is active and unregisters the event handler
	Stop(ctx context.Context) error
}

// DHCPClient is a port for DHCP client operations.
// This interface abstracts DHCP lease acquisition and management.
type DHCPClient interface {
	// RequestLease performs the DISCOVER/OFFER/REQUEST/ACK sequence on the
	// interface the client was created for
	RequestLease(ctx context.Context) (*dhcpv4.DHCPv4, error)
}

// DHCPServer is a port for handing out addresses on the access point network.
type DHCPServer interface {
	// Start serves leases on interfaceName. The server owns the address of
	// prefix; clients are offered the following maxClients addresses.
	Start(interfaceName string, prefix netip.Prefix, maxClients int) error

	// Stop stops serving and forgets all leases; it is a no-op when stopped
	Stop() error
}

// NetworkManager is a port for network interface operations.
// This interface abstracts netlink operations for network configuration.
type NetworkManager interface {
	// GetLinkByName returns a network link by interface name
	GetLinkByName(interfaceName string) (netlink.Link, error)

	// ListAddresses returns IPv4 addresses configured on the link
	ListAddresses(link netlink.Link) ([]netlink.Addr, error)

	// AddAddress adds an IP address to the interface
	AddAddress(link netlink.Link, addr *netlink.Addr) error

	// DeleteAddress removes an IP address from the interface
	DeleteAddress(link netlink.Link, addr *netlink.Addr) error

	// ListRoutes returns IPv4 routes
	ListRoutes() ([]netlink.Route, error)

	// AddRoute adds a route
	AddRoute(route *netlink.Route) error

	// DeleteRoute removes a route
	DeleteRoute(route *netlink.Route) error

	// SetLinkUp brings the interface up
	SetLinkUp(link netlink.Link) error

	// SetLinkDown takes the interface down
	SetLinkDown(link netlink.Link) error

	// SubscribeLinkUpdates streams link state changes until done is closed
	SubscribeLinkUpdates(done <-chan struct{}) (<-chan netlink.LinkUpdate, error)
}

// FileManager is a port for file system operations.
// This interface abstracts file read/write operations.
type FileManager interface {
	// ReadFile reads the contents of a file
	ReadFile(filename string) ([]byte, error)

	// WriteFile replaces a file with data, readers never see a partial file
	WriteFile(filename string, data []byte, perm int) error

	// RemoveFile deletes a file; a missing file is not an error
	RemoveFile(filename string) error
}

// Process is a handle to a started external program.
type Process interface {
	// Pid returns the operating system process id
	Pid() int

	// Stop terminates the process and waits for it to exit
	Stop() error

	// Done is closed when the process has exited
	Done() <-chan struct{}
}

// ProcessRunner is a port for running external programs (hostapd, wpa_supplicant, wpa_cli).
type ProcessRunner interface {
	// Start launches a long-running program
	Start(ctx context.Context, name string, args ...string) (Process, error)

	// Run executes a program to completion and returns its combined output
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Restarter is a port for restarting the device so the boot sequence runs again.
type Restarter interface {
	// Restart restarts the device. Hardware restarters do not return on success;
	// an in-process restarter returns nil and the caller re-enters its boot sequence.
	Restart(ctx context.Context, reason string) error
}

// StatusSink is a port for the user-facing status display.
type StatusSink interface {
	// Push appends one line of text to the status list
	Push(line string)

	// Reset clears the list, as a restart of the device would
	Reset()
}

// Advertiser is a port for announcing the provisioning portal on the local network.
type Advertiser interface {
	// Advertise starts announcing the service, replacing any previous announcement
	Advertise(ctx context.Context, service types.PortalService) error

	// Shutdown stops announcing; it is a no-op when nothing is announced
	Shutdown() error
}
