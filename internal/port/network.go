// Package port defines the primary ports (interfaces) for the application.
// This follows the Ports and Adapters (Hexagonal Architecture) pattern.
package port

import (
	"context"
)

// ProvisioningManager is the primary port for the connectivity lifecycle.
// The provisioning orchestrator is its adapter: it either joins the stored
// network or collects credentials through the access point portal, and
// restarts the device whenever the lifecycle has to start over.
type ProvisioningManager interface {
	// Run executes the boot sequence until connectivity is available, the
	// context is cancelled, or a restart could not be performed.
	Run(ctx context.Context) error

	// Ready is closed once the device is connected as a station.
	Ready() <-chan struct{}

	// GetInterfaceName returns the name of the wireless interface managed by this manager.
	GetInterfaceName() string
}
