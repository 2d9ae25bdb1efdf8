package types

import (
	"net/netip"
)

// RadioMode is the mode the radio is currently operating in.
type RadioMode int

const (
	RadioIdle RadioMode = iota
	RadioAccessPoint
	RadioStation
)

func (m RadioMode) String() string {
	switch m {
	case RadioIdle:
		return "idle"
	case RadioAccessPoint:
		return "access-point"
	case RadioStation:
		return "station"
	default:
		return "unknown"
	}
}

// APConfig describes the access point brought up for provisioning.
type APConfig struct {
	SSID       string
	Passphrase string       // Empty means an open network
	Channel    int          // Fixed channel, 1 by default
	MaxClients int          // Simultaneous associations, 4 by default
	Address    netip.Prefix // Address of the device on the AP network (e.g. 192.168.4.1/24)
}

// StationConfig describes the network joined in station mode.
type StationConfig struct {
	SSID       string
	Passphrase string
}

// RadioEventKind identifies the kind of a RadioEvent.
type RadioEventKind int

const (
	EventAssociated RadioEventKind = iota
	EventDisconnected
	EventGotAddress
)

func (k RadioEventKind) String() string {
	switch k {
	case EventAssociated:
		return "associated"
	case EventDisconnected:
		return "disconnected"
	case EventGotAddress:
		return "got-address"
	default:
		return "unknown"
	}
}

// RadioEvent is reported by a radio driver while in station mode.
type RadioEvent struct {
	Kind    RadioEventKind
	Address netip.Addr // Set for EventGotAddress
	Reason  string     // Free-form detail, e.g. the disconnect reason
}

// ConnectionPhase is the phase of one station-mode connection attempt.
type ConnectionPhase int

const (
	PhaseAttempting ConnectionPhase = iota
	PhaseConnected
	PhaseFailed
)

func (p ConnectionPhase) String() string {
	switch p {
	case PhaseAttempting:
		return "attempting"
	case PhaseConnected:
		return "connected"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen in this phase.
func (p ConnectionPhase) Terminal() bool {
	return p == PhaseConnected || p == PhaseFailed
}

// ConnectivityState is a snapshot of the connectivity monitor.
type ConnectivityState struct {
	Mode       RadioMode
	Phase      ConnectionPhase
	Connected  bool
	Address    netip.Addr // Invalid until an address was assigned
	RetryCount int
}
