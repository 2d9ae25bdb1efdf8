package dhcp

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/port"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/sirupsen/logrus"
)

const defaultLeaseTime = time.Hour

// ServerAdapter is an adapter that implements the DHCPServer port using the
// server4 package of insomniacslk/dhcp.
type ServerAdapter struct {
	leaseTime time.Duration

	mu       sync.Mutex
	srv      *server4.Server
	iface    string
	serverIP net.IP
	mask     net.IPMask
	pool     []net.IP
	leases   map[string]net.IP // by client hardware address
}

// Ensure ServerAdapter implements the DHCPServer port
var _ port.DHCPServer = (*ServerAdapter)(nil)

// NewServerAdapter creates a new DHCP server adapter.
func NewServerAdapter() *ServerAdapter {
	return &ServerAdapter{leaseTime: defaultLeaseTime}
}

// Start serves leases on interfaceName.
func (s *ServerAdapter) Start(interfaceName string, prefix netip.Prefix, maxClients int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.New("DHCP server already running")
	}
	if err := s.configure(interfaceName, prefix, maxClients); err != nil {
		return err
	}

	laddr := &net.UDPAddr{IP: net.IPv4zero, Port: dhcpv4.ServerPort}
	srv, err := server4.NewServer(interfaceName, laddr, s.handle)
	if err != nil {
		s.leases = nil
		return fmt.Errorf("failed to create DHCP server: %w", err)
	}
	s.srv = srv

	logger := logging.WithComponentAndInterface("dhcpd", interfaceName)
	go func() {
		if err := srv.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.WithError(err).Debug("DHCP server stopped")
		}
	}()

	logger.WithFields(logrus.Fields{
		"server_ip": s.serverIP.String(),
		"pool":      fmt.Sprintf("%s-%s", s.pool[0], s.pool[len(s.pool)-1]),
	}).Info("DHCP server started")
	return nil
}

// configure prepares the address pool. It must be called with mu held.
func (s *ServerAdapter) configure(interfaceName string, prefix netip.Prefix, maxClients int) error {
	if !prefix.Addr().Is4() {
		return fmt.Errorf("DHCP server needs an IPv4 prefix, got %s", prefix)
	}
	if maxClients < 1 {
		return fmt.Errorf("invalid client limit %d", maxClients)
	}

	pool := make([]net.IP, 0, maxClients)
	next := prefix.Addr().Next()
	for len(pool) < maxClients {
		if !prefix.Contains(next) || next == lastAddr(prefix) {
			return fmt.Errorf("prefix %s cannot hold %d clients", prefix, maxClients)
		}
		pool = append(pool, net.IP(next.AsSlice()))
		next = next.Next()
	}

	s.iface = interfaceName
	s.serverIP = net.IP(prefix.Addr().AsSlice())
	s.mask = net.CIDRMask(prefix.Bits(), 32)
	s.pool = pool
	s.leases = make(map[string]net.IP, maxClients)
	return nil
}

// lastAddr returns the broadcast address of an IPv4 prefix.
func lastAddr(prefix netip.Prefix) netip.Addr {
	a := prefix.Masked().Addr().As4()
	host := uint32(1)<<(32-prefix.Bits()) - 1
	v := uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
	v |= host
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// Stop stops serving and forgets all leases.
func (s *ServerAdapter) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.leases = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Close(); err != nil {
		return fmt.Errorf("failed to stop DHCP server: %w", err)
	}
	logging.WithComponentAndInterface("dhcpd", s.iface).Info("DHCP server stopped")
	return nil
}

func (s *ServerAdapter) handle(conn net.PacketConn, peer net.Addr, req *dhcpv4.DHCPv4) {
	logger := logging.WithComponentAndInterface("dhcpd", s.iface).WithFields(logrus.Fields{
		"mac":  req.ClientHWAddr.String(),
		"type": req.MessageType().String(),
	})

	resp, err := s.reply(req)
	if err != nil {
		logger.WithError(err).Warn("Not answering DHCP request")
		return
	}
	if resp == nil {
		return
	}

	// Clients without an address cannot receive unicast replies.
	if udp, ok := peer.(*net.UDPAddr); ok && (udp.IP == nil || udp.IP.IsUnspecified()) {
		peer = &net.UDPAddr{IP: net.IPv4bcast, Port: dhcpv4.ClientPort}
	}

	if _, err := conn.WriteTo(resp.ToBytes(), peer); err != nil {
		logger.WithError(err).Warn("Failed to send DHCP reply")
		return
	}
	logger.WithFields(logrus.Fields{
		"reply": resp.MessageType().String(),
		"ip":    resp.YourIPAddr.String(),
	}).Debug("Sent DHCP reply")
}

// reply builds the answer to req, or nil when no answer is due.
func (s *ServerAdapter) reply(req *dhcpv4.DHCPv4) (*dhcpv4.DHCPv4, error) {
	if req.OpCode != dhcpv4.OpcodeBootRequest {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leases == nil {
		return nil, errors.New("server not running")
	}
	mac := req.ClientHWAddr.String()

	switch req.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		ip := s.allocate(mac)
		if ip == nil {
			return nil, fmt.Errorf("address pool of %d exhausted", len(s.pool))
		}
		return s.build(req, dhcpv4.MessageTypeOffer, ip)

	case dhcpv4.MessageTypeRequest:
		if sid := req.ServerIdentifier(); sid != nil && !sid.Equal(s.serverIP) {
			// The client picked another server's offer.
			delete(s.leases, mac)
			return nil, nil
		}
		requested := req.RequestedIPAddress()
		if requested == nil || requested.IsUnspecified() {
			requested = req.ClientIPAddr
		}
		ip, ok := s.leases[mac]
		if !ok || !ip.Equal(requested) {
			return s.build(req, dhcpv4.MessageTypeNak, nil)
		}
		return s.build(req, dhcpv4.MessageTypeAck, ip)

	case dhcpv4.MessageTypeRelease, dhcpv4.MessageTypeDecline:
		delete(s.leases, mac)
		return nil, nil

	default:
		return nil, nil
	}
}

// allocate returns the address leased to mac, assigning a free one if
// needed. It returns nil when the pool is exhausted.
func (s *ServerAdapter) allocate(mac string) net.IP {
	if ip, ok := s.leases[mac]; ok {
		return ip
	}
	for _, candidate := range s.pool {
		taken := false
		for _, leased := range s.leases {
			if leased.Equal(candidate) {
				taken = true
				break
			}
		}
		if !taken {
			s.leases[mac] = candidate
			return candidate
		}
	}
	return nil
}

func (s *ServerAdapter) build(req *dhcpv4.DHCPv4, kind dhcpv4.MessageType, ip net.IP) (*dhcpv4.DHCPv4, error) {
	modifiers := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(kind),
		dhcpv4.WithServerIP(s.serverIP),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(s.serverIP)),
	}
	if ip != nil {
		modifiers = append(modifiers,
			dhcpv4.WithYourIP(ip),
			dhcpv4.WithNetmask(s.mask),
			dhcpv4.WithRouter(s.serverIP),
			dhcpv4.WithDNS(s.serverIP),
			dhcpv4.WithLeaseTime(uint32(s.leaseTime.Seconds())),
		)
	}

	resp, err := dhcpv4.NewReplyFromRequest(req, modifiers...)
	if err != nil {
		return nil, fmt.Errorf("failed to build DHCP reply: %w", err)
	}
	return resp, nil
}
