package types

// PortalService describes the provisioning portal announced over mDNS.
type PortalService struct {
	Instance  string   // Service instance name, e.g. "wifiprov-a1b2"
	Port      int      // TCP port the portal listens on
	Interface string   // Interface to announce on, empty for all
	Text      []string // TXT records as key=value strings
}
