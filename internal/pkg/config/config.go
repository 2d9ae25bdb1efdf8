package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/types"

	"gopkg.in/yaml.v3"
)

// Defaults taken from the device firmware this daemon replaces.
const (
	DefaultInterface     = "wlan0"
	DefaultAPSSID        = "OpenAI"
	DefaultAPChannel     = 1
	DefaultAPMaxClients  = 4
	DefaultAPAddress     = "192.168.4.1/24"
	DefaultMaxRetries    = 5
	DefaultJoinTimeout   = 10 * time.Second
	DefaultLeaseTimeout  = 15 * time.Second
	DefaultStorePath     = "/var/lib/wifiprov/nvs.db"
	DefaultNamespace     = "wifi_config"
	DefaultPortalListen  = ":80"
	DefaultMaxBodyBytes  = 1024
	DefaultRestartMode   = "reboot"
	DefaultRestartDelay  = 3 * time.Second
	DefaultRunDir        = "/run/wifiprov"
	DefaultStatusLines   = 5
	DefaultMDNSInstance  = "wifiprov"
	DefaultTracingName   = "wifiprov"
	DefaultSimJoinDelay  = 200 * time.Millisecond
	DefaultSimAddress    = "192.168.1.50"
	maxAPSSIDLen         = 32
	maxWPAPassphraseLen  = 63
	minWPAPassphraseLen  = 8
	maxAPClientsHardware = 10
)

// Config represents the main configuration structure
type Config struct {
	Logging logging.LogConfig `yaml:"logging"`
	Radio   RadioConfig       `yaml:"radio"`
	Store   StoreConfig       `yaml:"store"`
	Portal  PortalConfig      `yaml:"portal"`
	MDNS    MDNSConfig        `yaml:"mdns"`
	Metrics MetricsConfig     `yaml:"metrics"`
	Tracing TracingConfig     `yaml:"tracing"`
	Restart RestartConfig     `yaml:"restart"`
	Status  StatusConfig      `yaml:"status"`
}

// RadioConfig selects the radio driver and its parameters
type RadioConfig struct {
	Driver    string        `yaml:"driver"` // linux or sim
	Interface string        `yaml:"interface"`
	AP        APConfig      `yaml:"ap"`
	Station   StationConfig `yaml:"station"`
	Linux     LinuxConfig   `yaml:"linux"`
	Sim       SimConfig     `yaml:"sim"`
}

// APConfig represents the provisioning access point
type APConfig struct {
	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase"`
	Channel    int    `yaml:"channel"`
	MaxClients int    `yaml:"max_clients"`
	Address    string `yaml:"address"` // CIDR, e.g. 192.168.4.1/24
}

// StationConfig represents the station-mode retry policy
type StationConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	JoinTimeout  time.Duration `yaml:"join_timeout"`
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
}

// LinuxConfig points at the wireless tools driven by the linux driver
type LinuxConfig struct {
	RunDir         string `yaml:"run_dir"`
	Hostapd        string `yaml:"hostapd"`
	WPASupplicant  string `yaml:"wpa_supplicant"`
	WPACli         string `yaml:"wpa_cli"`
	ResolvConfPath string `yaml:"resolv_conf"`
}

// SimConfig configures the simulated radio driver
type SimConfig struct {
	Networks  map[string]string `yaml:"networks"` // ssid -> passphrase
	JoinDelay time.Duration     `yaml:"join_delay"`
	Address   string            `yaml:"address"`
	FailAP    bool              `yaml:"fail_ap"`
}

// StoreConfig locates the persistent credential store
type StoreConfig struct {
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// PortalConfig represents the provisioning HTTP endpoint
type PortalConfig struct {
	Listen       string        `yaml:"listen"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	Timeout      time.Duration `yaml:"timeout"` // 0 waits for a submission forever
}

// MDNSConfig controls announcement of the portal
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// MetricsConfig controls the Prometheus listener
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the listener
}

// TracingConfig controls OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// RestartConfig selects how the device restarts
type RestartConfig struct {
	Mode  string        `yaml:"mode"` // reboot, exit or soft
	Delay time.Duration `yaml:"delay"`
}

// StatusConfig represents the status list shown to the user
type StatusConfig struct {
	Lines      int    `yaml:"lines"`
	MirrorFile string `yaml:"mirror_file"` // optional file rewritten on every push
}

// Load loads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills every unset field with its default
func (c *Config) ApplyDefaults() {
	if c.Radio.Driver == "" {
		c.Radio.Driver = "linux"
	}
	if c.Radio.Interface == "" {
		c.Radio.Interface = DefaultInterface
	}
	if c.Radio.AP.SSID == "" {
		c.Radio.AP.SSID = DefaultAPSSID
	}
	if c.Radio.AP.Channel == 0 {
		c.Radio.AP.Channel = DefaultAPChannel
	}
	if c.Radio.AP.MaxClients == 0 {
		c.Radio.AP.MaxClients = DefaultAPMaxClients
	}
	if c.Radio.AP.Address == "" {
		c.Radio.AP.Address = DefaultAPAddress
	}
	if c.Radio.Station.MaxRetries == 0 {
		c.Radio.Station.MaxRetries = DefaultMaxRetries
	}
	if c.Radio.Station.JoinTimeout == 0 {
		c.Radio.Station.JoinTimeout = DefaultJoinTimeout
	}
	if c.Radio.Station.LeaseTimeout == 0 {
		c.Radio.Station.LeaseTimeout = DefaultLeaseTimeout
	}
	if c.Radio.Linux.RunDir == "" {
		c.Radio.Linux.RunDir = DefaultRunDir
	}
	if c.Radio.Linux.Hostapd == "" {
		c.Radio.Linux.Hostapd = "hostapd"
	}
	if c.Radio.Linux.WPASupplicant == "" {
		c.Radio.Linux.WPASupplicant = "wpa_supplicant"
	}
	if c.Radio.Linux.WPACli == "" {
		c.Radio.Linux.WPACli = "wpa_cli"
	}
	if c.Radio.Linux.ResolvConfPath == "" {
		c.Radio.Linux.ResolvConfPath = "/etc/resolv.conf"
	}
	if c.Radio.Sim.JoinDelay == 0 {
		c.Radio.Sim.JoinDelay = DefaultSimJoinDelay
	}
	if c.Radio.Sim.Address == "" {
		c.Radio.Sim.Address = DefaultSimAddress
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Store.Namespace == "" {
		c.Store.Namespace = DefaultNamespace
	}
	if c.Portal.Listen == "" {
		c.Portal.Listen = DefaultPortalListen
	}
	if c.Portal.MaxBodyBytes == 0 {
		c.Portal.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.MDNS.Instance == "" {
		c.MDNS.Instance = DefaultMDNSInstance
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultTracingName
	}
	if c.Restart.Mode == "" {
		c.Restart.Mode = DefaultRestartMode
	}
	if c.Restart.Delay == 0 {
		c.Restart.Delay = DefaultRestartDelay
	}
	if c.Status.Lines == 0 {
		c.Status.Lines = DefaultStatusLines
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Radio.Driver {
	case "linux", "sim":
	default:
		return fmt.Errorf("radio: unknown driver %q (want linux or sim)", c.Radio.Driver)
	}
	if err := validateAP(c.Radio.AP); err != nil {
		return err
	}
	if c.Radio.Station.MaxRetries < 1 {
		return fmt.Errorf("radio.station: max_retries must be at least 1")
	}
	if c.Radio.Station.JoinTimeout < 0 || c.Radio.Station.LeaseTimeout < 0 {
		return fmt.Errorf("radio.station: timeouts must not be negative")
	}
	if c.Radio.Driver == "sim" {
		if _, err := netip.ParseAddr(c.Radio.Sim.Address); err != nil {
			return fmt.Errorf("radio.sim: invalid address %q: %w", c.Radio.Sim.Address, err)
		}
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store: path is required")
	}
	if c.Portal.MaxBodyBytes < 64 {
		return fmt.Errorf("portal: max_body_bytes must be at least 64")
	}
	if c.Portal.Timeout < 0 {
		return fmt.Errorf("portal: timeout must not be negative")
	}
	switch strings.ToLower(c.Restart.Mode) {
	case "reboot", "exit", "soft":
	default:
		return fmt.Errorf("restart: unknown mode %q (want reboot, exit or soft)", c.Restart.Mode)
	}
	if c.Status.Lines < 1 {
		return fmt.Errorf("status: lines must be at least 1")
	}
	return nil
}

func validateAP(ap APConfig) error {
	if ap.SSID == "" || len(ap.SSID) > maxAPSSIDLen {
		return fmt.Errorf("radio.ap: ssid must be 1-%d bytes", maxAPSSIDLen)
	}
	if ap.Passphrase != "" && (len(ap.Passphrase) < minWPAPassphraseLen || len(ap.Passphrase) > maxWPAPassphraseLen) {
		return fmt.Errorf("radio.ap: passphrase must be empty or %d-%d characters", minWPAPassphraseLen, maxWPAPassphraseLen)
	}
	if ap.Channel < 1 || ap.Channel > 14 {
		return fmt.Errorf("radio.ap: channel %d out of range 1-14", ap.Channel)
	}
	if ap.MaxClients < 1 || ap.MaxClients > maxAPClientsHardware {
		return fmt.Errorf("radio.ap: max_clients must be 1-%d", maxAPClientsHardware)
	}
	prefix, err := netip.ParsePrefix(ap.Address)
	if err != nil {
		return fmt.Errorf("radio.ap: invalid address %q: %w", ap.Address, err)
	}
	if !prefix.Addr().Is4() {
		return fmt.Errorf("radio.ap: only IPv4 addresses are supported: %s", ap.Address)
	}
	return nil
}

// AccessPoint converts the AP section into the radio type
func (c *Config) AccessPoint() types.APConfig {
	prefix, _ := netip.ParsePrefix(c.Radio.AP.Address)
	return types.APConfig{
		SSID:       c.Radio.AP.SSID,
		Passphrase: c.Radio.AP.Passphrase,
		Channel:    c.Radio.AP.Channel,
		MaxClients: c.Radio.AP.MaxClients,
		Address:    prefix,
	}
}
