// Package provisioning runs the connectivity lifecycle: join the stored
// network, or collect credentials through the access point portal, and start
// over through a restart whenever that is the only way forward.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang-wifiprov/internal/adapter/monitor"
	"golang-wifiprov/internal/adapter/portal"
	"golang-wifiprov/internal/adapter/radio"
	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/pkg/metrics"
	"golang-wifiprov/internal/pkg/tracing"
	"golang-wifiprov/internal/port"
	"golang-wifiprov/internal/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const teardownTimeout = 5 * time.Second

// Status lines shown to the user.
const (
	StatusConnecting      = "Connecting to WiFi..."
	StatusConnected       = "WiFi connection successful."
	StatusReady           = "You can chat now."
	StatusConnectFailed   = "WiFi connection failed."
	StatusSaved           = "Configuration saved. Restarting..."
	StatusTimedOut        = "No configuration received. Restarting..."
	StatusStoreError      = "Storage error. Restarting..."
	StatusRadioError      = "WiFi hardware error. Restarting..."
	statusFoundConfigFmt  = "Found saved config: SSID=%s"
	statusInstructionsFmt = "Connect to %q and open http://%s in a browser."
)

// Outcome is the result of one pass through the boot sequence.
type Outcome int

const (
	// Connected means the station joined the stored network.
	Connected Outcome = iota
	// JoinFailed means the stored network could not be joined and the
	// credentials were cleared.
	JoinFailed
	// Provisioned means new credentials were collected and saved.
	Provisioned
	// Aborted means a store, radio or portal error ended the pass.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Connected:
		return "connected"
	case JoinFailed:
		return "join-failed"
	case Provisioned:
		return "provisioned"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Components are the collaborators driven by the manager.
type Components struct {
	Store      port.CredentialStore
	Radio      *radio.Controller
	Monitor    *monitor.Monitor
	Portal     *portal.Server
	Status     port.StatusSink
	Restarter  port.Restarter
	Advertiser port.Advertiser // optional
	Metrics    *metrics.Collector
}

// Options tune the boot sequence.
type Options struct {
	Interface string
	AP        types.APConfig
	// ProvisioningTimeout bounds the wait for a submission; zero waits forever.
	ProvisioningTimeout time.Duration
	// MDNSInstance names the advertised portal; empty disables advertising.
	MDNSInstance string
}

// Manager is the provisioning orchestrator.
type Manager struct {
	c    Components
	opts Options

	mu      sync.Mutex
	station *radio.Handle

	ready     chan struct{}
	readyOnce sync.Once
}

// Ensure Manager implements the ProvisioningManager port
var _ port.ProvisioningManager = (*Manager)(nil)

// NewManager creates a provisioning manager.
func NewManager(c Components, opts Options) *Manager {
	return &Manager{
		c:     c,
		opts:  opts,
		ready: make(chan struct{}),
	}
}

// GetInterfaceName returns the name of the wireless interface managed by this manager.
func (m *Manager) GetInterfaceName() string {
	return m.opts.Interface
}

// Ready is closed once the device is connected as a station.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Run executes boot passes until the station is connected. Every other
// outcome restarts the device; a restarter that returns nil starts the next
// pass in process.
func (m *Manager) Run(ctx context.Context) error {
	logger := logging.WithComponentAndInterface("provisioning", m.opts.Interface)

	for pass := 1; ; pass++ {
		outcome, err := m.Boot(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if outcome == Connected {
			return nil
		}

		entry := logger.WithFields(logrus.Fields{"pass": pass, "outcome": outcome.String()})
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Warn("Boot pass ended, restarting")

		m.c.Metrics.Restart(outcome.String())
		if err := m.c.Restarter.Restart(ctx, outcome.String()); err != nil {
			return fmt.Errorf("restart after %s: %w", outcome, err)
		}
		// Back in process: start the next pass from a blank display.
		m.c.Status.Reset()
	}
}

// Boot executes the boot sequence once.
func (m *Manager) Boot(ctx context.Context) (Outcome, error) {
	ctx, span := tracing.Tracer().Start(ctx, "provisioning.boot")
	defer span.End()

	outcome, err := m.boot(ctx)
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (m *Manager) boot(ctx context.Context) (Outcome, error) {
	logger := logging.WithComponentAndInterface("provisioning", m.opts.Interface)

	record, err := m.c.Store.Load(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to load saved config")
		m.c.Status.Push(StatusStoreError)
		return Aborted, err
	}

	if record.Present() {
		return m.joinStation(ctx, *record)
	}

	logger.Info("No saved config, starting access point")
	return m.provision(ctx)
}

// joinStation joins the stored network and waits for the monitor to reach a
// terminal phase.
func (m *Manager) joinStation(ctx context.Context, record types.CredentialRecord) (Outcome, error) {
	ctx, span := tracing.Tracer().Start(ctx, "provisioning.station",
		trace.WithAttributes(attribute.String("ssid", record.SSID)))
	defer span.End()

	logger := logging.WithComponentAndInterface("provisioning", m.opts.Interface).WithField("ssid", record.SSID)
	logger.Info("Found saved config")
	m.c.Status.Push(fmt.Sprintf(statusFoundConfigFmt, record.SSID))
	m.c.Status.Push(StatusConnecting)

	// The monitor must be tracking before the driver can report anything.
	m.c.Monitor.Begin(ctx, types.RadioStation)
	h, err := m.c.Radio.StartStation(ctx, record.SSID, record.Password, m.c.Monitor.HandleEvent)
	if err != nil {
		m.c.Monitor.Cancel()
		logger.WithError(err).Error("Failed to start station")
		m.c.Status.Push(StatusRadioError)
		return Aborted, err
	}

	state, err := m.c.Monitor.Wait(ctx)
	if err != nil {
		m.c.Monitor.Cancel()
		m.stopRadio(ctx, h)
		return Aborted, err
	}
	span.SetAttributes(attribute.Int("retries", state.RetryCount))

	if state.Phase == types.PhaseConnected {
		m.mu.Lock()
		m.station = h
		m.mu.Unlock()

		logger.WithField("address", state.Address.String()).Info("WiFi connection successful")
		m.c.Status.Push(StatusConnected)
		m.c.Status.Push(StatusReady)
		m.readyOnce.Do(func() { close(m.ready) })
		return Connected, nil
	}

	logger.WithField("retries", state.RetryCount).Warn("WiFi connection failed, clearing saved config")
	m.c.Status.Push(StatusConnectFailed)
	m.stopRadio(ctx, h)

	failure := fmt.Errorf("%w: %s after %d attempts", types.ErrConnectFailed, record.SSID, state.RetryCount)
	if err := m.c.Store.Clear(ctx); err != nil {
		logger.WithError(err).Error("Failed to clear saved config")
		return JoinFailed, errors.Join(failure, err)
	}
	return JoinFailed, failure
}

// provision runs the access point portal until a submission is saved.
func (m *Manager) provision(ctx context.Context) (Outcome, error) {
	ctx, span := tracing.Tracer().Start(ctx, "provisioning.access_point",
		trace.WithAttributes(attribute.String("ap_ssid", m.opts.AP.SSID)))
	defer span.End()

	logger := logging.WithComponentAndInterface("provisioning", m.opts.Interface)

	h, err := m.c.Radio.StartAccessPoint(ctx, m.opts.AP.SSID, m.opts.AP.Passphrase)
	if err != nil {
		logger.WithError(err).Error("Failed to start access point")
		m.c.Status.Push(StatusRadioError)
		return Aborted, err
	}

	session := portal.NewSession()
	defer session.Close()
	span.SetAttributes(attribute.String("session", session.ID))

	if err := m.c.Portal.Start(session); err != nil {
		logger.WithError(err).Error("Failed to start portal")
		m.stopRadio(ctx, h)
		m.c.Status.Push(StatusRadioError)
		return Aborted, err
	}

	m.c.Status.Push(fmt.Sprintf(statusInstructionsFmt, m.opts.AP.SSID, m.opts.AP.Address.Addr()))
	logger.WithFields(logrus.Fields{
		"ap_ssid": m.opts.AP.SSID,
		"url":     "http://" + m.opts.AP.Address.Addr().String(),
	}).Info("Waiting for configuration")
	m.advertise(ctx, session)

	record, err := session.Wait(ctx, m.opts.ProvisioningTimeout)
	if err != nil {
		m.teardownAccessPoint(ctx, h)
		if errors.Is(err, types.ErrProvisioningTimeout) {
			logger.Warn("No configuration received")
			m.c.Status.Push(StatusTimedOut)
		}
		return Aborted, err
	}

	// The record must be durable before the access point goes away.
	if err := m.c.Store.Save(ctx, record); err != nil {
		logger.WithError(err).Error("Failed to save configuration")
		m.teardownAccessPoint(ctx, h)
		m.c.Status.Push(StatusStoreError)
		return Aborted, err
	}
	logger.WithField("ssid", record.SSID).Info("Configuration saved")

	m.teardownAccessPoint(ctx, h)
	m.c.Status.Push(StatusSaved)
	return Provisioned, nil
}

func (m *Manager) advertise(ctx context.Context, session *portal.Session) {
	if m.c.Advertiser == nil || m.opts.MDNSInstance == "" {
		return
	}
	tcp, ok := m.c.Portal.Addr().(*net.TCPAddr)
	if !ok {
		return
	}
	service := types.PortalService{
		Instance:  m.opts.MDNSInstance,
		Port:      tcp.Port,
		Interface: m.opts.Interface,
		Text:      []string{"path=/", "session=" + session.ID},
	}
	if err := m.c.Advertiser.Advertise(ctx, service); err != nil {
		logging.WithComponent("provisioning").WithError(err).Warn("Failed to advertise portal")
	}
}

// teardownAccessPoint stops the portal, the announcement and the access
// point, in that order. It runs even when ctx is already done.
func (m *Manager) teardownAccessPoint(ctx context.Context, h *radio.Handle) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	logger := logging.WithComponentAndInterface("provisioning", m.opts.Interface)

	if err := m.c.Portal.Stop(ctx); err != nil {
		logger.WithError(err).Warn("Failed to stop portal")
	}
	if m.c.Advertiser != nil {
		if err := m.c.Advertiser.Shutdown(); err != nil {
			logger.WithError(err).Warn("Failed to stop advertising portal")
		}
	}
	m.stopRadio(ctx, h)
}

func (m *Manager) stopRadio(ctx context.Context, h *radio.Handle) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := m.c.Radio.Stop(ctx, h); err != nil {
		logging.WithComponentAndInterface("provisioning", m.opts.Interface).WithError(err).Warn("Failed to stop radio")
	}
}

// Shutdown releases the station left running by a successful boot.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	h := m.station
	m.station = nil
	m.mu.Unlock()

	if h == nil {
		return nil
	}
	return m.c.Radio.Stop(ctx, h)
}
