package cmd

import (
	"context"
	"errors"
	"fmt"
	"golang-wifiprov/internal/adapter/credstore"
	"golang-wifiprov/internal/adapter/dhcp"
	infraDhcp "golang-wifiprov/internal/adapter/infrastructure/dhcp"
	"golang-wifiprov/internal/adapter/infrastructure/file"
	"golang-wifiprov/internal/adapter/infrastructure/mdns"
	"golang-wifiprov/internal/adapter/infrastructure/network"
	"golang-wifiprov/internal/adapter/infrastructure/process"
	"golang-wifiprov/internal/adapter/infrastructure/restart"
	"golang-wifiprov/internal/adapter/infrastructure/sim"
	"golang-wifiprov/internal/adapter/infrastructure/wifi"
	"golang-wifiprov/internal/adapter/monitor"
	"golang-wifiprov/internal/adapter/portal"
	"golang-wifiprov/internal/adapter/provisioning"
	"golang-wifiprov/internal/adapter/radio"
	"golang-wifiprov/internal/adapter/static"
	"golang-wifiprov/internal/adapter/status"
	"golang-wifiprov/internal/pkg/config"
	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/pkg/metrics"
	"golang-wifiprov/internal/pkg/tracing"
	"golang-wifiprov/internal/port"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	configFlag string
)

// createRadioDriver creates the radio driver selected by the configuration
func createRadioDriver(cfg *config.Config, networkMgr port.NetworkManager, fileMgr port.FileManager) (port.RadioDriver, error) {
	logger := logging.GetLogger()
	ifaceName := cfg.Radio.Interface

	switch cfg.Radio.Driver {
	case "linux":
		hostname, _ := os.Hostname()
		dhcpClient := infraDhcp.NewClientAdapter(ifaceName, cfg.Radio.Station.LeaseTimeout, hostname)
		lease := dhcp.NewConfigurator(ifaceName, dhcpClient, networkMgr, fileMgr, cfg.Radio.Linux.ResolvConfPath)
		address := static.NewConfigurator(ifaceName, networkMgr)

		driver := wifi.NewDriverAdapter(wifi.Config{
			Interface:     ifaceName,
			RunDir:        cfg.Radio.Linux.RunDir,
			Hostapd:       cfg.Radio.Linux.Hostapd,
			WPASupplicant: cfg.Radio.Linux.WPASupplicant,
			WPACli:        cfg.Radio.Linux.WPACli,
		}, process.NewRunnerAdapter(), fileMgr, networkMgr, infraDhcp.NewServerAdapter(), lease, address)
		logging.WithInterface(ifaceName).Info("Created linux radio driver")
		return driver, nil

	case "sim":
		addr, err := netip.ParseAddr(cfg.Radio.Sim.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid simulated address: %w", err)
		}
		driver := sim.NewDriverAdapter(sim.Config{
			Networks:  cfg.Radio.Sim.Networks,
			JoinDelay: cfg.Radio.Sim.JoinDelay,
			Address:   addr,
			FailAP:    cfg.Radio.Sim.FailAP,
		})
		logger.WithField("networks", len(cfg.Radio.Sim.Networks)).Info("Created simulated radio driver")
		return driver, nil
	}

	return nil, fmt.Errorf("invalid radio driver %q: must be linux or sim", cfg.Radio.Driver)
}

// createProvisioningManager wires the provisioning lifecycle from the configuration
func createProvisioningManager(cfg *config.Config, collector *metrics.Collector) (*provisioning.Manager, func() error, error) {
	networkMgr := network.NewManagerAdapter()
	fileMgr := file.NewManagerAdapter()

	restarter, err := restart.New(cfg.Restart.Mode, cfg.Restart.Delay)
	if err != nil {
		return nil, nil, err
	}

	driver, err := createRadioDriver(cfg, networkMgr, fileMgr)
	if err != nil {
		return nil, nil, err
	}

	// Opened by the first boot pass, so an unusable store ends that pass
	// with a status line and a restart like any other store error.
	store := credstore.New(cfg.Store.Path, cfg.Store.Namespace)

	controller := radio.NewController(driver, cfg.AccessPoint(), collector)
	components := provisioning.Components{
		Store:     store,
		Radio:     controller,
		Monitor:   monitor.New(controller, cfg.Radio.Station.MaxRetries, cfg.Radio.Station.JoinTimeout, collector),
		Portal:    portal.NewServer(cfg.Portal.Listen, cfg.Portal.MaxBodyBytes, collector),
		Status:    status.NewBoard(cfg.Status.Lines, fileMgr, cfg.Status.MirrorFile),
		Restarter: restarter,
		Metrics:   collector,
	}

	opts := provisioning.Options{
		Interface:           cfg.Radio.Interface,
		AP:                  cfg.AccessPoint(),
		ProvisioningTimeout: cfg.Portal.Timeout,
	}
	if cfg.MDNS.Enabled {
		components.Advertiser = mdns.NewAdvertiserAdapter()
		opts.MDNSInstance = cfg.MDNS.Instance
	}

	return provisioning.NewManager(components, opts), store.Close, nil
}

// serveMetrics runs the Prometheus listener until ctx is done
func serveMetrics(ctx context.Context, g *errgroup.Group, listen string, collector *metrics.Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logging.WithComponent("metrics").WithField("addr", listen).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Join the saved network or run the provisioning portal",
	// Errors reach the process exit status so a supervisor sees them.
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Load and validate configuration
		cfg, err := config.Load(configFlag)
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation error: %w", err)
		}

		// Initialize logging
		logging.InitLogger(cfg.Logging)

		logger := logging.GetLogger()
		logger.WithField("config_file", configFlag).Info("Starting daemon")

		// Create context for graceful shutdown
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Handle shutdown signals
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigChan
			logger.WithField("signal", sig.String()).Info("Received shutdown signal")
			cancel()
		}()

		shutdownTracing, err := tracing.Init(ctx, tracing.Config{
			Enabled:     cfg.Tracing.Enabled,
			ServiceName: cfg.Tracing.ServiceName,
		})
		if err != nil {
			logger.WithError(err).Error("Failed to initialize tracing")
			return err
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.WithError(err).Warn("Failed to flush traces")
			}
		}()

		collector, err := metrics.NewCollector(nil)
		if err != nil {
			logger.WithError(err).Error("Failed to register metrics")
			return err
		}

		manager, closeStore, err := createProvisioningManager(cfg, collector)
		if err != nil {
			logger.WithError(err).Error("Failed to create provisioning manager")
			return err
		}
		defer closeStore()

		g, gctx := errgroup.WithContext(ctx)
		if cfg.Metrics.Listen != "" {
			serveMetrics(gctx, g, cfg.Metrics.Listen, collector)
		}

		g.Go(func() error {
			if err := manager.Run(gctx); err != nil {
				return err
			}
			logging.WithInterface(manager.GetInterfaceName()).Info("Connectivity available")

			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return manager.Shutdown(shutdownCtx)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			logging.WithInterface(manager.GetInterfaceName()).WithError(err).Error("Provisioning manager failed")
			return err
		}
		logger.Info("Daemon stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configFlag, "config", "f", "", "Path to config file (YAML)")
	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		panic(err) // This should never happen during initialization
	}
	rootCmd.AddCommand(serveCmd)
}
