package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/tabtime/internal/api"
	"github.com/goodtune/tabtime/internal/blocklist"
	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/dns"
	"github.com/goodtune/tabtime/internal/events"
	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/rules"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/storage/bolt"
	"github.com/goodtune/tabtime/internal/storage/redis"
	"github.com/goodtune/tabtime/internal/syncer"
	"github.com/goodtune/tabtime/internal/systemd"
	"github.com/goodtune/tabtime/internal/usage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start TabTime daemon",
	Long:  `Start the TabTime daemon with events, metrics, and optional DNS sinkhole endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting TabTime")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get systemd listeners")
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	// Initialize Usage Store and load the persisted buffer
	usageStore := usage.NewStore(store.SiteData(), cfg.Tracking.MaxSiteEntries, usage.RealClock{}, logger)

	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := usageStore.Load(loadCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to load usage data: %w", err)
	}
	cancel()

	usageStore.StartCleanup(parseDuration(cfg.Tracking.CleanupInterval, 24*time.Hour))

	logger.Info().Msg("Usage Store initialized")

	// Initialize backend API client
	apiClient := api.NewClient(api.Config{
		BaseURL:   cfg.Backend.BaseURL,
		AuthToken: cfg.Backend.AuthToken,
		Timeout:   parseDuration(cfg.Backend.Timeout, api.DefaultTimeout),
	}, logger)

	logger.Info().
		Str("base_url", cfg.Backend.BaseURL).
		Msg("Backend client initialized")

	// Initialize DNS sinkhole (if enabled) and the rule applier
	var dnsServer *dns.Server
	var sinks []rules.Sink
	if cfg.DNSBlock.Enabled {
		dnsConfig := dns.Config{
			ListenAddr:  fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.DNSBlock.Port),
			UpstreamDNS: cfg.DNSBlock.UpstreamServers,
			BlockTTL:    cfg.DNSBlock.BlockTTL,
			EnableTCP:   cfg.DNSBlock.EnableTCP,
			EnableUDP:   cfg.DNSBlock.EnableUDP,
			Timeout:     parseDuration(cfg.DNSBlock.UpstreamTimeout, 5*time.Second),
		}

		dnsServer = dns.NewServer(dnsConfig, logger)
		sinks = append(sinks, dnsServer)

		// Use systemd socket-activated listeners if available
		if sdListeners.Activated {
			dnsServer.SetListeners(sdListeners.DNSUdp, sdListeners.DNSTcp)
		}

		if err := dnsServer.Start(); err != nil {
			return fmt.Errorf("failed to start DNS sinkhole: %w", err)
		}

		logger.Info().
			Str("addr", dnsConfig.ListenAddr).
			Msg("DNS sinkhole started")
	}

	applier := rules.NewApplier(logger, sinks...)

	// Initialize Blocklist Cache with the initial remote fetch. A failed or
	// empty fetch falls back to the configured defaults.
	cache := blocklist.New(apiClient, applier, cfg.Blocklist.Defaults, logger)

	refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := cache.Refresh(refreshCtx); err != nil {
		logger.Warn().Err(err).Msg("Initial blocking rules not fully applied")
	}
	cancel()

	logger.Info().
		Int("sites", len(cache.Snapshot())).
		Msg("Blocklist initialized")

	// Initialize Tab Registry and Tracker
	tabs := events.NewTabRegistry()

	tracker := usage.NewTracker(
		usageStore,
		cache,
		tabs,
		usage.Config{
			MinTrackTime:  parseDuration(cfg.Tracking.MinTrackTime, usage.DefaultMinTrackTime),
			MaxSessionGap: parseDuration(cfg.Tracking.MaxSessionGap, usage.DefaultMaxSessionGap),
		},
		usage.RealClock{},
		logger,
	)

	logger.Info().Msg("Tracker initialized")

	// Initialize Sync Engine
	syncEngine := syncer.NewEngine(usageStore, cache, apiClient, logger)

	// Initialize Events Server
	eventsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.EventsPort)
	eventsServer := events.NewServer(eventsAddr, tabs, tracker, usageStore, cache, syncEngine, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Events != nil {
		eventsServer.SetListener(sdListeners.Events)
	}

	if err := eventsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Events Server: %w", err)
	}

	logger.Info().
		Str("addr", eventsAddr).
		Msg("Events Server started")

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().
		Str("addr", metricsAddr).
		Msg("Metrics Server started")

	// Log startup complete
	logger.Info().Msg("TabTime startup complete")
	logger.Info().Msgf("Events: http://%s/api/v1", eventsAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)
	if dnsServer != nil {
		logger.Info().Msgf("DNS sinkhole: %s:%d", cfg.Server.BindAddress, cfg.DNSBlock.Port)
	}

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	// Signal handling loop
	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGHUP:
			logger.Info().Msg("SIGHUP received, refreshing blocklist...")
			refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := cache.Refresh(refreshCtx); err != nil {
				logger.Error().Err(err).Msg("Failed to refresh blocklist")
			} else {
				logger.Info().Msg("Blocklist refreshed successfully")
			}
			cancel()
			// Continue running
			continue

		case os.Interrupt, syscall.SIGTERM:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			// Break out of loop to shutdown
		}

		// Only reached on shutdown signals
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Flush the in-flight session before stopping anything that could
	// still attribute time to it.
	tracker.OnSuspend()

	// Stop servers
	if err := eventsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Events Server")
	}

	if dnsServer != nil {
		if err := dnsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping DNS sinkhole")
		}
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	// Final durable write of the usage buffer
	usageStore.Stop()

	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := usageStore.Persist(persistCtx); err != nil {
		logger.Error().Err(err).Msg("Final persist failed")
	}
	cancel()

	logger.Info().Msg("TabTime stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
