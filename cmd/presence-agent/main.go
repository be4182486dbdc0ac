package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/backend"
	"github.com/okeyenglish/presence-agent/internal/baseline"
	"github.com/okeyenglish/presence-agent/internal/cache"
	"github.com/okeyenglish/presence-agent/internal/collector"
	"github.com/okeyenglish/presence-agent/internal/config"
	"github.com/okeyenglish/presence-agent/internal/database"
	"github.com/okeyenglish/presence-agent/internal/device"
	"github.com/okeyenglish/presence-agent/internal/logger"
	"github.com/okeyenglish/presence-agent/internal/notify"
	"github.com/okeyenglish/presence-agent/internal/platform"
	"github.com/okeyenglish/presence-agent/internal/queue"
	"github.com/okeyenglish/presence-agent/internal/realtime"
	"github.com/okeyenglish/presence-agent/internal/server"
	"github.com/okeyenglish/presence-agent/internal/service"
	"github.com/okeyenglish/presence-agent/internal/settings"
	"github.com/okeyenglish/presence-agent/internal/sound"
	"github.com/okeyenglish/presence-agent/internal/storage"
	"github.com/okeyenglish/presence-agent/internal/tracker"
)

func main() {
	configPath := flag.String("config", "config/local.yaml", "Path to configuration file")
	flag.Parse()

	// Optional .env for local development
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting presence agent",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
	)

	if cfg.User.ID == "" {
		log.Fatal("USER_ID is required")
	}

	db, err := database.New(cfg.StoragePath, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	identity := device.Resolve(cfg.Device.ID, cfg.Device.Name, cfg.Device.Mobile)
	log.Info("Device identity resolved",
		zap.String("device_id", identity.ID),
		zap.String("device_name", identity.Name),
		zap.Bool("mobile", identity.Mobile),
	)

	// Local stores: persistent state in SQLite, session marker in memory
	persistent := storage.NewSQLiteStore(db.DB, log.Logger)
	session := storage.NewMemoryStore()

	settingsStore := settings.NewStore(persistent, log.Logger)

	hub := platform.NewHub()

	backendClient, err := backend.New(
		cfg.Backend.URL, cfg.Backend.APIKey, cfg.Backend.Schema,
		cfg.Realtime.Table, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize backend client", zap.Error(err))
	}

	// Audio and notifications degrade to silence when the host lacks the
	// needed commands
	var soundEngine *sound.Engine
	if sink, err := sound.NewSystemSink(log.Logger); err == nil {
		soundEngine = sound.NewEngine(sink, settingsStore, log.Logger)
	} else {
		log.Warn("Audio playback unavailable", zap.Error(err))
		soundEngine = sound.NewEngine(nil, settingsStore, log.Logger)
	}

	gateway := notify.NewGateway(notify.NewSystemPresenter(log.Logger), hub, settingsStore, cfg.NotificationAutoDismiss(), log.Logger)
	defer gateway.Close()

	activityTracker := tracker.NewActivityTracker(
		hub, persistent, session, settingsStore,
		tracker.Options{
			IdleThreshold:    cfg.IdleThreshold(),
			CheckInterval:    cfg.CheckInterval(),
			ActivityThrottle: cfg.ActivityThrottle(),
			AlertGracePeriod: cfg.AlertGracePeriod(),
			MinSessionAge:    cfg.MinSessionAge(),
			AlertEnabled:     cfg.Alert.Enabled,
			Mobile:           identity.Mobile,
		}, log.Logger)

	snapshotCollector := collector.NewSnapshotCollector(
		cfg.Tracking.BatchSize,
		time.Duration(cfg.Tracking.BatchFlush)*time.Second,
		log.Logger)

	retryQueue := queue.NewSnapshotQueue(db.DB, log.Logger)

	baselineFetcher := baseline.NewFetcher(
		backendClient, hub, cfg.User.ID, cfg.BaselineStaleness(), log.Logger)

	caches := cache.NewRegistry(log.Logger)

	synchronizer := realtime.NewSynchronizer(
		realtime.NewWebsocketSource(
			cfg.Backend.URL, cfg.Backend.APIKey, cfg.Backend.Schema,
			cfg.Realtime.Table, cfg.BackendTimeout(), log.Logger),
		realtime.NewPoller(
			backendClient, cfg.PollInterval(), cfg.Realtime.PollLimit, log.Logger),
		caches, soundEngine, gateway,
		realtime.SynchronizerConfig{
			FallbackDelay: cfg.FallbackDelay(),
			OnStateChange: func(state realtime.ConnectionState) {
				log.Info("Realtime connection state changed", zap.String("state", string(state)))
			},
		}, log.Logger)

	presenceService := service.NewPresenceService(
		activityTracker, snapshotCollector, backendClient, retryQueue,
		baselineFetcher, synchronizer, soundEngine, gateway,
		identity, cfg.User.ID, log.Logger)

	ctx := context.Background()
	if err := presenceService.Start(ctx); err != nil {
		log.Fatal("Failed to start presence service", zap.Error(err))
	}

	// Localhost endpoint for host application signals
	var signalHTTPServer *http.Server
	if cfg.Server.Enabled {
		signalServer := server.NewSignalServer(hub, presenceService, log.Logger)
		addr := fmt.Sprintf("localhost:%d", cfg.Server.Port)
		signalHTTPServer = &http.Server{
			Addr:         addr,
			Handler:      signalServer,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			log.Info("Starting signal server", zap.String("address", addr))
			if err := signalHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Signal server error", zap.Error(err))
			}
		}()
	} else {
		log.Info("Signal server disabled in configuration")
	}

	log.Info("Presence agent started",
		zap.String("device_id", identity.ID),
		zap.String("backend_url", cfg.Backend.URL),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	if signalHTTPServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := signalHTTPServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Signal server shutdown error", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		presenceService.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Presence service stopped")
	case <-time.After(5 * time.Second):
		log.Warn("Shutdown timeout reached, forcing exit")
		os.Exit(1)
	}

	log.Info("Presence agent stopped")
}
