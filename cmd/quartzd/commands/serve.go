package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quartzfs/quartz/internal/logger"
	"github.com/quartzfs/quartz/pkg/config"
	"github.com/quartzfs/quartz/pkg/metrics"
	"github.com/quartzfs/quartz/pkg/metrics/prometheus"
	"github.com/quartzfs/quartz/pkg/server"
	"github.com/quartzfs/quartz/pkg/server/handlers"
	"github.com/quartzfs/quartz/pkg/storage"
	"github.com/quartzfs/quartz/pkg/store/metadata/badger"
	"github.com/quartzfs/quartz/pkg/store/users"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(cfgFile)
	if err != nil {
		return err
	}

	// The one positional argument is a port override.
	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port %q: expected an integer between 1 and 65535", args[0])
		}
		cfg.Server.Port = port
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Starting quartzd",
		"version", Version,
		"port", cfg.Server.Port,
		"max_clients", cfg.Server.MaxClients)

	// Metrics come up before the stores so collection is live when they
	// register their collectors.
	var srvMetrics metrics.ServerMetrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		srvMetrics = prometheus.NewServerMetrics()
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("Metrics server error", logger.KeyError, err)
			}
		}()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	}

	userStore, err := users.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open user store: %w", err)
	}
	defer userStore.Close()

	meta, err := badger.Open(cfg.Metadata.Path)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer meta.Close()

	disk, err := storage.NewDisk(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("failed to open storage root: %w", err)
	}

	registry := server.NewRegistry()
	handlers.RegisterAll(registry, &handlers.Env{
		Users:     userStore,
		Meta:      meta,
		Disk:      disk,
		ChunkSize: int64(cfg.Transfer.ChunkSize),
		Metrics:   srvMetrics,
	})

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		MaxClients:      cfg.Server.MaxClients,
		SessionTimeout:  cfg.Server.SessionTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		ReadBufferSize:  int(cfg.Server.ReadBufferSize),
		MaxFrameSize:    uint32(cfg.Transfer.MaxFrameSize),
		LogPackets:      cfg.Logging.LogPackets,
	}, registry, meta, disk, srvMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case sig := <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(context.Background()); err != nil {
			logger.Warn("Metrics server shutdown error", logger.KeyError, err)
		}
	}
	return nil
}
