package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelbench-go/internal/api/server"
	"github.com/modelbench-go/internal/coordinator"
	"github.com/modelbench-go/internal/coordinator/store"
	"github.com/modelbench-go/internal/plugins"
	"github.com/modelbench-go/pkg/config"
	"github.com/modelbench-go/pkg/events"
	"github.com/modelbench-go/pkg/logger"
	"github.com/modelbench-go/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("coordinator")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Logger)

	tel, err := telemetry.New(telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		JaegerURL:    cfg.Telemetry.JaegerURL,
		ServiceName:  cfg.Telemetry.ServiceName,
		Version:      coordinator.Version,
		Environment:  cfg.Environment,
		SamplingRate: cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		log.Fatal("Failed to initialise telemetry", "error", err)
	}
	defer tel.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var opts []coordinator.Option
	if archive := openArchive(ctx, cfg, log); archive != nil {
		opts = append(opts, coordinator.WithArchive(archive))
	}

	coord := coordinator.New(coordinator.Config{
		HeartbeatInterval:  cfg.Coordinator.HeartbeatIntervalDuration(),
		UnhealthyThreshold: cfg.Coordinator.UnhealthyThresholdDuration(),
		MaxRetries:         cfg.Coordinator.MaxRetries,
		MaxCompletedJobs:   cfg.Coordinator.MaxCompletedJobs,
		EventChannelDepth:  cfg.API.WSChannelDepth,
	}, log, opts...)

	if err := coord.Start(ctx); err != nil {
		log.Fatal("Failed to start coordinator", "error", err)
	}
	defer coord.Stop()

	if cfg.Kafka.Enabled {
		bridge := events.NewKafkaBridge(events.KafkaBridgeConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, coord.Bus(), log)
		bridge.Start(ctx)
		defer bridge.Close()
		log.Info("Kafka event bridge enabled", "topic", cfg.Kafka.Topic)
	}

	pluginManager, err := plugins.NewManager(ctx, plugins.ManagerConfig{
		Limits: plugins.ResourceLimits{
			MaxMemoryBytes:     cfg.Plugins.MaxMemoryBytes,
			MaxExecutionTimeMs: cfg.Plugins.MaxExecutionTimeMs,
			MaxInstructions:    cfg.Plugins.MaxInstructions,
		},
		MaxConcurrent: cfg.Plugins.MaxConcurrent,
		CacheDir:      cfg.Plugins.CacheDir,
		Capabilities:  grantedCapabilities(cfg.Plugins),
	}, coord.Bus(), log)
	if err != nil {
		log.Fatal("Failed to create plugin manager", "error", err)
	}
	defer pluginManager.Close(context.Background())

	apiServer := server.New(cfg.API, coord, pluginManager, tel, log)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatal("API server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down coordinator...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Coordinator exited")
}

// openArchive picks the configured external job store, if any. SQL wins when
// both are enabled.
func openArchive(ctx context.Context, cfg *config.Config, log logger.Logger) store.Archive {
	if cfg.Database.Enabled {
		archive, err := store.NewSQLArchive(store.SQLArchiveConfig{
			Driver: cfg.Database.Driver,
			DSN:    cfg.Database.DSN(),
		})
		if err != nil {
			log.Fatal("Failed to open SQL job archive", "error", err)
		}
		log.Info("SQL job archive enabled", "driver", cfg.Database.Driver)
		return archive
	}

	if cfg.Redis.Enabled {
		archive, err := store.NewRedisArchive(ctx, store.RedisArchiveConfig{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, log)
		if err != nil {
			log.Fatal("Failed to open Redis job archive", "error", err)
		}
		log.Info("Redis job archive enabled", "addr", cfg.Redis.Addr())
		return archive
	}

	return nil
}

func grantedCapabilities(cfg config.PluginsConfig) []plugins.Capability {
	var caps []plugins.Capability
	if cfg.EnableFilesystem {
		caps = append(caps, plugins.CapFilesystem)
	}
	if cfg.EnableNetwork {
		caps = append(caps, plugins.CapNetwork)
	}
	if cfg.EnableSystemTime {
		caps = append(caps, plugins.CapSystemTime)
	}
	return caps
}
