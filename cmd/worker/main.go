package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelbench-go/internal/plugins"
	"github.com/modelbench-go/internal/worker"
	"github.com/modelbench-go/pkg/config"
	"github.com/modelbench-go/pkg/logger"
)

func main() {
	cfg, err := config.Load("worker")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pluginManager, err := plugins.NewManager(ctx, plugins.ManagerConfig{
		Limits: plugins.ResourceLimits{
			MaxMemoryBytes:     cfg.Plugins.MaxMemoryBytes,
			MaxExecutionTimeMs: cfg.Plugins.MaxExecutionTimeMs,
			MaxInstructions:    cfg.Plugins.MaxInstructions,
		},
		MaxConcurrent: cfg.Plugins.MaxConcurrent,
		CacheDir:      cfg.Plugins.CacheDir,
	}, nil, log)
	if err != nil {
		log.Fatal("Failed to create plugin manager", "error", err)
	}
	defer pluginManager.Close(context.Background())

	registry := worker.NewRegistry()
	registry.Register(worker.EchoExecutor{})
	registry.Register(worker.NewPluginExecutor(pluginManager))
	registry.SetFallback(worker.EchoExecutor{})

	agent := worker.NewAgent(worker.AgentConfig{
		WorkerID:     cfg.Worker.WorkerID,
		Address:      cfg.Worker.Address,
		Capacity:     cfg.Worker.Capacity,
		Tags:         cfg.Worker.Tags,
		PollInterval: time.Duration(cfg.Worker.PollInterval) * time.Second,
		AuthUser:     cfg.API.OperatorUser,
		AuthPassword: os.Getenv("MODELBENCH_OPERATOR_PASSWORD"),
	}, worker.NewClient(cfg.Worker.CoordinatorURL), registry, log)

	done := make(chan error, 1)
	go func() {
		done <- agent.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Shutting down worker...")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			log.Fatal("Worker failed", "error", err)
		}
	}

	log.Info("Worker exited")
}
