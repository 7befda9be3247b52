package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/asklokesh/next-portal/catalog/internal/catalog"
	"github.com/asklokesh/next-portal/catalog/internal/config"
	"github.com/asklokesh/next-portal/catalog/internal/queue"
	"github.com/asklokesh/next-portal/catalog/internal/server"
	mid "github.com/asklokesh/next-portal/catalog/internal/server/middleware"
	"github.com/asklokesh/next-portal/catalog/internal/storage"
	"github.com/asklokesh/next-portal/catalog/internal/util"
	"github.com/asklokesh/next-portal/catalog/pkg/graph"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"github.com/asklokesh/next-portal/catalog/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	cfg, err := config.Load()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: cfg.Debug,
		JSON:  cfg.LogFormat == "json",
	})
	logger.Init(consoleLogger)
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := storage.OpenGraphBackend(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open graph store", "err", err)
	}
	defer backend.Close()

	detectors, err := catalog.Detectors(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to set up detectors", "err", err)
	}
	graphClient, err := catalog.NewGraphClient(cfg.Inference, backend.Storage, detectors)
	if err != nil {
		logger.Fatal("Failed to create graph client", "err", err)
	}
	searchClient, err := catalog.NewSearchClient(cfg.Search, backend.Storage)
	if err != nil {
		logger.Fatal("Failed to create search client", "err", err)
	}

	// The server never starts the schedule; it only runs full inference on
	// request, guarded like the worker's runs.
	runner, err := graph.NewScheduler(graph.SchedulerParams{
		Client:  graphClient,
		Storage: backend.Storage,
		Lock:    catalog.RunLock(backend, false),
	})
	if err != nil {
		logger.Fatal("Failed to create inference runner", "err", err)
	}

	app := &mid.App{
		Storage: backend.Storage,
		Search:  searchClient,
		Graph:   graphClient,
		Runner:  runner,
	}

	if url := cfg.RabbitMQ.URL(); url != "" {
		conn, err := queue.Dial(url)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", "err", err)
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, cfg.RabbitMQ.Exchange, []string{queue.InferenceQueue}); err != nil {
			logger.Fatal("Failed to set up queues", "err", err)
		}
		app.Queue = ch
	}

	if err := server.Run(ctx, server.New(app), cfg.Port); err != nil {
		logger.Fatal("Server stopped", "err", err)
	}
}
