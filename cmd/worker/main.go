package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/asklokesh/next-portal/catalog/internal/catalog"
	"github.com/asklokesh/next-portal/catalog/internal/config"
	"github.com/asklokesh/next-portal/catalog/internal/queue"
	"github.com/asklokesh/next-portal/catalog/internal/storage"
	"github.com/asklokesh/next-portal/catalog/internal/util"
	"github.com/asklokesh/next-portal/catalog/pkg/graph"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"github.com/asklokesh/next-portal/catalog/pkg/logger/console"
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

	params := graph.SchedulerParams{
		Client:   graphClient,
		Storage:  backend.Storage,
		Interval: cfg.Inference.Interval,
	}

	// Runs are serialised across workers and the server through the
	// database when there is one.
	params.Lock = catalog.RunLock(backend, true)

	// Init rabbitmq
	url := cfg.RabbitMQ.URL()
	var consumerCh queue.ConsumeChannel
	if url != "" {
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
		params.Notifier = queue.NewNotifier(ch, cfg.RabbitMQ.Exchange)

		// A separate channel keeps consumer acks apart from publishes.
		cch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open consumer channel", "err", err)
		}
		defer cch.Close()
		consumerCh = cch
	}

	scheduler, err := graph.NewScheduler(params)
	if err != nil {
		logger.Fatal("Failed to create scheduler", "err", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", "err", err)
	}
	defer scheduler.Stop()
	logger.Info("Inference scheduler started", "interval", cfg.Inference.Interval)

	if consumerCh != nil {
		processor := queue.NewInferenceProcessor(scheduler, graphClient, backend.Storage)
		go func() {
			logger.Info("Listening for messages", "queue", queue.InferenceQueue)
			if err := queue.Consume(ctx, consumerCh, queue.InferenceQueue, queue.DefaultMaxRetries, processor.Process); err != nil {
				logger.Error("Consumer stopped", "err", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}
