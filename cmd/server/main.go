package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/bootstrap"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/config"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/queue"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/server"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/util"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
)

func main() {
	util.LoadEnv()
	cfg := config.Load()
	bootstrap.InitLogger(cfg, "server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Stores.MigrateOnStart && cfg.Stores.DatabaseURL != "" {
		if err := bootstrap.Migrate(cfg.Stores.DatabaseURL, bootstrap.DefaultMigrationsDir, 0); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}

	svc, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start services", "err", err)
	}
	defer svc.Close(context.Background())

	app := &middleware.App{
		Searcher:  svc.Retriever,
		Expander:  svc.Expander,
		Queries:   svc.Orchestrator,
		Validator: svc.Validator,
		Overrides: svc.Relations,
		Ingester:  svc.Engine,
		Registry:  svc.Registry,
	}
	if svc.Reports != nil {
		app.Reports = svc.Reports
	}

	if cfg.RabbitMQ.Enabled {
		conn, err := queue.Dial(cfg.RabbitMQ)
		if err != nil {
			logger.Fatal("Failed to connect to queue", "err", err)
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, queue.Queues); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
		}
		app.Queue = ch
	}

	if err := server.Run(ctx, server.New(app), cfg.Port); err != nil {
		logger.Fatal("Server failed", "err", err)
	}
}
