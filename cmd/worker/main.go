package main

import (
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/coralchat/docsync/internal/config"
	"github.com/coralchat/docsync/internal/llm"
	"github.com/coralchat/docsync/internal/push"
	"github.com/coralchat/docsync/internal/queue"
	"github.com/coralchat/docsync/internal/queue/workers"
	"github.com/coralchat/docsync/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	var staging storage.Storage
	if cfg.Storage.SupabaseURL != "" {
		staging = storage.NewSupabaseStorage(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey)
	} else {
		staging = storage.NewLocalStorage(cfg.Storage.LocalDir)
	}

	publisher := push.NewRedisTransport(rdb)
	gateway := llm.NewGateway(cfg.LLM)

	registry := queue.NewHandlersRegistry()

	docWorker := workers.NewDocumentWorker(staging, cfg.Storage.Bucket, publisher)
	registry.Register(queue.TypeDocumentProcess, asynq.HandlerFunc(docWorker.ProcessTask))

	auditWorker := workers.NewAuditWorker(staging, cfg.Storage.Bucket, gateway, rdb, publisher, cfg.LLM.DefaultModel)
	registry.Register(queue.TypeAuditRun, asynq.HandlerFunc(auditWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", 10)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
