package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"smartattendance/internal/audit"
	"smartattendance/internal/config"
	"smartattendance/internal/logging"
	"smartattendance/internal/queue"
	"smartattendance/internal/store"
)

// Worker drains the shared audit queue into system_logs.
func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.QueueBackend != "redis" {
		log.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is consumed inside the api process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redis := store.NewRedis(cfg.RedisAddr)
	defer redis.Close()
	if !redis.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will retry", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redis.Client, queue.DefaultKey, log)
	if backlog, err := q.Len(ctx); err == nil {
		log.Info("worker started", zap.String("queue", queue.DefaultKey), zap.Int64("backlog", backlog))
	} else {
		log.Info("worker started", zap.String("queue", queue.DefaultKey))
	}
	if err := audit.Consume(ctx, q, audit.NewStore(db.Client), log); err != nil {
		log.Error("audit consumer failed", zap.Error(err))
	}
	log.Info("worker stopped")
}
