package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartattendance/internal/attendance"
	"smartattendance/internal/audit"
	"smartattendance/internal/auth"
	"smartattendance/internal/config"
	"smartattendance/internal/directory"
	"smartattendance/internal/feed"
	"smartattendance/internal/httpapi"
	"smartattendance/internal/httpmiddleware"
	"smartattendance/internal/logging"
	"smartattendance/internal/qr"
	"smartattendance/internal/queue"
	"smartattendance/internal/session"
	"smartattendance/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.App, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()

	var redis *store.Redis
	if cfg.QueueBackend == "redis" || cfg.RateLimitBackend == "redis" {
		redis = store.NewRedis(cfg.RedisAddr)
		defer redis.Close()
	}

	dir := directory.New(db.Client)
	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		created, err := dir.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			log.Info("bootstrap admin created", zap.String("email", cfg.AdminEmail))
		}
	}

	logs := audit.NewStore(db.Client)
	auditCtx, stopAudit := context.WithCancel(context.Background())
	defer stopAudit()
	audited := make(chan struct{})
	var publisher *audit.Publisher
	if cfg.QueueBackend == "redis" {
		publisher = audit.NewPublisher(queue.NewRedisQueue(redis.Client, queue.DefaultKey, log), 1024, log)
		go func() {
			defer close(audited)
			publisher.Run(auditCtx)
		}()
	} else {
		mem := queue.NewInMemory(256)
		publisher = audit.NewPublisher(mem, 1024, log)
		go func() {
			defer close(audited)
			audit.RunLocal(auditCtx, publisher, mem, logs, audit.DrainTimeout, log)
		}()
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redis.Client, cfg.RateLimitPerMin, log)
	} else {
		limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	reg := session.NewRegistry(session.NewRepository(db.Client), dir, qr.NewIssuer(cfg.QRBaseURL, cfg.QRImageSize), cfg.SessionTTL)
	svc := attendance.NewService(attendance.NewRepository(db.Client), reg, dir, publisher, cfg.GeofenceRadius)

	hub := feed.NewHub(reg, svc, cfg.FeedInterval, cfg.CORSOrigins, log)
	router := httpapi.NewRouter(httpapi.Deps{
		DB:          db,
		Redis:       redis,
		Signer:      auth.NewSigner(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL),
		Directory:   dir,
		Sessions:    reg,
		Attendance:  svc,
		Logs:        logs,
		Audit:       publisher,
		Feed:        hub,
		Limiter:     limiter,
		CORSOrigins: cfg.CORSOrigins,
		Log:         log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(hub.Close)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("db", cfg.DBDriver),
			zap.String("queue", cfg.QueueBackend), zap.String("ratelimit", cfg.RateLimitBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	stopAudit()
	<-audited
	log.Info("server exited")
	return nil
}
