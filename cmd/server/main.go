package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/david/investor-crm/internal/api"
	"github.com/david/investor-crm/internal/auth"
	"github.com/david/investor-crm/internal/config"
	"github.com/david/investor-crm/internal/db"
	"github.com/david/investor-crm/internal/ingest"
	"github.com/david/investor-crm/internal/queue"
	"github.com/david/investor-crm/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := cfg.Logger()
	log := logrus.NewEntry(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool, log); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	registry, err := ingest.LoadRegistry(cfg.Import.ColumnMapPath)
	if err != nil {
		log.Fatalf("Failed to load column registry: %v", err)
	}

	secret, generated, err := auth.ResolveSecret(cfg.JWTSecret)
	if err != nil {
		log.Fatal(err)
	}
	if generated {
		log.Warn("JWT_SECRET is not set; using a random secret, tokens will not survive a restart")
	}

	store := db.NewStore(pool)
	failedDir := cfg.Import.FailedDir
	if !cfg.Import.WriteFailures {
		failedDir = ""
	}
	pipeline := ingest.NewPipeline(db.NewImportStore(pool), registry, ingest.Options{
		BatchSize:       cfg.Import.BatchSize,
		LookupChunkSize: cfg.Import.LookupChunkSize,
		DefaultFirmType: cfg.Import.DefaultFirmType,
		FailedDir:       failedDir,
	}, log)
	runner := ingest.NewJobRunner(store, pipeline, cfg.Import.JobTimeout, log)

	var q queue.Queue
	if cfg.RedisURL != "" {
		client, err := queue.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		q = queue.NewRedisQueue(client, cfg.QueueKey)
		log.WithField("key", cfg.QueueKey).Info("using redis import queue")
	} else {
		q = queue.NewLocalQueue(256)
		log.Info("REDIS_URL not set; using in-process import queue")
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := queue.NewWorker(q, runner, log).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("import worker stopped")
		}
	}()

	sw := sweeper.New(cfg.Import, cfg.Sweep, store, log)
	if err := sw.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer sw.Stop()

	srv := api.NewServer(cfg, store, q, secret, log)
	go func() {
		log.Infof("Server starting on port %s...", cfg.Port)
		if err := srv.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	<-workerDone
}
