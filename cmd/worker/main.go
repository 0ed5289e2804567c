package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/ookuma-s/instagram-story-image/internal/config"
	"github.com/ookuma-s/instagram-story-image/internal/storage"
	"github.com/ookuma-s/instagram-story-image/internal/store"
	"github.com/ookuma-s/instagram-story-image/internal/story"
	"github.com/ookuma-s/instagram-story-image/internal/telemetry"
	"github.com/ookuma-s/instagram-story-image/internal/webhook"
	"github.com/ookuma-s/instagram-story-image/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	if err := story.Startup(); err != nil {
		logger.Fatalf("start imaging runtime: %v", err)
	}
	defer story.Shutdown()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStartup()

	shutdownTracing, err := telemetry.SetupTracing(startupCtx, telemetry.TraceConfig{
		ServiceName:  "story-worker",
		Exporter:     cfg.Telemetry.TraceExporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("setup tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("create storage client: %v", err)
	}
	if err := storageClient.EnsureBucket(startupCtx); err != nil {
		logger.Printf("ensure bucket failed: %v", err)
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	var storyStore store.StoryStore
	if pg, err := store.NewPostgresStoryStore(startupCtx, cfg.Database.DSN); err != nil {
		logger.Printf("postgres unavailable, using in-memory story store: %v", err)
		storyStore = store.NewMemoryStoryStore()
	} else {
		defer func() {
			if err := pg.Close(); err != nil {
				logger.Printf("postgres close error: %v", err)
			}
		}()
		storyStore = pg
	}

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		storageClient,
		webhookClient,
		storyStore,
		nil,
	)
	if err != nil {
		logger.Fatalf("build worker server: %v", err)
	}

	go func() {
		metricsServer := &http.Server{
			Addr:    cfg.Worker.MetricsAddr,
			Handler: srv.MetricsHandler(),
		}
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_renders=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveRenders,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
