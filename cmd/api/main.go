// Package main is the entry point for the mailfan API server.
//
// It loads configuration, connects the Redis job store and the external
// collaborators (SES, identity directory, push broker), wires the domain
// handlers onto the core chassis, and serves HTTP until a shutdown signal
// arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"mailfan/internal/api/handlers"
	"mailfan/internal/config"
	"mailfan/internal/core"
	"mailfan/internal/external"
	"mailfan/internal/queue"
	"mailfan/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("mailfan API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"batch_size", cfg.Queue.BatchSize,
	)

	// Job store and rate limiter share one Redis connection pool.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password.Unmask(),
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	jobStore := store.NewJobStore(rdb, logger)
	limiter := store.NewRateLimiter(rdb, cfg.RateLimit.SubmitLimit, cfg.RateLimit.SubmitWindow)

	awsCfg, err := loadAWSConfig(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}

	mailer := external.NewSESMailer(awsCfg, external.SESMailerConfig{
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		Logger:      logger,
	})
	templateStore := external.NewSESTemplateStore(awsCfg, logger)
	directory := external.NewDirectoryClient(cfg.Directory.BaseURL, cfg.Directory.Token)

	// The broker calls back into this service with each batch message, so
	// the publish path carries our own webhook URL.
	callbackURL := cfg.Server.PublicBaseURL + "/v1/webhooks/batches"
	relay := external.NewRelayClient(
		cfg.Broker.PublishURL,
		callbackURL,
		cfg.Broker.Token,
		cfg.Broker.MaxDeliveryRetries,
	)

	dispatcher := queue.NewDispatcher(jobStore, relay, queue.DispatcherConfig{
		BatchSize:     cfg.Queue.BatchSize,
		MaxRecipients: cfg.Queue.MaxRecipients,
	}, logger)
	processor := queue.NewProcessor(directory, mailer, jobStore, queue.ProcessorConfig{
		SendDelay:      cfg.Queue.SendDelay,
		RetryAttempts:  cfg.Queue.RetryAttempts,
		RetryBaseDelay: cfg.Queue.RetryBaseDelay,
	}, logger)
	verifier := queue.NewSignatureVerifier(cfg.Broker.SigningKey, cfg.Broker.NextSigningKey)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Limiter = limiter
	srv.HealthProbes = []core.HealthProbe{redisProbe{rdb: rdb}}

	jobsHandler := handlers.NewJobsHandler(dispatcher, jobStore, srv.Validator, logger)
	webhookHandler := handlers.NewBatchWebhookHandler(verifier, processor, logger)
	templatesHandler := handlers.NewTemplatesHandler(templateStore, srv.Validator, logger)
	recipientsHandler := handlers.NewRecipientsHandler(directory, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		jobsHandler.RegisterRoutes(r, srv.SubmitRateLimit)
		webhookHandler.RegisterRoutes(r)
		templatesHandler.RegisterRoutes(r)
		recipientsHandler.RegisterRoutes(r)
	})

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// loadAWSConfig resolves the AWS SDK configuration, pointing it at a local
// endpoint (LocalStack) when one is configured.
func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// runHTTPServer serves requests until SIGINT/SIGTERM, then drains in-flight
// requests. The shutdown deadline must outlast one batch delivery so a
// webhook invocation caught mid-batch can finish folding.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log
// level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// redisProbe reports job-store reachability for the health endpoint.
type redisProbe struct {
	rdb *redis.Client
}

func (p redisProbe) Name() string { return "redis" }

func (p redisProbe) Check(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
