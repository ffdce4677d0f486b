// Command adreel-api serves the public HTTP API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/adreel/adreel"
	"github.com/adreel/adreel/api"
	"github.com/adreel/adreel/auth"
	"github.com/adreel/adreel/billing"
	"github.com/adreel/adreel/broker"
	"github.com/adreel/adreel/job"
	"github.com/adreel/adreel/ledger"
	"github.com/adreel/adreel/ratelimit"
	redisstore "github.com/adreel/adreel/store/redis"
)

func main() {
	cfg, err := adreel.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	store := redisstore.New(client, redisstore.WithRetention(cfg.JobRetention))

	// The API only submits; handler bodies run in adreel-worker. Names
	// registered here gate what may be enqueued.
	registry := job.NewRegistry()
	registry.Register("generate", func(context.Context, *job.Job) (string, error) { return "", nil })
	registry.Register("analyze", func(context.Context, *job.Job) (string, error) { return "", nil })

	credits := ledger.New(client, ledger.WithTTL(cfg.CreditTTL))
	limiter := ratelimit.New(client, cfg.RateLimit, cfg.RateWindow, ratelimit.WithLogger(logger))

	gateway := billing.NewRazorpayGateway(cfg.BillingKeyID, cfg.BillingSecret)
	bill := billing.NewService(gateway, billing.NewRedisMarker(client), credits, cfg.BillingSecret,
		billing.WithLogger(logger))

	verifier := auth.NewHSVerifier(cfg.AuthSecret)
	b := broker.New(registry, store, broker.WithLogger(logger))

	server := api.NewServer(b, credits, limiter, bill, verifier,
		api.WithCreditPolicy(cfg.CreditPolicy),
		api.WithVersion(cfg.Version),
		api.WithFrontendURL(cfg.FrontendURL),
		api.WithMaxUploadMB(int64(cfg.MaxUploadMB)),
		api.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Serve(ctx, cfg.Addr, cfg.ShutdownTimeout); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
