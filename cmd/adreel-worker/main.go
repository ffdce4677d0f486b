// Command adreel-worker runs the render pipelines against the shared
// job queue.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/adreel/adreel"
	"github.com/adreel/adreel/job"
	"github.com/adreel/adreel/ledger"
	"github.com/adreel/adreel/middleware"
	"github.com/adreel/adreel/pipeline"
	"github.com/adreel/adreel/queue"
	"github.com/adreel/adreel/storage"
	redisstore "github.com/adreel/adreel/store/redis"
	"github.com/adreel/adreel/worker"
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

	s3, err := storage.NewS3Store(storage.S3Config{
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		UseSSL:        cfg.S3UseSSL,
		PresignExpiry: cfg.PresignExpiry,
	})
	if err != nil {
		logger.Error("object storage unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	model := pipeline.NewHTTPModel(cfg.ModelEndpoint, cfg.ModelToken)
	encoder := &pipeline.FFmpeg{}

	generator := pipeline.NewGenerator(model, encoder, pipeline.NewPublisher(s3, "results"),
		pipeline.WithRender(cfg.GenerationFPS, cfg.GenerationResolution),
		pipeline.WithScenes(cfg.GenerationScenes),
		pipeline.WithGeneratorLogger(logger),
	)
	analyzer := pipeline.NewAnalyzer(model, encoder, pipeline.NewPublisher(s3, "reports"),
		pipeline.WithAnalyzerLogger(logger),
	)

	registry := job.NewRegistry()
	job.RegisterDefinition(registry, generator.Definition())
	job.RegisterDefinition(registry, analyzer.Definition())

	execOpts := []worker.ExecutorOption{
		worker.WithLogger(logger),
		worker.WithMiddleware(
			middleware.Recover(logger),
			middleware.Tracing(),
			middleware.Metrics(),
			middleware.Logging(logger),
			middleware.Timeout(logger),
		),
	}
	if cfg.CreditPolicy == adreel.ConsumeAtCompletion {
		execOpts = append(execOpts, worker.WithConsumer(ledger.New(client, ledger.WithTTL(cfg.CreditTTL))))
	}
	executor := worker.NewExecutor(registry, store, execOpts...)

	queues := queue.NewManager(
		queue.Config{Name: "video", MaxConcurrency: cfg.Concurrency},
		queue.Config{Name: "analysis", MaxConcurrency: cfg.Concurrency},
	)

	pool := worker.NewPool(store, executor,
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPoolQueues(cfg.Queues),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithStaleJobThreshold(cfg.StaleJobThreshold),
		worker.WithQueueManager(queues),
		worker.WithPoolLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pool.Start(ctx); err != nil {
		logger.Error("worker pool failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		logger.Error("worker pool shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
