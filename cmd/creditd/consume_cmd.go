package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tallylabs/creditcore/pkg/config"
	"github.com/tallylabs/creditcore/pkg/consumer"
	"github.com/tallylabs/creditcore/pkg/idempotency"
	"github.com/tallylabs/creditcore/pkg/observability"
	"github.com/tallylabs/creditcore/pkg/projection"
	"github.com/tallylabs/creditcore/pkg/stream"
	"github.com/tallylabs/creditcore/pkg/subscriber"
	"github.com/tallylabs/creditcore/pkg/upcast"
)

func runConsume(stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	ctx := context.Background()

	db, err := openDatabase(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	markers := idempotency.NewSQLStore(db)
	if err := markers.Init(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "init marker store: %v\n", err)
		return 1
	}
	guard := idempotency.NewGuard(markers, logger)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()

	consumerName := "creditd-" + uuid.NewString()[:8]
	reader := stream.NewGroupReader(rdb, cfg.Stream, cfg.ConsumerGroup, consumerName,
		int64(cfg.BatchSize), cfg.BlockTimeout)
	if err := reader.EnsureGroup(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "ensure consumer group: %v\n", err)
		return 1
	}

	projections := projection.NewManager()
	registry := subscriber.NewRegistry()
	if err := registry.Register(projections); err != nil {
		_, _ = fmt.Fprintf(stderr, "register projections: %v\n", err)
		return 1
	}

	var metrics consumer.Metrics
	if cfg.TelemetryEnabled {
		provider, err := observability.New(ctx, &observability.Config{
			ServiceName:    "creditd",
			ServiceVersion: "1.0.0",
			OTLPEndpoint:   cfg.OTLPEndpoint,
			SampleRate:     1.0,
			BatchTimeout:   5 * time.Second,
			Enabled:        true,
			Insecure:       true,
		})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "init observability: %v\n", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = provider.Shutdown(shutdownCtx)
		}()
		metrics = provider
	}

	c := consumer.New(reader, registry, guard, upcast.DefaultRegistry(), metrics, logger,
		consumer.Options{Name: consumerName, PollRate: cfg.PollRate})
	if err := c.Start(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "start consumer: %v\n", err)
		return 1
	}
	logger.Info("consuming", "stream", cfg.Stream, "group", cfg.ConsumerGroup)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		_, _ = fmt.Fprintf(stderr, "stop consumer: %v\n", err)
		return 1
	}
	return 0
}
