package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tableserve/fulfillment/internal/config"
	"github.com/tableserve/fulfillment/internal/order/application"
	"github.com/tableserve/fulfillment/migrations"
	"github.com/tableserve/fulfillment/pkg/idempotency"
	"github.com/tableserve/fulfillment/pkg/logging"
	"github.com/tableserve/fulfillment/pkg/outbox"
	"github.com/tableserve/fulfillment/pkg/shutdown"
	"github.com/tableserve/fulfillment/pkg/tracing"

	catalogpg "github.com/tableserve/fulfillment/internal/catalog/infrastructure/postgres"
	catalogredis "github.com/tableserve/fulfillment/internal/catalog/infrastructure/redis"
	orderhttp "github.com/tableserve/fulfillment/internal/order/infrastructure/http"
	orderkafka "github.com/tableserve/fulfillment/internal/order/infrastructure/kafka"
	orderpg "github.com/tableserve/fulfillment/internal/order/infrastructure/postgres"
)

func main() {
	log := logging.New()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	tp, err := tracing.Init(ctx, "fulfillment-service", cfg.JaegerURL, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	// Postgres
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	// Catalog reader behind the snapshot cache
	catalog := catalogredis.NewCache(log, rdb, catalogpg.NewReader(pool), cfg.SnapshotTTL)

	// Order store & service
	store := orderpg.NewStore(log, pool)
	svc := application.NewService(log, catalog, store)
	handler := orderhttp.NewHandler(log, svc)

	// Kafka producer & outbox relay
	writer := orderkafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	outboxStore := orderpg.NewOutboxStore(log, pool)
	dispatch := outbox.NewDispatcher(log, writer, cfg.OrderEventsTopic)
	relay := outbox.NewRelay(log, outboxStore, dispatch, "fulfillment-relay")

	// Payment events consumer
	idem := idempotency.NewStore(rdb, cfg.IdempotencyTTL)
	consumer := orderkafka.NewConsumer(log, cfg.KafkaBrokers, cfg.PaymentEventsTopic, cfg.ConsumerGroup, svc, idem)

	// HTTP server
	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("payment consumer stopped with error", "err", err)
			cancel()
		}
	}()

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("fulfillment-service shutdown complete")
}
