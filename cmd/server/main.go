package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"konsinyasi/backend/internal/cache"
	"konsinyasi/backend/internal/config"
	"konsinyasi/backend/internal/events"
	"konsinyasi/backend/internal/httpapi"
	"konsinyasi/backend/internal/lock"
	"konsinyasi/backend/internal/logger"
	"konsinyasi/backend/internal/metrics"
	"konsinyasi/backend/internal/service"
	"konsinyasi/backend/internal/store"
	"konsinyasi/backend/internal/store/memory"
	pgstore "konsinyasi/backend/internal/store/postgres"
)

type app struct {
	repo    store.Repository
	options []service.Option
	closers []func() error
}

func main() {
	cfg := config.Load()
	log := logger.Must(logger.New(cfg.LogLevel))
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := metrics.New()
	a, err := setup(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}

	opts := append(a.options,
		service.WithMetrics(m),
		service.WithLogger(logger.Named(log, "service")),
	)
	svc := service.New(a.repo, opts...)
	api := httpapi.New(svc, httpapi.Options{
		AllowedOrigin:       cfg.AllowedOrigin,
		Logger:              logger.Named(log, "httpapi"),
		Metrics:             m,
		WriteLimitPerMinute: cfg.WriteLimitPerMinute,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("consignment backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

// setup picks the repository and optional infrastructure from cfg. Postgres
// is mandatory once DATABASE_URL is set; Redis and Kafka degrade to
// in-process fallbacks.
func setup(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	a := &app{}

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing in-memory fallback: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		a.repo = pg
		a.closers = append(a.closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		a.repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, using in-process cache and locks", zap.Error(err))
			_ = client.Close()
		} else {
			a.options = append(a.options,
				service.WithSummaryCache(cache.NewRedisSummaryCache(client), cfg.SummaryTTL()),
				service.WithLocker(lock.NewRedisLocker(client, cfg.LockTTL())),
			)
			a.closers = append(a.closers, client.Close)
			log.Info("cache and locks: redis")
		}
	} else {
		log.Info("cache and locks: in-process")
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.SalesTopic,
		})
		a.options = append(a.options, service.WithPublisher(publisher))
		a.closers = append(a.closers, publisher.Close)
		log.Info("sale events: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.SalesTopic))
	} else {
		log.Info("sale events: disabled")
	}

	return a, nil
}
