// Package main runs the background affiliation retry worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-helpdesk/backend/config"
	"github.com/aura-helpdesk/backend/internal/companies"
	"github.com/aura-helpdesk/backend/internal/domains"
	"github.com/aura-helpdesk/backend/internal/metrics"
	"github.com/aura-helpdesk/backend/internal/onboarding"
	"github.com/aura-helpdesk/backend/internal/users"
	"github.com/aura-helpdesk/backend/internal/worker"
	"github.com/aura-helpdesk/backend/pkg/database"
	"github.com/aura-helpdesk/backend/pkg/queue"
	"github.com/aura-helpdesk/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Store.Driver != config.StoreDriverPostgres {
		logger.Fatal("worker requires the postgres store", zap.String("driver", cfg.Store.Driver))
	}
	if cfg.Redis.Addr == "" {
		logger.Fatal("worker requires REDIS_ADDR")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.Default()
	resolver := domains.NewResolver(domains.ResolverConfig{
		Endpoint:    cfg.DNS.ResolverURL,
		Timeout:     cfg.DNS.Timeout,
		CacheTTL:    cfg.DNS.CacheTTL,
		NegativeTTL: cfg.DNS.NegativeTTL,
	}, logger, domains.WithMetrics(m), domains.WithCache(domains.NewRedisCache(rdb.Client)))

	userRepo := users.NewRepository(pool)
	orch := onboarding.New(companies.NewRepository(pool), userRepo, resolver, onboarding.Options{
		RequireVerifiedEmail: cfg.Onboarding.RequireVerifiedEmail,
		Metrics:              m,
	}, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewAffiliationProcessor(userRepo, orch, jobQueue, m, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
