// Package main runs the helpdesk HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-helpdesk/backend/config"
	"github.com/aura-helpdesk/backend/internal/auth"
	"github.com/aura-helpdesk/backend/internal/companies"
	"github.com/aura-helpdesk/backend/internal/domains"
	"github.com/aura-helpdesk/backend/internal/enrichment"
	"github.com/aura-helpdesk/backend/internal/identity"
	"github.com/aura-helpdesk/backend/internal/metrics"
	"github.com/aura-helpdesk/backend/internal/middleware"
	"github.com/aura-helpdesk/backend/internal/onboarding"
	"github.com/aura-helpdesk/backend/internal/teams"
	"github.com/aura-helpdesk/backend/internal/tickets"
	"github.com/aura-helpdesk/backend/internal/users"
	"github.com/aura-helpdesk/backend/internal/webhooks"
	"github.com/aura-helpdesk/backend/internal/worker"
	"github.com/aura-helpdesk/backend/pkg/queue"
	"github.com/aura-helpdesk/backend/pkg/redis"
	"github.com/aura-helpdesk/backend/pkg/response"
	"github.com/aura-helpdesk/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger("info").Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.Log.Level)
	defer logger.Sync()

	if cfg.Session.Secret == "" {
		logger.Fatal("SESSION_JWT_SECRET is required")
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err), zap.String("driver", cfg.Store.Driver))
	}
	defer st.Close()

	m := metrics.Default()

	// Redis is optional: without it MX answers are not cached and failed affiliations are not retried.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	resolverOpts := []domains.ResolverOption{domains.WithMetrics(m)}
	if rdb != nil {
		resolverOpts = append(resolverOpts, domains.WithCache(domains.NewRedisCache(rdb.Client)))
	}
	resolver := domains.NewResolver(domains.ResolverConfig{
		Endpoint:    cfg.DNS.ResolverURL,
		Timeout:     cfg.DNS.Timeout,
		CacheTTL:    cfg.DNS.CacheTTL,
		NegativeTTL: cfg.DNS.NegativeTTL,
	}, logger, resolverOpts...)

	enricher := enrichment.NewClient(enrichment.Config{
		APIKey:  cfg.Enrichment.APIKey,
		BaseURL: cfg.Enrichment.BaseURL,
		Models:  cfg.Enrichment.Models,
		Timeout: cfg.Enrichment.Timeout,
	}, logger)

	orch := onboarding.New(st.companies, st.users, resolver, onboarding.Options{
		RequireVerifiedEmail: cfg.Onboarding.RequireVerifiedEmail,
		Enricher:             enricher,
		Metrics:              m,
	}, logger)

	identityClient := identity.NewClient(identity.Config{
		APIURL:    cfg.Identity.APIURL,
		SecretKey: cfg.Identity.SecretKey,
	}, logger)
	if !identityClient.Enabled() {
		logger.Warn("identity API not configured, profiles come from session claims")
	}

	var (
		jobQueue *queue.Queue
		retries  users.RetryQueue
		hooks    webhooks.RetryQueue
	)
	if rdb != nil {
		jobQueue = queue.NewQueue(rdb.Client, logger)
		retries, hooks = jobQueue, jobQueue
	}

	var uploads tickets.Uploader
	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			AttachmentsBucket:    cfg.AWS.AttachmentsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			uploads = s3Client
		}
	}

	sessions := auth.NewSessionService(cfg.Session.Secret, cfg.Session.Issuer)
	userHandler := users.NewHandler(orch, identityClient, st.users, retries, logger)
	companyHandler := companies.NewHandler(st.companies, orch, logger)
	teamHandler := teams.NewHandler(st.teams, logger)
	ticketHandler := tickets.NewHandler(st.tickets, st.teams, uploads, logger)
	webhookHandler := webhooks.NewHandler(webhooks.NewSharedSecretVerifier(cfg.Identity.WebhookSecret), orch, st.users, hooks, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if st.pool != nil {
			if err := st.pool.Ping(hctx); err != nil {
				response.ServiceUnavailable(c, "database unavailable")
				return
			}
		}
		if err := rdb.Healthy(hctx); err != nil {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok", "store": cfg.Store.Driver})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	router.GET("/companies/check-domain", companyHandler.CheckDomain)
	router.POST("/companies/check-domain", companyHandler.CheckDomain)
	router.POST("/webhooks/identity", webhookHandler.Identity)

	// Session only: the user record may not exist yet.
	session := router.Group("")
	session.Use(middleware.Session(sessions))
	session.POST("/users/sync", userHandler.Sync)

	// Session plus a synced user
	api := router.Group("")
	api.Use(middleware.Session(sessions), middleware.RequireUser(st.users, logger))
	{
		api.GET("/users/me", userHandler.Me)
		api.POST("/users/onboarding", userHandler.Onboarding)

		api.GET("/companies/me", companyHandler.Me)
		api.PATCH("/companies/me", companyHandler.Update)
		api.POST("/companies", companyHandler.Create)
		api.POST("/companies/enrich", companyHandler.Enrich)

		api.GET("/teams", teamHandler.List)
		api.POST("/teams", teamHandler.Create)
		api.PUT("/teams/:id", teamHandler.Update)

		api.GET("/tickets", ticketHandler.List)
		api.POST("/tickets", ticketHandler.Create)
		api.GET("/tickets/:id", ticketHandler.Get)
		api.PATCH("/tickets/:id", ticketHandler.Update)
		api.POST("/tickets/:id/attachments", ticketHandler.CreateAttachment)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (affiliation retries)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if jobQueue != nil && cfg.Server.RunWorker {
		processor := worker.NewAffiliationProcessor(st.users, orch, jobQueue, m, logger)
		go processor.Run(workerCtx)
		logger.Info("affiliation worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		config.Level = lvl
	}
	logger, _ := config.Build()
	return logger
}
