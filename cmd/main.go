package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pulsefeed/social-graph-service/internal/bridge"
	"github.com/pulsefeed/social-graph-service/internal/cache"
	"github.com/pulsefeed/social-graph-service/internal/config"
	"github.com/pulsefeed/social-graph-service/internal/consumer"
	"github.com/pulsefeed/social-graph-service/internal/domain"
	"github.com/pulsefeed/social-graph-service/internal/handler"
	"github.com/pulsefeed/social-graph-service/internal/reconciler"
	"github.com/pulsefeed/social-graph-service/internal/service"
	"github.com/pulsefeed/social-graph-service/internal/store"
	pkgdb "github.com/pulsefeed/social-graph-service/pkg/database"
	pkgjwt "github.com/pulsefeed/social-graph-service/pkg/jwt"
	pkglog "github.com/pulsefeed/social-graph-service/pkg/log"
	"github.com/pulsefeed/social-graph-service/pkg/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := pkglog.L()
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		ServiceName: "social-graph-service",
	})
	l := pkglog.L()

	// Database
	db, err := pkgdb.New(&pkgdb.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		FilePath:        cfg.Database.FilePath,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := pkgdb.AutoMigrate(db, &domain.RelationshipRecord{}); err != nil {
		l.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Debezium needs the full row image on update/delete events.
	if cfg.Database.Driver == "postgres" && cfg.Kafka.Brokers != "" {
		if err := db.Exec("ALTER TABLE relationship_records REPLICA IDENTITY FULL").Error; err != nil {
			l.Warn().Err(err).Msg("failed to set replica identity, CDC delete events may be incomplete")
		}
	}

	recordStore := store.NewGormRecordStore(db)

	// Cache + reconciliation queue. Both live in Redis; the in-memory
	// fallback keeps single-instance deployments working without one.
	var (
		relCache  cache.RelationshipCache
		pairQueue cache.PairQueue
	)
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.StatusTTL)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to connect to redis")
		}
		relCache = redisCache
		pairQueue = redisCache
		l.Info().Str("address", cfg.Redis.Address).Msg("redis cache connected")
	} else {
		relCache = cache.NewMemoryCache(cfg.Redis.StatusTTL)
		pairQueue = cache.NewMemoryPairQueue()
		l.Warn().Msg("redis disabled, using in-memory cache and reconcile queue")
	}

	// Notification bridge
	var notify bridge.NotificationBridge
	switch cfg.Bridge.Driver {
	case "redis":
		notify, err = bridge.NewRedisBridge(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Bridge.Channel)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to create redis notification bridge")
		}
	case "kafka":
		notify, err = bridge.NewKafkaBridge(cfg.Kafka.Brokers, cfg.Bridge.Topic)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to create kafka notification bridge")
		}
	default:
		notify = bridge.Noop{}
		l.Info().Msg("notification bridge disabled")
	}

	coordinator := service.NewCoordinator(recordStore, pairQueue, relCache, notify, cfg.Coordinator.MaxRetries)
	querySvc := service.NewQuery(recordStore, relCache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// CDC consumer keeps cached counts in step with rows written elsewhere.
	var cdcConsumer consumer.CDCEventConsumer
	if cfg.Kafka.Brokers != "" {
		cdcConsumer, err = consumer.NewConfluentConsumer(
			cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID,
			consumer.NewCacheRefresher(relCache),
		)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to create CDC consumer")
		}
		if err := cdcConsumer.Start(ctx); err != nil {
			l.Fatal().Err(err).Msg("failed to start CDC consumer")
		}
	}

	rec := reconciler.New(recordStore, pairQueue, relCache, cfg.Reconciler)
	rec.Start(ctx)

	// HTTP server
	verifier := pkgjwt.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	authMW := middleware.NewAuthMiddleware(verifier)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(l))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := handler.NewHandler(coordinator, querySvc, authMW)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	go func() {
		l.Info().Str("addr", srv.Addr).Msg("social graph service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop background work before the HTTP server so in-flight repairs
	// finish against a live store.
	cancel()
	if cdcConsumer != nil {
		if err := cdcConsumer.Close(); err != nil {
			l.Error().Err(err).Msg("failed to close CDC consumer")
		}
	}
	rec.Stop()
	select {
	case <-rec.Done():
	case <-shutdownCtx.Done():
		l.Warn().Msg("reconciler did not stop in time")
	}

	httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		l.Error().Err(err).Msg("http server shutdown failed")
	}

	if err := notify.Close(); err != nil {
		l.Error().Err(err).Msg("failed to close notification bridge")
	}
	if err := relCache.Close(); err != nil {
		l.Error().Err(err).Msg("failed to close cache")
	}

	l.Info().Msg("shutdown complete")
}
