package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinical-scribe/internal/bootstrap"
	"github.com/jwalitptl/clinical-scribe/internal/config"
	"github.com/jwalitptl/clinical-scribe/internal/handler/health"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
	"github.com/jwalitptl/clinical-scribe/pkg/messaging"
	"github.com/jwalitptl/clinical-scribe/pkg/messaging/redis"
	"github.com/jwalitptl/clinical-scribe/pkg/metrics"
)

func setupHealthCheck(port int, l *logger.Logger, checks ...health.Check) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	health.NewHandler(checks...).RegisterRoutes(engine.Group(""))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatal().Str("driver", cfg.Database.Driver).Msg("The worker needs a shared postgres database")
	}

	l := bootstrap.Logger(cfg.Log, "worker")
	m := metrics.NewMetrics("scribe", "worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	store, err := bootstrap.OpenStore(ctx, cfg, l)
	if err != nil {
		l.Fatal(err, "Failed to connect to database")
	}
	defer store.Close()

	// Initialize Redis broker
	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, l.Zerolog())
	if err != nil {
		l.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	stop, err := bootstrap.StartBackground(ctx, cfg, store.Repos, broker, l, m)
	if err != nil {
		l.Fatal(err, "Failed to start workers")
	}

	// Setup health check endpoints
	healthSrv := setupHealthCheck(cfg.Server.HealthPort, l,
		health.Check{Name: "database", Fn: store.Ping},
		health.Check{Name: "redis", Fn: func(ctx context.Context) error {
			return brokerPing(ctx, broker)
		}},
	)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	l.Info("Shutting down...")

	cancel()
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		l.Error(err, "Health check server forced to shutdown")
	}
}

// brokerPing publishes a heartbeat; a broker that cannot publish cannot relay the outbox.
func brokerPing(ctx context.Context, broker messaging.Broker) error {
	return broker.Publish(ctx, "scribe.heartbeat", map[string]interface{}{
		"at": time.Now().UTC(),
	})
}
