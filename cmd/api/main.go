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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinical-scribe/internal/bootstrap"
	"github.com/jwalitptl/clinical-scribe/internal/config"
	"github.com/jwalitptl/clinical-scribe/internal/handler"
	"github.com/jwalitptl/clinical-scribe/internal/handler/audio"
	"github.com/jwalitptl/clinical-scribe/internal/handler/embedding"
	"github.com/jwalitptl/clinical-scribe/internal/handler/extraction"
	"github.com/jwalitptl/clinical-scribe/internal/handler/health"
	"github.com/jwalitptl/clinical-scribe/internal/handler/interaction"
	"github.com/jwalitptl/clinical-scribe/internal/handler/template"
	"github.com/jwalitptl/clinical-scribe/internal/handler/user"
	"github.com/jwalitptl/clinical-scribe/internal/middleware"
	"github.com/jwalitptl/clinical-scribe/internal/router"
	embeddingService "github.com/jwalitptl/clinical-scribe/internal/service/embedding"
	extractionService "github.com/jwalitptl/clinical-scribe/internal/service/extraction"
	interactionService "github.com/jwalitptl/clinical-scribe/internal/service/interaction"
	jobService "github.com/jwalitptl/clinical-scribe/internal/service/job"
	templateService "github.com/jwalitptl/clinical-scribe/internal/service/template"
	transcriptionService "github.com/jwalitptl/clinical-scribe/internal/service/transcription"
	userService "github.com/jwalitptl/clinical-scribe/internal/service/user"
	"github.com/jwalitptl/clinical-scribe/pkg/llm"
	"github.com/jwalitptl/clinical-scribe/pkg/messaging"
	"github.com/jwalitptl/clinical-scribe/pkg/metrics"
	"github.com/jwalitptl/clinical-scribe/pkg/storage"
	"github.com/jwalitptl/clinical-scribe/pkg/textsplit"
	"github.com/jwalitptl/clinical-scribe/pkg/transcription/deepgram"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := bootstrap.Logger(cfg.Log, "api")
	m := metrics.NewMetrics("scribe", "api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize persistence
	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err, "failed to open store")
	}
	defer store.Close()
	repos := store.Repos

	blobs, err := storage.NewFileSystemStore(cfg.Storage.Dir)
	if err != nil {
		logger.Fatal(err, "failed to open audio storage")
	}

	// Initialize remote providers
	openai := llm.NewOpenAIClient(llm.Config{
		APIKey:         cfg.Secrets.OpenAIAPIKey,
		BaseURL:        cfg.Extraction.BaseURL,
		Model:          cfg.Extraction.Model,
		EmbeddingModel: cfg.Extraction.EmbeddingModel,
		Timeout:        cfg.Extraction.Timeout,
	})
	speech := deepgram.NewProvider(deepgram.Config{
		APIKey:      cfg.Secrets.DeepgramAPIKey,
		APIBaseURL:  cfg.Transcription.BaseURL,
		Model:       cfg.Transcription.Model,
		Language:    cfg.Transcription.Language,
		SmartFormat: cfg.Transcription.SmartFormat,
	})

	// Initialize services
	templateSvc := templateService.NewService(repos.Templates, cfg.Catalog.CacheTTL)
	userSvc := userService.NewService(repos.Users, bootstrap.UserCacheTTL)
	interactionSvc := interactionService.NewService(
		repos.Interactions,
		repos.Audio,
		templateSvc,
		blobs,
		logger.WithFields(map[string]interface{}{"component": "interaction"}),
	)
	transcriptionSvc := transcriptionService.NewService(
		repos,
		blobs,
		speech,
		bootstrap.Breaker("deepgram"),
		transcriptionService.Config{
			Timeout:        cfg.Transcription.Timeout,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
		},
		logger.WithFields(map[string]interface{}{"component": "transcription"}),
		m,
	)
	extractionSvc := extractionService.NewService(
		repos,
		templateSvc,
		transcriptionSvc,
		openai,
		bootstrap.Breaker("openai-extract"),
		extractionService.Config{Timeout: cfg.Extraction.Timeout},
		logger.WithFields(map[string]interface{}{"component": "extraction"}),
		m,
	)
	jobSvc := jobService.NewService(repos.Jobs, repos.Interactions)
	embeddingSvc := embeddingService.NewService(
		repos,
		openai,
		textsplit.New(cfg.Extraction.ChunkSize, cfg.Extraction.ChunkOverlap),
	)

	// The memory driver cannot be shared with a separate worker process.
	if cfg.Database.Driver == "memory" {
		stop, err := bootstrap.StartBackground(ctx, cfg, repos, messaging.NewMemoryBroker(), logger, m)
		if err != nil {
			logger.Fatal(err, "failed to start background workers")
		}
		defer stop()
	}

	// Initialize middleware
	validator, err := middleware.RegisterValidation(middleware.DefaultValidationConfig())
	if err != nil {
		logger.Fatal(err, "failed to register validators")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.Secrets.JWTSecret, userSvc)

	// Initialize handlers
	base := handler.NewBaseHandler(validator)
	healthHandler := health.NewHandler(health.Check{Name: "database", Fn: store.Ping})

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.CORS.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORS.AllowedOrigins
	}

	// Setup router
	r := router.NewRouter(
		authMiddleware,
		healthHandler,
		router.RouterConfig{
			RateLimit:      cfg.RateLimit.RequestsPerSecond,
			RateBurst:      cfg.RateLimit.Burst,
			RequestTimeout: cfg.Server.RequestTimeout,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			CORSConfig:     corsConfig,
			MetricsPrefix:  "scribe_http",
			Registerer:     prometheus.DefaultRegisterer,
		},
		interaction.NewHandler(base, interactionSvc),
		extraction.NewHandler(base, extractionSvc, jobSvc),
		audio.NewHandler(base, transcriptionSvc, extractionSvc),
		embedding.NewHandler(base, embeddingSvc),
		template.NewHandler(base, templateSvc),
		user.NewHandler(base, userSvc),
	)
	r.Setup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("starting server", "port", cfg.Server.Port, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "server forced to shutdown")
	}
	cancel()

	logger.Info("server exited properly")
}
