package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"github.com/Dosada05/palanteer/config"
	"github.com/Dosada05/palanteer/db"
	"github.com/Dosada05/palanteer/handlers"
	"github.com/Dosada05/palanteer/live"
	"github.com/Dosada05/palanteer/middleware"
	"github.com/Dosada05/palanteer/repositories"
	api "github.com/Dosada05/palanteer/routes"
	"github.com/Dosada05/palanteer/services"
	"github.com/Dosada05/palanteer/storage"
)

// @title                      Palanteer Competition API
// @version                    1.0
// @description                Submission scoring and leaderboards for timed prediction competitions.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded",
		slog.Int("port", cfg.ServerPort),
		slog.String("storage", cfg.StorageBackend),
		slog.Int("scoring_workers", cfg.ScoringWorkers))

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(migrateCtx, dbConn)
	cancelMigrate()
	if err != nil {
		logger.Error("failed to apply database schema", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := newFileStore(cfg)
	if err != nil {
		logger.Error("failed to initialize file storage", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("file storage initialized", slog.String("backend", cfg.StorageBackend))

	// Cancelled on shutdown; stops the hub, the scoring pool and the scheduler.
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	wsHub := live.NewHub()
	go wsHub.Run(appCtx)
	logger.Info("WebSocket Hub started")

	tx := repositories.NewTransactor(dbConn)
	competitionRepo := repositories.NewPostgresCompetitionRepository(dbConn)
	submissionRepo := repositories.NewPostgresSubmissionRepository(dbConn)
	leaderboardRepo := repositories.NewPostgresLeaderboardRepository(dbConn)
	participantRepo := repositories.NewPostgresParticipantRepository(dbConn)
	logger.Info("Repositories initialized")

	fileValidator := services.NewSubmissionValidator(cfg.MaxUploadBytes)
	quotaGuard := services.NewQuotaGuard(competitionRepo, submissionRepo, time.Now)
	rankingEngine := services.NewRankingEngine(tx, competitionRepo, submissionRepo, leaderboardRepo, wsHub, logger)

	scoringWorker := services.NewScoringWorker(
		services.ScoringWorkerConfig{
			Workers:       cfg.ScoringWorkers,
			QueueSize:     cfg.ScoringQueueSize,
			Timeout:       cfg.ScoringTimeout,
			SweepInterval: cfg.SweepInterval,
			SweepGrace:    cfg.SweepGrace,
			MaxFileBytes:  cfg.MaxUploadBytes,
			Retry: services.RetryPolicy{
				MaxAttempts: cfg.RetryMaxAttempts,
				BaseDelay:   cfg.RetryBaseDelay,
				MaxDelay:    cfg.RetryMaxDelay,
			},
		},
		competitionRepo,
		submissionRepo,
		store,
		rankingEngine,
		cfg.ScoringDefaults,
		wsHub,
		logger,
	)

	submissionService := services.NewSubmissionService(
		tx,
		competitionRepo,
		submissionRepo,
		participantRepo,
		fileValidator,
		quotaGuard,
		rankingEngine,
		store,
		scoringWorker,
		logger,
	)
	leaderboardService := services.NewLeaderboardService(tx, competitionRepo, submissionRepo, leaderboardRepo)
	competitionService := services.NewCompetitionService(
		competitionRepo,
		rankingEngine,
		scoringWorker,
		store,
		fileValidator,
		cfg.ScoringDefaults,
		logger,
	)
	logger.Info("Services initialized")

	scoringWorker.Start(appCtx)

	go runStatusScheduler(appCtx, competitionService, cfg.StatusUpdateInterval, logger)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				rateLimiter.Cleanup()
			}
		}
	}()

	router := chi.NewRouter()
	api.SetupRoutes(router,
		api.Handlers{
			Competitions: handlers.NewCompetitionHandler(competitionService),
			Submissions:  handlers.NewSubmissionHandler(submissionService, cfg.MaxUploadBytes),
			Leaderboard:  handlers.NewLeaderboardHandler(leaderboardService),
			WebSocket:    handlers.NewWebSocketHandler(wsHub, competitionService, cfg.CORSOrigins),
			Health:       handlers.NewHealthHandler(dbConn),
		},
		api.Options{
			Auth:        middleware.NewAuthenticator(cfg.JWTSecretKey),
			RateLimiter: rateLimiter,
			CORSOrigins: cfg.CORSOrigins,
		},
	)
	logger.Info("Routes configured")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			exitCode = 1
		} else {
			logger.Info("server stopped gracefully")
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			exitCode = 1
		} else {
			logger.Info("server shutdown complete")
		}
	}

	// In-flight jobs are abandoned; their submissions stay pending for the next sweep.
	cancelApp()
	scoringWorker.Wait()
	logger.Info("scoring worker stopped")

	logger.Info("application exited")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func newFileStore(cfg *config.Config) (storage.FileStore, error) {
	switch cfg.StorageBackend {
	case config.StorageLocal:
		return storage.NewLocalDiskStore(cfg.LocalStorageDir)
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewCloudflareR2Store(ctx, storage.CloudflareR2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
		})
	}
}

func runStatusScheduler(ctx context.Context, competitions services.CompetitionService, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("Competition status scheduler started", slog.Duration("interval", interval))

	if err := competitions.AutoUpdateStatuses(ctx); err != nil {
		logger.Error("Scheduler: initial run failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Competition status scheduler stopped")
			return
		case <-ticker.C:
			if err := competitions.AutoUpdateStatuses(ctx); err != nil {
				logger.Error("Scheduler: periodic run failed", slog.Any("error", err))
			}
		}
	}
}
