package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/gradearena/arena-api/internal/config"
	"github.com/gradearena/arena-api/internal/database"
	"github.com/gradearena/arena-api/internal/handler"
	"github.com/gradearena/arena-api/internal/middleware"
	"github.com/gradearena/arena-api/internal/repository"
	"github.com/gradearena/arena-api/internal/router"
	"github.com/gradearena/arena-api/internal/service"
	"github.com/gradearena/arena-api/pkg/grader"
	"github.com/gradearena/arena-api/pkg/sandbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName))
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	defer natsConn.Drain()

	gradingService, err := buildGrader(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build grader backend: %v", err)
	}

	poller := grader.NewPoller(grader.PollConfig{
		InitialInterval: cfg.PollInitialInterval,
		MaxInterval:     cfg.PollMaxInterval,
		MaxAttempts:     cfg.PollMaxAttempts,
	}, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())

	submissionRepo := repository.NewSubmissionRepository(db)
	questionRepo := repository.NewQuestionRepository(db)

	submissionService := service.NewSubmissionService(submissionRepo, questionRepo, gradingService, poller, validate, natsConn, cfg.GradedSubject, logger)
	leaderboardService := service.NewLeaderboardService(submissionRepo, redisClient, cfg.LeaderboardCacheTTL, natsConn, cfg.GradedSubject, logger)
	questionService := service.NewQuestionService(questionRepo, validate, logger)

	if err := leaderboardService.Start(context.Background()); err != nil {
		log.Fatalf("failed to start leaderboard service: %v", err)
	}
	defer leaderboardService.Close()

	submissionHandler := handler.NewSubmissionHandler(submissionService, logger)
	leaderboardHandler := handler.NewLeaderboardHandler(leaderboardService, logger)
	questionHandler := handler.NewQuestionHandler(questionService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler:  submissionHandler,
		LeaderboardHandler: leaderboardHandler,
		QuestionHandler:    questionHandler,
		JWTMiddleware:      middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func buildGrader(cfg config.Config, logger zerolog.Logger) (grader.Service, error) {
	switch cfg.GraderMode {
	case config.GraderModeOpenAI:
		return grader.NewOpenAIGrader(grader.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
			Logger: logger,
		})
	case config.GraderModeSandbox:
		runner, err := sandbox.NewDockerRunner(sandbox.Config{
			Timeout:       cfg.SandboxRunTimeout,
			MemoryLimitMB: int64(cfg.SandboxMemoryMB),
			CPUShares:     int64(cfg.SandboxCPUShares),
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return sandbox.NewGrader(runner, sandbox.GraderConfig{
			RunTimeout:    cfg.SandboxRunTimeout,
			MemoryLimitMB: int64(cfg.SandboxMemoryMB),
			CPUShares:     int64(cfg.SandboxCPUShares),
		}, logger), nil
	default:
		return grader.NewHTTPClient(grader.HTTPConfig{
			BaseURL: cfg.GraderBaseURL,
			APIKey:  cfg.GraderAPIKey,
			Timeout: cfg.GraderTimeout,
			Logger:  logger,
		})
	}
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
