package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tournament-engine/internal/config"
	"github.com/tournament-engine/internal/handler"
	"github.com/tournament-engine/internal/kafka"
	"github.com/tournament-engine/internal/notify"
	"github.com/tournament-engine/internal/postgres"
	"github.com/tournament-engine/internal/rating"
	"github.com/tournament-engine/internal/redis"
	"github.com/tournament-engine/internal/service"
	"github.com/tournament-engine/internal/store"
	"github.com/tournament-engine/internal/store/memory"
	"github.com/tournament-engine/internal/websocket"
	"github.com/tournament-engine/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load .env file", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readiness := map[string]handler.ReadinessCheck{}

	// Persistence backend
	var st store.Store
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()

		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		readiness["postgres"] = repo.Ping
		st = repo
	default:
		logger.Info("using in-memory storage")
		st = memory.NewStore()
	}

	// Redis backs the rating gateway and the leaderboard cache
	var (
		ratings rating.Gateway = rating.NewStaticGateway(cfg.Tournament.DefaultRating)
		cache   service.LeaderboardCache
	)
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		client, err := rating.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without it", "error", err)
		} else {
			defer client.Close()
			ratings = rating.NewRedisGateway(client, cfg.Tournament.DefaultRating, logger)
			cache = redis.NewLeaderboardCache(client, logger)
			readiness["redis"] = func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			}
			logger.Info("connected to Redis")
		}
	}

	// Notifications
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	emitter := notify.NewEmitter(logger, wsHub)

	var eventProducer *kafka.EventProducer
	if cfg.Kafka.Enabled {
		eventProducer, err = kafka.NewEventProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, continuing without it", "error", err)
		} else {
			emitter.AddSink(eventProducer)
			logger.Info("publishing events to Kafka", "topic", cfg.Kafka.EventsTopic)
		}
	}

	// Services
	leaderboardService := service.NewLeaderboardService(
		st,
		cache,
		emitter,
		cfg.Tournament.Scoring,
		&cfg.Leaderboard,
		logger,
	)
	if err := leaderboardService.Warm(ctx); err != nil {
		logger.Warn("failed to warm leaderboard cache", "error", err)
	}

	tournamentService := service.NewTournamentService(
		st,
		ratings,
		emitter,
		leaderboardService,
		&cfg.Tournament,
		logger,
	)

	sweeper := worker.NewDeadlineSweeper(tournamentService, &cfg.Sweeper, logger)
	if cfg.Sweeper.Enabled {
		if err := sweeper.Start(ctx); err != nil {
			logger.Error("failed to start deadline sweeper", "error", err)
			os.Exit(1)
		}
	}

	// Match results from the game service
	var resultConsumer *kafka.ResultConsumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.ResultsTopic,
		)
		resultConsumer, err = kafka.NewResultConsumer(&cfg.Kafka, tournamentService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without it", "error", err)
		} else if err := resultConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without it", "error", err)
			resultConsumer = nil
		}
	}

	httpHandler := handler.NewHandler(tournamentService, leaderboardService, wsHub, cfg.Server.AllowedOrigins, logger)
	for name, check := range readiness {
		httpHandler.AddReadinessCheck(name, check)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", cfg.Storage.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if resultConsumer != nil {
		if err := resultConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := sweeper.Stop(); err != nil {
		logger.Error("failed to stop deadline sweeper", "error", err)
	}

	if eventProducer != nil {
		if err := eventProducer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}

	wsHub.Stop()

	logger.Info("server stopped")
}
