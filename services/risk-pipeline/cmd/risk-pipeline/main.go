package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/pkg/metrics"
	"github.com/chainwatch/platform/services/risk-pipeline/config"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/repository"
	"github.com/chainwatch/platform/services/risk-pipeline/infrastructure/cache"
	"github.com/chainwatch/platform/services/risk-pipeline/infrastructure/database"
	"github.com/chainwatch/platform/services/risk-pipeline/infrastructure/messaging"
	"github.com/chainwatch/platform/services/risk-pipeline/infrastructure/service"
	"github.com/chainwatch/platform/services/risk-pipeline/usecase"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration directory")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "risk-pipeline: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyScoringDefaults()

	logger, err := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: cfg.Service.Name,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	logging.SetGlobalLogger(logger)

	logger.Info("Starting risk pipeline",
		logging.String("version", cfg.Service.Version),
		logging.String("environment", cfg.Service.Environment),
		logging.Int("workers", cfg.Pipeline.WorkerCount),
	)

	collector := metrics.NewCollector(cfg.Metrics.Namespace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	db, err := database.Connect(cfg.Database.PostgreSQL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	eventRepo := database.NewPostgresEventRepository(db, logger, collector)
	assessmentRepo := database.NewPostgresAssessmentRepository(db, logger, collector)
	profileRepo := database.NewPostgresProfileRepository(db, logger, collector)

	// Cache and signature store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Redis.Addr(),
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.Database,
		PoolSize: cfg.Cache.Redis.PoolSize,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	assessmentCache := cache.NewRedisAssessmentCache(redisClient, cache.RedisCacheConfig{
		Serialization: cfg.Cache.Serialization,
		Compression:   cfg.Cache.Compression,
	}, logger, collector)

	var signatureStore repository.SignatureStore
	switch cfg.Dedup.Backend {
	case "redis":
		signatureStore = cache.NewRedisSignatureStore(redisClient, cfg.Dedup.Retention, logger)
	default:
		signatureStore = cache.NewMemorySignatureStore()
	}

	// Pipeline services
	validator := service.NewValidationService(cfg.Validation, logger, collector)
	dedup := service.NewDedupService(cfg.Dedup, signatureStore, logger, collector)
	normalizer := service.NewNormalizationService(logger)
	engine := service.NewRiskEngine(cfg.Scoring, logger, collector)

	publisher := messaging.NewKafkaAssessmentPublisher(cfg.MessageQueue.Kafka, logger, collector)
	defer publisher.Close()

	processUC := usecase.NewProcessEventUseCase(
		cfg.Pipeline,
		cfg.Cache.AssessmentTTL,
		validator,
		dedup,
		normalizer,
		engine,
		eventRepo,
		assessmentRepo,
		assessmentCache,
		publisher,
		logger,
		collector,
	)
	pool := usecase.NewPool(processUC)

	consumer := messaging.NewKafkaConsumer(cfg.MessageQueue.Kafka, cfg.Pipeline, pool, logger, collector)
	defer consumer.Close()

	businessUC := usecase.NewBusinessRiskUseCase(
		engine, profileRepo, eventRepo, assessmentCache,
		cfg.Scoring.RecentEventWindow, cfg.Cache.AssessmentTTL, logger,
	)
	summaryUC := usecase.NewSummaryUseCase(
		engine, assessmentRepo, eventRepo, assessmentCache,
		cfg.Scoring.RecentEventWindow, cfg.Cache.AssessmentTTL, logger,
	)

	metricsServer := metrics.NewServer(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Host:    cfg.Metrics.Host,
		Port:    cfg.Metrics.Port,
		Path:    cfg.Metrics.Path,
	}, collector)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pool.Run(ctx)
	})

	g.Go(func() error {
		return consumer.Run(ctx)
	})

	g.Go(func() error {
		// Signature cleanup runs off the request path on its own cadence
		dedup.RunCleanup(ctx)
		return nil
	})

	g.Go(func() error {
		interval := cfg.Pipeline.SummaryRefreshInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := summaryUC.GetSummary(ctx); err != nil {
					logger.WithError(err).Warn("Summary refresh failed")
				}
				portfolio, err := businessUC.ComputePortfolioRisk(ctx)
				if err != nil {
					logger.WithError(err).Warn("Portfolio risk refresh failed")
					continue
				}
				logger.Info("Portfolio risk refreshed",
					logging.Float64("overall_risk", portfolio.OverallRisk),
					logging.Int("businesses", portfolio.BusinessCount),
				)
			}
		}
	})

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return metricsServer.Stop()
		})
	}

	logger.Info("Risk pipeline running")

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.WithError(err).Error("Pipeline stopped with error")
		return err
	}

	logger.Info("Risk pipeline shut down")
	return nil
}
