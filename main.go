package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/config"
	"github.com/voltwise/enpi-engine/pkg/database"
	"github.com/voltwise/enpi-engine/pkg/events"
	"github.com/voltwise/enpi-engine/pkg/handlers"
	"github.com/voltwise/enpi-engine/pkg/logging"
	"github.com/voltwise/enpi-engine/pkg/repositories"
	"github.com/voltwise/enpi-engine/pkg/retry"
	"github.com/voltwise/enpi-engine/pkg/services"
	"github.com/voltwise/enpi-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

// maxConcurrentSweeps bounds in-process detection parallelism; training is
// always serialized.
const maxConcurrentSweeps = 2

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", cfg.Database.Host),
		zap.String("redis", cfg.Redis.Host),
		zap.String("version", cfg.Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Migrations run over database/sql; the application pool is pgx-native.
	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	// The database may still be coming up when we are; retry the initial
	// connection with backoff instead of crash-looping.
	db, err := retry.DoWithResult(ctx, nil, func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.URL(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient == nil {
		logger.Info("redis not configured, analysis cache disabled")
	}

	// Repositories
	equipmentRepo := repositories.NewEquipmentRepository(db)
	aggregateRepo := repositories.NewAggregateRepository(db)
	featureRepo := repositories.NewFeatureRepository(db)
	baselineRepo := repositories.NewBaselineRepository(db)
	anomalyRepo := repositories.NewAnomalyRepository(db)
	jobRepo := repositories.NewJobRepository(db)

	// Event bus and work queue
	bus := events.NewBus(logger)
	defer bus.Close()
	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewSerializedStrategy(maxConcurrentSweeps)))
	defer queue.Shutdown()

	// Services
	resolver := services.NewFeatureResolver(featureRepo, aggregateRepo, logger)
	if err := resolver.SeedFromFile(ctx, cfg.FeatureRegistryPath); err != nil {
		logger.Fatal("Failed to seed feature registry", zap.Error(err))
	}
	baselineService := services.NewBaselineService(baselineRepo, aggregateRepo, equipmentRepo, resolver, cfg.Training, logger)
	detector := services.NewAnomalyDetector(anomalyRepo, aggregateRepo, baselineRepo, equipmentRepo, resolver, bus, cfg.Detection, logger)
	performanceService := services.NewPerformanceService(equipmentRepo, aggregateRepo, baselineRepo, anomalyRepo, resolver, redisClient, cfg.Analysis, logger)
	jobService := services.NewJobService(jobRepo, queue, baselineService, detector, bus, logger)

	scheduler := services.NewScheduler(jobService, jobRepo, aggregateRepo, baselineRepo, equipmentRepo, bus, cfg.Jobs, logger)
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	mux := http.NewServeMux()

	// Register handlers
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewAnalysisHandler(performanceService, aggregateRepo, logger).RegisterRoutes(mux)
	handlers.NewBaselineHandler(jobService, baselineService, logger).RegisterRoutes(mux)
	handlers.NewAnomalyHandler(detector, logger).RegisterRoutes(mux)
	handlers.NewFeatureHandler(featureRepo, logger).RegisterRoutes(mux)
	handlers.NewEventsHandler(bus, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting enpi-engine",
			zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}
