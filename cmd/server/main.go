package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/mirrorbet/mirrorbet/internal/api"
	"github.com/mirrorbet/mirrorbet/internal/config"
	"github.com/mirrorbet/mirrorbet/internal/database"
	"github.com/mirrorbet/mirrorbet/internal/exchange"
	"github.com/mirrorbet/mirrorbet/internal/logging"
	"github.com/mirrorbet/mirrorbet/internal/services"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	var db *database.PostgresDB
	var auditRepo *database.AuditRepository
	if cfg.Database.Enabled {
		db, err = database.NewPostgresConnection(rootCtx, cfg.Database)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		auditRepo = database.NewAuditRepository(db.Pool)
		if err := auditRepo.EnsureSchema(rootCtx); err != nil {
			logger.WithError(err).Fatal("Failed to prepare audit schema")
		}
	} else {
		logger.Info("Database disabled, action history kept in memory only")
	}

	var redisDB *database.RedisClient
	if cfg.Redis.Enabled {
		redisDB, err = database.NewRedisConnection(cfg.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisDB.Close()
	} else {
		logger.Info("Redis disabled, scanner caches kept in memory only")
	}

	client := exchange.NewHTTPClient(&cfg.Exchange, logger)
	calculator := services.NewArbitrageCalculator(decimal.NewFromFloat(cfg.Trading.CommissionRate))
	placement := services.NewPlacementService(client, cfg.Trading, logger)
	tracker := services.NewPositionTracker(client, cfg.Trading, logger)

	var scannerRedis redis.UniversalClient
	if redisDB != nil {
		scannerRedis = redisDB.Client
	}
	scanner := services.NewScanner(client, calculator, scannerRedis, cfg.Trading, logger)

	var auditSink services.AuditSink
	if auditRepo != nil {
		auditSink = auditRepo
	}
	reconciler := services.NewReconcileService(scanner, tracker, placement, calculator, cfg.Trading, logger, auditSink)

	if err := reconciler.Start(rootCtx); err != nil {
		logger.WithError(err).Fatal("Failed to start reconciliation loop")
	}
	defer reconciler.Stop()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	server := api.NewServer(scanner, placement, tracker, reconciler, calculator, auditRepo, db, redisDB, logger)
	server.SetLoopContext(rootCtx)
	server.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	reconciler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
