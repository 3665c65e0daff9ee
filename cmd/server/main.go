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

	"inventory-sync/config"
	"inventory-sync/internal/api"
	"inventory-sync/internal/broker"
	"inventory-sync/internal/connectivity"
	"inventory-sync/internal/redisclient"
	"inventory-sync/internal/remote"
	"inventory-sync/internal/service"
	"inventory-sync/internal/store"
	"inventory-sync/internal/util"
	"inventory-sync/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting inventory sync service")
	cfg.Log(logger)

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	db, err := store.NewStore(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		logger.Fatal("Failed to open local store", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Local store opened", zap.String("driver", cfg.Store.Driver))

	remoteClient := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Timeout)

	prober := connectivity.NewProber(remoteClient, cfg.Sync.ProbeInterval, cfg.Remote.Timeout)

	writer := service.NewOptimisticWriter(db, db)
	drainer := service.NewDrainCoordinator(remoteClient, db, db, writer)

	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		drainer.WithLock(redisClient.NewDrainLock(cfg.Redis.DrainLockTTL))
		logger.Info("Redis drain lock enabled")
	}

	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSyncEvents)
		defer producer.Close()
		drainer.WithPublisher(broker.NewEventPublisher(producer, cfg.Tenancy.TerminalID))
		logger.Info("Kafka sync events enabled", zap.String("topic", cfg.Kafka.TopicSyncEvents))
	}

	inventoryService := service.NewInventoryService(remoteClient, db, db, prober, writer, drainer)
	inventoryService.OnAuthError(func(err error) {
		logger.Warn("Remote rejected credentials, session must be renewed", zap.Error(err))
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// first probe runs synchronously so the worker starts with a known state
	prober.ProbeOnce(workerCtx)
	go prober.Start(workerCtx)

	syncWorker := worker.NewSyncWorker(drainer, prober, cfg.Sync.BackoffInitial, cfg.Sync.BackoffMax)
	go func() {
		if err := syncWorker.Start(workerCtx); err != nil {
			logger.Error("Sync worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(inventoryService, syncWorker, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	syncWorker.Stop()
	prober.Stop()
	workerCancel()

	logger.Info("Server exited")
}
