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

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/auth"
	"storefront/internal/broker"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/store/memstore"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// appStore is satisfied by both the Postgres and the in-memory store.
type appStore interface {
	service.OrderStore
	service.ProductStore
	service.UserStore
	worker.EventStore
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := openStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer db.Close()

	var (
		productCache service.ProductCache
		receipts     service.ReceiptCache
	)
	if cfg.Redis.Enabled() {
		redisClient, err := redisclient.NewClient(
			cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			cfg.Cache.ProductTTL, cfg.Cache.IdempotencyTTL)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		productCache, receipts = redisClient, redisClient
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Info("Redis disabled, product cache and idempotency replay are off")
	}

	var (
		orderEvents   service.OrderEvents
		productEvents service.ProductEvents
	)
	if cfg.Kafka.Enabled() {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		publisher := broker.NewEventPublisher(producer)
		orderEvents, productEvents = publisher, publisher
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		logger.Info("Kafka disabled, events are not published")
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	orderService := service.NewOrderService(db, receipts, orderEvents, cfg.Business.OrderTimeout)
	productService := service.NewProductService(db, productCache, productEvents)
	userService := service.NewUserService(db, tokens)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var catalogWorker *worker.CatalogWorker
	if cfg.Kafka.Enabled() {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
		catalogWorker = worker.NewCatalogWorker(consumer, db, productService)
		go func() {
			if err := catalogWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Catalog worker stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, productService, userService, tokens, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
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
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if catalogWorker != nil {
		if err := catalogWorker.Stop(); err != nil {
			logger.Warn("Error stopping catalog worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

func openStore(cfg config.DatabaseConfig) (appStore, error) {
	logger := util.GetLogger()

	switch cfg.Driver {
	case "memory":
		logger.Warn("Using in-memory store, data is lost on restart")
		return memstore.New(), nil
	case "postgres", "":
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.Driver)
	}

	db, err := store.NewStore(cfg.URL)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connected")

	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		applied, err := db.Migrate(ctx)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("Database migrated", zap.Int("applied", applied))
	}
	return db, nil
}
