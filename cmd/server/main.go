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

	"github.com/qasimkdr/viraloft/config"
	"github.com/qasimkdr/viraloft/internal/api"
	"github.com/qasimkdr/viraloft/internal/broker"
	"github.com/qasimkdr/viraloft/internal/redisclient"
	"github.com/qasimkdr/viraloft/internal/service"
	"github.com/qasimkdr/viraloft/internal/store"
	"github.com/qasimkdr/viraloft/internal/util"
	"github.com/qasimkdr/viraloft/internal/vendor"
	"github.com/qasimkdr/viraloft/internal/worker"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting viraloft storefront")

	tp, err := util.InitTracer("viraloft", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	var cache *redisclient.Client
	if cfg.Redis.Enabled {
		cache, err = redisclient.NewClient(
			cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Business.CatalogCacheTTLSeconds)*time.Second)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer cache.Close()
		log.Println("Redis connected")
	}

	var producer *broker.Producer
	if cfg.Kafka.Enabled {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		log.Println("Kafka producer initialized")
	}
	eventPublisher := broker.NewEventPublisher(producer)

	vendorClient := vendor.NewClient(vendor.Config{
		BaseURL: cfg.Vendor.BaseURL,
		APIKey:  cfg.Vendor.APIKey,
		Timeout: time.Duration(cfg.Vendor.TimeoutSeconds) * time.Second,
	})

	catalogService := service.NewCatalogService(vendorClient, cache)
	orderService := service.NewOrderService(db, catalogService, vendorClient, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if cfg.Business.StatusPollEnabled {
		poller := worker.NewStatusPoller(db, vendorClient, eventPublisher,
			time.Duration(cfg.Business.StatusPollIntervalSeconds)*time.Second,
			cfg.Business.StatusPollBatchSize)
		go func() {
			if err := poller.Start(workerCtx); err != nil && err != context.Canceled {
				log.Printf("Status poller error: %v", err)
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, catalogService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()

	log.Println("Server exited")
}
