package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lessonsync/backend/buffer"
	"lessonsync/backend/client"
	"lessonsync/backend/config"
	"lessonsync/backend/heartbeat"
	"lessonsync/backend/middleware"
	"lessonsync/backend/routes"
	"lessonsync/backend/store"
	"lessonsync/backend/utils"

	"github.com/go-co-op/gocron"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/gorm"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	// Initialize logger
	logger := utils.InitLogger()

	// Storage strategy is selected once here and injected everywhere.
	var db *gorm.DB
	if cfg.StorageDriver == "postgres" {
		db, err = utils.InitDB(cfg)
		if err != nil {
			log.Fatalf("Error initializing database: %v", err)
		}
	}
	storage, err := store.SelectStorage(cfg, db)
	if err != nil {
		log.Fatalf("Error selecting storage: %v", err)
	}

	// Sync pipeline: store -> heartbeat queue -> backend API.
	backendClient := client.New(cfg.BackendAPIURL, logger)
	queue := heartbeat.NewQueue(backendClient, logger, heartbeat.DefaultMaxAttempts)
	progressStore := store.NewProgressStore(storage, queue, cfg.DebounceWindow, logger)
	bufferService := buffer.NewService(backendClient, cfg.BatchSize, cfg.MaxBufferSize, cfg.FlushTime, logger)

	// Create Fiber app
	app := fiber.New()

	// Middleware
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(middleware.LoggingMiddleware(logger))

	// Setup routes
	routes.SetupRoutes(app, progressStore, queue, bufferService, cfg)

	// Periodic jobs: heartbeat flush and the stale-buffer sweep.
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.Every(cfg.SyncInterval).Do(func() {
		queue.Flush(context.Background())
	})
	scheduler.Every(cfg.FlushTime).Do(bufferService.TimeSweep)
	scheduler.StartAsync()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Println("shutting down")
		if err := app.Shutdown(); err != nil {
			logger.Printf("server shutdown: %v", err)
		}
	}()

	// Start server
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Error starting server: %v", err)
	}

	// Shutdown order matters: requests have stopped, so persist pending
	// writes (which enqueues them), then drain the queue one last time.
	scheduler.Stop()
	progressStore.FlushAll()
	queue.Close()
	logger.Println("shutdown complete")
}
