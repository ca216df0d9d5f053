package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/darkwinzo/queen-mini-go/database"
	"github.com/darkwinzo/queen-mini-go/internal/jobs"
	"github.com/darkwinzo/queen-mini-go/internal/models"
	"github.com/darkwinzo/queen-mini-go/internal/plugins"
	"github.com/darkwinzo/queen-mini-go/internal/routes"
	"github.com/darkwinzo/queen-mini-go/internal/services"
	"github.com/darkwinzo/queen-mini-go/internal/storage"
	"github.com/darkwinzo/queen-mini-go/internal/transport"
)

func main() {
	// Load .env file for local development
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found - checking environment variables")
	}

	// Initialize storage
	var store storage.Store

	if os.Getenv("USE_MEMORY_STORE") == "true" {
		log.Println("⚠️  Using in-memory storage (not for production!)")
		store = storage.NewMemoryStore()
	} else {
		log.Println("📦 Connecting to PostgreSQL database...")
		database.Connect()

		log.Println("🔄 Running database migrations...")
		if err := database.DB.AutoMigrate(&models.Bot{}); err != nil {
			log.Fatal("Failed to migrate database:", err)
		}
		log.Println("✅ Database migrations completed!")

		store = storage.NewDatabaseStore(database.DB)
	}

	// WhatsApp credential store (whatsmeow keeps paired sessions here)
	waDriver := os.Getenv("WHATSAPP_STORE_DRIVER")
	waDSN := os.Getenv("WHATSAPP_STORE_DSN")
	if waDriver == "" {
		waDriver = "sqlite3"
		waDSN = "file:whatsmeow.db?_foreign_keys=on"
	}

	dialer, err := transport.NewWhatsmeowDialer(context.Background(), waDriver, waDSN)
	if err != nil {
		log.Fatal("Failed to initialize WhatsApp transport:", err)
	}
	log.Println("✅ WhatsApp transport initialized")

	// Optional owner alerts over SMS
	var alerts *services.AlertService
	if os.Getenv("TWILIO_ACCOUNT_SID") != "" {
		alerts, err = services.NewAlertService()
		if err != nil {
			log.Printf("⚠️  Twilio alerts disabled: %v", err)
		} else {
			log.Println("✅ Twilio alert service initialized")
		}
	}

	// Initialize core services
	registry := services.NewRegistry()
	stats := services.NewStats(store)
	broadcaster := services.NewBroadcaster()
	dispatcher := services.NewDispatcher(stats)
	dispatcher.Install(plugins.All())

	manager := services.NewBotManager(store, dialer, registry, stats, dispatcher, broadcaster, alerts)

	// Bring previously connected bots back online
	manager.Restore(context.Background())

	// Start the stats flush job
	flushJob := jobs.NewStatsFlushJob(stats, manager)
	flushJob.Start()

	log.Println("✅ All services initialized")

	// Create fiber app
	app := fiber.New(fiber.Config{
		AppName: "QUEEN-MINI Backend v2.0.0",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	// Health check endpoint with session status
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": "QUEEN-MINI Backend",
			"version": "2.0.0",
			"status":  "healthy",
			"storage": getStorageType(),
			"sessions": fiber.Map{
				"active":      registry.Len(),
				"subscribers": broadcaster.SubscriberCount(),
			},
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		status := "healthy"
		statusCode := 200

		if os.Getenv("USE_MEMORY_STORE") != "true" && database.DB != nil {
			sqlDB, err := database.DB.DB()
			if err != nil || sqlDB.Ping() != nil {
				status = "unhealthy"
				statusCode = 503
			}
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"services": fiber.Map{
				"database": status == "healthy",
				"sessions": registry.Len(),
			},
		})
	})

	// Setup routes
	routes.SetupRoutes(app, store, manager, broadcaster)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("\n🛑 Gracefully shutting down...")
		log.Println("⏹️  Stopping stats flush job...")
		flushJob.Stop()
		log.Println("⏹️  Closing bot sessions...")
		manager.Shutdown()
		log.Println("⏹️  Shutting down server...")
		_ = app.Shutdown()
	}()

	log.Println("========================================")
	log.Printf("🚀 QUEEN-MINI Backend starting on port %s", port)
	log.Printf("📊 Storage: %s", getStorageType())
	log.Printf("📱 WhatsApp store: %s", waDriver)
	log.Println("========================================")

	log.Fatal(app.Listen(":" + port))
}

func getStorageType() string {
	if os.Getenv("USE_MEMORY_STORE") == "true" {
		return "In-Memory (Testing)"
	}
	return "PostgreSQL Database"
}
