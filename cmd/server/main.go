package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/arda-t/ScoutChatBack/internal/broadcast"
	"github.com/arda-t/ScoutChatBack/internal/config"
	"github.com/arda-t/ScoutChatBack/internal/database"
	"github.com/arda-t/ScoutChatBack/internal/routes"
	"github.com/arda-t/ScoutChatBack/internal/scheduler"
	chatws "github.com/arda-t/ScoutChatBack/internal/websocket"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		log.Fatal("DB_URL is required")
	}
	if err := database.ConnectDB(cfg.DBUrl); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.CloseDB()

	// 3. Connection registry and cross-process event transport
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := chatws.NewHub(cfg.HeartbeatTimeout)
	go hub.Run(ctx)

	if cfg.RedisURL == "" {
		log.Fatal("REDIS_URL is required")
	}
	broadcaster, err := broadcast.NewRedisBroadcaster(cfg.RedisURL, hub)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer broadcaster.Close()
	broadcaster.Start(ctx)

	// 4. Setup Fiber
	app := fiber.New()

	// Middleware
	app.Use(cors.New())
	app.Use(logger.New())
	app.Use(recover.New())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	wiring := routes.RegisterRoutes(app, cfg, database.DB, hub, broadcaster)

	// 5. Expiration sweeper
	sweeper := scheduler.NewExpirationSweeper(wiring.ChatRepo, wiring.ChatService, cfg.SweepInterval)
	go sweeper.Run(ctx)

	// 6. Start Server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
