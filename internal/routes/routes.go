package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arda-t/ScoutChatBack/internal/broadcast"
	"github.com/arda-t/ScoutChatBack/internal/config"
	"github.com/arda-t/ScoutChatBack/internal/handlers"
	"github.com/arda-t/ScoutChatBack/internal/middleware"
	"github.com/arda-t/ScoutChatBack/internal/repository"
	"github.com/arda-t/ScoutChatBack/internal/services"
	chatws "github.com/arda-t/ScoutChatBack/internal/websocket"
)

// Wiring is what RegisterRoutes hands back to the caller: the pieces the
// server process still needs for the expiration sweeper.
type Wiring struct {
	ChatService *services.ChatService
	ChatRepo    *repository.ChatRepository
}

func RegisterRoutes(
	app *fiber.App,
	cfg *config.Config,
	db *pgxpool.Pool,
	hub *chatws.Hub,
	broadcaster broadcast.Broadcaster,
) *Wiring {
	userRepo := repository.NewUserRepository(db)
	chatRepo := repository.NewChatRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	var storageService services.StorageService
	if cfg.SupabaseURL != "" && cfg.SupabaseBucket != "" && cfg.SupabaseServiceKey != "" {
		storageService = services.NewSupabaseStorageService(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey)
	}

	chatService := services.NewChatService(chatRepo, messageRepo, userRepo, broadcaster)

	authHandler := handlers.NewAuthHandler(userRepo, cfg.JWTSecret)
	chatHandler := handlers.NewChatHandler(chatService, hub, cfg.JWTSecret)
	uploadHandler := handlers.NewUploadHandler(storageService)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	// The websocket route authenticates via query token, so it is wired
	// ahead of the bearer-token group.
	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	v1 := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	chats := v1.Group("/chats")
	chats.Post("", chatHandler.CreateChat)
	chats.Get("", chatHandler.ListChats)
	chats.Get("/unattended-count", chatHandler.GetUnattendedCount)
	chats.Get("/:id", chatHandler.GetChat)
	chats.Delete("/:id", chatHandler.DeleteChat)
	chats.Post("/:id/accept", chatHandler.AcceptChat)
	chats.Post("/:id/decline", chatHandler.DeclineChat)
	chats.Post("/:id/end", chatHandler.EndChat)
	chats.Post("/:id/extend", chatHandler.ExtendChat)
	chats.Get("/:id/messages", chatHandler.GetMessages)
	chats.Post("/:id/messages", chatHandler.SendMessage)

	v1.Get("/profiles/suggested", chatHandler.SuggestedProfiles)
	v1.Post("/uploads/chat-attachments", uploadHandler.CreateChatAttachmentUploads)

	return &Wiring{ChatService: chatService, ChatRepo: chatRepo}
}
