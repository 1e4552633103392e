package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/arda-t/ScoutChatBack/internal/models"
	"github.com/arda-t/ScoutChatBack/internal/services"
	chatws "github.com/arda-t/ScoutChatBack/internal/websocket"
	"github.com/arda-t/ScoutChatBack/pkg/utils"
)

type chatApplicationService interface {
	CreateChat(ctx context.Context, initiatorID, recipientID int64, content string, attachments []models.Attachment) (*services.ChatCreation, error)
	SendMessage(ctx context.Context, callerID, chatID int64, content string, attachments []models.Attachment) (*services.MessageDelivery, error)
	AcceptChat(ctx context.Context, chatID, callerID int64) (*models.Chat, error)
	DeclineChat(ctx context.Context, chatID, callerID int64) (*models.Chat, error)
	EndChat(ctx context.Context, chatID, callerID int64) (*models.Chat, error)
	ExtendChat(ctx context.Context, chatID, callerID int64) (*services.ExtendResult, error)
	ListChats(ctx context.Context, userID int64, statusFilter models.ChatStatus, search string, page, limit int) ([]models.ChatSummary, int, error)
	GetChat(ctx context.Context, chatID, callerID int64) (*models.ChatSummary, error)
	ListMessages(ctx context.Context, chatID, callerID int64, page, limit int) ([]models.ChatMessage, int, error)
	DeleteChat(ctx context.Context, chatID, callerID int64) error
	GetUnattendedCount(ctx context.Context, userID int64) (int, error)
	SuggestedProfiles(ctx context.Context, callerID int64, limit int) ([]models.Profile, error)
}

type ChatHandler struct {
	service   chatApplicationService
	hub       *chatws.Hub
	jwtSecret string
}

func NewChatHandler(service chatApplicationService, hub *chatws.Hub, jwtSecret string) *ChatHandler {
	return &ChatHandler{
		service:   service,
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

type createChatRequest struct {
	RecipientID int64               `json:"recipient_id"`
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

type sendMessageRequest struct {
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

func (h *ChatHandler) CreateChat(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req createChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	creation, err := h.service.CreateChat(c.Context(), userID, req.RecipientID, req.Content, req.Attachments)
	if err != nil {
		return mapChatError(c, err)
	}

	status := fiber.StatusCreated
	if !creation.Created {
		// The live chat between the pair already existed; nothing new.
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"chat":    creation.Chat,
		"message": creation.Message,
	})
}

func (h *ChatHandler) ListChats(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var statusFilter models.ChatStatus
	if statusParam := strings.ToUpper(strings.TrimSpace(c.Query("status"))); statusParam != "" {
		parsed, ok := models.ParseChatStatus(statusParam)
		if !ok {
			return mapChatError(c, services.ErrValidation)
		}
		statusFilter = parsed
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	chats, total, err := h.service.ListChats(c.Context(), userID, statusFilter, c.Query("search"), page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"chats":      chats,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *ChatHandler) GetChat(c *fiber.Ctx) error {
	userID, chatID, ok := callerAndChatID(c)
	if !ok {
		return nil
	}

	summary, err := h.service.GetChat(c.Context(), chatID, userID)
	if err != nil {
		return mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"chat": summary})
}

func (h *ChatHandler) DeleteChat(c *fiber.Ctx) error {
	userID, chatID, ok := callerAndChatID(c)
	if !ok {
		return nil
	}

	if err := h.service.DeleteChat(c.Context(), chatID, userID); err != nil {
		return mapChatError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) AcceptChat(c *fiber.Ctx) error {
	userID, chatID, ok := callerAndChatID(c)
	if !ok {
		return nil
	}

	chat, err := h.service.AcceptChat(c.Context(), chatID, userID)
	if err != nil {
		return mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"chat": chat})
}

func (h *ChatHandler) DeclineChat(c *fiber.Ctx) error {
	userID, chatID, ok := callerAndChatID(c)
	if !ok {
		return nil
	}

	chat, err := h.service.DeclineChat(c.Context(), chatID, userID)
	if err != nil {
		return mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"chat": chat})
}

func (h *ChatHandler) EndChat(c *fiber.Ctx) error {
	userID, chatID, ok := callerAndChatID(c)
	if !ok {
		return nil
	}

	chat, err := h.service.EndChat(c.Context(), chatID, userID)
	if err != nil {
		return mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"chat": chat})
}

func (h *ChatHandler) ExtendChat(c *fiber.Ctx) error {
	userID, chatID, ok := callerAndChatID(c)
	if !ok {
		return nil
	}

	result, err := h.service.ExtendChat(c.Context(), chatID, userID)
	if err != nil {
		return mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"extension": result})
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	userID, chatID, ok := callerAndChatID(c)
	if !ok {
		return nil
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, total, err := h.service.ListMessages(c.Context(), chatID, userID, page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":   messages,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userID, chatID, ok := callerAndChatID(c)
	if !ok {
		return nil
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	delivery, err := h.service.SendMessage(c.Context(), userID, chatID, req.Content, req.Attachments)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": delivery.Message,
		"chat":    delivery.Chat,
	})
}

func (h *ChatHandler) GetUnattendedCount(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	count, err := h.service.GetUnattendedCount(c.Context(), userID)
	if err != nil {
		return mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"count": count})
}

func (h *ChatHandler) SuggestedProfiles(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	profiles, err := h.service.SuggestedProfiles(c.Context(), userID, limit)
	if err != nil {
		return mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"profiles": profiles})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userIDStr, _ := conn.Locals("user_id").(string)
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil || userID <= 0 {
		_ = conn.Close()
		return
	}

	client := chatws.NewClient(h.hub, conn, userID)
	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.service)
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func currentUserID(c *fiber.Ctx) (int64, error) {
	userIDStr, ok := c.Locals("user_id").(string)
	if !ok {
		return 0, errors.New("missing user id")
	}
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil || userID <= 0 {
		return 0, errors.New("invalid user id")
	}
	return userID, nil
}

// callerAndChatID resolves the authenticated caller and the :id route
// param. When ok is false the error response is already written.
func callerAndChatID(c *fiber.Ctx) (userID, chatID int64, ok bool) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		return 0, 0, false
	}

	chatID, err = strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || chatID <= 0 {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid chat id"})
		return 0, 0, false
	}
	return userID, chatID, true
}

// mapChatError turns a service error into its HTTP status plus the
// stable code the frontend switches on.
func mapChatError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch services.ErrorCode(err) {
	case "NOT_PARTICIPANT", "NOT_RECIPIENT", "NOT_INITIATOR", "WRONG_ROLE_FOR_ACTION":
		status = fiber.StatusForbidden
	case "INVALID_STATE_FOR_ACTION", "EXTENSIONS_EXHAUSTED":
		status = fiber.StatusConflict
	case "CHAT_NOT_FOUND", "RECIPIENT_NOT_FOUND":
		status = fiber.StatusNotFound
	case "VALIDATION_ERROR":
		status = fiber.StatusBadRequest
	}

	body := fiber.Map{"error": services.PublicMessage(err)}
	if code := services.ErrorCode(err); code != "" {
		body["code"] = code
	}
	return c.Status(status).JSON(body)
}
