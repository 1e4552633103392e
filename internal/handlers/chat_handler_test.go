package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/arda-t/ScoutChatBack/internal/models"
	"github.com/arda-t/ScoutChatBack/internal/services"
	chatws "github.com/arda-t/ScoutChatBack/internal/websocket"
)

type stubChatService struct {
	createResult  *services.ChatCreation
	createErr     error
	chatResult    *models.Chat
	chatErr       error
	extendResult  *services.ExtendResult
	extendErr     error
	listResult    []models.ChatSummary
	listTotal     int
	messages      []models.ChatMessage
	messagesTotal int
	count         int

	lastCallerID    int64
	lastRecipientID int64
	lastChatID      int64
	lastStatus      models.ChatStatus
	lastPage        int
	lastLimit       int
}

func (s *stubChatService) CreateChat(_ context.Context, initiatorID, recipientID int64, _ string, _ []models.Attachment) (*services.ChatCreation, error) {
	s.lastCallerID = initiatorID
	s.lastRecipientID = recipientID
	return s.createResult, s.createErr
}

func (s *stubChatService) SendMessage(_ context.Context, callerID, chatID int64, content string, attachments []models.Attachment) (*services.MessageDelivery, error) {
	s.lastCallerID = callerID
	s.lastChatID = chatID
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	return &services.MessageDelivery{
		Chat:    s.chatResult,
		Message: &models.ChatMessage{ID: 1, ChatID: chatID, SenderID: callerID, Content: content, Attachments: attachments},
	}, nil
}

func (s *stubChatService) AcceptChat(_ context.Context, chatID, callerID int64) (*models.Chat, error) {
	s.lastChatID = chatID
	s.lastCallerID = callerID
	return s.chatResult, s.chatErr
}

func (s *stubChatService) DeclineChat(_ context.Context, chatID, callerID int64) (*models.Chat, error) {
	s.lastChatID = chatID
	s.lastCallerID = callerID
	return s.chatResult, s.chatErr
}

func (s *stubChatService) EndChat(_ context.Context, chatID, callerID int64) (*models.Chat, error) {
	s.lastChatID = chatID
	s.lastCallerID = callerID
	return s.chatResult, s.chatErr
}

func (s *stubChatService) ExtendChat(_ context.Context, chatID, callerID int64) (*services.ExtendResult, error) {
	s.lastChatID = chatID
	s.lastCallerID = callerID
	return s.extendResult, s.extendErr
}

func (s *stubChatService) ListChats(_ context.Context, userID int64, statusFilter models.ChatStatus, _ string, page, limit int) ([]models.ChatSummary, int, error) {
	s.lastCallerID = userID
	s.lastStatus = statusFilter
	s.lastPage = page
	s.lastLimit = limit
	return s.listResult, s.listTotal, nil
}

func (s *stubChatService) GetChat(_ context.Context, chatID, callerID int64) (*models.ChatSummary, error) {
	s.lastChatID = chatID
	s.lastCallerID = callerID
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	return &models.ChatSummary{Chat: *s.chatResult, InitiatedBy: "ME"}, nil
}

func (s *stubChatService) ListMessages(_ context.Context, chatID, callerID int64, page, limit int) ([]models.ChatMessage, int, error) {
	s.lastChatID = chatID
	s.lastCallerID = callerID
	s.lastPage = page
	s.lastLimit = limit
	return s.messages, s.messagesTotal, nil
}

func (s *stubChatService) DeleteChat(_ context.Context, chatID, callerID int64) error {
	s.lastChatID = chatID
	s.lastCallerID = callerID
	return s.chatErr
}

func (s *stubChatService) GetUnattendedCount(_ context.Context, userID int64) (int, error) {
	s.lastCallerID = userID
	return s.count, nil
}

func (s *stubChatService) SuggestedProfiles(_ context.Context, callerID int64, limit int) ([]models.Profile, error) {
	s.lastCallerID = callerID
	s.lastLimit = limit
	return nil, nil
}

func newChatTestApp(service *stubChatService, userID string) (*fiber.App, *ChatHandler) {
	handler := NewChatHandler(service, chatws.NewHub(time.Minute), "secret")

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("role", "company")
		return c.Next()
	})
	return app, handler
}

func TestCreateChatReturnsCreatedChat(t *testing.T) {
	service := &stubChatService{
		createResult: &services.ChatCreation{
			Chat:    &models.Chat{ID: 5, InitiatorID: 42, RecipientID: 7, Status: models.ChatPending},
			Message: &models.ChatMessage{ID: 1, ChatID: 5, SenderID: 42, Content: "hello"},
			Created: true,
		},
	}
	app, handler := newChatTestApp(service, "42")
	app.Post("/api/v1/chats", handler.CreateChat)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chats", strings.NewReader(`{"recipient_id":7,"content":"hello"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastCallerID != 42 || service.lastRecipientID != 7 {
		t.Fatalf("unexpected call context: %d %d", service.lastCallerID, service.lastRecipientID)
	}

	var body struct {
		Chat *models.Chat `json:"chat"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Chat == nil || body.Chat.ID != 5 || body.Chat.Status != models.ChatPending {
		t.Fatalf("unexpected response: %+v", body.Chat)
	}
}

func TestCreateChatReturnsExistingLiveChatWith200(t *testing.T) {
	service := &stubChatService{
		createResult: &services.ChatCreation{
			Chat:    &models.Chat{ID: 5, Status: models.ChatAccepted},
			Created: false,
		},
	}
	app, handler := newChatTestApp(service, "42")
	app.Post("/api/v1/chats", handler.CreateChat)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chats", strings.NewReader(`{"recipient_id":7,"content":"hello"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for an existing chat, got %d", resp.StatusCode)
	}
}

func TestAcceptChatMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not recipient", services.ErrNotRecipient, http.StatusForbidden, "NOT_RECIPIENT"},
		{"invalid state", services.ErrInvalidState, http.StatusConflict, "INVALID_STATE_FOR_ACTION"},
		{"not found", services.ErrChatNotFound, http.StatusNotFound, "CHAT_NOT_FOUND"},
		{"not participant", services.ErrNotParticipant, http.StatusForbidden, "NOT_PARTICIPANT"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubChatService{chatErr: tc.err}
			app, handler := newChatTestApp(service, "42")
			app.Post("/api/v1/chats/:id/accept", handler.AcceptChat)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/chats/5/accept", nil)
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, resp.StatusCode)
			}

			var body struct {
				Code string `json:"code"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if body.Code != tc.wantCode {
				t.Fatalf("expected code %q, got %q", tc.wantCode, body.Code)
			}
		})
	}
}

func TestExtendChatReturnsExtensionDetails(t *testing.T) {
	expires := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	service := &stubChatService{
		extendResult: &services.ExtendResult{
			ExpiresAt:           expires,
			ExtensionCount:      2,
			DaysAdded:           3,
			RemainingExtensions: 1,
		},
	}
	app, handler := newChatTestApp(service, "42")
	app.Post("/api/v1/chats/:id/extend", handler.ExtendChat)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chats/5/extend", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Extension *services.ExtendResult `json:"extension"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Extension == nil || body.Extension.RemainingExtensions != 1 || !body.Extension.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected response: %+v", body.Extension)
	}
}

func TestExtendChatExhaustedReturnsConflict(t *testing.T) {
	service := &stubChatService{extendErr: services.ErrExtensionsExhausted}
	app, handler := newChatTestApp(service, "42")
	app.Post("/api/v1/chats/:id/extend", handler.ExtendChat)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chats/5/extend", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestListChatsForwardsFiltersAndPagination(t *testing.T) {
	service := &stubChatService{
		listResult: []models.ChatSummary{{Chat: models.Chat{ID: 3, Status: models.ChatAccepted}, InitiatedBy: "THEM", UnreadCount: 4}},
		listTotal:  1,
	}
	app, handler := newChatTestApp(service, "42")
	app.Get("/api/v1/chats", handler.ListChats)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chats?status=accepted&page=2&limit=500", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastStatus != models.ChatAccepted {
		t.Fatalf("expected uppercased status filter, got %q", service.lastStatus)
	}
	if service.lastPage != 2 || service.lastLimit != maxPageLimit {
		t.Fatalf("expected page 2 with clamped limit, got %d/%d", service.lastPage, service.lastLimit)
	}

	var body struct {
		Chats      []models.ChatSummary  `json:"chats"`
		Pagination models.PaginationMeta `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Chats) != 1 || body.Chats[0].UnreadCount != 4 {
		t.Fatalf("unexpected chats: %+v", body.Chats)
	}
	if body.Pagination.Total != 1 {
		t.Fatalf("unexpected pagination: %+v", body.Pagination)
	}
}

func TestListChatsRejectsUnknownStatusFilter(t *testing.T) {
	service := &stubChatService{}
	app, handler := newChatTestApp(service, "42")
	app.Get("/api/v1/chats", handler.ListChats)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chats?status=FOO", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status filter, got %d", resp.StatusCode)
	}
	if service.lastCallerID != 0 {
		t.Fatalf("service must not be called with an unknown status filter")
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected code VALIDATION_ERROR, got %q", body.Code)
	}
}

func TestGetMessagesRejectsInvalidChatID(t *testing.T) {
	app, handler := newChatTestApp(&stubChatService{}, "42")
	app.Get("/api/v1/chats/:id/messages", handler.GetMessages)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chats/abc/messages", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSendMessageReturnsStoredMessage(t *testing.T) {
	service := &stubChatService{chatResult: &models.Chat{ID: 5, Status: models.ChatAccepted}}
	app, handler := newChatTestApp(service, "42")
	app.Post("/api/v1/chats/:id/messages", handler.SendMessage)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chats/5/messages", strings.NewReader(`{"content":"on my way"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastChatID != 5 || service.lastCallerID != 42 {
		t.Fatalf("unexpected call context: %d %d", service.lastChatID, service.lastCallerID)
	}

	var body struct {
		Message *models.ChatMessage `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Message == nil || body.Message.Content != "on my way" {
		t.Fatalf("unexpected message: %+v", body.Message)
	}
}

func TestGetUnattendedCount(t *testing.T) {
	service := &stubChatService{count: 6}
	app, handler := newChatTestApp(service, "42")
	app.Get("/api/v1/chats/unattended-count", handler.GetUnattendedCount)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chats/unattended-count", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Count != 6 {
		t.Fatalf("expected count 6, got %d", body.Count)
	}
}

func TestDeleteChatReturnsNoContent(t *testing.T) {
	service := &stubChatService{}
	app, handler := newChatTestApp(service, "42")
	app.Delete("/api/v1/chats/:id", handler.DeleteChat)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/chats/5", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if service.lastChatID != 5 {
		t.Fatalf("expected chat 5 hidden, got %d", service.lastChatID)
	}
}

func TestHandlersRejectMissingUserID(t *testing.T) {
	handler := NewChatHandler(&stubChatService{}, chatws.NewHub(time.Minute), "secret")

	app := fiber.New()
	app.Get("/api/v1/chats", handler.ListChats)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chats", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
