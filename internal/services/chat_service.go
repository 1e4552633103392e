package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"github.com/arda-t/ScoutChatBack/internal/broadcast"
	"github.com/arda-t/ScoutChatBack/internal/lifecycle"
	"github.com/arda-t/ScoutChatBack/internal/models"
)

const (
	maxContentLength = 1000
	maxAttachments   = 10
)

type chatStore interface {
	Create(ctx context.Context, initiatorID, recipientID int64) (*models.Chat, error)
	GetByID(ctx context.Context, chatID int64) (*models.Chat, error)
	GetLiveByPair(ctx context.Context, userA, userB int64) (*models.Chat, error)
	GetByPair(ctx context.Context, userA, userB int64) (*models.Chat, error)
	Accept(ctx context.Context, chatID int64, window time.Duration) (*models.Chat, error)
	Decline(ctx context.Context, chatID int64) (*models.Chat, error)
	End(ctx context.Context, chatID int64, closedBy models.CloseActor) (*models.Chat, error)
	Extend(ctx context.Context, chatID int64, window time.Duration, maxExtensions int) (*models.Chat, error)
	Expire(ctx context.Context, chatID int64) (*models.Chat, error)
	RetryToPending(ctx context.Context, chatID int64, fromStatus models.ChatStatus, newInitiatorID, newRecipientID int64) (*models.Chat, error)
	RetryToAccepted(ctx context.Context, chatID, initiatorID int64, window time.Duration, maxExtensions int) (*models.Chat, error)
	TouchLastMessage(ctx context.Context, chatID int64) error
	SetHidden(ctx context.Context, chatID, userID int64) error
	ListForParticipant(ctx context.Context, userID int64, statusFilter models.ChatStatus, search string, limit, offset int) ([]models.ChatSummary, int, error)
	CountUnattended(ctx context.Context, userID int64) (int, error)
}

type messageStore interface {
	Create(ctx context.Context, chatID, senderID int64, content string, attachments []models.Attachment) (*models.ChatMessage, error)
	ListByChat(ctx context.Context, chatID int64, limit, offset int) ([]models.ChatMessage, int, error)
	MarkChatRead(ctx context.Context, chatID, readerID int64) error
	HasMessageFrom(ctx context.Context, chatID, senderID int64, since time.Time) (bool, error)
}

type profileDirectory interface {
	GetProfile(ctx context.Context, id int64) (*models.Profile, error)
	ListSuggested(ctx context.Context, userType string, limit int) ([]models.Profile, error)
}

// ChatService drives the chat request lifecycle: it authorizes the
// caller, asks the state machine for the outcome, persists it through a
// conditional update and broadcasts the change to both sides of the
// chat. Broadcast failures never fail the mutating call.
type ChatService struct {
	chats       chatStore
	messages    messageStore
	directory   profileDirectory
	broadcaster broadcast.Broadcaster
}

func NewChatService(
	chats chatStore,
	messages messageStore,
	directory profileDirectory,
	broadcaster broadcast.Broadcaster,
) *ChatService {
	return &ChatService{
		chats:       chats,
		messages:    messages,
		directory:   directory,
		broadcaster: broadcaster,
	}
}

// ChatEventPayload is the chat-state shape every lifecycle event
// carries, rendered relative to the addressed user.
type ChatEventPayload struct {
	ID             int64              `json:"id"`
	Status         models.ChatStatus  `json:"status"`
	InitiatedBy    string             `json:"initiated_by"`
	ClosedBy       *models.CloseActor `json:"closed_by,omitempty"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
	ExtensionCount int                `json:"extension_count"`
	Recipient      *models.Profile    `json:"recipient"`
	CreatedAt      time.Time          `json:"created_at"`
}

type ChatCreation struct {
	Chat    *models.Chat
	Message *models.ChatMessage
	// Created is false when an idempotent create returned the already
	// live chat between the pair untouched.
	Created bool
}

type MessageDelivery struct {
	Chat        *models.Chat
	Message     *models.ChatMessage
	RecipientID int64
}

type ExtendResult struct {
	ExpiresAt           time.Time `json:"expires_at"`
	ExtensionCount      int       `json:"extension_count"`
	DaysAdded           int       `json:"days_added"`
	RemainingExtensions int       `json:"remaining_extensions"`
}

// CreateChat opens a chat request with the first message. If a live chat
// already exists between the pair it is returned as-is; if a soft-terminal
// one exists, the message goes down the retry path and the same chat row
// is reused.
func (s *ChatService) CreateChat(
	ctx context.Context,
	initiatorID int64,
	recipientID int64,
	content string,
	attachments []models.Attachment,
) (*ChatCreation, error) {
	if recipientID <= 0 || recipientID == initiatorID {
		return nil, ErrValidation
	}
	content, err := validateMessageBody(content, attachments)
	if err != nil {
		return nil, err
	}

	if _, err := s.directory.GetProfile(ctx, recipientID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}

	if live, err := s.chats.GetLiveByPair(ctx, initiatorID, recipientID); err == nil {
		return &ChatCreation{Chat: live, Created: false}, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	previous, err := s.chats.GetByPair(ctx, initiatorID, recipientID)
	switch {
	case err == nil && previous.Status.Terminal():
		delivery, err := s.deliver(ctx, previous, initiatorID, content, attachments)
		if err != nil {
			return nil, err
		}
		return &ChatCreation{Chat: delivery.Chat, Message: delivery.Message, Created: true}, nil
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return nil, err
	}

	chat, err := s.chats.Create(ctx, initiatorID, recipientID)
	if err != nil {
		return nil, err
	}
	message, err := s.messages.Create(ctx, chat.ID, initiatorID, content, attachments)
	if err != nil {
		return nil, err
	}
	if err := s.chats.TouchLastMessage(ctx, chat.ID); err != nil {
		return nil, err
	}
	message.ChatID = chat.ID
	now := message.CreatedAt
	chat.LastMessageAt = &now

	s.notifyChat(ctx, broadcast.EventRequestReceived, recipientID, chat)
	s.pushCounts(ctx, recipientID)

	return &ChatCreation{Chat: chat, Message: message, Created: true}, nil
}

// SendMessage records a message, applying the pending first-reply gate
// and the soft-terminal retry transitions.
func (s *ChatService) SendMessage(
	ctx context.Context,
	callerID int64,
	chatID int64,
	content string,
	attachments []models.Attachment,
) (*MessageDelivery, error) {
	content, err := validateMessageBody(content, attachments)
	if err != nil {
		return nil, err
	}

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return s.deliver(ctx, chat, callerID, content, attachments)
}

func (s *ChatService) deliver(
	ctx context.Context,
	chat *models.Chat,
	callerID int64,
	content string,
	attachments []models.Attachment,
) (*MessageDelivery, error) {
	role, ok := lifecycle.RoleFor(chat.InitiatorID, chat.RecipientID, callerID)
	if !ok {
		return nil, ErrNotParticipant
	}

	snapshot := lifecycle.Snapshot{
		Status:         chat.Status,
		ClosedBy:       chat.ClosedBy,
		ExtensionCount: chat.ExtensionCount,
	}
	if chat.Status == models.ChatPending && role == lifecycle.RoleRecipient {
		replied, err := s.messages.HasMessageFrom(ctx, chat.ID, callerID, chat.CycleStartedAt)
		if err != nil {
			return nil, err
		}
		snapshot.RecipientReplied = replied
	}

	outcome, err := lifecycle.Decide(snapshot, lifecycle.ActionMessage, role)
	if err != nil {
		return nil, mapLifecycleErr(err, lifecycle.ActionMessage)
	}

	retriedFrom := models.ChatStatus("")
	counterpartID := chat.Counterpart(callerID)

	switch {
	case outcome.SwapRoles:
		retriedFrom = chat.Status
		chat, err = s.chats.RetryToPending(ctx, chat.ID, chat.Status, callerID, counterpartID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrInvalidState
			}
			return nil, err
		}
	case outcome.ConsumeExtension:
		retriedFrom = chat.Status
		chat, err = s.chats.RetryToAccepted(ctx, chat.ID, callerID, lifecycle.Window, lifecycle.MaxExtensions)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrInvalidState
			}
			return nil, err
		}
	}

	message, err := s.messages.Create(ctx, chat.ID, callerID, content, attachments)
	if err != nil {
		return nil, err
	}
	if err := s.chats.TouchLastMessage(ctx, chat.ID); err != nil {
		return nil, err
	}

	switch retriedFrom {
	case models.ChatDeclined:
		s.notifyChat(ctx, broadcast.EventDeclinedRetried, counterpartID, chat)
	case models.ChatEnded:
		s.notifyChat(ctx, broadcast.EventEndedRetried, counterpartID, chat)
	case models.ChatExpired:
		s.notifyChat(ctx, broadcast.EventExtended, counterpartID, chat)
	}
	s.notifyMessage(ctx, chat, message)
	s.pushCounts(ctx, counterpartID)

	return &MessageDelivery{Chat: chat, Message: message, RecipientID: counterpartID}, nil
}

// AcceptChat moves a pending request into its three-day window. Only the
// recipient may accept; a lost race surfaces as invalid state.
func (s *ChatService) AcceptChat(ctx context.Context, chatID, callerID int64) (*models.Chat, error) {
	chat, outcome, err := s.decide(ctx, chatID, callerID, lifecycle.ActionAccept)
	if err != nil {
		return nil, err
	}
	if outcome.Noop {
		return chat, nil
	}

	updated, err := s.chats.Accept(ctx, chat.ID, lifecycle.Window)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidState
		}
		return nil, err
	}

	s.notifyChat(ctx, broadcast.EventAccepted, updated.InitiatorID, updated)
	s.pushCounts(ctx, updated.RecipientID)
	return updated, nil
}

func (s *ChatService) DeclineChat(ctx context.Context, chatID, callerID int64) (*models.Chat, error) {
	chat, outcome, err := s.decide(ctx, chatID, callerID, lifecycle.ActionDecline)
	if err != nil {
		return nil, err
	}
	if outcome.Noop {
		// Idempotent repeat: no second broadcast, no closedBy overwrite.
		return chat, nil
	}

	updated, err := s.chats.Decline(ctx, chat.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidState
		}
		return nil, err
	}

	s.notifyChat(ctx, broadcast.EventDeclined, updated.InitiatorID, updated)
	s.pushCounts(ctx, updated.RecipientID)
	return updated, nil
}

func (s *ChatService) EndChat(ctx context.Context, chatID, callerID int64) (*models.Chat, error) {
	chat, outcome, err := s.decide(ctx, chatID, callerID, lifecycle.ActionEnd)
	if err != nil {
		return nil, err
	}
	if outcome.Noop {
		return chat, nil
	}

	updated, err := s.chats.End(ctx, chat.ID, *outcome.ClosedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidState
		}
		return nil, err
	}

	s.notifyChat(ctx, broadcast.EventEnded, updated.Counterpart(callerID), updated)
	s.pushCounts(ctx, updated.InitiatorID, updated.RecipientID)
	return updated, nil
}

// ExtendChat pushes the expiry out by one window, initiator only, capped
// at three per chat lifetime.
func (s *ChatService) ExtendChat(ctx context.Context, chatID, callerID int64) (*ExtendResult, error) {
	chat, _, err := s.decide(ctx, chatID, callerID, lifecycle.ActionExtend)
	if err != nil {
		return nil, err
	}

	updated, err := s.chats.Extend(ctx, chat.ID, lifecycle.Window, lifecycle.MaxExtensions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost a race. Reload to tell "state moved" apart from "last
			// slot taken".
			current, loadErr := s.loadChat(ctx, chat.ID)
			if loadErr == nil && current.Status == models.ChatAccepted && current.ExtensionCount >= lifecycle.MaxExtensions {
				return nil, ErrExtensionsExhausted
			}
			return nil, ErrInvalidState
		}
		return nil, err
	}

	s.notifyChat(ctx, broadcast.EventExtended, updated.RecipientID, updated)

	return &ExtendResult{
		ExpiresAt:           *updated.ExpiresAt,
		ExtensionCount:      updated.ExtensionCount,
		DaysAdded:           int(lifecycle.Window.Hours() / 24),
		RemainingExtensions: lifecycle.MaxExtensions - updated.ExtensionCount,
	}, nil
}

// ExpireChat is the scheduler's entry point. A chat that is no longer
// ACCEPTED, or whose conditional update loses the race, is a no-op: the
// crossing was already handled elsewhere.
func (s *ChatService) ExpireChat(ctx context.Context, chatID int64) error {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}

	snapshot := lifecycle.Snapshot{Status: chat.Status, ClosedBy: chat.ClosedBy, ExtensionCount: chat.ExtensionCount}
	outcome, err := lifecycle.Decide(snapshot, lifecycle.ActionExpire, lifecycle.RoleSystem)
	if err != nil {
		return err
	}
	if outcome.Noop {
		return nil
	}

	updated, err := s.chats.Expire(ctx, chat.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	s.notifyChat(ctx, broadcast.EventExpired, updated.InitiatorID, updated)
	s.notifyChat(ctx, broadcast.EventExpired, updated.RecipientID, updated)
	s.pushCounts(ctx, updated.InitiatorID, updated.RecipientID)
	return nil
}

func (s *ChatService) GetUnattendedCount(ctx context.Context, userID int64) (int, error) {
	return s.chats.CountUnattended(ctx, userID)
}

func (s *ChatService) ListChats(
	ctx context.Context,
	userID int64,
	statusFilter models.ChatStatus,
	search string,
	page int,
	limit int,
) ([]models.ChatSummary, int, error) {
	if page <= 0 || limit <= 0 {
		return nil, 0, ErrValidation
	}
	if statusFilter != "" {
		if _, ok := models.ParseChatStatus(string(statusFilter)); !ok {
			return nil, 0, ErrValidation
		}
	}
	return s.chats.ListForParticipant(ctx, userID, statusFilter, strings.TrimSpace(search), limit, (page-1)*limit)
}

// GetChat returns the single-chat projection from the caller's side.
func (s *ChatService) GetChat(ctx context.Context, chatID, callerID int64) (*models.ChatSummary, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.Participant(callerID) {
		return nil, ErrNotParticipant
	}

	summary := &models.ChatSummary{Chat: *chat, InitiatedBy: "THEM"}
	if chat.InitiatorID == callerID {
		summary.InitiatedBy = "ME"
	}
	if profile, err := s.directory.GetProfile(ctx, chat.Counterpart(callerID)); err == nil {
		summary.Counterpart = profile
	}
	return summary, nil
}

// ListMessages pages through a chat's history and marks counterpart
// messages read, then pushes the caller's refreshed unattended count.
func (s *ChatService) ListMessages(
	ctx context.Context,
	chatID int64,
	callerID int64,
	page int,
	limit int,
) ([]models.ChatMessage, int, error) {
	if page <= 0 || limit <= 0 {
		return nil, 0, ErrValidation
	}

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, 0, err
	}
	if !chat.Participant(callerID) {
		return nil, 0, ErrNotParticipant
	}

	messages, total, err := s.messages.ListByChat(ctx, chat.ID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	if err := s.messages.MarkChatRead(ctx, chat.ID, callerID); err != nil {
		return nil, 0, err
	}
	s.pushCounts(ctx, callerID)

	now := time.Now().UTC()
	for i := range messages {
		if messages[i].SenderID != callerID && messages[i].ReadAt == nil {
			messages[i].ReadAt = &now
		}
	}
	return messages, total, nil
}

// DeleteChat hides the chat for the caller only. No state transition.
func (s *ChatService) DeleteChat(ctx context.Context, chatID, callerID int64) error {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.Participant(callerID) {
		return ErrNotParticipant
	}
	if err := s.chats.SetHidden(ctx, chat.ID, callerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrChatNotFound
		}
		return err
	}
	return nil
}

// SuggestedProfiles is a bulk directory lookup of counterpart-type
// profiles for the caller.
func (s *ChatService) SuggestedProfiles(ctx context.Context, callerID int64, limit int) ([]models.Profile, error) {
	if limit <= 0 {
		return nil, ErrValidation
	}
	caller, err := s.directory.GetProfile(ctx, callerID)
	if err != nil {
		return nil, err
	}
	return s.directory.ListSuggested(ctx, caller.UserType, limit)
}

func (s *ChatService) loadChat(ctx context.Context, chatID int64) (*models.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return chat, nil
}

// decide loads the chat, resolves the caller's role and runs the state
// machine for a participant-driven action.
func (s *ChatService) decide(
	ctx context.Context,
	chatID int64,
	callerID int64,
	action lifecycle.Action,
) (*models.Chat, lifecycle.Outcome, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, lifecycle.Outcome{}, err
	}

	role, ok := lifecycle.RoleFor(chat.InitiatorID, chat.RecipientID, callerID)
	if !ok {
		return nil, lifecycle.Outcome{}, ErrNotParticipant
	}

	outcome, err := lifecycle.Decide(lifecycle.Snapshot{
		Status:         chat.Status,
		ClosedBy:       chat.ClosedBy,
		ExtensionCount: chat.ExtensionCount,
	}, action, role)
	if err != nil {
		return nil, lifecycle.Outcome{}, mapLifecycleErr(err, action)
	}
	return chat, outcome, nil
}

func mapLifecycleErr(err error, action lifecycle.Action) error {
	switch {
	case errors.Is(err, lifecycle.ErrExtensionsExhausted):
		return ErrExtensionsExhausted
	case errors.Is(err, lifecycle.ErrInvalidState):
		return ErrInvalidState
	case errors.Is(err, lifecycle.ErrWrongRole):
		switch action {
		case lifecycle.ActionAccept, lifecycle.ActionDecline:
			return ErrNotRecipient
		case lifecycle.ActionExtend:
			return ErrNotInitiator
		default:
			return ErrWrongRole
		}
	default:
		return err
	}
}

func validateMessageBody(content string, attachments []models.Attachment) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return "", ErrValidation
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return "", ErrValidation
	}
	if len(attachments) > maxAttachments {
		return "", ErrValidation
	}
	return content, nil
}

// notifyChat publishes a lifecycle event addressed to userID, with the
// chat rendered from that user's perspective.
func (s *ChatService) notifyChat(ctx context.Context, name string, userID int64, chat *models.Chat) {
	payload := ChatEventPayload{
		ID:             chat.ID,
		Status:         chat.Status,
		InitiatedBy:    "THEM",
		ClosedBy:       chat.ClosedBy,
		ExpiresAt:      chat.ExpiresAt,
		ExtensionCount: chat.ExtensionCount,
		CreatedAt:      chat.CreatedAt,
	}
	if chat.InitiatorID == userID {
		payload.InitiatedBy = "ME"
	}
	if profile, err := s.directory.GetProfile(ctx, chat.Counterpart(userID)); err == nil {
		payload.Recipient = profile
	}

	s.publish(ctx, name, userID, payload)
}

// notifyMessage delivers a stored message to both sides so every open
// tab of the sender stays in sync too.
func (s *ChatService) notifyMessage(ctx context.Context, chat *models.Chat, message *models.ChatMessage) {
	s.publish(ctx, broadcast.EventMessage, chat.InitiatorID, message)
	s.publish(ctx, broadcast.EventMessage, chat.RecipientID, message)
}

func (s *ChatService) pushCounts(ctx context.Context, userIDs ...int64) {
	for _, userID := range userIDs {
		count, err := s.chats.CountUnattended(ctx, userID)
		if err != nil {
			log.Printf("chat service: unattended count for user %d: %v", userID, err)
			continue
		}
		s.publish(ctx, broadcast.EventUnattendedCount, userID, map[string]int{"count": count})
	}
}

func (s *ChatService) publish(ctx context.Context, name string, userID int64, payload any) {
	event, err := broadcast.NewEvent(name, userID, payload)
	if err != nil {
		log.Printf("chat service: build %s event: %v", name, err)
		return
	}
	if err := s.broadcaster.Publish(ctx, event); err != nil {
		log.Printf("chat service: publish %s: %v", name, err)
	}
}
