package models

import "time"

type ChatStatus string

const (
	ChatPending  ChatStatus = "PENDING"
	ChatAccepted ChatStatus = "ACCEPTED"
	ChatDeclined ChatStatus = "DECLINED"
	ChatExpired  ChatStatus = "EXPIRED"
	ChatEnded    ChatStatus = "ENDED"
)

// Terminal reports whether the status is one of the soft-terminal states.
// A soft-terminal chat only re-enters the graph through a retry message.
func (s ChatStatus) Terminal() bool {
	return s == ChatDeclined || s == ChatExpired || s == ChatEnded
}

// ParseChatStatus maps a client-supplied value onto a known status. ok is
// false for anything outside the five statuses, so free-form input never
// reaches the chat_status enum in a query.
func ParseChatStatus(value string) (ChatStatus, bool) {
	switch s := ChatStatus(value); s {
	case ChatPending, ChatAccepted, ChatDeclined, ChatExpired, ChatEnded:
		return s, true
	default:
		return "", false
	}
}

type CloseActor string

const (
	ClosedByInitiator  CloseActor = "INITIATOR"
	ClosedByRecipient  CloseActor = "RECIPIENT"
	ClosedByExpiration CloseActor = "EXPIRATION"
)

type Chat struct {
	ID              int64       `json:"id"`
	InitiatorID     int64       `json:"initiator_id"`
	RecipientID     int64       `json:"recipient_id"`
	Status          ChatStatus  `json:"status"`
	ClosedBy        *CloseActor `json:"closed_by,omitempty"`
	AcceptedAt      *time.Time  `json:"accepted_at,omitempty"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty"`
	ExtensionCount  int         `json:"extension_count"`
	LastMessageAt   *time.Time  `json:"last_message_at,omitempty"`
	InitiatorHidden bool        `json:"-"`
	RecipientHidden bool        `json:"-"`
	// CycleStartedAt marks the start of the current request cycle; a retry
	// resets it so the pending first-reply gate only sees the new cycle.
	CycleStartedAt time.Time `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Participant reports whether userID holds a standing role in the chat.
func (c *Chat) Participant(userID int64) bool {
	return userID == c.InitiatorID || userID == c.RecipientID
}

// Counterpart returns the other participant's id. Callers must have
// checked Participant first.
func (c *Chat) Counterpart(userID int64) int64 {
	if userID == c.InitiatorID {
		return c.RecipientID
	}
	return c.InitiatorID
}

type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Category string `json:"category"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type ChatMessage struct {
	ID          int64        `json:"id"`
	ChatID      int64        `json:"chat_id"`
	SenderID    int64        `json:"sender_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	DeliveredAt *time.Time   `json:"delivered_at,omitempty"`
	ReadAt      *time.Time   `json:"read_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Profile is the slice of the user directory the chat core needs for
// payload enrichment.
type Profile struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Avatar   *string `json:"avatar,omitempty"`
	UserType string  `json:"user_type"`
}

// ChatSummary is the per-user projection used for listing: the chat as
// seen from one participant's side.
type ChatSummary struct {
	Chat
	InitiatedBy string       `json:"initiated_by"` // "ME" or "THEM"
	Counterpart *Profile     `json:"counterpart,omitempty"`
	LastMessage *ChatMessage `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
}

type PaginationMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
