package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/arda-t/ScoutChatBack/internal/models"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(
	ctx context.Context,
	chatID int64,
	senderID int64,
	content string,
	attachments []models.Attachment,
) (*models.ChatMessage, error) {
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return nil, err
	}
	if attachments == nil {
		encoded = []byte("[]")
	}

	query := `
		INSERT INTO messages (chat_id, sender_id, content, attachments)
		VALUES ($1, $2, $3, $4)
		RETURNING id, chat_id, sender_id, content, attachments, delivered_at, read_at, created_at
	`
	return scanMessage(r.db.QueryRow(ctx, query, chatID, senderID, content, encoded))
}

func (r *MessageRepository) ListByChat(
	ctx context.Context,
	chatID int64,
	limit int,
	offset int,
) ([]models.ChatMessage, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE chat_id = $1
	`, chatID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, chat_id, sender_id, content, attachments, delivered_at, read_at, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, chatID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// MarkChatRead stamps every unread counterpart message in the chat as
// read by readerID.
func (r *MessageRepository) MarkChatRead(ctx context.Context, chatID, readerID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages
		SET read_at = NOW(),
		    delivered_at = COALESCE(delivered_at, NOW())
		WHERE chat_id = $1
		  AND sender_id <> $2
		  AND read_at IS NULL
	`, chatID, readerID)
	return err
}

// HasMessageFrom reports whether senderID has sent anything in the chat
// since the given time. The pending first-reply gate only looks at the
// current request cycle.
func (r *MessageRepository) HasMessageFrom(ctx context.Context, chatID, senderID int64, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE chat_id = $1 AND sender_id = $2 AND created_at >= $3
		)
	`, chatID, senderID, since).Scan(&exists)
	return exists, err
}

type messageScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row messageScanner) (*models.ChatMessage, error) {
	var message models.ChatMessage
	var attachments []byte
	err := row.Scan(
		&message.ID,
		&message.ChatID,
		&message.SenderID,
		&message.Content,
		&attachments,
		&message.DeliveredAt,
		&message.ReadAt,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &message.Attachments); err != nil {
			return nil, err
		}
	}
	if len(message.Attachments) == 0 {
		message.Attachments = nil
	}
	return &message, nil
}
