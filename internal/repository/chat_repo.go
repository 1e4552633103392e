package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arda-t/ScoutChatBack/internal/models"
)

const chatColumns = `
	id, initiator_id, recipient_id, status, closed_by,
	accepted_at, expires_at, extension_count, last_message_at,
	initiator_hidden, recipient_hidden, cycle_started_at,
	created_at, updated_at
`

// ChatRepository persists chats. Every state transition is a single
// conditional UPDATE keyed on the expected current status, so racing
// actors resolve at the database: the loser gets pgx.ErrNoRows.
type ChatRepository struct {
	db DBTX
}

func NewChatRepository(db DBTX) *ChatRepository {
	return &ChatRepository{db: db}
}

func scanChat(row pgx.Row) (*models.Chat, error) {
	var chat models.Chat
	err := row.Scan(
		&chat.ID,
		&chat.InitiatorID,
		&chat.RecipientID,
		&chat.Status,
		&chat.ClosedBy,
		&chat.AcceptedAt,
		&chat.ExpiresAt,
		&chat.ExtensionCount,
		&chat.LastMessageAt,
		&chat.InitiatorHidden,
		&chat.RecipientHidden,
		&chat.CycleStartedAt,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *ChatRepository) Create(ctx context.Context, initiatorID, recipientID int64) (*models.Chat, error) {
	query := `
		INSERT INTO chats (initiator_id, recipient_id, status)
		VALUES ($1, $2, 'PENDING')
		RETURNING ` + chatColumns
	return scanChat(r.db.QueryRow(ctx, query, initiatorID, recipientID))
}

func (r *ChatRepository) GetByID(ctx context.Context, chatID int64) (*models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = $1`
	return scanChat(r.db.QueryRow(ctx, query, chatID))
}

// GetLiveByPair returns the single non-terminal chat between the two
// users, in either role order.
func (r *ChatRepository) GetLiveByPair(ctx context.Context, userA, userB int64) (*models.Chat, error) {
	query := `
		SELECT ` + chatColumns + `
		FROM chats
		WHERE ((initiator_id = $1 AND recipient_id = $2) OR (initiator_id = $2 AND recipient_id = $1))
		  AND status IN ('PENDING', 'ACCEPTED')
	`
	return scanChat(r.db.QueryRow(ctx, query, userA, userB))
}

// GetByPair returns the most recent chat between the two users in any
// state; retries reuse this row instead of creating a new one.
func (r *ChatRepository) GetByPair(ctx context.Context, userA, userB int64) (*models.Chat, error) {
	query := `
		SELECT ` + chatColumns + `
		FROM chats
		WHERE (initiator_id = $1 AND recipient_id = $2) OR (initiator_id = $2 AND recipient_id = $1)
		ORDER BY updated_at DESC
		LIMIT 1
	`
	return scanChat(r.db.QueryRow(ctx, query, userA, userB))
}

// Accept moves PENDING -> ACCEPTED and stamps the expiry window.
func (r *ChatRepository) Accept(ctx context.Context, chatID int64, window time.Duration) (*models.Chat, error) {
	query := `
		UPDATE chats
		SET status = 'ACCEPTED',
		    accepted_at = NOW(),
		    expires_at = NOW() + make_interval(secs => $2),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + chatColumns
	return scanChat(r.db.QueryRow(ctx, query, chatID, window.Seconds()))
}

func (r *ChatRepository) Decline(ctx context.Context, chatID int64) (*models.Chat, error) {
	query := `
		UPDATE chats
		SET status = 'DECLINED',
		    closed_by = 'RECIPIENT',
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + chatColumns
	return scanChat(r.db.QueryRow(ctx, query, chatID))
}

func (r *ChatRepository) End(ctx context.Context, chatID int64, closedBy models.CloseActor) (*models.Chat, error) {
	query := `
		UPDATE chats
		SET status = 'ENDED',
		    closed_by = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'ACCEPTED'
		RETURNING ` + chatColumns
	return scanChat(r.db.QueryRow(ctx, query, chatID, closedBy))
}

// Extend pushes the expiry window out and burns one extension slot. The
// slot guard lives in the statement so two racing extends cannot both win
// the last slot.
func (r *ChatRepository) Extend(ctx context.Context, chatID int64, window time.Duration, maxExtensions int) (*models.Chat, error) {
	query := `
		UPDATE chats
		SET expires_at = expires_at + make_interval(secs => $2),
		    extension_count = extension_count + 1,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'ACCEPTED' AND extension_count < $3
		RETURNING ` + chatColumns
	return scanChat(r.db.QueryRow(ctx, query, chatID, window.Seconds(), maxExtensions))
}

// Expire is the scheduler's transition. Only one racing sweep instance
// matches the conditional; the rest see pgx.ErrNoRows and move on.
func (r *ChatRepository) Expire(ctx context.Context, chatID int64) (*models.Chat, error) {
	query := `
		UPDATE chats
		SET status = 'EXPIRED',
		    closed_by = 'EXPIRATION',
		    updated_at = NOW()
		WHERE id = $1 AND status = 'ACCEPTED' AND expires_at <= NOW()
		RETURNING ` + chatColumns
	return scanChat(r.db.QueryRow(ctx, query, chatID))
}

// RetryToPending reopens a DECLINED or ENDED chat with the retrying
// sender as the new initiator.
func (r *ChatRepository) RetryToPending(
	ctx context.Context,
	chatID int64,
	fromStatus models.ChatStatus,
	newInitiatorID int64,
	newRecipientID int64,
) (*models.Chat, error) {
	query := `
		UPDATE chats
		SET status = 'PENDING',
		    initiator_id = $3,
		    recipient_id = $4,
		    closed_by = NULL,
		    accepted_at = NULL,
		    expires_at = NULL,
		    initiator_hidden = FALSE,
		    recipient_hidden = FALSE,
		    cycle_started_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + chatColumns
	return scanChat(r.db.QueryRow(ctx, query, chatID, fromStatus, newInitiatorID, newRecipientID))
}

// RetryToAccepted resurrects an EXPIRED chat straight back to ACCEPTED,
// consuming an extension slot. Only the original initiator qualifies and
// the guard is part of the statement.
func (r *ChatRepository) RetryToAccepted(
	ctx context.Context,
	chatID int64,
	initiatorID int64,
	window time.Duration,
	maxExtensions int,
) (*models.Chat, error) {
	query := `
		UPDATE chats
		SET status = 'ACCEPTED',
		    closed_by = NULL,
		    expires_at = NOW() + make_interval(secs => $3),
		    extension_count = extension_count + 1,
		    initiator_hidden = FALSE,
		    recipient_hidden = FALSE,
		    cycle_started_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'EXPIRED' AND initiator_id = $2 AND extension_count < $4
		RETURNING ` + chatColumns
	return scanChat(r.db.QueryRow(ctx, query, chatID, initiatorID, window.Seconds(), maxExtensions))
}

func (r *ChatRepository) TouchLastMessage(ctx context.Context, chatID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE chats
		SET last_message_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, chatID)
	return err
}

// SetHidden flags the chat invisible for one participant. A "delete" is a
// visibility flag, never a state transition.
func (r *ChatRepository) SetHidden(ctx context.Context, chatID, userID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE chats
		SET initiator_hidden = initiator_hidden OR (initiator_id = $2),
		    recipient_hidden = recipient_hidden OR (recipient_id = $2),
		    updated_at = NOW()
		WHERE id = $1 AND (initiator_id = $2 OR recipient_id = $2)
	`, chatID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListDueForExpiration returns accepted chats whose window has elapsed.
// The expire transition re-checks the condition, so an over-inclusive
// batch is harmless.
func (r *ChatRepository) ListDueForExpiration(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id
		FROM chats
		WHERE status = 'ACCEPTED' AND expires_at <= NOW()
		ORDER BY expires_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// CountUnattended answers "how many chat items await this user": pending
// requests addressed to them plus accepted chats holding unread messages
// from the counterpart.
func (r *ChatRepository) CountUnattended(ctx context.Context, userID int64) (int, error) {
	query := `
		SELECT
			(SELECT COUNT(*)
			 FROM chats
			 WHERE recipient_id = $1 AND status = 'PENDING' AND NOT recipient_hidden)
			+
			(SELECT COUNT(DISTINCT c.id)
			 FROM chats c
			 JOIN messages m ON m.chat_id = c.id
			 WHERE c.status = 'ACCEPTED'
			   AND (c.initiator_id = $1 OR c.recipient_id = $1)
			   AND m.sender_id <> $1
			   AND m.read_at IS NULL)
	`
	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListForParticipant builds the per-user chat projection: counterpart
// profile, last message preview and unread count, newest activity first.
func (r *ChatRepository) ListForParticipant(
	ctx context.Context,
	userID int64,
	statusFilter models.ChatStatus,
	search string,
	limit int,
	offset int,
) ([]models.ChatSummary, int, error) {
	conditions := []string{
		`(c.initiator_id = $1 OR c.recipient_id = $1)`,
		`NOT ((c.initiator_id = $1 AND c.initiator_hidden) OR (c.recipient_id = $1 AND c.recipient_hidden))`,
	}
	args := []any{userID}

	if statusFilter != "" {
		args = append(args, statusFilter)
		conditions = append(conditions, fmt.Sprintf(`c.status = $%d`, len(args)))
	}
	if search != "" {
		args = append(args, "%"+search+"%")
		conditions = append(conditions, fmt.Sprintf(`u.name ILIKE $%d`, len(args)))
	}
	where := strings.Join(conditions, " AND ")

	countQuery := `
		SELECT COUNT(*)
		FROM chats c
		JOIN users u ON u.id = CASE WHEN c.initiator_id = $1 THEN c.recipient_id ELSE c.initiator_id END
		WHERE ` + where

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT
			c.id, c.initiator_id, c.recipient_id, c.status, c.closed_by,
			c.accepted_at, c.expires_at, c.extension_count, c.last_message_at,
			c.initiator_hidden, c.recipient_hidden, c.cycle_started_at,
			c.created_at, c.updated_at,
			u.id, u.name, u.avatar_url, u.user_type,
			lm.id, lm.sender_id, lm.content, lm.created_at,
			COALESCE(uc.unread_count, 0)
		FROM chats c
		JOIN users u ON u.id = CASE WHEN c.initiator_id = $1 THEN c.recipient_id ELSE c.initiator_id END
		LEFT JOIN LATERAL (
			SELECT id, sender_id, content, created_at
			FROM messages
			WHERE chat_id = c.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM messages
			WHERE chat_id = c.id
			  AND sender_id <> $1
			  AND read_at IS NULL
		) uc ON TRUE
		WHERE %s
		ORDER BY COALESCE(c.last_message_at, c.updated_at, c.created_at) DESC, c.id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	summaries := make([]models.ChatSummary, 0)
	for rows.Next() {
		var summary models.ChatSummary
		var counterpart models.Profile
		var messageID, messageSenderID *int64
		var messageContent *string
		var messageCreatedAt *time.Time

		if err := rows.Scan(
			&summary.ID,
			&summary.InitiatorID,
			&summary.RecipientID,
			&summary.Status,
			&summary.ClosedBy,
			&summary.AcceptedAt,
			&summary.ExpiresAt,
			&summary.ExtensionCount,
			&summary.LastMessageAt,
			&summary.InitiatorHidden,
			&summary.RecipientHidden,
			&summary.CycleStartedAt,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&counterpart.ID,
			&counterpart.Name,
			&counterpart.Avatar,
			&counterpart.UserType,
			&messageID,
			&messageSenderID,
			&messageContent,
			&messageCreatedAt,
			&summary.UnreadCount,
		); err != nil {
			return nil, 0, err
		}

		summary.InitiatedBy = "THEM"
		if summary.InitiatorID == userID {
			summary.InitiatedBy = "ME"
		}
		summary.Counterpart = &counterpart
		if messageID != nil {
			summary.LastMessage = &models.ChatMessage{
				ID:        *messageID,
				ChatID:    summary.ID,
				SenderID:  *messageSenderID,
				Content:   *messageContent,
				CreatedAt: *messageCreatedAt,
			}
		}

		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return summaries, total, nil
}
