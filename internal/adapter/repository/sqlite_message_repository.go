package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	"dealroom/pkg/errors"
)

type sqliteMessageRepository struct {
	db *sql.DB
}

func NewSQLiteMessageRepository(db *sql.DB) repository.MessageRepository {
	return &sqliteMessageRepository{db: db}
}

func (r *sqliteMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if message.ReadBy == nil {
		message.ReadBy = []entity.ReadReceipt{}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, text, message_type, price_offer, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.ConversationID, message.SenderID, message.Text,
		string(message.MessageType), nullFloat(message.PriceOffer), formatTime(message.CreatedAt),
	)
	if err != nil {
		return errors.Internal("Failed to create message", err)
	}
	return nil
}

func (r *sqliteMessageRepository) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&total)
	if err != nil {
		return nil, 0, errors.Internal("Failed to count messages", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, text, message_type, price_offer, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, conversationID, limit, offset)
	if err != nil {
		return nil, 0, errors.Internal("Failed to list messages", err)
	}

	messages := []*entity.Message{}
	byID := map[string]*entity.Message{}
	for rows.Next() {
		var (
			m                  entity.Message
			msgType, createdAt string
			price              sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &msgType, &price, &createdAt); err != nil {
			rows.Close()
			return nil, 0, errors.Internal("Failed to parse message", err)
		}
		m.MessageType = entity.MessageType(msgType)
		m.PriceOffer = floatPtr(price)
		m.CreatedAt = parseTime(createdAt)
		m.ReadBy = []entity.ReadReceipt{}
		messages = append(messages, &m)
		byID[m.ID] = &m
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, 0, errors.Internal("Failed to list messages", err)
	}

	if len(messages) == 0 {
		return messages, total, nil
	}

	args := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		args = append(args, m.ID)
	}
	reads, err := r.db.QueryContext(ctx, `
		SELECT message_id, user_id, read_at FROM message_reads
		WHERE message_id IN (`+placeholders(len(args))+`)
		ORDER BY read_at, user_id`, args...)
	if err != nil {
		return nil, 0, errors.Internal("Failed to load read receipts", err)
	}
	defer reads.Close()

	for reads.Next() {
		var msgID, userID, readAt string
		if err := reads.Scan(&msgID, &userID, &readAt); err != nil {
			return nil, 0, errors.Internal("Failed to parse read receipt", err)
		}
		m := byID[msgID]
		m.ReadBy = append(m.ReadBy, entity.ReadReceipt{UserID: userID, ReadAt: parseTime(readAt)})
	}
	if err := reads.Err(); err != nil {
		return nil, 0, errors.Internal("Failed to load read receipts", err)
	}

	return messages, total, nil
}

func (r *sqliteMessageRepository) MarkRead(ctx context.Context, conversationID, messageID, userID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
		SELECT ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM messages WHERE id = ? AND conversation_id = ?)`,
		messageID, userID, formatTime(at), messageID, conversationID,
	)
	if err != nil {
		return false, errors.Internal("Failed to mark message read", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Internal("Failed to mark message read", err)
	}
	return n == 1, nil
}
