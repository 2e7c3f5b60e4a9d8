package repository

import (
	"context"
	"time"

	"dealroom/internal/domain/entity"
)

type MessageRepository interface {
	Create(ctx context.Context, message *entity.Message) error

	// ListByConversation returns one page ordered newest first, plus the total count.
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error)

	// MarkRead adds userID to the message's readers. It reports false when the
	// user had already read it.
	MarkRead(ctx context.Context, conversationID, messageID, userID string, at time.Time) (bool, error)
}
