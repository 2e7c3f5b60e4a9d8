package usecase

import (
	"context"
	"time"

	"dealroom/internal/domain/entity"
)

// Broadcaster delivers realtime events. Delivery is fire-and-forget.
type Broadcaster interface {
	PublishToConversation(conversationID, eventType string, data interface{})
	PublishTyping(conversationID, userID string, isTyping bool)
	NotifyUser(userID, eventType string, data interface{})
	IsOnline(userID string) bool
}

type RateLimiter interface {
	Allow(userID, action string) (bool, time.Duration)
}

// SessionVerifier turns a signed session credential into a verified identity.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (*entity.Session, error)
}

type SessionIssuer interface {
	Issue(userID string, role entity.Role) (string, time.Time, error)
}
