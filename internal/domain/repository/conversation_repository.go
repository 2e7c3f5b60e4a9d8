package repository

import (
	"context"
	"time"

	"dealroom/internal/domain/entity"
)

type ConversationRepository interface {
	Create(ctx context.Context, conversation *entity.Conversation) error
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	FindActiveByPairKey(ctx context.Context, pairKey string) (*entity.Conversation, error)
	ListActiveByParticipant(ctx context.Context, userID string) ([]*entity.Conversation, error)
	UpdatePreview(ctx context.Context, id string, preview entity.MessagePreview) error
	TouchParticipant(ctx context.Context, id, userID string, at time.Time) error
	Deactivate(ctx context.Context, id string) error

	// TransitionDealStatus moves dealStatus from -> to and sets negotiatedPrice
	// to price (nil clears it) in one conditional write. It fails with an
	// INVALID_TRANSITION AppError when the stored status is not from.
	TransitionDealStatus(ctx context.Context, id string, from, to entity.DealStatus, price *float64) error
}
