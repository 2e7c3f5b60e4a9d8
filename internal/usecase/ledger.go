package usecase

import (
	"context"
	"strings"
	"time"

	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	ws "dealroom/internal/infrastructure/websocket"
	"dealroom/pkg/errors"
	"dealroom/pkg/logger"
)

// Ledger appends messages to conversations. All writes to one conversation,
// including negotiation transitions, run under that conversation's lock so
// createdAt order, storage order and fan-out order agree.
type Ledger struct {
	convRepo    repository.ConversationRepository
	msgRepo     repository.MessageRepository
	broadcaster Broadcaster
	locks       *keyedMutex
	now         func() time.Time
}

func NewLedger(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	broadcaster Broadcaster,
) *Ledger {
	return &Ledger{
		convRepo:    convRepo,
		msgRepo:     msgRepo,
		broadcaster: broadcaster,
		locks:       newKeyedMutex(),
		now:         time.Now,
	}
}

type AppendInput struct {
	ConversationID string
	SenderID       string
	Text           string
	MessageType    entity.MessageType
	PriceOffer     *float64
}

// Append persists a plain message, refreshes the conversation preview and
// publishes new_message to the conversation channel.
func (l *Ledger) Append(ctx context.Context, input AppendInput) (*entity.Message, error) {
	var message *entity.Message
	err := l.withConversation(ctx, input.ConversationID, func(conv *entity.Conversation) error {
		if !conv.HasParticipant(input.SenderID) {
			return errors.Forbidden("You are not a participant in this conversation", nil)
		}
		if !conv.IsActive {
			return errors.InvalidState("Conversation is no longer active")
		}

		var err error
		message, err = l.appendLocked(ctx, conv, input)
		if err != nil {
			return err
		}

		l.broadcaster.PublishToConversation(conv.ID, ws.EventNewMessage, ws.NewMessagePayload{Message: message})
		l.notifyParticipants(conv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// withConversation loads the conversation under its lock and runs fn.
func (l *Ledger) withConversation(ctx context.Context, conversationID string, fn func(conv *entity.Conversation) error) error {
	unlock := l.locks.Lock(conversationID)
	defer unlock()

	conv, err := l.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	return fn(conv)
}

// appendLocked must run inside withConversation. It updates conv in place.
func (l *Ledger) appendLocked(ctx context.Context, conv *entity.Conversation, input AppendInput) (*entity.Message, error) {
	createdAt := l.timestamp()
	if last := conv.LastMessagePreview; last != nil && !createdAt.After(last.Timestamp) {
		createdAt = last.Timestamp.Add(time.Millisecond)
	}

	message := &entity.Message{
		ConversationID: conv.ID,
		SenderID:       input.SenderID,
		Text:           input.Text,
		MessageType:    input.MessageType,
		PriceOffer:     input.PriceOffer,
		CreatedAt:      createdAt,
		ReadBy:         []entity.ReadReceipt{},
	}
	if err := l.msgRepo.Create(ctx, message); err != nil {
		logger.Error("Append Error: Failed to persist message in conversation %s: %v", conv.ID, err)
		return nil, err
	}

	preview := entity.MessagePreview{
		Text:      previewText(message.Text),
		SenderID:  message.SenderID,
		Timestamp: message.CreatedAt,
	}
	if err := l.convRepo.UpdatePreview(ctx, conv.ID, preview); err != nil {
		logger.Error("%s", logger.WithContext(conv.ID, "Append Error: Failed to update preview: %v", err))
	}
	conv.LastMessagePreview = &preview

	return message, nil
}

func (l *Ledger) notifyParticipants(conv *entity.Conversation) {
	payload := ws.ConversationUpdatedPayload{
		ConversationID:     conv.ID,
		LastMessagePreview: conv.LastMessagePreview,
		DealStatus:         conv.DealStatus,
		NegotiatedPrice:    conv.NegotiatedPrice,
	}
	for _, p := range conv.Participants {
		l.broadcaster.NotifyUser(p.UserID, ws.EventConversationUpdated, payload)
	}
}

// timestamp is millisecond precision so every backend stores it exactly.
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Millisecond)
}

const previewLength = 120

func previewText(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength-3]) + "..."
}
