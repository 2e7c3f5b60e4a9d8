package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	"dealroom/internal/domain/service"
	"dealroom/internal/infrastructure/ratelimit"
	ws "dealroom/internal/infrastructure/websocket"
	"dealroom/pkg/errors"
	"dealroom/pkg/logger"
)

const maxMessageLength = 4000

type ChatUseCase struct {
	convRepo    repository.ConversationRepository
	msgRepo     repository.MessageRepository
	userRepo    repository.UserRepository
	listingRepo repository.ListingRepository
	ledger      *Ledger
	negotiation *NegotiationUseCase
	broadcaster Broadcaster
	rateLimiter RateLimiter
	pairLocks   *keyedMutex
	now         func() time.Time
}

func NewChatUseCase(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	listingRepo repository.ListingRepository,
	ledger *Ledger,
	negotiation *NegotiationUseCase,
	broadcaster Broadcaster,
	rateLimiter RateLimiter,
) *ChatUseCase {
	return &ChatUseCase{
		convRepo:    convRepo,
		msgRepo:     msgRepo,
		userRepo:    userRepo,
		listingRepo: listingRepo,
		ledger:      ledger,
		negotiation: negotiation,
		broadcaster: broadcaster,
		rateLimiter: rateLimiter,
		pairLocks:   newKeyedMutex(),
		now:         time.Now,
	}
}

type StartConversationInput struct {
	OtherUserID string
	ListingRef  string
	InitialText string
}

type SendMessageInput struct {
	ConversationID string
	Text           string
	MessageType    entity.MessageType
	PriceOffer     *float64
}

type CounterpartView struct {
	UserID   string      `json:"userId"`
	Username string      `json:"username,omitempty"`
	Role     entity.Role `json:"role"`
	Online   bool        `json:"online"`
}

type ConversationResponse struct {
	*entity.Conversation
	Counterpart *CounterpartView `json:"counterpart,omitempty"`
}

// ListConversations returns the caller's active conversations, most recent activity first.
func (uc *ChatUseCase) ListConversations(ctx context.Context, userID string) ([]*ConversationResponse, error) {
	conversations, err := uc.convRepo.ListActiveByParticipant(ctx, userID)
	if err != nil {
		logger.Error("ListConversations Error: Failed to list conversations for user %s: %v", userID, err)
		return nil, err
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		ai, aj := conversations[i].ActivityAt(), conversations[j].ActivityAt()
		if ai.Equal(aj) {
			return conversations[i].ID < conversations[j].ID
		}
		return ai.After(aj)
	})

	responses := make([]*ConversationResponse, 0, len(conversations))
	for _, conv := range conversations {
		responses = append(responses, uc.toResponse(ctx, conv, userID))
	}
	return responses, nil
}

// StartConversation returns the active conversation for the unordered user
// pair and listing, creating it when there is none. The bool reports creation.
func (uc *ChatUseCase) StartConversation(ctx context.Context, userID string, input StartConversationInput) (*ConversationResponse, bool, error) {
	if err := allow(uc.rateLimiter, userID, ratelimit.ActionStartConversation, "StartConversation"); err != nil {
		return nil, false, err
	}

	if input.OtherUserID == "" {
		return nil, false, errors.Validation("otherUserId is required")
	}
	if input.OtherUserID == userID {
		logger.Warn("StartConversation Error: User %s attempted to start a conversation with themselves", userID)
		return nil, false, errors.Validation("You cannot start a conversation with yourself")
	}

	caller, err := uc.userRepo.GetByID(ctx, userID)
	if err != nil {
		logger.Error("StartConversation Error: Caller %s could not be resolved: %v", userID, err)
		return nil, false, err
	}
	other, err := uc.userRepo.GetByID(ctx, input.OtherUserID)
	if err != nil {
		logger.Error("StartConversation Error: User %s could not be resolved: %v", input.OtherUserID, err)
		return nil, false, err
	}
	if !caller.Role.Valid() || !other.Role.Valid() || caller.Role == other.Role {
		return nil, false, errors.Validation("A conversation needs one seller and one buyer")
	}

	if input.ListingRef != "" {
		if _, err := uc.listingRepo.GetByID(ctx, input.ListingRef); err != nil {
			logger.Error("StartConversation Error: Listing %s could not be resolved: %v", input.ListingRef, err)
			return nil, false, err
		}
	}

	pairKey := entity.PairKey(userID, other.ID, input.ListingRef)
	conv, created, err := uc.findOrCreate(ctx, pairKey, caller, other, input.ListingRef)
	if err != nil {
		return nil, false, err
	}

	// a reused conversation is returned as is, initial text included
	if text := strings.TrimSpace(input.InitialText); created && text != "" {
		if _, err := uc.ledger.Append(ctx, AppendInput{
			ConversationID: conv.ID,
			SenderID:       userID,
			Text:           text,
			MessageType:    entity.MessageText,
		}); err != nil {
			logger.Error("StartConversation Error: Failed to append initial message to %s: %v", conv.ID, err)
			return nil, false, err
		}
		if conv, err = uc.convRepo.GetByID(ctx, conv.ID); err != nil {
			return nil, false, err
		}
	} else if created {
		uc.ledger.notifyParticipants(conv)
	}

	return uc.toResponse(ctx, conv, userID), created, nil
}

func (uc *ChatUseCase) findOrCreate(ctx context.Context, pairKey string, caller, other *entity.User, listingRef string) (*entity.Conversation, bool, error) {
	unlock := uc.pairLocks.Lock(pairKey)
	defer unlock()

	existing, err := uc.convRepo.FindActiveByPairKey(ctx, pairKey)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, errors.CodeNotFound) {
		logger.Error("StartConversation Error: Failed to search for existing conversation: %v", err)
		return nil, false, err
	}

	now := uc.timestamp()
	conv := &entity.Conversation{
		Participants: []entity.Participant{
			{UserID: caller.ID, Role: caller.Role, LastSeen: now},
			{UserID: other.ID, Role: other.Role},
		},
		PairKey:    pairKey,
		ListingRef: listingRef,
		IsActive:   true,
		DealStatus: entity.DealPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	conv.ParticipantIDs = []string{caller.ID, other.ID}

	if err := uc.convRepo.Create(ctx, conv); err != nil {
		logger.Error("StartConversation Error: Failed to create conversation: %v", err)
		return nil, false, err
	}
	logger.Info("Conversation %s started between %s and %s", conv.ID, caller.ID, other.ID)
	return conv, true, nil
}

func (uc *ChatUseCase) GetConversation(ctx context.Context, userID, conversationID string) (*ConversationResponse, error) {
	conv, err := uc.participantConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return uc.toResponse(ctx, conv, userID), nil
}

// DeactivateConversation hides the conversation from listings and frees its
// pair slot. The ledger is kept.
func (uc *ChatUseCase) DeactivateConversation(ctx context.Context, userID, conversationID string) error {
	return uc.ledger.withConversation(ctx, conversationID, func(conv *entity.Conversation) error {
		if !conv.HasParticipant(userID) {
			return errors.Forbidden("You are not a participant in this conversation", nil)
		}
		if !conv.IsActive {
			return nil
		}

		if err := uc.convRepo.Deactivate(ctx, conv.ID); err != nil {
			logger.Error("DeactivateConversation Error: Failed to deactivate %s: %v", conv.ID, err)
			return err
		}
		conv.IsActive = false
		uc.ledger.notifyParticipants(conv)
		return nil
	})
}

// ListMessages returns one page in chronological order and marks every
// message the caller did not send as read by the caller.
func (uc *ChatUseCase) ListMessages(ctx context.Context, userID, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	conv, err := uc.participantConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, 0, err
	}

	messages, total, err := uc.msgRepo.ListByConversation(ctx, conv.ID, limit, offset)
	if err != nil {
		logger.Error("ListMessages Error: Failed to list messages of %s: %v", conv.ID, err)
		return nil, 0, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	now := uc.timestamp()
	var readIDs []string
	for _, m := range messages {
		if m.SenderID == userID || m.IsReadBy(userID) {
			continue
		}
		changed, err := uc.msgRepo.MarkRead(ctx, conv.ID, m.ID, userID, now)
		if err != nil {
			logger.Error("ListMessages Error: Failed to mark message %s read: %v", m.ID, err)
			return nil, 0, err
		}
		if changed {
			m.ReadBy = append(m.ReadBy, entity.ReadReceipt{UserID: userID, ReadAt: now})
			readIDs = append(readIDs, m.ID)
		}
	}

	if len(readIDs) > 0 {
		uc.broadcaster.PublishToConversation(conv.ID, ws.EventMessagesRead, ws.MessagesReadPayload{
			ConversationID: conv.ID,
			ReaderID:       userID,
			MessageIDs:     readIDs,
			ReadAt:         now,
		})
	}

	if err := uc.convRepo.TouchParticipant(ctx, conv.ID, userID, now); err != nil {
		logger.Warn("ListMessages: Failed to refresh lastSeen of %s in %s: %v", userID, conv.ID, err)
	}

	return messages, total, nil
}

// SendMessage appends a chat message. Price-typed messages are negotiation
// events and go through the state machine so the ledger and dealStatus agree.
func (uc *ChatUseCase) SendMessage(ctx context.Context, userID string, input SendMessageInput) (*entity.Message, error) {
	if input.MessageType == "" {
		input.MessageType = entity.MessageText
	}
	if !input.MessageType.Valid() {
		return nil, errors.Validation(fmt.Sprintf("Unknown messageType %q", input.MessageType))
	}
	if input.MessageType.IsPriceTyped() && input.PriceOffer == nil {
		return nil, errors.Validation(fmt.Sprintf("priceOffer is required for %s messages", input.MessageType))
	}

	if action, ok := service.ActionForMessageType(input.MessageType); ok {
		var price float64
		if input.PriceOffer != nil {
			price = *input.PriceOffer
		}
		result, err := uc.negotiation.Negotiate(ctx, userID, NegotiateInput{
			ConversationID: input.ConversationID,
			Action:         action,
			Price:          price,
		})
		if err != nil {
			return nil, err
		}
		return result.Message, nil
	}

	if input.PriceOffer != nil {
		return nil, errors.Validation("priceOffer is only allowed on price messages")
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, errors.Validation("text is required")
	}
	if len([]rune(text)) > maxMessageLength {
		return nil, errors.Validation(fmt.Sprintf("text must be at most %d characters", maxMessageLength))
	}

	if err := allow(uc.rateLimiter, userID, ratelimit.ActionSendMessage, "SendMessage"); err != nil {
		return nil, err
	}

	message, err := uc.ledger.Append(ctx, AppendInput{
		ConversationID: input.ConversationID,
		SenderID:       userID,
		Text:           text,
		MessageType:    entity.MessageText,
	})
	if err != nil {
		logger.Error("SendMessage Error: User %s could not send to %s: %v", userID, input.ConversationID, err)
		return nil, err
	}
	return message, nil
}

// AuthorizeJoin checks that the caller may subscribe to the conversation
// channel and refreshes their lastSeen.
func (uc *ChatUseCase) AuthorizeJoin(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	conv, err := uc.participantConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if err := uc.convRepo.TouchParticipant(ctx, conv.ID, userID, uc.timestamp()); err != nil {
		logger.Warn("JoinConversation: Failed to refresh lastSeen of %s in %s: %v", userID, conv.ID, err)
	}
	return conv, nil
}

// Typing relays a typing signal to the other subscribers. Nothing is stored.
func (uc *ChatUseCase) Typing(userID, conversationID string, isTyping bool) error {
	if err := allow(uc.rateLimiter, userID, ratelimit.ActionTyping, "Typing"); err != nil {
		return err
	}
	uc.broadcaster.PublishTyping(conversationID, userID, isTyping)
	return nil
}

// ListCounterparts is the directory of users on the other side of trade:
// sellers for buyers and buyers for sellers.
func (uc *ChatUseCase) ListCounterparts(ctx context.Context, session *entity.Session, limit int) ([]*CounterpartView, error) {
	users, err := uc.userRepo.ListByRole(ctx, session.Role.Counterpart(), limit)
	if err != nil {
		logger.Error("ListCounterparts Error: %v", err)
		return nil, err
	}

	views := make([]*CounterpartView, 0, len(users))
	for _, u := range users {
		if u.ID == session.UserID {
			continue
		}
		views = append(views, &CounterpartView{
			UserID:   u.ID,
			Username: u.Username,
			Role:     u.Role,
			Online:   uc.broadcaster.IsOnline(u.ID),
		})
	}
	return views, nil
}

func (uc *ChatUseCase) participantConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	conv, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		logger.Warn("User %s denied access to conversation %s", userID, conversationID)
		return nil, errors.Forbidden("You are not a participant in this conversation", nil)
	}
	return conv, nil
}

func (uc *ChatUseCase) toResponse(ctx context.Context, conv *entity.Conversation, userID string) *ConversationResponse {
	resp := &ConversationResponse{Conversation: conv}
	other, ok := conv.Counterpart(userID)
	if !ok {
		return resp
	}

	view := &CounterpartView{UserID: other.UserID, Role: other.Role, Online: uc.broadcaster.IsOnline(other.UserID)}
	if u, err := uc.userRepo.GetByID(ctx, other.UserID); err == nil {
		view.Username = u.Username
	}
	resp.Counterpart = view
	return resp
}

func (uc *ChatUseCase) timestamp() time.Time {
	return uc.now().UTC().Truncate(time.Millisecond)
}

func allow(limiter RateLimiter, userID, action, operation string) error {
	if limiter == nil {
		return nil
	}
	if ok, wait := limiter.Allow(userID, action); !ok {
		logger.Warn("%s Rate Limited: User %s must wait %v", operation, userID, wait)
		return errors.TooManyRequests(fmt.Sprintf("Rate limit exceeded, retry in %v", wait.Round(time.Second)))
	}
	return nil
}
