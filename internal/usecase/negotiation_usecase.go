package usecase

import (
	"context"
	"fmt"

	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	"dealroom/internal/domain/service"
	"dealroom/internal/infrastructure/ratelimit"
	ws "dealroom/internal/infrastructure/websocket"
	"dealroom/pkg/errors"
	"dealroom/pkg/logger"
)

const actionCommit = "commit"

type NegotiationUseCase struct {
	convRepo    repository.ConversationRepository
	listingRepo repository.ListingRepository
	ledger      *Ledger
	broadcaster Broadcaster
	rateLimiter RateLimiter
}

func NewNegotiationUseCase(
	convRepo repository.ConversationRepository,
	listingRepo repository.ListingRepository,
	ledger *Ledger,
	broadcaster Broadcaster,
	rateLimiter RateLimiter,
) *NegotiationUseCase {
	return &NegotiationUseCase{
		convRepo:    convRepo,
		listingRepo: listingRepo,
		ledger:      ledger,
		broadcaster: broadcaster,
		rateLimiter: rateLimiter,
	}
}

type NegotiateInput struct {
	ConversationID string
	Action         service.NegotiationAction
	Price          float64
}

type NegotiationResult struct {
	Conversation *entity.Conversation `json:"conversation"`
	Message      *entity.Message      `json:"message,omitempty"`
}

// Negotiate applies one state machine event. The status change is a
// conditional write on the status read under the conversation lock, and a
// failed ledger append puts the old status back.
func (uc *NegotiationUseCase) Negotiate(ctx context.Context, userID string, input NegotiateInput) (*NegotiationResult, error) {
	if err := allow(uc.rateLimiter, userID, ratelimit.ActionNegotiate, "Negotiate"); err != nil {
		return nil, err
	}

	var result *NegotiationResult
	err := uc.ledger.withConversation(ctx, input.ConversationID, func(conv *entity.Conversation) error {
		if !conv.HasParticipant(userID) {
			return errors.Forbidden("You are not a participant in this conversation", nil)
		}
		if !conv.IsActive {
			return errors.InvalidState("Conversation is no longer active")
		}

		plan, err := service.PlanTransition(conv.DealStatus, input.Action, input.Price)
		if err != nil {
			return err
		}

		previousPrice := conv.NegotiatedPrice
		if err := uc.convRepo.TransitionDealStatus(ctx, conv.ID, plan.From, plan.To, plan.NegotiatedPrice); err != nil {
			return err
		}
		conv.DealStatus = plan.To
		conv.NegotiatedPrice = plan.NegotiatedPrice

		var message *entity.Message
		if plan.AppendsMessage() {
			message, err = uc.ledger.appendLocked(ctx, conv, AppendInput{
				ConversationID: conv.ID,
				SenderID:       userID,
				Text:           plan.Text,
				MessageType:    plan.MessageType,
				PriceOffer:     plan.PriceOffer,
			})
			if err != nil {
				uc.revert(ctx, conv.ID, plan.To, plan.From, previousPrice)
				return err
			}
			uc.broadcaster.PublishToConversation(conv.ID, ws.EventNewMessage, ws.NewMessagePayload{Message: message})
		}

		uc.broadcaster.PublishToConversation(conv.ID, ws.EventPriceNegotiation, ws.PriceNegotiationPayload{
			ConversationID:  conv.ID,
			Action:          string(input.Action),
			ActorID:         userID,
			DealStatus:      conv.DealStatus,
			NegotiatedPrice: conv.NegotiatedPrice,
			Message:         message,
		})
		uc.ledger.notifyParticipants(conv)

		result = &NegotiationResult{Conversation: conv, Message: message}
		return nil
	})
	if err != nil {
		logger.LogNegotiationError(input.ConversationID, string(input.Action), err)
		return nil, err
	}
	return result, nil
}

func (uc *NegotiationUseCase) Cancel(ctx context.Context, userID, conversationID string) (*NegotiationResult, error) {
	return uc.Negotiate(ctx, userID, NegotiateInput{ConversationID: conversationID, Action: service.ActionCancel})
}

// CommitNegotiatedPrice writes the agreed price to the catalog and completes
// the deal. Only the seller participant may commit, and only the caller that
// wins the agreed -> completed write reaches the catalog.
func (uc *NegotiationUseCase) CommitNegotiatedPrice(ctx context.Context, userID, conversationID, listingID string) (*entity.Conversation, error) {
	var committed *entity.Conversation
	err := uc.ledger.withConversation(ctx, conversationID, func(conv *entity.Conversation) error {
		p, ok := conv.Participant(userID)
		if !ok || p.Role != entity.RoleSeller {
			return errors.Forbidden("Only the seller in this conversation can commit the price", nil)
		}
		if conv.DealStatus != entity.DealAgreed || conv.NegotiatedPrice == nil {
			return errors.InvalidState(fmt.Sprintf("Deal must be agreed before committing, it is %s", conv.DealStatus))
		}

		if listingID == "" {
			listingID = conv.ListingRef
		}
		if listingID == "" {
			return errors.Validation("listingId is required")
		}
		if conv.ListingRef != "" && listingID != conv.ListingRef {
			return errors.Validation("listingId does not match the conversation's listing")
		}

		listing, err := uc.listingRepo.GetByID(ctx, listingID)
		if err != nil {
			return err
		}
		if listing.SellerID != "" && listing.SellerID != userID {
			return errors.Forbidden("You do not own this listing", nil)
		}

		price := *conv.NegotiatedPrice
		if err := uc.convRepo.TransitionDealStatus(ctx, conv.ID, entity.DealAgreed, entity.DealCompleted, &price); err != nil {
			return err
		}

		if err := uc.listingRepo.SetPrice(ctx, listing.ID, price); err != nil {
			logger.Error("CommitNegotiatedPrice Error: Failed to set price of listing %s: %v", listing.ID, err)
			uc.revert(ctx, conv.ID, entity.DealCompleted, entity.DealAgreed, &price)
			return err
		}
		conv.DealStatus = entity.DealCompleted

		uc.broadcaster.PublishToConversation(conv.ID, ws.EventPriceNegotiation, ws.PriceNegotiationPayload{
			ConversationID:  conv.ID,
			Action:          actionCommit,
			ActorID:         userID,
			DealStatus:      conv.DealStatus,
			NegotiatedPrice: conv.NegotiatedPrice,
		})
		uc.ledger.notifyParticipants(conv)

		committed = conv
		return nil
	})
	if err != nil {
		logger.LogNegotiationError(conversationID, actionCommit, err)
		return nil, err
	}
	return committed, nil
}

func (uc *NegotiationUseCase) revert(ctx context.Context, conversationID string, from, to entity.DealStatus, price *float64) {
	if err := uc.convRepo.TransitionDealStatus(ctx, conversationID, from, to, price); err != nil {
		logger.Error("%s", logger.WithContext(conversationID, "Negotiate Error: Failed to restore deal status to %s: %v", to, err))
	}
}
