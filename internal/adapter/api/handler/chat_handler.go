package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"dealroom/internal/domain/entity"
	"dealroom/internal/usecase"
	"dealroom/pkg/response"
	"dealroom/pkg/utils"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type startConversationRequest struct {
	OtherUserID string `json:"otherUserId" validate:"required"`
	ListingRef  string `json:"listingRef"`
	InitialText string `json:"initialText" validate:"max=4000"`
}

type sendMessageRequest struct {
	Text        string   `json:"text" validate:"max=4000"`
	MessageType string   `json:"messageType" validate:"omitempty,oneof=text price_offer price_counter deal_accepted deal_rejected"`
	PriceOffer  *float64 `json:"priceOffer" validate:"omitempty,gt=0"`
}

// ListConversations returns the caller's active conversations
func (h *ChatHandler) ListConversations(c echo.Context) error {
	conversations, err := h.chatUseCase.ListConversations(c.Request().Context(), userID(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, conversations)
}

// StartConversation opens a conversation, or returns the active one for the same pair and listing
func (h *ChatHandler) StartConversation(c echo.Context) error {
	var req startConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	conv, created, err := h.chatUseCase.StartConversation(c.Request().Context(), userID(c), usecase.StartConversationInput{
		OtherUserID: req.OtherUserID,
		ListingRef:  req.ListingRef,
		InitialText: req.InitialText,
	})
	if err != nil {
		return response.Error(c, err)
	}

	if created {
		return response.Created(c, conv)
	}
	return response.Success(c, conv)
}

func (h *ChatHandler) GetConversation(c echo.Context) error {
	conv, err := h.chatUseCase.GetConversation(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, conv)
}

func (h *ChatHandler) DeactivateConversation(c echo.Context) error {
	if err := h.chatUseCase.DeactivateConversation(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return response.Error(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetMessages pages the ledger and marks the page read for the caller
func (h *ChatHandler) GetMessages(c echo.Context) error {
	params := utils.GetPaginationParams(c)

	messages, total, err := h.chatUseCase.ListMessages(c.Request().Context(), userID(c), c.Param("id"), params.PageSize, params.Offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Paginated(c, messages, total, params.Page, params.PageSize)
}

func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), userID(c), usecase.SendMessageInput{
		ConversationID: c.Param("id"),
		Text:           req.Text,
		MessageType:    entity.MessageType(req.MessageType),
		PriceOffer:     req.PriceOffer,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}
