package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"dealroom/internal/adapter/api/middleware"
	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/service"
	ws "dealroom/internal/infrastructure/websocket"
	"dealroom/internal/usecase"
	"dealroom/pkg/errors"
	"dealroom/pkg/logger"
	"dealroom/pkg/response"
)

// WebSocketHandler authenticates the upgrade and dispatches realtime events
// for every connection it accepts.
type WebSocketHandler struct {
	manager            *ws.Manager
	verifier           usecase.SessionVerifier
	chatUseCase        *usecase.ChatUseCase
	negotiationUseCase *usecase.NegotiationUseCase
	validator          echo.Validator
	upgrader           gorillaws.Upgrader
}

func NewWebSocketHandler(
	manager *ws.Manager,
	verifier usecase.SessionVerifier,
	chatUseCase *usecase.ChatUseCase,
	negotiationUseCase *usecase.NegotiationUseCase,
	validator echo.Validator,
	allowedOrigins []string,
) *WebSocketHandler {
	return &WebSocketHandler{
		manager:            manager,
		verifier:           verifier,
		chatUseCase:        chatUseCase,
		negotiationUseCase: negotiationUseCase,
		validator:          validator,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker allows any origin when the list is empty. Requests without an
// Origin header are not from browsers and are allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		logger.Warn("WebSocket upgrade rejected for origin %s", origin)
		return false
	}
}

type joinPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type sendMessagePayload struct {
	ConversationID string   `json:"conversationId" validate:"required"`
	Text           string   `json:"text"`
	MessageType    string   `json:"messageType"`
	PriceOffer     *float64 `json:"priceOffer"`
}

type negotiatePayload struct {
	ConversationID string  `json:"conversationId" validate:"required"`
	NewPrice       float64 `json:"newPrice" validate:"gte=0"`
	Action         string  `json:"action" validate:"required,oneof=offer counter accept reject cancel"`
}

// HandleWebSocket verifies the session before upgrading. The token comes from
// the token query parameter, which browsers can set, or a Bearer header.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		token = middleware.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	}
	if token == "" {
		return response.Error(c, errors.Unauthenticated("Session token is required", nil))
	}

	session, err := h.verifier.Verify(c.Request().Context(), token)
	if err != nil {
		return response.Error(c, err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		logger.Warn("WebSocket upgrade failed for user %s: %v", session.UserID, err)
		return nil
	}

	client, err := h.manager.Connect(conn, session)
	if err != nil {
		msg := gorillaws.FormatCloseMessage(gorillaws.CloseTryAgainLater, errors.From(err).Message)
		conn.WriteControl(gorillaws.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return nil
	}

	client.Run(h)
	return nil
}

// Dispatch handles one inbound event. Errors go back to this connection only.
func (h *WebSocketHandler) Dispatch(ctx context.Context, client *ws.Client, msg *ws.InboundMessage) error {
	switch msg.Type {
	case ws.EventJoinConversation:
		return h.join(ctx, client, msg)
	case ws.EventLeaveConversation:
		return h.leave(client, msg)
	case ws.EventSendMessage:
		return h.sendMessage(ctx, client, msg)
	case ws.EventNegotiatePrice:
		return h.negotiate(ctx, client, msg)
	case ws.EventTypingStart:
		return h.typing(client, msg, true)
	case ws.EventTypingStop:
		return h.typing(client, msg, false)
	case ws.EventPing:
		client.Send(ws.EventPong, nil)
		return nil
	}
	return errors.BadRequest("Unknown event type "+msg.Type, nil)
}

func (h *WebSocketHandler) join(ctx context.Context, client *ws.Client, msg *ws.InboundMessage) error {
	var p joinPayload
	if err := h.decode(msg, &p); err != nil {
		return err
	}

	conv, err := h.chatUseCase.AuthorizeJoin(ctx, client.UserID, p.ConversationID)
	if err != nil {
		return err
	}
	if err := h.manager.Subscribe(client, ws.ConversationChannel(conv.ID)); err != nil {
		return err
	}

	client.Send(ws.EventJoinedConversation, ws.ConversationPayload{ConversationID: conv.ID})
	return nil
}

func (h *WebSocketHandler) leave(client *ws.Client, msg *ws.InboundMessage) error {
	var p joinPayload
	if err := h.decode(msg, &p); err != nil {
		return err
	}

	h.manager.Unsubscribe(client, ws.ConversationChannel(p.ConversationID))
	client.Send(ws.EventLeftConversation, ws.ConversationPayload{ConversationID: p.ConversationID})
	return nil
}

func (h *WebSocketHandler) sendMessage(ctx context.Context, client *ws.Client, msg *ws.InboundMessage) error {
	var p sendMessagePayload
	if err := h.decode(msg, &p); err != nil {
		return err
	}

	_, err := h.chatUseCase.SendMessage(ctx, client.UserID, usecase.SendMessageInput{
		ConversationID: p.ConversationID,
		Text:           p.Text,
		MessageType:    entity.MessageType(p.MessageType),
		PriceOffer:     p.PriceOffer,
	})
	return err
}

func (h *WebSocketHandler) negotiate(ctx context.Context, client *ws.Client, msg *ws.InboundMessage) error {
	var p negotiatePayload
	if err := h.decode(msg, &p); err != nil {
		return err
	}

	_, err := h.negotiationUseCase.Negotiate(ctx, client.UserID, usecase.NegotiateInput{
		ConversationID: p.ConversationID,
		Action:         service.NegotiationAction(p.Action),
		Price:          p.NewPrice,
	})
	return err
}

func (h *WebSocketHandler) typing(client *ws.Client, msg *ws.InboundMessage, isTyping bool) error {
	var p joinPayload
	if err := h.decode(msg, &p); err != nil {
		return err
	}

	if !client.IsSubscribed(ws.ConversationChannel(p.ConversationID)) {
		return errors.Forbidden("Join the conversation before sending typing updates", nil)
	}
	return h.chatUseCase.Typing(client.UserID, p.ConversationID, isTyping)
}

func (h *WebSocketHandler) decode(msg *ws.InboundMessage, dst interface{}) error {
	if len(msg.Data) == 0 {
		return errors.Validation(msg.Type + " requires data")
	}
	if err := json.Unmarshal(msg.Data, dst); err != nil {
		return errors.BadRequest("Malformed "+msg.Type+" payload", err)
	}

	if err := h.validator.Validate(dst); err != nil {
		var validationErr validator.ValidationErrors
		if stderrors.As(err, &validationErr) {
			return errors.Validation(response.ValidationMessage(validationErr))
		}
		return errors.Validation(err.Error())
	}
	return nil
}
