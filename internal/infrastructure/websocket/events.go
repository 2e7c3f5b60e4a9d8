package websocket

import (
	"encoding/json"
	"time"

	"dealroom/internal/domain/entity"
)

// Inbound event types.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventNegotiatePrice    = "negotiate_price"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventPing              = "ping"
)

// Outbound event types.
const (
	EventJoinedConversation  = "joined_conversation"
	EventLeftConversation    = "left_conversation"
	EventNewMessage          = "new_message"
	EventPriceNegotiation    = "price_negotiation"
	EventUserTyping          = "user_typing"
	EventMessagesRead        = "messages_read"
	EventConversationUpdated = "conversation_updated"
	EventError               = "error"
	EventPong                = "pong"
)

// InboundMessage is one client event. Data is decoded by the dispatcher
// once the type is known.
type InboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type OutboundMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type NewMessagePayload struct {
	Message *entity.Message `json:"message"`
}

type PriceNegotiationPayload struct {
	ConversationID  string            `json:"conversationId"`
	Action          string            `json:"action"`
	ActorID         string            `json:"actorId"`
	DealStatus      entity.DealStatus `json:"dealStatus"`
	NegotiatedPrice *float64          `json:"negotiatedPrice,omitempty"`
	Message         *entity.Message   `json:"message,omitempty"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type MessagesReadPayload struct {
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	MessageIDs     []string  `json:"messageIds"`
	ReadAt         time.Time `json:"readAt"`
}

// ConversationUpdatedPayload goes to each participant's personal channel so
// conversation lists stay current without joining every conversation.
type ConversationUpdatedPayload struct {
	ConversationID     string                 `json:"conversationId"`
	LastMessagePreview *entity.MessagePreview `json:"lastMessagePreview,omitempty"`
	DealStatus         entity.DealStatus      `json:"dealStatus"`
	NegotiatedPrice    *float64               `json:"negotiatedPrice,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encode(eventType string, data interface{}) ([]byte, error) {
	return json.Marshal(OutboundMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func ConversationChannel(conversationID string) string {
	return "conversation:" + conversationID
}

func UserChannel(userID string) string {
	return "user:" + userID
}
