package entity

import "time"

type MessageType string

const (
	MessageText         MessageType = "text"
	MessagePriceOffer   MessageType = "price_offer"
	MessagePriceCounter MessageType = "price_counter"
	MessageDealAccepted MessageType = "deal_accepted"
	MessageDealRejected MessageType = "deal_rejected"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessagePriceOffer, MessagePriceCounter, MessageDealAccepted, MessageDealRejected:
		return true
	}
	return false
}

// IsPriceTyped reports whether messages of this type must carry a price.
func (t MessageType) IsPriceTyped() bool {
	return t == MessagePriceOffer || t == MessagePriceCounter || t == MessageDealAccepted
}

type ReadReceipt struct {
	UserID string    `json:"userId" firestore:"userId" bson:"userId"`
	ReadAt time.Time `json:"readAt" firestore:"readAt" bson:"readAt"`
}

// Message is a ledger entry. Once appended only ReadBy may grow.
type Message struct {
	ID             string        `json:"id" firestore:"id" bson:"_id"`
	ConversationID string        `json:"conversationId" firestore:"conversationId" bson:"conversationId"`
	SenderID       string        `json:"senderId" firestore:"senderId" bson:"senderId"`
	Text           string        `json:"text" firestore:"text" bson:"text"`
	MessageType    MessageType   `json:"messageType" firestore:"messageType" bson:"messageType"`
	PriceOffer     *float64      `json:"priceOffer,omitempty" firestore:"priceOffer" bson:"priceOffer"`
	CreatedAt      time.Time     `json:"createdAt" firestore:"createdAt" bson:"createdAt"`
	ReadBy         []ReadReceipt `json:"readBy" firestore:"readBy" bson:"readBy"`
}

func (m *Message) IsReadBy(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
