package entity

import (
	"sort"
	"strings"
	"time"
)

type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

func (r Role) Valid() bool {
	return r == RoleSeller || r == RoleBuyer
}

// Counterpart returns the role on the other side of a trade.
func (r Role) Counterpart() Role {
	if r == RoleSeller {
		return RoleBuyer
	}
	return RoleSeller
}

type DealStatus string

const (
	DealPending     DealStatus = "pending"
	DealNegotiating DealStatus = "negotiating"
	DealAgreed      DealStatus = "agreed"
	DealCompleted   DealStatus = "completed"
	DealCancelled   DealStatus = "cancelled"
	DealRejected    DealStatus = "rejected"
)

func (s DealStatus) IsTerminal() bool {
	return s == DealCompleted || s == DealCancelled || s == DealRejected
}

// CarriesPrice reports whether a conversation in this status must hold a negotiated price.
func (s DealStatus) CarriesPrice() bool {
	return s == DealAgreed || s == DealCompleted
}

type Participant struct {
	UserID   string    `json:"userId" firestore:"userId" bson:"userId"`
	Role     Role      `json:"role" firestore:"role" bson:"role"`
	LastSeen time.Time `json:"lastSeen" firestore:"lastSeen" bson:"lastSeen"`
}

type MessagePreview struct {
	Text      string    `json:"text" firestore:"text" bson:"text"`
	SenderID  string    `json:"senderId" firestore:"senderId" bson:"senderId"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp" bson:"timestamp"`
}

type Conversation struct {
	ID                 string          `json:"id" firestore:"id" bson:"_id"`
	Participants       []Participant   `json:"participants" firestore:"participants" bson:"participants"`
	ParticipantIDs     []string        `json:"-" firestore:"participantIds" bson:"participantIds"`
	PairKey            string          `json:"-" firestore:"pairKey" bson:"pairKey"`
	ListingRef         string          `json:"listingRef,omitempty" firestore:"listingRef" bson:"listingRef"`
	LastMessagePreview *MessagePreview `json:"lastMessagePreview,omitempty" firestore:"lastMessagePreview,omitempty" bson:"lastMessagePreview,omitempty"`
	IsActive           bool            `json:"isActive" firestore:"isActive" bson:"isActive"`
	NegotiatedPrice    *float64        `json:"negotiatedPrice,omitempty" firestore:"negotiatedPrice" bson:"negotiatedPrice"`
	DealStatus         DealStatus      `json:"dealStatus" firestore:"dealStatus" bson:"dealStatus"`
	CreatedAt          time.Time       `json:"createdAt" firestore:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt" firestore:"updatedAt" bson:"updatedAt"`
}

// PairKey identifies a conversation slot: an unordered user pair plus an
// optional listing. The empty listing is a valid key of its own.
func PairKey(userA, userB, listingRef string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, "|") + "#" + listingRef
}

func (c *Conversation) Participant(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (c *Conversation) HasParticipant(userID string) bool {
	_, ok := c.Participant(userID)
	return ok
}

// Counterpart returns the participant that is not userID.
func (c *Conversation) Counterpart(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID != userID {
			return p, true
		}
	}
	return Participant{}, false
}

// ActivityAt orders conversations for listing: last message time, or creation time
// for a conversation nobody has written in yet.
func (c *Conversation) ActivityAt() time.Time {
	if c.LastMessagePreview != nil {
		return c.LastMessagePreview.Timestamp
	}
	return c.CreatedAt
}
