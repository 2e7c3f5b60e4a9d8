package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"dealroom/internal/domain/entity"
	"dealroom/pkg/errors"
)

type NegotiationAction string

const (
	ActionOffer   NegotiationAction = "offer"
	ActionCounter NegotiationAction = "counter"
	ActionAccept  NegotiationAction = "accept"
	ActionReject  NegotiationAction = "reject"
	ActionCancel  NegotiationAction = "cancel"
)

// Transition is the planned outcome of one negotiation event. It is computed
// without side effects; the caller applies it with a conditional write on From.
type Transition struct {
	Action NegotiationAction
	From   entity.DealStatus
	To     entity.DealStatus

	// MessageType is empty for events that append nothing to the ledger.
	MessageType entity.MessageType
	Text        string
	PriceOffer  *float64

	// NegotiatedPrice is the conversation's price after the transition.
	NegotiatedPrice *float64
}

// AppendsMessage reports whether the transition produces a ledger entry.
func (t *Transition) AppendsMessage() bool {
	return t.MessageType != ""
}

type rule struct {
	from        []entity.DealStatus
	to          entity.DealStatus
	messageType entity.MessageType
}

var rules = map[NegotiationAction]rule{
	ActionOffer:   {from: []entity.DealStatus{entity.DealPending, entity.DealNegotiating}, to: entity.DealNegotiating, messageType: entity.MessagePriceOffer},
	ActionCounter: {from: []entity.DealStatus{entity.DealNegotiating}, to: entity.DealNegotiating, messageType: entity.MessagePriceCounter},
	ActionAccept:  {from: []entity.DealStatus{entity.DealNegotiating}, to: entity.DealAgreed, messageType: entity.MessageDealAccepted},
	ActionReject:  {from: []entity.DealStatus{entity.DealNegotiating}, to: entity.DealRejected, messageType: entity.MessageDealRejected},
	ActionCancel:  {from: []entity.DealStatus{entity.DealPending, entity.DealNegotiating, entity.DealAgreed}, to: entity.DealCancelled},
}

func (a NegotiationAction) Valid() bool {
	_, ok := rules[a]
	return ok
}

// PlanTransition validates action against the current status and returns the
// resulting state and synthetic ledger entry.
func PlanTransition(current entity.DealStatus, action NegotiationAction, price float64) (*Transition, error) {
	r, ok := rules[action]
	if !ok {
		return nil, errors.Validation(fmt.Sprintf("unknown negotiation action %q", action))
	}

	switch {
	case action == ActionCancel:
	case action == ActionReject && price == 0:
		// a rejection may omit the price it rejects
	case math.IsNaN(price) || math.IsInf(price, 0) || price <= 0:
		return nil, errors.Validation("newPrice must be greater than 0")
	}

	if !allowedFrom(r.from, current) {
		return nil, errors.InvalidTransition(fmt.Sprintf("cannot %s while deal is %s", action, current))
	}

	t := &Transition{
		Action:      action,
		From:        current,
		To:          r.to,
		MessageType: r.messageType,
	}
	if t.AppendsMessage() {
		t.Text = describe(action, price)
		if price > 0 {
			p := price
			t.PriceOffer = &p
		}
	}
	if r.to.CarriesPrice() {
		p := price
		t.NegotiatedPrice = &p
	}
	return t, nil
}

// ActionForMessageType maps a price-typed chat message onto the event that must
// produce it, so the ledger never disagrees with dealStatus.
func ActionForMessageType(t entity.MessageType) (NegotiationAction, bool) {
	switch t {
	case entity.MessagePriceOffer:
		return ActionOffer, true
	case entity.MessagePriceCounter:
		return ActionCounter, true
	case entity.MessageDealAccepted:
		return ActionAccept, true
	case entity.MessageDealRejected:
		return ActionReject, true
	}
	return "", false
}

func allowedFrom(from []entity.DealStatus, current entity.DealStatus) bool {
	for _, s := range from {
		if s == current {
			return true
		}
	}
	return false
}

func describe(action NegotiationAction, price float64) string {
	switch action {
	case ActionOffer:
		return "Offered " + FormatPrice(price)
	case ActionCounter:
		return "Countered with " + FormatPrice(price)
	case ActionAccept:
		return "Accepted the deal at " + FormatPrice(price)
	case ActionReject:
		if price == 0 {
			return "Rejected the offer"
		}
		return "Rejected the offer of " + FormatPrice(price)
	}
	return ""
}

// FormatPrice renders a price with thousand separators, keeping cents only when present.
func FormatPrice(price float64) string {
	whole := math.Trunc(price)
	str := strconv.FormatFloat(whole, 'f', 0, 64)

	n := len(str)
	var result strings.Builder
	for i, digit := range str {
		if i > 0 && (n-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	if cents := math.Round((price - whole) * 100); cents > 0 {
		result.WriteString(fmt.Sprintf(".%02d", int(cents)))
	}
	return result.String()
}
