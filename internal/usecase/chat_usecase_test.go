package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealroom/internal/domain/entity"
	ws "dealroom/internal/infrastructure/websocket"
	"dealroom/pkg/errors"
)

func TestStartConversationReusesActiveConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.chat.StartConversation(ctx, "buyer", StartConversationInput{OtherUserID: "seller", ListingRef: "bike"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, entity.DealPending, first.DealStatus)
	assert.True(t, first.IsActive)
	require.NotNil(t, first.Counterpart)
	assert.Equal(t, "seller", first.Counterpart.UserID)
	assert.Equal(t, "sam", first.Counterpart.Username)

	// the other side starting the same pair gets the same conversation
	second, created, err := f.chat.StartConversation(ctx, "seller", StartConversationInput{OtherUserID: "buyer", ListingRef: "bike"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "bea", second.Counterpart.Username)

	// a different listing is a different slot
	other, created, err := f.chat.StartConversation(ctx, "buyer", StartConversationInput{OtherUserID: "seller"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)

	stored := f.conversation(t, first.ID)
	assert.Equal(t, []string{"buyer", "seller"}, stored.ParticipantIDs)
	assert.Equal(t, "bike", stored.ListingRef)
}

func TestStartConversationReuseIgnoresInitialText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.chat.StartConversation(ctx, "buyer", StartConversationInput{OtherUserID: "seller", ListingRef: "bike"})
	require.NoError(t, err)
	require.True(t, created)
	before := f.conversation(t, first.ID)

	again, created, err := f.chat.StartConversation(ctx, "buyer", StartConversationInput{
		OtherUserID: "seller",
		ListingRef:  "bike",
		InitialText: "hello again",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Nil(t, again.LastMessagePreview)

	assert.Empty(t, f.ledgerEntries(t, first.ID))
	after := f.conversation(t, first.ID)
	assert.Nil(t, after.LastMessagePreview)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
	assert.Empty(t, f.broadcaster.ofType(ws.EventNewMessage))
}

func TestStartConversationValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input StartConversationInput
		code  string
	}{
		{"missing other user", StartConversationInput{}, errors.CodeValidation},
		{"self", StartConversationInput{OtherUserID: "buyer"}, errors.CodeValidation},
		{"unknown user", StartConversationInput{OtherUserID: "ghost"}, errors.CodeNotFound},
		{"same role", StartConversationInput{OtherUserID: "buyer2"}, errors.CodeValidation},
		{"unknown listing", StartConversationInput{OtherUserID: "seller", ListingRef: "boat"}, errors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.chat.StartConversation(ctx, "buyer", tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}

	list, err := f.chat.ListConversations(ctx, "buyer")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConcurrentStartCreatesOneConversation(t *testing.T) {
	f := newFixture(t)

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, other := "buyer", "seller"
			if i%2 == 1 {
				user, other = other, user
			}
			resp, _, err := f.chat.StartConversation(context.Background(), user, StartConversationInput{OtherUserID: other, ListingRef: "bike"})
			if assert.NoError(t, err) {
				ids[i] = resp.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	list, err := f.chat.ListConversations(context.Background(), "seller")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStartConversationWithInitialText(t *testing.T) {
	f := newFixture(t)

	resp, _, err := f.chat.StartConversation(context.Background(), "buyer", StartConversationInput{
		OtherUserID: "seller",
		ListingRef:  "bike",
		InitialText: "  Is this still available?  ",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.LastMessagePreview)
	assert.Equal(t, "Is this still available?", resp.LastMessagePreview.Text)

	entries := f.ledgerEntries(t, resp.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, entity.MessageText, entries[0].MessageType)
	assert.Len(t, f.broadcaster.ofType(ws.EventNewMessage), 1)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	conv := f.start(t, "bike")
	price := 10.0

	tests := []struct {
		name  string
		input SendMessageInput
		code  string
	}{
		{"empty text", SendMessageInput{ConversationID: conv.ID, Text: "   "}, errors.CodeValidation},
		{"unknown type", SendMessageInput{ConversationID: conv.ID, Text: "hi", MessageType: "sticker"}, errors.CodeValidation},
		{"offer without price", SendMessageInput{ConversationID: conv.ID, MessageType: entity.MessagePriceOffer}, errors.CodeValidation},
		{"text with price", SendMessageInput{ConversationID: conv.ID, Text: "hi", PriceOffer: &price}, errors.CodeValidation},
		{"unknown conversation", SendMessageInput{ConversationID: "nope", Text: "hi"}, errors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.chat.SendMessage(context.Background(), "buyer", tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}

	_, err := f.chat.SendMessage(context.Background(), "buyer2", SendMessageInput{ConversationID: conv.ID, Text: "hi"})
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	assert.Empty(t, f.ledgerEntries(t, conv.ID))
	assert.Equal(t, entity.DealPending, f.conversation(t, conv.ID).DealStatus)
}

func TestSendPriceMessageDrivesNegotiation(t *testing.T) {
	f := newFixture(t)
	conv := f.start(t, "bike")
	price := 750.0

	msg, err := f.chat.SendMessage(context.Background(), "buyer", SendMessageInput{
		ConversationID: conv.ID,
		MessageType:    entity.MessagePriceOffer,
		PriceOffer:     &price,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.MessagePriceOffer, msg.MessageType)
	assert.Equal(t, entity.DealNegotiating, f.conversation(t, conv.ID).DealStatus)
	assert.Len(t, f.broadcaster.ofType(ws.EventPriceNegotiation), 1)

	_, err = f.chat.SendMessage(context.Background(), "seller", SendMessageInput{
		ConversationID: conv.ID,
		MessageType:    entity.MessagePriceCounter,
		PriceOffer:     &price,
	})
	require.NoError(t, err)
	assert.Len(t, f.ledgerEntries(t, conv.ID), 2)
}

func TestSendMessageToInactiveConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.start(t, "bike")

	require.NoError(t, f.chat.DeactivateConversation(ctx, "seller", conv.ID))

	_, err := f.chat.SendMessage(ctx, "buyer", SendMessageInput{ConversationID: conv.ID, Text: "hello?"})
	assert.True(t, errors.Is(err, errors.CodeInvalidState))

	list, err := f.chat.ListConversations(ctx, "buyer")
	require.NoError(t, err)
	assert.Empty(t, list)

	// the pair slot is free again
	resp, created, err := f.chat.StartConversation(ctx, "buyer", StartConversationInput{OtherUserID: "seller", ListingRef: "bike"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, conv.ID, resp.ID)
}

func TestDeactivateWaitsForConversationLock(t *testing.T) {
	f := newFixture(t)
	conv := f.start(t, "bike")

	unlock := f.ledger.locks.Lock(conv.ID)
	done := make(chan error, 1)
	go func() {
		done <- f.chat.DeactivateConversation(context.Background(), "seller", conv.ID)
	}()

	select {
	case err := <-done:
		t.Fatalf("deactivate finished while the conversation was locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, f.conversation(t, conv.ID).IsActive)

	unlock()
	require.NoError(t, <-done)
	assert.False(t, f.conversation(t, conv.ID).IsActive)

	updates := f.broadcaster.ofType(ws.EventConversationUpdated)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1].Data.(ws.ConversationUpdatedPayload)
	assert.Equal(t, conv.ID, last.ConversationID)
}

func TestDeactivateRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	conv := f.start(t, "bike")

	err := f.chat.DeactivateConversation(context.Background(), "buyer2", conv.ID)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
	assert.True(t, f.conversation(t, conv.ID).IsActive)

	err = f.chat.DeactivateConversation(context.Background(), "buyer", "missing")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestListMessagesMarksRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.start(t, "bike")

	for _, text := range []string{"one", "two", "three"} {
		_, err := f.chat.SendMessage(ctx, "buyer", SendMessageInput{ConversationID: conv.ID, Text: text})
		require.NoError(t, err)
	}
	_, err := f.chat.SendMessage(ctx, "seller", SendMessageInput{ConversationID: conv.ID, Text: "reply"})
	require.NoError(t, err)

	messages, total, err := f.chat.ListMessages(ctx, "seller", conv.ID, 50, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, messages, 4)
	assert.Equal(t, "one", messages[0].Text)
	assert.Equal(t, "reply", messages[3].Text)
	for _, m := range messages[:3] {
		assert.True(t, m.IsReadBy("seller"))
	}
	assert.Empty(t, messages[3].ReadBy)

	reads := f.broadcaster.ofType(ws.EventMessagesRead)
	require.Len(t, reads, 1)
	payload := reads[0].Data.(ws.MessagesReadPayload)
	assert.Equal(t, "seller", payload.ReaderID)
	assert.Len(t, payload.MessageIDs, 3)

	first, err := json.Marshal(messages)
	require.NoError(t, err)

	again, _, err := f.chat.ListMessages(ctx, "seller", conv.ID, 50, 0)
	require.NoError(t, err)
	second, err := json.Marshal(again)
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
	assert.Len(t, f.broadcaster.ofType(ws.EventMessagesRead), 1)

	_, _, err = f.chat.ListMessages(ctx, "buyer2", conv.ID, 50, 0)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
}

func TestListMessagesPagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.start(t, "bike")

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		_, err := f.chat.SendMessage(ctx, "buyer", SendMessageInput{ConversationID: conv.ID, Text: text})
		require.NoError(t, err)
	}

	page, total, err := f.chat.ListMessages(ctx, "buyer", conv.ID, 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "d", page[0].Text)
	assert.Equal(t, "e", page[1].Text)

	page, _, err = f.chat.ListMessages(ctx, "buyer", conv.ID, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Text)
}

func TestListConversationsByActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f.chat.now = func() time.Time { return clock }
	f.ledger.now = func() time.Time { return clock }

	older := f.start(t, "bike")
	clock = clock.Add(time.Minute)
	newer, _, err := f.chat.StartConversation(ctx, "buyer", StartConversationInput{OtherUserID: "seller2", ListingRef: "lamp"})
	require.NoError(t, err)

	list, err := f.chat.ListConversations(ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	clock = clock.Add(time.Minute)
	_, err = f.chat.SendMessage(ctx, "seller", SendMessageInput{ConversationID: older.ID, Text: "still interested?"})
	require.NoError(t, err)

	list, err = f.chat.ListConversations(ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.ID, list[0].ID)
	assert.Equal(t, "still interested?", list[0].LastMessagePreview.Text)
}

func TestListCounterparts(t *testing.T) {
	f := newFixture(t)
	f.broadcaster.online["seller2"] = true

	views, err := f.chat.ListCounterparts(context.Background(), &entity.Session{UserID: "buyer", Role: entity.RoleBuyer}, 10)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "sam", views[0].Username)
	assert.False(t, views[0].Online)
	assert.Equal(t, "sara", views[1].Username)
	assert.True(t, views[1].Online)
	for _, v := range views {
		assert.Equal(t, entity.RoleSeller, v.Role)
	}
}

func TestAuthorizeJoin(t *testing.T) {
	f := newFixture(t)
	conv := f.start(t, "bike")

	got, err := f.chat.AuthorizeJoin(context.Background(), "seller", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	_, err = f.chat.AuthorizeJoin(context.Background(), "buyer2", conv.ID)
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	_, err = f.chat.AuthorizeJoin(context.Background(), "seller", "missing")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

type denyAll struct{}

func (denyAll) Allow(string, string) (bool, time.Duration) { return false, 3 * time.Second }

func TestRateLimitedSend(t *testing.T) {
	f := newFixture(t)
	conv := f.start(t, "bike")
	f.chat.rateLimiter = denyAll{}

	_, err := f.chat.SendMessage(context.Background(), "buyer", SendMessageInput{ConversationID: conv.ID, Text: "hi"})
	assert.True(t, errors.Is(err, errors.CodeTooManyRequests))
	assert.Empty(t, f.ledgerEntries(t, conv.ID))

	err = f.chat.Typing("buyer", conv.ID, true)
	assert.True(t, errors.Is(err, errors.CodeTooManyRequests))
}
