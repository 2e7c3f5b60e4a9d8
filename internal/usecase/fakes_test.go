package usecase

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	sqlrepo "dealroom/internal/adapter/repository"
	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	"dealroom/pkg/errors"
)

type publishedEvent struct {
	Target         string
	ConversationID string
	Type           string
	Data           interface{}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []publishedEvent
	online map[string]bool
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{online: map[string]bool{}}
}

func (b *fakeBroadcaster) PublishToConversation(conversationID, eventType string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, publishedEvent{Target: "conversation", ConversationID: conversationID, Type: eventType, Data: data})
}

func (b *fakeBroadcaster) PublishTyping(conversationID, userID string, isTyping bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, publishedEvent{Target: "typing", ConversationID: conversationID, Type: "user_typing", Data: isTyping})
}

func (b *fakeBroadcaster) NotifyUser(userID, eventType string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, publishedEvent{Target: "user:" + userID, Type: eventType, Data: data})
}

func (b *fakeBroadcaster) IsOnline(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online[userID]
}

func (b *fakeBroadcaster) ofType(eventType string) []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishedEvent
	for _, e := range b.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// countingListings counts catalog price writes and can be told to fail them.
type countingListings struct {
	repository.ListingRepository
	setPriceCalls int32
	fail          bool
}

func (l *countingListings) SetPrice(ctx context.Context, id string, price float64) error {
	atomic.AddInt32(&l.setPriceCalls, 1)
	if l.fail {
		return errors.Internal("catalog unavailable", nil)
	}
	return l.ListingRepository.SetPrice(ctx, id, price)
}

type failingMessages struct {
	repository.MessageRepository
}

func (failingMessages) Create(context.Context, *entity.Message) error {
	return errors.Internal("ledger unavailable", nil)
}

type fixture struct {
	convs       repository.ConversationRepository
	messages    repository.MessageRepository
	users       repository.UserRepository
	listings    *countingListings
	broadcaster *fakeBroadcaster
	ledger      *Ledger
	negotiation *NegotiationUseCase
	chat        *ChatUseCase
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil)
}

// newFixtureWith builds use cases on a fresh sqlite file; wrap may replace
// the message repository.
func newFixtureWith(t *testing.T, wrap func(repository.MessageRepository) repository.MessageRepository) *fixture {
	t.Helper()
	db, err := sqlrepo.OpenSQLite(filepath.Join(t.TempDir(), "dealroom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		convs:       sqlrepo.NewSQLiteConversationRepository(db),
		messages:    sqlrepo.NewSQLiteMessageRepository(db),
		users:       sqlrepo.NewSQLiteUserRepository(db),
		listings:    &countingListings{ListingRepository: sqlrepo.NewSQLiteListingRepository(db)},
		broadcaster: newFakeBroadcaster(),
	}
	msgs := f.messages
	if wrap != nil {
		msgs = wrap(msgs)
	}

	f.ledger = NewLedger(f.convs, msgs, f.broadcaster)
	f.negotiation = NewNegotiationUseCase(f.convs, f.listings, f.ledger, f.broadcaster, nil)
	f.chat = NewChatUseCase(f.convs, msgs, f.users, f.listings, f.ledger, f.negotiation, f.broadcaster, nil)

	ctx := context.Background()
	for _, u := range []*entity.User{
		{ID: "seller", Username: "sam", Role: entity.RoleSeller},
		{ID: "seller2", Username: "sara", Role: entity.RoleSeller},
		{ID: "buyer", Username: "bea", Role: entity.RoleBuyer},
		{ID: "buyer2", Username: "ben", Role: entity.RoleBuyer},
	} {
		require.NoError(t, f.users.Create(ctx, u))
	}
	require.NoError(t, f.listings.Create(ctx, &entity.Listing{ID: "bike", SellerID: "seller", Title: "Bike", Price: 1000}))
	require.NoError(t, f.listings.Create(ctx, &entity.Listing{ID: "lamp", SellerID: "seller2", Title: "Lamp", Price: 40}))

	return f
}

func (f *fixture) start(t *testing.T, listing string) *entity.Conversation {
	t.Helper()
	resp, _, err := f.chat.StartConversation(context.Background(), "buyer", StartConversationInput{
		OtherUserID: "seller",
		ListingRef:  listing,
	})
	require.NoError(t, err)
	return resp.Conversation
}

func (f *fixture) conversation(t *testing.T, id string) *entity.Conversation {
	t.Helper()
	conv, err := f.convs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return conv
}

func (f *fixture) ledgerEntries(t *testing.T, conversationID string) []*entity.Message {
	t.Helper()
	msgs, _, err := f.messages.ListByConversation(context.Background(), conversationID, 100, 0)
	require.NoError(t, err)
	return msgs
}
