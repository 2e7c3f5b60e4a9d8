package repository

import (
	"context"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	"dealroom/pkg/errors"
)

const conversationsCollection = "conversations"

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client: client,
	}
}

func (r *firestoreConversationRepository) Create(ctx context.Context, conv *entity.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}

	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	conv.UpdatedAt = conv.CreatedAt
	conv.ParticipantIDs = participantIDs(conv.Participants)

	_, err := r.client.Collection(conversationsCollection).Doc(conv.ID).Create(ctx, conv)
	if err != nil {
		return errors.Internal("Failed to create conversation", err)
	}

	return nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.client.Collection(conversationsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.Internal("Failed to get conversation", err)
	}

	var conv entity.Conversation
	if err := doc.DataTo(&conv); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	conv.ID = doc.Ref.ID

	return &conv, nil
}

func (r *firestoreConversationRepository) FindActiveByPairKey(ctx context.Context, pairKey string) (*entity.Conversation, error) {
	query := r.client.Collection(conversationsCollection).
		Where("pairKey", "==", pairKey).
		Where("isActive", "==", true).
		Limit(1)
	iter := query.Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err != nil {
		if err == iterator.Done {
			return nil, errors.NotFound("Conversation", nil)
		}
		return nil, errors.Internal("Failed to query conversation by pair", err)
	}

	var conv entity.Conversation
	if err := doc.DataTo(&conv); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	conv.ID = doc.Ref.ID

	return &conv, nil
}

func (r *firestoreConversationRepository) ListActiveByParticipant(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	query := r.client.Collection(conversationsCollection).
		Where("participantIds", "array-contains", userID).
		Where("isActive", "==", true)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		log.Printf("Firestore error while fetching conversations for user %s: %v", userID, err)
		return nil, errors.Internal("Failed to fetch conversations", err)
	}

	conversations := make([]*entity.Conversation, 0, len(docs))
	for _, doc := range docs {
		var conv entity.Conversation
		if err := doc.DataTo(&conv); err != nil {
			log.Printf("Error parsing conversation %s for user %s: %v", doc.Ref.ID, userID, err)
			continue
		}
		conv.ID = doc.Ref.ID
		conversations = append(conversations, &conv)
	}

	return conversations, nil
}

func (r *firestoreConversationRepository) UpdatePreview(ctx context.Context, id string, preview entity.MessagePreview) error {
	_, err := r.client.Collection(conversationsCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "lastMessagePreview", Value: preview},
		{Path: "updatedAt", Value: time.Now()},
	})
	return mapUpdateError(err, "Failed to update conversation preview")
}

// TouchParticipant rewrites the participants array, since Firestore cannot
// address one element of it.
func (r *firestoreConversationRepository) TouchParticipant(ctx context.Context, id, userID string, at time.Time) error {
	docRef := r.client.Collection(conversationsCollection).Doc(id)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(docRef)
		if err != nil {
			return err
		}

		var conv entity.Conversation
		if err := doc.DataTo(&conv); err != nil {
			return err
		}

		found := false
		for i := range conv.Participants {
			if conv.Participants[i].UserID == userID {
				conv.Participants[i].LastSeen = at
				found = true
			}
		}
		if !found {
			return errors.NotFound("Participant", nil)
		}

		return tx.Update(docRef, []firestore.Update{{Path: "participants", Value: conv.Participants}})
	})
	return mapTransactionError(err, "Failed to update participant")
}

func (r *firestoreConversationRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.client.Collection(conversationsCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "isActive", Value: false},
		{Path: "updatedAt", Value: time.Now()},
	})
	return mapUpdateError(err, "Failed to deactivate conversation")
}

func (r *firestoreConversationRepository) TransitionDealStatus(ctx context.Context, id string, from, to entity.DealStatus, price *float64) error {
	docRef := r.client.Collection(conversationsCollection).Doc(id)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(docRef)
		if err != nil {
			return err
		}

		var conv entity.Conversation
		if err := doc.DataTo(&conv); err != nil {
			return err
		}

		if conv.DealStatus != from {
			return errors.InvalidTransition(fmt.Sprintf("deal is %s, expected %s", conv.DealStatus, from))
		}

		var negotiated interface{}
		if price != nil {
			negotiated = *price
		}

		return tx.Update(docRef, []firestore.Update{
			{Path: "dealStatus", Value: string(to)},
			{Path: "negotiatedPrice", Value: negotiated},
			{Path: "updatedAt", Value: time.Now()},
		})
	})
	return mapTransactionError(err, "Failed to update deal status")
}

func participantIDs(participants []entity.Participant) []string {
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

func mapUpdateError(err error, message string) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return errors.NotFound("Conversation", err)
	}
	return errors.Internal(message, err)
}

// mapTransactionError passes AppErrors raised inside a transaction through untouched.
func mapTransactionError(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.CodeOf(err) != errors.CodeInternal {
		return err
	}
	return mapUpdateError(err, message)
}
