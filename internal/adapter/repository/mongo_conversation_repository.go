package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	"dealroom/pkg/errors"
)

type mongoConversationRepository struct {
	coll *mongo.Collection
}

func NewMongoConversationRepository(coll *mongo.Collection) repository.ConversationRepository {
	return &mongoConversationRepository{coll: coll}
}

func (r *mongoConversationRepository) Create(ctx context.Context, conv *entity.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	conv.UpdatedAt = conv.CreatedAt
	conv.ParticipantIDs = participantIDs(conv.Participants)

	if _, err := r.coll.InsertOne(ctx, conv); err != nil {
		return errors.Internal("Failed to create conversation", err)
	}
	return nil
}

func (r *mongoConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *mongoConversationRepository) FindActiveByPairKey(ctx context.Context, pairKey string) (*entity.Conversation, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	return r.findOne(ctx, bson.M{"pairKey": pairKey, "isActive": true}, opts)
}

func (r *mongoConversationRepository) findOne(ctx context.Context, filter bson.M, opts ...options.Lister[options.FindOneOptions]) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := r.coll.FindOne(ctx, filter, opts...).Decode(&conv)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.NotFound("Conversation", err)
	}
	if err != nil {
		return nil, errors.Internal("Failed to get conversation", err)
	}
	return &conv, nil
}

func (r *mongoConversationRepository) ListActiveByParticipant(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"participantIds": userID, "isActive": true})
	if err != nil {
		return nil, errors.Internal("Failed to fetch conversations", err)
	}
	defer cursor.Close(ctx)

	conversations := []*entity.Conversation{}
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, errors.Internal("Failed to parse conversations", err)
	}
	return conversations, nil
}

func (r *mongoConversationRepository) UpdatePreview(ctx context.Context, id string, preview entity.MessagePreview) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"lastMessagePreview": preview,
		"updatedAt":          time.Now(),
	}})
	if err != nil {
		return errors.Internal("Failed to update conversation preview", err)
	}
	if res.MatchedCount == 0 {
		return errors.NotFound("Conversation", nil)
	}
	return nil
}

func (r *mongoConversationRepository) TouchParticipant(ctx context.Context, id, userID string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "participants.userId": userID},
		bson.M{"$set": bson.M{"participants.$.lastSeen": at}},
	)
	if err != nil {
		return errors.Internal("Failed to update participant", err)
	}
	if res.MatchedCount == 0 {
		return errors.NotFound("Participant", nil)
	}
	return nil
}

func (r *mongoConversationRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"isActive":  false,
		"updatedAt": time.Now(),
	}})
	if err != nil {
		return errors.Internal("Failed to deactivate conversation", err)
	}
	if res.MatchedCount == 0 {
		return errors.NotFound("Conversation", nil)
	}
	return nil
}

func (r *mongoConversationRepository) TransitionDealStatus(ctx context.Context, id string, from, to entity.DealStatus, price *float64) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "dealStatus": string(from)},
		bson.M{"$set": bson.M{
			"dealStatus":      string(to),
			"negotiatedPrice": price,
			"updatedAt":       time.Now(),
		}},
	)
	if err != nil {
		return errors.Internal("Failed to update deal status", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return errors.InvalidTransition(fmt.Sprintf("deal is %s, expected %s", current.DealStatus, from))
}
