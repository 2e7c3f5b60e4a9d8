package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	"dealroom/pkg/errors"
)

type mongoMessageRepository struct {
	coll *mongo.Collection
}

func NewMongoMessageRepository(coll *mongo.Collection) repository.MessageRepository {
	return &mongoMessageRepository{coll: coll}
}

func (r *mongoMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	if message.ReadBy == nil {
		message.ReadBy = []entity.ReadReceipt{}
	}

	if _, err := r.coll.InsertOne(ctx, message); err != nil {
		return errors.Internal("Failed to create message", err)
	}
	return nil
}

func (r *mongoMessageRepository) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	filter := bson.M{"conversationId": conversationID}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, errors.Internal("Failed to count messages", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, errors.Internal("Failed to list messages", err)
	}
	defer cursor.Close(ctx)

	messages := []*entity.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, 0, errors.Internal("Failed to parse messages", err)
	}
	for _, m := range messages {
		if m.ReadBy == nil {
			m.ReadBy = []entity.ReadReceipt{}
		}
	}
	return messages, total, nil
}

func (r *mongoMessageRepository) MarkRead(ctx context.Context, conversationID, messageID, userID string, at time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": messageID, "conversationId": conversationID, "readBy.userId": bson.M{"$ne": userID}},
		bson.M{"$push": bson.M{"readBy": entity.ReadReceipt{UserID: userID, ReadAt: at}}},
	)
	if err != nil {
		return false, errors.Internal("Failed to update message read status", err)
	}
	return res.ModifiedCount == 1, nil
}
