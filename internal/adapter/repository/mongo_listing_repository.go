package repository

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	"dealroom/pkg/errors"
)

type mongoListingRepository struct {
	coll *mongo.Collection
}

func NewMongoListingRepository(coll *mongo.Collection) repository.ListingRepository {
	return &mongoListingRepository{coll: coll}
}

func (r *mongoListingRepository) Create(ctx context.Context, listing *entity.Listing) error {
	if listing.ID == "" {
		listing.ID = uuid.New().String()
	}
	listing.UpdatedAt = time.Now()

	if _, err := r.coll.InsertOne(ctx, listing); err != nil {
		return errors.Internal("Failed to create listing", err)
	}
	return nil
}

func (r *mongoListingRepository) GetByID(ctx context.Context, id string) (*entity.Listing, error) {
	var listing entity.Listing
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&listing)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.NotFound("Listing", err)
	}
	if err != nil {
		return nil, errors.Internal("Failed to get listing", err)
	}
	return &listing, nil
}

func (r *mongoListingRepository) SetPrice(ctx context.Context, id string, price float64) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"price":     price,
		"updatedAt": time.Now(),
	}})
	if err != nil {
		return errors.Internal("Failed to update listing price", err)
	}
	if res.MatchedCount == 0 {
		return errors.NotFound("Listing", nil)
	}
	return nil
}
