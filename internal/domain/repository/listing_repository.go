package repository

import (
	"context"

	"dealroom/internal/domain/entity"
)

// ListingRepository is the catalog collaborator.
type ListingRepository interface {
	Create(ctx context.Context, listing *entity.Listing) error
	GetByID(ctx context.Context, id string) (*entity.Listing, error)
	SetPrice(ctx context.Context, id string, price float64) error
}
