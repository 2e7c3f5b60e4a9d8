package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	"dealroom/pkg/errors"
)

type sqliteListingRepository struct {
	db *sql.DB
}

func NewSQLiteListingRepository(db *sql.DB) repository.ListingRepository {
	return &sqliteListingRepository{db: db}
}

func (r *sqliteListingRepository) Create(ctx context.Context, listing *entity.Listing) error {
	if listing.ID == "" {
		listing.ID = uuid.New().String()
	}
	listing.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO listings (id, seller_id, title, price, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		listing.ID, listing.SellerID, listing.Title, listing.Price, listing.Status, formatTime(listing.UpdatedAt),
	)
	if err != nil {
		return errors.Internal("Failed to create listing", err)
	}
	return nil
}

func (r *sqliteListingRepository) GetByID(ctx context.Context, id string) (*entity.Listing, error) {
	var (
		listing   entity.Listing
		updatedAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, seller_id, title, price, status, updated_at FROM listings WHERE id = ?`, id,
	).Scan(&listing.ID, &listing.SellerID, &listing.Title, &listing.Price, &listing.Status, &updatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("Listing", err)
	}
	if err != nil {
		return nil, errors.Internal("Failed to get listing", err)
	}
	listing.UpdatedAt = parseTime(updatedAt)
	return &listing, nil
}

func (r *sqliteListingRepository) SetPrice(ctx context.Context, id string, price float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE listings SET price = ?, updated_at = ? WHERE id = ?`,
		price, formatTime(time.Now()), id,
	)
	if err != nil {
		return errors.Internal("Failed to update listing price", err)
	}
	return requireAffected(res, "Listing")
}
