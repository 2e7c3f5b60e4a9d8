package main

import (
	"context"

	"dealroom/internal/domain/entity"
	domainrepo "dealroom/internal/domain/repository"
	"dealroom/pkg/errors"
	"dealroom/pkg/logger"
)

var demoUsers = []*entity.User{
	{ID: "demo-seller", Email: "seller@example.com", Username: "demo_seller", Role: entity.RoleSeller, Status: "active"},
	{ID: "demo-buyer", Email: "buyer@example.com", Username: "demo_buyer", Role: entity.RoleBuyer, Status: "active"},
}

var demoListing = &entity.Listing{ID: "demo-listing", SellerID: "demo-seller", Title: "Demo listing", Price: 100, Status: "active"}

// seedDemoData gives a fresh development database two counterparts and a
// listing so sessions can be issued right away.
func seedDemoData(ctx context.Context, users domainrepo.UserRepository, listings domainrepo.ListingRepository) error {
	for _, u := range demoUsers {
		if _, err := users.GetByID(ctx, u.ID); err == nil {
			continue
		} else if !errors.Is(err, errors.CodeNotFound) {
			return err
		}
		if err := users.Create(ctx, u); err != nil {
			return err
		}
		logger.Info("Seeded demo user %s (%s)", u.ID, u.Role)
	}

	if _, err := listings.GetByID(ctx, demoListing.ID); err == nil {
		return nil
	} else if !errors.Is(err, errors.CodeNotFound) {
		return err
	}
	listing := *demoListing
	return listings.Create(ctx, &listing)
}
