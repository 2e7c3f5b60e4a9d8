package entity

import (
	"time"
)

// Listing is the catalog collaborator's product record. Only the price is
// ever written from this service.
type Listing struct {
	ID        string    `json:"id" firestore:"id" bson:"_id"`
	SellerID  string    `json:"sellerId" firestore:"sellerId" bson:"sellerId"`
	Title     string    `json:"title" firestore:"title" bson:"title"`
	Price     float64   `json:"price" firestore:"price" bson:"price"`
	Status    string    `json:"status" firestore:"status" bson:"status"`
	UpdatedAt time.Time `json:"updatedAt" firestore:"updatedAt" bson:"updatedAt"`
}
