package entity

import (
	"time"
)

// User is the identity collaborator's view of an account.
type User struct {
	ID        string    `json:"id" firestore:"id" bson:"_id"`
	Email     string    `json:"email" firestore:"email" bson:"email"`
	Username  string    `json:"username" firestore:"username" bson:"username"`
	Role      Role      `json:"role" firestore:"role" bson:"role"`
	Status    string    `json:"status" firestore:"status" bson:"status"`
	CreatedAt time.Time `json:"createdAt" firestore:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" firestore:"updatedAt" bson:"updatedAt"`
}

// Session is the verified identity bound to a connection or request.
type Session struct {
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}
