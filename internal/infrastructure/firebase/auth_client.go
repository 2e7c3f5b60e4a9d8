package firebase

import (
	"context"
	"time"

	"firebase.google.com/go/v4/auth"

	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	"dealroom/pkg/errors"
)

// IDTokenVerifier is the part of *auth.Client the session check needs.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseAuthClient verifies Firebase ID tokens and resolves the trade role
// from the identity store, since Firebase tokens carry no role of ours.
type FirebaseAuthClient struct {
	client   IDTokenVerifier
	userRepo repository.UserRepository
}

func NewFirebaseAuthClient(client IDTokenVerifier, userRepo repository.UserRepository) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client:   client,
		userRepo: userRepo,
	}
}

func (f *FirebaseAuthClient) Verify(ctx context.Context, token string) (*entity.Session, error) {
	if token == "" {
		return nil, errors.Unauthenticated("Missing session token", nil)
	}

	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, errors.Unauthenticated("Invalid or expired session token", err)
	}

	user, err := f.userRepo.GetByID(ctx, result.UID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, errors.Unauthenticated("Unknown user", err)
		}
		return nil, err
	}
	if !user.Role.Valid() {
		return nil, errors.Forbidden("User has no trade role", nil)
	}

	return &entity.Session{
		UserID:    result.UID,
		Role:      user.Role,
		ExpiresAt: time.Unix(result.Expires, 0),
	}, nil
}
