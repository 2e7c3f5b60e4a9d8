package repository

import (
	"context"

	"dealroom/internal/domain/entity"
)

// UserRepository is the identity collaborator.
type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	ListByRole(ctx context.Context, role entity.Role, limit int) ([]*entity.User, error)
}
