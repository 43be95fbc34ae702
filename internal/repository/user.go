package repository

import (
	"context"
	"errors"

	"caption-api/internal/domain"
)

var (
	// ErrUserNotFound is returned when no record matches the lookup key.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserAlreadyExists is returned when the username is already taken.
	ErrUserAlreadyExists = errors.New("user already exists")
)

// UserRepository defines persistence operations for User records.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (string, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	UpdateFields(ctx context.Context, id string, fields domain.ProfileFields) (*domain.User, error)
	UpdatePassword(ctx context.Context, id string, passwordHash string) (*domain.User, error)
	Delete(ctx context.Context, id string) (bool, error)
}
