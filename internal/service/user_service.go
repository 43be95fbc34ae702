package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"caption-api/internal/auth"
	"caption-api/internal/domain"
	"caption-api/internal/repository"
)

// DefaultTokenTTL is the lifetime of a session token issued at login.
const DefaultTokenTTL = 48 * time.Hour

var (
	// ErrUserNotFound indicates that no user matches the given id.
	ErrUserNotFound = repository.ErrUserNotFound
	// ErrUserAlreadyExists is returned when attempting to register with an existing username.
	ErrUserAlreadyExists = repository.ErrUserAlreadyExists
	// ErrPasswordMismatch indicates that password and password_check differ at registration.
	ErrPasswordMismatch = errors.New("password must be same as password check")
	// ErrInvalidCredentials indicates that provided credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNewPasswordMismatch indicates that the new password and its confirmation differ.
	ErrNewPasswordMismatch = errors.New("confirm and password do not match")
	// ErrUnauthorized is returned when a bearer token cannot be validated.
	ErrUnauthorized = errors.New("could not validate user")
)

type RegisterInput struct {
	Email         string
	Username      string
	Password      string
	PasswordCheck string
}

// ProfileUpdate carries the re-authentication password and the fields to change.
type ProfileUpdate struct {
	Password string
	Fields   domain.ProfileFields
}

type PasswordChange struct {
	OldPassword     string
	NewPassword     string
	ConfirmPassword string
}

type Token struct {
	AccessToken string
	TokenType   string
}

// UserService describes user lifecycle and session operations.
type UserService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Login(ctx context.Context, username, password string) (*Token, error)
	Get(ctx context.Context, id string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (*domain.User, error)
	ChangePassword(ctx context.Context, id string, in PasswordChange) (*domain.User, error)
	Delete(ctx context.Context, id string) error
	Identify(ctx context.Context, token string) (domain.Identity, error)
}

type userService struct {
	users    repository.UserRepository
	hasher   auth.PasswordHasher
	tokens   *auth.TokenService
	tokenTTL time.Duration
}

func NewUserService(users repository.UserRepository, hasher auth.PasswordHasher, tokens *auth.TokenService, tokenTTL time.Duration) UserService {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &userService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		tokenTTL: tokenTTL,
	}
}

func (s *userService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	// best-effort check; the store's unique index settles concurrent inserts
	if _, err := s.users.GetByUsername(ctx, in.Username); err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	if in.Password != in.PasswordCheck {
		return nil, ErrPasswordMismatch
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
	}
	id, err := s.users.Create(ctx, user)
	if err != nil {
		return nil, err
	}

	return s.users.GetByID(ctx, id)
}

func (s *userService) Login(ctx context.Context, username, password string) (*Token, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.Username, user.ID, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: token, TokenType: "bearer"}, nil
}

func (s *userService) Get(ctx context.Context, id string) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *userService) List(ctx context.Context) ([]domain.User, error) {
	return s.users.List(ctx)
}

func (s *userService) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if in.Fields.Empty() {
		return user, nil
	}
	return s.users.UpdateFields(ctx, id, in.Fields)
}

func (s *userService) ChangePassword(ctx context.Context, id string, in PasswordChange) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !s.hasher.Verify(in.OldPassword, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if in.NewPassword != in.ConfirmPassword {
		return nil, ErrNewPasswordMismatch
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return s.users.UpdatePassword(ctx, id, hash)
}

func (s *userService) Delete(ctx context.Context, id string) error {
	deleted, err := s.users.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrUserNotFound
	}
	return nil
}

func (s *userService) Identify(_ context.Context, token string) (domain.Identity, error) {
	identity, err := s.tokens.Validate(token)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return identity, nil
}
