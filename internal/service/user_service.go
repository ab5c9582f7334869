package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// UserService handles accounts and credentials
type UserService struct {
	store  UserStore
	tokens TokenIssuer
	logger *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(store UserStore, tokens TokenIssuer) *UserService {
	return &UserService{
		store:  store,
		tokens: tokens,
		logger: util.GetLogger(),
	}
}

// RegisterRequest represents a sign-up request
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest represents a credential check
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// EditUserRequest carries optional profile changes
type EditUserRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email" binding:"omitempty,email"`
	Password *string `json:"password" binding:"omitempty,min=8"`
}

// UserProfile is the public view of a user
type UserProfile struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func profileOf(u *models.User) *UserProfile {
	return &UserProfile{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Register creates an account and returns its id
func (s *UserService) Register(ctx context.Context, req *RegisterRequest) (int64, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Register")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return 0, apperr.Validation("name is required")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return 0, err
	}

	user := &models.User{
		Name:         name,
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return 0, apperr.Conflict("email is already registered")
		}
		util.RecordError(span, err)
		return 0, fmt.Errorf("failed to create user: %w", err)
	}

	util.UsersRegisteredTotal.Inc()
	s.logger.Info("User registered", zap.Int64("user_id", user.ID))
	return user.ID, nil
}

// Login checks credentials and returns a bearer token
func (s *UserService) Login(ctx context.Context, req *LoginRequest) (string, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Login")
	defer span.End()

	invalid := apperr.Unauthorized("invalid email or password")

	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, store.ErrNotFound) {
		util.LoginsTotal.WithLabelValues("unknown_email").Inc()
		return "", invalid
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		util.LoginsTotal.WithLabelValues("bad_password").Inc()
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return "", invalid
		}
		return "", err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return "", err
	}
	util.LoginsTotal.WithLabelValues("success").Inc()
	return token, nil
}

// GetUser returns the public profile of id
func (s *UserService) GetUser(ctx context.Context, id int64) (*UserProfile, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return profileOf(user), nil
}

// EditUser applies req to id. Only the user themselves may edit.
func (s *UserService) EditUser(ctx context.Context, callerID, id int64, req *EditUserRequest) (*UserProfile, error) {
	ctx, span := util.StartSpan(ctx, "UserService.EditUser")
	defer span.End()

	if callerID != id {
		return nil, apperr.Unauthorized("not allowed to modify this user")
	}

	user, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperr.Validation("name must not be empty")
		}
		user.Name = name
	}
	if req.Email != nil {
		user.Email = strings.TrimSpace(*req.Email)
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, apperr.NotFound("user not found")
		case errors.Is(err, store.ErrDuplicate):
			return nil, apperr.Conflict("email is already registered")
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.logger.Info("User updated", zap.Int64("user_id", id))
	return profileOf(user), nil
}

// DeleteUser removes id. Only the user themselves may delete.
func (s *UserService) DeleteUser(ctx context.Context, callerID, id int64) error {
	if callerID != id {
		return apperr.Unauthorized("not allowed to delete this user")
	}

	if err := s.store.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("user not found")
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.logger.Info("User deleted", zap.Int64("user_id", id))
	return nil
}
