package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HammerMeetNail/schoolhub/internal/logging"
	"github.com/HammerMeetNail/schoolhub/internal/models"
	"github.com/HammerMeetNail/schoolhub/internal/store"
)

type UserService struct {
	store  store.Store
	logger *logging.Logger
}

func NewUserService(st store.Store, logger *logging.Logger) *UserService {
	if logger == nil {
		logger = logging.Default
	}
	return &UserService{store: st, logger: logger}
}

// Register stores a new user with a hashed password.
func (s *UserService) Register(ctx context.Context, params models.CreateUserParams) (*models.User, error) {
	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	params.DisplayName = strings.TrimSpace(params.DisplayName)
	if params.Role == "" {
		params.Role = models.RoleUser
	}
	if err := validateParams(params); err != nil {
		return nil, err
	}

	user := &models.User{
		DisplayName:  params.DisplayName,
		Email:        params.Email,
		PasswordHash: models.HashPassword(params.Password),
		Role:         params.Role,
	}
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		return tx.Insert(ctx, user)
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var user *models.User
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		var err error
		user, err = getAs[*models.User](ctx, tx, models.UserRef(id))
		return err
	})
	if err != nil {
		return nil, missing(err, ErrUserNotFound)
	}
	return user, nil
}

// SetBlocked blocks or unblocks userID. Only site admins may do this and
// an admin cannot block themselves.
func (s *UserService) SetBlocked(ctx context.Context, actorID, userID int64, blocked bool) error {
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		actor, err := getAs[*models.User](ctx, tx, models.UserRef(actorID))
		if err != nil {
			return missing(err, ErrUserNotFound)
		}
		if actor.Role != models.RoleAdmin {
			return ErrNotAdmin
		}
		if actorID == userID {
			return ErrCannotAddressSelf
		}
		return missing(tx.SetUserBlocked(ctx, userID, blocked), ErrUserNotFound)
	})
	if err != nil {
		return err
	}

	s.logger.Info("user block flag changed", logging.Fields{
		"user_id":  userID,
		"actor_id": actorID,
		"blocked":  blocked,
	})
	return nil
}
