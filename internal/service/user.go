package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"delivery/internal/domain"
	"delivery/internal/logx"
	"delivery/internal/repository"
)

// ProfileCache is a read-through cache of user profiles. GetProfile returns
// nil on a miss.
type ProfileCache interface {
	GetProfile(ctx context.Context, userID string) (*domain.User, error)
	SetProfile(ctx context.Context, user *domain.User) error
	InvalidateProfile(ctx context.Context, userID string) error
}

// UserService manages user profiles and serves them to the notification
// router.
type UserService struct {
	store repository.Store
	cache ProfileCache
	log   logx.Logger
	now   func() time.Time
}

// NewUserService creates a new UserService. cache may be nil.
func NewUserService(store repository.Store, cache ProfileCache, log logx.Logger) *UserService {
	if log == nil {
		log = logx.Nop()
	}
	return &UserService{store: store, cache: cache, log: log, now: time.Now}
}

// RegisterRequest contains the profile fields a user supplies.
type RegisterRequest struct {
	Name     string
	Phone    string
	Language string
}

// Register creates the caller's profile. Identity and role come from the
// authenticated caller.
func (s *UserService) Register(ctx context.Context, caller domain.Caller, req RegisterRequest) (*domain.User, error) {
	const op = "user.register"

	if caller.UserID == "" || !caller.Role.Valid() {
		return nil, fail(op, KindForbiddenAccess)
	}
	name, phone := strings.TrimSpace(req.Name), strings.TrimSpace(req.Phone)
	if name == "" || phone == "" {
		return nil, invalid(op, "name and phone are required")
	}

	u := &domain.User{
		ID:        caller.UserID,
		Name:      name,
		Phone:     phone,
		Role:      caller.Role,
		Language:  strings.ToLower(strings.TrimSpace(req.Language)),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Users().Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, invalid(op, "user already registered")
		}
		return nil, s.internalErr(op, caller.UserID, err)
	}
	return u, nil
}

// Me returns the caller's profile.
func (s *UserService) Me(ctx context.Context, caller domain.Caller) (*domain.User, error) {
	const op = "user.me"

	u, err := s.store.Users().GetByID(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fail(op, KindNotFound)
		}
		return nil, s.internalErr(op, caller.UserID, err)
	}
	return u, nil
}

// UpdatePushToken stores the caller's device token for fallback pushes.
func (s *UserService) UpdatePushToken(ctx context.Context, caller domain.Caller, token string) error {
	const op = "user.push_token"

	token = strings.TrimSpace(token)
	if token == "" {
		return invalid(op, "push token is required")
	}

	if err := s.store.Users().UpdatePushToken(ctx, caller.UserID, token); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(op, KindNotFound)
		}
		return s.internalErr(op, caller.UserID, err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateProfile(ctx, caller.UserID); err != nil {
			s.log.Warn("invalidate cached profile", logx.String("user_id", caller.UserID), logx.Err(err))
		}
	}
	return nil
}

// Profile implements the notification router's profile lookup with a
// cache-aside read.
func (s *UserService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	if s.cache != nil {
		cached, err := s.cache.GetProfile(ctx, userID)
		if err != nil {
			s.log.Warn("read cached profile", logx.String("user_id", userID), logx.Err(err))
		}
		if cached != nil {
			return cached, nil
		}
	}

	u, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetProfile(ctx, u); err != nil {
			s.log.Warn("cache profile", logx.String("user_id", userID), logx.Err(err))
		}
	}
	return u, nil
}

func (s *UserService) internalErr(op, id string, err error) error {
	s.log.Error("user store failure", logx.String("op", op), logx.String("user_id", id), logx.Err(err))
	return internal(op, err)
}
