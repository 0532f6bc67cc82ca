package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/internal/validate"
	"github.com/jjudge-oj/authserver/types"
)

// AdminPageSize is the number of users per admin listing page.
const AdminPageSize = 10

const publishTimeout = 5 * time.Second

const (
	msgUserNotFound  = "could not find user"
	msgWrongPassword = "you entered the wrong password"
	msgNoSuchUser    = "user not found"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, offset, limit int) ([]types.UserSummary, error)
}

// EventPublisher receives user lifecycle events after a committed write.
type EventPublisher interface {
	PublishUserEvent(ctx context.Context, event types.UserEvent) error
}

// AuthResult is returned by every operation that issues tokens.
type AuthResult struct {
	Tokens auth.TokenPair
	User   types.User
}

// UserService encapsulates the credential and account use-cases.
type UserService struct {
	repo      UserRepository
	hasher    *auth.Hasher
	codec     *auth.Codec
	validator *validate.Validator
	events    EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*UserService)

// WithEvents publishes user lifecycle events to p.
func WithEvents(p EventPublisher) Option {
	return func(s *UserService) {
		s.events = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *UserService) {
		s.logger = logger
	}
}

func NewUserService(repo UserRepository, hasher *auth.Hasher, codec *auth.Codec, opts ...Option) *UserService {
	s := &UserService{
		repo:      repo,
		hasher:    hasher,
		codec:     codec,
		validator: validate.New(repo),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account and signs a token pair for it.
func (s *UserService) Register(ctx context.Context, in validate.RegisterInput) (AuthResult, error) {
	in, err := s.validator.Register(ctx, in)
	if err != nil {
		return AuthResult{}, err
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return AuthResult{}, auth.Unexpected(fmt.Errorf("hash password: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return AuthResult{}, auth.Unexpected(err)
	}

	user, err := s.repo.Create(ctx, types.User{
		Username:     in.Username,
		Name:         in.Name,
		Role:         types.Role(in.Role),
		PasswordHash: hashed,
	})
	if err != nil {
		return AuthResult{}, writeError(err)
	}

	result, err := s.issue(user)
	if err != nil {
		return AuthResult{}, err
	}
	s.publish(ctx, types.UserRegistered, user)
	return result, nil
}

// Login checks a username and password and signs a token pair from the
// stored record.
func (s *UserService) Login(ctx context.Context, in validate.LoginInput) (AuthResult, error) {
	in, err := s.validator.Login(in)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.repo.GetByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, auth.AuthenticationFailed(msgUserNotFound)
		}
		return AuthResult{}, auth.Unexpected(err)
	}
	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return AuthResult{}, auth.AuthenticationFailed(msgWrongPassword)
	}
	return s.issue(user)
}

// Refresh re-reads the account named by verified refresh claims, so the new
// pair carries the current role and name.
func (s *UserService) Refresh(ctx context.Context, claims *auth.Claims) (AuthResult, error) {
	user, err := s.current(ctx, claims, msgUserNotFound)
	if err != nil {
		return AuthResult{}, err
	}
	return s.issue(user)
}

// Profile returns the account named by verified access claims.
func (s *UserService) Profile(ctx context.Context, claims *auth.Claims) (types.PublicUser, error) {
	user, err := s.current(ctx, claims, msgNoSuchUser)
	if err != nil {
		return types.PublicUser{}, err
	}
	return user.Public(), nil
}

// UpdateProfile changes username and name and signs a new pair, since the
// old tokens carry the old username.
func (s *UserService) UpdateProfile(ctx context.Context, claims *auth.Claims, in validate.UpdateInput) (AuthResult, error) {
	current, err := s.current(ctx, claims, msgNoSuchUser)
	if err != nil {
		return AuthResult{}, err
	}

	in, err = s.validator.Update(ctx, current.ID, in)
	if err != nil {
		return AuthResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AuthResult{}, auth.Unexpected(err)
	}

	current.Username = in.Username
	current.Name = in.Name
	user, err := s.repo.Update(ctx, current)
	if err != nil {
		return AuthResult{}, writeError(err)
	}

	result, err := s.issue(user)
	if err != nil {
		return AuthResult{}, err
	}
	s.publish(ctx, types.UserUpdated, user)
	return result, nil
}

// DeleteAccount removes the caller's account after re-checking the password.
// It returns the number of records removed.
func (s *UserService) DeleteAccount(ctx context.Context, claims *auth.Claims, in validate.DeleteInput) (int, error) {
	in, err := s.validator.Delete(in)
	if err != nil {
		return 0, err
	}

	user, err := s.current(ctx, claims, msgNoSuchUser)
	if err != nil {
		return 0, err
	}
	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return 0, auth.AuthenticationFailed(msgWrongPassword)
	}
	if err := ctx.Err(); err != nil {
		return 0, auth.Unexpected(err)
	}

	if err := s.repo.Delete(ctx, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, auth.NotFound(msgNoSuchUser)
		}
		return 0, auth.Unexpected(err)
	}
	s.publish(ctx, types.UserDeleted, user)
	return 1, nil
}

// AdminList returns one page of users ordered by name. Pages below 1 are
// treated as the first page.
func (s *UserService) AdminList(ctx context.Context, page int) ([]types.UserSummary, error) {
	if page < 1 {
		page = 1
	}
	users, err := s.repo.List(ctx, (page-1)*AdminPageSize, AdminPageSize)
	if err != nil {
		return nil, auth.Unexpected(err)
	}
	return users, nil
}

// AdminDetail looks an account up by username.
func (s *UserService) AdminDetail(ctx context.Context, username string) (types.PublicUser, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.PublicUser{}, auth.NotFound(msgNoSuchUser)
		}
		return types.PublicUser{}, auth.Unexpected(err)
	}
	return user.Public(), nil
}

func (s *UserService) current(ctx context.Context, claims *auth.Claims, missing string) (types.User, error) {
	if claims == nil {
		return types.User{}, auth.ErrTokenInvalid
	}
	user, err := s.repo.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, auth.NotFound(missing)
		}
		return types.User{}, auth.Unexpected(err)
	}
	return user, nil
}

func (s *UserService) issue(user types.User) (AuthResult, error) {
	tokens, err := s.codec.IssuePair(user)
	if err != nil {
		return AuthResult{}, auth.Unexpected(fmt.Errorf("issue tokens: %w", err))
	}
	return AuthResult{Tokens: tokens, User: user}, nil
}

// publish is best-effort. The store write already committed, so a broker
// failure is logged and the operation still succeeds.
func (s *UserService) publish(ctx context.Context, eventType types.UserEventType, user types.User) {
	if s.events == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := types.UserEvent{
		Type:       eventType,
		UserID:     user.ID,
		Username:   user.Username,
		Role:       user.Role,
		OccurredAt: s.now().UTC(),
	}
	if err := s.events.PublishUserEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "publish user event failed",
			slog.String("type", string(eventType)),
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}
}

// writeError maps store write failures. A lost uniqueness race surfaces the
// same violation the validator would have reported.
func writeError(err error) error {
	switch {
	case errors.Is(err, store.ErrConflict):
		return auth.ValidationFailed([]auth.Violation{{Field: "username", Message: validate.MsgUsernameTaken}})
	case errors.Is(err, store.ErrNotFound):
		return auth.NotFound(msgNoSuchUser)
	default:
		return auth.Unexpected(err)
	}
}
