package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/internal/validate"
	"github.com/jjudge-oj/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []types.UserEvent
	err    error
}

func (r *recordedEvents) PublishUserEvent(_ context.Context, event types.UserEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordedEvents) kinds() []types.UserEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.UserEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// racingRepo hides existing users from lookups so the validator passes and
// the insert hits the unique constraint.
type racingRepo struct {
	*store.MemoryUserRepository
}

func (r racingRepo) GetByUsername(context.Context, string) (types.User, error) {
	return types.User{}, store.ErrNotFound
}

type fixture struct {
	svc    *UserService
	repo   *store.MemoryUserRepository
	codec  *auth.Codec
	events *recordedEvents
	now    time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:   store.NewMemoryUserRepository(),
		events: &recordedEvents{},
		now:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	codec, err := auth.NewCodec(auth.Keys{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
	}, auth.WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)

	f.codec = codec
	f.svc = NewUserService(f.repo, auth.NewHasher(bcrypt.MinCost), codec, WithEvents(f.events))
	return f
}

func alice() validate.RegisterInput {
	return validate.RegisterInput{Username: "alice1", Name: "Alice", Password: "Str0ng!Pass", Role: "student"}
}

func (f *fixture) register(t *testing.T, in validate.RegisterInput) AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)
	return res
}

func TestRegister_IssuesTokensFromCreatedRecord(t *testing.T) {
	f := newFixture(t)

	res := f.register(t, alice())
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.NotEmpty(t, res.Tokens.RefreshToken)
	assert.Equal(t, types.RoleStudent, res.User.Role)
	assert.NotEqual(t, "Str0ng!Pass", res.User.PasswordHash)

	claims, err := f.codec.VerifyAccess(res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.Subject)
	assert.Equal(t, "alice1", claims.Username)

	_, err = f.codec.VerifyRefresh(res.Tokens.RefreshToken)
	require.NoError(t, err)

	assert.Equal(t, []types.UserEventType{types.UserRegistered}, f.events.kinds())
}

func TestRegister_DuplicateDifferingOnlyByCase(t *testing.T) {
	f := newFixture(t)
	f.register(t, alice())

	in := alice()
	in.Username = "ALICE1"
	_, err := f.svc.Register(context.Background(), in)
	require.ErrorIs(t, err, auth.ErrValidationFailed)
	require.Len(t, auth.ViolationsOf(err), 1)
	assert.Equal(t, "username", auth.ViolationsOf(err)[0].Field)
	assert.Len(t, f.events.kinds(), 1)
}

func TestRegister_LostRaceIsValidationFailure(t *testing.T) {
	f := newFixture(t)
	f.register(t, alice())

	racing := NewUserService(racingRepo{f.repo}, auth.NewHasher(bcrypt.MinCost), f.codec)
	_, err := racing.Register(context.Background(), alice())
	require.ErrorIs(t, err, auth.ErrValidationFailed)
	assert.Equal(t, []auth.Violation{{Field: "username", Message: validate.MsgUsernameTaken}}, auth.ViolationsOf(err))
}

func TestRegister_InvalidInputWritesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), validate.RegisterInput{Username: "al", Role: "root"})
	require.ErrorIs(t, err, auth.ErrValidationFailed)
	assert.Len(t, auth.ViolationsOf(err), 4)

	users, err := f.repo.List(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Empty(t, f.events.kinds())
}

func TestRegister_CanceledContextWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Register(ctx, alice())
	require.ErrorIs(t, err, auth.ErrUnexpected)

	_, err = f.repo.GetByUsername(context.Background(), "alice1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	registered := f.register(t, alice())

	t.Run("success with mixed case username", func(t *testing.T) {
		res, err := f.svc.Login(context.Background(), validate.LoginInput{Username: "Alice1", Password: "Str0ng!Pass"})
		require.NoError(t, err)
		assert.Equal(t, registered.User.ID, res.User.ID)
		assert.NotEmpty(t, res.Tokens.AccessToken)
	})

	t.Run("unknown user", func(t *testing.T) {
		res, err := f.svc.Login(context.Background(), validate.LoginInput{Username: "nobody1", Password: "Str0ng!Pass"})
		require.ErrorIs(t, err, auth.ErrAuthenticationFailed)
		assert.Equal(t, "could not find user", auth.MessageOf(err))
		assert.Empty(t, res.Tokens.AccessToken)
	})

	t.Run("wrong password", func(t *testing.T) {
		res, err := f.svc.Login(context.Background(), validate.LoginInput{Username: "alice1", Password: "Wr0ngPass"})
		require.ErrorIs(t, err, auth.ErrAuthenticationFailed)
		assert.Equal(t, "you entered the wrong password", auth.MessageOf(err))
		assert.Empty(t, res.Tokens.RefreshToken)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := f.svc.Login(context.Background(), validate.LoginInput{})
		assert.ErrorIs(t, err, auth.ErrValidationFailed)
	})
}

func TestRefresh_ReflectsCurrentRole(t *testing.T) {
	f := newFixture(t)
	registered := f.register(t, alice())

	claims, err := f.codec.VerifyRefresh(registered.Tokens.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, f.repo.SetRole(registered.User.ID, types.RoleTeacher))

	f.advance(time.Hour)
	res, err := f.svc.Refresh(context.Background(), claims)
	require.NoError(t, err)

	access, err := f.codec.VerifyAccess(res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, types.RoleTeacher, access.Role)
	assert.Equal(t, types.RoleTeacher, res.User.Role)
}

func TestRefresh_ExpiredRefreshTokenIsRejected(t *testing.T) {
	f := newFixture(t)
	registered := f.register(t, alice())

	f.advance(auth.DefaultRefreshTTL)
	_, err := f.codec.VerifyRefresh(registered.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestRefresh_DeletedAccount(t *testing.T) {
	f := newFixture(t)
	registered := f.register(t, alice())

	claims, err := f.codec.VerifyRefresh(registered.Tokens.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, f.repo.Delete(context.Background(), registered.User.ID))

	_, err = f.svc.Refresh(context.Background(), claims)
	require.ErrorIs(t, err, auth.ErrNotFound)

	_, err = f.svc.Refresh(context.Background(), nil)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	registered := f.register(t, alice())
	claims, err := f.codec.VerifyAccess(registered.Tokens.AccessToken)
	require.NoError(t, err)

	profile, err := f.svc.Profile(context.Background(), claims)
	require.NoError(t, err)
	assert.Equal(t, types.PublicUser{
		ID:       registered.User.ID,
		Username: "alice1",
		Name:     "Alice",
		Role:     types.RoleStudent,
	}, profile)

	require.NoError(t, f.repo.Delete(context.Background(), registered.User.ID))
	_, err = f.svc.Profile(context.Background(), claims)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	registered := f.register(t, alice())
	bob := alice()
	bob.Username = "bobby22"
	f.register(t, bob)

	claims, err := f.codec.VerifyAccess(registered.Tokens.AccessToken)
	require.NoError(t, err)

	t.Run("keeping own username", func(t *testing.T) {
		res, err := f.svc.UpdateProfile(context.Background(), claims, validate.UpdateInput{Username: "alice1", Name: "Alice A"})
		require.NoError(t, err)
		assert.Equal(t, "Alice A", res.User.Name)
	})

	t.Run("taken by someone else", func(t *testing.T) {
		_, err := f.svc.UpdateProfile(context.Background(), claims, validate.UpdateInput{Username: "BOBBY22", Name: "Alice"})
		require.ErrorIs(t, err, auth.ErrValidationFailed)
	})

	t.Run("rename issues tokens for new username", func(t *testing.T) {
		res, err := f.svc.UpdateProfile(context.Background(), claims, validate.UpdateInput{Username: "AliceNew", Name: "Alice"})
		require.NoError(t, err)
		assert.Equal(t, "alicenew", res.User.Username)

		access, err := f.codec.VerifyAccess(res.Tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "alicenew", access.Username)
		assert.Equal(t, registered.User.ID, access.Subject)

		_, err = f.repo.GetByUsername(context.Background(), "alice1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	assert.Equal(t, []types.UserEventType{
		types.UserRegistered, types.UserRegistered, types.UserUpdated, types.UserUpdated,
	}, f.events.kinds())
}

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	registered := f.register(t, alice())
	claims, err := f.codec.VerifyAccess(registered.Tokens.AccessToken)
	require.NoError(t, err)

	_, err = f.svc.DeleteAccount(context.Background(), claims, validate.DeleteInput{})
	require.ErrorIs(t, err, auth.ErrValidationFailed)

	_, err = f.svc.DeleteAccount(context.Background(), claims, validate.DeleteInput{Password: "Wr0ngPass"})
	require.ErrorIs(t, err, auth.ErrAuthenticationFailed)
	_, err = f.repo.GetByID(context.Background(), registered.User.ID)
	require.NoError(t, err)

	removed, err := f.svc.DeleteAccount(context.Background(), claims, validate.DeleteInput{Password: "Str0ng!Pass"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = f.repo.GetByID(context.Background(), registered.User.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.DeleteAccount(context.Background(), claims, validate.DeleteInput{Password: "Str0ng!Pass"})
	assert.ErrorIs(t, err, auth.ErrNotFound)

	assert.Equal(t, []types.UserEventType{types.UserRegistered, types.UserDeleted}, f.events.kinds())
}

func TestAdminList(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 12; i++ {
		_, err := f.repo.Create(context.Background(), types.User{
			Username:     fmt.Sprintf("user%02d", i),
			Name:         fmt.Sprintf("Name %02d", 11-i),
			Role:         types.RoleStudent,
			PasswordHash: "x",
		})
		require.NoError(t, err)
	}

	first, err := f.svc.AdminList(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, first, AdminPageSize)
	assert.Equal(t, "Name 00", first[0].Name)
	assert.Equal(t, "user11", first[0].Username)

	second, err := f.svc.AdminList(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, second, 2)

	clamped, err := f.svc.AdminList(context.Background(), -3)
	require.NoError(t, err)
	assert.Equal(t, first, clamped)

	beyond, err := f.svc.AdminList(context.Background(), 9)
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func TestAdminDetail(t *testing.T) {
	f := newFixture(t)
	registered := f.register(t, alice())

	user, err := f.svc.AdminDetail(context.Background(), "alice1")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, user.ID)

	_, err = f.svc.AdminDetail(context.Background(), "ghost1")
	require.ErrorIs(t, err, auth.ErrNotFound)
	assert.Equal(t, "user not found", auth.MessageOf(err))
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	var logs bytes.Buffer
	events := &recordedEvents{err: errors.New("broker down")}
	svc := NewUserService(f.repo, auth.NewHasher(bcrypt.MinCost), f.codec,
		WithEvents(events),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)

	res, err := svc.Register(context.Background(), alice())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.Len(t, events.kinds(), 1)
	assert.Contains(t, logs.String(), "publish user event failed")
	assert.Contains(t, logs.String(), "broker down")
}
