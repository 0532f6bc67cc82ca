package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jjudge-oj/authserver/types"
)

// MemoryUserRepository keeps users in process memory. It backs the "memory"
// store driver and tests.
type MemoryUserRepository struct {
	mu         sync.RWMutex
	byID       map[string]types.User
	byUsername map[string]string
	now        func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:       make(map[string]types.User),
		byUsername: make(map[string]string),
		now:        time.Now,
	}
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[strings.ToLower(username)]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	user.Username = strings.ToLower(user.Username)
	if _, taken := r.byUsername[user.Username]; taken {
		return types.User{}, ErrConflict
	}

	now := r.now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now

	r.byID[user.ID] = user
	r.byUsername[user.Username] = user.ID
	return user, nil
}

func (r *MemoryUserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[user.ID]
	if !ok {
		return types.User{}, ErrNotFound
	}

	username := strings.ToLower(user.Username)
	if owner, taken := r.byUsername[username]; taken && owner != user.ID {
		return types.User{}, ErrConflict
	}

	delete(r.byUsername, current.Username)
	current.Username = username
	current.Name = user.Name
	current.UpdatedAt = r.now().UTC()

	r.byID[current.ID] = current
	r.byUsername[current.Username] = current.ID
	return current, nil
}

func (r *MemoryUserRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.byID, id)
	delete(r.byUsername, user.Username)
	return nil
}

func (r *MemoryUserRepository) List(ctx context.Context, offset, limit int) ([]types.UserSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 10
	}

	r.mu.RLock()
	all := make([]types.UserSummary, 0, len(r.byID))
	for _, user := range r.byID {
		all = append(all, user.Summary())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].Username < all[j].Username
	})

	if offset >= len(all) {
		return []types.UserSummary{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// SetRole changes a user's role in place. No API operation changes roles;
// operators and tests use this to model out-of-band role changes.
func (r *MemoryUserRepository) SetRole(id string, role types.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	user.Role = role
	user.UpdatedAt = r.now().UTC()
	r.byID[id] = user
	return nil
}
