package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papertrade/trading-engine/internal/model"
)

// CachedStore wraps a primary Repository (PostgreSQL) with a Redis
// read-through cache. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary. Cache
// failures degrade to primary reads; they never fail a request.
type CachedStore struct {
	primary Repository
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Repository, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func accountKey(userID string) string { return fmt.Sprintf("account:%s", userID) }

func (s *CachedStore) Create(ctx context.Context, userID string) (*model.Account, error) {
	a, err := s.primary.Create(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) Load(ctx context.Context, userID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) Save(ctx context.Context, a *model.Account) error {
	if err := s.primary.Save(ctx, a); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the committed state.
	s.rdb.Del(ctx, accountKey(a.UserID))
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, userID string) error {
	if err := s.primary.Delete(ctx, userID); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(userID))
	return nil
}

func (s *CachedStore) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.UserID), data, s.ttl)
	}
}
