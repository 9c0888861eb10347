package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// RedisCache is a Cache backed by Redis, so multiple engine instances share
// one quote snapshot. Keys carry a TTL: a price older than the TTL counts as
// unavailable rather than silently stale.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a Redis-backed snapshot cache.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func quoteKey(symbol, exchange string) string {
	return fmt.Sprintf("quote:last:%s:%s", exchange, symbol)
}

func (c *RedisCache) Set(ctx context.Context, symbol, exchange string, price decimal.Decimal) error {
	return c.rdb.Set(ctx, quoteKey(symbol, exchange), price.String(), c.ttl).Err()
}

func (c *RedisCache) LastPrice(ctx context.Context, symbol, exchange string) (decimal.Decimal, error) {
	val, err := c.rdb.Get(ctx, quoteKey(symbol, exchange)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, ErrUnavailable
		}
		return decimal.Zero, fmt.Errorf("quote: redis get: %w", err)
	}
	price, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote: bad cached price %q: %w", val, err)
	}
	return price, nil
}

func (c *RedisCache) Batch(ctx context.Context, instruments []model.Instrument) (map[model.Instrument]decimal.Decimal, error) {
	if len(instruments) == 0 {
		return map[model.Instrument]decimal.Decimal{}, nil
	}
	keys := make([]string, len(instruments))
	for i, ins := range instruments {
		keys[i] = quoteKey(ins.Symbol, ins.Exchange)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("quote: redis mget: %w", err)
	}
	out := make(map[model.Instrument]decimal.Decimal, len(instruments))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if price, err := decimal.NewFromString(s); err == nil {
			out[instruments[i]] = price
		}
	}
	return out, nil
}
