// Package quote holds the last-known price per instrument. The execution
// pipeline reads whatever snapshot is currently cached and never waits for a
// fresh quote; refreshing the snapshot is the market-data collaborator's job
// (in development, the simulated feed in this package).
package quote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// ErrUnavailable is returned when no snapshot price is known for an
// instrument. The pipeline treats this as a hard validation failure for
// market orders.
var ErrUnavailable = errors.New("quote: price unavailable")

// Provider supplies last-known prices. Implementations must not block on
// network I/O from the caller's perspective.
type Provider interface {
	// LastPrice returns the cached price for one instrument, or
	// ErrUnavailable.
	LastPrice(ctx context.Context, symbol, exchange string) (decimal.Decimal, error)

	// Batch returns prices for many instruments; instruments with no
	// snapshot are simply absent from the result.
	Batch(ctx context.Context, instruments []model.Instrument) (map[model.Instrument]decimal.Decimal, error)
}

// Cache is a writable Provider, refreshed by a feed.
type Cache interface {
	Provider
	Set(ctx context.Context, symbol, exchange string, price decimal.Decimal) error
}

// SnapshotCache is the in-memory Cache. Reads are lock-cheap; writes come
// from the feed goroutine.
type SnapshotCache struct {
	mu     sync.RWMutex
	prices map[model.Instrument]snapshot
}

type snapshot struct {
	price decimal.Decimal
	asOf  time.Time
}

// NewSnapshotCache creates an empty in-memory snapshot cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{prices: make(map[model.Instrument]snapshot)}
}

func (c *SnapshotCache) Set(_ context.Context, symbol, exchange string, price decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[model.Instrument{Symbol: symbol, Exchange: exchange}] = snapshot{
		price: price,
		asOf:  time.Now().UTC(),
	}
	return nil
}

func (c *SnapshotCache) LastPrice(_ context.Context, symbol, exchange string) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.prices[model.Instrument{Symbol: symbol, Exchange: exchange}]
	if !ok {
		return decimal.Zero, ErrUnavailable
	}
	return s.price, nil
}

func (c *SnapshotCache) Batch(_ context.Context, instruments []model.Instrument) (map[model.Instrument]decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[model.Instrument]decimal.Decimal, len(instruments))
	for _, ins := range instruments {
		if s, ok := c.prices[ins]; ok {
			out[ins] = s.price
		}
	}
	return out, nil
}
