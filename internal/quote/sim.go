package quote

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// defaultUniverse seeds the simulated feed with NSE reference prices when the
// caller supplies none.
var defaultUniverse = map[model.Instrument]decimal.Decimal{
	{Symbol: "RELIANCE", Exchange: "NSE"}:   decimal.NewFromFloat(2850.00),
	{Symbol: "TCS", Exchange: "NSE"}:        decimal.NewFromFloat(4120.50),
	{Symbol: "INFY", Exchange: "NSE"}:       decimal.NewFromFloat(1680.25),
	{Symbol: "HDFCBANK", Exchange: "NSE"}:   decimal.NewFromFloat(1545.75),
	{Symbol: "ICICIBANK", Exchange: "NSE"}:  decimal.NewFromFloat(1210.00),
	{Symbol: "SBIN", Exchange: "NSE"}:       decimal.NewFromFloat(830.40),
	{Symbol: "TATAMOTORS", Exchange: "NSE"}: decimal.NewFromFloat(975.10),
	{Symbol: "WIPRO", Exchange: "NSE"}:      decimal.NewFromFloat(520.65),
}

// SimFeed pushes random-walk ticks into a snapshot cache. It stands in for
// the external market-data collaborator during development and tests; the
// pipeline only ever reads the cache it writes to.
type SimFeed struct {
	cache    Cache
	interval time.Duration
	prices   map[model.Instrument]decimal.Decimal
	rng      *rand.Rand
	onTick   func(ins model.Instrument, price decimal.Decimal)
}

// NewSimFeed creates a simulated feed over the given universe (nil selects
// the default one). onTick, if non-nil, is invoked after each cache update —
// used to fan ticks out to WebSocket clients.
func NewSimFeed(cache Cache, universe map[model.Instrument]decimal.Decimal, interval time.Duration, onTick func(model.Instrument, decimal.Decimal)) *SimFeed {
	if universe == nil {
		universe = defaultUniverse
	}
	prices := make(map[model.Instrument]decimal.Decimal, len(universe))
	for ins, p := range universe {
		prices[ins] = p
	}
	return &SimFeed{
		cache:    cache,
		interval: interval,
		prices:   prices,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		onTick:   onTick,
	}
}

// Prime writes the universe's reference prices into the cache once, so
// market orders can fill before the first tick.
func (f *SimFeed) Prime(ctx context.Context) error {
	for ins, p := range f.prices {
		if err := f.cache.Set(ctx, ins.Symbol, ins.Exchange, p); err != nil {
			return err
		}
	}
	return nil
}

// Run ticks until the context is cancelled.
func (f *SimFeed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick(ctx)
		}
	}
}

// tick perturbs each price by up to ±0.5% and writes it through. Prices stay
// strictly positive.
func (f *SimFeed) tick(ctx context.Context) {
	for ins, p := range f.prices {
		drift := decimal.NewFromFloat((f.rng.Float64() - 0.5) / 100)
		next := p.Add(p.Mul(drift)).Round(2)
		if !next.IsPositive() {
			next = p
		}
		f.prices[ins] = next

		if err := f.cache.Set(ctx, ins.Symbol, ins.Exchange, next); err != nil {
			slog.Warn("sim feed cache write failed", "symbol", ins.Symbol, "err", err)
			continue
		}
		if f.onTick != nil {
			f.onTick(ins, next)
		}
	}
}
