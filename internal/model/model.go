// Package model defines the core domain types shared across the trading
// engine. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is a known order side.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrderType distinguishes market orders (filled at the cached quote) from
// limit orders (filled at the caller's price — immediate paper fill, no
// resting order book).
type OrderType string

const (
	TypeMarket OrderType = "MARKET"
	TypeLimit  OrderType = "LIMIT"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool { return t == TypeMarket || t == TypeLimit }

// OrderStatus is the lifecycle state of a trade record.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusCompleted OrderStatus = "COMPLETED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// SeedCash is the cash balance every account starts with (and returns to on
// reset).
var SeedCash = decimal.NewFromInt(100000)

// MaxHistory caps the per-account trade history. Oldest records are evicted
// FIFO on overflow; a deliberate bounded retention policy.
const MaxHistory = 1000

// Instrument identifies one tradable (symbol, exchange) pair.
type Instrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// Position is an open holding in one instrument, keyed by (symbol, exchange)
// and tracked at quantity-weighted average cost. A position with quantity 0
// does not exist — it is removed, and the cost basis is discarded.
type Position struct {
	Symbol           string          `json:"symbol" db:"symbol"`
	Exchange         string          `json:"exchange" db:"exchange"`
	Quantity         int64           `json:"quantity" db:"quantity"`
	AveragePrice     decimal.Decimal `json:"average_price" db:"average_price"`
	CurrentPrice     decimal.Decimal `json:"current_price" db:"current_price"`
	MarketValue      decimal.Decimal `json:"market_value" db:"market_value"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealized_pnl_percentage" db:"unrealized_pnl_percentage"`
	LastUpdated      time.Time       `json:"last_updated" db:"last_updated"`
}

// CostBasis returns quantity × averagePrice.
func (p Position) CostBasis() decimal.Decimal {
	return p.AveragePrice.Mul(decimal.NewFromInt(p.Quantity))
}

// WatchlistEntry is a tracked instrument. No pricing data is stored here; it
// is a pointer into the quote snapshot cache.
type WatchlistEntry struct {
	Symbol   string    `json:"symbol" db:"symbol"`
	Exchange string    `json:"exchange" db:"exchange"`
	AddedAt  time.Time `json:"added_at" db:"added_at"`
}

// TradeRecord is an append-only record of an executed (or cancelled) order.
// Records are never mutated after creation except for status transitions and
// never deleted except by retention eviction.
type TradeRecord struct {
	OrderID     string          `json:"order_id" db:"order_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Exchange    string          `json:"exchange" db:"exchange"`
	Side        Side            `json:"side" db:"side"`
	Type        OrderType       `json:"order_type" db:"order_type"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	TotalAmount decimal.Decimal `json:"total_amount" db:"total_amount"`
	Status      OrderStatus     `json:"status" db:"status"`
	Fees        decimal.Decimal `json:"fees" db:"fees"`
	Taxes       decimal.Decimal `json:"taxes" db:"taxes"`
	ExecutedAt  time.Time       `json:"executed_at" db:"executed_at"`
	LastUpdated time.Time       `json:"last_updated" db:"last_updated"`
}

// Account is the per-user ledger of cash, positions, watchlist, and trade
// history. It is the unit of mutual exclusion: all mutations to one account
// are serialized, and the repository persists it as a single atomic document.
type Account struct {
	UserID      string           `json:"user_id" db:"user_id"`
	Cash        decimal.Decimal  `json:"cash" db:"cash"`
	InitialCash decimal.Decimal  `json:"initial_cash" db:"initial_cash"`
	TotalValue  decimal.Decimal  `json:"total_value" db:"total_value"`
	TotalPnL    decimal.Decimal  `json:"total_pnl" db:"total_pnl"`
	TotalPnLPct decimal.Decimal  `json:"total_pnl_percentage" db:"total_pnl_percentage"`
	Positions   []Position       `json:"positions"`
	Watchlist   []WatchlistEntry `json:"watchlist"`
	History     []TradeRecord    `json:"history"`
	Active      bool             `json:"active" db:"active"`
	Version     int64            `json:"version" db:"version"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	LastUpdated time.Time        `json:"last_updated" db:"last_updated"`
}

// NewAccount creates an active account seeded with the starting cash balance.
func NewAccount(userID string) *Account {
	now := time.Now().UTC()
	return &Account{
		UserID:      userID,
		Cash:        SeedCash,
		InitialCash: SeedCash,
		TotalValue:  SeedCash,
		TotalPnL:    decimal.Zero,
		TotalPnLPct: decimal.Zero,
		Active:      true,
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// Position returns the account's position for (symbol, exchange), or nil.
func (a *Account) Position(symbol, exchange string) *Position {
	for i := range a.Positions {
		if a.Positions[i].Symbol == symbol && a.Positions[i].Exchange == exchange {
			return &a.Positions[i]
		}
	}
	return nil
}

// Clone returns a deep copy. Repositories hand out clones so callers can
// mutate freely before committing via Save.
func (a *Account) Clone() *Account {
	cp := *a
	cp.Positions = append([]Position(nil), a.Positions...)
	cp.Watchlist = append([]WatchlistEntry(nil), a.Watchlist...)
	cp.History = append([]TradeRecord(nil), a.History...)
	return &cp
}

// Summary is the read-only account projection returned from trading
// operations.
type Summary struct {
	TotalValue     decimal.Decimal `json:"total_value"`
	Cash           decimal.Decimal `json:"cash"`
	TotalInvested  decimal.Decimal `json:"total_invested"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	TotalPnLPct    decimal.Decimal `json:"total_pnl_percentage"`
	PositionCount  int             `json:"position_count"`
	WatchlistCount int             `json:"watchlist_count"`
}
