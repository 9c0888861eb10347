// Package ledger owns a single account's cash balance, open positions, and
// derived valuation. Operations mutate the account in place and are pure with
// respect to everything else; the caller (the execution pipeline) holds the
// account lock and decides when the result becomes observable via the
// repository.
//
// All arithmetic is decimal. Weighted-average cost accounting:
//
//	newAvg = (oldQty×oldAvg + qty×price) / (oldQty+qty)
//
// Closing a position to zero discards its cost basis; a later re-open starts
// fresh.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// ErrAccountInactive is returned for any mutation attempted on a deactivated
// (soft-deleted) account. The ledger is frozen; no further mutation accepted.
var ErrAccountInactive = errors.New("ledger: account is deactivated")

// InsufficientFundsError rejects a BUY whose cost exceeds available cash.
// No mutation occurred.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("ledger: insufficient funds: required %s, available %s",
		e.Required, e.Available)
}

// InsufficientPositionError rejects a SELL exceeding the held quantity (or
// with no position at all). No mutation occurred.
type InsufficientPositionError struct {
	Symbol    string
	Exchange  string
	Required  int64
	Available int64
}

func (e *InsufficientPositionError) Error() string {
	return fmt.Sprintf("ledger: insufficient position in %s:%s: required %d, available %d",
		e.Exchange, e.Symbol, e.Required, e.Available)
}

// ApplyFill executes quantity at price against the account.
//
// BUY debits cash by quantity×price and merges into the existing position at
// weighted-average cost, creating it if absent. SELL decrements the position
// and credits cash; a position reaching zero quantity is removed.
//
// The sufficiency check runs against the account as passed in — the caller
// must hold the account lock so this snapshot cannot go stale between check
// and apply. Returns the resulting position (nil when the fill closed it).
func ApplyFill(a *model.Account, side model.Side, symbol, exchange string, quantity int64, price decimal.Decimal) (*model.Position, error) {
	if !a.Active {
		return nil, ErrAccountInactive
	}
	amount := price.Mul(decimal.NewFromInt(quantity))

	switch side {
	case model.SideBuy:
		if a.Cash.LessThan(amount) {
			return nil, &InsufficientFundsError{Required: amount, Available: a.Cash}
		}
		a.Cash = a.Cash.Sub(amount)
		pos := buy(a, symbol, exchange, quantity, price)
		recompute(a)
		out := *pos
		return &out, nil

	case model.SideSell:
		pos := a.Position(symbol, exchange)
		if pos == nil || pos.Quantity < quantity {
			var have int64
			if pos != nil {
				have = pos.Quantity
			}
			return nil, &InsufficientPositionError{
				Symbol: symbol, Exchange: exchange,
				Required: quantity, Available: have,
			}
		}
		a.Cash = a.Cash.Add(amount)
		pos.Quantity -= quantity
		pos.LastUpdated = time.Now().UTC()
		var out *model.Position
		if pos.Quantity == 0 {
			remove(a, symbol, exchange)
		} else {
			markPosition(pos)
			cp := *pos
			out = &cp
		}
		recompute(a)
		return out, nil

	default:
		return nil, fmt.Errorf("ledger: unknown side %q", side)
	}
}

func buy(a *model.Account, symbol, exchange string, quantity int64, price decimal.Decimal) *model.Position {
	now := time.Now().UTC()
	pos := a.Position(symbol, exchange)
	if pos == nil {
		a.Positions = append(a.Positions, model.Position{
			Symbol:       symbol,
			Exchange:     exchange,
			Quantity:     quantity,
			AveragePrice: price,
			CurrentPrice: price,
			LastUpdated:  now,
		})
		pos = &a.Positions[len(a.Positions)-1]
	} else {
		oldQty := decimal.NewFromInt(pos.Quantity)
		addQty := decimal.NewFromInt(quantity)
		totalCost := oldQty.Mul(pos.AveragePrice).Add(addQty.Mul(price))
		pos.Quantity += quantity
		pos.AveragePrice = totalCost.Div(decimal.NewFromInt(pos.Quantity))
		pos.LastUpdated = now
	}
	markPosition(pos)
	return pos
}

func remove(a *model.Account, symbol, exchange string) {
	kept := a.Positions[:0]
	for _, p := range a.Positions {
		if !(p.Symbol == symbol && p.Exchange == exchange) {
			kept = append(kept, p)
		}
	}
	a.Positions = kept
}

// markPosition refreshes the derived fields of one position from its
// CurrentPrice.
func markPosition(p *model.Position) {
	qty := decimal.NewFromInt(p.Quantity)
	p.MarketValue = p.CurrentPrice.Mul(qty)
	costBasis := p.AveragePrice.Mul(qty)
	p.UnrealizedPnL = p.MarketValue.Sub(costBasis)
	if costBasis.IsPositive() {
		p.UnrealizedPnLPct = p.UnrealizedPnL.Div(costBasis).Mul(decimal.NewFromInt(100))
	} else {
		p.UnrealizedPnLPct = decimal.Zero
	}
}

// recompute refreshes account-level valuation from cash plus position market
// values. Never touches cash or quantities.
func recompute(a *model.Account) {
	total := a.Cash
	for i := range a.Positions {
		total = total.Add(a.Positions[i].MarketValue)
	}
	a.TotalValue = total
	a.TotalPnL = total.Sub(a.InitialCash)
	if a.InitialCash.IsPositive() {
		a.TotalPnLPct = a.TotalPnL.Div(a.InitialCash).Mul(decimal.NewFromInt(100))
	} else {
		a.TotalPnLPct = decimal.Zero
	}
	a.LastUpdated = time.Now().UTC()
}

// Revalue recomputes market value and unrealized P&L for every position with
// a price update, then account-level totals. Pure recomputation: cash and
// quantities are never changed, so at constant prices revaluation neither
// creates nor destroys value.
func Revalue(a *model.Account, prices map[model.Instrument]decimal.Decimal) {
	for i := range a.Positions {
		p := &a.Positions[i]
		price, ok := prices[model.Instrument{Symbol: p.Symbol, Exchange: p.Exchange}]
		if !ok {
			continue
		}
		p.CurrentPrice = price
		p.LastUpdated = time.Now().UTC()
		markPosition(p)
	}
	recompute(a)
}

// AddWatchlistEntry adds (symbol, exchange) to the watchlist. Idempotent:
// adding an entry that already exists leaves exactly one.
func AddWatchlistEntry(a *model.Account, symbol, exchange string) error {
	if !a.Active {
		return ErrAccountInactive
	}
	for _, e := range a.Watchlist {
		if e.Symbol == symbol && e.Exchange == exchange {
			return nil
		}
	}
	a.Watchlist = append(a.Watchlist, model.WatchlistEntry{
		Symbol:   symbol,
		Exchange: exchange,
		AddedAt:  time.Now().UTC(),
	})
	a.LastUpdated = time.Now().UTC()
	return nil
}

// RemoveWatchlistEntry removes (symbol, exchange) from the watchlist.
// Removing an absent entry is a no-op.
func RemoveWatchlistEntry(a *model.Account, symbol, exchange string) error {
	if !a.Active {
		return ErrAccountInactive
	}
	kept := a.Watchlist[:0]
	for _, e := range a.Watchlist {
		if !(e.Symbol == symbol && e.Exchange == exchange) {
			kept = append(kept, e)
		}
	}
	a.Watchlist = kept
	a.LastUpdated = time.Now().UTC()
	return nil
}

// Summary returns the read-only account projection.
func Summary(a *model.Account) model.Summary {
	invested := decimal.Zero
	for i := range a.Positions {
		invested = invested.Add(a.Positions[i].CostBasis())
	}
	return model.Summary{
		TotalValue:     a.TotalValue,
		Cash:           a.Cash,
		TotalInvested:  invested,
		TotalPnL:       a.TotalPnL,
		TotalPnLPct:    a.TotalPnLPct,
		PositionCount:  len(a.Positions),
		WatchlistCount: len(a.Watchlist),
	}
}

// Reset restores the seed cash balance and clears positions, watchlist, and
// history. Explicit, irreversible administrative operation.
func Reset(a *model.Account) error {
	if !a.Active {
		return ErrAccountInactive
	}
	a.Cash = a.InitialCash
	a.Positions = nil
	a.Watchlist = nil
	a.History = nil
	a.TotalValue = a.InitialCash
	a.TotalPnL = decimal.Zero
	a.TotalPnLPct = decimal.Zero
	a.LastUpdated = time.Now().UTC()
	return nil
}

// Deactivate soft-deletes the account. The ledger is frozen afterwards: every
// mutation fails with ErrAccountInactive.
func Deactivate(a *model.Account) {
	a.Active = false
	a.LastUpdated = time.Now().UTC()
}
