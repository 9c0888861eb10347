package ledger_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/ledger"
	"github.com/papertrade/trading-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newAccount(t *testing.T) *model.Account {
	t.Helper()
	return model.NewAccount("user1")
}

func mustFill(t *testing.T, a *model.Account, side model.Side, symbol string, qty int64, price decimal.Decimal) {
	t.Helper()
	if _, err := ledger.ApplyFill(a, side, symbol, "NSE", qty, price); err != nil {
		t.Fatalf("fill %s %d %s @ %s: %v", side, qty, symbol, price, err)
	}
}

func TestApplyFill_WeightedAverage(t *testing.T) {
	a := newAccount(t)

	mustFill(t, a, model.SideBuy, "RELIANCE", 100, d(10))
	mustFill(t, a, model.SideBuy, "RELIANCE", 50, d(13))

	pos := a.Position("RELIANCE", "NSE")
	if pos == nil {
		t.Fatal("expected position to exist")
	}
	if pos.Quantity != 150 {
		t.Errorf("quantity = %d, want 150", pos.Quantity)
	}
	if !pos.AveragePrice.Equal(d(11)) {
		t.Errorf("average price = %s, want 11", pos.AveragePrice)
	}
}

func TestApplyFill_ClosureResetsBasis(t *testing.T) {
	a := newAccount(t)

	mustFill(t, a, model.SideBuy, "TCS", 10, d(20))
	mustFill(t, a, model.SideSell, "TCS", 10, d(25))

	if a.Position("TCS", "NSE") != nil {
		t.Fatal("position should be removed at zero quantity")
	}

	mustFill(t, a, model.SideBuy, "TCS", 5, d(30))
	pos := a.Position("TCS", "NSE")
	if pos == nil {
		t.Fatal("expected re-opened position")
	}
	if !pos.AveragePrice.Equal(d(30)) {
		t.Errorf("average price = %s, want 30 (fresh basis, not blended)", pos.AveragePrice)
	}
}

func TestApplyFill_InsufficientFunds(t *testing.T) {
	a := newAccount(t)
	a.Cash = d(1000)

	_, err := ledger.ApplyFill(a, model.SideBuy, "INFY", "NSE", 200, d(10))

	var fundsErr *ledger.InsufficientFundsError
	if !errors.As(err, &fundsErr) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if !fundsErr.Required.Equal(d(2000)) || !fundsErr.Available.Equal(d(1000)) {
		t.Errorf("error context = required %s available %s, want 2000/1000",
			fundsErr.Required, fundsErr.Available)
	}
	if !a.Cash.Equal(d(1000)) {
		t.Errorf("cash changed on rejected fill: %s", a.Cash)
	}
	if len(a.Positions) != 0 {
		t.Error("position created on rejected fill")
	}
}

func TestApplyFill_InsufficientPosition(t *testing.T) {
	a := newAccount(t)

	_, err := ledger.ApplyFill(a, model.SideSell, "RELIANCE", "NSE", 10, d(100))

	var posErr *ledger.InsufficientPositionError
	if !errors.As(err, &posErr) {
		t.Fatalf("expected InsufficientPositionError, got %v", err)
	}
	if posErr.Available != 0 || posErr.Required != 10 {
		t.Errorf("error context = required %d available %d, want 10/0", posErr.Required, posErr.Available)
	}
	if !a.Cash.Equal(model.SeedCash) {
		t.Errorf("cash changed on rejected sell: %s", a.Cash)
	}
}

func TestApplyFill_SellPartial(t *testing.T) {
	a := newAccount(t)

	mustFill(t, a, model.SideBuy, "SBIN", 100, d(50))
	mustFill(t, a, model.SideSell, "SBIN", 40, d(60))

	pos := a.Position("SBIN", "NSE")
	if pos == nil || pos.Quantity != 60 {
		t.Fatalf("expected 60 shares remaining, got %+v", pos)
	}
	// Cost basis is untouched by sells.
	if !pos.AveragePrice.Equal(d(50)) {
		t.Errorf("average price = %s, want 50", pos.AveragePrice)
	}
	want := model.SeedCash.Sub(d(5000)).Add(d(2400))
	if !a.Cash.Equal(want) {
		t.Errorf("cash = %s, want %s", a.Cash, want)
	}
}

// Conservation: at constant prices, a sequence of fills moves value between
// cash and positions without creating or destroying any.
func TestConservation(t *testing.T) {
	a := newAccount(t)

	fills := []struct {
		side  model.Side
		sym   string
		qty   int64
		price decimal.Decimal
	}{
		{model.SideBuy, "RELIANCE", 10, d(2850)},
		{model.SideBuy, "TCS", 5, d(4120.50)},
		{model.SideBuy, "RELIANCE", 7, d(2850)},
		{model.SideSell, "RELIANCE", 12, d(2850)},
		{model.SideBuy, "INFY", 20, d(1680.25)},
		{model.SideSell, "TCS", 5, d(4120.50)},
	}

	prices := map[model.Instrument]decimal.Decimal{
		{Symbol: "RELIANCE", Exchange: "NSE"}: d(2850),
		{Symbol: "TCS", Exchange: "NSE"}:      d(4120.50),
		{Symbol: "INFY", Exchange: "NSE"}:     d(1680.25),
	}

	for _, f := range fills {
		mustFill(t, a, f.side, f.sym, f.qty, f.price)
		ledger.Revalue(a, prices)
		if !a.TotalValue.Equal(model.SeedCash) {
			t.Fatalf("value not conserved after %s %d %s: total = %s, want %s",
				f.side, f.qty, f.sym, a.TotalValue, model.SeedCash)
		}
	}
}

func TestRevalue_PureRecomputation(t *testing.T) {
	a := newAccount(t)
	mustFill(t, a, model.SideBuy, "WIPRO", 100, d(500))

	cashBefore := a.Cash
	ledger.Revalue(a, map[model.Instrument]decimal.Decimal{
		{Symbol: "WIPRO", Exchange: "NSE"}: d(550),
	})

	if !a.Cash.Equal(cashBefore) {
		t.Errorf("revalue changed cash: %s -> %s", cashBefore, a.Cash)
	}
	pos := a.Position("WIPRO", "NSE")
	if pos.Quantity != 100 {
		t.Errorf("revalue changed quantity: %d", pos.Quantity)
	}
	if !pos.MarketValue.Equal(d(55000)) {
		t.Errorf("market value = %s, want 55000", pos.MarketValue)
	}
	if !pos.UnrealizedPnL.Equal(d(5000)) {
		t.Errorf("unrealized pnl = %s, want 5000", pos.UnrealizedPnL)
	}
	if !a.TotalPnL.Equal(d(5000)) {
		t.Errorf("total pnl = %s, want 5000", a.TotalPnL)
	}
	if !a.TotalPnLPct.Equal(d(5)) {
		t.Errorf("total pnl pct = %s, want 5", a.TotalPnLPct)
	}
}

func TestWatchlist_Idempotent(t *testing.T) {
	a := newAccount(t)

	for i := 0; i < 2; i++ {
		if err := ledger.AddWatchlistEntry(a, "RELIANCE", "NSE"); err != nil {
			t.Fatalf("add watchlist: %v", err)
		}
	}
	if len(a.Watchlist) != 1 {
		t.Fatalf("watchlist has %d entries, want exactly 1", len(a.Watchlist))
	}

	// Same symbol on another exchange is a distinct entry.
	if err := ledger.AddWatchlistEntry(a, "RELIANCE", "BSE"); err != nil {
		t.Fatalf("add watchlist: %v", err)
	}
	if len(a.Watchlist) != 2 {
		t.Fatalf("watchlist has %d entries, want 2", len(a.Watchlist))
	}

	if err := ledger.RemoveWatchlistEntry(a, "RELIANCE", "NSE"); err != nil {
		t.Fatalf("remove watchlist: %v", err)
	}
	if err := ledger.RemoveWatchlistEntry(a, "RELIANCE", "NSE"); err != nil {
		t.Fatalf("remove absent entry should be a no-op: %v", err)
	}
	if len(a.Watchlist) != 1 || a.Watchlist[0].Exchange != "BSE" {
		t.Fatalf("unexpected watchlist state: %+v", a.Watchlist)
	}
}

func TestSummary(t *testing.T) {
	a := newAccount(t)
	mustFill(t, a, model.SideBuy, "RELIANCE", 10, d(2000))
	if err := ledger.AddWatchlistEntry(a, "TCS", "NSE"); err != nil {
		t.Fatal(err)
	}

	sum := ledger.Summary(a)
	if !sum.TotalInvested.Equal(d(20000)) {
		t.Errorf("total invested = %s, want 20000", sum.TotalInvested)
	}
	if sum.PositionCount != 1 || sum.WatchlistCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", sum.PositionCount, sum.WatchlistCount)
	}
	if !sum.Cash.Equal(model.SeedCash.Sub(d(20000))) {
		t.Errorf("cash = %s", sum.Cash)
	}
}

func TestReset(t *testing.T) {
	a := newAccount(t)
	mustFill(t, a, model.SideBuy, "RELIANCE", 10, d(2000))
	if err := ledger.AddWatchlistEntry(a, "TCS", "NSE"); err != nil {
		t.Fatal(err)
	}

	if err := ledger.Reset(a); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !a.Cash.Equal(model.SeedCash) {
		t.Errorf("cash = %s, want seed", a.Cash)
	}
	if len(a.Positions) != 0 || len(a.Watchlist) != 0 || len(a.History) != 0 {
		t.Error("reset should clear positions, watchlist, and history")
	}
	if !a.TotalPnL.IsZero() {
		t.Errorf("total pnl = %s, want 0", a.TotalPnL)
	}
}

func TestDeactivatedAccountIsFrozen(t *testing.T) {
	a := newAccount(t)
	ledger.Deactivate(a)

	if _, err := ledger.ApplyFill(a, model.SideBuy, "RELIANCE", "NSE", 1, d(100)); !errors.Is(err, ledger.ErrAccountInactive) {
		t.Errorf("fill on deactivated account: %v", err)
	}
	if err := ledger.AddWatchlistEntry(a, "TCS", "NSE"); !errors.Is(err, ledger.ErrAccountInactive) {
		t.Errorf("watchlist add on deactivated account: %v", err)
	}
	if err := ledger.Reset(a); !errors.Is(err, ledger.ErrAccountInactive) {
		t.Errorf("reset on deactivated account: %v", err)
	}
}
