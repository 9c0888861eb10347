// Package trading validates order requests against the current ledger state,
// computes the simulated fill, and applies it atomically: the sufficiency
// check, the ledger mutation, the history append, and the repository save all
// run under one per-account lock. All monetary values use shopspring/decimal
// — never float64 for money.
package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/history"
	"github.com/papertrade/trading-engine/internal/ledger"
	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/quote"
	"github.com/papertrade/trading-engine/internal/store"
)

// DefaultExchange is assumed when a request omits the exchange.
const DefaultExchange = "NSE"

// ValidationError rejects a malformed order request before it reaches the
// ledger. The caller must correct the request; no mutation occurred.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("trading: invalid %s: %s", e.Field, e.Msg)
}

// ErrQuoteUnavailable fails a market order whose instrument has no cached
// snapshot price. Transient: the caller may retry once the feed catches up.
var ErrQuoteUnavailable = errors.New("trading: no quote available")

// Order is a tagged order request. Exactly two variants exist: MarketOrder
// resolves its price against the quote snapshot cache, LimitOrder carries the
// caller's price (immediate paper fill, no order-book matching).
type Order interface {
	instrument() (symbol, exchange string)
	validate() error
}

// MarketOrder fills at the instrument's cached snapshot price.
type MarketOrder struct {
	Symbol   string
	Exchange string
	Side     model.Side
	Quantity int64
}

func (o MarketOrder) instrument() (string, string) { return o.Symbol, o.Exchange }

func (o MarketOrder) validate() error {
	return validateCommon(o.Symbol, o.Side, o.Quantity)
}

// LimitOrder fills at the caller-supplied price.
type LimitOrder struct {
	Symbol   string
	Exchange string
	Side     model.Side
	Quantity int64
	Price    decimal.Decimal
}

func (o LimitOrder) instrument() (string, string) { return o.Symbol, o.Exchange }

func (o LimitOrder) validate() error {
	if err := validateCommon(o.Symbol, o.Side, o.Quantity); err != nil {
		return err
	}
	if !o.Price.IsPositive() {
		return &ValidationError{Field: "price", Msg: "price is required for limit orders and must be positive"}
	}
	return nil
}

func validateCommon(symbol string, side model.Side, quantity int64) error {
	if strings.TrimSpace(symbol) == "" {
		return &ValidationError{Field: "symbol", Msg: "symbol is required"}
	}
	if !side.Valid() {
		return &ValidationError{Field: "side", Msg: "side must be BUY or SELL"}
	}
	if quantity <= 0 {
		return &ValidationError{Field: "quantity", Msg: "quantity must be a positive integer"}
	}
	return nil
}

// FeeFunc computes fees and taxes for a fill. The default paper-trading
// schedule charges nothing.
type FeeFunc func(side model.Side, quantity int64, price decimal.Decimal) (fees, taxes decimal.Decimal)

// ZeroFees is the default FeeFunc.
func ZeroFees(model.Side, int64, decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	return decimal.Zero, decimal.Zero
}

// OrderResult is the observable outcome of a successfully placed order.
type OrderResult struct {
	Order    model.TradeRecord `json:"order"`
	Position *model.Position   `json:"position,omitempty"`
	Summary  model.Summary     `json:"portfolio"`
}

// Service is the order execution pipeline. A striped per-account lock
// serializes every mutation to one account; different accounts proceed
// concurrently with no shared locking.
type Service struct {
	repo   store.Repository
	quotes quote.Provider
	fees   FeeFunc
	wsHub  *WSHub // optional, nil disables broadcasts

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a trading service. Pass nil for hub if WebSocket
// broadcasting is not needed; pass nil for fees to charge nothing.
func NewService(repo store.Repository, quotes quote.Provider, fees FeeFunc, hub *WSHub) *Service {
	if fees == nil {
		fees = ZeroFees
	}
	return &Service{
		repo:   repo,
		quotes: quotes,
		fees:   fees,
		wsHub:  hub,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lock returns the mutex serializing mutations for one account, creating it
// on first use. Lock entries are never removed; the set of active accounts
// is small and bounded per instance.
func (s *Service) lock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func normalize(symbol, exchange string) (string, string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	if exchange == "" {
		exchange = DefaultExchange
	}
	return symbol, exchange
}

// PlaceOrder runs the full pipeline: validate, resolve the execution price,
// re-check sufficiency against the current ledger snapshot under the account
// lock, apply the fill, append the COMPLETED trade record, and persist. The
// account is mutated on a private copy, so nothing is observable unless the
// save commits — an abandoned request leaves no trace.
func (s *Service) PlaceOrder(ctx context.Context, userID string, ord Order) (*OrderResult, error) {
	start := time.Now()

	if err := ord.validate(); err != nil {
		metrics.RejectionsTotal.WithLabelValues("validation").Inc()
		return nil, err
	}
	symbol, exchange := ord.instrument()
	symbol, exchange = normalize(symbol, exchange)

	// Resolve the execution price. Market orders read whatever snapshot is
	// cached; the pipeline never waits for a fresh quote.
	var side model.Side
	var quantity int64
	var price decimal.Decimal
	var orderType model.OrderType

	switch o := ord.(type) {
	case MarketOrder:
		side, quantity, orderType = o.Side, o.Quantity, model.TypeMarket
		p, err := s.quotes.LastPrice(ctx, symbol, exchange)
		if err != nil {
			metrics.RejectionsTotal.WithLabelValues("quote_unavailable").Inc()
			return nil, fmt.Errorf("%w for %s:%s", ErrQuoteUnavailable, exchange, symbol)
		}
		price = p
	case LimitOrder:
		side, quantity, orderType = o.Side, o.Quantity, model.TypeLimit
		price = o.Price
	default:
		return nil, &ValidationError{Field: "order_type", Msg: "order type must be MARKET or LIMIT"}
	}

	lock := s.lock(userID)
	lock.Lock()
	defer lock.Unlock()

	account, err := s.repo.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	pos, err := ledger.ApplyFill(account, side, symbol, exchange, quantity, price)
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues(rejectionReason(err)).Inc()
		metrics.OrdersTotal.WithLabelValues(string(side), string(model.StatusRejected)).Inc()
		return nil, err
	}

	fees, taxes := s.fees(side, quantity, price)
	now := time.Now().UTC()
	rec := model.TradeRecord{
		OrderID:     uuid.New().String(),
		Symbol:      symbol,
		Exchange:    exchange,
		Side:        side,
		Type:        orderType,
		Quantity:    quantity,
		Price:       price,
		TotalAmount: price.Mul(decimal.NewFromInt(quantity)),
		Status:      model.StatusCompleted,
		Fees:        fees,
		Taxes:       taxes,
		ExecutedAt:  now,
		LastUpdated: now,
	}
	history.Append(account, rec)

	if err := s.repo.Save(ctx, account); err != nil {
		return nil, storageError(err)
	}

	metrics.OrdersTotal.WithLabelValues(string(side), string(model.StatusCompleted)).Inc()
	metrics.OrderLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())

	slog.Info("order filled",
		"order_id", rec.OrderID,
		"user", userID,
		"symbol", symbol,
		"exchange", exchange,
		"side", side,
		"type", orderType,
		"qty", quantity,
		"price", price.String(),
		"total", rec.TotalAmount.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "order_executed",
			Symbol:   symbol,
			Exchange: exchange,
			Side:     string(side),
			Quantity: quantity,
			Price:    price.String(),
			OrderID:  rec.OrderID,
		})
	}

	return &OrderResult{
		Order:    rec,
		Position: pos,
		Summary:  ledger.Summary(account),
	}, nil
}

// rejectionReason labels a ledger rejection for metrics.
func rejectionReason(err error) string {
	var fundsErr *ledger.InsufficientFundsError
	var posErr *ledger.InsufficientPositionError
	switch {
	case errors.As(err, &fundsErr):
		return "insufficient_funds"
	case errors.As(err, &posErr):
		return "insufficient_position"
	case errors.Is(err, ledger.ErrAccountInactive):
		return "account_inactive"
	default:
		return "other"
	}
}

// storageError keeps persistence failures distinct from business rejections.
func storageError(err error) error {
	if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrNotFound) {
		return err
	}
	return fmt.Errorf("trading: storage failure: %w", err)
}

// Portfolio is the read-only projection returned from portfolio queries.
type Portfolio struct {
	Summary   model.Summary          `json:"summary"`
	Positions []model.Position       `json:"positions"`
	Watchlist []model.WatchlistEntry `json:"watchlist"`
}

// GetPortfolio loads the account and revalues it against the current quote
// snapshot. Pure read: the revaluation happens on the loaded copy and is not
// persisted, so no account lock is needed.
func (s *Service) GetPortfolio(ctx context.Context, userID string) (*Portfolio, error) {
	account, err := s.repo.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(account.Positions) > 0 {
		instruments := make([]model.Instrument, len(account.Positions))
		for i, p := range account.Positions {
			instruments[i] = model.Instrument{Symbol: p.Symbol, Exchange: p.Exchange}
		}
		prices, err := s.quotes.Batch(ctx, instruments)
		if err == nil && len(prices) > 0 {
			ledger.Revalue(account, prices)
		}
	}

	return &Portfolio{
		Summary:   ledger.Summary(account),
		Positions: account.Positions,
		Watchlist: account.Watchlist,
	}, nil
}

// OrderPage is a filtered, paginated slice of the trade history.
type OrderPage struct {
	Orders     []model.TradeRecord `json:"orders"`
	Pagination history.Pagination  `json:"pagination"`
}

// GetOrders queries the account's trade history.
func (s *Service) GetOrders(ctx context.Context, userID string, f history.Filter) (*OrderPage, error) {
	account, err := s.repo.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	orders, page := history.Query(account, f)
	return &OrderPage{Orders: orders, Pagination: page}, nil
}

// CancelOrder transitions a PENDING order to CANCELLED.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (*model.TradeRecord, error) {
	return s.mutateHistory(ctx, userID, func(account *model.Account) (*model.TradeRecord, error) {
		return history.UpdateStatus(account, orderID, model.StatusCancelled)
	})
}

// ModifyOrder updates quantity/price of a PENDING order.
func (s *Service) ModifyOrder(ctx context.Context, userID, orderID string, quantity int64, price decimal.Decimal) (*model.TradeRecord, error) {
	return s.mutateHistory(ctx, userID, func(account *model.Account) (*model.TradeRecord, error) {
		return history.Modify(account, orderID, quantity, price)
	})
}

func (s *Service) mutateHistory(ctx context.Context, userID string, fn func(*model.Account) (*model.TradeRecord, error)) (*model.TradeRecord, error) {
	lock := s.lock(userID)
	lock.Lock()
	defer lock.Unlock()

	account, err := s.repo.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, ledger.ErrAccountInactive
	}
	rec, err := fn(account)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, account); err != nil {
		return nil, storageError(err)
	}
	return rec, nil
}

// AddToWatchlist adds (symbol, exchange) to the account's watchlist.
func (s *Service) AddToWatchlist(ctx context.Context, userID, symbol, exchange string) ([]model.WatchlistEntry, error) {
	symbol, exchange = normalize(symbol, exchange)
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Msg: "symbol is required"}
	}
	return s.mutateWatchlist(ctx, userID, func(account *model.Account) error {
		return ledger.AddWatchlistEntry(account, symbol, exchange)
	})
}

// RemoveFromWatchlist removes (symbol, exchange) from the watchlist.
func (s *Service) RemoveFromWatchlist(ctx context.Context, userID, symbol, exchange string) ([]model.WatchlistEntry, error) {
	symbol, exchange = normalize(symbol, exchange)
	return s.mutateWatchlist(ctx, userID, func(account *model.Account) error {
		return ledger.RemoveWatchlistEntry(account, symbol, exchange)
	})
}

func (s *Service) mutateWatchlist(ctx context.Context, userID string, fn func(*model.Account) error) ([]model.WatchlistEntry, error) {
	lock := s.lock(userID)
	lock.Lock()
	defer lock.Unlock()

	account, err := s.repo.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(account); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, account); err != nil {
		return nil, storageError(err)
	}
	return account.Watchlist, nil
}

// CreateAccount onboards a user with the seed cash balance.
func (s *Service) CreateAccount(ctx context.Context, userID string) (*model.Account, error) {
	account, err := s.repo.Create(ctx, userID)
	if err != nil {
		return nil, err
	}
	slog.Info("account created", "user", userID, "cash", account.Cash.String())
	return account, nil
}

// ResetAccount restores the seed cash balance and clears positions,
// watchlist, and history. Explicit administrative operation.
func (s *Service) ResetAccount(ctx context.Context, userID string) (model.Summary, error) {
	lock := s.lock(userID)
	lock.Lock()
	defer lock.Unlock()

	account, err := s.repo.Load(ctx, userID)
	if err != nil {
		return model.Summary{}, err
	}
	if err := ledger.Reset(account); err != nil {
		return model.Summary{}, err
	}
	if err := s.repo.Save(ctx, account); err != nil {
		return model.Summary{}, storageError(err)
	}
	slog.Info("account reset", "user", userID)
	return ledger.Summary(account), nil
}

// DeactivateAccount freezes the ledger (soft delete). Further mutations fail.
func (s *Service) DeactivateAccount(ctx context.Context, userID string) error {
	lock := s.lock(userID)
	lock.Lock()
	defer lock.Unlock()

	account, err := s.repo.Load(ctx, userID)
	if err != nil {
		return err
	}
	ledger.Deactivate(account)
	if err := s.repo.Save(ctx, account); err != nil {
		return storageError(err)
	}
	slog.Info("account deactivated", "user", userID)
	return nil
}

// LastPrice exposes the quote snapshot for read-only quote endpoints.
func (s *Service) LastPrice(ctx context.Context, symbol, exchange string) (decimal.Decimal, error) {
	symbol, exchange = normalize(symbol, exchange)
	return s.quotes.LastPrice(ctx, symbol, exchange)
}
