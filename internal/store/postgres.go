package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// PostgresStore implements Repository using PostgreSQL as the source of
// truth. All monetary values are stored as NUMERIC for exact decimal
// precision. Save rewrites the whole account document (account row plus
// child position/watchlist/history rows) in one transaction guarded by the
// version counter.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, userID string) (*model.Account, error) {
	a := model.NewAccount(userID)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, cash, initial_cash, total_value, total_pnl, total_pnl_pct, active, version, created_at, last_updated)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10)
		 ON CONFLICT (user_id) DO NOTHING`,
		a.UserID, a.Cash.String(), a.InitialCash.String(), a.TotalValue.String(),
		a.TotalPnL.String(), a.TotalPnLPct.String(), a.Active, a.Version,
		a.CreatedAt, a.LastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("create account %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyExists
	}
	return a, nil
}

func (s *PostgresStore) Load(ctx context.Context, userID string) (*model.Account, error) {
	a := &model.Account{UserID: userID}
	var cash, initialCash, totalValue, totalPnL, totalPnLPct string

	err := s.pool.QueryRow(ctx,
		`SELECT cash::TEXT, initial_cash::TEXT, total_value::TEXT,
		        total_pnl::TEXT, total_pnl_pct::TEXT,
		        active, version, created_at, last_updated
		 FROM accounts WHERE user_id = $1`, userID).
		Scan(&cash, &initialCash, &totalValue, &totalPnL, &totalPnLPct,
			&a.Active, &a.Version, &a.CreatedAt, &a.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", userID, err)
	}

	a.Cash, _ = decimal.NewFromString(cash)
	a.InitialCash, _ = decimal.NewFromString(initialCash)
	a.TotalValue, _ = decimal.NewFromString(totalValue)
	a.TotalPnL, _ = decimal.NewFromString(totalPnL)
	a.TotalPnLPct, _ = decimal.NewFromString(totalPnLPct)

	if a.Positions, err = s.loadPositions(ctx, userID); err != nil {
		return nil, err
	}
	if a.Watchlist, err = s.loadWatchlist(ctx, userID); err != nil {
		return nil, err
	}
	if a.History, err = s.loadHistory(ctx, userID); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) loadPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, exchange, quantity,
		        average_price::TEXT, current_price::TEXT, market_value::TEXT,
		        unrealized_pnl::TEXT, unrealized_pnl_pct::TEXT, last_updated
		 FROM positions WHERE user_id = $1 ORDER BY symbol, exchange`, userID)
	if err != nil {
		return nil, fmt.Errorf("load positions %s: %w", userID, err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var avg, cur, mv, pnl, pnlPct string
		if err := rows.Scan(&p.Symbol, &p.Exchange, &p.Quantity,
			&avg, &cur, &mv, &pnl, &pnlPct, &p.LastUpdated); err != nil {
			return nil, err
		}
		p.AveragePrice, _ = decimal.NewFromString(avg)
		p.CurrentPrice, _ = decimal.NewFromString(cur)
		p.MarketValue, _ = decimal.NewFromString(mv)
		p.UnrealizedPnL, _ = decimal.NewFromString(pnl)
		p.UnrealizedPnLPct, _ = decimal.NewFromString(pnlPct)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) loadWatchlist(ctx context.Context, userID string) ([]model.WatchlistEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, exchange, added_at
		 FROM watchlist WHERE user_id = $1 ORDER BY added_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("load watchlist %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []model.WatchlistEntry
	for rows.Next() {
		var e model.WatchlistEntry
		if err := rows.Scan(&e.Symbol, &e.Exchange, &e.AddedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) loadHistory(ctx context.Context, userID string) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT order_id, symbol, exchange, side, order_type, quantity,
		        price::TEXT, total_amount::TEXT, status,
		        fees::TEXT, taxes::TEXT, executed_at, last_updated
		 FROM trade_records WHERE user_id = $1 ORDER BY executed_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", userID, err)
	}
	defer rows.Close()

	var records []model.TradeRecord
	for rows.Next() {
		var r model.TradeRecord
		var price, total, fees, taxes string
		if err := rows.Scan(&r.OrderID, &r.Symbol, &r.Exchange, &r.Side, &r.Type,
			&r.Quantity, &price, &total, &r.Status, &fees, &taxes,
			&r.ExecutedAt, &r.LastUpdated); err != nil {
			return nil, err
		}
		r.Price, _ = decimal.NewFromString(price)
		r.TotalAmount, _ = decimal.NewFromString(total)
		r.Fees, _ = decimal.NewFromString(fees)
		r.Taxes, _ = decimal.NewFromString(taxes)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Save(ctx context.Context, a *model.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save account %s: begin: %w", a.UserID, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE accounts
		 SET cash = $2::NUMERIC, total_value = $3::NUMERIC,
		     total_pnl = $4::NUMERIC, total_pnl_pct = $5::NUMERIC,
		     active = $6, version = version + 1, last_updated = $7
		 WHERE user_id = $1 AND version = $8`,
		a.UserID, a.Cash.String(), a.TotalValue.String(),
		a.TotalPnL.String(), a.TotalPnLPct.String(),
		a.Active, a.LastUpdated, a.Version,
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or concurrently modified; disambiguate.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, a.UserID).
			Scan(&exists); err != nil {
			return fmt.Errorf("save account %s: %w", a.UserID, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	// Child rows are rewritten wholesale; the account is one document.
	for _, table := range []string{"positions", "watchlist", "trade_records"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE user_id = $1`, a.UserID); err != nil {
			return fmt.Errorf("save account %s: clear %s: %w", a.UserID, table, err)
		}
	}
	for _, p := range a.Positions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (user_id, symbol, exchange, quantity, average_price, current_price, market_value, unrealized_pnl, unrealized_pnl_pct, last_updated)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
			a.UserID, p.Symbol, p.Exchange, p.Quantity,
			p.AveragePrice.String(), p.CurrentPrice.String(), p.MarketValue.String(),
			p.UnrealizedPnL.String(), p.UnrealizedPnLPct.String(), p.LastUpdated,
		); err != nil {
			return fmt.Errorf("save account %s: position %s: %w", a.UserID, p.Symbol, err)
		}
	}
	for _, e := range a.Watchlist {
		if _, err := tx.Exec(ctx,
			`INSERT INTO watchlist (user_id, symbol, exchange, added_at)
			 VALUES ($1, $2, $3, $4)`,
			a.UserID, e.Symbol, e.Exchange, e.AddedAt,
		); err != nil {
			return fmt.Errorf("save account %s: watchlist %s: %w", a.UserID, e.Symbol, err)
		}
	}
	for _, r := range a.History {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trade_records (user_id, order_id, symbol, exchange, side, order_type, quantity, price, total_amount, status, fees, taxes, executed_at, last_updated)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10, $11::NUMERIC, $12::NUMERIC, $13, $14)`,
			a.UserID, r.OrderID, r.Symbol, r.Exchange, r.Side, r.Type, r.Quantity,
			r.Price.String(), r.TotalAmount.String(), r.Status,
			r.Fees.String(), r.Taxes.String(), r.ExecutedAt, r.LastUpdated,
		); err != nil {
			return fmt.Errorf("save account %s: record %s: %w", a.UserID, r.OrderID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save account %s: commit: %w", a.UserID, err)
	}
	a.Version++
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
