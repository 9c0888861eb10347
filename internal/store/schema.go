package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied idempotently at startup. Money columns are NUMERIC;
// decimal values round-trip as text.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id        TEXT PRIMARY KEY,
	cash           NUMERIC NOT NULL CHECK (cash >= 0),
	initial_cash   NUMERIC NOT NULL,
	total_value    NUMERIC NOT NULL,
	total_pnl      NUMERIC NOT NULL,
	total_pnl_pct  NUMERIC NOT NULL,
	active         BOOLEAN NOT NULL DEFAULT TRUE,
	version        BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	last_updated   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	user_id            TEXT NOT NULL REFERENCES accounts(user_id) ON DELETE CASCADE,
	symbol             TEXT NOT NULL,
	exchange           TEXT NOT NULL,
	quantity           BIGINT NOT NULL CHECK (quantity > 0),
	average_price      NUMERIC NOT NULL CHECK (average_price >= 0),
	current_price      NUMERIC NOT NULL,
	market_value       NUMERIC NOT NULL,
	unrealized_pnl     NUMERIC NOT NULL,
	unrealized_pnl_pct NUMERIC NOT NULL,
	last_updated       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, symbol, exchange)
);

CREATE TABLE IF NOT EXISTS watchlist (
	user_id   TEXT NOT NULL REFERENCES accounts(user_id) ON DELETE CASCADE,
	symbol    TEXT NOT NULL,
	exchange  TEXT NOT NULL,
	added_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, symbol, exchange)
);

CREATE TABLE IF NOT EXISTS trade_records (
	user_id      TEXT NOT NULL REFERENCES accounts(user_id) ON DELETE CASCADE,
	order_id     TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	exchange     TEXT NOT NULL,
	side         TEXT NOT NULL,
	order_type   TEXT NOT NULL,
	quantity     BIGINT NOT NULL CHECK (quantity > 0),
	price        NUMERIC NOT NULL CHECK (price >= 0),
	total_amount NUMERIC NOT NULL,
	status       TEXT NOT NULL,
	fees         NUMERIC NOT NULL DEFAULT 0,
	taxes        NUMERIC NOT NULL DEFAULT 0,
	executed_at  TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, order_id)
);

CREATE INDEX IF NOT EXISTS idx_trade_records_executed
	ON trade_records (user_id, executed_at DESC);
`

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
