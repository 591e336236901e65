package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeforge/indexcore/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, pair, buy_order_id, sell_order_id,
	price_ticks, amount_units, executed_at, settlement, batch_id`

func scanTrade(scanner interface{ Scan(dest ...any) error }) (domain.Trade, error) {
	var t domain.Trade
	var settlement string
	var batchID *string

	err := scanner.Scan(
		&t.ID, &t.Pair, &t.BuyOrderID, &t.SellOrderID,
		&t.PriceTicks, &t.AmountUnits, &t.Timestamp,
		&settlement, &batchID,
	)
	if err != nil {
		return domain.Trade{}, err
	}

	t.Settlement = domain.TradeSettlement(settlement)
	if batchID != nil {
		t.BatchID = *batchID
	}
	return t, nil
}

// ListByPair returns a pair's trades, newest first.
func (s *TradeStore) ListByPair(ctx context.Context, pair string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + `
		FROM trades WHERE pair = $1
		ORDER BY executed_at DESC
		LIMIT $2 OFFSET $3`

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query, pair, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", pair, err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// ListBefore returns trades executed before the cutoff, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + `
		FROM trades WHERE executed_at < $1
		ORDER BY executed_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before, err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

func collectTrades(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate trades: %w", err)
	}
	return trades, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
