package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeforge/indexcore/internal/domain"
)

// MutationStore implements domain.MutationStore. A whole batch of match
// cycles lands in one transaction, so the durable state always reflects a
// prefix of the book's history, never a partial cycle.
type MutationStore struct {
	pool *pgxpool.Pool
}

// NewMutationStore creates a MutationStore backed by the given pool.
func NewMutationStore(pool *pgxpool.Pool) *MutationStore {
	return &MutationStore{pool: pool}
}

// FlushMutations persists the batch. Order remainders are recomputed from
// the trade rows rather than trusted from the caller; the trades are the
// facts and the remainders follow from them.
func (s *MutationStore) FlushMutations(ctx context.Context, ms []domain.BookMutation) error {
	if len(ms) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin mutation flush: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range ms {
		if err := s.applyMutation(ctx, tx, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit mutation flush: %w", err)
	}
	return nil
}

func (s *MutationStore) applyMutation(ctx context.Context, tx pgx.Tx, m domain.BookMutation) error {
	const insertOrder = `
		INSERT INTO orders (
			id, user_id, pair, side, order_type,
			price_ticks, amount_units, remaining_units, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	for _, o := range m.NewOrders {
		_, err := tx.Exec(ctx, insertOrder,
			o.ID, o.UserID, o.Pair,
			string(o.Side), string(o.Type),
			o.PriceTicks, o.AmountUnits, o.AmountUnits,
			string(domain.OrderStatusOpen), o.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert order %s: %w", o.ID, err)
		}
	}

	const insertTrade = `
		INSERT INTO trades (
			id, pair, buy_order_id, sell_order_id,
			price_ticks, amount_units, executed_at, settlement, batch_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	// Fills decrement both sides' remainders; status follows the remainder.
	const applyFill = `
		UPDATE orders SET
			remaining_units = GREATEST(remaining_units - $2, 0),
			status = CASE
				WHEN remaining_units - $2 <= 0 THEN 'filled'
				ELSE 'partial'
			END,
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('cancelled', 'rejected')`

	for _, t := range m.Trades {
		var batchID *string
		if t.BatchID != "" {
			batchID = &t.BatchID
		}
		_, err := tx.Exec(ctx, insertTrade,
			t.ID, t.Pair, t.BuyOrderID, t.SellOrderID,
			t.PriceTicks, t.AmountUnits, t.Timestamp,
			string(t.Settlement), batchID,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
		}

		for _, orderID := range []string{t.BuyOrderID, t.SellOrderID} {
			if orderID == "" {
				continue
			}
			if _, err := tx.Exec(ctx, applyFill, orderID, t.AmountUnits); err != nil {
				return fmt.Errorf("postgres: apply fill to order %s: %w", orderID, err)
			}
		}
	}

	const applyCancel = `
		UPDATE orders SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('open', 'partial')`

	for _, id := range m.Cancels {
		if _, err := tx.Exec(ctx, applyCancel, id); err != nil {
			return fmt.Errorf("postgres: cancel order %s: %w", id, err)
		}
	}

	return nil
}

// Compile-time interface check.
var _ domain.MutationStore = (*MutationStore)(nil)
