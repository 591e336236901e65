package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeforge/indexcore/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementSelectCols = `id, order_id, pair, side, amount_units,
	limit_ticks, priority, retry_count, max_retries, status,
	tx_hash, block_number, gas_used, error, created_at, completed_at`

func scanSettlement(scanner interface{ Scan(dest ...any) error }) (domain.SettlementRequest, error) {
	var req domain.SettlementRequest
	var side, priority, status string
	var txHash, errMsg *string
	var blockNumber, gasUsed *int64

	err := scanner.Scan(
		&req.ID, &req.OrderID, &req.Pair, &side, &req.AmountUnits,
		&req.LimitTicks, &priority, &req.RetryCount, &req.MaxRetries, &status,
		&txHash, &blockNumber, &gasUsed, &errMsg,
		&req.CreatedAt, &req.CompletedAt,
	)
	if err != nil {
		return domain.SettlementRequest{}, err
	}

	req.Side = domain.OrderSide(side)
	req.Priority = domain.SettlementPriority(priority)
	req.Status = domain.SettlementState(status)
	if txHash != nil {
		req.TxHash = *txHash
	}
	if blockNumber != nil {
		req.BlockNumber = uint64(*blockNumber)
	}
	if gasUsed != nil {
		req.GasUsed = uint64(*gasUsed)
	}
	if errMsg != nil {
		req.Error = *errMsg
	}
	return req, nil
}

// Create inserts a new settlement request.
func (s *SettlementStore) Create(ctx context.Context, req domain.SettlementRequest) error {
	const query = `
		INSERT INTO settlements (
			id, order_id, pair, side, amount_units,
			limit_ticks, priority, retry_count, max_retries, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		req.ID, req.OrderID, req.Pair, string(req.Side), req.AmountUnits,
		req.LimitTicks, string(req.Priority), req.RetryCount, req.MaxRetries,
		string(req.Status), req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create settlement %s: %w", req.ID, err)
	}
	return nil
}

// Update persists the request's current state, typically the terminal one.
func (s *SettlementStore) Update(ctx context.Context, req domain.SettlementRequest) error {
	const query = `
		UPDATE settlements SET
			priority = $2, retry_count = $3, status = $4,
			tx_hash = NULLIF($5, ''), block_number = $6, gas_used = $7,
			error = NULLIF($8, ''), completed_at = $9, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		req.ID, string(req.Priority), req.RetryCount, string(req.Status),
		req.TxHash, int64(req.BlockNumber), int64(req.GasUsed),
		req.Error, req.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update settlement %s: %w", req.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get returns one settlement request by id.
func (s *SettlementStore) Get(ctx context.Context, id string) (domain.SettlementRequest, error) {
	query := `SELECT ` + settlementSelectCols + ` FROM settlements WHERE id = $1`

	req, err := scanSettlement(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SettlementRequest{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SettlementRequest{}, fmt.Errorf("postgres: get settlement %s: %w", id, err)
	}
	return req, nil
}

// ListTerminalBefore returns completed and failed settlements that finished
// before the cutoff, oldest first. The archiver drains these.
func (s *SettlementStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.SettlementRequest, error) {
	query := `SELECT ` + settlementSelectCols + `
		FROM settlements
		WHERE status IN ('completed', 'failed') AND completed_at < $1
		ORDER BY completed_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal settlements before %s: %w", before, err)
	}
	defer rows.Close()

	var reqs []domain.SettlementRequest
	for rows.Next() {
		req, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate settlements: %w", err)
	}
	return reqs, nil
}

// Compile-time interface check.
var _ domain.SettlementStore = (*SettlementStore)(nil)
