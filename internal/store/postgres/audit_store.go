package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeforge/indexcore/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. The log is
// append-only; nothing in the system updates or deletes audit rows.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Append writes one audit entry. The detail map is stored as JSONB.
func (s *AuditStore) Append(ctx context.Context, entry domain.AuditEntry) error {
	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	const query = `
		INSERT INTO audit_log (actor, action, subject, detail)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, entry.Actor, entry.Action, entry.Subject, detailJSON); err != nil {
		return fmt.Errorf("postgres: append audit %s/%s: %w", entry.Actor, entry.Action, err)
	}
	return nil
}

// ListByActor returns an actor's audit entries, newest first.
func (s *AuditStore) ListByActor(ctx context.Context, actor string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	const query = `
		SELECT id, actor, action, subject, detail, created_at
		FROM audit_log WHERE actor = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query, actor, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries for %s: %w", actor, err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detailJSON []byte

		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Subject, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate audit entries: %w", err)
	}
	return entries, nil
}

// Compile-time interface check.
var _ domain.AuditStore = (*AuditStore)(nil)
