package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradeforge/indexcore/internal/domain"
)

// BatchSource supplies executed batch-auction outcomes for archival. The
// batch engine keeps outcomes in memory until they are drained here.
type BatchSource interface {
	DrainExecuted(before time.Time) []domain.BatchOutcome
}

// ArchiveImpl implements domain.Archiver: aged orders, trades, settlements,
// and batch outcomes are serialized to JSONL and uploaded to cold storage.
//
// Archived rows stay in the primary store; pruning is a separate step that
// runs after the archive is verified.
type ArchiveImpl struct {
	writer      domain.BlobWriter
	orders      domain.OrderStore
	trades      domain.TradeStore
	settlements domain.SettlementStore
	batches     BatchSource // may be nil
	audit       domain.AuditStore
	logger      *slog.Logger
}

// NewArchiver creates a new ArchiveImpl. batches may be nil when the process
// hosts no batch engine.
func NewArchiver(
	writer domain.BlobWriter,
	orders domain.OrderStore,
	trades domain.TradeStore,
	settlements domain.SettlementStore,
	batches BatchSource,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		orders:      orders,
		trades:      trades,
		settlements: settlements,
		batches:     batches,
		audit:       audit,
		logger:      logger.With(slog.String("component", "archiver")),
	}
}

// Archive uploads every aged record class and returns the per-class counts.
// Classes are independent: a failure in one is reported but does not stop
// the others.
func (a *ArchiveImpl) Archive(ctx context.Context, before time.Time) (domain.ArchiveReport, error) {
	var report domain.ArchiveReport
	var firstErr error

	record := func(class string, count int, key string, err error) {
		if err != nil {
			a.logger.ErrorContext(ctx, "archive class failed",
				slog.String("class", class),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("s3blob: archive %s: %w", class, err)
			}
			return
		}
		if key != "" {
			report.Keys = append(report.Keys, key)
		}
		switch class {
		case "orders":
			report.Orders = count
		case "trades":
			report.Trades = count
		case "settlements":
			report.Settlements = count
		case "batches":
			report.Batches = count
		}
	}

	if orders, err := a.orders.ListBefore(ctx, before); err != nil {
		record("orders", 0, "", err)
	} else {
		key, err := uploadClass(ctx, a.writer, "orders", before, orders)
		record("orders", len(orders), key, err)
	}

	if trades, err := a.trades.ListBefore(ctx, before); err != nil {
		record("trades", 0, "", err)
	} else {
		key, err := uploadClass(ctx, a.writer, "trades", before, trades)
		record("trades", len(trades), key, err)
	}

	if settlements, err := a.settlements.ListTerminalBefore(ctx, before); err != nil {
		record("settlements", 0, "", err)
	} else {
		key, err := uploadClass(ctx, a.writer, "settlements", before, settlements)
		record("settlements", len(settlements), key, err)
	}

	if a.batches != nil {
		outcomes := a.batches.DrainExecuted(before)
		key, err := uploadClass(ctx, a.writer, "batches", before, outcomes)
		record("batches", len(outcomes), key, err)
	}

	if aerr := a.audit.Append(ctx, domain.AuditEntry{
		Actor:   "archiver",
		Action:  "archive.run",
		Subject: before.Format(time.RFC3339),
		Detail: map[string]any{
			"orders":      report.Orders,
			"trades":      report.Trades,
			"settlements": report.Settlements,
			"batches":     report.Batches,
			"keys":        report.Keys,
		},
	}); aerr != nil && firstErr == nil {
		firstErr = fmt.Errorf("s3blob: archive audit: %w", aerr)
	}

	return report, firstErr
}

// uploadClass serializes records as JSONL and writes them under a month-
// partitioned key. Empty classes upload nothing and return no key.
func uploadClass[T any](ctx context.Context, writer domain.BlobWriter, class string, before time.Time, records []T) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", err
	}

	key := archiveKey(class, before)
	if err := writer.Write(ctx, key, buf, "application/x-ndjson"); err != nil {
		return "", err
	}
	return key, nil
}

// archiveKey builds the cold-storage key, partitioned by the cutoff month.
//
//	archive/trades/2026-08.jsonl
func archiveKey(class string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", class, before.Format("2006-01"))
}

// marshalJSONL serializes a slice as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
