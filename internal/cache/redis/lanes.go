package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeforge/indexcore/internal/domain"
)

// statusTTL keeps polled statuses around long enough for clients to see
// terminal outcomes; the durable store is the long-term record.
const statusTTL = 24 * time.Hour

// SettlementLanes implements domain.SettlementLanes with one Redis list per
// priority lane and a per-request status key.
//
// Key schema:
//
//	settle:lane:{priority} - list of JSON-encoded requests (LPUSH/RPOP)
//	settle:status:{id}     - JSON-encoded SettlementStatus with a TTL
type SettlementLanes struct {
	rdb *redis.Client
}

// NewSettlementLanes creates a SettlementLanes backed by the given Client.
func NewSettlementLanes(c *Client) *SettlementLanes {
	return &SettlementLanes{rdb: c.Underlying()}
}

func laneKey(p domain.SettlementPriority) string {
	return "settle:lane:" + string(p)
}

func statusKey(id string) string {
	return "settle:status:" + id
}

// Enqueue appends the request to the tail of its priority lane.
func (l *SettlementLanes) Enqueue(ctx context.Context, req domain.SettlementRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("redis: encode settlement %s: %w", req.ID, err)
	}
	if err := l.rdb.LPush(ctx, laneKey(req.Priority), data).Err(); err != nil {
		return fmt.Errorf("redis: enqueue settlement %s: %w", req.ID, err)
	}
	return nil
}

// PopHighest claims one request from the most urgent non-empty lane. It
// returns domain.ErrNotFound when every lane is empty.
func (l *SettlementLanes) PopHighest(ctx context.Context) (domain.SettlementRequest, error) {
	for _, p := range domain.Lanes {
		data, err := l.rdb.RPop(ctx, laneKey(p)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return domain.SettlementRequest{}, fmt.Errorf("redis: pop lane %s: %w", p, err)
		}
		var req domain.SettlementRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return domain.SettlementRequest{}, fmt.Errorf("redis: decode settlement from lane %s: %w", p, err)
		}
		return req, nil
	}
	return domain.SettlementRequest{}, domain.ErrNotFound
}

// SetStatus writes the polling view of a request.
func (l *SettlementLanes) SetStatus(ctx context.Context, st domain.SettlementStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redis: encode status %s: %w", st.ID, err)
	}
	if err := l.rdb.Set(ctx, statusKey(st.ID), data, statusTTL).Err(); err != nil {
		return fmt.Errorf("redis: set status %s: %w", st.ID, err)
	}
	return nil
}

// GetStatus reads the polling view. It returns domain.ErrNotFound for ids
// that never existed or whose status aged out.
func (l *SettlementLanes) GetStatus(ctx context.Context, id string) (domain.SettlementStatus, error) {
	data, err := l.rdb.Get(ctx, statusKey(id)).Bytes()
	if err == redis.Nil {
		return domain.SettlementStatus{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SettlementStatus{}, fmt.Errorf("redis: get status %s: %w", id, err)
	}
	var st domain.SettlementStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.SettlementStatus{}, fmt.Errorf("redis: decode status %s: %w", id, err)
	}
	return st, nil
}

// Compile-time interface check.
var _ domain.SettlementLanes = (*SettlementLanes)(nil)
