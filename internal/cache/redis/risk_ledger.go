package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeforge/indexcore/internal/domain"
)

// riskScoreTTL decays scores by expiry: a user who stops tripping the
// detectors for this long starts clean.
const riskScoreTTL = 24 * time.Hour

// RiskLedger implements domain.RiskLedger with per-user counters.
type RiskLedger struct {
	rdb *redis.Client
}

// NewRiskLedger creates a RiskLedger backed by the given Client.
func NewRiskLedger(c *Client) *RiskLedger {
	return &RiskLedger{rdb: c.Underlying()}
}

func riskKey(userID string) string {
	return "risk:" + userID
}

// AddScore increments the user's risk score and returns the new total. Each
// increment refreshes the decay TTL.
func (r *RiskLedger) AddScore(ctx context.Context, userID string, delta int64) (int64, error) {
	key := riskKey(userID)
	pipe := r.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	pipe.Expire(ctx, key, riskScoreTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: add risk score %s: %w", userID, err)
	}
	return incr.Val(), nil
}

// Score reads the user's current risk score. Unknown users score zero.
func (r *RiskLedger) Score(ctx context.Context, userID string) (int64, error) {
	val, err := r.rdb.Get(ctx, riskKey(userID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get risk score %s: %w", userID, err)
	}
	score, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse risk score %s: %w", userID, err)
	}
	return score, nil
}

// Compile-time interface check.
var _ domain.RiskLedger = (*RiskLedger)(nil)
