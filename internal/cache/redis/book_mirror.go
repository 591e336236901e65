package redis

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeforge/indexcore/internal/domain"
)

//go:embed scripts/book_apply.lua
var bookApplyLua string

// BookMirror implements domain.BookMirror over Redis sorted sets and hashes.
// The mirror is read-optimized state for API snapshots; the in-memory book
// stays authoritative and pushes touched levels after every match cycle.
//
// Key schema:
//
//	mirror:{pair}:bids    - sorted set of bid prices (score = ticks)
//	mirror:{pair}:asks    - sorted set of ask prices (score = ticks)
//	mirror:{pair}:bid:lvl - hash price -> "amountUnits|orderCount"
//	mirror:{pair}:ask:lvl - hash price -> "amountUnits|orderCount"
//	mirror:{pair}:bbo     - hash with "bid", "ask", "ts"
type BookMirror struct {
	rdb       *redis.Client
	bookApply *redis.Script
}

// NewBookMirror creates a BookMirror backed by the given Client.
func NewBookMirror(c *Client) *BookMirror {
	return &BookMirror{
		rdb:       c.Underlying(),
		bookApply: redis.NewScript(bookApplyLua),
	}
}

func mirrorBidsKey(pair string) string { return "mirror:" + pair + ":bids" }
func mirrorAsksKey(pair string) string { return "mirror:" + pair + ":asks" }
func mirrorBidLvlKey(pair string) string { return "mirror:" + pair + ":bid:lvl" }
func mirrorAskLvlKey(pair string) string { return "mirror:" + pair + ":ask:lvl" }
func mirrorBBOKey(pair string) string { return "mirror:" + pair + ":bbo" }

// ApplyLevels atomically applies per-price level updates for both sides. A
// level with zero AmountUnits is removed. Each side is one script call, so a
// reader never observes a half-applied side.
func (m *BookMirror) ApplyLevels(ctx context.Context, pair string, bids, asks []domain.PriceLevel) error {
	if err := m.applySide(ctx, mirrorBidsKey(pair), mirrorBidLvlKey(pair), bids); err != nil {
		return fmt.Errorf("redis: apply bid levels %s: %w", pair, err)
	}
	if err := m.applySide(ctx, mirrorAsksKey(pair), mirrorAskLvlKey(pair), asks); err != nil {
		return fmt.Errorf("redis: apply ask levels %s: %w", pair, err)
	}
	return nil
}

func (m *BookMirror) applySide(ctx context.Context, zKey, lvlKey string, levels []domain.PriceLevel) error {
	if len(levels) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(levels)*3)
	for _, lvl := range levels {
		args = append(args, lvl.PriceTicks, lvl.AmountUnits, lvl.OrderCount)
	}
	return m.bookApply.Run(ctx, m.rdb, []string{zKey, lvlKey}, args...).Err()
}

// SetBest writes the best bid and ask. A zero tick clears that side's best.
// SetBest also serves as the liveness probe for the degraded-mode breaker.
func (m *BookMirror) SetBest(ctx context.Context, pair string, bidTicks, askTicks int64) error {
	vals := map[string]interface{}{
		"bid": strconv.FormatInt(bidTicks, 10),
		"ask": strconv.FormatInt(askTicks, 10),
		"ts":  strconv.FormatInt(time.Now().UnixNano(), 10),
	}
	if err := m.rdb.HSet(ctx, mirrorBBOKey(pair), vals).Err(); err != nil {
		return fmt.Errorf("redis: set best %s: %w", pair, err)
	}
	return nil
}

// ReadSnapshot reconstructs a depth-limited snapshot from the mirror. It
// returns domain.ErrNotFound when the pair has never been mirrored.
func (m *BookMirror) ReadSnapshot(ctx context.Context, pair string, depth int) (domain.BookSnapshot, error) {
	if depth <= 0 {
		depth = 50
	}
	stop := int64(depth - 1)

	pipe := m.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, mirrorBidsKey(pair), 0, stop)
	asksCmd := pipe.ZRangeWithScores(ctx, mirrorAsksKey(pair), 0, stop)
	bidLvlCmd := pipe.HGetAll(ctx, mirrorBidLvlKey(pair))
	askLvlCmd := pipe.HGetAll(ctx, mirrorAskLvlKey(pair))
	bboCmd := pipe.HGetAll(ctx, mirrorBBOKey(pair))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: read snapshot %s: %w", pair, err)
	}

	bbo, _ := bboCmd.Result()
	if len(bbo) == 0 {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}

	snap := domain.BookSnapshot{Pair: pair}
	if tsStr, ok := bbo["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			snap.Timestamp = time.Unix(0, tsNano).UTC()
		}
	}

	bidLvls, _ := bidLvlCmd.Result()
	bidsZ, _ := bidsCmd.Result()
	snap.Bids = buildLevels(bidsZ, bidLvls)

	askLvls, _ := askLvlCmd.Result()
	asksZ, _ := asksCmd.Result()
	snap.Asks = buildLevels(asksZ, askLvls)

	return snap, nil
}

// buildLevels joins sorted-set prices with the level hash.
func buildLevels(zs []redis.Z, lvls map[string]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		priceStr, ok := z.Member.(string)
		if !ok {
			continue
		}
		ticks, err := strconv.ParseInt(priceStr, 10, 64)
		if err != nil {
			continue
		}
		lvl := domain.PriceLevel{PriceTicks: ticks}
		if enc, exists := lvls[priceStr]; exists {
			lvl.AmountUnits, lvl.OrderCount = decodeLevel(enc)
		}
		out = append(out, lvl)
	}
	return out
}

// decodeLevel parses the "amountUnits|orderCount" hash encoding.
func decodeLevel(enc string) (int64, int) {
	var amount int64
	var count int
	_, _ = fmt.Sscanf(enc, "%d|%d", &amount, &count)
	return amount, count
}

// Compile-time interface check.
var _ domain.BookMirror = (*BookMirror)(nil)
