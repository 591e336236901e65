package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeforge/indexcore/internal/domain"
)

// takeLua claims a commitment exactly once: it reads the stored value and
// deletes the key in the same atomic step, so two racing reveals cannot
// both win.
const takeLua = `
local v = redis.call('GET', KEYS[1])
if v then
    redis.call('DEL', KEYS[1])
end
return v
`

// CommitmentStore implements domain.CommitmentStore with per-commitment
// string keys. Expiry is delegated to Redis TTLs, so an unrevealed
// commitment disappears on its own.
type CommitmentStore struct {
	rdb    *redis.Client
	takeSc *redis.Script
}

// NewCommitmentStore creates a CommitmentStore backed by the given Client.
func NewCommitmentStore(c *Client) *CommitmentStore {
	return &CommitmentStore{
		rdb:    c.Underlying(),
		takeSc: redis.NewScript(takeLua),
	}
}

func commitmentKey(id string) string {
	return "commitment:" + id
}

// Put stores a commitment with the given TTL. It returns
// domain.ErrDuplicateCommitment if the id already exists.
func (s *CommitmentStore) Put(ctx context.Context, c domain.Commitment, ttl time.Duration) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redis: encode commitment %s: %w", c.ID, err)
	}
	ok, err := s.rdb.SetNX(ctx, commitmentKey(c.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: put commitment %s: %w", c.ID, err)
	}
	if !ok {
		return domain.ErrDuplicateCommitment
	}
	return nil
}

// Get reads a commitment without consuming it. It returns domain.ErrNotFound
// for unknown or expired ids.
func (s *CommitmentStore) Get(ctx context.Context, id string) (domain.Commitment, error) {
	data, err := s.rdb.Get(ctx, commitmentKey(id)).Bytes()
	if err == redis.Nil {
		return domain.Commitment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Commitment{}, fmt.Errorf("redis: get commitment %s: %w", id, err)
	}
	return decodeCommitment(id, data)
}

// TakeForReveal atomically claims and removes a commitment. Exactly one
// caller succeeds; every later call gets domain.ErrNotFound.
func (s *CommitmentStore) TakeForReveal(ctx context.Context, id string) (domain.Commitment, error) {
	res, err := s.takeSc.Run(ctx, s.rdb, []string{commitmentKey(id)}).Result()
	if err == redis.Nil || res == nil {
		return domain.Commitment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Commitment{}, fmt.Errorf("redis: take commitment %s: %w", id, err)
	}
	raw, ok := res.(string)
	if !ok {
		return domain.Commitment{}, domain.ErrNotFound
	}
	return decodeCommitment(id, []byte(raw))
}

func decodeCommitment(id string, data []byte) (domain.Commitment, error) {
	var c domain.Commitment
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.Commitment{}, fmt.Errorf("redis: decode commitment %s: %w", id, err)
	}
	return c, nil
}

// Compile-time interface check.
var _ domain.CommitmentStore = (*CommitmentStore)(nil)
