package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/encorelabs/arbiterd/internal/domain"
	"github.com/redis/go-redis/v9"
)

const disputeTTL = 2 * time.Minute

// DisputeCache implements domain.DisputeCache using Redis hashes with
// JSON-serialized dispute snapshots.
//
// Key schema:
//
//	dispute:{id} - hash with field "data" containing JSON
//
// The cache holds read snapshots for the API layer only; the state machine
// never reads from it, so a stale entry can never influence a transition.
type DisputeCache struct {
	rdb *redis.Client
}

// NewDisputeCache creates a DisputeCache backed by the given Client.
func NewDisputeCache(c *Client) *DisputeCache {
	return &DisputeCache{rdb: c.Underlying()}
}

func disputeKey(id uint64) string {
	return "dispute:" + strconv.FormatUint(id, 10)
}

// Set stores a dispute snapshot with a short TTL.
func (dc *DisputeCache) Set(ctx context.Context, d domain.Dispute) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("redis: marshal dispute %d: %w", d.ID, err)
	}

	key := disputeKey(d.ID)
	pipe := dc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, disputeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set dispute %d: %w", d.ID, err)
	}
	return nil
}

// Get retrieves a dispute snapshot by id. It returns domain.ErrNotFound when
// the key does not exist.
func (dc *DisputeCache) Get(ctx context.Context, id uint64) (domain.Dispute, error) {
	data, err := dc.rdb.HGet(ctx, disputeKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Dispute{}, domain.ErrNotFound
		}
		return domain.Dispute{}, fmt.Errorf("redis: get dispute %d: %w", id, err)
	}

	var d domain.Dispute
	if err := json.Unmarshal(data, &d); err != nil {
		return domain.Dispute{}, fmt.Errorf("redis: unmarshal dispute %d: %w", id, err)
	}
	return d, nil
}

// Invalidate removes a dispute snapshot after a state transition.
func (dc *DisputeCache) Invalidate(ctx context.Context, id uint64) error {
	if err := dc.rdb.Del(ctx, disputeKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate dispute %d: %w", id, err)
	}
	return nil
}

var _ domain.DisputeCache = (*DisputeCache)(nil)
