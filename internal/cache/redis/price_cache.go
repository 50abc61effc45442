package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ChiefWoods/prediction/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per feed holding the
// decimal price and the observation time in Unix nanoseconds.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A positive ttl expires entries that
// are not refreshed.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(feedID common.Hash) string {
	return keyPrefix + "price:" + feedID.Hex()
}

// SetPrice stores obs unless the cache already holds a newer observation.
func (pc *PriceCache) SetPrice(ctx context.Context, obs domain.Observation) error {
	key := priceKey(obs.FeedID)
	cur, err := pc.rdb.HGet(ctx, key, "observed_at").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis: set price %s: %w", obs.FeedID.Hex(), err)
	}
	if err == nil {
		if ns, perr := strconv.ParseInt(cur, 10, 64); perr == nil && ns > obs.ObservedAt.UnixNano() {
			return nil
		}
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, encodeObservation(obs))
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", obs.FeedID.Hex(), err)
	}
	return nil
}

// GetPrice returns the cached observation for feedID, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, feedID common.Hash) (domain.Observation, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(feedID)).Result()
	if err != nil {
		return domain.Observation{}, fmt.Errorf("redis: get price %s: %w", feedID.Hex(), err)
	}
	obs, err := decodeObservation(feedID, vals)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("redis: get price %s: %w", feedID.Hex(), err)
	}
	return obs, nil
}

func encodeObservation(obs domain.Observation) map[string]any {
	return map[string]any{
		"price":       obs.Price.String(),
		"observed_at": strconv.FormatInt(obs.ObservedAt.UnixNano(), 10),
	}
}

func decodeObservation(feedID common.Hash, vals map[string]string) (domain.Observation, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.Observation{}, domain.ErrNotFound
	}
	tsStr, ok := vals["observed_at"]
	if !ok {
		return domain.Observation{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("parse price: %w", err)
	}
	ns, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("parse observed_at: %w", err)
	}
	return domain.Observation{FeedID: feedID, Price: price, ObservedAt: time.Unix(0, ns).UTC()}, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
