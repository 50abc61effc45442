// Package oracle composes price sources for settlement: a static source for
// development, a cache-backed source, write-through caching and an ordered
// fallback chain.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ChiefWoods/prediction/internal/domain"
)

// Static serves fixed prices stamped with the current clock time.
type Static struct {
	clock domain.Clock

	mu     sync.RWMutex
	prices map[common.Hash]decimal.Decimal
}

// NewStatic creates a Static oracle. A nil clock reads the wall clock.
func NewStatic(clock domain.Clock, prices map[common.Hash]decimal.Decimal) *Static {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	s := &Static{clock: clock, prices: make(map[common.Hash]decimal.Decimal, len(prices))}
	for k, v := range prices {
		s.prices[k] = v
	}
	return s
}

// Set replaces the price of feedID.
func (s *Static) Set(feedID common.Hash, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[feedID] = price
}

// Observe returns the configured price for feedID.
func (s *Static) Observe(_ context.Context, feedID common.Hash) (domain.Observation, error) {
	s.mu.RLock()
	p, ok := s.prices[feedID]
	s.mu.RUnlock()
	if !ok {
		return domain.Observation{}, fmt.Errorf("oracle/static: feed %s: %w", feedID, domain.ErrNotFound)
	}
	return domain.Observation{FeedID: feedID, Price: p, ObservedAt: s.clock.Now()}, nil
}

// Cached reads observations that another process stored in a PriceCache.
type Cached struct {
	cache domain.PriceCache
}

// NewCached wraps cache as a PriceOracle.
func NewCached(cache domain.PriceCache) *Cached {
	return &Cached{cache: cache}
}

// Observe returns the cached observation for feedID.
func (c *Cached) Observe(ctx context.Context, feedID common.Hash) (domain.Observation, error) {
	obs, err := c.cache.GetPrice(ctx, feedID)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("oracle/cached: %w", err)
	}
	return obs, nil
}

// WriteThrough stores every successful observation of source in cache.
type WriteThrough struct {
	source domain.PriceOracle
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewWriteThrough wraps source so that its observations are cached.
func NewWriteThrough(source domain.PriceOracle, cache domain.PriceCache, logger *slog.Logger) *WriteThrough {
	return &WriteThrough{
		source: source,
		cache:  cache,
		logger: logger.With(slog.String("component", "oracle")),
	}
}

// Observe reads from source and caches the result. A cache failure is logged
// and does not fail the observation.
func (w *WriteThrough) Observe(ctx context.Context, feedID common.Hash) (domain.Observation, error) {
	obs, err := w.source.Observe(ctx, feedID)
	if err != nil {
		return domain.Observation{}, err
	}
	if err := w.cache.SetPrice(ctx, obs); err != nil {
		w.logger.WarnContext(ctx, "cache observation failed",
			slog.String("feed_id", feedID.Hex()),
			slog.String("error", err.Error()),
		)
	}
	return obs, nil
}

// Chain tries each oracle in order and returns the first observation.
type Chain []domain.PriceOracle

// Observe returns the first successful observation, or every error joined.
func (c Chain) Observe(ctx context.Context, feedID common.Hash) (domain.Observation, error) {
	if len(c) == 0 {
		return domain.Observation{}, errors.New("oracle: no price sources configured")
	}
	var errs []error
	for _, o := range c {
		obs, err := o.Observe(ctx, feedID)
		if err == nil {
			return obs, nil
		}
		if ctx.Err() != nil {
			return domain.Observation{}, ctx.Err()
		}
		errs = append(errs, err)
	}
	return domain.Observation{}, errors.Join(errs...)
}
