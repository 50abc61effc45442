// Package keeper settles markets whose deadline has passed. It acts as the
// config authority and runs on a fixed interval.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/ChiefWoods/prediction/internal/domain"
	"github.com/ChiefWoods/prediction/internal/metrics"
)

// Settler is the subset of the prediction service the keeper drives.
type Settler interface {
	ListMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error)
	SettleMarket(ctx context.Context, caller common.Address, market common.Hash) (domain.Settlement, error)
}

// Config tunes a Keeper.
type Config struct {
	Interval    time.Duration
	LockTTL     time.Duration
	Concurrency int
	BatchSize   int
}

// SweepResult counts the outcome of one sweep.
type SweepResult struct {
	Due     int
	Settled int
	Skipped int
	Failed  int
}

// Keeper periodically settles due markets. Each attempt holds a per-market
// lock so that several keepers can share one ledger.
type Keeper struct {
	settler   Settler
	locks     domain.LockManager
	authority common.Address
	cfg       Config
	metrics   *metrics.Metrics
	clock     domain.Clock
	logger    *slog.Logger
}

// New creates a Keeper that settles as authority.
func New(
	settler Settler,
	locks domain.LockManager,
	authority common.Address,
	cfg Config,
	m *metrics.Metrics,
	clock domain.Clock,
	logger *slog.Logger,
) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Keeper{
		settler:   settler,
		locks:     locks,
		authority: authority,
		cfg:       cfg,
		metrics:   m,
		clock:     clock,
		logger:    logger.With(slog.String("component", "keeper")),
	}
}

// Run sweeps once immediately and then every interval until ctx ends.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper started",
		slog.String("authority", k.authority.Hex()),
		slog.Duration("interval", k.cfg.Interval),
	)
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := k.Sweep(ctx); err != nil && ctx.Err() == nil {
			k.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep attempts to settle every open market whose deadline has passed.
// Individual settlement failures are counted, not returned.
func (k *Keeper) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		res                      SweepResult
		settled, skipped, failed atomic.Int64
	)
	now := k.clock.Now()
	open := domain.MarketStateOpen
	offset := 0

	for {
		page, err := k.settler.ListMarkets(ctx, domain.MarketFilter{
			State:          &open,
			ResolvedBefore: &now,
			ListOpts:       domain.ListOpts{Limit: k.cfg.BatchSize, Offset: offset},
		})
		if err != nil {
			return res, err
		}
		res.Due += len(page)

		before := settled.Load()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(k.cfg.Concurrency)
		for _, m := range page {
			g.Go(func() error {
				switch k.settle(gctx, m.Address) {
				case outcomeSettled:
					settled.Add(1)
				case outcomeSkipped:
					skipped.Add(1)
				default:
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(page) < k.cfg.BatchSize || ctx.Err() != nil {
			break
		}
		// Settled markets leave the open filter; the rest stay in place.
		offset += len(page) - int(settled.Load()-before)
	}

	res.Settled = int(settled.Load())
	res.Skipped = int(skipped.Load())
	res.Failed = int(failed.Load())
	k.metrics.RecordKeeperSweep(k.clock.Now())
	if res.Due > 0 {
		k.logger.InfoContext(ctx, "sweep complete",
			slog.Int("due", res.Due),
			slog.Int("settled", res.Settled),
			slog.Int("skipped", res.Skipped),
			slog.Int("failed", res.Failed),
		)
	}
	return res, ctx.Err()
}

type outcome int

const (
	outcomeSettled outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (k *Keeper) settle(ctx context.Context, market common.Hash) outcome {
	unlock, err := k.locks.Acquire(ctx, "settle:"+market.Hex(), k.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		k.metrics.RecordKeeperAttempt("lock_held")
		return outcomeSkipped
	}
	if err != nil {
		k.metrics.RecordKeeperAttempt("lock_error")
		k.logger.WarnContext(ctx, "acquire settle lock", slog.String("market", market.Hex()), slog.String("error", err.Error()))
		return outcomeFailed
	}
	defer unlock()

	st, err := k.settler.SettleMarket(ctx, k.authority, market)
	switch {
	case err == nil:
		k.metrics.RecordKeeperAttempt("ok")
		k.logger.InfoContext(ctx, "market settled",
			slog.String("market", market.Hex()),
			slog.String("state", string(st.State)),
		)
		return outcomeSettled
	case errors.Is(err, domain.ErrMarketAlreadySettled):
		k.metrics.RecordKeeperAttempt(domain.ErrorCode(err))
		return outcomeSkipped
	default:
		k.metrics.RecordKeeperAttempt(domain.ErrorCode(err))
		k.logger.WarnContext(ctx, "settle market failed",
			slog.String("market", market.Hex()),
			slog.String("code", domain.ErrorCode(err)),
			slog.String("error", err.Error()),
		)
		return outcomeFailed
	}
}
