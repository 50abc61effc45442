package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
)

// SettleMarket moves an open market past its deadline into its terminal
// state: passed when the observed price is at or above the target, failed
// otherwise. Only the config authority may settle.
func (e *Engine) SettleMarket(ctx context.Context, caller common.Address, market common.Hash) (domain.Settlement, error) {
	var out domain.Settlement
	err := e.ledger.Atomic(ctx, keys(address.Config(), market), func(tx domain.LedgerTx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		if cfg.Authority != caller {
			return domain.ErrUnauthorized
		}
		m, err := tx.Market(ctx, market)
		if err != nil {
			return err
		}
		if m.State != domain.MarketStateOpen {
			return domain.ErrMarketAlreadySettled
		}

		now := e.clock.Now()
		if now.Unix() < m.ResolveTs {
			return domain.ErrMarketCannotResolve
		}

		out = domain.Settlement{Market: market, Target: m.TargetPrice, SettledAt: now}

		if e.opts.ResolveWindow > 0 && now.Sub(m.ResolveTime()) > e.opts.ResolveWindow {
			m.State = domain.MarketStateUndecided
		} else {
			obs, err := e.oracle.Observe(ctx, m.PriceFeedID)
			if err != nil {
				return fmt.Errorf("observe %s: %w", m.PriceFeedID, err)
			}
			if age := now.Sub(obs.ObservedAt); e.opts.MaxStaleness > 0 && age > e.opts.MaxStaleness {
				return fmt.Errorf("%w: observed %s ago, limit %s", domain.ErrStalePrice, age, e.opts.MaxStaleness)
			}

			if obs.Price.GreaterThanOrEqual(m.TargetPrice) {
				m.State = domain.MarketStatePassed
			} else {
				m.State = domain.MarketStateFailed
			}
			price, observedAt := obs.Price, obs.ObservedAt
			m.SettledPrice = &price
			m.ObservedAt = &observedAt
			out.Price = &price
			out.ObservedAt = &observedAt
		}

		m.SettledAt = &now
		m.UpdatedAt = now
		out.State = m.State
		return tx.PutMarket(ctx, m)
	})
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("engine: settle market: %w", err)
	}
	return out, nil
}
