package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
)

// CreateMarket registers a market identified by its price feed and deadline.
// Only the config authority may create markets.
func (e *Engine) CreateMarket(ctx context.Context, caller common.Address, p domain.MarketParams) (domain.Market, error) {
	// The title is stored as given; blank titles are rejected.
	if strings.TrimSpace(p.Title) == "" || len(p.Title) > MaxTitleLen {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", domain.ErrInvalidTitle)
	}

	cfgAddr := address.Config()
	mktAddr := address.Market(p.PriceFeedID, p.ResolveTs)

	var out domain.Market
	err := e.ledger.Atomic(ctx, keys(cfgAddr, mktAddr), func(tx domain.LedgerTx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		if cfg.Authority != caller {
			return domain.ErrUnauthorized
		}

		now := e.clock.Now()
		if p.ResolveTs <= now.Unix() {
			return domain.ErrInvalidDeadline
		}

		_, err = tx.Market(ctx, mktAddr)
		switch {
		case err == nil:
			return domain.ErrAlreadyExists
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		escrow, err := ensureAccount(ctx, tx, mktAddr, cfg.ValueUnit)
		if err != nil {
			return err
		}

		out = domain.Market{
			Address:     mktAddr,
			Authority:   caller,
			PriceFeedID: p.PriceFeedID,
			ResolveTs:   p.ResolveTs,
			TargetPrice: p.TargetPrice,
			Title:       p.Title,
			ValueUnit:   cfg.ValueUnit,
			Escrow:      escrow,
			State:       domain.MarketStateOpen,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.PutMarket(ctx, out)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", err)
	}
	return out, nil
}
