package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
)

// InitializeConfig creates the protocol config owned by caller and provisions
// the treasury escrow for unit.
func (e *Engine) InitializeConfig(ctx context.Context, caller, unit common.Address, feeBps uint16) (domain.Config, error) {
	if feeBps > domain.MaxFeeBps {
		return domain.Config{}, fmt.Errorf("engine: initialize config: %w", domain.ErrInvalidFee)
	}

	cfgAddr := address.Config()
	var out domain.Config
	err := e.ledger.Atomic(ctx, keys(cfgAddr), func(tx domain.LedgerTx) error {
		_, err := tx.Config(ctx)
		switch {
		case err == nil:
			return domain.ErrAlreadyInitialized
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		vu, err := tx.Unit(ctx, unit)
		if err != nil {
			return err
		}
		treasury, err := ensureAccount(ctx, tx, cfgAddr, unit)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		out = domain.Config{
			Address:   cfgAddr,
			Authority: caller,
			ValueUnit: unit,
			Decimals:  vu.Decimals,
			FeeBps:    feeBps,
			Treasury:  treasury,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.PutConfig(ctx, out)
	})
	if err != nil {
		return domain.Config{}, fmt.Errorf("engine: initialize config: %w", err)
	}
	return out, nil
}

// UpdateFee changes the fee applied to future trades.
func (e *Engine) UpdateFee(ctx context.Context, caller common.Address, feeBps uint16) (domain.Config, error) {
	if feeBps > domain.MaxFeeBps {
		return domain.Config{}, fmt.Errorf("engine: update fee: %w", domain.ErrInvalidFee)
	}

	var out domain.Config
	err := e.ledger.Atomic(ctx, keys(address.Config()), func(tx domain.LedgerTx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		if cfg.Authority != caller {
			return domain.ErrUnauthorized
		}
		cfg.FeeBps = feeBps
		cfg.UpdatedAt = e.clock.Now()
		out = cfg
		return tx.PutConfig(ctx, cfg)
	})
	if err != nil {
		return domain.Config{}, fmt.Errorf("engine: update fee: %w", err)
	}
	return out, nil
}
