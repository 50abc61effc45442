package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
)

// OpenPosition creates caller's empty position in market.
func (e *Engine) OpenPosition(ctx context.Context, caller common.Address, market common.Hash) (domain.Position, error) {
	posAddr := address.Position(caller, market)

	var out domain.Position
	err := e.ledger.Atomic(ctx, keys(market, posAddr), func(tx domain.LedgerTx) error {
		if _, err := tx.Market(ctx, market); err != nil {
			return err
		}

		_, err := tx.Position(ctx, posAddr)
		switch {
		case err == nil:
			return domain.ErrAlreadyExists
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		now := e.clock.Now()
		out = domain.Position{
			Address:   posAddr,
			Authority: caller,
			Market:    market,
			Status:    domain.PositionStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.PutPosition(ctx, out)
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: open position: %w", err)
	}
	return out, nil
}

// loadPosition reads caller's position in market and checks ownership.
func loadPosition(ctx context.Context, tx domain.LedgerTx, caller common.Address, market common.Hash) (domain.Position, error) {
	pos, err := tx.Position(ctx, address.Position(caller, market))
	if err != nil {
		return domain.Position{}, err
	}
	if pos.Authority != caller || pos.Market != market {
		return domain.Position{}, domain.ErrUnauthorized
	}
	return pos, nil
}
