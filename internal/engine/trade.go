package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
	"github.com/ChiefWoods/prediction/internal/pricing"
)

// TradeShares buys or sells shares on one side of market at the flat unit
// price. The fee is a cut of the notional price in both directions:
//
//	buy:  caller -> escrow (price-fee), caller -> treasury (fee)
//	sell: escrow -> caller (price-fee), escrow -> treasury (fee)
//
// A sell draws the full price from escrow while a buy only deposits
// price-fee, so a lone trader selling back everything they bought fails
// with domain.ErrUnderflow once escrow cannot cover the price.
func (e *Engine) TradeShares(ctx context.Context, caller common.Address, market common.Hash, req domain.TradeRequest) (domain.TradeReceipt, error) {
	if req.Shares == 0 {
		return domain.TradeReceipt{}, fmt.Errorf("engine: trade shares: %w", domain.ErrInvalidShares)
	}

	cfgAddr := address.Config()
	posAddr := address.Position(caller, market)

	var out domain.TradeReceipt
	err := e.ledger.Atomic(ctx, keys(cfgAddr, market, posAddr), func(tx domain.LedgerTx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		m, err := tx.Market(ctx, market)
		if err != nil {
			return err
		}
		pos, err := loadPosition(ctx, tx, caller, market)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		if m.State != domain.MarketStateOpen || now.Unix() >= m.ResolveTs {
			return domain.ErrMarketNotOpen
		}

		price, err := pricing.UnitPrice(req.Shares, cfg.Decimals)
		if err != nil {
			return err
		}
		fee, net, err := pricing.Split(price, cfg.FeeBps)
		if err != nil {
			return err
		}

		wallet, err := ensureAccount(ctx, tx, address.Owner(caller), m.ValueUnit)
		if err != nil {
			return err
		}

		if req.IsBuy {
			err = buy(ctx, tx, &m, &pos, req, wallet, cfg.Treasury, fee, net)
		} else {
			err = sell(ctx, tx, &m, &pos, req, wallet, cfg.Treasury, price, fee, net)
		}
		if err != nil {
			return err
		}

		m.UpdatedAt = now
		pos.UpdatedAt = now
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		if err := tx.PutPosition(ctx, pos); err != nil {
			return err
		}

		out = domain.TradeReceipt{
			Market:    market,
			Position:  pos.Address,
			Authority: caller,
			Side:      req.Side(),
			Direction: req.Direction(),
			Shares:    req.Shares,
			Price:     price,
			Fee:       fee,
			Net:       net,
			FeeBps:    cfg.FeeBps,
			At:        now,
		}
		return nil
	})
	if err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("engine: trade shares: %w", err)
	}
	return out, nil
}

func buy(ctx context.Context, tx domain.LedgerTx, m *domain.Market, pos *domain.Position, req domain.TradeRequest, wallet, treasury common.Hash, fee, net uint64) error {
	posShares, mktShares := sideCounts(m, pos, req.IsPass)

	newPos, err := pricing.Add(*posShares, req.Shares)
	if err != nil {
		return err
	}
	newMkt, err := pricing.Add(*mktShares, req.Shares)
	if err != nil {
		return err
	}

	if err := tx.Transfer(ctx, wallet, m.Escrow, net); err != nil {
		return err
	}
	if err := tx.Transfer(ctx, wallet, treasury, fee); err != nil {
		return err
	}

	*posShares, *mktShares = newPos, newMkt
	return nil
}

func sell(ctx context.Context, tx domain.LedgerTx, m *domain.Market, pos *domain.Position, req domain.TradeRequest, wallet, treasury common.Hash, price, fee, net uint64) error {
	posShares, mktShares := sideCounts(m, pos, req.IsPass)

	if *posShares < req.Shares {
		return domain.ErrInsufficientSharesToSell
	}
	newPos := *posShares - req.Shares
	newMkt, err := pricing.Sub(*mktShares, req.Shares)
	if err != nil {
		return err
	}

	escrow, err := tx.BalanceOf(ctx, m.Escrow)
	if err != nil {
		return err
	}
	if escrow < price {
		return domain.ErrUnderflow
	}

	if err := tx.Transfer(ctx, m.Escrow, wallet, net); err != nil {
		return err
	}
	if err := tx.Transfer(ctx, m.Escrow, treasury, fee); err != nil {
		return err
	}

	*posShares, *mktShares = newPos, newMkt
	return nil
}

func sideCounts(m *domain.Market, pos *domain.Position, isPass bool) (posShares, mktShares *uint64) {
	if isPass {
		return &pos.PassShares, &m.PassShares
	}
	return &pos.FailShares, &m.FailShares
}
