package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
	"github.com/ChiefWoods/prediction/internal/pricing"
)

// ClaimWinnings pays caller's winning shares their pro-rata slice of the
// market escrow. The slice is taken over the winning shares not yet claimed,
// so every claimer receives the same rate and the last one takes the
// rounding remainder.
func (e *Engine) ClaimWinnings(ctx context.Context, caller common.Address, market common.Hash) (domain.ClaimReceipt, error) {
	posAddr := address.Position(caller, market)

	var out domain.ClaimReceipt
	err := e.ledger.Atomic(ctx, keys(market, posAddr), func(tx domain.LedgerTx) error {
		m, err := tx.Market(ctx, market)
		if err != nil {
			return err
		}
		if !m.State.Settled() {
			return domain.ErrMarketNotSettled
		}
		pos, err := loadPosition(ctx, tx, caller, market)
		if err != nil {
			return err
		}
		if pos.Claimed() {
			return domain.ErrNoClaimableWinnings
		}

		winning, err := pos.WinningShares(m.State)
		if err != nil {
			return err
		}
		if winning == 0 {
			return domain.ErrNoClaimableWinnings
		}
		outstanding, err := m.OutstandingShares(m.State)
		if err != nil {
			return err
		}
		pool, err := tx.BalanceOf(ctx, m.Escrow)
		if err != nil {
			return err
		}
		payout, err := pricing.ProRata(winning, pool, outstanding)
		if err != nil {
			return err
		}

		if err := retireShares(&m, pos); err != nil {
			return err
		}

		wallet, err := ensureAccount(ctx, tx, address.Owner(caller), m.ValueUnit)
		if err != nil {
			return err
		}
		if err := tx.Transfer(ctx, m.Escrow, wallet, payout); err != nil {
			return err
		}

		now := e.clock.Now()
		pos.Status = domain.PositionStatusClaimed
		pos.Payout = payout
		pos.UpdatedAt = now
		m.UpdatedAt = now
		if err := tx.PutPosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}

		out = domain.ClaimReceipt{
			Market:        market,
			Position:      pos.Address,
			Authority:     caller,
			State:         m.State,
			WinningShares: winning,
			Payout:        payout,
			At:            now,
		}
		return nil
	})
	if err != nil {
		return domain.ClaimReceipt{}, fmt.Errorf("engine: claim winnings: %w", err)
	}
	return out, nil
}

// retireShares removes a claimed position's redeemed shares from the market's
// outstanding totals.
func retireShares(m *domain.Market, pos domain.Position) error {
	var err error
	switch m.State {
	case domain.MarketStatePassed:
		m.PassShares, err = pricing.Sub(m.PassShares, pos.PassShares)
	case domain.MarketStateFailed:
		m.FailShares, err = pricing.Sub(m.FailShares, pos.FailShares)
	case domain.MarketStateUndecided:
		if m.PassShares, err = pricing.Sub(m.PassShares, pos.PassShares); err != nil {
			return err
		}
		m.FailShares, err = pricing.Sub(m.FailShares, pos.FailShares)
	}
	return err
}
