package domain

import (
	"math/bits"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PositionStatus tracks whether a position has redeemed its winnings.
type PositionStatus string

const (
	PositionStatusActive  PositionStatus = "active"
	PositionStatusClaimed PositionStatus = "claimed"
)

// Position holds one user's pass and fail shares in one market.
type Position struct {
	Address    common.Hash    `json:"address"`
	Authority  common.Address `json:"authority"`
	Market     common.Hash    `json:"market"`
	PassShares uint64         `json:"pass_shares"`
	FailShares uint64         `json:"fail_shares"`
	Status     PositionStatus `json:"status"`
	Payout     uint64         `json:"payout"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Claimed reports whether the position has already been paid out.
func (p Position) Claimed() bool {
	return p.Status == PositionStatusClaimed
}

// WinningShares returns the shares that redeem against a market settled in
// state s.
func (p Position) WinningShares(s MarketState) (uint64, error) {
	return winningShares(s, p.PassShares, p.FailShares)
}

func winningShares(s MarketState, pass, fail uint64) (uint64, error) {
	switch s {
	case MarketStatePassed:
		return pass, nil
	case MarketStateFailed:
		return fail, nil
	case MarketStateUndecided:
		sum, carry := bits.Add64(pass, fail, 0)
		if carry != 0 {
			return 0, ErrOverflow
		}
		return sum, nil
	default:
		return 0, nil
	}
}

// ClaimReceipt describes a completed redemption.
type ClaimReceipt struct {
	Market        common.Hash    `json:"market"`
	Position      common.Hash    `json:"position"`
	Authority     common.Address `json:"authority"`
	State         MarketState    `json:"state"`
	WinningShares uint64         `json:"winning_shares"`
	Payout        uint64         `json:"payout"`
	At            time.Time      `json:"at"`
}
