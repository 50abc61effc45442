package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side selects the pass or fail outcome.
type Side string

const (
	SidePass Side = "pass"
	SideFail Side = "fail"
)

// Direction is buy or sell.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// TradeRequest is one buy or sell of shares.
type TradeRequest struct {
	Shares uint64 `json:"shares"`
	IsBuy  bool   `json:"is_buy"`
	IsPass bool   `json:"is_pass"`
}

// Side returns the outcome side the request trades.
func (r TradeRequest) Side() Side {
	if r.IsPass {
		return SidePass
	}
	return SideFail
}

// Direction returns buy or sell.
func (r TradeRequest) Direction() Direction {
	if r.IsBuy {
		return DirectionBuy
	}
	return DirectionSell
}

// TradeReceipt records the balance movements of a trade. Price is the
// notional amount, Fee the treasury cut and Net the remainder that moved
// between the caller and the market escrow.
type TradeReceipt struct {
	Market    common.Hash    `json:"market"`
	Position  common.Hash    `json:"position"`
	Authority common.Address `json:"authority"`
	Side      Side           `json:"side"`
	Direction Direction      `json:"direction"`
	Shares    uint64         `json:"shares"`
	Price     uint64         `json:"price"`
	Fee       uint64         `json:"fee"`
	Net       uint64         `json:"net"`
	FeeBps    uint16         `json:"fee_bps"`
	At        time.Time      `json:"at"`
}
