package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MarketState is the outcome state of a market. Only open markets accept
// trades; every other state is terminal.
type MarketState string

const (
	MarketStateOpen   MarketState = "open"
	MarketStatePassed MarketState = "passed"
	MarketStateFailed MarketState = "failed"
	// MarketStateUndecided is reached when settlement is attempted after the
	// resolve window has elapsed. Every share is refunded pro-rata.
	MarketStateUndecided MarketState = "undecided"
)

// Settled reports whether s is a terminal state.
func (s MarketState) Settled() bool {
	return s == MarketStatePassed || s == MarketStateFailed || s == MarketStateUndecided
}

// Valid reports whether s is one of the known states.
func (s MarketState) Valid() bool {
	return s == MarketStateOpen || s.Settled()
}

// Market is a single binary-outcome market identified by its price feed and
// deadline.
type Market struct {
	Address     common.Hash     `json:"address"`
	Authority   common.Address  `json:"authority"`
	PriceFeedID common.Hash     `json:"price_feed_id"`
	ResolveTs   int64           `json:"resolve_ts"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Title       string          `json:"title"`
	ValueUnit   common.Address  `json:"value_unit"`
	Escrow      common.Hash     `json:"escrow"`
	PassShares  uint64          `json:"pass_shares"`
	FailShares  uint64          `json:"fail_shares"`
	State       MarketState     `json:"state"`

	SettledPrice *decimal.Decimal `json:"settled_price,omitempty"`
	ObservedAt   *time.Time       `json:"observed_at,omitempty"`
	SettledAt    *time.Time       `json:"settled_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ResolveTime returns the deadline as a time.Time.
func (m Market) ResolveTime() time.Time {
	return time.Unix(m.ResolveTs, 0).UTC()
}

// OutstandingShares returns the market-wide shares that have not yet been
// redeemed against terminal state s.
func (m Market) OutstandingShares(s MarketState) (uint64, error) {
	return winningShares(s, m.PassShares, m.FailShares)
}

// MarketParams are the caller supplied fields of a new market.
type MarketParams struct {
	ResolveTs   int64           `json:"resolve_ts"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Title       string          `json:"title"`
	PriceFeedID common.Hash     `json:"price_feed_id"`
}

// Settlement is the result of settling a market.
type Settlement struct {
	Market     common.Hash      `json:"market"`
	State      MarketState      `json:"state"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Target     decimal.Decimal  `json:"target"`
	ObservedAt *time.Time       `json:"observed_at,omitempty"`
	SettledAt  time.Time        `json:"settled_at"`
}
