package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Observation is a single price reading for a feed.
type Observation struct {
	FeedID     common.Hash     `json:"feed_id"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// PriceOracle returns the latest observation for a feed.
type PriceOracle interface {
	Observe(ctx context.Context, feedID common.Hash) (Observation, error)
}

// Clock supplies ledger time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
