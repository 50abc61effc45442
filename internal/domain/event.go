package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Bus channels events are published on.
const (
	ChannelConfig      = "config"
	ChannelMarkets     = "markets"
	ChannelPositions   = "positions"
	ChannelTrades      = "trades"
	ChannelSettlements = "settlements"
	ChannelClaims      = "claims"
)

// EventType names a state change.
type EventType string

const (
	EventConfigInitialized EventType = "config_initialized"
	EventFeeUpdated        EventType = "fee_updated"
	EventMarketCreated     EventType = "market_created"
	EventPositionOpened    EventType = "position_opened"
	EventSharesTraded      EventType = "shares_traded"
	EventMarketSettled     EventType = "market_settled"
	EventWinningsClaimed   EventType = "winnings_claimed"
	EventDeposit           EventType = "deposit"
)

// Event is the envelope published to the bus and streamed to websocket
// clients.
type Event struct {
	ID     string          `json:"id"`
	Type   EventType       `json:"type"`
	Market *common.Hash    `json:"market,omitempty"`
	At     time.Time       `json:"at"`
	Data   json.RawMessage `json:"data"`
}
