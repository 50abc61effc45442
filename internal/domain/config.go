package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxFeeBps is one whole in basis points.
const MaxFeeBps = 10_000

// Config is the protocol-wide singleton. It owns the treasury escrow account
// that collects trading fees.
type Config struct {
	Address   common.Hash    `json:"address"`
	Authority common.Address `json:"authority"`
	ValueUnit common.Address `json:"value_unit"`
	Decimals  uint8          `json:"decimals"`
	FeeBps    uint16         `json:"fee_bps"`
	Treasury  common.Hash    `json:"treasury"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
