// Package engine implements the market accounting rules: protocol config,
// market creation, positions, trading with fee extraction, oracle settlement
// and pro-rata redemption. Every operation runs inside one
// domain.Ledger.Atomic call and either commits all of its effects or none.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
)

// MaxTitleLen bounds a market title in bytes.
const MaxTitleLen = 256

// Options tune settlement.
type Options struct {
	// MaxStaleness rejects observations older than this at settlement.
	// Zero trusts any observation.
	MaxStaleness time.Duration
	// ResolveWindow is how long after the deadline a market may still settle
	// against the oracle. Later settlements mark the market undecided. Zero
	// disables the window.
	ResolveWindow time.Duration
}

// Engine executes operations against a shared ledger.
type Engine struct {
	ledger domain.Ledger
	oracle domain.PriceOracle
	clock  domain.Clock
	opts   Options
}

// New creates an Engine. A nil clock reads the wall clock.
func New(ledger domain.Ledger, oracle domain.PriceOracle, clock domain.Clock, opts Options) *Engine {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Engine{
		ledger: ledger,
		oracle: oracle,
		clock:  clock,
		opts:   opts,
	}
}

// Options returns the settlement options in force.
func (e *Engine) Options() Options {
	return e.opts
}

// ensureAccount creates owner's account for unit unless it already exists
// and returns its address.
func ensureAccount(ctx context.Context, tx domain.LedgerTx, owner common.Hash, unit common.Address) (common.Hash, error) {
	if _, err := tx.CreateAccount(ctx, owner, unit); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return common.Hash{}, err
	}
	return address.Account(owner, unit), nil
}

func keys(k ...common.Hash) []common.Hash { return k }
