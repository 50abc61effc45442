package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ValueUnit is a denomination known to the value ledger.
type ValueUnit struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// Account is a value-ledger balance owned by an identity or a record.
type Account struct {
	Address   common.Hash    `json:"address"`
	Owner     common.Hash    `json:"owner"`
	Unit      common.Address `json:"unit"`
	Balance   uint64         `json:"balance"`
	CreatedAt time.Time      `json:"created_at"`
}

// Transfer is one committed balance movement.
type Transfer struct {
	ID     string      `json:"id"`
	From   common.Hash `json:"from"`
	To     common.Hash `json:"to"`
	Amount uint64      `json:"amount"`
	At     time.Time   `json:"at"`
}

// LedgerTx is the view of the shared ledger available to one atomic
// operation. Writes become visible to other operations only when the
// enclosing Atomic call returns nil.
type LedgerTx interface {
	Config(ctx context.Context) (Config, error)
	PutConfig(ctx context.Context, cfg Config) error

	Market(ctx context.Context, addr common.Hash) (Market, error)
	PutMarket(ctx context.Context, m Market) error

	Position(ctx context.Context, addr common.Hash) (Position, error)
	PutPosition(ctx context.Context, p Position) error

	// Unit returns the registered value unit, or ErrNotFound.
	Unit(ctx context.Context, unit common.Address) (ValueUnit, error)
	// CreateAccount provisions a zero balance account for owner. It returns
	// ErrAlreadyExists without aborting the operation when the account is
	// already present.
	CreateAccount(ctx context.Context, owner common.Hash, unit common.Address) (Account, error)
	// Transfer moves amount between two accounts of the same unit. It fails
	// with ErrInsufficientFunds when from cannot cover amount.
	Transfer(ctx context.Context, from, to common.Hash, amount uint64) error
	BalanceOf(ctx context.Context, account common.Hash) (uint64, error)
}

// Ledger runs atomic operations against records and value accounts.
//
// Atomic acquires exclusive access to every key for the duration of fn.
// Operations sharing a key are serialized; fn's writes and transfers are
// committed together when fn returns nil and discarded otherwise.
type Ledger interface {
	Atomic(ctx context.Context, keys []common.Hash, fn func(tx LedgerTx) error) error
	LedgerReader
}

// LedgerReader serves committed state to queries outside any operation.
type LedgerReader interface {
	GetConfig(ctx context.Context) (Config, error)
	GetMarket(ctx context.Context, addr common.Hash) (Market, error)
	ListMarkets(ctx context.Context, filter MarketFilter) ([]Market, error)
	GetPosition(ctx context.Context, addr common.Hash) (Position, error)
	ListPositions(ctx context.Context, filter PositionFilter) ([]Position, error)
	GetAccount(ctx context.Context, addr common.Hash) (Account, error)
}

// Depositor credits externally sourced value into an account. Only the
// reference ledgers implement it.
type Depositor interface {
	Deposit(ctx context.Context, owner common.Hash, unit common.Address, amount uint64) (Account, error)
}

// MarketFilter narrows ListMarkets.
type MarketFilter struct {
	State *MarketState
	// ResolvedBefore keeps markets whose deadline is at or before this time.
	ResolvedBefore *time.Time
	ListOpts
}

// PositionFilter narrows ListPositions. Zero fields do not filter.
type PositionFilter struct {
	Authority *common.Address
	Market    *common.Hash
	ListOpts
}
