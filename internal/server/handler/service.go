package handler

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChiefWoods/prediction/internal/domain"
)

// PredictionService is the service surface the handlers call. It is declared
// here so handlers can be tested against fakes.
type PredictionService interface {
	InitializeConfig(ctx context.Context, caller, unit common.Address, feeBps uint16) (domain.Config, error)
	UpdateFee(ctx context.Context, caller common.Address, feeBps uint16) (domain.Config, error)
	CreateMarket(ctx context.Context, caller common.Address, p domain.MarketParams) (domain.Market, error)
	OpenPosition(ctx context.Context, caller common.Address, market common.Hash) (domain.Position, error)
	TradeShares(ctx context.Context, caller common.Address, market common.Hash, req domain.TradeRequest) (domain.TradeReceipt, error)
	SettleMarket(ctx context.Context, caller common.Address, market common.Hash) (domain.Settlement, error)
	ClaimWinnings(ctx context.Context, caller common.Address, market common.Hash) (domain.ClaimReceipt, error)
	Deposit(ctx context.Context, owner common.Address, amount uint64) (domain.Account, error)

	GetConfig(ctx context.Context) (domain.Config, error)
	GetMarket(ctx context.Context, market common.Hash) (domain.Market, error)
	ListMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error)
	GetPosition(ctx context.Context, owner common.Address, market common.Hash) (domain.Position, error)
	ListPositions(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Position, error)
	GetAccount(ctx context.Context, owner common.Address) (domain.Account, error)
	Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
	AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	Ping(ctx context.Context) error
}
