package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
)

// GetConfig returns the protocol config.
func (s *PredictionService) GetConfig(ctx context.Context) (domain.Config, error) {
	cfg, err := s.ledger.GetConfig(ctx)
	if err != nil {
		return domain.Config{}, fmt.Errorf("prediction_service: get config: %w", err)
	}
	return cfg, nil
}

// GetMarket returns one market.
func (s *PredictionService) GetMarket(ctx context.Context, market common.Hash) (domain.Market, error) {
	m, err := s.ledger.GetMarket(ctx, market)
	if err != nil {
		return domain.Market{}, fmt.Errorf("prediction_service: get market: %w", err)
	}
	return m, nil
}

// ListMarkets returns markets matching filter.
func (s *PredictionService) ListMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error) {
	ms, err := s.ledger.ListMarkets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: list markets: %w", err)
	}
	return ms, nil
}

// GetPosition returns owner's position in market.
func (s *PredictionService) GetPosition(ctx context.Context, owner common.Address, market common.Hash) (domain.Position, error) {
	p, err := s.ledger.GetPosition(ctx, address.Position(owner, market))
	if err != nil {
		return domain.Position{}, fmt.Errorf("prediction_service: get position: %w", err)
	}
	return p, nil
}

// ListPositions returns every position held by owner.
func (s *PredictionService) ListPositions(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	ps, err := s.ledger.ListPositions(ctx, domain.PositionFilter{Authority: &owner, ListOpts: opts})
	if err != nil {
		return nil, fmt.Errorf("prediction_service: list positions: %w", err)
	}
	return ps, nil
}

// GetAccount returns owner's balance in the config's value unit. An owner
// who never received value has a zero balance.
func (s *PredictionService) GetAccount(ctx context.Context, owner common.Address) (domain.Account, error) {
	cfg, err := s.ledger.GetConfig(ctx)
	if err != nil {
		return domain.Account{}, fmt.Errorf("prediction_service: get account: %w", err)
	}
	ownerKey := address.Owner(owner)
	addr := address.Account(ownerKey, cfg.ValueUnit)
	acc, err := s.ledger.GetAccount(ctx, addr)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Account{Address: addr, Owner: ownerKey, Unit: cfg.ValueUnit}, nil
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("prediction_service: get account: %w", err)
	}
	return acc, nil
}

// Events returns up to count events published after lastID.
func (s *PredictionService) Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "" {
		lastID = "0"
	}
	msgs, err := s.bus.StreamRead(ctx, EventStream, lastID, count)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: read events: %w", err)
	}
	return msgs, nil
}

// AuditLog returns audit entries newest first.
func (s *PredictionService) AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: audit log: %w", err)
	}
	return entries, nil
}

// Ping checks that the ledger answers. A missing config still counts as
// healthy.
func (s *PredictionService) Ping(ctx context.Context) error {
	if _, err := s.ledger.GetConfig(ctx); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}
