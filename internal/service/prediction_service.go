// Package service wraps the engine with the side effects of a running
// deployment: bus events, audit entries, metrics, notifications and
// settlement archives.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
	"github.com/ChiefWoods/prediction/internal/engine"
	"github.com/ChiefWoods/prediction/internal/metrics"
	"github.com/ChiefWoods/prediction/internal/notify"
)

// EventStream is the durable stream every event is appended to.
const EventStream = "events"

// ErrDepositsDisabled is returned when the ledger cannot accept deposits.
var ErrDepositsDisabled = errors.New("ledger does not accept deposits")

// Deps bundles the collaborators of a PredictionService. Notifier, Archiver
// and Depositor are optional.
type Deps struct {
	Engine    *engine.Engine
	Ledger    domain.LedgerReader
	Bus       domain.SignalBus
	Audit     domain.AuditStore
	Metrics   *metrics.Metrics
	Notifier  *notify.Notifier
	Archiver  domain.SettlementArchiver
	Depositor domain.Depositor
	Clock     domain.Clock
	Logger    *slog.Logger
}

// PredictionService runs engine operations and publishes their outcome.
// Side effects after a committed operation never fail the call; they are
// logged instead.
type PredictionService struct {
	engine    *engine.Engine
	ledger    domain.LedgerReader
	bus       domain.SignalBus
	audit     domain.AuditStore
	metrics   *metrics.Metrics
	notifier  *notify.Notifier
	archiver  domain.SettlementArchiver
	depositor domain.Depositor
	clock     domain.Clock
	logger    *slog.Logger
}

// NewPredictionService creates a PredictionService from d.
func NewPredictionService(d Deps) *PredictionService {
	clock := d.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &PredictionService{
		engine:    d.Engine,
		ledger:    d.Ledger,
		bus:       d.Bus,
		audit:     d.Audit,
		metrics:   d.Metrics,
		notifier:  d.Notifier,
		archiver:  d.Archiver,
		depositor: d.Depositor,
		clock:     clock,
		logger:    d.Logger.With(slog.String("component", "prediction_service")),
	}
}

// InitializeConfig creates the protocol config with caller as authority.
func (s *PredictionService) InitializeConfig(ctx context.Context, caller, unit common.Address, feeBps uint16) (domain.Config, error) {
	start := time.Now()
	cfg, err := s.engine.InitializeConfig(ctx, caller, unit, feeBps)
	s.record("initialize_config", start, err)
	if err != nil {
		return domain.Config{}, fmt.Errorf("prediction_service: initialize config: %w", err)
	}
	s.publish(ctx, domain.ChannelConfig, domain.EventConfigInitialized, nil, cfg)
	s.auditLog(ctx, string(domain.EventConfigInitialized), map[string]any{
		"authority": cfg.Authority.Hex(),
		"unit":      cfg.ValueUnit.Hex(),
		"fee_bps":   cfg.FeeBps,
	})
	return cfg, nil
}

// UpdateFee changes the trading fee.
func (s *PredictionService) UpdateFee(ctx context.Context, caller common.Address, feeBps uint16) (domain.Config, error) {
	start := time.Now()
	cfg, err := s.engine.UpdateFee(ctx, caller, feeBps)
	s.record("update_fee", start, err)
	if err != nil {
		return domain.Config{}, fmt.Errorf("prediction_service: update fee: %w", err)
	}
	s.publish(ctx, domain.ChannelConfig, domain.EventFeeUpdated, nil, cfg)
	s.auditLog(ctx, string(domain.EventFeeUpdated), map[string]any{
		"authority": caller.Hex(),
		"fee_bps":   cfg.FeeBps,
	})
	return cfg, nil
}

// CreateMarket registers a new market.
func (s *PredictionService) CreateMarket(ctx context.Context, caller common.Address, p domain.MarketParams) (domain.Market, error) {
	start := time.Now()
	m, err := s.engine.CreateMarket(ctx, caller, p)
	s.record("create_market", start, err)
	if err != nil {
		return domain.Market{}, fmt.Errorf("prediction_service: create market: %w", err)
	}
	s.publish(ctx, domain.ChannelMarkets, domain.EventMarketCreated, &m.Address, m)
	s.auditLog(ctx, string(domain.EventMarketCreated), map[string]any{
		"market":     m.Address.Hex(),
		"feed":       m.PriceFeedID.Hex(),
		"resolve_ts": m.ResolveTs,
		"target":     m.TargetPrice.String(),
	})
	s.logger.InfoContext(ctx, "market created",
		slog.String("market", m.Address.Hex()),
		slog.String("title", m.Title),
		slog.Int64("resolve_ts", m.ResolveTs),
	)
	return m, nil
}

// OpenPosition opens caller's position in market.
func (s *PredictionService) OpenPosition(ctx context.Context, caller common.Address, market common.Hash) (domain.Position, error) {
	start := time.Now()
	p, err := s.engine.OpenPosition(ctx, caller, market)
	s.record("open_position", start, err)
	if err != nil {
		return domain.Position{}, fmt.Errorf("prediction_service: open position: %w", err)
	}
	s.publish(ctx, domain.ChannelPositions, domain.EventPositionOpened, &market, p)
	return p, nil
}

// TradeShares buys or sells shares for caller.
func (s *PredictionService) TradeShares(ctx context.Context, caller common.Address, market common.Hash, req domain.TradeRequest) (domain.TradeReceipt, error) {
	start := time.Now()
	r, err := s.engine.TradeShares(ctx, caller, market, req)
	s.record("trade_shares", start, err)
	if err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("prediction_service: trade shares: %w", err)
	}
	s.metrics.RecordTrade(string(r.Side), string(r.Direction), r.Price, r.Fee)
	s.publish(ctx, domain.ChannelTrades, domain.EventSharesTraded, &market, r)
	s.auditLog(ctx, string(domain.EventSharesTraded), map[string]any{
		"market":    market.Hex(),
		"authority": caller.Hex(),
		"side":      string(r.Side),
		"direction": string(r.Direction),
		"shares":    r.Shares,
		"price":     r.Price,
		"fee":       r.Fee,
	})
	return r, nil
}

// SettleMarket resolves market and archives it when an archiver is set.
func (s *PredictionService) SettleMarket(ctx context.Context, caller common.Address, market common.Hash) (domain.Settlement, error) {
	start := time.Now()
	st, err := s.engine.SettleMarket(ctx, caller, market)
	s.record("settle_market", start, err)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("prediction_service: settle market: %w", err)
	}
	s.metrics.RecordSettlement(string(st.State))
	s.publish(ctx, domain.ChannelSettlements, domain.EventMarketSettled, &market, st)

	detail := map[string]any{
		"market":    market.Hex(),
		"authority": caller.Hex(),
		"state":     string(st.State),
	}
	if st.Price != nil {
		detail["price"] = st.Price.String()
	}
	s.auditLog(ctx, string(domain.EventMarketSettled), detail)
	s.logger.InfoContext(ctx, "market settled",
		slog.String("market", market.Hex()),
		slog.String("state", string(st.State)),
	)

	s.archive(ctx, market)
	return st, nil
}

// ClaimWinnings redeems caller's winning shares in market.
func (s *PredictionService) ClaimWinnings(ctx context.Context, caller common.Address, market common.Hash) (domain.ClaimReceipt, error) {
	start := time.Now()
	r, err := s.engine.ClaimWinnings(ctx, caller, market)
	s.record("claim_winnings", start, err)
	if err != nil {
		return domain.ClaimReceipt{}, fmt.Errorf("prediction_service: claim winnings: %w", err)
	}
	s.metrics.RecordPayout(r.Payout)
	s.publish(ctx, domain.ChannelClaims, domain.EventWinningsClaimed, &market, r)
	s.auditLog(ctx, string(domain.EventWinningsClaimed), map[string]any{
		"market":    market.Hex(),
		"authority": caller.Hex(),
		"shares":    r.WinningShares,
		"payout":    r.Payout,
	})
	return r, nil
}

// Deposit credits amount of the config's value unit to owner's account.
func (s *PredictionService) Deposit(ctx context.Context, owner common.Address, amount uint64) (domain.Account, error) {
	if s.depositor == nil {
		return domain.Account{}, fmt.Errorf("prediction_service: deposit: %w", ErrDepositsDisabled)
	}
	if amount == 0 {
		return domain.Account{}, fmt.Errorf("prediction_service: deposit: %w", domain.ErrInvalidShares)
	}
	cfg, err := s.ledger.GetConfig(ctx)
	if err != nil {
		return domain.Account{}, fmt.Errorf("prediction_service: deposit: %w", err)
	}
	acc, err := s.depositor.Deposit(ctx, address.Owner(owner), cfg.ValueUnit, amount)
	if err != nil {
		return domain.Account{}, fmt.Errorf("prediction_service: deposit: %w", err)
	}
	s.publish(ctx, domain.ChannelPositions, domain.EventDeposit, nil, map[string]any{
		"owner":   owner.Hex(),
		"account": acc.Address.Hex(),
		"amount":  amount,
	})
	s.auditLog(ctx, string(domain.EventDeposit), map[string]any{
		"owner":  owner.Hex(),
		"amount": amount,
	})
	return acc, nil
}

func (s *PredictionService) record(op string, start time.Time, err error) {
	code := "ok"
	if err != nil {
		code = domain.ErrorCode(err)
	}
	s.metrics.RecordOperation(op, code, time.Since(start))
}

// publish sends an event to its channel, the durable stream and the
// notifier.
func (s *PredictionService) publish(ctx context.Context, channel string, typ domain.EventType, market *common.Hash, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal event data", slog.String("event", string(typ)), slog.String("error", err.Error()))
		return
	}
	ev := domain.Event{
		ID:     uuid.NewString(),
		Type:   typ,
		Market: market,
		At:     s.clock.Now(),
		Data:   raw,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal event", slog.String("event", string(typ)), slog.String("error", err.Error()))
		return
	}

	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	} else {
		s.metrics.RecordEvent(channel)
	}
	if err := s.bus.StreamAppend(ctx, EventStream, payload); err != nil {
		s.logger.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
	}
	if err := s.notifier.NotifyEvent(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}

func (s *PredictionService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PredictionService) archive(ctx context.Context, market common.Hash) {
	if s.archiver == nil {
		return
	}
	m, err := s.ledger.GetMarket(ctx, market)
	if err != nil {
		s.logger.WarnContext(ctx, "archive: load market", slog.String("error", err.Error()))
		return
	}
	positions, err := s.ledger.ListPositions(ctx, domain.PositionFilter{Market: &market})
	if err != nil {
		s.logger.WarnContext(ctx, "archive: list positions", slog.String("error", err.Error()))
		return
	}
	key, err := s.archiver.ArchiveMarket(ctx, m, positions)
	if err != nil {
		s.logger.WarnContext(ctx, "archive market failed",
			slog.String("market", market.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.auditLog(ctx, "market_archived", map[string]any{
		"market":    market.Hex(),
		"key":       key,
		"positions": len(positions),
	})
}
