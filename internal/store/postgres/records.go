package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ChiefWoods/prediction/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const configColumns = `address, authority, value_unit, decimals, fee_bps, treasury, created_at, updated_at`

const marketColumns = `address, authority, price_feed_id, resolve_ts, target_price::text, title,
	value_unit, escrow, pass_shares, fail_shares, state, settled_price::text,
	observed_at, settled_at, created_at, updated_at`

const positionColumns = `address, authority, market, pass_shares, fail_shares, status, payout, created_at, updated_at`

const accountColumns = `address, owner, unit, balance, created_at`

func scanConfig(row pgx.Row) (domain.Config, error) {
	var (
		c                          domain.Config
		addr, auth, unit, treasury []byte
		decimals                   int16
		feeBps                     int32
	)
	if err := row.Scan(&addr, &auth, &unit, &decimals, &feeBps, &treasury, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Config{}, err
	}
	c.Address = common.BytesToHash(addr)
	c.Authority = common.BytesToAddress(auth)
	c.ValueUnit = common.BytesToAddress(unit)
	c.Decimals = uint8(decimals)
	c.FeeBps = uint16(feeBps)
	c.Treasury = common.BytesToHash(treasury)
	return c, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                              domain.Market
		addr, auth, feed, unit, escrow []byte
		target, state                  string
		settled                        *string
		passShares, failShares         int64
		observedAt, settledAt          *time.Time
	)
	err := row.Scan(
		&addr, &auth, &feed, &m.ResolveTs, &target, &m.Title,
		&unit, &escrow, &passShares, &failShares, &state, &settled,
		&observedAt, &settledAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Address = common.BytesToHash(addr)
	m.Authority = common.BytesToAddress(auth)
	m.PriceFeedID = common.BytesToHash(feed)
	m.ValueUnit = common.BytesToAddress(unit)
	m.Escrow = common.BytesToHash(escrow)
	m.PassShares = uint64(passShares)
	m.FailShares = uint64(failShares)
	m.State = domain.MarketState(state)
	m.ObservedAt = observedAt
	m.SettledAt = settledAt
	if m.TargetPrice, err = decimal.NewFromString(target); err != nil {
		return domain.Market{}, fmt.Errorf("target price: %w", err)
	}
	if settled != nil {
		p, err := decimal.NewFromString(*settled)
		if err != nil {
			return domain.Market{}, fmt.Errorf("settled price: %w", err)
		}
		m.SettledPrice = &p
	}
	return m, nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                      domain.Position
		addr, auth, market     []byte
		passShares, failShares int64
		payout                 int64
		status                 string
	)
	if err := row.Scan(&addr, &auth, &market, &passShares, &failShares, &status, &payout, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Position{}, err
	}
	p.Address = common.BytesToHash(addr)
	p.Authority = common.BytesToAddress(auth)
	p.Market = common.BytesToHash(market)
	p.PassShares = uint64(passShares)
	p.FailShares = uint64(failShares)
	p.Status = domain.PositionStatus(status)
	p.Payout = uint64(payout)
	return p, nil
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		a                 domain.Account
		addr, owner, unit []byte
		balance           int64
	)
	if err := row.Scan(&addr, &owner, &unit, &balance, &a.CreatedAt); err != nil {
		return domain.Account{}, err
	}
	a.Address = common.BytesToHash(addr)
	a.Owner = common.BytesToHash(owner)
	a.Unit = common.BytesToAddress(unit)
	a.Balance = uint64(balance)
	return a, nil
}

func getConfig(ctx context.Context, q querier, addr common.Hash) (domain.Config, error) {
	c, err := scanConfig(q.QueryRow(ctx,
		`SELECT `+configColumns+` FROM protocol_config WHERE address = $1`, addr.Bytes()))
	if err != nil {
		return domain.Config{}, fmt.Errorf("postgres: config: %w", mapError(err))
	}
	return c, nil
}

func getMarket(ctx context.Context, q querier, addr common.Hash) (domain.Market, error) {
	m, err := scanMarket(q.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE address = $1`, addr.Bytes()))
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: market %s: %w", addr, mapError(err))
	}
	return m, nil
}

func getPosition(ctx context.Context, q querier, addr common.Hash) (domain.Position, error) {
	p, err := scanPosition(q.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE address = $1`, addr.Bytes()))
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: position %s: %w", addr, mapError(err))
	}
	return p, nil
}

func getAccount(ctx context.Context, q querier, addr common.Hash) (domain.Account, error) {
	a, err := scanAccount(q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE address = $1`, addr.Bytes()))
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: account %s: %w", addr, mapError(err))
	}
	return a, nil
}
