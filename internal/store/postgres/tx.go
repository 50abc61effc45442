package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
)

// ledgerTx is the domain.LedgerTx view of one database transaction.
type ledgerTx struct {
	tx     pgx.Tx
	locked map[common.Hash]struct{}
	now    time.Time
}

func (t *ledgerTx) require(addr common.Hash) error {
	if _, ok := t.locked[addr]; !ok {
		return fmt.Errorf("postgres: %w: %s", domain.ErrUnlockedRecord, addr)
	}
	return nil
}

func (t *ledgerTx) Config(ctx context.Context) (domain.Config, error) {
	addr := address.Config()
	if err := t.require(addr); err != nil {
		return domain.Config{}, err
	}
	return getConfig(ctx, t.tx, addr)
}

func (t *ledgerTx) PutConfig(ctx context.Context, c domain.Config) error {
	if err := t.require(c.Address); err != nil {
		return err
	}
	const query = `
		INSERT INTO protocol_config (` + configColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET
			authority  = EXCLUDED.authority,
			fee_bps    = EXCLUDED.fee_bps,
			updated_at = EXCLUDED.updated_at`
	_, err := t.tx.Exec(ctx, query,
		c.Address.Bytes(), c.Authority.Bytes(), c.ValueUnit.Bytes(), int16(c.Decimals),
		int32(c.FeeBps), c.Treasury.Bytes(), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put config: %w", mapError(err))
	}
	return nil
}

func (t *ledgerTx) Market(ctx context.Context, addr common.Hash) (domain.Market, error) {
	if err := t.require(addr); err != nil {
		return domain.Market{}, err
	}
	return getMarket(ctx, t.tx, addr)
}

func (t *ledgerTx) PutMarket(ctx context.Context, m domain.Market) error {
	if err := t.require(m.Address); err != nil {
		return err
	}
	pass, err := toInt64(m.PassShares)
	if err != nil {
		return fmt.Errorf("postgres: put market %s: pass shares: %w", m.Address, err)
	}
	fail, err := toInt64(m.FailShares)
	if err != nil {
		return fmt.Errorf("postgres: put market %s: fail shares: %w", m.Address, err)
	}
	var settled *string
	if m.SettledPrice != nil {
		s := m.SettledPrice.String()
		settled = &s
	}

	const query = `
		INSERT INTO markets (
			address, authority, price_feed_id, resolve_ts, target_price, title,
			value_unit, escrow, pass_shares, fail_shares, state, settled_price,
			observed_at, settled_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5::numeric, $6,
			$7, $8, $9, $10, $11, $12::numeric,
			$13, $14, $15, $16
		)
		ON CONFLICT (address) DO UPDATE SET
			pass_shares   = EXCLUDED.pass_shares,
			fail_shares   = EXCLUDED.fail_shares,
			state         = EXCLUDED.state,
			settled_price = EXCLUDED.settled_price,
			observed_at   = EXCLUDED.observed_at,
			settled_at    = EXCLUDED.settled_at,
			updated_at    = EXCLUDED.updated_at`
	_, err = t.tx.Exec(ctx, query,
		m.Address.Bytes(), m.Authority.Bytes(), m.PriceFeedID.Bytes(), m.ResolveTs,
		m.TargetPrice.String(), m.Title, m.ValueUnit.Bytes(), m.Escrow.Bytes(),
		pass, fail, string(m.State), settled,
		m.ObservedAt, m.SettledAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put market %s: %w", m.Address, mapError(err))
	}
	return nil
}

func (t *ledgerTx) Position(ctx context.Context, addr common.Hash) (domain.Position, error) {
	if err := t.require(addr); err != nil {
		return domain.Position{}, err
	}
	return getPosition(ctx, t.tx, addr)
}

func (t *ledgerTx) PutPosition(ctx context.Context, p domain.Position) error {
	if err := t.require(p.Address); err != nil {
		return err
	}
	pass, err := toInt64(p.PassShares)
	if err != nil {
		return fmt.Errorf("postgres: put position %s: pass shares: %w", p.Address, err)
	}
	fail, err := toInt64(p.FailShares)
	if err != nil {
		return fmt.Errorf("postgres: put position %s: fail shares: %w", p.Address, err)
	}
	payout, err := toInt64(p.Payout)
	if err != nil {
		return fmt.Errorf("postgres: put position %s: payout: %w", p.Address, err)
	}

	const query = `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address) DO UPDATE SET
			pass_shares = EXCLUDED.pass_shares,
			fail_shares = EXCLUDED.fail_shares,
			status      = EXCLUDED.status,
			payout      = EXCLUDED.payout,
			updated_at  = EXCLUDED.updated_at`
	_, err = t.tx.Exec(ctx, query,
		p.Address.Bytes(), p.Authority.Bytes(), p.Market.Bytes(),
		pass, fail, string(p.Status), payout, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put position %s: %w", p.Address, mapError(err))
	}
	return nil
}

func (t *ledgerTx) Unit(ctx context.Context, unit common.Address) (domain.ValueUnit, error) {
	var (
		u        domain.ValueUnit
		decimals int16
	)
	err := t.tx.QueryRow(ctx,
		`SELECT symbol, decimals FROM value_units WHERE address = $1`, unit.Bytes(),
	).Scan(&u.Symbol, &decimals)
	if err != nil {
		return domain.ValueUnit{}, fmt.Errorf("postgres: unit %s: %w", unit, mapError(err))
	}
	u.Address = unit
	u.Decimals = uint8(decimals)
	return u, nil
}

func (t *ledgerTx) CreateAccount(ctx context.Context, owner common.Hash, unit common.Address) (domain.Account, error) {
	if _, err := t.Unit(ctx, unit); err != nil {
		return domain.Account{}, err
	}
	addr := address.Account(owner, unit)

	const query = `
		INSERT INTO accounts (address, owner, unit, balance, created_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (address) DO NOTHING
		RETURNING ` + accountColumns
	acc, err := scanAccount(t.tx.QueryRow(ctx, query, addr.Bytes(), owner.Bytes(), unit.Bytes(), t.now))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, gerr := getAccount(ctx, t.tx, addr)
		if gerr != nil {
			return domain.Account{}, gerr
		}
		return existing, fmt.Errorf("postgres: account %s: %w", addr, domain.ErrAlreadyExists)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: create account %s: %w", addr, mapError(err))
	}
	return acc, nil
}

func (t *ledgerTx) Transfer(ctx context.Context, from, to common.Hash, amount uint64) error {
	src, err := getAccount(ctx, t.tx, from)
	if err != nil {
		return err
	}
	dst, err := getAccount(ctx, t.tx, to)
	if err != nil {
		return err
	}
	if src.Unit != dst.Unit {
		return fmt.Errorf("postgres: transfer %s to %s: unit mismatch", from, to)
	}
	if amount == 0 {
		return nil
	}
	amt, err := toInt64(amount)
	if err != nil {
		return fmt.Errorf("postgres: transfer: %w", err)
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = balance - $2 WHERE address = $1 AND balance >= $2`,
		from.Bytes(), amt)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: transfer from %s: %w", from, domain.ErrInsufficientFunds)
	}
	if _, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $2 WHERE address = $1`,
		to.Bytes(), amt); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", to, mapError(err))
	}
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO transfers (id, from_account, to_account, amount, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), from.Bytes(), to.Bytes(), amt, t.now); err != nil {
		return fmt.Errorf("postgres: journal transfer: %w", mapError(err))
	}
	return nil
}

func (t *ledgerTx) BalanceOf(ctx context.Context, account common.Hash) (uint64, error) {
	acc, err := getAccount(ctx, t.tx, account)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

var _ domain.LedgerTx = (*ledgerTx)(nil)
