package postgres

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
)

// Ledger implements domain.Ledger on PostgreSQL. Each Atomic call is one
// transaction holding a transaction-scoped advisory lock per declared key.
// Balances are BIGINT, so amounts above math.MaxInt64 fail with
// domain.ErrOverflow.
type Ledger struct {
	pool  *pgxpool.Pool
	clock domain.Clock
}

var (
	_ domain.Ledger    = (*Ledger)(nil)
	_ domain.Depositor = (*Ledger)(nil)
)

// NewLedger creates a Ledger. A nil clock reads the wall clock.
func NewLedger(pool *pgxpool.Pool, clock domain.Clock) *Ledger {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Ledger{pool: pool, clock: clock}
}

// RegisterUnits inserts or refreshes the given value units.
func (l *Ledger) RegisterUnits(ctx context.Context, units ...domain.ValueUnit) error {
	const query = `
		INSERT INTO value_units (address, symbol, decimals) VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET symbol = EXCLUDED.symbol, decimals = EXCLUDED.decimals`

	batch := &pgx.Batch{}
	for _, u := range units {
		batch.Queue(query, u.Address.Bytes(), u.Symbol, int16(u.Decimals))
	}
	br := l.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, u := range units {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: register unit %s: %w", u.Symbol, err)
		}
	}
	return nil
}

// Atomic runs fn inside one transaction. Keys are locked in byte order with
// pg_advisory_xact_lock, so overlapping key sets cannot deadlock on records.
func (l *Ledger) Atomic(ctx context.Context, keys []common.Hash, fn func(tx domain.LedgerTx) error) error {
	sorted := slices.Clone(keys)
	slices.SortFunc(sorted, func(a, b common.Hash) int { return bytes.Compare(a[:], b[:]) })
	sorted = slices.Compact(sorted)

	pgtx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	for _, k := range sorted {
		if _, err := pgtx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockID(k)); err != nil {
			return fmt.Errorf("postgres: lock %s: %w", k, err)
		}
	}

	t := &ledgerTx{tx: pgtx, locked: make(map[common.Hash]struct{}, len(sorted)), now: l.clock.Now()}
	for _, k := range sorted {
		t.locked[k] = struct{}{}
	}
	if err := fn(t); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// lockID folds a record key into the advisory lock space. Collisions only
// serialize unrelated operations.
func lockID(k common.Hash) int64 {
	return int64(binary.BigEndian.Uint64(k[:8]))
}

// Deposit credits amount to owner's account for unit, creating it if needed.
func (l *Ledger) Deposit(ctx context.Context, owner common.Hash, unit common.Address, amount uint64) (domain.Account, error) {
	if amount > math.MaxInt64 {
		return domain.Account{}, fmt.Errorf("postgres: deposit: %w", domain.ErrOverflow)
	}
	addr := address.Account(owner, unit)

	const query = `
		INSERT INTO accounts (address, owner, unit, balance, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance
		RETURNING ` + accountColumns

	acc, err := scanAccount(l.pool.QueryRow(ctx, query,
		addr.Bytes(), owner.Bytes(), unit.Bytes(), int64(amount), l.clock.Now()))
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: deposit %s: %w", addr, mapError(err))
	}
	return acc, nil
}

// GetConfig returns the committed config.
func (l *Ledger) GetConfig(ctx context.Context) (domain.Config, error) {
	return getConfig(ctx, l.pool, address.Config())
}

// GetMarket returns a committed market.
func (l *Ledger) GetMarket(ctx context.Context, addr common.Hash) (domain.Market, error) {
	return getMarket(ctx, l.pool, addr)
}

// ListMarkets returns markets ordered by deadline, then address.
func (l *Ledger) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.State != nil {
		where = append(where, "state = "+arg(string(*f.State)))
	}
	if f.ResolvedBefore != nil {
		where = append(where, "resolve_ts <= "+arg(f.ResolvedBefore.Unix()))
	}
	if f.Since != nil {
		where = append(where, "created_at >= "+arg(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "created_at <= "+arg(*f.Until))
	}

	query := `SELECT ` + marketColumns + ` FROM markets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY resolve_ts, address" + pageClause(f.ListOpts, arg)

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

// GetPosition returns a committed position.
func (l *Ledger) GetPosition(ctx context.Context, addr common.Hash) (domain.Position, error) {
	return getPosition(ctx, l.pool, addr)
}

// ListPositions returns positions ordered by creation time, then address.
func (l *Ledger) ListPositions(ctx context.Context, f domain.PositionFilter) ([]domain.Position, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Authority != nil {
		where = append(where, "authority = "+arg(f.Authority.Bytes()))
	}
	if f.Market != nil {
		where = append(where, "market = "+arg(f.Market.Bytes()))
	}
	if f.Since != nil {
		where = append(where, "created_at >= "+arg(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "created_at <= "+arg(*f.Until))
	}

	query := `SELECT ` + positionColumns + ` FROM positions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, address" + pageClause(f.ListOpts, arg)

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}

// GetAccount returns a committed value account.
func (l *Ledger) GetAccount(ctx context.Context, addr common.Hash) (domain.Account, error) {
	return getAccount(ctx, l.pool, addr)
}

func pageClause(opts domain.ListOpts, arg func(any) string) string {
	var s string
	if opts.Limit > 0 {
		s += " LIMIT " + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		s += " OFFSET " + arg(opts.Offset)
	}
	return s
}

// mapError translates driver errors into domain errors.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, pgErr.Message)
		case "22003": // numeric_value_out_of_range
			return fmt.Errorf("%w: %s", domain.ErrOverflow, pgErr.Message)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.Message)
		}
	}
	return err
}

func toInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, domain.ErrOverflow
	}
	return int64(v), nil
}
