// Package memory is an in-process implementation of domain.Ledger. It keeps
// records and value accounts in maps, serializes operations per record key
// and commits each operation's writes and transfers together.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
	"github.com/ChiefWoods/prediction/internal/pricing"
)

// ErrUnlockedRecord is returned when an operation touches a record it did not
// declare in its key set.
var ErrUnlockedRecord = domain.ErrUnlockedRecord

// Ledger is safe for concurrent use.
type Ledger struct {
	clock domain.Clock

	keyMu sync.Mutex
	keys  map[common.Hash]*sync.Mutex

	mu        sync.RWMutex
	config    *domain.Config
	markets   map[common.Hash]domain.Market
	positions map[common.Hash]domain.Position
	accounts  map[common.Hash]domain.Account
	units     map[common.Address]domain.ValueUnit
	journal   []domain.Transfer
}

var (
	_ domain.Ledger    = (*Ledger)(nil)
	_ domain.Depositor = (*Ledger)(nil)
)

// New creates an empty ledger that knows the given value units.
func New(clock domain.Clock, units ...domain.ValueUnit) *Ledger {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	l := &Ledger{
		clock:     clock,
		keys:      make(map[common.Hash]*sync.Mutex),
		markets:   make(map[common.Hash]domain.Market),
		positions: make(map[common.Hash]domain.Position),
		accounts:  make(map[common.Hash]domain.Account),
		units:     make(map[common.Address]domain.ValueUnit),
	}
	for _, u := range units {
		l.units[u.Address] = u
	}
	return l
}

// Atomic runs fn with exclusive access to keys. Locks are taken in byte order
// so overlapping key sets cannot deadlock.
func (l *Ledger) Atomic(ctx context.Context, keys []common.Hash, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sorted := slices.Clone(keys)
	slices.SortFunc(sorted, func(a, b common.Hash) int { return bytes.Compare(a[:], b[:]) })
	sorted = slices.Compact(sorted)

	for _, k := range sorted {
		l.keyLock(k).Lock()
	}
	defer func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			l.keyLock(sorted[i]).Unlock()
		}
	}()

	t := newTx(l, sorted)
	if err := fn(t); err != nil {
		return err
	}
	return l.commit(t)
}

func (l *Ledger) keyLock(k common.Hash) *sync.Mutex {
	l.keyMu.Lock()
	defer l.keyMu.Unlock()
	m, ok := l.keys[k]
	if !ok {
		m = &sync.Mutex{}
		l.keys[k] = m
	}
	return m
}

// commit revalidates staged transfers against current balances and applies
// everything under the write lock. Accounts that are not record-locked (user
// accounts) may have moved since the operation read them.
func (l *Ledger) commit(t *tx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	balances := make(map[common.Hash]uint64)
	balanceOf := func(a common.Hash) (uint64, bool) {
		if b, ok := balances[a]; ok {
			return b, true
		}
		if acc, ok := l.accounts[a]; ok {
			return acc.Balance, true
		}
		if _, ok := t.accounts[a]; ok {
			return 0, true
		}
		return 0, false
	}

	for _, tr := range t.transfers {
		from, ok := balanceOf(tr.From)
		if !ok {
			return fmt.Errorf("memory: transfer from %s: %w", tr.From, domain.ErrNotFound)
		}
		to, ok := balanceOf(tr.To)
		if !ok {
			return fmt.Errorf("memory: transfer to %s: %w", tr.To, domain.ErrNotFound)
		}
		debited, err := pricing.Sub(from, tr.Amount)
		if err != nil {
			return fmt.Errorf("memory: transfer from %s: %w", tr.From, domain.ErrInsufficientFunds)
		}
		balances[tr.From] = debited
		if tr.From == tr.To {
			to = debited
		}
		credited, err := pricing.Add(to, tr.Amount)
		if err != nil {
			return fmt.Errorf("memory: transfer to %s: %w", tr.To, err)
		}
		balances[tr.To] = credited
	}

	for addr, acc := range t.accounts {
		if _, exists := l.accounts[addr]; !exists {
			l.accounts[addr] = acc
		}
	}
	for addr, bal := range balances {
		acc := l.accounts[addr]
		acc.Balance = bal
		l.accounts[addr] = acc
	}
	if t.config != nil {
		cfg := *t.config
		l.config = &cfg
	}
	for addr, m := range t.markets {
		l.markets[addr] = m
	}
	for addr, p := range t.positions {
		l.positions[addr] = p
	}
	l.journal = append(l.journal, t.transfers...)
	return nil
}

// Deposit credits amount to owner's account for unit, creating the account if
// needed.
func (l *Ledger) Deposit(ctx context.Context, owner common.Hash, unit common.Address, amount uint64) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.units[unit]; !ok {
		return domain.Account{}, fmt.Errorf("memory: deposit unit %s: %w", unit, domain.ErrNotFound)
	}
	addr := address.Account(owner, unit)
	acc, ok := l.accounts[addr]
	if !ok {
		acc = domain.Account{Address: addr, Owner: owner, Unit: unit, CreatedAt: l.clock.Now()}
	}
	bal, err := pricing.Add(acc.Balance, amount)
	if err != nil {
		return domain.Account{}, fmt.Errorf("memory: deposit: %w", err)
	}
	acc.Balance = bal
	l.accounts[addr] = acc
	return acc, nil
}

// Transfers returns a copy of the committed transfer journal.
func (l *Ledger) Transfers() []domain.Transfer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.journal)
}

// GetConfig returns the committed config.
func (l *Ledger) GetConfig(_ context.Context) (domain.Config, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.config == nil {
		return domain.Config{}, fmt.Errorf("memory: config: %w", domain.ErrNotFound)
	}
	return *l.config, nil
}

// GetMarket returns a committed market.
func (l *Ledger) GetMarket(_ context.Context, addr common.Hash) (domain.Market, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.markets[addr]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s: %w", addr, domain.ErrNotFound)
	}
	return m, nil
}

// ListMarkets returns markets ordered by deadline, then address.
func (l *Ledger) ListMarkets(_ context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	l.mu.RLock()
	out := make([]domain.Market, 0, len(l.markets))
	for _, m := range l.markets {
		if f.State != nil && m.State != *f.State {
			continue
		}
		if f.ResolvedBefore != nil && m.ResolveTs > f.ResolvedBefore.Unix() {
			continue
		}
		if f.Since != nil && m.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && m.CreatedAt.After(*f.Until) {
			continue
		}
		out = append(out, m)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ResolveTs != out[j].ResolveTs {
			return out[i].ResolveTs < out[j].ResolveTs
		}
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return page(out, f.ListOpts), nil
}

// GetPosition returns a committed position.
func (l *Ledger) GetPosition(_ context.Context, addr common.Hash) (domain.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[addr]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", addr, domain.ErrNotFound)
	}
	return p, nil
}

// ListPositions returns positions ordered by creation time, then address.
func (l *Ledger) ListPositions(_ context.Context, f domain.PositionFilter) ([]domain.Position, error) {
	l.mu.RLock()
	out := make([]domain.Position, 0)
	for _, p := range l.positions {
		if f.Authority != nil && p.Authority != *f.Authority {
			continue
		}
		if f.Market != nil && p.Market != *f.Market {
			continue
		}
		out = append(out, p)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return page(out, f.ListOpts), nil
}

// GetAccount returns a committed value account.
func (l *Ledger) GetAccount(_ context.Context, addr common.Hash) (domain.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return domain.Account{}, fmt.Errorf("memory: account %s: %w", addr, domain.ErrNotFound)
	}
	return acc, nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func newTransferID() string {
	return uuid.NewString()
}
