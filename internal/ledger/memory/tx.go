package memory

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
	"github.com/ChiefWoods/prediction/internal/pricing"
)

// tx stages writes on top of the committed state. Reads of locked records
// see staged values first.
type tx struct {
	l      *Ledger
	locked map[common.Hash]struct{}

	config    *domain.Config
	markets   map[common.Hash]domain.Market
	positions map[common.Hash]domain.Position
	accounts  map[common.Hash]domain.Account
	transfers []domain.Transfer
}

func newTx(l *Ledger, keys []common.Hash) *tx {
	locked := make(map[common.Hash]struct{}, len(keys))
	for _, k := range keys {
		locked[k] = struct{}{}
	}
	return &tx{
		l:         l,
		locked:    locked,
		markets:   make(map[common.Hash]domain.Market),
		positions: make(map[common.Hash]domain.Position),
		accounts:  make(map[common.Hash]domain.Account),
	}
}

func (t *tx) require(addr common.Hash) error {
	if _, ok := t.locked[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrUnlockedRecord, addr)
	}
	return nil
}

func (t *tx) Config(_ context.Context) (domain.Config, error) {
	if err := t.require(address.Config()); err != nil {
		return domain.Config{}, err
	}
	if t.config != nil {
		return *t.config, nil
	}
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	if t.l.config == nil {
		return domain.Config{}, fmt.Errorf("memory: config: %w", domain.ErrNotFound)
	}
	return *t.l.config, nil
}

func (t *tx) PutConfig(_ context.Context, cfg domain.Config) error {
	if err := t.require(cfg.Address); err != nil {
		return err
	}
	t.config = &cfg
	return nil
}

func (t *tx) Market(_ context.Context, addr common.Hash) (domain.Market, error) {
	if err := t.require(addr); err != nil {
		return domain.Market{}, err
	}
	if m, ok := t.markets[addr]; ok {
		return m, nil
	}
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	m, ok := t.l.markets[addr]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s: %w", addr, domain.ErrNotFound)
	}
	return m, nil
}

func (t *tx) PutMarket(_ context.Context, m domain.Market) error {
	if err := t.require(m.Address); err != nil {
		return err
	}
	t.markets[m.Address] = m
	return nil
}

func (t *tx) Position(_ context.Context, addr common.Hash) (domain.Position, error) {
	if err := t.require(addr); err != nil {
		return domain.Position{}, err
	}
	if p, ok := t.positions[addr]; ok {
		return p, nil
	}
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	p, ok := t.l.positions[addr]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", addr, domain.ErrNotFound)
	}
	return p, nil
}

func (t *tx) PutPosition(_ context.Context, p domain.Position) error {
	if err := t.require(p.Address); err != nil {
		return err
	}
	t.positions[p.Address] = p
	return nil
}

func (t *tx) Unit(_ context.Context, unit common.Address) (domain.ValueUnit, error) {
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	u, ok := t.l.units[unit]
	if !ok {
		return domain.ValueUnit{}, fmt.Errorf("memory: unit %s: %w", unit, domain.ErrNotFound)
	}
	return u, nil
}

func (t *tx) CreateAccount(ctx context.Context, owner common.Hash, unit common.Address) (domain.Account, error) {
	if _, err := t.Unit(ctx, unit); err != nil {
		return domain.Account{}, err
	}
	addr := address.Account(owner, unit)
	if acc, ok := t.account(addr); ok {
		return acc, fmt.Errorf("memory: account %s: %w", addr, domain.ErrAlreadyExists)
	}
	acc := domain.Account{Address: addr, Owner: owner, Unit: unit, CreatedAt: t.l.clock.Now()}
	t.accounts[addr] = acc
	return acc, nil
}

// account returns the account as this operation sees it, with staged
// transfers applied.
func (t *tx) account(addr common.Hash) (domain.Account, bool) {
	acc, ok := t.accounts[addr]
	if !ok {
		t.l.mu.RLock()
		acc, ok = t.l.accounts[addr]
		t.l.mu.RUnlock()
	}
	if !ok {
		return domain.Account{}, false
	}
	for _, tr := range t.transfers {
		if tr.From == addr {
			acc.Balance -= tr.Amount
		}
		if tr.To == addr {
			acc.Balance += tr.Amount
		}
	}
	return acc, true
}

func (t *tx) Transfer(_ context.Context, from, to common.Hash, amount uint64) error {
	src, ok := t.account(from)
	if !ok {
		return fmt.Errorf("memory: transfer from %s: %w", from, domain.ErrNotFound)
	}
	dst, ok := t.account(to)
	if !ok {
		return fmt.Errorf("memory: transfer to %s: %w", to, domain.ErrNotFound)
	}
	if src.Unit != dst.Unit {
		return fmt.Errorf("memory: transfer %s to %s: unit mismatch", from, to)
	}
	if src.Balance < amount {
		return fmt.Errorf("memory: transfer from %s: %w", from, domain.ErrInsufficientFunds)
	}
	if from != to {
		if _, err := pricing.Add(dst.Balance, amount); err != nil {
			return fmt.Errorf("memory: transfer to %s: %w", to, err)
		}
	}
	if amount == 0 {
		return nil
	}
	t.transfers = append(t.transfers, domain.Transfer{
		ID:     newTransferID(),
		From:   from,
		To:     to,
		Amount: amount,
		At:     t.l.clock.Now(),
	})
	return nil
}

func (t *tx) BalanceOf(_ context.Context, account common.Hash) (uint64, error) {
	acc, ok := t.account(account)
	if !ok {
		return 0, fmt.Errorf("memory: account %s: %w", account, domain.ErrNotFound)
	}
	return acc.Balance, nil
}
