package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var (
	usdc  = domain.ValueUnit{Address: common.HexToAddress("0x3c499c542cef5e3811e1192ce70d8cc03d5c3359"), Symbol: "USDC", Decimals: 6}
	alice = address.Owner(common.HexToAddress("0x00000000000000000000000000000000000a11ce"))
	bob   = address.Owner(common.HexToAddress("0x0000000000000000000000000000000000000b0b"))
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(fixedClock{time.Unix(1_700_000_000, 0)}, usdc)
}

func TestDepositAndTransferCommit(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	if _, err := l.Deposit(ctx, alice, usdc.Address, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := l.Atomic(ctx, nil, func(tx domain.LedgerTx) error {
		if _, err := tx.CreateAccount(ctx, bob, usdc.Address); err != nil {
			return err
		}
		if err := tx.Transfer(ctx, address.Account(alice, usdc.Address), address.Account(bob, usdc.Address), 40); err != nil {
			return err
		}
		bal, err := tx.BalanceOf(ctx, address.Account(bob, usdc.Address))
		if err != nil {
			return err
		}
		if bal != 40 {
			t.Errorf("staged balance = %d, want 40", bal)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}

	a, _ := l.GetAccount(ctx, address.Account(alice, usdc.Address))
	b, _ := l.GetAccount(ctx, address.Account(bob, usdc.Address))
	if a.Balance != 60 || b.Balance != 40 {
		t.Errorf("balances alice=%d bob=%d, want 60/40", a.Balance, b.Balance)
	}
	if n := len(l.Transfers()); n != 1 {
		t.Errorf("journal has %d transfers, want 1", n)
	}
}

func TestFailedOperationLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	_, _ = l.Deposit(ctx, alice, usdc.Address, 100)

	boom := errors.New("boom")
	cfgAddr := address.Config()
	err := l.Atomic(ctx, []common.Hash{cfgAddr}, func(tx domain.LedgerTx) error {
		if err := tx.PutConfig(ctx, domain.Config{Address: cfgAddr, FeeBps: 10}); err != nil {
			return err
		}
		if _, err := tx.CreateAccount(ctx, bob, usdc.Address); err != nil {
			return err
		}
		if err := tx.Transfer(ctx, address.Account(alice, usdc.Address), address.Account(bob, usdc.Address), 50); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	if _, err := l.GetConfig(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("config leaked: %v", err)
	}
	if _, err := l.GetAccount(ctx, address.Account(bob, usdc.Address)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("account leaked: %v", err)
	}
	a, _ := l.GetAccount(ctx, address.Account(alice, usdc.Address))
	if a.Balance != 100 {
		t.Errorf("alice balance = %d, want 100", a.Balance)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	_, _ = l.Deposit(ctx, alice, usdc.Address, 10)
	_, _ = l.Deposit(ctx, bob, usdc.Address, 0)

	err := l.Atomic(ctx, nil, func(tx domain.LedgerTx) error {
		return tx.Transfer(ctx, address.Account(alice, usdc.Address), address.Account(bob, usdc.Address), 11)
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestUndeclaredRecordRejected(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	err := l.Atomic(ctx, nil, func(tx domain.LedgerTx) error {
		_, err := tx.Market(ctx, common.HexToHash("0x01"))
		return err
	})
	if !errors.Is(err, ErrUnlockedRecord) {
		t.Fatalf("err = %v, want ErrUnlockedRecord", err)
	}
}

func TestCreateAccountTwiceReportsExisting(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	err := l.Atomic(ctx, nil, func(tx domain.LedgerTx) error {
		if _, err := tx.CreateAccount(ctx, alice, usdc.Address); err != nil {
			return err
		}
		_, err := tx.CreateAccount(ctx, alice, usdc.Address)
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("second create err = %v, want ErrAlreadyExists", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}
}

func TestConcurrentTransfersConserveValue(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	_, _ = l.Deposit(ctx, alice, usdc.Address, 1_000)
	_, _ = l.Deposit(ctx, bob, usdc.Address, 1_000)

	aliceAcc := address.Account(alice, usdc.Address)
	bobAcc := address.Account(bob, usdc.Address)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = l.Atomic(ctx, []common.Hash{aliceAcc}, func(tx domain.LedgerTx) error {
				return tx.Transfer(ctx, aliceAcc, bobAcc, 7)
			})
		}()
		go func() {
			defer wg.Done()
			_ = l.Atomic(ctx, []common.Hash{bobAcc}, func(tx domain.LedgerTx) error {
				return tx.Transfer(ctx, bobAcc, aliceAcc, 3)
			})
		}()
	}
	wg.Wait()

	a, _ := l.GetAccount(ctx, aliceAcc)
	b, _ := l.GetAccount(ctx, bobAcc)
	if a.Balance+b.Balance != 2_000 {
		t.Fatalf("total = %d, want 2000", a.Balance+b.Balance)
	}
	if a.Balance != 1_000-50*7+50*3 {
		t.Errorf("alice = %d, want %d", a.Balance, 1_000-50*7+50*3)
	}
}

func TestAuditLogNewestFirst(t *testing.T) {
	ctx := context.Background()
	a := NewAuditLog(fixedClock{time.Unix(1_700_000_000, 0)})
	for _, ev := range []string{"config_initialized", "market_created", "shares_traded"} {
		if err := a.Log(ctx, ev, map[string]any{"event": ev}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := a.List(ctx, domain.ListOpts{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Event != "shares_traded" || got[1].Event != "market_created" {
		t.Fatalf("entries = %+v", got)
	}
	if got[0].ID != 3 {
		t.Errorf("id = %d, want 3", got[0].ID)
	}
}
