package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ChiefWoods/prediction/internal/domain"
)

func TestClaimRequiresSettlement(t *testing.T) {
	f := newFixture(t, Options{})
	f.open(t, alice)
	f.trade(t, alice, 1, true, true)

	if _, err := f.eng.ClaimWinnings(f.ctx, alice, f.market.Address); !errors.Is(err, domain.ErrMarketNotSettled) {
		t.Fatalf("err = %v, want ErrMarketNotSettled", err)
	}
}

func TestClaimWithoutWinningShares(t *testing.T) {
	f := newFixture(t, Options{})
	f.open(t, alice)
	f.open(t, bob)
	f.trade(t, alice, 4, true, false)
	f.trade(t, bob, 4, true, true)
	f.settleAt(t, f.market.ResolveTs, 500)

	if _, err := f.eng.ClaimWinnings(f.ctx, alice, f.market.Address); !errors.Is(err, domain.ErrNoClaimableWinnings) {
		t.Fatalf("err = %v, want ErrNoClaimableWinnings", err)
	}
	if _, err := f.eng.ClaimWinnings(f.ctx, carol, f.market.Address); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("no position err = %v, want ErrNotFound", err)
	}
}

func TestClaimPaysProRataOnce(t *testing.T) {
	f := newFixture(t, Options{})
	f.open(t, alice)
	f.open(t, bob)
	f.open(t, carol)
	f.trade(t, alice, 10, true, true)
	f.trade(t, bob, 30, true, true)
	f.trade(t, carol, 20, true, false)

	pool := f.escrow(t)
	if pool != 59_940_000 {
		t.Fatalf("pool = %d, want 59940000", pool)
	}
	f.settleAt(t, f.market.ResolveTs, 151)

	aliceBefore, bobBefore := f.wallet(t, alice), f.wallet(t, bob)

	ra, err := f.eng.ClaimWinnings(f.ctx, alice, f.market.Address)
	if err != nil {
		t.Fatalf("alice claim: %v", err)
	}
	if ra.Payout != 14_985_000 || ra.WinningShares != 10 {
		t.Errorf("alice receipt %+v", ra)
	}
	rb, err := f.eng.ClaimWinnings(f.ctx, bob, f.market.Address)
	if err != nil {
		t.Fatalf("bob claim: %v", err)
	}
	if rb.Payout != 44_955_000 {
		t.Errorf("bob payout = %d, want 44955000", rb.Payout)
	}

	if got := f.wallet(t, alice) - aliceBefore; got != ra.Payout {
		t.Errorf("alice received %d, want %d", got, ra.Payout)
	}
	if got := f.wallet(t, bob) - bobBefore; got != rb.Payout {
		t.Errorf("bob received %d, want %d", got, rb.Payout)
	}
	if got := f.escrow(t); got != 0 {
		t.Errorf("escrow = %d after all winners claimed, want 0", got)
	}
	if ra.Payout+rb.Payout != pool {
		t.Errorf("payouts %d != pool %d", ra.Payout+rb.Payout, pool)
	}

	if _, err := f.eng.ClaimWinnings(f.ctx, alice, f.market.Address); !errors.Is(err, domain.ErrNoClaimableWinnings) {
		t.Fatalf("second claim err = %v, want ErrNoClaimableWinnings", err)
	}
	if p := f.position(t, alice); !p.Claimed() || p.Payout != ra.Payout {
		t.Errorf("position not marked claimed: %+v", p)
	}
}

func TestClaimOrderDoesNotChangePayouts(t *testing.T) {
	payouts := func(order []common.Address) map[common.Address]uint64 {
		f := newFixture(t, Options{})
		for _, who := range []common.Address{alice, bob, carol} {
			f.open(t, who)
		}
		f.trade(t, alice, 1, true, false)
		f.trade(t, bob, 2, true, false)
		f.trade(t, carol, 4, true, false)
		f.trade(t, alice, 3, true, true)
		f.settleAt(t, f.market.ResolveTs, 1)

		out := map[common.Address]uint64{}
		for _, who := range order {
			r, err := f.eng.ClaimWinnings(f.ctx, who, f.market.Address)
			if err != nil {
				t.Fatalf("claim: %v", err)
			}
			out[who] = r.Payout
		}
		if got := f.escrow(t); got != 0 {
			t.Errorf("escrow = %d, want 0", got)
		}
		return out
	}

	forward := payouts([]common.Address{alice, bob, carol})
	backward := payouts([]common.Address{carol, bob, alice})
	for _, who := range []common.Address{alice, bob, carol} {
		diff := int64(forward[who]) - int64(backward[who])
		if diff < -1 || diff > 1 {
			t.Errorf("%s payout %d vs %d depends on claim order", who, forward[who], backward[who])
		}
	}
}

func TestUndecidedMarketRefundsBothSides(t *testing.T) {
	f := newFixture(t, Options{ResolveWindow: time.Minute})
	f.open(t, alice)
	f.open(t, bob)
	f.trade(t, alice, 2, true, true)
	f.trade(t, alice, 2, true, false)
	f.trade(t, bob, 4, true, false)
	pool := f.escrow(t)

	f.clock.Set(f.market.ResolveTs + 3600)
	s, err := f.eng.SettleMarket(f.ctx, authority, f.market.Address)
	if err != nil || s.State != domain.MarketStateUndecided {
		t.Fatalf("settle = %+v, %v", s, err)
	}

	ra, err := f.eng.ClaimWinnings(f.ctx, alice, f.market.Address)
	if err != nil {
		t.Fatalf("alice claim: %v", err)
	}
	rb, err := f.eng.ClaimWinnings(f.ctx, bob, f.market.Address)
	if err != nil {
		t.Fatalf("bob claim: %v", err)
	}
	if ra.WinningShares != 4 || ra.Payout != pool/2 || rb.Payout != pool-pool/2 {
		t.Errorf("refunds alice=%+v bob=%+v pool=%d", ra, rb, pool)
	}
}

func TestConcurrentSettleAndClaimSucceedOnce(t *testing.T) {
	const attempts = 16

	f := newFixture(t, Options{})
	f.open(t, alice)
	f.open(t, bob)
	f.trade(t, alice, 10, true, true)
	f.trade(t, bob, 5, true, false)
	pool := f.escrow(t)

	f.clock.Set(f.market.ResolveTs)
	f.oracle.obs = domain.Observation{Price: decimal.NewFromInt(200), ObservedAt: time.Unix(f.market.ResolveTs, 0)}

	run := func(op func() error, alreadyDone error) (ok int64) {
		var wg sync.WaitGroup
		for range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := op()
				switch {
				case err == nil:
					atomic.AddInt64(&ok, 1)
				case !errors.Is(err, alreadyDone):
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		return ok
	}

	settled := run(func() error {
		_, err := f.eng.SettleMarket(f.ctx, authority, f.market.Address)
		return err
	}, domain.ErrMarketAlreadySettled)
	if settled != 1 {
		t.Fatalf("settled %d times, want 1", settled)
	}

	before := f.wallet(t, alice)
	claimed := run(func() error {
		_, err := f.eng.ClaimWinnings(f.ctx, alice, f.market.Address)
		return err
	}, domain.ErrNoClaimableWinnings)
	if claimed != 1 {
		t.Fatalf("claimed %d times, want 1", claimed)
	}

	if got := f.wallet(t, alice) - before; got != pool {
		t.Errorf("alice received %d, want the whole pool %d", got, pool)
	}
	if got := f.escrow(t); got != 0 {
		t.Errorf("escrow = %d, want 0", got)
	}
	if p := f.position(t, alice); !p.Claimed() || p.Payout != pool {
		t.Errorf("position %+v", p)
	}
}
