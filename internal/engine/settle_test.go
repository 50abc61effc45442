package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ChiefWoods/prediction/internal/domain"
)

func TestSettleMarketOutcome(t *testing.T) {
	tests := []struct {
		name  string
		price string
		want  domain.MarketState
	}{
		{"above target", "151.2", domain.MarketStatePassed},
		{"at target", "150", domain.MarketStatePassed},
		{"below target", "149.99999", domain.MarketStateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{MaxStaleness: time.Minute})
			now := f.market.ResolveTs + 5
			f.clock.Set(now)
			f.oracle.obs = domain.Observation{
				Price:      decimal.RequireFromString(tt.price),
				ObservedAt: time.Unix(now-2, 0),
			}

			s, err := f.eng.SettleMarket(f.ctx, authority, f.market.Address)
			if err != nil {
				t.Fatalf("settle: %v", err)
			}
			if s.State != tt.want {
				t.Errorf("state = %s, want %s", s.State, tt.want)
			}
			m, _ := f.ledger.GetMarket(f.ctx, f.market.Address)
			if m.State != tt.want || m.SettledPrice == nil || !m.SettledPrice.Equal(f.oracle.obs.Price) {
				t.Errorf("stored market %+v", m)
			}
		})
	}
}

func TestSettleMarketRejections(t *testing.T) {
	t.Run("before deadline", func(t *testing.T) {
		f := newFixture(t, Options{})
		for _, ts := range []int64{startTs, f.market.ResolveTs - 1} {
			f.clock.Set(ts)
			if _, err := f.eng.SettleMarket(f.ctx, authority, f.market.Address); !errors.Is(err, domain.ErrMarketCannotResolve) {
				t.Fatalf("at %d err = %v, want ErrMarketCannotResolve", ts, err)
			}
		}
		if f.oracle.calls != 0 {
			t.Errorf("oracle consulted %d times before deadline", f.oracle.calls)
		}
	})

	t.Run("twice", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.settleAt(t, f.market.ResolveTs, 200)
		for _, ts := range []int64{f.market.ResolveTs, f.market.ResolveTs + 3600} {
			f.clock.Set(ts)
			if _, err := f.eng.SettleMarket(f.ctx, authority, f.market.Address); !errors.Is(err, domain.ErrMarketAlreadySettled) {
				t.Fatalf("err = %v, want ErrMarketAlreadySettled", err)
			}
		}
		m, _ := f.ledger.GetMarket(f.ctx, f.market.Address)
		if m.State != domain.MarketStatePassed {
			t.Errorf("state changed to %s", m.State)
		}
	})

	t.Run("not the authority", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.clock.Set(f.market.ResolveTs)
		if _, err := f.eng.SettleMarket(f.ctx, alice, f.market.Address); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("stale observation", func(t *testing.T) {
		f := newFixture(t, Options{MaxStaleness: time.Minute})
		now := f.market.ResolveTs + 10
		f.clock.Set(now)
		f.oracle.obs = domain.Observation{Price: decimal.NewFromInt(200), ObservedAt: time.Unix(now-61, 0)}
		if _, err := f.eng.SettleMarket(f.ctx, authority, f.market.Address); !errors.Is(err, domain.ErrStalePrice) {
			t.Fatalf("err = %v, want ErrStalePrice", err)
		}
		m, _ := f.ledger.GetMarket(f.ctx, f.market.Address)
		if m.State != domain.MarketStateOpen {
			t.Errorf("state = %s after stale observation", m.State)
		}
	})

	t.Run("oracle failure", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.clock.Set(f.market.ResolveTs)
		boom := errors.New("feed unavailable")
		f.oracle.err = boom
		if _, err := f.eng.SettleMarket(f.ctx, authority, f.market.Address); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want oracle error", err)
		}
	})
}

func TestSettleAfterResolveWindowIsUndecided(t *testing.T) {
	f := newFixture(t, Options{ResolveWindow: 15 * time.Minute})
	f.clock.Set(f.market.ResolveTs + 15*60 + 1)

	s, err := f.eng.SettleMarket(f.ctx, authority, f.market.Address)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if s.State != domain.MarketStateUndecided {
		t.Errorf("state = %s, want undecided", s.State)
	}
	if f.oracle.calls != 0 {
		t.Errorf("oracle consulted for an undecided market")
	}
}

func TestSettleWithinResolveWindowUsesOracle(t *testing.T) {
	f := newFixture(t, Options{ResolveWindow: 15 * time.Minute})
	s := f.settleAt(t, f.market.ResolveTs+15*60, 10)
	if s.State != domain.MarketStateFailed {
		t.Errorf("state = %s, want failed", s.State)
	}
}
