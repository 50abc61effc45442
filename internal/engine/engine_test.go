package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ChiefWoods/prediction/internal/address"
	"github.com/ChiefWoods/prediction/internal/domain"
	"github.com/ChiefWoods/prediction/internal/ledger/memory"
)

const (
	startTs    = int64(1_700_000_000)
	openPeriod = int64(24 * 60 * 60)
	oneUSDC    = uint64(1_000_000)
	initialBal = 100 * oneUSDC
)

var (
	usdc = domain.ValueUnit{
		Address:  common.HexToAddress("0x3c499c542cef5e3811e1192ce70d8cc03d5c3359"),
		Symbol:   "USDC",
		Decimals: 6,
	}
	solFeed   = common.HexToHash("0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d")
	authority = common.HexToAddress("0x00000000000000000000000000000000000a0a0a")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(ts, 0).UTC()
}

type stubOracle struct {
	mu    sync.Mutex
	obs   domain.Observation
	err   error
	calls int
}

func (o *stubOracle) Observe(_ context.Context, feedID common.Hash) (domain.Observation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return domain.Observation{}, o.err
	}
	obs := o.obs
	obs.FeedID = feedID
	return obs, nil
}

type fixture struct {
	ctx    context.Context
	eng    *Engine
	ledger *memory.Ledger
	clock  *testClock
	oracle *stubOracle
	cfg    domain.Config
	market domain.Market
}

// newFixture initializes a config at 10 bps, a market resolving in one day
// against a target of 150 and funds alice, bob and carol with 100 USDC each.
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := &testClock{}
	clock.Set(startTs)
	ledger := memory.New(clock, usdc)
	oracle := &stubOracle{}

	f := &fixture{
		ctx:    ctx,
		eng:    New(ledger, oracle, clock, opts),
		ledger: ledger,
		clock:  clock,
		oracle: oracle,
	}

	var err error
	f.cfg, err = f.eng.InitializeConfig(ctx, authority, usdc.Address, 10)
	if err != nil {
		t.Fatalf("initialize config: %v", err)
	}
	f.market, err = f.eng.CreateMarket(ctx, authority, domain.MarketParams{
		ResolveTs:   startTs + openPeriod,
		TargetPrice: decimal.NewFromInt(150),
		Title:       "Will SOL reach $150 in 24 hours?",
		PriceFeedID: solFeed,
	})
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	for _, who := range []common.Address{alice, bob, carol} {
		if _, err := ledger.Deposit(ctx, address.Owner(who), usdc.Address, initialBal); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	return f
}

func (f *fixture) balance(t *testing.T, account common.Hash) uint64 {
	t.Helper()
	acc, err := f.ledger.GetAccount(f.ctx, account)
	if err != nil {
		t.Fatalf("get account %s: %v", account, err)
	}
	return acc.Balance
}

func (f *fixture) wallet(t *testing.T, who common.Address) uint64 {
	t.Helper()
	return f.balance(t, address.Account(address.Owner(who), usdc.Address))
}

func (f *fixture) escrow(t *testing.T) uint64   { return f.balance(t, f.market.Escrow) }
func (f *fixture) treasury(t *testing.T) uint64 { return f.balance(t, f.cfg.Treasury) }

func (f *fixture) open(t *testing.T, who common.Address) {
	t.Helper()
	if _, err := f.eng.OpenPosition(f.ctx, who, f.market.Address); err != nil {
		t.Fatalf("open position: %v", err)
	}
}

func (f *fixture) trade(t *testing.T, who common.Address, shares uint64, isBuy, isPass bool) domain.TradeReceipt {
	t.Helper()
	r, err := f.eng.TradeShares(f.ctx, who, f.market.Address, domain.TradeRequest{Shares: shares, IsBuy: isBuy, IsPass: isPass})
	if err != nil {
		t.Fatalf("trade %d (buy=%v pass=%v): %v", shares, isBuy, isPass, err)
	}
	return r
}

func (f *fixture) position(t *testing.T, who common.Address) domain.Position {
	t.Helper()
	p, err := f.ledger.GetPosition(f.ctx, address.Position(who, f.market.Address))
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	return p
}

func (f *fixture) settleAt(t *testing.T, ts int64, price int64) domain.Settlement {
	t.Helper()
	f.clock.Set(ts)
	f.oracle.obs = domain.Observation{Price: decimal.NewFromInt(price), ObservedAt: time.Unix(ts, 0)}
	s, err := f.eng.SettleMarket(f.ctx, authority, f.market.Address)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	return s
}

func TestInitializeConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects fee above one whole", func(t *testing.T) {
		eng := New(memory.New(nil, usdc), &stubOracle{}, nil, Options{})
		if _, err := eng.InitializeConfig(ctx, authority, usdc.Address, 10_001); !errors.Is(err, domain.ErrInvalidFee) {
			t.Fatalf("err = %v, want ErrInvalidFee", err)
		}
	})

	t.Run("accepts full fee", func(t *testing.T) {
		eng := New(memory.New(nil, usdc), &stubOracle{}, nil, Options{})
		cfg, err := eng.InitializeConfig(ctx, authority, usdc.Address, 10_000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.FeeBps != 10_000 || cfg.Decimals != 6 || cfg.Authority != authority {
			t.Errorf("unexpected config %+v", cfg)
		}
	})

	t.Run("rejects unknown unit", func(t *testing.T) {
		eng := New(memory.New(nil, usdc), &stubOracle{}, nil, Options{})
		if _, err := eng.InitializeConfig(ctx, authority, common.HexToAddress("0xdead"), 10); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("second initialization fails", func(t *testing.T) {
		f := newFixture(t, Options{})
		if _, err := f.eng.InitializeConfig(ctx, bob, usdc.Address, 5); !errors.Is(err, domain.ErrAlreadyInitialized) {
			t.Fatalf("err = %v, want ErrAlreadyInitialized", err)
		}
		cfg, _ := f.ledger.GetConfig(ctx)
		if cfg.Authority != authority || cfg.FeeBps != 10 {
			t.Errorf("config overwritten: %+v", cfg)
		}
		if got := f.treasury(t); got != 0 {
			t.Errorf("treasury = %d, want 0", got)
		}
	})
}

func TestUpdateFee(t *testing.T) {
	f := newFixture(t, Options{})

	if _, err := f.eng.UpdateFee(f.ctx, bob, 20); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if _, err := f.eng.UpdateFee(f.ctx, authority, 10_001); !errors.Is(err, domain.ErrInvalidFee) {
		t.Fatalf("err = %v, want ErrInvalidFee", err)
	}

	f.open(t, alice)
	before := f.trade(t, alice, 1, true, true)
	if _, err := f.eng.UpdateFee(f.ctx, authority, 100); err != nil {
		t.Fatalf("update fee: %v", err)
	}
	after := f.trade(t, alice, 1, true, true)
	if before.Fee != 1_000 || after.Fee != 10_000 {
		t.Errorf("fees = %d, %d, want 1000, 10000", before.Fee, after.Fee)
	}
}

func TestCreateMarket(t *testing.T) {
	f := newFixture(t, Options{})
	params := domain.MarketParams{
		ResolveTs:   startTs + 60,
		TargetPrice: decimal.RequireFromString("2500.5"),
		Title:       "ETH above 2500.5?",
		PriceFeedID: common.HexToHash("0x01"),
	}

	t.Run("unauthorized", func(t *testing.T) {
		if _, err := f.eng.CreateMarket(f.ctx, bob, params); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("deadline not in the future", func(t *testing.T) {
		p := params
		p.ResolveTs = startTs
		if _, err := f.eng.CreateMarket(f.ctx, authority, p); !errors.Is(err, domain.ErrInvalidDeadline) {
			t.Fatalf("err = %v, want ErrInvalidDeadline", err)
		}
	})

	t.Run("empty title", func(t *testing.T) {
		p := params
		p.Title = "  "
		if _, err := f.eng.CreateMarket(f.ctx, authority, p); !errors.Is(err, domain.ErrInvalidTitle) {
			t.Fatalf("err = %v, want ErrInvalidTitle", err)
		}
	})

	t.Run("title too long", func(t *testing.T) {
		p := params
		p.Title = strings.Repeat("x", MaxTitleLen+1)
		if _, err := f.eng.CreateMarket(f.ctx, authority, p); !errors.Is(err, domain.ErrInvalidTitle) {
			t.Fatalf("err = %v, want ErrInvalidTitle", err)
		}
	})

	t.Run("title stored as given", func(t *testing.T) {
		p := params
		p.ResolveTs = startTs + 120
		p.Title = "  padded title "
		m, err := f.eng.CreateMarket(f.ctx, authority, p)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if m.Title != p.Title {
			t.Errorf("title = %q, want %q", m.Title, p.Title)
		}
	})

	t.Run("created open with empty escrow", func(t *testing.T) {
		m, err := f.eng.CreateMarket(f.ctx, authority, params)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if m.Address != address.Market(params.PriceFeedID, params.ResolveTs) {
			t.Errorf("address %s not derived from feed and deadline", m.Address)
		}
		if m.State != domain.MarketStateOpen || m.ValueUnit != usdc.Address {
			t.Errorf("unexpected market %+v", m)
		}
		if got := f.balance(t, m.Escrow); got != 0 {
			t.Errorf("escrow = %d, want 0", got)
		}
	})

	t.Run("duplicate feed and deadline", func(t *testing.T) {
		p := params
		p.Title = "a different title"
		if _, err := f.eng.CreateMarket(f.ctx, authority, p); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("err = %v, want ErrAlreadyExists", err)
		}
		m, _ := f.ledger.GetMarket(f.ctx, address.Market(params.PriceFeedID, params.ResolveTs))
		if m.Title != params.Title {
			t.Errorf("title overwritten to %q", m.Title)
		}
	})

	t.Run("requires config", func(t *testing.T) {
		eng := New(memory.New(nil, usdc), &stubOracle{}, nil, Options{})
		if _, err := eng.CreateMarket(f.ctx, authority, params); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestOpenPosition(t *testing.T) {
	f := newFixture(t, Options{})

	p, err := f.eng.OpenPosition(f.ctx, alice, f.market.Address)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if p.PassShares != 0 || p.FailShares != 0 || p.Claimed() || p.Authority != alice {
		t.Errorf("unexpected position %+v", p)
	}

	if _, err := f.eng.OpenPosition(f.ctx, alice, f.market.Address); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second open err = %v, want ErrAlreadyExists", err)
	}
	if _, err := f.eng.OpenPosition(f.ctx, alice, common.HexToHash("0x42")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown market err = %v, want ErrNotFound", err)
	}
}
