package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ChiefWoods/prediction/internal/domain"
)

var feed = common.HexToHash("0x01")

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type mapCache struct {
	obs    map[common.Hash]domain.Observation
	setErr error
}

func (m *mapCache) SetPrice(_ context.Context, obs domain.Observation) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.obs[obs.FeedID] = obs
	return nil
}

func (m *mapCache) GetPrice(_ context.Context, feedID common.Hash) (domain.Observation, error) {
	obs, ok := m.obs[feedID]
	if !ok {
		return domain.Observation{}, domain.ErrNotFound
	}
	return obs, nil
}

type failing struct{ err error }

func (f failing) Observe(context.Context, common.Hash) (domain.Observation, error) {
	return domain.Observation{}, f.err
}

func TestStatic(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewStatic(fixedClock{now}, map[common.Hash]decimal.Decimal{feed: decimal.NewFromInt(150)})

	obs, err := s.Observe(context.Background(), feed)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if !obs.Price.Equal(decimal.NewFromInt(150)) || !obs.ObservedAt.Equal(now) {
		t.Errorf("unexpected observation %+v", obs)
	}

	if _, err := s.Observe(context.Background(), common.HexToHash("0x02")); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown feed err = %v", err)
	}
}

func TestWriteThroughThenCachedFallback(t *testing.T) {
	ctx := context.Background()
	cache := &mapCache{obs: map[common.Hash]domain.Observation{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := NewStatic(fixedClock{time.Unix(100, 0)}, map[common.Hash]decimal.Decimal{feed: decimal.NewFromInt(7)})

	if _, err := NewWriteThrough(src, cache, logger).Observe(ctx, feed); err != nil {
		t.Fatalf("write through: %v", err)
	}

	chain := Chain{failing{errors.New("hermes down")}, NewCached(cache)}
	obs, err := chain.Observe(ctx, feed)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if !obs.Price.Equal(decimal.NewFromInt(7)) {
		t.Errorf("price = %s, want 7", obs.Price)
	}
}

func TestWriteThroughIgnoresCacheFailure(t *testing.T) {
	cache := &mapCache{obs: map[common.Hash]domain.Observation{}, setErr: errors.New("redis down")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := NewStatic(nil, map[common.Hash]decimal.Decimal{feed: decimal.NewFromInt(1)})

	if _, err := NewWriteThrough(src, cache, logger).Observe(context.Background(), feed); err != nil {
		t.Fatalf("observe: %v", err)
	}
}

func TestChainJoinsErrors(t *testing.T) {
	a, b := errors.New("a"), errors.New("b")
	_, err := Chain{failing{a}, failing{b}}.Observe(context.Background(), feed)
	if !errors.Is(err, a) || !errors.Is(err, b) {
		t.Fatalf("err = %v, want both errors", err)
	}
}
