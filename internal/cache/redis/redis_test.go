package redis

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ChiefWoods/prediction/internal/domain"
)

func TestObservationEncoding(t *testing.T) {
	feed := common.HexToHash("0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace")
	obs := domain.Observation{
		FeedID:     feed,
		Price:      decimal.RequireFromString("2500.123456789"),
		ObservedAt: time.Unix(1_700_000_000, 123).UTC(),
	}

	raw := encodeObservation(obs)
	vals := make(map[string]string, len(raw))
	for k, v := range raw {
		vals[k] = v.(string)
	}

	got, err := decodeObservation(feed, vals)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Price.Equal(obs.Price) || !got.ObservedAt.Equal(obs.ObservedAt) || got.FeedID != feed {
		t.Errorf("got %+v, want %+v", got, obs)
	}
}

func TestDecodeObservationMissing(t *testing.T) {
	tests := []struct {
		name string
		vals map[string]string
		want error
	}{
		{"empty hash", map[string]string{}, domain.ErrNotFound},
		{"no timestamp", map[string]string{"price": "1"}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeObservation(common.Hash{}, tt.vals); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := decodeObservation(common.Hash{}, map[string]string{"price": "x", "observed_at": "1"}); err == nil {
		t.Error("bad price should fail")
	}
}

func TestKeysAreNamespaced(t *testing.T) {
	for _, k := range []string{lockKey("m"), rateLimitKey("a"), priceKey(common.Hash{}), channelKey("trades"), streamKey("trades")} {
		if !strings.HasPrefix(k, keyPrefix) {
			t.Errorf("key %q lacks prefix", k)
		}
	}
}
