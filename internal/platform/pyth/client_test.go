package pyth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ChiefWoods/prediction/internal/domain"
)

const solFeedHex = "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"

func TestObserve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/updates/price/latest" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query()["ids[]"]; len(got) != 1 || got[0] != solFeedHex {
			t.Errorf("ids = %v", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"binary":{"encoding":"hex","data":["00"]},"parsed":[{"id":"` + solFeedHex + `",
			"price":{"price":"15012345678","conf":"1234","expo":-8,"publish_time":1700000000},
			"ema_price":{"price":"15000000000","conf":"1000","expo":-8,"publish_time":1700000000}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	obs, err := c.Observe(context.Background(), common.HexToHash(solFeedHex))
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if want := decimal.RequireFromString("150.12345678"); !obs.Price.Equal(want) {
		t.Errorf("price = %s, want %s", obs.Price, want)
	}
	if obs.ObservedAt.Unix() != 1_700_000_000 {
		t.Errorf("observed at %v", obs.ObservedAt)
	}
}

func TestObserveMissingFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"parsed":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Observe(context.Background(), common.HexToHash(solFeedHex))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestObserveServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, time.Second).Observe(context.Background(), common.HexToHash(solFeedHex)); err == nil {
		t.Fatal("expected error")
	}
}
