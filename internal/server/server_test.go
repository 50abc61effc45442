package server

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/ChiefWoods/prediction/internal/cache/local"
	"github.com/ChiefWoods/prediction/internal/crypto"
	"github.com/ChiefWoods/prediction/internal/domain"
	"github.com/ChiefWoods/prediction/internal/engine"
	"github.com/ChiefWoods/prediction/internal/ledger/memory"
	"github.com/ChiefWoods/prediction/internal/metrics"
	"github.com/ChiefWoods/prediction/internal/oracle"
	"github.com/ChiefWoods/prediction/internal/server/handler"
	"github.com/ChiefWoods/prediction/internal/service"
)

const (
	startTs  = int64(1_700_000_000)
	adminKey = "admin-secret"
)

var (
	usdc = domain.ValueUnit{
		Address:  common.HexToAddress("0x3c499c542cef5e3811e1192ce70d8cc03d5c3359"),
		Symbol:   "USDC",
		Decimals: 6,
	}
	feed = common.HexToHash("0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d")
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

type apiFixture struct {
	t     *testing.T
	srv   *httptest.Server
	clock *testClock
}

func newAPI(t *testing.T, cfg Config, limiter domain.RateLimiter) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{}
	clock.Set(startTs)
	ledger := memory.New(clock, usdc)
	prices := oracle.NewStatic(clock, map[common.Hash]decimal.Decimal{feed: decimal.NewFromInt(140)})
	m := metrics.New()
	svc := service.NewPredictionService(service.Deps{
		Engine:    engine.New(ledger, prices, clock, engine.Options{}),
		Ledger:    ledger,
		Bus:       local.NewBus(0),
		Audit:     memory.NewAuditLog(clock),
		Metrics:   m,
		Depositor: ledger,
		Clock:     clock,
		Logger:    logger,
	})

	cfg.AuthMaxSkew = time.Minute
	cfg.AdminAPIKey = adminKey
	s := NewServer(cfg, Handlers{
		Health:    handler.NewHealthHandler(map[string]handler.Pinger{"ledger": svc.Ping}, logger),
		Config:    handler.NewConfigHandler(svc, logger),
		Markets:   handler.NewMarketHandler(svc, logger),
		Positions: handler.NewPositionHandler(svc, logger),
		Accounts:  handler.NewAccountHandler(svc, logger),
	}, Deps{Limiter: limiter, Metrics: m, Clock: clock}, logger)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &apiFixture{t: t, srv: srv, clock: clock}
}

type response struct {
	status int
	body   []byte
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(r.body, v); err != nil {
		t.Fatalf("decode %s: %v", r.body, err)
	}
}

func (r response) code(t *testing.T) string {
	t.Helper()
	var e struct {
		Code string `json:"code"`
	}
	r.decode(t, &e)
	return e.Code
}

// do sends a request, signed by key when key is not nil.
func (f *apiFixture) do(method, path string, body any, key *ecdsa.PrivateKey, header http.Header) response {
	f.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			f.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		f.t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if key != nil {
		if err := crypto.NewSigner(key).SignRequest(req, raw, f.clock.Now()); err != nil {
			f.t.Fatal(err)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		f.t.Fatal(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return response{status: resp.StatusCode, body: out}
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key, ethcrypto.PubkeyToAddress(key.PublicKey)
}

func expect(t *testing.T, r response, status int) {
	t.Helper()
	if r.status != status {
		t.Fatalf("status = %d, want %d: %s", r.status, status, r.body)
	}
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	f := newAPI(t, Config{}, nil)
	authKey, _ := newKey(t)
	aliceKey, alice := newKey(t)

	expect(t, f.do(http.MethodPost, "/api/config", map[string]any{
		"value_unit": usdc.Address, "fee_bps": 10,
	}, authKey, nil), http.StatusCreated)

	var market domain.Market
	r := f.do(http.MethodPost, "/api/markets", map[string]any{
		"resolve_ts":    startTs + 3600,
		"target_price":  "150",
		"title":         "SOL above 150",
		"price_feed_id": feed,
	}, authKey, nil)
	expect(t, r, http.StatusCreated)
	r.decode(t, &market)
	base := "/api/markets/" + market.Address.Hex()

	// Only the config authority creates markets.
	r = f.do(http.MethodPost, "/api/markets", map[string]any{
		"resolve_ts": startTs + 7200, "target_price": "1", "title": "x", "price_feed_id": feed,
	}, aliceKey, nil)
	expect(t, r, http.StatusForbidden)

	expect(t, f.do(http.MethodPost, "/api/admin/deposits", map[string]any{
		"owner": alice, "amount": 20_000_000,
	}, nil, http.Header{"X-Api-Key": {adminKey}}), http.StatusOK)

	expect(t, f.do(http.MethodPost, base+"/positions", nil, aliceKey, nil), http.StatusCreated)

	var receipt domain.TradeReceipt
	r = f.do(http.MethodPost, base+"/trades", domain.TradeRequest{Shares: 10, IsBuy: true, IsPass: false}, aliceKey, nil)
	expect(t, r, http.StatusOK)
	r.decode(t, &receipt)
	if receipt.Price != 10_000_000 || receipt.Fee != 10_000 {
		t.Fatalf("receipt = %+v", receipt)
	}

	r = f.do(http.MethodPost, base+"/trades", domain.TradeRequest{Shares: 11, IsPass: false}, aliceKey, nil)
	expect(t, r, http.StatusUnprocessableEntity)
	if c := r.code(t); c != "insufficient_shares_to_sell" {
		t.Errorf("code = %q", c)
	}

	r = f.do(http.MethodPost, base+"/settle", nil, authKey, nil)
	expect(t, r, http.StatusConflict)
	if c := r.code(t); c != "market_cannot_resolve" {
		t.Errorf("code = %q", c)
	}

	f.clock.Set(startTs + 3600)
	var st domain.Settlement
	r = f.do(http.MethodPost, base+"/settle", nil, authKey, nil)
	expect(t, r, http.StatusOK)
	r.decode(t, &st)
	if st.State != domain.MarketStateFailed {
		t.Fatalf("state = %s", st.State)
	}
	// Identical requests must carry a fresh timestamp, otherwise they are replays.
	f.clock.Set(startTs + 3601)
	expect(t, f.do(http.MethodPost, base+"/settle", nil, authKey, nil), http.StatusConflict)

	var claim domain.ClaimReceipt
	r = f.do(http.MethodPost, base+"/claim", nil, aliceKey, nil)
	expect(t, r, http.StatusOK)
	r.decode(t, &claim)
	if claim.Payout != 9_990_000 {
		t.Errorf("payout = %d", claim.Payout)
	}
	f.clock.Set(startTs + 3602)
	r = f.do(http.MethodPost, base+"/claim", nil, aliceKey, nil)
	expect(t, r, http.StatusUnprocessableEntity)

	var acc domain.Account
	r = f.do(http.MethodGet, "/api/accounts/"+alice.Hex(), nil, nil, nil)
	expect(t, r, http.StatusOK)
	r.decode(t, &acc)
	if acc.Balance != 20_000_000-10_000_000+9_990_000 {
		t.Errorf("balance = %d", acc.Balance)
	}

	var pos domain.Position
	r = f.do(http.MethodGet, base+"/positions/"+alice.Hex(), nil, nil, nil)
	expect(t, r, http.StatusOK)
	r.decode(t, &pos)
	if pos.Status != domain.PositionStatusClaimed {
		t.Errorf("position = %+v", pos)
	}

	var events struct {
		Events []struct {
			ID    string       `json:"id"`
			Event domain.Event `json:"event"`
		} `json:"events"`
		LastID string `json:"last_id"`
	}
	r = f.do(http.MethodGet, "/api/events?limit=3", nil, nil, nil)
	expect(t, r, http.StatusOK)
	r.decode(t, &events)
	if len(events.Events) != 3 || events.Events[0].Event.Type != domain.EventConfigInitialized {
		t.Fatalf("events = %+v", events)
	}
	if events.LastID != events.Events[2].ID {
		t.Errorf("last_id = %q", events.LastID)
	}
}

func TestAuthentication(t *testing.T) {
	f := newAPI(t, Config{}, nil)
	key, _ := newKey(t)

	tests := []struct {
		name   string
		header http.Header
		key    *ecdsa.PrivateKey
		path   string
		status int
		code   string
	}{
		{name: "unsigned", path: "/api/config", status: http.StatusUnauthorized, code: "missing_signature"},
		{
			name:   "forged address",
			key:    key,
			header: http.Header{},
			path:   "/api/config",
			status: http.StatusUnauthorized,
			code:   "bad_signature",
		},
		{name: "admin without key", path: "/api/admin/deposits", status: http.StatusUnauthorized, code: "unauthorized"},
		{
			name:   "admin wrong key",
			header: http.Header{"Authorization": {"Bearer nope"}},
			path:   "/api/admin/deposits",
			status: http.StatusUnauthorized,
			code:   "unauthorized",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := map[string]any{"value_unit": usdc.Address, "fee_bps": 1}
			var r response
			if tt.name == "forged address" {
				r = f.doForged(tt.path, body, tt.key)
			} else {
				r = f.do(http.MethodPost, tt.path, body, tt.key, tt.header)
			}
			expect(t, r, tt.status)
			if c := r.code(t); c != tt.code {
				t.Errorf("code = %q, want %q", c, tt.code)
			}
		})
	}
}

func TestSignedRequestCannotBeReplayed(t *testing.T) {
	f := newAPI(t, Config{}, nil)
	authKey, _ := newKey(t)
	aliceKey, alice := newKey(t)

	expect(t, f.do(http.MethodPost, "/api/config", map[string]any{
		"value_unit": usdc.Address, "fee_bps": 10,
	}, authKey, nil), http.StatusCreated)
	var market domain.Market
	r := f.do(http.MethodPost, "/api/markets", map[string]any{
		"resolve_ts": startTs + 3600, "target_price": "150", "title": "SOL above 150", "price_feed_id": feed,
	}, authKey, nil)
	expect(t, r, http.StatusCreated)
	r.decode(t, &market)
	base := "/api/markets/" + market.Address.Hex()
	expect(t, f.do(http.MethodPost, "/api/admin/deposits", map[string]any{
		"owner": alice, "amount": 50_000_000,
	}, nil, http.Header{"X-Api-Key": {adminKey}}), http.StatusOK)
	expect(t, f.do(http.MethodPost, base+"/positions", nil, aliceKey, nil), http.StatusCreated)

	raw, _ := json.Marshal(domain.TradeRequest{Shares: 10, IsBuy: true, IsPass: true})
	signed, _ := http.NewRequest(http.MethodPost, f.srv.URL+base+"/trades", nil)
	if err := crypto.NewSigner(aliceKey).SignRequest(signed, raw, f.clock.Now()); err != nil {
		t.Fatal(err)
	}

	expect(t, f.send(base+"/trades", raw, signed.Header), http.StatusOK)
	for range 2 {
		r := f.send(base+"/trades", raw, signed.Header)
		expect(t, r, http.StatusUnauthorized)
		if c := r.code(t); c != "replayed_signature" {
			t.Errorf("code = %q, want replayed_signature", c)
		}
	}

	// Re-encoding v as 0/1 does not make the signature new.
	sig := signed.Header.Get(crypto.HeaderSignature)
	v, _ := strconv.ParseUint(sig[len(sig)-2:], 16, 8)
	alt := signed.Header.Clone()
	alt.Set(crypto.HeaderSignature, fmt.Sprintf("%s%02x", sig[:len(sig)-2], v-27))
	r = f.send(base+"/trades", raw, alt)
	expect(t, r, http.StatusUnauthorized)
	if c := r.code(t); c != "replayed_signature" {
		t.Errorf("code = %q, want replayed_signature", c)
	}

	var acc domain.Account
	r = f.do(http.MethodGet, "/api/accounts/"+alice.Hex(), nil, nil, nil)
	expect(t, r, http.StatusOK)
	r.decode(t, &acc)
	if acc.Balance != 40_000_000 {
		t.Errorf("balance = %d, want 40000000", acc.Balance)
	}
}

// send posts raw with the given headers as they are.
func (f *apiFixture) send(path string, raw []byte, header http.Header) response {
	f.t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		f.t.Fatal(err)
	}
	req.Header = header.Clone()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		f.t.Fatal(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return response{status: resp.StatusCode, body: out}
}

// doForged signs correctly and then claims another identity.
func (f *apiFixture) doForged(path string, body any, key *ecdsa.PrivateKey) response {
	f.t.Helper()
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+path, bytes.NewReader(raw))
	if err := crypto.NewSigner(key).SignRequest(req, raw, f.clock.Now()); err != nil {
		f.t.Fatal(err)
	}
	req.Header.Set(crypto.HeaderAddress, common.HexToAddress("0x1").Hex())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		f.t.Fatal(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return response{status: resp.StatusCode, body: out}
}

func TestReadErrors(t *testing.T) {
	f := newAPI(t, Config{}, nil)

	r := f.do(http.MethodGet, "/api/markets/0x1234", nil, nil, nil)
	expect(t, r, http.StatusBadRequest)

	r = f.do(http.MethodGet, "/api/markets/"+common.HexToHash("0x99").Hex(), nil, nil, nil)
	expect(t, r, http.StatusNotFound)
	if c := r.code(t); c != "not_found" {
		t.Errorf("code = %q", c)
	}

	r = f.do(http.MethodGet, "/api/markets?state=bogus", nil, nil, nil)
	expect(t, r, http.StatusBadRequest)

	r = f.do(http.MethodGet, "/api/markets", nil, nil, nil)
	expect(t, r, http.StatusOK)
	if !strings.Contains(string(r.body), `"markets":[]`) {
		t.Errorf("body = %s", r.body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPI(t, Config{}, nil)
	expect(t, f.do(http.MethodGet, "/health", nil, nil, nil), http.StatusOK)

	r := f.do(http.MethodGet, "/metrics", nil, nil, nil)
	expect(t, r, http.StatusOK)
	if !strings.Contains(string(r.body), "prediction_http_requests_total") {
		t.Errorf("metrics output lacks http counter")
	}
}

func TestRateLimit(t *testing.T) {
	f := newAPI(t, Config{RateLimit: 2, RateWindow: time.Minute}, local.NewRateLimiter())
	for i := 0; i < 2; i++ {
		expect(t, f.do(http.MethodGet, "/api/markets", nil, nil, nil), http.StatusOK)
	}
	r := f.do(http.MethodGet, "/api/markets", nil, nil, nil)
	expect(t, r, http.StatusTooManyRequests)
	if c := r.code(t); c != "rate_limited" {
		t.Errorf("code = %q", c)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newAPI(t, Config{CORSOrigins: []string{"https://app.example"}}, nil)
	r := f.do(http.MethodOptions, "/api/markets", nil, nil, http.Header{"Origin": {"https://app.example"}})
	expect(t, r, http.StatusNoContent)
}
