// Package pyth is a REST client for the Pyth Hermes price service.
package pyth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ChiefWoods/prediction/internal/domain"
)

// DefaultBaseURL is the public Hermes endpoint.
const DefaultBaseURL = "https://hermes.pyth.network"

// Client fetches the latest parsed price updates from Hermes.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ domain.PriceOracle = (*Client)(nil)

// NewClient creates a Hermes client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiPrice is a fixed-point price: value = Price * 10^Expo.
type apiPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type apiParsedUpdate struct {
	ID       string   `json:"id"`
	Price    apiPrice `json:"price"`
	EMAPrice apiPrice `json:"ema_price"`
}

type apiLatestResponse struct {
	Parsed []apiParsedUpdate `json:"parsed"`
}

// Observe returns the latest price for feedID.
func (c *Client) Observe(ctx context.Context, feedID common.Hash) (domain.Observation, error) {
	params := url.Values{}
	params.Add("ids[]", strings.TrimPrefix(feedID.Hex(), "0x"))
	params.Set("parsed", "true")
	params.Set("encoding", "hex")

	body, err := c.doGet(ctx, "/v2/updates/price/latest?"+params.Encode())
	if err != nil {
		return domain.Observation{}, fmt.Errorf("pyth: latest price %s: %w", feedID, err)
	}

	var resp apiLatestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Observation{}, fmt.Errorf("pyth: decode latest price: %w", err)
	}

	for _, u := range resp.Parsed {
		if common.HexToHash(u.ID) != feedID {
			continue
		}
		return u.Price.toObservation(feedID)
	}
	return domain.Observation{}, fmt.Errorf("pyth: feed %s: %w", feedID, domain.ErrNotFound)
}

func (p apiPrice) toObservation(feedID common.Hash) (domain.Observation, error) {
	mantissa, err := strconv.ParseInt(p.Price, 10, 64)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("pyth: parse price %q: %w", p.Price, err)
	}
	return domain.Observation{
		FeedID:     feedID,
		Price:      decimal.New(mantissa, p.Expo),
		ObservedAt: time.Unix(p.PublishTime, 0).UTC(),
	}, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
