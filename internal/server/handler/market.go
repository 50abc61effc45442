package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ChiefWoods/prediction/internal/domain"
)

// MarketHandler serves market endpoints.
type MarketHandler struct {
	svc    PredictionService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(svc PredictionService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{svc: svc, logger: logger}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets, optionally filtered by state and by whether
// their deadline has passed.
// GET /api/markets?state=open&due=true&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	filter := domain.MarketFilter{ListOpts: parseListOpts(r)}
	q := r.URL.Query()
	if v := q.Get("state"); v != "" {
		state := domain.MarketState(v)
		if !state.Valid() {
			writeError(w, r, h.logger, fmt.Errorf("%w: unknown state %q", errBadRequest, v))
			return
		}
		filter.State = &state
	}
	if q.Get("due") == "true" {
		now := time.Now().UTC()
		filter.ResolvedBefore = &now
	}

	markets, err := h.svc.ListMarkets(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

// GetMarket returns one market.
// GET /api/markets/{market}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := hashParam(r, "market")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.svc.GetMarket(r.Context(), market)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreateMarket registers a market. Only the config authority may call it.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var p domain.MarketParams
	if err := decodeBody(r, &p); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.svc.CreateMarket(r.Context(), who, p)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// SettleMarket resolves a market past its deadline.
// POST /api/markets/{market}/settle
func (h *MarketHandler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	market, err := hashParam(r, "market")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	st, err := h.svc.SettleMarket(r.Context(), who, market)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
