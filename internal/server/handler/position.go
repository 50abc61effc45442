package handler

import (
	"log/slog"
	"net/http"

	"github.com/ChiefWoods/prediction/internal/domain"
)

// PositionHandler serves position, trade and claim endpoints.
type PositionHandler struct {
	svc    PredictionService
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(svc PredictionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{svc: svc, logger: logger}
}

// OpenPosition opens the caller's position in a market.
// POST /api/markets/{market}/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
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
	p, err := h.svc.OpenPosition(r.Context(), who, market)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Trade buys or sells shares.
// POST /api/markets/{market}/trades
func (h *PositionHandler) Trade(w http.ResponseWriter, r *http.Request) {
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
	var req domain.TradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	receipt, err := h.svc.TradeShares(r.Context(), who, market, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// Claim redeems the caller's winning shares.
// POST /api/markets/{market}/claim
func (h *PositionHandler) Claim(w http.ResponseWriter, r *http.Request) {
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
	receipt, err := h.svc.ClaimWinnings(r.Context(), who, market)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// GetPosition returns one owner's position in a market.
// GET /api/markets/{market}/positions/{owner}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	market, err := hashParam(r, "market")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	owner, err := addressParam(r, "owner")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := h.svc.GetPosition(r.Context(), owner, market)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListPositions returns every position of an owner.
// GET /api/positions/{owner}
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner, err := addressParam(r, "owner")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	ps, err := h.svc.ListPositions(r.Context(), owner, parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if ps == nil {
		ps = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": ps})
}
