package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// ConfigHandler serves the protocol config endpoints.
type ConfigHandler struct {
	svc    PredictionService
	logger *slog.Logger
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(svc PredictionService, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{svc: svc, logger: logger}
}

type initializeConfigRequest struct {
	ValueUnit common.Address `json:"value_unit"`
	FeeBps    uint16         `json:"fee_bps"`
}

type updateFeeRequest struct {
	FeeBps uint16 `json:"fee_bps"`
}

// GetConfig returns the protocol config.
// GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.GetConfig(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Initialize creates the config with the caller as authority.
// POST /api/config
func (h *ConfigHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req initializeConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cfg, err := h.svc.InitializeConfig(r.Context(), who, req.ValueUnit, req.FeeBps)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// UpdateFee changes the trading fee.
// PATCH /api/config/fee
func (h *ConfigHandler) UpdateFee(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req updateFeeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cfg, err := h.svc.UpdateFee(r.Context(), who, req.FeeBps)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
