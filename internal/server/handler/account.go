package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChiefWoods/prediction/internal/domain"
)

// AccountHandler serves balances, deposits, the event log and the audit log.
type AccountHandler struct {
	svc    PredictionService
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(svc PredictionService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logger}
}

type depositRequest struct {
	Owner  common.Address `json:"owner"`
	Amount uint64         `json:"amount"`
}

// GetAccount returns an owner's balance in the config's value unit.
// GET /api/accounts/{owner}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	owner, err := addressParam(r, "owner")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	acc, err := h.svc.GetAccount(r.Context(), owner)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// Deposit funds an owner's account.
// POST /api/admin/deposits
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.Owner == (common.Address{}) {
		writeError(w, r, h.logger, fmt.Errorf("%w: owner is required", errBadRequest))
		return
	}
	acc, err := h.svc.Deposit(r.Context(), req.Owner, req.Amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

type eventsResponse struct {
	Events []streamEvent `json:"events"`
	LastID string        `json:"last_id"`
}

// Events pages through the durable event stream.
// GET /api/events?after=<id>&limit=100
func (h *AccountHandler) Events(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = min(n, 1000)
	}
	msgs, err := h.svc.Events(r.Context(), after, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := eventsResponse{Events: make([]streamEvent, 0, len(msgs)), LastID: after}
	for _, m := range msgs {
		resp.Events = append(resp.Events, streamEvent{ID: m.ID, Event: m.Payload})
		resp.LastID = m.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// AuditLog returns audit entries newest first.
// GET /api/admin/audit
func (h *AccountHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.AuditLog(r.Context(), parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
