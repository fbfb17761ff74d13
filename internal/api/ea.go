package api

import (
	"io"
	"log/slog"
	"net/http"

	"mt_copier/internal/api/middleware"
	"mt_copier/internal/relay"
)

// лимит тела ledger от EA
const maxLedgerSize = 1 << 20

// HandleSlaveOrders отдаёт slave трансформированный снимок ордеров master.
// "0" - изменений нет, пустое тело - slave не авторизован.
func (h *Handler) HandleSlaveOrders(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.GetTenant(r.Context())
	slaveID := r.URL.Query().Get("account")

	resp := h.relay.SlaveOrders(r.Context(), tenant, slaveID)
	if resp.Outcome == relay.OutcomeUnauthorized {
		h.logger.Debug("Slave request rejected", slog.String("slave", slaveID))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, resp.Body)
}

// HandleIngestLedger принимает снимок ledger от EA
func (h *Handler) HandleIngestLedger(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.GetTenant(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Invalid license key")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxLedgerSize+1))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Failed to read body")
		return
	}
	if len(body) > maxLedgerSize {
		h.respondError(w, http.StatusRequestEntityTooLarge, "Ledger too large")
		return
	}

	acc, err := h.relay.IngestLedger(r.Context(), tenant, r.URL.Query().Get("account"), string(body))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondSuccess(w, "Ledger accepted", acc)
}
