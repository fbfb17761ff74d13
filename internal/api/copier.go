package api

import (
	"net/http"

	"mt_copier/internal/api/middleware"
	"mt_copier/internal/models"
)

type SetEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

type SetMasterRequest struct {
	MasterAccountID string `json:"masterAccountId"`
	Enabled         *bool  `json:"enabled"`
}

func (req SetEnabledRequest) validate() error {
	if req.Enabled == nil {
		return models.NewValidationError("enabled", "is required")
	}
	return nil
}

// HandleSetGlobal включает/выключает копир для всех. Выключение - аварийная остановка:
// все master флаги сбрасываются.
func (h *Handler) HandleSetGlobal(w http.ResponseWriter, r *http.Request) {
	var req SetEnabledRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondServiceError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		h.respondServiceError(w, err)
		return
	}

	res, err := h.relay.SetGlobalEnabled(r.Context(), *req.Enabled)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondFanOut(w, "Global copier updated", res, res)
}

// HandleSetTenant включает/выключает копир тенанта оператора
func (h *Handler) HandleSetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.GetTenant(r.Context())

	var req SetEnabledRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondServiceError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		h.respondServiceError(w, err)
		return
	}

	res, err := h.relay.SetTenantEnabled(r.Context(), tenant, *req.Enabled)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondFanOut(w, "Tenant copier updated", res, res)
}

// HandleSetMaster включает/выключает копир конкретного master
func (h *Handler) HandleSetMaster(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.GetTenant(r.Context())

	var req SetMasterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondServiceError(w, err)
		return
	}
	if req.Enabled == nil {
		h.respondServiceError(w, models.NewValidationError("enabled", "is required"))
		return
	}

	res, err := h.relay.SetMasterEnabled(r.Context(), tenant, req.MasterAccountID, *req.Enabled)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondFanOut(w, "Master copier updated", res, res)
}

type CopierStatusResponse struct {
	GlobalEnabled bool            `json:"global_enabled"`
	TenantEnabled bool            `json:"tenant_enabled"`
	Masters       map[string]bool `json:"masters"`
}

// HandleCopierStatus возвращает флаги gate для тенанта оператора
func (h *Handler) HandleCopierStatus(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.GetTenant(r.Context())

	resp := CopierStatusResponse{
		GlobalEnabled: h.gate.GlobalEnabled(),
		TenantEnabled: h.gate.TenantEnabled(tenant),
		Masters:       make(map[string]bool),
	}

	for _, acc := range h.relay.Accounts(tenant) {
		if acc.Role == models.RoleMaster {
			resp.Masters[acc.ID] = h.gate.IsEnabled(acc.ID, tenant)
		}
	}

	h.respondSuccess(w, "", resp)
}
