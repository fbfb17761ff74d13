package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"mt_copier/internal/api/middleware"
	"mt_copier/internal/models"
	"mt_copier/internal/relay"
)

type ConvertToMasterRequest struct {
	DisplayName string `json:"display_name"`
}

type ConnectRequest struct {
	MasterAccountID string `json:"masterAccountId"`
}

// AccountResponse - аккаунт и итог записи CONFIG строк
type AccountResponse struct {
	Account models.Account     `json:"account"`
	FanOut  relay.FanOutResult `json:"fan_out"`
}

// HandleGetAccounts возвращает аккаунты тенанта и нераспределённые pending аккаунты
func (h *Handler) HandleGetAccounts(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.GetTenant(r.Context())

	accounts := h.relay.Accounts(tenant)
	if accounts == nil {
		accounts = []models.Account{}
	}

	h.respondSuccess(w, "", accounts)
}

// HandleConvertToMaster назначает pending аккаунту роль master
func (h *Handler) HandleConvertToMaster(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.GetTenant(r.Context())

	var req ConvertToMasterRequest
	// тело необязательное
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.respondServiceError(w, err)
			return
		}
	}

	acc, res, err := h.relay.ConvertToMaster(r.Context(), tenant, mux.Vars(r)["id"], req.DisplayName)
	h.respondAccount(w, "Account converted to master", acc, res, err)
}

// HandleConvertToSlave назначает pending аккаунту роль slave
func (h *Handler) HandleConvertToSlave(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.GetTenant(r.Context())

	acc, res, err := h.relay.ConvertToSlave(r.Context(), tenant, mux.Vars(r)["id"])
	h.respondAccount(w, "Account converted to slave", acc, res, err)
}

// HandleConnect подключает slave к master
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.GetTenant(r.Context())

	var req ConnectRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondServiceError(w, err)
		return
	}

	acc, res, err := h.relay.Connect(r.Context(), tenant, mux.Vars(r)["id"], req.MasterAccountID)
	h.respondAccount(w, "Slave connected", acc, res, err)
}

// HandleDisconnect отключает slave от master
func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.GetTenant(r.Context())

	acc, res, err := h.relay.Disconnect(r.Context(), tenant, mux.Vars(r)["id"])
	h.respondAccount(w, "Slave disconnected", acc, res, err)
}

// HandleUpdateConfig заменяет правила трансформации аккаунта.
// Поля, отсутствующие в теле, сохраняют текущие значения.
func (h *Handler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.GetTenant(r.Context())
	id := mux.Vars(r)["id"]

	acc, err := h.relay.Account(tenant, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	var (
		updated models.Account
		res     relay.FanOutResult
	)

	switch acc.Role {
	case models.RoleMaster:
		cfg := acc.MasterConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		updated, res, err = h.relay.SetMasterConfig(r.Context(), tenant, id, cfg)
	case models.RoleSlave:
		cfg := acc.SlaveConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		updated, res, err = h.relay.SetSlaveConfig(r.Context(), tenant, id, cfg)
	default:
		h.respondError(w, http.StatusConflict, "Account role is not set")
		return
	}

	h.respondAccount(w, "Config updated", updated, res, err)
}

// HandleDeleteAccount удаляет аккаунт и его файлы
func (h *Handler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.GetTenant(r.Context())

	if err := h.relay.DeleteAccount(r.Context(), tenant, mux.Vars(r)["id"]); err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondSuccess(w, "Account deleted", nil)
}

func (h *Handler) respondAccount(w http.ResponseWriter, message string, acc models.Account, res relay.FanOutResult, err error) {
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondFanOut(w, message, AccountResponse{Account: acc, FanOut: res}, res)
}
