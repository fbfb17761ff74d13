package api

import (
	"encoding/json"
	"net/http"
)

type TokenRequest struct {
	LicenseKey string `json:"license_key"`
}

type TokenResponse struct {
	Token  string `json:"token"`
	Tenant string `json:"tenant"`
}

// HandleToken выдаёт JWT оператору по лицензионному ключу тенанта
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.LicenseKey == "" {
		h.respondError(w, http.StatusBadRequest, "license_key is required")
		return
	}

	tenant, err := h.authService.ResolveTenant(req.LicenseKey)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.authService.GenerateToken(tenant)
	if err != nil {
		h.logger.Error("Failed to generate token", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondSuccess(w, "Token issued", TokenResponse{
		Token:  token,
		Tenant: tenant,
	})
}
