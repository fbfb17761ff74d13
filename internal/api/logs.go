package api

import (
	"net/http"
	"strconv"

	"mt_copier/internal/api/middleware"
	"mt_copier/internal/models"
)

// HandleGetLogs возвращает журнал активности тенанта
func (h *Handler) HandleGetLogs(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.GetTenant(r.Context())

	// Парсим параметры пагинации
	limit := 100 // по умолчанию
	offset := 0

	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	logs, err := h.logs.GetLogs(tenant, limit, offset)
	if err != nil {
		h.logger.Error("Failed to get logs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Failed to get logs")

		return
	}
	if logs == nil {
		logs = []models.ActivityLog{}
	}

	h.respondSuccess(w, "", logs)
}
