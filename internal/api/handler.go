package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mt_copier/internal/api/auth"
	"mt_copier/internal/events"
	"mt_copier/internal/gate"
	"mt_copier/internal/ledger"
	"mt_copier/internal/models"
	"mt_copier/internal/registry"
	"mt_copier/internal/relay"
)

// LogReader читает журнал активности тенанта
type LogReader interface {
	GetLogs(tenant string, limit, offset int) ([]models.ActivityLog, error)
}

// Handler обрабатывает API запросы
type Handler struct {
	relay       *relay.Service
	gate        *gate.Gate
	logs        LogReader
	authService *auth.Service
	bus         *events.Bus
	streams     *wsManager
	logger      *slog.Logger
}

func New(
	relaySvc *relay.Service,
	g *gate.Gate,
	logs LogReader,
	authService *auth.Service,
	bus *events.Bus,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		relay:       relaySvc,
		gate:        g,
		logs:        logs,
		authService: authService,
		bus:         bus,
		streams:     newWSManager(logger),
		logger:      logger,
	}
}

// CloseStreams закрывает websocket подключения (graceful shutdown)
func (h *Handler) CloseStreams() {
	h.streams.closeAll()
}

// Helper функции для JSON ответов

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to encode response", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func (h *Handler) respondSuccess(w http.ResponseWriter, message string, data any) {
	h.respondJSON(w, http.StatusOK, SuccessResponse{
		Message: message,
		Data:    data,
	})
}

// respondServiceError переводит ошибки компонентов в HTTP статусы
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var (
		validationErr *models.ValidationError
		stateErr      *gate.InvalidStateError
		storageErr    *ledger.StorageError
	)

	switch {
	case errors.As(err, &validationErr):
		h.respondError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &stateErr):
		h.respondError(w, http.StatusBadRequest, stateErr.Error())
	case errors.Is(err, registry.ErrAccountNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrTenantMismatch):
		h.respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, registry.ErrRoleAlreadySet), errors.Is(err, registry.ErrRoleMismatch):
		h.respondError(w, http.StatusConflict, err.Error())
	case ledger.IsBusy(err):
		// EA держит файл: запись будет повторена следующим снимком
		h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "skipped"})
	case errors.As(err, &storageErr):
		h.logger.Error("Storage failure", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Storage error")
	default:
		h.logger.Error("Request failed", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// respondFanOut отвечает итогом рассылки токенов. Частичный успех - 200.
func (h *Handler) respondFanOut(w http.ResponseWriter, message string, data any, res relay.FanOutResult) {
	if res.AllFailed() {
		h.logger.Error("Copier fan-out failed", slog.Any("error", res.Err))
		h.respondJSON(w, http.StatusInternalServerError, SuccessResponse{Message: "Storage error", Data: res})
		return
	}

	h.respondSuccess(w, message, data)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return models.NewValidationError("body", "invalid JSON: %v", err)
	}
	return nil
}
