package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"mt_copier/internal/api/middleware"
)

// SetupRouter настраивает роутинг для API
func (h *Handler) SetupRouter(metrics http.Handler, corsOrigins []string) *mux.Router {
	r := mux.NewRouter()

	// Логирование и CORS для всех маршрутов
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.CORS(corsOrigins))

	// preflight для всех маршрутов, ответ формирует CORS middleware
	r.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	// Публичные маршруты
	r.HandleFunc("/api/auth/token", h.HandleToken).Methods("POST", "OPTIONS")
	r.HandleFunc("/health", h.HandleHealth).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	// EA: авторизация лицензионным ключом
	ea := r.NewRoute().Subrouter()
	ea.Use(middleware.LicenseMiddleware(h.authService))
	ea.HandleFunc("/slave/orders", h.HandleSlaveOrders).Methods("GET")
	ea.HandleFunc("/ea/ledger", h.HandleIngestLedger).Methods("POST")

	// Оператор: JWT
	copier := r.PathPrefix("/copier").Subrouter()
	copier.Use(middleware.AuthMiddleware(h.authService))
	copier.HandleFunc("/global", h.HandleSetGlobal).Methods("POST")
	copier.HandleFunc("/tenant", h.HandleSetTenant).Methods("POST")
	copier.HandleFunc("/master", h.HandleSetMaster).Methods("POST")
	copier.HandleFunc("/status", h.HandleCopierStatus).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(h.authService))

	// Accounts
	api.HandleFunc("/accounts", h.HandleGetAccounts).Methods("GET")
	api.HandleFunc("/accounts/{id}/master", h.HandleConvertToMaster).Methods("PUT")
	api.HandleFunc("/accounts/{id}/slave", h.HandleConvertToSlave).Methods("PUT")
	api.HandleFunc("/accounts/{id}/connect", h.HandleConnect).Methods("PUT")
	api.HandleFunc("/accounts/{id}/connect", h.HandleDisconnect).Methods("DELETE")
	api.HandleFunc("/accounts/{id}/config", h.HandleUpdateConfig).Methods("PUT")
	api.HandleFunc("/accounts/{id}", h.HandleDeleteAccount).Methods("DELETE")

	// Activity Logs
	api.HandleFunc("/logs", h.HandleGetLogs).Methods("GET")

	// Поток событий для GUI
	api.HandleFunc("/events", h.HandleEvents).Methods("GET")

	return r
}

// HandleHealth возвращает статус здоровья сервиса
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondSuccess(w, "OK", map[string]any{
		"status":         "healthy",
		"global_enabled": h.gate.GlobalEnabled(),
		"streams":        h.streams.count(),
	})
}
