package middleware

import (
	"context"
	"net/http"
	"strings"

	"mt_copier/internal/api/auth"
)

type contextKey string

const TenantKey contextKey = "tenant"

// TenantKeyHeader - заголовок с лицензионным ключом EA
const TenantKeyHeader = "X-Tenant-Key"

// AuthMiddleware проверяет JWT токен оператора
func AuthMiddleware(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := authService.ValidateToken(tokenString)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), TenantKey, claims.Tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LicenseMiddleware определяет тенанта по лицензионному ключу EA
// (заголовок X-Tenant-Key или параметр key). Запрос не отклоняется:
// решение принимает обработчик.
func LicenseMiddleware(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(TenantKeyHeader)
			if key == "" {
				key = r.URL.Query().Get("key")
			}

			if tenant, err := authService.ResolveTenant(key); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), TenantKey, tenant))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetTenant извлекает тенанта из контекста
func GetTenant(ctx context.Context) (string, bool) {
	tenant, ok := ctx.Value(TenantKey).(string)
	return tenant, ok && tenant != ""
}

func bearerToken(r *http.Request) (string, bool) {
	// Формат: "Bearer <token>"
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", false
		}
		return parts[1], true
	}

	// браузер не умеет передавать заголовки при открытии websocket
	if token := r.URL.Query().Get("token"); token != "" && r.Header.Get("Upgrade") != "" {
		return token, true
	}

	return "", false
}
