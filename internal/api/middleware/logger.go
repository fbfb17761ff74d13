package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// Logger пишет в лог каждый запрос: метод, путь, статус, длительность.
// Успешные запросы - Debug (EA опрашивают сервер непрерывно), 4xx - Warn, 5xx - Error.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			start := time.Now()
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", duration),
			}

			if query := redactQuery(r); query != "" {
				attrs = append(attrs, slog.String("query", query))
			}

			// Determine log level based on status code
			level := slog.LevelDebug
			if rec.status >= 400 {
				level = slog.LevelWarn
			}
			if rec.status >= 500 {
				level = slog.LevelError
			}

			logger.LogAttrs(r.Context(), level, "📥 HTTP Request", attrs...)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack нужен для websocket
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// redactQuery скрывает лицензионный ключ и токен
func redactQuery(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}

	q := r.URL.Query()
	for k := range q {
		if isSensitiveParam(k) {
			q.Set(k, "[REDACTED]")
		}
	}

	return q.Encode()
}

func isSensitiveParam(name string) bool {
	switch strings.ToLower(name) {
	case "key", "token", "license_key":
		return true
	}
	return false
}
