package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"golang.org/x/time/rate"

	"mt_copier/internal/events"
	"mt_copier/internal/gate"
	"mt_copier/internal/models"
)

// Sender отправляет сообщение в чат
type Sender interface {
	SendHTMLMessage(chatID int64, text string) error
}

// Alerter пересылает важные события операторам: master offline,
// аварийная остановка, просроченные pending аккаунты
type Alerter struct {
	sender  Sender
	chats   []int64
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewAlerter создает рассыльщик алертов. perMinute ограничивает поток сообщений.
func NewAlerter(sender Sender, chats []int64, perMinute int, logger *slog.Logger) *Alerter {
	if perMinute <= 0 {
		perMinute = 20
	}

	return &Alerter{
		sender:  sender,
		chats:   chats,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute),
		logger:  logger,
	}
}

// Run читает события до отмены ctx
func (a *Alerter) Run(ctx context.Context, sub *events.Subscription) error {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}

			text, ok := alertText(e)
			if !ok {
				continue
			}

			// при всплеске событий лишние алерты отбрасываются
			if !a.limiter.Allow() {
				a.logger.Warn("Alert dropped by rate limit", slog.String("type", string(e.Type)))
				continue
			}

			for _, chatID := range a.chats {
				if err := a.sender.SendHTMLMessage(chatID, text); err != nil {
					a.logger.Error("Failed to send alert", slog.Int64("chat_id", chatID), slog.Any("error", err))
				}
			}
		}
	}
}

func alertText(e events.Event) (string, bool) {
	switch p := e.Payload.(type) {
	case events.StatusChange:
		if p.Role != string(models.RoleMaster) {
			return "", false
		}
		if p.Current == string(models.StatusOffline) {
			return fmt.Sprintf("🔴 Master <b>%s</b> offline", html.EscapeString(e.AccountID)), true
		}
		if p.Previous == string(models.StatusOffline) {
			return fmt.Sprintf("🟢 Master <b>%s</b> online", html.EscapeString(e.AccountID)), true
		}
	case events.CopierChange:
		if p.Scope == gate.ScopeGlobal && !p.Enabled {
			return "⛔ Аварийная остановка: копир выключен для всех", true
		}
	case events.PendingExpired:
		return fmt.Sprintf("⚠️ Pending аккаунт <b>%s</b> без активности %d мин",
			html.EscapeString(e.AccountID), p.IdleSeconds/60), true
	}

	return "", false
}
