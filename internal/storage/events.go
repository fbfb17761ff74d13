package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"mt_copier/internal/events"
	"mt_copier/internal/models"
)

// RecordEvents пишет события в лог активности, пока ctx не отменён.
// Heartbeat события не сохраняются.
func (s *Storage) RecordEvents(ctx context.Context, sub *events.Subscription) error {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}

			log, keep := activityFromEvent(e)
			if !keep {
				continue
			}

			if err := s.AddLog(ctx, log); err != nil {
				s.logger.Error("Failed to write activity log", slog.String("event", string(e.Type)), slog.Any("error", err))
			}
		}
	}
}

func activityFromEvent(e events.Event) (models.ActivityLog, bool) {
	log := models.ActivityLog{
		EventID:   e.ID,
		TenantKey: e.TenantKey,
		AccountID: e.AccountID,
		Level:     "INFO",
		Action:    string(e.Type),
	}

	switch p := e.Payload.(type) {
	case events.StatusChange:
		log.Message = fmt.Sprintf("Account %s is %s", e.AccountID, p.Current)
		if p.Current == string(models.StatusOffline) {
			log.Level = "WARN"
		}
	case events.Discovered:
		log.Message = fmt.Sprintf("Account %s discovered as %s", e.AccountID, p.Role)
	case events.PendingExpired:
		log.Message = fmt.Sprintf("Pending account %s idle for %ds", e.AccountID, p.IdleSeconds)
	case events.CopierChange:
		state := "disabled"
		if p.Enabled {
			state = "enabled"
		}
		log.Message = fmt.Sprintf("Copier %s for %s %s", state, p.Scope, p.Key)
		if p.Scope == "global" && !p.Enabled {
			log.Level = "WARN"
		}
	default:
		return models.ActivityLog{}, false
	}

	if details, err := json.Marshal(e.Payload); err == nil {
		log.Details = string(details)
	}

	return log, true
}
