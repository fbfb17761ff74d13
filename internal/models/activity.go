package models

import "time"

// ActivityLog представляет запись в логе активности
type ActivityLog struct {
	ID        int64     `json:"id" db:"id"`
	EventID   string    `json:"event_id,omitempty" db:"event_id"`
	TenantKey string    `json:"-" db:"tenant_key"`
	AccountID string    `json:"account_id,omitempty" db:"account_id"`
	Level     string    `json:"level" db:"level"`   // "INFO", "WARN", "ERROR"
	Action    string    `json:"action" db:"action"` // "account.status", "copier.changed", etc.
	Message   string    `json:"message" db:"message"`
	Details   string    `json:"details,omitempty" db:"details"` // JSON с дополнительной информацией
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
