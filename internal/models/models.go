package models

import (
	"fmt"
	"strings"
	"time"
)

// Role - роль аккаунта в copy trading
type Role string

const (
	RolePending Role = "PENDING"
	RoleMaster  Role = "MASTER"
	RoleSlave   Role = "SLAVE"
)

// ParseRole разбирает токен роли из ledger файла
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RolePending, RoleMaster, RoleSlave:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Platform - торговая платформа (MT4, MT5, ...)
type Platform string

const (
	PlatformMT4 Platform = "MT4"
	PlatformMT5 Platform = "MT5"
)

// Status - статус присутствия аккаунта
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// ParseStatus разбирает токен статуса
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusOnline, StatusOffline:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

const (
	// ActivityTimeout - после этого времени без записи аккаунт считается offline
	ActivityTimeout = 5 * time.Second
	// PendingDeletionTimeout - pending аккаунт без записей дольше этого срока можно удалять
	PendingDeletionTimeout = time.Hour
)

// Account - аккаунт торговой платформы, обнаруженный по ledger файлу
type Account struct {
	ID              string    `json:"id"`
	Role            Role      `json:"role"`
	Platform        Platform  `json:"platform"`
	TenantKey       string    `json:"tenant_key,omitempty"`
	Status          Status    `json:"status"`
	LastActivity    time.Time `json:"last_activity"`
	ConnectedMaster string    `json:"connected_master,omitempty"` // только для slave, пусто = не подключен
	DisplayName     string    `json:"display_name,omitempty"`

	MasterConfig MasterConfig `json:"master_config"`
	SlaveConfig  SlaveConfig  `json:"slave_config"`

	DiscoveredAt time.Time `json:"discovered_at"`
}

// IsMaster возвращает true если аккаунт сконвертирован в master
func (a Account) IsMaster() bool {
	return a.Role == RoleMaster
}

// IsSlave возвращает true если аккаунт сконвертирован в slave
func (a Account) IsSlave() bool {
	return a.Role == RoleSlave
}

// MasterConfig - правила трансформации уровня master
type MasterConfig struct {
	LotMultiplier  float64  `json:"lot_multiplier"`
	ForceLot       *float64 `json:"force_lot,omitempty"`
	ReverseTrading bool     `json:"reverse_trading"`
	CommentPrefix  string   `json:"comment_prefix,omitempty"`
	CommentSuffix  string   `json:"comment_suffix,omitempty"`
}

// SlaveConfig - правила трансформации уровня slave
type SlaveConfig struct {
	LotMultiplier  float64  `json:"lot_multiplier"`
	ForceLot       *float64 `json:"force_lot,omitempty"`
	ReverseTrading bool     `json:"reverse_trading"`

	MaxLotSize *float64 `json:"max_lot_size,omitempty"`
	MinLotSize *float64 `json:"min_lot_size,omitempty"`

	AllowedSymbols    []string `json:"allowed_symbols,omitempty"`
	BlockedSymbols    []string `json:"blocked_symbols,omitempty"`
	AllowedOrderTypes []string `json:"allowed_order_types,omitempty"`
	BlockedOrderTypes []string `json:"blocked_order_types,omitempty"`

	Enabled bool `json:"enabled"`
}

// DefaultMasterConfig возвращает конфиг без трансформаций
func DefaultMasterConfig() MasterConfig {
	return MasterConfig{LotMultiplier: 1}
}

// DefaultSlaveConfig возвращает включённый конфиг без трансформаций
func DefaultSlaveConfig() SlaveConfig {
	return SlaveConfig{LotMultiplier: 1, Enabled: true}
}

// Float возвращает указатель на значение (для опциональных полей конфига)
func Float(v float64) *float64 {
	return &v
}

// Validate проверяет правила master
func (c MasterConfig) Validate() error {
	return validateLots(c.LotMultiplier, c.ForceLot)
}

// Validate проверяет правила slave
func (c SlaveConfig) Validate() error {
	if err := validateLots(c.LotMultiplier, c.ForceLot); err != nil {
		return err
	}

	if c.MinLotSize != nil && *c.MinLotSize < 0 {
		return NewValidationError("min_lot_size", "must not be negative")
	}
	if c.MaxLotSize != nil && *c.MaxLotSize <= 0 {
		return NewValidationError("max_lot_size", "must be positive")
	}
	if c.MinLotSize != nil && c.MaxLotSize != nil && *c.MinLotSize > *c.MaxLotSize {
		return NewValidationError("min_lot_size", "greater than max_lot_size")
	}

	return nil
}

func validateLots(multiplier float64, forceLot *float64) error {
	if multiplier < 0 {
		return NewValidationError("lot_multiplier", "must not be negative")
	}
	if forceLot != nil && *forceLot < 0 {
		return NewValidationError("force_lot", "must not be negative")
	}

	return nil
}
