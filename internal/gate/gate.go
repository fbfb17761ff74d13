package gate

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"mt_copier/internal/events"
)

// Области флагов копира
const (
	ScopeGlobal = "global"
	ScopeTenant = "tenant"
	ScopeMaster = "master"
)

// ReasonOffline - причина отказа включить копир для offline master
const ReasonOffline = "accountStatus: offline"

// InvalidStateError - операция невозможна в текущем состоянии аккаунта
type InvalidStateError struct {
	AccountID string
	Reason    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state for %s: %s", e.AccountID, e.Reason)
}

// PresenceChecker отвечает, online ли аккаунт прямо сейчас
type PresenceChecker interface {
	IsOnline(accountID string) bool
}

// Flag - сохранённое значение одного флага
type Flag struct {
	Scope   string
	Key     string
	Enabled bool
}

// Persister сохраняет флаги. SaveFlags пишет набор атомарно.
type Persister interface {
	SaveFlags(flags []Flag) error
	LoadFlags() ([]Flag, error)
}

// State - снимок флагов
type State struct {
	GlobalEnabled bool            `json:"global_enabled"`
	Tenants       map[string]bool `json:"tenants"`
	Masters       map[string]bool `json:"masters"`
}

// Gate - иерархический выключатель копира: global -> tenant -> статус master -> master
type Gate struct {
	presence  PresenceChecker
	persister Persister
	publisher events.Publisher
	tenantOf  func(masterID string) string
	logger    *slog.Logger

	mu      sync.RWMutex
	global  bool
	tenants map[string]bool
	masters map[string]bool
}

// Option настраивает Gate
type Option func(*Gate)

// WithTenantLookup помечает события master тенантом (фильтрация потока событий GUI)
func WithTenantLookup(fn func(masterID string) string) Option {
	return func(g *Gate) {
		g.tenantOf = fn
	}
}

// New создает gate. persister и publisher могут быть nil.
func New(presence PresenceChecker, persister Persister, publisher events.Publisher, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		presence:  presence,
		persister: persister,
		publisher: publisher,
		logger:    logger,
		global:    true,
		tenants:   make(map[string]bool),
		masters:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Load восстанавливает флаги из persister
func (g *Gate) Load() error {
	if g.persister == nil {
		return nil
	}

	flags, err := g.persister.LoadFlags()
	if err != nil {
		return fmt.Errorf("failed to load copier flags: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, f := range flags {
		switch f.Scope {
		case ScopeGlobal:
			g.global = f.Enabled
		case ScopeTenant:
			g.tenants[f.Key] = f.Enabled
		case ScopeMaster:
			g.masters[f.Key] = f.Enabled
		}
	}

	return nil
}

// IsEnabled проверяет, открыт ли копир для master. Проверка прекращается на первом false.
func (g *Gate) IsEnabled(masterID, tenant string) bool {
	g.mu.RLock()
	global := g.global
	tenantOn := g.tenantLocked(tenant)
	masterOn := g.masters[masterID]
	g.mu.RUnlock()

	if !global || !tenantOn {
		return false
	}

	if !g.presence.IsOnline(masterID) {
		return false
	}

	return masterOn
}

// GlobalEnabled возвращает глобальный флаг
func (g *Gate) GlobalEnabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.global
}

// TenantEnabled возвращает флаг тенанта (по умолчанию включен)
func (g *Gate) TenantEnabled(tenant string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tenantLocked(tenant)
}

// MasterEnabled возвращает флаг master (по умолчанию выключен)
func (g *Gate) MasterEnabled(masterID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.masters[masterID]
}

// SetGlobalEnabled переключает копир для всех.
// Выключение - аварийная остановка: все флаги master сбрасываются в false в той же операции,
// повторное включение их не возвращает. Возвращает id выключенных master.
func (g *Gate) SetGlobalEnabled(enabled bool) ([]string, error) {
	g.mu.Lock()

	g.global = enabled
	flags := []Flag{{Scope: ScopeGlobal, Enabled: enabled}}

	var disarmed []string
	if !enabled {
		for id, on := range g.masters {
			if on {
				disarmed = append(disarmed, id)
			}
			g.masters[id] = false
			flags = append(flags, Flag{Scope: ScopeMaster, Key: id, Enabled: false})
		}
		sort.Strings(disarmed)
	}

	err := g.save(flags)
	g.mu.Unlock()

	if !enabled {
		g.logger.Warn("Emergency shutdown: copier disabled globally", slog.Int("disarmed", len(disarmed)))
	} else {
		g.logger.Info("Copier enabled globally")
	}

	g.publish(ScopeGlobal, "", enabled)

	return disarmed, err
}

// SetTenantEnabled переключает копир для тенанта
func (g *Gate) SetTenantEnabled(tenant string, enabled bool) error {
	g.mu.Lock()
	g.tenants[tenant] = enabled
	err := g.save([]Flag{{Scope: ScopeTenant, Key: tenant, Enabled: enabled}})
	g.mu.Unlock()

	g.logger.Info("Tenant copier switched", slog.String("tenant", tenant), slog.Bool("enabled", enabled))
	g.publish(ScopeTenant, tenant, enabled)

	return err
}

// SetMasterEnabled переключает копир для master.
// Включение offline master отклоняется с InvalidStateError.
func (g *Gate) SetMasterEnabled(masterID string, enabled bool) error {
	g.mu.Lock()
	// проверка статуса под той же блокировкой, что и запись флага
	if enabled && !g.presence.IsOnline(masterID) {
		g.mu.Unlock()
		return &InvalidStateError{AccountID: masterID, Reason: ReasonOffline}
	}
	g.masters[masterID] = enabled
	err := g.save([]Flag{{Scope: ScopeMaster, Key: masterID, Enabled: enabled}})
	g.mu.Unlock()

	g.logger.Info("Master copier switched", slog.String("master", masterID), slog.Bool("enabled", enabled))
	g.publish(ScopeMaster, masterID, enabled)

	return err
}

// Forget удаляет флаг master (аккаунт удалён)
func (g *Gate) Forget(masterID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.masters[masterID]; !ok {
		return
	}

	delete(g.masters, masterID)
	if err := g.save([]Flag{{Scope: ScopeMaster, Key: masterID, Enabled: false}}); err != nil {
		g.logger.Error("Failed to persist master flag", slog.String("master", masterID), slog.Any("error", err))
	}
}

// Snapshot возвращает копию всех флагов
func (g *Gate) Snapshot() State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := State{
		GlobalEnabled: g.global,
		Tenants:       make(map[string]bool, len(g.tenants)),
		Masters:       make(map[string]bool, len(g.masters)),
	}
	for k, v := range g.tenants {
		s.Tenants[k] = v
	}
	for k, v := range g.masters {
		s.Masters[k] = v
	}

	return s
}

func (g *Gate) tenantLocked(tenant string) bool {
	on, ok := g.tenants[tenant]
	return !ok || on
}

func (g *Gate) save(flags []Flag) error {
	if g.persister == nil {
		return nil
	}
	if err := g.persister.SaveFlags(flags); err != nil {
		return fmt.Errorf("failed to persist copier flags: %w", err)
	}
	return nil
}

func (g *Gate) publish(scope, key string, enabled bool) {
	if g.publisher == nil {
		return
	}
	g.publisher.Publish(events.Event{
		Type:      events.TypeCopierChanged,
		AccountID: accountOf(scope, key),
		TenantKey: g.eventTenant(scope, key),
		Payload:   events.CopierChange{Scope: scope, Key: key, Enabled: enabled},
	})
}

func accountOf(scope, key string) string {
	if scope == ScopeMaster {
		return key
	}
	return ""
}

func (g *Gate) eventTenant(scope, key string) string {
	switch {
	case scope == ScopeTenant:
		return key
	case scope == ScopeMaster && g.tenantOf != nil:
		return g.tenantOf(key)
	default:
		return ""
	}
}
