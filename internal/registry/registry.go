package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mt_copier/internal/ledger"
	"mt_copier/internal/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrRoleAlreadySet  = errors.New("account role already set")
	ErrRoleMismatch    = errors.New("account role mismatch")
	ErrTenantMismatch  = errors.New("account belongs to another tenant")
)

// Persister сохраняет проекцию аккаунтов (sqlite)
type Persister interface {
	SaveAccount(acc models.Account) error
	DeleteAccount(id string) error
	LoadAccounts() ([]models.Account, error)
}

// Registry - реестр аккаунтов. Единственный владелец map аккаунтов,
// остальные компоненты получают копии через методы.
type Registry struct {
	logger    *slog.Logger
	persister Persister
	now       func() time.Time

	mu       sync.RWMutex
	accounts map[string]*models.Account
}

// New создает реестр. persister может быть nil.
func New(persister Persister, logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		persister: persister,
		now:       time.Now,
		accounts:  make(map[string]*models.Account),
	}
}

// Load восстанавливает сохранённые роли, тенантов и конфиги
func (r *Registry) Load() error {
	if r.persister == nil {
		return nil
	}

	accounts, err := r.persister.LoadAccounts()
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, acc := range accounts {
		acc := acc
		if acc.Status == "" {
			acc.Status = models.StatusOffline
		}
		r.accounts[acc.ID] = &acc
	}

	r.logger.Info("Accounts restored", slog.Int("count", len(accounts)))

	return nil
}

// Discover регистрирует аккаунт при первой обнаруженной записи.
// Новый аккаунт всегда Pending, если ledger не объявляет роль в TYPE строке.
// Возвращает true если аккаунт создан.
func (r *Registry) Discover(id string, doc ledger.Document) (models.Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acc, ok := r.accounts[id]; ok {
		if doc.Type != nil && acc.Platform == "" {
			acc.Platform = doc.Type.Platform
		}
		return *acc, false
	}

	acc := &models.Account{
		ID:           id,
		Role:         models.RolePending,
		Status:       models.StatusOnline,
		LastActivity: r.now().UTC(),
		DiscoveredAt: r.now().UTC(),
		MasterConfig: models.DefaultMasterConfig(),
		SlaveConfig:  models.DefaultSlaveConfig(),
	}

	// роль и связь с master назначает только оператор, из TYPE берём платформу
	if doc.Type != nil {
		acc.Platform = doc.Type.Platform
	}
	if doc.Status != nil {
		acc.Status = doc.Status.Status
		acc.LastActivity = doc.Status.Timestamp
	}

	r.accounts[id] = acc
	r.persistLocked(*acc)

	r.logger.Info("Account discovered",
		slog.String("account", id),
		slog.String("role", string(acc.Role)),
		slog.String("platform", string(acc.Platform)))

	return *acc, true
}

// Get возвращает копию аккаунта
func (r *Registry) Get(id string) (models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	return *acc, nil
}

// List возвращает все аккаунты, отсортированные по id
func (r *Registry) List() []models.Account {
	return r.filter(func(models.Account) bool { return true })
}

// ListByTenant возвращает аккаунты тенанта и ещё не назначенные pending аккаунты
func (r *Registry) ListByTenant(tenant string) []models.Account {
	return r.filter(func(a models.Account) bool {
		return a.TenantKey == tenant || (a.Role == models.RolePending && a.TenantKey == "")
	})
}

// SlavesOf возвращает slave аккаунты, подключенные к master
func (r *Registry) SlavesOf(masterID string) []models.Account {
	return r.filter(func(a models.Account) bool {
		return a.Role == models.RoleSlave && a.ConnectedMaster == masterID
	})
}

// Masters возвращает все master аккаунты
func (r *Registry) Masters() []models.Account {
	return r.filter(func(a models.Account) bool { return a.Role == models.RoleMaster })
}

func (r *Registry) filter(keep func(models.Account) bool) []models.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		if keep(*acc) {
			out = append(out, *acc)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// ConvertToMaster назначает роль master. Роль назначается только один раз.
func (r *Registry) ConvertToMaster(id, tenant, displayName string) (models.Account, error) {
	return r.convert(id, tenant, models.RoleMaster, func(acc *models.Account) {
		acc.DisplayName = displayName
	})
}

// ConvertToSlave назначает роль slave. Роль назначается только один раз.
func (r *Registry) ConvertToSlave(id, tenant string) (models.Account, error) {
	return r.convert(id, tenant, models.RoleSlave, nil)
}

func (r *Registry) convert(id, tenant string, role models.Role, apply func(*models.Account)) (models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	if acc.Role != models.RolePending {
		return models.Account{}, fmt.Errorf("%w: %s is %s", ErrRoleAlreadySet, id, acc.Role)
	}

	if acc.TenantKey != "" && acc.TenantKey != tenant {
		return models.Account{}, fmt.Errorf("%w: %s", ErrTenantMismatch, id)
	}

	acc.Role = role
	acc.TenantKey = tenant
	if apply != nil {
		apply(acc)
	}

	r.persistLocked(*acc)

	r.logger.Info("Account converted",
		slog.String("account", id),
		slog.String("role", string(role)),
		slog.String("tenant", tenant))

	return *acc, nil
}

// Connect подключает slave к master того же тенанта
func (r *Registry) Connect(slaveID, masterID string) (models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slave, ok := r.accounts[slaveID]
	if !ok {
		return models.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, slaveID)
	}
	master, ok := r.accounts[masterID]
	if !ok {
		return models.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, masterID)
	}

	if slave.Role != models.RoleSlave || master.Role != models.RoleMaster {
		return models.Account{}, fmt.Errorf("%w: %s -> %s", ErrRoleMismatch, slaveID, masterID)
	}
	if slave.TenantKey != master.TenantKey {
		return models.Account{}, fmt.Errorf("%w: %s -> %s", ErrTenantMismatch, slaveID, masterID)
	}

	slave.ConnectedMaster = masterID
	r.persistLocked(*slave)

	return *slave, nil
}

// Disconnect отключает slave от master
func (r *Registry) Disconnect(slaveID string) (models.Account, error) {
	return r.update(slaveID, func(acc *models.Account) error {
		if acc.Role != models.RoleSlave {
			return fmt.Errorf("%w: %s is %s", ErrRoleMismatch, slaveID, acc.Role)
		}
		acc.ConnectedMaster = ""
		return nil
	})
}

// SetMasterConfig обновляет правила трансформации master
func (r *Registry) SetMasterConfig(id string, cfg models.MasterConfig) (models.Account, error) {
	return r.update(id, func(acc *models.Account) error {
		if acc.Role != models.RoleMaster {
			return fmt.Errorf("%w: %s is %s", ErrRoleMismatch, id, acc.Role)
		}
		acc.MasterConfig = cfg
		return nil
	})
}

// SetSlaveConfig обновляет правила трансформации slave
func (r *Registry) SetSlaveConfig(id string, cfg models.SlaveConfig) (models.Account, error) {
	return r.update(id, func(acc *models.Account) error {
		if acc.Role != models.RoleSlave {
			return fmt.Errorf("%w: %s is %s", ErrRoleMismatch, id, acc.Role)
		}
		acc.SlaveConfig = cfg
		return nil
	})
}

func (r *Registry) update(id string, fn func(*models.Account) error) (models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	if err := fn(acc); err != nil {
		return models.Account{}, err
	}

	r.persistLocked(*acc)

	return *acc, nil
}

// SetActivity обновляет время последней активности.
// Источник истины - ledger файл, поэтому значение перезаписывается как есть.
func (r *Registry) SetActivity(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acc, ok := r.accounts[id]; ok {
		acc.LastActivity = at.UTC()
	}
}

// SetStatus обновляет кэшированный статус, возвращает предыдущий
func (r *Registry) SetStatus(id string, status models.Status) (models.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return "", false
	}

	prev := acc.Status
	acc.Status = status

	return prev, true
}

// Delete удаляет аккаунт из реестра. Slave'ы удалённого master отключаются.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[id]; !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	delete(r.accounts, id)

	for _, acc := range r.accounts {
		if acc.ConnectedMaster == id {
			acc.ConnectedMaster = ""
			r.persistLocked(*acc)
		}
	}

	if r.persister != nil {
		if err := r.persister.DeleteAccount(id); err != nil {
			r.logger.Error("Failed to delete persisted account", slog.String("account", id), slog.Any("error", err))
		}
	}

	return nil
}

// ExpiredPending возвращает pending аккаунты без активности дольше timeout
func (r *Registry) ExpiredPending(now time.Time, timeout time.Duration) []models.Account {
	return r.filter(func(a models.Account) bool {
		return a.Role == models.RolePending && now.Sub(a.LastActivity) > timeout
	})
}

// Rescan перестраивает проекцию по ledger файлам: обнаруживает новые аккаунты
// и обновляет активность. Роли остаются такими, как их сохранил Load.
func (r *Registry) Rescan(store *ledger.Store) error {
	ids, err := store.List()
	if err != nil {
		return err
	}

	for _, id := range ids {
		doc, err := store.Read(id)
		if err != nil {
			if !errors.Is(err, ledger.ErrNotFound) {
				r.logger.Warn("Rescan failed to read ledger", slog.String("account", id), slog.Any("error", err))
			}
			continue
		}

		r.Discover(id, doc)

		at, err := store.Activity(id)
		if err == nil {
			r.SetActivity(id, at)
		}
	}

	return nil
}

func (r *Registry) persistLocked(acc models.Account) {
	if r.persister == nil {
		return
	}

	if err := r.persister.SaveAccount(acc); err != nil {
		r.logger.Error("Failed to persist account", slog.String("account", acc.ID), slog.Any("error", err))
	}
}
