package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mt_copier/internal/events"
	"mt_copier/internal/ledger"
	"mt_copier/internal/models"
	"mt_copier/internal/registry"
	"mt_copier/internal/task"
)

// TransitionObserver получает переходы статусов (метрики)
type TransitionObserver interface {
	ObserveTransition(status string)
}

// Monitor вычисляет online/offline статус аккаунтов по времени последней записи в ledger
type Monitor struct {
	registry  *registry.Registry
	store     *ledger.Store
	publisher events.Publisher
	observer  TransitionObserver
	logger    *slog.Logger
	now       func() time.Time

	timeout        time.Duration
	pendingTimeout time.Duration
	workers        int

	mu      sync.Mutex
	expired map[string]time.Time // pending аккаунты, о которых уже сообщено, и их активность
}

// Option настраивает Monitor
type Option func(*Monitor)

// WithTimeouts задаёт таймаут активности и время жизни pending аккаунта
func WithTimeouts(activity, pending time.Duration) Option {
	return func(m *Monitor) {
		if activity > 0 {
			m.timeout = activity
		}
		if pending > 0 {
			m.pendingTimeout = pending
		}
	}
}

// WithObserver подключает метрики переходов
func WithObserver(o TransitionObserver) Option {
	return func(m *Monitor) {
		m.observer = o
	}
}

// WithClock подменяет часы
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// New создает монитор
func New(reg *registry.Registry, store *ledger.Store, publisher events.Publisher, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		registry:       reg,
		store:          store,
		publisher:      publisher,
		logger:         logger,
		now:            time.Now,
		timeout:        models.ActivityTimeout,
		pendingTimeout: models.PendingDeletionTimeout,
		workers:        8,
		expired:        make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsOnline вычисляет живой статус аккаунта по последней активности и текущему времени
func (m *Monitor) IsOnline(accountID string) bool {
	at, err := m.store.Activity(accountID)
	if err != nil {
		acc, err := m.registry.Get(accountID)
		if err != nil {
			return false
		}
		at = acc.LastActivity
	}

	return m.statusAt(at) == models.StatusOnline
}

// Task возвращает периодическую задачу монитора
func (m *Monitor) Task(period time.Duration) *task.Periodic {
	return task.New("presence", period, m.Tick, m.logger)
}

// Tick проверяет все аккаунты один раз
func (m *Monitor) Tick(ctx context.Context) {
	now := m.now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	for _, acc := range m.registry.List() {
		g.Go(func() error {
			m.check(ctx, acc, now)
			return nil
		})
	}

	_ = g.Wait()
}

func (m *Monitor) check(ctx context.Context, acc models.Account, now time.Time) {
	at, err := m.store.Activity(acc.ID)
	switch {
	case err == nil:
		m.registry.SetActivity(acc.ID, at)
	case errors.Is(err, ledger.ErrNotFound):
		at = acc.LastActivity
	default:
		m.logger.Warn("Failed to read account activity", slog.String("account", acc.ID), slog.Any("error", err))
		return
	}

	idle := now.Sub(at)

	if acc.Role == models.RolePending {
		m.checkPending(acc, at, idle)
	}

	status := models.StatusOnline
	if idle > m.timeout {
		status = models.StatusOffline
	}

	if status == acc.Status {
		return
	}

	err = m.store.Mutate(ctx, acc.ID, ledger.RewriteStatus(status))
	switch {
	case err == nil, errors.Is(err, ledger.ErrNotFound):
	case ledger.IsBusy(err):
		// EA держит файл - переход повторится на следующем тике
		m.logger.Debug("Status rewrite skipped, ledger busy", slog.String("account", acc.ID))
		return
	default:
		m.logger.Error("Failed to rewrite status line", slog.String("account", acc.ID), slog.Any("error", err))
		return
	}

	prev, ok := m.registry.SetStatus(acc.ID, status)
	if !ok || prev == status {
		return
	}

	m.logger.Info("Account status changed",
		slog.String("account", acc.ID),
		slog.String("from", string(prev)),
		slog.String("to", string(status)),
		slog.Duration("idle", idle.Round(time.Millisecond)))

	if m.observer != nil {
		m.observer.ObserveTransition(string(status))
	}

	m.publish(events.Event{
		Type:      events.TypeAccountStatus,
		AccountID: acc.ID,
		TenantKey: acc.TenantKey,
		Payload: events.StatusChange{
			Previous: string(prev),
			Current:  string(status),
			Role:     string(acc.Role),
		},
	})
}

// checkPending сообщает о pending аккаунте без активности дольше pendingTimeout.
// Одно событие на период простоя: новая активность сбрасывает отметку.
func (m *Monitor) checkPending(acc models.Account, at time.Time, idle time.Duration) {
	m.mu.Lock()
	announced, ok := m.expired[acc.ID]
	if idle <= m.pendingTimeout {
		if ok {
			delete(m.expired, acc.ID)
		}
		m.mu.Unlock()
		return
	}
	if ok && announced.Equal(at) {
		m.mu.Unlock()
		return
	}
	m.expired[acc.ID] = at
	m.mu.Unlock()

	m.logger.Info("Pending account expired", slog.String("account", acc.ID), slog.Duration("idle", idle.Round(time.Second)))

	m.publish(events.Event{
		Type:      events.TypePendingExpired,
		AccountID: acc.ID,
		Payload:   events.PendingExpired{IdleSeconds: int64(idle.Seconds())},
	})
}

func (m *Monitor) statusAt(at time.Time) models.Status {
	if m.now().Sub(at) > m.timeout {
		return models.StatusOffline
	}
	return models.StatusOnline
}

func (m *Monitor) publish(e events.Event) {
	if m.publisher != nil {
		m.publisher.Publish(e)
	}
}
