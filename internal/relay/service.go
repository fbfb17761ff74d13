package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mt_copier/internal/detect"
	"mt_copier/internal/events"
	"mt_copier/internal/gate"
	"mt_copier/internal/ledger"
	"mt_copier/internal/models"
	"mt_copier/internal/registry"
	"mt_copier/internal/transform"
)

// NoChange - ответ slave, когда передавать нечего
const NoChange = "0"

// Outcome - чем закончился цикл relay
type Outcome string

const (
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeNoMaster     Outcome = "no_master"
	OutcomeGateClosed   Outcome = "gate_closed"
	OutcomeNoLedger     Outcome = "no_ledger"
	OutcomeUnchanged    Outcome = "unchanged"
	OutcomeRelayed      Outcome = "relayed"
	OutcomeCancelled    Outcome = "cancelled"
)

// Response - ответ slave на запрос ордеров
type Response struct {
	Body    string
	Outcome Outcome
	Stats   transform.Stats
}

// Observer получает статистику relay (метрики)
type Observer interface {
	ObserveRelay(outcome string)
	ObserveFanOut(op string, succeeded, failed, skipped int)
}

// Service - оркестратор relay: master ledger -> детектор -> трансформация -> slave
type Service struct {
	registry  *registry.Registry
	ledgers   *ledger.Store // ledger файлы EA
	relays    *ledger.Store // трансформированные снимки для slave
	gate      *gate.Gate
	detector  *detect.Detector
	publisher events.Publisher
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// Option настраивает Service
type Option func(*Service)

// WithObserver подключает метрики
func WithObserver(o Observer) Option {
	return func(s *Service) {
		s.observer = o
	}
}

// WithClock подменяет часы
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithPublisher подключает публикацию событий
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// New создает сервис relay
func New(
	reg *registry.Registry,
	ledgers *ledger.Store,
	relays *ledger.Store,
	g *gate.Gate,
	detector *detect.Detector,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		registry: reg,
		ledgers:  ledgers,
		relays:   relays,
		gate:     g,
		detector: detector,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SlaveOrders выполняет один цикл relay для slave:
// авторизация -> gate -> чтение ledger master -> детектор изменений -> трансформация -> ответ
func (s *Service) SlaveOrders(ctx context.Context, tenant, slaveID string) Response {
	resp := s.slaveOrders(ctx, tenant, slaveID)

	if s.observer != nil {
		s.observer.ObserveRelay(string(resp.Outcome))
	}

	return resp
}

func (s *Service) slaveOrders(ctx context.Context, tenant, slaveID string) Response {
	// AuthorizedCheck
	if tenant == "" {
		return Response{Outcome: OutcomeUnauthorized}
	}

	slave, err := s.registry.Get(slaveID)
	if err != nil || slave.Role != models.RoleSlave || slave.TenantKey != tenant {
		return Response{Outcome: OutcomeUnauthorized}
	}

	if slave.ConnectedMaster == "" {
		return Response{Body: NoChange, Outcome: OutcomeNoMaster}
	}

	master, err := s.registry.Get(slave.ConnectedMaster)
	if err != nil || master.Role != models.RoleMaster {
		return Response{Body: NoChange, Outcome: OutcomeNoMaster}
	}

	// GateCheck
	if !s.gate.IsEnabled(master.ID, master.TenantKey) {
		// после открытия gate slave получит полный снимок
		s.detector.Reset(slaveID)
		return Response{Body: NoChange, Outcome: OutcomeGateClosed}
	}

	// LedgerRead
	doc, err := s.ledgers.Read(master.ID)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			s.logger.Warn("Failed to read master ledger", slog.String("master", master.ID), slog.Any("error", err))
		}
		s.detector.Reset(slaveID)
		return Response{Body: NoChange, Outcome: OutcomeNoLedger}
	}

	// EA уже отключился: кэш детектора не трогаем, изменения уйдут следующему запросу
	if ctx.Err() != nil {
		return Response{Body: NoChange, Outcome: OutcomeCancelled}
	}

	// ChangeCheck: кэш детектора ведётся на slave, у каждого slave свой предыдущий снимок
	if !s.detector.DetectSnapshot(slaveID, doc.Snapshot).HasChanges {
		return Response{Body: NoChange, Outcome: OutcomeUnchanged}
	}

	// Transform
	out, stats := transform.ApplySnapshot(doc.Snapshot, master.MasterConfig, slave.SlaveConfig)
	body := ledger.FormatSnapshot(out)

	// Respond; копия для slave пишется через очередь, ответ её не ждёт
	s.relays.Enqueue(slaveID, body)

	s.logger.Debug("Orders relayed",
		slog.String("master", master.ID),
		slog.String("slave", slaveID),
		slog.Int("kept", stats.Kept),
		slog.Int("filtered", stats.Filtered))

	return Response{Body: body, Outcome: OutcomeRelayed, Stats: stats}
}

// Invalidate сбрасывает кэш детектора slave: следующий запрос получит полный снимок.
// Вызывается после изменения конфига или подключения.
func (s *Service) Invalidate(slaveID string) {
	s.detector.Reset(slaveID)
}

// Run обрабатывает события, пока ctx не отменён.
// Slave, вернувшийся online, получает полный снимок.
func (s *Service) Run(ctx context.Context, bus *events.Bus) error {
	sub := bus.Subscribe(128)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			s.handleEvent(e)
		}
	}
}

func (s *Service) handleEvent(e events.Event) {
	if e.Type != events.TypeAccountStatus {
		return
	}

	change, ok := e.Payload.(events.StatusChange)
	if !ok || change.Current != string(models.StatusOnline) || change.Role != string(models.RoleSlave) {
		return
	}

	s.detector.Reset(e.AccountID)
	s.logger.Debug("Slave back online, full snapshot scheduled", slog.String("slave", e.AccountID))
}

// Heartbeat публикует сводку состояния копира
func (s *Service) Heartbeat(_ context.Context) {
	if s.publisher == nil {
		return
	}

	var hb events.Heartbeat
	for _, acc := range s.registry.List() {
		switch {
		case acc.Role == models.RolePending:
			hb.Pending++
		case acc.Status == models.StatusOnline:
			hb.Online++
		default:
			hb.Offline++
		}
	}
	hb.GlobalEnabled = s.gate.GlobalEnabled()

	s.publisher.Publish(events.Event{Type: events.TypeCopierHeartbeat, Payload: hb})
}
