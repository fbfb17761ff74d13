package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type - тип события
type Type string

const (
	TypeAccountStatus     Type = "account.status"
	TypeAccountDiscovered Type = "account.discovered"
	TypePendingExpired    Type = "pending.expired"
	TypeCopierChanged     Type = "copier.changed"
	TypeCopierHeartbeat   Type = "copier.heartbeat"
)

// Event - событие изменения состояния, уходящее подписчикам (GUI, лог, алерты)
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	AccountID string    `json:"account_id,omitempty"`
	TenantKey string    `json:"-"`
	Time      time.Time `json:"time"`
	Payload   any       `json:"payload,omitempty"`
}

// StatusChange - payload account.status
type StatusChange struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Role     string `json:"role"`
}

// Discovered - payload account.discovered
type Discovered struct {
	Role     string `json:"role"`
	Platform string `json:"platform,omitempty"`
}

// PendingExpired - payload pending.expired
type PendingExpired struct {
	IdleSeconds int64 `json:"idle_seconds"`
}

// CopierChange - payload copier.changed
type CopierChange struct {
	Scope   string `json:"scope"`
	Key     string `json:"key,omitempty"`
	Enabled bool   `json:"enabled"`
}

// Heartbeat - payload copier.heartbeat
type Heartbeat struct {
	Online        int  `json:"online"`
	Offline       int  `json:"offline"`
	Pending       int  `json:"pending"`
	GlobalEnabled bool `json:"global_enabled"`
}

// Publisher публикует события
type Publisher interface {
	Publish(e Event)
}

// Subscription - подписка на события. C закрывается после Close.
type Subscription struct {
	C <-chan Event

	ch   chan Event
	bus  *Bus
	once sync.Once
}

// Close отписывает подписчика
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

// Bus - шина событий. Publish никогда не блокирует:
// если буфер подписчика заполнен, событие для него теряется.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	dropped atomic.Int64
}

// NewBus создает шину событий
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Subscribe создает подписку с буфером buffer
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Publish рассылает событие всем подписчикам. ID и время заполняются если пусты.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Debug("Event dropped, subscriber is slow", slog.String("type", string(e.Type)))
		}
	}
}

// Dropped возвращает количество потерянных событий
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
