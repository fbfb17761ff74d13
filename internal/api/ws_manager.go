package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mt_copier/internal/api/middleware"
	"mt_copier/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	streamBuffer   = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true }, // origin проверяет CORS, доступ - JWT
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsManager хранит активные websocket подключения GUI
type wsManager struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger
}

type wsClient struct {
	conn   *websocket.Conn
	tenant string
	sub    *events.Subscription
	done   chan struct{}
	once   sync.Once
}

func newWSManager(logger *slog.Logger) *wsManager {
	return &wsManager{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
	}
}

func (m *wsManager) add(c *wsClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c] = struct{}{}
}

func (m *wsManager) remove(c *wsClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, c)
}

func (m *wsManager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

func (m *wsManager) closeAll() {
	m.mu.Lock()
	clients := make([]*wsClient, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
}

func (c *wsClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// HandleEvents открывает поток событий тенанта
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.GetTenant(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	client := &wsClient{
		conn:   conn,
		tenant: tenant,
		sub:    h.bus.Subscribe(streamBuffer),
		done:   make(chan struct{}),
	}
	h.streams.add(client)

	h.logger.Info("Event stream opened", slog.String("tenant", tenant))

	go h.streams.writePump(client)
	go h.streams.readPump(client)
}

// readPump читает только control сообщения и ловит закрытие соединения
func (m *wsManager) readPump(c *wsClient) {
	defer c.stop()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug("Event stream read failed", slog.Any("error", err))
			}
			return
		}
	}
}

// writePump пересылает события тенанта в соединение
func (m *wsManager) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sub.Close()
		m.remove(c)
		_ = c.conn.Close()
		m.logger.Info("Event stream closed", slog.String("tenant", c.tenant))
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case e, ok := <-c.sub.C:
			if !ok {
				return
			}
			if !visible(e, c.tenant) {
				continue
			}

			payload, err := json.Marshal(e)
			if err != nil {
				m.logger.Warn("Failed to encode event", slog.String("type", string(e.Type)), slog.Any("error", err))
				continue
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// visible - события без тенанта (глобальные) видны всем
func visible(e events.Event, tenant string) bool {
	return e.TenantKey == "" || e.TenantKey == tenant
}
