package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt_copier/internal/events"
	"mt_copier/internal/gate"
)

type fakeSender struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (f *fakeSender) SendHTMLMessage(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

func (f *fakeSender) count(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[chatID])
}

func TestAlertText(t *testing.T) {
	text, ok := alertText(events.Event{
		AccountID: "M1",
		Payload:   events.StatusChange{Previous: "ONLINE", Current: "OFFLINE", Role: "MASTER"},
	})
	require.True(t, ok)
	assert.Contains(t, text, "<b>M1</b> offline")

	_, ok = alertText(events.Event{
		AccountID: "S1",
		Payload:   events.StatusChange{Previous: "ONLINE", Current: "OFFLINE", Role: "SLAVE"},
	})
	assert.False(t, ok)

	_, ok = alertText(events.Event{Payload: events.CopierChange{Scope: gate.ScopeGlobal, Enabled: false}})
	assert.True(t, ok)

	_, ok = alertText(events.Event{Payload: events.CopierChange{Scope: gate.ScopeMaster, Key: "M1"}})
	assert.False(t, ok)

	_, ok = alertText(events.Event{Payload: events.Heartbeat{}})
	assert.False(t, ok)
}

func TestAlerter_RateLimited(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &fakeSender{sent: map[int64][]string{}}
	alerter := NewAlerter(sender, []int64{1, 2}, 2, logger)

	bus := events.NewBus(logger)
	sub := bus.Subscribe(16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = alerter.Run(ctx, sub)
	}()

	for range 5 {
		bus.Publish(events.Event{Type: events.TypeCopierChanged, Payload: events.CopierChange{Scope: gate.ScopeGlobal}})
	}

	require.Eventually(t, func() bool { return sender.count(2) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	// burst = 2, остальные алерты отброшены
	assert.Equal(t, 2, sender.count(1))
	assert.Equal(t, 2, sender.count(2))
}
