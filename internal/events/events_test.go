package events

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublish_FillsIDAndTime(t *testing.T) {
	bus := newBus()
	sub := bus.Subscribe(1)
	defer sub.Close()

	bus.Publish(Event{Type: TypeAccountStatus, AccountID: "M1"})

	e := <-sub.C
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Time.IsZero())
	assert.Equal(t, "M1", e.AccountID)
}

func TestPublish_NeverBlocks(t *testing.T) {
	bus := newBus()
	sub := bus.Subscribe(1)
	defer sub.Close()

	bus.Publish(Event{Type: TypeCopierHeartbeat})
	bus.Publish(Event{Type: TypeCopierHeartbeat})

	assert.Equal(t, int64(1), bus.Dropped())
}

func TestSubscription_Close(t *testing.T) {
	bus := newBus()
	sub := bus.Subscribe(1)

	sub.Close()
	sub.Close()

	_, ok := <-sub.C
	require.False(t, ok)

	bus.Publish(Event{Type: TypeCopierChanged})
}
