package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt_copier/internal/events"
	"mt_copier/internal/gate"
	"mt_copier/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "copier.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestFlags_SaveAndLoad(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.SaveFlags([]gate.Flag{
		{Scope: gate.ScopeGlobal, Enabled: true},
		{Scope: gate.ScopeMaster, Key: "M1", Enabled: true},
	}))
	require.NoError(t, s.SaveFlags([]gate.Flag{
		{Scope: gate.ScopeGlobal, Enabled: false},
		{Scope: gate.ScopeMaster, Key: "M1", Enabled: false},
	}))

	flags, err := s.LoadFlags()
	require.NoError(t, err)
	assert.ElementsMatch(t, []gate.Flag{
		{Scope: gate.ScopeGlobal, Enabled: false},
		{Scope: gate.ScopeMaster, Key: "M1", Enabled: false},
	}, flags)
}

func TestAccounts_SaveLoadDelete(t *testing.T) {
	s := newTestStorage(t)

	slaveCfg := models.DefaultSlaveConfig()
	slaveCfg.LotMultiplier = 2
	slaveCfg.MaxLotSize = models.Float(5)
	slaveCfg.BlockedSymbols = []string{"XAUUSD"}

	acc := models.Account{
		ID:              "S1",
		Role:            models.RoleSlave,
		Platform:        models.PlatformMT5,
		TenantKey:       "acme",
		Status:          models.StatusOnline,
		ConnectedMaster: "M1",
		SlaveConfig:     slaveCfg,
		MasterConfig:    models.DefaultMasterConfig(),
		LastActivity:    time.Unix(1700000000, 0).UTC(),
		DiscoveredAt:    time.Unix(1690000000, 0).UTC(),
	}
	require.NoError(t, s.SaveAccount(acc))

	acc.DisplayName = "updated"
	require.NoError(t, s.SaveAccount(acc))

	loaded, err := s.LoadAccounts()
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, "updated", got.DisplayName)
	assert.Equal(t, models.StatusOffline, got.Status)
	assert.Equal(t, "M1", got.ConnectedMaster)
	assert.Equal(t, slaveCfg, got.SlaveConfig)
	assert.Equal(t, acc.DiscoveredAt, got.DiscoveredAt)

	require.NoError(t, s.DeleteAccount("S1"))
	loaded, err = s.LoadAccounts()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLogs_TenantFilter(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.AddLog(ctx, models.ActivityLog{TenantKey: "acme", Level: "INFO", Action: "a", Message: "mine"}))
	require.NoError(t, s.AddLog(ctx, models.ActivityLog{TenantKey: "other", Level: "INFO", Action: "a", Message: "theirs"}))
	require.NoError(t, s.AddLog(ctx, models.ActivityLog{Level: "WARN", Action: "b", Message: "global"}))

	logs, err := s.GetLogs("acme", 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "global", logs[0].Message)
	assert.Equal(t, "mine", logs[1].Message)
	assert.False(t, logs[0].CreatedAt.IsZero())
}

func TestRecordEvents(t *testing.T) {
	s := newTestStorage(t)
	bus := events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.RecordEvents(ctx, sub)
	}()

	bus.Publish(events.Event{Type: events.TypeCopierHeartbeat, Payload: events.Heartbeat{Online: 1}})
	bus.Publish(events.Event{
		Type:      events.TypeAccountStatus,
		AccountID: "M1",
		TenantKey: "acme",
		Payload:   events.StatusChange{Previous: "ONLINE", Current: "OFFLINE", Role: "MASTER"},
	})

	require.Eventually(t, func() bool {
		logs, err := s.GetLogs("acme", 10, 0)
		return err == nil && len(logs) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	logs, err := s.GetLogs("acme", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, "WARN", logs[0].Level)
	assert.Equal(t, "account.status", logs[0].Action)
	assert.Equal(t, "M1", logs[0].AccountID)
	assert.Contains(t, logs[0].Details, `"current":"OFFLINE"`)
}
