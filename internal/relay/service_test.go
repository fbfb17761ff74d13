package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt_copier/internal/detect"
	"mt_copier/internal/events"
	"mt_copier/internal/gate"
	"mt_copier/internal/ledger"
	"mt_copier/internal/models"
	"mt_copier/internal/presence"
	"mt_copier/internal/registry"
)

const masterOrder = "[100,EURUSD,BUY,1.00,1.1000,0,0,1700000000,M1]"

type fixture struct {
	ledgers  *ledger.Store
	relays   *ledger.Store
	registry *registry.Registry
	gate     *gate.Gate
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledgers, err := ledger.NewStore(t.TempDir(), logger)
	require.NoError(t, err)
	relays, err := ledger.NewStore(t.TempDir(), logger)
	require.NoError(t, err)

	reg := registry.New(nil, logger)
	monitor := presence.New(reg, ledgers, nil, logger)
	g := gate.New(monitor, nil, nil, logger)

	f := &fixture{
		ledgers:  ledgers,
		relays:   relays,
		registry: reg,
		gate:     g,
		service:  New(reg, ledgers, relays, g, detect.New(), logger),
	}

	return f
}

func (f *fixture) writeMaster(t *testing.T, at time.Time, body string) {
	t.Helper()

	text := fmt.Sprintf("[TYPE] [MASTER] [MT4] [M1]\n[STATUS] [ONLINE] [%d]\n%s", at.Unix(), body)
	require.NoError(t, f.ledgers.Write(context.Background(), "M1", text))
}

// master M1 и slave S1 тенанта acme, копир для M1 включен
func (f *fixture) connect(t *testing.T, slave models.SlaveConfig) {
	t.Helper()

	f.registry.Discover("M1", ledger.Document{})
	f.registry.Discover("S1", ledger.Document{})

	_, err := f.registry.ConvertToMaster("M1", "acme", "Main")
	require.NoError(t, err)
	_, err = f.registry.ConvertToSlave("S1", "acme")
	require.NoError(t, err)
	_, err = f.registry.Connect("S1", "M1")
	require.NoError(t, err)
	_, err = f.registry.SetSlaveConfig("S1", slave)
	require.NoError(t, err)

	f.writeMaster(t, time.Now(), "[1]\n"+masterOrder+"\n")
	require.NoError(t, f.ledgers.Write(context.Background(), "S1", "[0]\n"))

	require.NoError(t, f.gate.SetMasterEnabled("M1", true))
}

func TestSlaveOrders_LotMultiplier(t *testing.T) {
	f := newFixture(t)
	slave := models.DefaultSlaveConfig()
	slave.LotMultiplier = 2
	f.connect(t, slave)

	resp := f.service.SlaveOrders(context.Background(), "acme", "S1")

	require.Equal(t, OutcomeRelayed, resp.Outcome)
	assert.Equal(t, "[1]\n[100,EURUSD,BUY,2.00,1.1,0,0,1700000000,M1]\n", resp.Body)

	// копия для slave пишется асинхронно
	require.Eventually(t, func() bool {
		data, err := f.relays.ReadRaw("S1")
		return err == nil && string(data) == resp.Body
	}, time.Second, 5*time.Millisecond)

	// тот же снимок второй раз - только heartbeat
	resp = f.service.SlaveOrders(context.Background(), "acme", "S1")
	assert.Equal(t, OutcomeUnchanged, resp.Outcome)
	assert.Equal(t, NoChange, resp.Body)
}

func TestSlaveOrders_MaxLotOnWire(t *testing.T) {
	f := newFixture(t)
	slave := models.DefaultSlaveConfig()
	slave.MaxLotSize = models.Float(0.125)
	f.connect(t, slave)

	resp := f.service.SlaveOrders(context.Background(), "acme", "S1")
	require.Equal(t, OutcomeRelayed, resp.Outcome)
	assert.Contains(t, resp.Body, ",0.125,")

	snapshot, issues := ledger.ParseSnapshot(resp.Body)
	require.Empty(t, issues)
	require.Len(t, snapshot.Orders, 1)
	assert.LessOrEqual(t, snapshot.Orders[0].Lot, 0.125)
}

func TestSlaveOrders_CancelledKeepsChanges(t *testing.T) {
	f := newFixture(t)
	f.connect(t, models.DefaultSlaveConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := f.service.SlaveOrders(ctx, "acme", "S1")
	assert.Equal(t, OutcomeCancelled, resp.Outcome)
	assert.Equal(t, NoChange, resp.Body)

	resp = f.service.SlaveOrders(context.Background(), "acme", "S1")
	assert.Equal(t, OutcomeRelayed, resp.Outcome)
}

func TestSlaveOrders_BlockedSymbol(t *testing.T) {
	f := newFixture(t)
	slave := models.DefaultSlaveConfig()
	slave.BlockedSymbols = []string{"EURUSD"}
	f.connect(t, slave)

	resp := f.service.SlaveOrders(context.Background(), "acme", "S1")

	require.Equal(t, OutcomeRelayed, resp.Outcome)
	assert.Equal(t, "[1]\n", resp.Body)
	assert.Equal(t, 1, resp.Stats.Filtered)
}

func TestSlaveOrders_MasterOffline(t *testing.T) {
	f := newFixture(t)
	f.connect(t, models.DefaultSlaveConfig())

	// master не писал больше 5 секунд
	f.writeMaster(t, time.Now().Add(-10*time.Second), "[2]\n"+masterOrder+"\n")

	resp := f.service.SlaveOrders(context.Background(), "acme", "S1")
	assert.Equal(t, OutcomeGateClosed, resp.Outcome)
	assert.Equal(t, NoChange, resp.Body)
	assert.True(t, f.gate.MasterEnabled("M1"))
}

func TestSlaveOrders_ShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.connect(t, models.DefaultSlaveConfig())
	ctx := context.Background()

	assert.Equal(t, Response{Outcome: OutcomeUnauthorized}, f.service.SlaveOrders(ctx, "", "S1"))
	assert.Equal(t, Response{Outcome: OutcomeUnauthorized}, f.service.SlaveOrders(ctx, "other", "S1"))
	assert.Equal(t, Response{Outcome: OutcomeUnauthorized}, f.service.SlaveOrders(ctx, "acme", "M1"))

	require.NoError(t, f.gate.SetMasterEnabled("M1", false))
	assert.Equal(t, OutcomeGateClosed, f.service.SlaveOrders(ctx, "acme", "S1").Outcome)

	require.NoError(t, f.gate.SetMasterEnabled("M1", true))
	assert.Equal(t, OutcomeRelayed, f.service.SlaveOrders(ctx, "acme", "S1").Outcome)

	_, err := f.registry.Disconnect("S1")
	require.NoError(t, err)
	assert.Equal(t, Response{Body: NoChange, Outcome: OutcomeNoMaster}, f.service.SlaveOrders(ctx, "acme", "S1"))
}

func TestSlaveOrders_ReconnectGetsFullSnapshot(t *testing.T) {
	f := newFixture(t)
	f.connect(t, models.DefaultSlaveConfig())
	ctx := context.Background()

	require.Equal(t, OutcomeRelayed, f.service.SlaveOrders(ctx, "acme", "S1").Outcome)
	require.Equal(t, OutcomeUnchanged, f.service.SlaveOrders(ctx, "acme", "S1").Outcome)

	f.service.handleEvent(events.Event{
		Type:      events.TypeAccountStatus,
		AccountID: "S1",
		Payload:   events.StatusChange{Previous: "OFFLINE", Current: "ONLINE", Role: "SLAVE"},
	})

	assert.Equal(t, OutcomeRelayed, f.service.SlaveOrders(ctx, "acme", "S1").Outcome)
}

func TestSetMasterEnabled_PushesTokens(t *testing.T) {
	f := newFixture(t)
	f.connect(t, models.DefaultSlaveConfig())
	ctx := context.Background()

	res, err := f.service.SetMasterEnabled(ctx, "acme", "M1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)

	master, err := f.ledgers.Read("M1")
	require.NoError(t, err)
	require.NotNil(t, master.Config)
	assert.True(t, master.Config.Enabled)
	assert.Equal(t, "Main", master.Config.DisplayName)
	assert.Equal(t, "1", master.Snapshot.Counter)

	slave, err := f.ledgers.Read("S1")
	require.NoError(t, err)
	require.NotNil(t, slave.Config)
	assert.True(t, slave.Config.Enabled)
	assert.Equal(t, "M1", slave.Config.MasterID)
	assert.Equal(t, f.ledgers.Path("M1"), slave.Config.MasterLedgerPath)

	res, err = f.service.SetGlobalEnabled(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"M1"}, res.Disarmed)

	master, _ = f.ledgers.Read("M1")
	assert.False(t, master.Config.Enabled)
	slave, _ = f.ledgers.Read("S1")
	assert.False(t, slave.Config.Enabled)
}

func TestSetMasterEnabled_Errors(t *testing.T) {
	f := newFixture(t)
	f.connect(t, models.DefaultSlaveConfig())
	ctx := context.Background()

	_, err := f.service.SetMasterEnabled(ctx, "acme", "", true)
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)

	_, err = f.service.SetMasterEnabled(ctx, "other", "M1", true)
	require.ErrorIs(t, err, registry.ErrTenantMismatch)

	f.writeMaster(t, time.Now().Add(-time.Minute), "[1]\n")
	_, err = f.service.SetMasterEnabled(ctx, "acme", "M1", true)
	var stateErr *gate.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, gate.ReasonOffline, stateErr.Reason)
}

func TestFanOut_BusySlaveSkipped(t *testing.T) {
	f := newFixture(t)
	f.connect(t, models.DefaultSlaveConfig())

	lock := flock.New(f.ledgers.Path("S1") + ".lock")
	locked, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer lock.Unlock()

	res, err := f.service.SetMasterEnabled(context.Background(), "acme", "M1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Failed)
}

func TestIngestLedger(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1700000100, 0).UTC()
	f.service.now = func() time.Time { return now }
	ctx := context.Background()

	acc, err := f.service.IngestLedger(ctx, "acme", "P1", "[5]\r\n[1,EURUSD,BUY,0.10,1.1,0,0,1700000000,P1]\r\n[bad line]\n")
	require.NoError(t, err)
	assert.Equal(t, models.RolePending, acc.Role)

	doc, err := f.ledgers.Read("P1")
	require.NoError(t, err)
	require.NotNil(t, doc.Status)
	assert.Equal(t, now.Unix(), doc.Status.Timestamp.Unix())
	assert.Len(t, doc.Snapshot.Orders, 1)

	_, err = f.service.IngestLedger(ctx, "acme", "P1", "[TYPE] [MASTER] [MT4] [X9]\n[1]\n")
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestIngestLedger_DeclaredRoleNeedsConversion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	text := fmt.Sprintf("[TYPE] [MASTER] [MT4] [M9]\n[STATUS] [ONLINE] [%d]\n[0]\n", time.Now().Unix())
	acc, err := f.service.IngestLedger(ctx, "acme", "M9", text)
	require.NoError(t, err)
	assert.Equal(t, models.RolePending, acc.Role)
	assert.Equal(t, models.PlatformMT4, acc.Platform)

	acc, _, err = f.service.ConvertToMaster(ctx, "acme", "M9", "Main")
	require.NoError(t, err)
	assert.Equal(t, models.RoleMaster, acc.Role)
	assert.Equal(t, "acme", acc.TenantKey)

	_, err = f.service.SetMasterEnabled(ctx, "acme", "M9", true)
	require.NoError(t, err)
	assert.True(t, f.gate.Snapshot().Masters["M9"])
}

func TestIngestLedger_KeepsServerConfig(t *testing.T) {
	f := newFixture(t)
	f.connect(t, models.DefaultSlaveConfig())
	ctx := context.Background()

	_, err := f.service.SetMasterEnabled(ctx, "acme", "M1", true)
	require.NoError(t, err)

	_, err = f.service.IngestLedger(ctx, "acme", "M1", "[2]\n"+masterOrder+"\n")
	require.NoError(t, err)

	doc, err := f.ledgers.Read("M1")
	require.NoError(t, err)
	require.NotNil(t, doc.Config)
	assert.True(t, doc.Config.Enabled)
	assert.Equal(t, "2", doc.Snapshot.Counter)

	_, err = f.service.IngestLedger(ctx, "other", "M1", "[3]\n")
	require.ErrorIs(t, err, registry.ErrTenantMismatch)
}
