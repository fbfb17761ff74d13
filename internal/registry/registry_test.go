package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt_copier/internal/ledger"
	"mt_copier/internal/models"
)

type memPersister struct {
	saved   map[string]models.Account
	deleted []string
}

func (m *memPersister) SaveAccount(acc models.Account) error {
	m.saved[acc.ID] = acc
	return nil
}

func (m *memPersister) DeleteAccount(id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memPersister) LoadAccounts() ([]models.Account, error) {
	out := make([]models.Account, 0, len(m.saved))
	for _, acc := range m.saved {
		out = append(out, acc)
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDiscover_CreatesPending(t *testing.T) {
	r := New(nil, discardLogger())

	acc, created := r.Discover("A1", ledger.Document{})
	require.True(t, created)
	assert.Equal(t, models.RolePending, acc.Role)
	assert.Equal(t, 1.0, acc.MasterConfig.LotMultiplier)
	assert.True(t, acc.SlaveConfig.Enabled)

	_, created = r.Discover("A1", ledger.Document{})
	assert.False(t, created)
}

func TestDiscover_TypeLineKeepsPending(t *testing.T) {
	r := New(nil, discardLogger())

	doc, _ := ledger.Parse("[TYPE] [SLAVE] [MT5] [S1]\n[STATUS] [OFFLINE] [1700000000]\n[CONFIG] [SLAVE] [DISABLED] [2] [NULL] [TRUE] [0.01] [5] [M1] [/data/M1.txt]\n")
	acc, _ := r.Discover("S1", doc)

	assert.Equal(t, models.RolePending, acc.Role)
	assert.Empty(t, acc.TenantKey)
	assert.Empty(t, acc.ConnectedMaster)
	assert.Equal(t, models.PlatformMT5, acc.Platform)
	assert.Equal(t, models.StatusOffline, acc.Status)
	assert.Equal(t, int64(1700000000), acc.LastActivity.Unix())

	// оператор по-прежнему может назначить роль
	acc, err := r.ConvertToSlave("S1", "acme")
	require.NoError(t, err)
	assert.Equal(t, models.RoleSlave, acc.Role)
	assert.Equal(t, "acme", acc.TenantKey)
}

func TestConvert_RoleSetOnce(t *testing.T) {
	p := &memPersister{saved: map[string]models.Account{}}
	r := New(p, discardLogger())
	r.Discover("M1", ledger.Document{})

	acc, err := r.ConvertToMaster("M1", "acme", "Main")
	require.NoError(t, err)
	assert.Equal(t, models.RoleMaster, acc.Role)
	assert.Equal(t, "acme", acc.TenantKey)
	assert.Equal(t, "Main", p.saved["M1"].DisplayName)

	_, err = r.ConvertToSlave("M1", "acme")
	require.ErrorIs(t, err, ErrRoleAlreadySet)

	_, err = r.ConvertToMaster("missing", "acme", "")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestConnect(t *testing.T) {
	r := New(nil, discardLogger())
	for _, id := range []string{"M1", "S1", "S2", "X1"} {
		r.Discover(id, ledger.Document{})
	}

	_, err := r.ConvertToMaster("M1", "acme", "")
	require.NoError(t, err)
	_, err = r.ConvertToSlave("S1", "acme")
	require.NoError(t, err)
	_, err = r.ConvertToSlave("S2", "other")
	require.NoError(t, err)

	acc, err := r.Connect("S1", "M1")
	require.NoError(t, err)
	assert.Equal(t, "M1", acc.ConnectedMaster)

	_, err = r.Connect("S2", "M1")
	require.ErrorIs(t, err, ErrTenantMismatch)

	_, err = r.Connect("X1", "M1")
	require.ErrorIs(t, err, ErrRoleMismatch)

	slaves := r.SlavesOf("M1")
	require.Len(t, slaves, 1)
	assert.Equal(t, "S1", slaves[0].ID)

	acc, err = r.Disconnect("S1")
	require.NoError(t, err)
	assert.Empty(t, acc.ConnectedMaster)
	assert.Empty(t, r.SlavesOf("M1"))
}

func TestDelete_DisconnectsSlaves(t *testing.T) {
	r := New(nil, discardLogger())
	r.Discover("M1", ledger.Document{})
	r.Discover("S1", ledger.Document{})
	_, _ = r.ConvertToMaster("M1", "acme", "")
	_, _ = r.ConvertToSlave("S1", "acme")
	_, _ = r.Connect("S1", "M1")

	require.NoError(t, r.Delete("M1"))

	s, err := r.Get("S1")
	require.NoError(t, err)
	assert.Empty(t, s.ConnectedMaster)

	require.ErrorIs(t, r.Delete("M1"), ErrAccountNotFound)
}

func TestExpiredPending(t *testing.T) {
	r := New(nil, discardLogger())
	r.Discover("P1", ledger.Document{})
	r.Discover("P2", ledger.Document{})
	_, _ = r.ConvertToMaster("P2", "acme", "")

	now := time.Now()
	r.SetActivity("P1", now.Add(-2*time.Hour))
	r.SetActivity("P2", now.Add(-2*time.Hour))

	expired := r.ExpiredPending(now, models.PendingDeletionTimeout)
	require.Len(t, expired, 1)
	assert.Equal(t, "P1", expired[0].ID)
}

func TestRescan(t *testing.T) {
	store, err := ledger.NewStore(t.TempDir(), discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "M1", "[TYPE] [MASTER] [MT4] [M1]\n[STATUS] [ONLINE] [1700000000]\n[1]\n"))
	require.NoError(t, store.Write(ctx, "P1", "[1]\n"))

	r := New(nil, discardLogger())
	require.NoError(t, r.Rescan(store))

	accounts := r.List()
	require.Len(t, accounts, 2)
	assert.Equal(t, models.RolePending, accounts[0].Role)
	assert.Equal(t, models.PlatformMT4, accounts[0].Platform)
	assert.Equal(t, int64(1700000000), accounts[0].LastActivity.Unix())
	assert.Equal(t, models.RolePending, accounts[1].Role)
}

func TestRescan_KeepsPersistedRoles(t *testing.T) {
	store, err := ledger.NewStore(t.TempDir(), discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "M1", "[TYPE] [SLAVE] [MT4] [M1]\n[1]\n"))

	p := &memPersister{saved: map[string]models.Account{
		"M1": {ID: "M1", Role: models.RoleMaster, TenantKey: "acme"},
	}}
	r := New(p, discardLogger())
	require.NoError(t, r.Load())
	require.NoError(t, r.Rescan(store))

	acc, err := r.Get("M1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleMaster, acc.Role)
	assert.Equal(t, "acme", acc.TenantKey)
}

func TestLoad_RestoresPersisted(t *testing.T) {
	p := &memPersister{saved: map[string]models.Account{
		"M1": {ID: "M1", Role: models.RoleMaster, TenantKey: "acme"},
	}}

	r := New(p, discardLogger())
	require.NoError(t, r.Load())

	acc, err := r.Get("M1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, acc.Status)
	assert.Equal(t, "acme", acc.TenantKey)
	assert.Len(t, r.ListByTenant("acme"), 1)
	assert.Empty(t, r.ListByTenant("other"))
}
