package ledger

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt_copier/internal/models"
)

const masterLedger = "[TYPE] [MASTER] [MT4] [M1]\n" +
	"[STATUS] [ONLINE] [1700000000]\n" +
	"[CONFIG] [MASTER] [ENABLED] [Main account]\n" +
	"[1]\n" +
	"[100,EURUSD,BUY,1.00,1.1000,0,0,1700000000,M1]\n" +
	"[101,GBPUSD,SELL LIMIT,0.50,1.2500,1.2600,1.2400,1700000001,M1,scalp]\n"

func TestParse_FullDocument(t *testing.T) {
	doc, issues := Parse(masterLedger)
	require.Empty(t, issues)

	require.NotNil(t, doc.Type)
	assert.Equal(t, models.RoleMaster, doc.Type.Role)
	assert.Equal(t, models.PlatformMT4, doc.Type.Platform)
	assert.Equal(t, "M1", doc.Type.AccountID)

	require.NotNil(t, doc.Status)
	assert.Equal(t, models.StatusOnline, doc.Status.Status)
	assert.Equal(t, int64(1700000000), doc.Status.Timestamp.Unix())

	require.NotNil(t, doc.Config)
	assert.True(t, doc.Config.Enabled)
	assert.Equal(t, "Main account", doc.Config.DisplayName)

	assert.Equal(t, "1", doc.Snapshot.Counter)
	require.Len(t, doc.Snapshot.Orders, 2)

	o := doc.Snapshot.Orders[1]
	assert.Equal(t, "101", o.OrderID)
	assert.Equal(t, "SELL LIMIT", o.Type)
	assert.Equal(t, 0.5, o.Lot)
	assert.Equal(t, 1.26, o.StopLoss)
	assert.Equal(t, 1.24, o.TakeProfit)
	assert.Equal(t, "scalp", o.Comment)
}

func TestParse_CounterOnly(t *testing.T) {
	doc, issues := Parse("[7]\n")
	require.Empty(t, issues)
	assert.Equal(t, "7", doc.Snapshot.Counter)
	assert.Empty(t, doc.Snapshot.Orders)
	assert.Nil(t, doc.Type)
}

func TestParse_ToleratesCarriageReturns(t *testing.T) {
	doc, issues := Parse(strings.ReplaceAll(masterLedger, "\n", "\r\n"))
	require.Empty(t, issues)
	assert.Len(t, doc.Snapshot.Orders, 2)
	assert.Equal(t, "M1", doc.Snapshot.Orders[0].OwnerAccountID)
}

func TestParse_SkipsMalformedLines(t *testing.T) {
	text := "[3]\n" +
		"[100,EURUSD,BUY,1.00,1.1000,0,0,1700000000,M1]\n" +
		"[101,EURUSD,BUY,abc,1.1000,0,0,1700000000,M1]\n" +
		"garbage\n" +
		"[STATUS] [SLEEPING] [1]\n" +
		"[102,USDJPY,SELL,2.00,150.1,0,0,1700000002,M1]\n"

	doc, issues := Parse(text)
	require.Len(t, issues, 3)
	assert.Equal(t, 3, issues[0].Line)
	assert.Equal(t, 4, issues[1].Line)
	assert.Equal(t, 5, issues[2].Line)

	assert.Equal(t, []string{"100", "102"}, doc.Snapshot.IDs())
	assert.Nil(t, doc.Status)
}

func TestDocumentFormat_NoCarriageReturn(t *testing.T) {
	doc, _ := Parse(strings.ReplaceAll(masterLedger, "\n", "\r\n"))
	out := doc.Format()

	assert.NotContains(t, out, "\r")
	assert.True(t, strings.HasSuffix(out, "\n"))

	again, issues := Parse(out)
	require.Empty(t, issues)
	assert.Equal(t, doc.Snapshot, again.Snapshot)
	assert.Equal(t, doc.Config, again.Config)
}

func TestSlaveConfigLine(t *testing.T) {
	line := "[CONFIG] [SLAVE] [DISABLED] [2] [NULL] [TRUE] [0.01] [5] [M1] [/data/M1.txt]\n"

	doc, issues := Parse(line)
	require.Empty(t, issues)
	require.NotNil(t, doc.Config)

	c := doc.Config
	assert.Equal(t, models.RoleSlave, c.Role)
	assert.False(t, c.Enabled)
	assert.Equal(t, 2.0, c.LotMultiplier)
	assert.Nil(t, c.ForceLot)
	assert.True(t, c.Reverse)
	require.NotNil(t, c.MinLot)
	assert.Equal(t, 0.01, *c.MinLot)
	require.NotNil(t, c.MaxLot)
	assert.Equal(t, 5.0, *c.MaxLot)
	assert.Equal(t, "M1", c.MasterID)
	assert.Equal(t, "/data/M1.txt", c.MasterLedgerPath)

	assert.Equal(t, line, doc.Format())
}

func TestFormatSnapshot(t *testing.T) {
	s := models.OrderSnapshot{
		Counter: "1",
		Orders: []models.OrderRecord{{
			OrderID:        "100",
			Symbol:         "EURUSD",
			Type:           "BUY",
			Lot:            2,
			Price:          1.1,
			Timestamp:      time.Unix(1700000000, 0),
			OwnerAccountID: "M1",
		}},
	}

	assert.Equal(t, "[1]\n[100,EURUSD,BUY,2.00,1.1,0,0,1700000000,M1]\n", FormatSnapshot(s))
	assert.Equal(t, "[1]\n", FormatSnapshot(models.OrderSnapshot{Counter: "1"}))
}

func TestReplaceHeader(t *testing.T) {
	text := "[TYPE] [SLAVE] [MT5] [S1]\n[5]\n[1,EURUSD,BUY,1,1,0,0,1,S1]"

	withStatus := replaceHeader(text, tokenStatus, "[STATUS] [OFFLINE] [10]\n")
	assert.Equal(t, "[TYPE] [SLAVE] [MT5] [S1]\n[STATUS] [OFFLINE] [10]\n[5]\n[1,EURUSD,BUY,1,1,0,0,1,S1]", withStatus)

	replaced := replaceHeader(withStatus, tokenStatus, "[STATUS] [ONLINE] [10]\n")
	assert.Contains(t, replaced, "[STATUS] [ONLINE] [10]\n")
	assert.NotContains(t, replaced, "OFFLINE")

	counterOnly := replaceHeader("[5]\n", tokenConfig, "[CONFIG] [MASTER] [ENABLED] [x]\n")
	assert.Equal(t, "[CONFIG] [MASTER] [ENABLED] [x]\n[5]\n", counterOnly)
}
