package report

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Pythefnos/Topstep-quant/internal/ledger"
)

func seededJournal(t *testing.T) *ledger.SQLiteJournal {
	t.Helper()
	journal, err := ledger.NewSQLiteJournal(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	ts := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	require.NoError(t, journal.AppendEntry(ledger.Entry{
		ID: "01A", Timestamp: ts, TradingDay: "2025-03-10", SleeveID: "mm",
		Market: "MES", Kind: ledger.EntryFill, RealizedDelta: 125.50,
	}))
	require.NoError(t, journal.AppendEntry(ledger.Entry{
		ID: "01B", Timestamp: ts.Add(time.Minute), TradingDay: "2025-03-10", SleeveID: "trend",
		Market: "MNQ", Kind: ledger.EntryFill, RealizedDelta: -40.25,
	}))
	require.NoError(t, journal.AppendEvent(ledger.JournalEvent{
		ID: "01C", Timestamp: ts.Add(2 * time.Minute), TradingDay: "2025-03-10",
		Type: "RISK_WARNING", Detail: "daily loss 900.00 reached 90% of limit 1000.00",
		DailyPnL: -900, Drawdown: 950,
	}))
	return journal
}

func TestPrintDays(t *testing.T) {
	r := New(seededJournal(t))

	var buf bytes.Buffer
	require.NoError(t, r.PrintDays(&buf))

	out := buf.String()
	assert.Contains(t, out, "2025-03-10")
	assert.Contains(t, out, "85.25") // 125.50 - 40.25
	assert.Contains(t, out, "TRADING DAYS")
}

func TestPrintDayIncludesEvents(t *testing.T) {
	r := New(seededJournal(t))

	var buf bytes.Buffer
	require.NoError(t, r.PrintDay(&buf, "2025-03-10"))

	out := buf.String()
	assert.Contains(t, out, "mm")
	assert.Contains(t, out, "MES")
	assert.Contains(t, out, "RISK_WARNING")
}

func TestWriteExcel(t *testing.T) {
	r := New(seededJournal(t))
	path := filepath.Join(t.TempDir(), "audit.xlsx")

	require.NoError(t, r.WriteExcel(path))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	day, err := fx.GetCellValue("Days", "A2")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", day)

	sleeve, err := fx.GetCellValue("Entries", "D2")
	require.NoError(t, err)
	assert.Equal(t, "mm", sleeve)

	eventType, err := fx.GetCellValue("Risk Events", "D2")
	require.NoError(t, err)
	assert.Equal(t, "RISK_WARNING", eventType)
}
