// Package report renders the audit journal for operators: console tables
// for quick review and an Excel workbook for compliance hand-off.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/xuri/excelize/v2"

	"github.com/Pythefnos/Topstep-quant/internal/ledger"
)

// Reporter reads the sqlite journal and renders summaries
type Reporter struct {
	journal *ledger.SQLiteJournal
}

// New creates a reporter over an opened journal
func New(journal *ledger.SQLiteJournal) *Reporter {
	return &Reporter{journal: journal}
}

// PrintDays renders the per-day summary table, most recent day first
func (r *Reporter) PrintDays(out io.Writer) error {
	days, err := r.journal.ListDays()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("TRADING DAYS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Day", "Realized P&L", "Trades", "Sleeves"})

	for _, d := range days {
		marker := "✅"
		if d.Realized < 0 {
			marker = "❌"
		}
		t.AppendRow(table.Row{
			d.TradingDay,
			fmt.Sprintf("%s $%.2f", marker, d.Realized),
			d.Trades,
			d.Sleeves,
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})

	t.Render()
	return nil
}

// PrintDay renders one trading day's entries and risk events
func (r *Reporter) PrintDay(out io.Writer, day string) error {
	entries, err := r.journal.ListEntries(day)
	if err != nil {
		return err
	}
	events, err := r.journal.ListEvents(day)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle(fmt.Sprintf("LEDGER %s", day))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Sleeve", "Market", "Kind", "Realized", "Unrealized", "Net Qty"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.Timestamp.Format("15:04:05"),
			e.SleeveID,
			e.Market,
			string(e.Kind),
			fmt.Sprintf("%.2f", e.RealizedDelta),
			fmt.Sprintf("%.2f", e.Unrealized),
			fmt.Sprintf("%.2f", e.NetQty),
		})
	}
	t.Render()

	if len(events) == 0 {
		return nil
	}

	ev := table.NewWriter()
	ev.SetOutputMirror(out)
	ev.SetTitle(fmt.Sprintf("RISK EVENTS %s", day))
	ev.SetStyle(table.StyleRounded)
	ev.AppendHeader(table.Row{"Time", "Type", "Daily P&L", "Drawdown", "Detail"})
	for _, e := range events {
		ev.AppendRow(table.Row{
			e.Timestamp.Format("15:04:05"),
			e.Type,
			fmt.Sprintf("%.2f", e.DailyPnL),
			fmt.Sprintf("%.2f", e.Drawdown),
			e.Detail,
		})
	}
	ev.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, WidthMax: 60, Align: text.AlignLeft},
	})
	ev.Render()
	return nil
}

type excelStyles struct {
	header   int
	positive int
	negative int
}

// WriteExcel exports the full journal as an Excel workbook
func (r *Reporter) WriteExcel(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	days, err := r.journal.ListDays()
	if err != nil {
		return err
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const daysSheet = "Days"
	const entriesSheet = "Entries"
	const eventsSheet = "Risk Events"

	fx.SetSheetName(fx.GetSheetName(0), daysSheet)
	fx.NewSheet(entriesSheet)
	fx.NewSheet(eventsSheet)

	styles, err := createStyles(fx)
	if err != nil {
		return fmt.Errorf("failed to create Excel styles: %w", err)
	}

	if err := r.writeDaysSheet(fx, daysSheet, days, styles); err != nil {
		return fmt.Errorf("failed to write days sheet: %w", err)
	}
	if err := r.writeEntriesSheet(fx, entriesSheet, days, styles); err != nil {
		return fmt.Errorf("failed to write entries sheet: %w", err)
	}
	if err := r.writeEventsSheet(fx, eventsSheet, days, styles); err != nil {
		return fmt.Errorf("failed to write events sheet: %w", err)
	}

	return fx.SaveAs(path)
}

func createStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	if styles.header, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"366092"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	}); err != nil {
		return styles, err
	}

	if styles.positive, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "006100"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C6EFCE"}, Pattern: 1},
	}); err != nil {
		return styles, err
	}

	if styles.negative, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "9C0006"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"FFC7CE"}, Pattern: 1},
	}); err != nil {
		return styles, err
	}

	return styles, nil
}

func (r *Reporter) writeDaysSheet(fx *excelize.File, sheet string, days []ledger.DaySummary, styles excelStyles) error {
	headers := []string{"Trading Day", "Realized P&L", "Trades", "Sleeves"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.header)
	}

	for row, d := range days {
		fx.SetCellValue(sheet, fmt.Sprintf("A%d", row+2), d.TradingDay)
		pnlCell := fmt.Sprintf("B%d", row+2)
		fx.SetCellValue(sheet, pnlCell, d.Realized)
		if d.Realized >= 0 {
			fx.SetCellStyle(sheet, pnlCell, pnlCell, styles.positive)
		} else {
			fx.SetCellStyle(sheet, pnlCell, pnlCell, styles.negative)
		}
		fx.SetCellValue(sheet, fmt.Sprintf("C%d", row+2), d.Trades)
		fx.SetCellValue(sheet, fmt.Sprintf("D%d", row+2), d.Sleeves)
	}

	return fx.SetColWidth(sheet, "A", "D", 16)
}

func (r *Reporter) writeEntriesSheet(fx *excelize.File, sheet string, days []ledger.DaySummary, styles excelStyles) error {
	headers := []string{"ID", "Timestamp", "Trading Day", "Sleeve", "Market", "Kind", "Realized", "Unrealized", "Net Qty"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.header)
	}

	row := 2
	for _, d := range days {
		entries, err := r.journal.ListEntries(d.TradingDay)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fx.SetCellValue(sheet, fmt.Sprintf("A%d", row), e.ID)
			fx.SetCellValue(sheet, fmt.Sprintf("B%d", row), e.Timestamp.Format("2006-01-02 15:04:05"))
			fx.SetCellValue(sheet, fmt.Sprintf("C%d", row), e.TradingDay)
			fx.SetCellValue(sheet, fmt.Sprintf("D%d", row), e.SleeveID)
			fx.SetCellValue(sheet, fmt.Sprintf("E%d", row), e.Market)
			fx.SetCellValue(sheet, fmt.Sprintf("F%d", row), string(e.Kind))
			fx.SetCellValue(sheet, fmt.Sprintf("G%d", row), e.RealizedDelta)
			fx.SetCellValue(sheet, fmt.Sprintf("H%d", row), e.Unrealized)
			fx.SetCellValue(sheet, fmt.Sprintf("I%d", row), e.NetQty)
			row++
		}
	}

	return fx.SetColWidth(sheet, "A", "B", 28)
}

func (r *Reporter) writeEventsSheet(fx *excelize.File, sheet string, days []ledger.DaySummary, styles excelStyles) error {
	headers := []string{"ID", "Timestamp", "Trading Day", "Type", "Daily P&L", "Drawdown", "Detail"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.header)
	}

	row := 2
	for _, d := range days {
		events, err := r.journal.ListEvents(d.TradingDay)
		if err != nil {
			return err
		}
		for _, e := range events {
			fx.SetCellValue(sheet, fmt.Sprintf("A%d", row), e.ID)
			fx.SetCellValue(sheet, fmt.Sprintf("B%d", row), e.Timestamp.Format("2006-01-02 15:04:05"))
			fx.SetCellValue(sheet, fmt.Sprintf("C%d", row), e.TradingDay)
			fx.SetCellValue(sheet, fmt.Sprintf("D%d", row), e.Type)
			fx.SetCellValue(sheet, fmt.Sprintf("E%d", row), e.DailyPnL)
			fx.SetCellValue(sheet, fmt.Sprintf("F%d", row), e.Drawdown)
			fx.SetCellValue(sheet, fmt.Sprintf("G%d", row), e.Detail)
			row++
		}
	}

	return fx.SetColWidth(sheet, "G", "G", 60)
}
