package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Journal persists the append-only audit trail of ledger entries and
// emitted risk events. Rows are only ever inserted.
type Journal interface {
	AppendEntry(e Entry) error
	AppendEvent(ev JournalEvent) error
	Close() error
}

// JournalEvent is a discrete risk event persisted for audit
type JournalEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	TradingDay string    `json:"trading_day"`
	Type       string    `json:"type"`
	Detail     string    `json:"detail"`
	DailyPnL   float64   `json:"daily_pnl"`
	Drawdown   float64   `json:"drawdown"`
}

// DaySummary aggregates one trading day's journaled entries
type DaySummary struct {
	TradingDay string
	Realized   float64
	Trades     int
	Sleeves    int
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS entries (
	id TEXT PRIMARY KEY,
	ts DATETIME NOT NULL,
	trading_day TEXT NOT NULL,
	sleeve_id TEXT NOT NULL,
	market TEXT NOT NULL,
	kind TEXT NOT NULL,
	realized_delta REAL NOT NULL,
	unrealized REAL NOT NULL,
	net_qty REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_day ON entries(trading_day);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	ts DATETIME NOT NULL,
	trading_day TEXT NOT NULL,
	type TEXT NOT NULL,
	detail TEXT NOT NULL,
	daily_pnl REAL NOT NULL,
	drawdown REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_day ON events(trading_day);
`

// SQLiteJournal is the sqlite-backed Journal implementation
type SQLiteJournal struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteJournal opens (or creates) the journal database at path.
// Use ":memory:" for an ephemeral journal in tests.
func NewSQLiteJournal(path string, logger zerolog.Logger) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return &SQLiteJournal{db: db, logger: logger}, nil
}

// AppendEntry inserts one ledger entry
func (j *SQLiteJournal) AppendEntry(e Entry) error {
	_, err := j.db.Exec(`
		INSERT INTO entries
		(id, ts, trading_day, sleeve_id, market, kind, realized_delta, unrealized, net_qty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.TradingDay, e.SleeveID, e.Market, string(e.Kind),
		e.RealizedDelta, e.Unrealized, e.NetQty,
	)
	if err != nil {
		j.logger.Error().Err(err).Str("entry_id", e.ID).Msg("journal append failed")
	}
	return err
}

// AppendEvent inserts one risk event
func (j *SQLiteJournal) AppendEvent(ev JournalEvent) error {
	_, err := j.db.Exec(`
		INSERT INTO events
		(id, ts, trading_day, type, detail, daily_pnl, drawdown)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Timestamp, ev.TradingDay, ev.Type, ev.Detail, ev.DailyPnL, ev.Drawdown,
	)
	if err != nil {
		j.logger.Error().Err(err).Str("event_id", ev.ID).Msg("journal append failed")
	}
	return err
}

// ListEntries returns a trading day's entries in insertion order
func (j *SQLiteJournal) ListEntries(tradingDay string) ([]Entry, error) {
	rows, err := j.db.Query(`
		SELECT id, ts, trading_day, sleeve_id, market, kind, realized_delta, unrealized, net_qty
		FROM entries WHERE trading_day = ? ORDER BY id`, tradingDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.TradingDay, &e.SleeveID, &e.Market,
			&kind, &e.RealizedDelta, &e.Unrealized, &e.NetQty); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Kind = EntryKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListEvents returns a trading day's risk events in insertion order
func (j *SQLiteJournal) ListEvents(tradingDay string) ([]JournalEvent, error) {
	rows, err := j.db.Query(`
		SELECT id, ts, trading_day, type, detail, daily_pnl, drawdown
		FROM events WHERE trading_day = ? ORDER BY id`, tradingDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []JournalEvent
	for rows.Next() {
		var ev JournalEvent
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.TradingDay, &ev.Type, &ev.Detail,
			&ev.DailyPnL, &ev.Drawdown); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListDays summarizes all journaled trading days, most recent first
func (j *SQLiteJournal) ListDays() ([]DaySummary, error) {
	rows, err := j.db.Query(`
		SELECT trading_day,
			SUM(realized_delta),
			SUM(CASE WHEN kind = 'FILL' THEN 1 ELSE 0 END),
			COUNT(DISTINCT sleeve_id)
		FROM entries GROUP BY trading_day ORDER BY trading_day DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query day summaries: %w", err)
	}
	defer rows.Close()

	var days []DaySummary
	for rows.Next() {
		var d DaySummary
		if err := rows.Scan(&d.TradingDay, &d.Realized, &d.Trades, &d.Sleeves); err != nil {
			return nil, fmt.Errorf("failed to scan day summary: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// Close closes the underlying database
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
